// Copyright (c) 2026, The fleetman Authors

package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// sqlServer is a single session to a server; session level statements must
// not leak to another connection, hence one connection per pool.
type sqlServer struct {
	db       *sql.DB
	endpoint string
}

func newSQLServer(db *sql.DB, endpoint string) *sqlServer {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &sqlServer{db: db, endpoint: endpoint}
}

func (s *sqlServer) Endpoint() string {
	return s.endpoint
}

func (s *sqlServer) exec(ctx context.Context, query string, args ...interface{}) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "%s: %s", s.endpoint, firstWords(query))
	}
	return nil
}

func (s *sqlServer) queryRow(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(dest); err != nil {
		return errors.Wrapf(err, "%s: %s", s.endpoint, firstWords(query))
	}
	return nil
}

func (s *sqlServer) ServerUUID(ctx context.Context) (string, error) {
	var uuid string
	err := s.queryRow(ctx, &uuid, "SELECT @@server_uuid")
	return uuid, err
}

func (s *sqlServer) Version(ctx context.Context) (string, error) {
	var version string
	err := s.queryRow(ctx, &version, "SELECT @@version")
	return version, err
}

func (s *sqlServer) SuperReadOnly(ctx context.Context) (bool, error) {
	var on bool
	err := s.queryRow(ctx, &on, "SELECT @@global.super_read_only")
	return on, err
}

func (s *sqlServer) SetSuperReadOnly(ctx context.Context, on bool) error {
	return s.exec(ctx, fmt.Sprintf("SET GLOBAL super_read_only = %s", onOff(on)))
}

func (s *sqlServer) SetPersist(ctx context.Context, name string, value interface{}) error {
	if !identRe.MatchString(name) {
		return errors.Errorf("invalid variable name '%s'", name)
	}
	return s.exec(ctx, fmt.Sprintf("SET PERSIST %s = ?", name), value)
}

func (s *sqlServer) GroupMembers(ctx context.Context) ([]GroupMember, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member_id, member_host, member_port, member_state,
		member_role, member_version FROM performance_schema.replication_group_members`)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: cannot read group members", s.endpoint)
	}
	defer rows.Close()

	var members []GroupMember
	for rows.Next() {
		var m GroupMember
		var port sql.NullInt64
		var role, version sql.NullString
		if err := rows.Scan(&m.UUID, &m.Host, &port, &m.State, &role, &version); err != nil {
			return nil, errors.Wrapf(err, "%s: cannot read group members", s.endpoint)
		}
		// a server outside of any group reports itself as a lone OFFLINE row
		if m.State == StateOffline {
			continue
		}
		m.Port = int(port.Int64)
		m.Role = MemberRole(role.String)
		m.Version = version.String
		members = append(members, m)
	}
	return members, errors.Wrapf(rows.Err(), "%s: cannot read group members", s.endpoint)
}

func (s *sqlServer) StartGroupReplication(ctx context.Context, cfg GroupConfig) error {
	settings := []struct {
		name  string
		value interface{}
		set   bool
	}{
		{"group_replication_group_name", cfg.GroupName, cfg.GroupName != ""},
		{"group_replication_local_address", cfg.LocalAddress, cfg.LocalAddress != ""},
		{"group_replication_group_seeds", strings.Join(cfg.Seeds, ","), len(cfg.Seeds) > 0},
		{"group_replication_view_change_uuid", cfg.ViewChangeUUID, cfg.ViewChangeUUID != ""},
		{"group_replication_exit_state_action", cfg.ExitStateAction, cfg.ExitStateAction != ""},
		{"group_replication_consistency", cfg.ConsistencyLevel, cfg.ConsistencyLevel != ""},
		{"group_replication_member_weight", derefInt(cfg.MemberWeight), cfg.MemberWeight != nil},
		{"group_replication_autorejoin_tries", derefInt(cfg.AutoRejoinTries), cfg.AutoRejoinTries != nil},
		{"group_replication_member_expel_timeout", derefInt(cfg.ExpelTimeout), cfg.ExpelTimeout != nil},
		{"group_replication_start_on_boot", "ON", true},
	}
	for _, st := range settings {
		if !st.set {
			continue
		}
		if err := s.SetPersist(ctx, st.name, st.value); err != nil {
			return err
		}
	}

	if cfg.Bootstrap {
		if err := s.exec(ctx, "SET GLOBAL group_replication_bootstrap_group = ON"); err != nil {
			return err
		}
		defer s.exec(context.Background(), "SET GLOBAL group_replication_bootstrap_group = OFF")
	}
	if cfg.ReplUser != "" {
		return s.exec(ctx, "START GROUP_REPLICATION USER = ?, PASSWORD = ?", cfg.ReplUser, cfg.ReplPassword)
	}
	return s.exec(ctx, "START GROUP_REPLICATION")
}

func (s *sqlServer) StopGroupReplication(ctx context.Context) error {
	return s.exec(ctx, "STOP GROUP_REPLICATION")
}

func (s *sqlServer) SetGroupPrimary(ctx context.Context, serverUUID string, runningTransactionsTimeout int) error {
	var msg string
	if runningTransactionsTimeout > 0 {
		return s.queryRow(ctx, &msg, "SELECT group_replication_set_as_primary(?, ?)", serverUUID, runningTransactionsTimeout)
	}
	return s.queryRow(ctx, &msg, "SELECT group_replication_set_as_primary(?)", serverUUID)
}

func (s *sqlServer) CommunicationProtocol(ctx context.Context) (string, error) {
	var version string
	err := s.queryRow(ctx, &version, "SELECT group_replication_get_communication_protocol()")
	return version, err
}

func (s *sqlServer) SetCommunicationProtocol(ctx context.Context, version string) error {
	var msg string
	return s.queryRow(ctx, &msg, "SELECT group_replication_set_communication_protocol(?)", version)
}

func (s *sqlServer) ConfigureReplicaChannel(ctx context.Context, cfg ChannelConfig) error {
	if !validChannel(cfg.Channel) {
		return errors.Errorf("invalid channel name '%s'", cfg.Channel)
	}
	q := fmt.Sprintf(`CHANGE REPLICATION SOURCE TO SOURCE_HOST = ?, SOURCE_PORT = ?, SOURCE_USER = ?,
		SOURCE_PASSWORD = ?, SOURCE_AUTO_POSITION = 1, GET_SOURCE_PUBLIC_KEY = 1,
		SOURCE_CONNECTION_AUTO_FAILOVER = %d FOR CHANNEL '%s'`, boolInt(cfg.AutoFailover), cfg.Channel)
	if err := s.exec(ctx, q, cfg.SourceHost, cfg.SourcePort, cfg.User, cfg.Password); err != nil {
		return err
	}

	if err := s.exec(ctx, "DELETE FROM mysql.replication_asynchronous_connection_failover WHERE channel_name = ?", cfg.Channel); err != nil {
		return err
	}
	if err := s.exec(ctx, "DELETE FROM mysql.replication_asynchronous_connection_failover_managed WHERE channel_name = ?", cfg.Channel); err != nil {
		return err
	}
	if mg := cfg.ManagedGroup; mg != nil {
		var res string
		return s.queryRow(ctx, &res, "SELECT asynchronous_connection_failover_add_managed(?, 'GroupReplication', ?, ?, ?, '', ?, ?)",
			cfg.Channel, mg.GroupName, mg.Host, mg.Port, mg.PrimaryWeight, mg.SecondaryWeight)
	}
	for _, src := range cfg.Sources {
		var res string
		if err := s.queryRow(ctx, &res, "SELECT asynchronous_connection_failover_add_source(?, ?, ?, '', ?)",
			cfg.Channel, src.Host, src.Port, src.Weight); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlServer) channelStmt(stmt, channel string) (string, error) {
	if !validChannel(channel) {
		return "", errors.Errorf("invalid channel name '%s'", channel)
	}
	return fmt.Sprintf("%s FOR CHANNEL '%s'", stmt, channel), nil
}

func (s *sqlServer) StartReplica(ctx context.Context, channel string) error {
	q, err := s.channelStmt("START REPLICA", channel)
	if err != nil {
		return err
	}
	return s.exec(ctx, q)
}

func (s *sqlServer) StopReplica(ctx context.Context, channel string) error {
	q, err := s.channelStmt("STOP REPLICA", channel)
	if err != nil {
		return err
	}
	return s.exec(ctx, q)
}

func (s *sqlServer) ResetReplica(ctx context.Context, channel string) error {
	q, err := s.channelStmt("RESET REPLICA ALL", channel)
	if err != nil {
		return err
	}
	return s.exec(ctx, q)
}

func (s *sqlServer) ReplicaStatus(ctx context.Context, channel string) (*ReplicaStatus, error) {
	q, err := s.channelStmt("SHOW REPLICA STATUS", channel)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: cannot read replica status", s.endpoint)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: cannot read replica status", s.endpoint)
	}
	if !rows.Next() {
		return nil, errors.Wrapf(rows.Err(), "%s: cannot read replica status", s.endpoint)
	}
	raw := make([]sql.RawBytes, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, errors.Wrapf(err, "%s: cannot read replica status", s.endpoint)
	}
	values := make(map[string]string, len(cols))
	for i, c := range cols {
		values[c] = string(raw[i])
	}
	port, _ := strconv.Atoi(values["Source_Port"])
	return &ReplicaStatus{
		Channel:          channel,
		SourceHost:       values["Source_Host"],
		SourcePort:       port,
		IOThreadRunning:  values["Replica_IO_Running"] == "Yes",
		SQLThreadRunning: values["Replica_SQL_Running"] == "Yes",
		LastError:        values["Last_Error"],
	}, nil
}

func (s *sqlServer) ExecutedGTIDSet(ctx context.Context) (string, error) {
	var gtids string
	err := s.queryRow(ctx, &gtids, "SELECT @@global.gtid_executed")
	return gtids, err
}

func (s *sqlServer) WaitForGTIDSet(ctx context.Context, gtidSet string, timeout time.Duration) error {
	var res int
	if err := s.queryRow(ctx, &res, "SELECT WAIT_FOR_EXECUTED_GTID_SET(?, ?)", gtidSet, int(timeout.Seconds())); err != nil {
		return err
	}
	if res != 0 {
		return errors.Errorf("%s: timeout waiting for transactions %s to be applied", s.endpoint, gtidSet)
	}
	return nil
}

func (s *sqlServer) Close() error {
	return s.db.Close()
}

// "" is the default channel
func validChannel(name string) bool {
	return name == "" || identRe.MatchString(name)
}

func firstWords(q string) string {
	f := strings.Fields(q)
	if len(f) > 3 {
		f = f[:3]
	}
	return strings.Join(f, " ")
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
