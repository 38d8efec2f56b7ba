// Package mysqltest provides in-memory servers implementing mysql.Server,
// sharing group state the way members of a real group do.
package mysqltest

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetman.io/fleetman/internal/conn"
	"fleetman.io/fleetman/internal/mysql"
)

const DefaultVersion = "8.0.36"

// Fleet is a set of fake servers. It implements mysql.Dialer.
type Fleet struct {
	mu      sync.Mutex
	servers map[string]*FakeServer
	open    int
	dials   []string

	// DialErrors makes Dial fail for the given endpoints.
	DialErrors map[string]error
}

type group struct {
	name     string
	members  []*FakeServer
	primary  *FakeServer
	protocol string
}

type channel struct {
	cfg     mysql.ChannelConfig
	running bool
}

// FakeServer holds the state of one server. Sessions obtained through
// Fleet.Dial operate on it.
type FakeServer struct {
	fleet    *Fleet
	endpoint string
	host     string
	port     int
	uuid     string
	version  string

	superReadOnly bool
	vars          map[string]interface{}
	group         *group
	state         mysql.MemberState
	lastGroupCfg  *mysql.GroupConfig
	channels      map[string]*channel
	gtid          int

	// Before runs before every operation of a session on this server, op
	// being the method name. An error fails the operation.
	Before func(op string) error
}

func NewFleet() *Fleet {
	return &Fleet{servers: make(map[string]*FakeServer), DialErrors: make(map[string]error)}
}

// AddServer creates a standalone writable server.
func (f *Fleet) AddServer(endpoint string) *FakeServer {
	host, p, err := net.SplitHostPort(endpoint)
	if err != nil {
		panic(fmt.Sprintf("bad endpoint %s: %v", endpoint, err))
	}
	port, _ := strconv.Atoi(p)
	srv := &FakeServer{
		fleet:    f,
		endpoint: endpoint,
		host:     host,
		port:     port,
		uuid:     uuid.NewString(),
		version:  DefaultVersion,
		vars:     make(map[string]interface{}),
		state:    mysql.StateOffline,
		channels: make(map[string]*channel),
	}
	f.mu.Lock()
	f.servers[strings.ToLower(endpoint)] = srv
	f.mu.Unlock()
	return srv
}

func (f *Fleet) Server(endpoint string) *FakeServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers[strings.ToLower(endpoint)]
}

func (f *Fleet) Dial(ctx context.Context, d conn.Descriptor) (mysql.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials = append(f.dials, d.Endpoint())
	if err := f.DialErrors[d.Endpoint()]; err != nil {
		return nil, err
	}
	srv, ok := f.servers[d.Key()]
	if !ok {
		return nil, fmt.Errorf("cannot connect to %s: connection refused", d.Endpoint())
	}
	f.open++
	return &session{srv: srv}, nil
}

// OpenSessions counts sessions dialed and not closed yet.
func (f *Fleet) OpenSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *Fleet) Dials() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dials...)
}

// ElectPrimary simulates the group electing endpoint on its own.
func (f *Fleet) ElectPrimary(endpoint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	srv := f.servers[strings.ToLower(endpoint)]
	if srv == nil || srv.group == nil {
		panic(fmt.Sprintf("%s is not a group member", endpoint))
	}
	srv.group.setPrimary(srv)
}

// SetMemberState changes the state a group member reports.
func (f *Fleet) SetMemberState(endpoint string, state mysql.MemberState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[strings.ToLower(endpoint)].state = state
}

// Bootstrap forms a group out of the given servers, the first one primary.
func (f *Fleet) Bootstrap(groupName string, endpoints ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &group{name: groupName, protocol: "8.0.27"}
	for _, ep := range endpoints {
		srv := f.servers[strings.ToLower(ep)]
		srv.group = g
		srv.state = mysql.StateOnline
		g.members = append(g.members, srv)
	}
	g.setPrimary(g.members[0])
}

func (g *group) setPrimary(p *FakeServer) {
	g.primary = p
	for _, m := range g.members {
		m.superReadOnly = m != p
	}
}

func (g *group) remove(srv *FakeServer) {
	for i, m := range g.members {
		if m == srv {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	if g.primary == srv {
		g.primary = nil
		for _, m := range g.members {
			if m.state == mysql.StateOnline {
				g.setPrimary(m)
				break
			}
		}
	}
}

func (srv *FakeServer) Endpoint() string {
	return srv.endpoint
}

func (srv *FakeServer) UUID() string {
	return srv.uuid
}

func (srv *FakeServer) SetVersion(v string) {
	srv.version = v
}

func (srv *FakeServer) Var(name string) (interface{}, bool) {
	srv.fleet.mu.Lock()
	defer srv.fleet.mu.Unlock()
	v, ok := srv.vars[name]
	return v, ok
}

func (srv *FakeServer) IsSuperReadOnly() bool {
	srv.fleet.mu.Lock()
	defer srv.fleet.mu.Unlock()
	return srv.superReadOnly
}

// Writable makes a server outside of any group accept writes, like the
// primary of a replica set.
func (srv *FakeServer) Writable(on bool) {
	srv.fleet.mu.Lock()
	defer srv.fleet.mu.Unlock()
	srv.superReadOnly = !on
}

// Channel returns the configuration of a replication channel and whether it
// is running.
func (srv *FakeServer) Channel(name string) (mysql.ChannelConfig, bool, bool) {
	srv.fleet.mu.Lock()
	defer srv.fleet.mu.Unlock()
	ch, ok := srv.channels[name]
	if !ok {
		return mysql.ChannelConfig{}, false, false
	}
	return ch.cfg, ch.running, true
}

func (srv *FakeServer) LastGroupConfig() *mysql.GroupConfig {
	srv.fleet.mu.Lock()
	defer srv.fleet.mu.Unlock()
	return srv.lastGroupCfg
}

// Commit pretends a transaction was executed.
func (srv *FakeServer) Commit() {
	srv.fleet.mu.Lock()
	defer srv.fleet.mu.Unlock()
	srv.gtid++
}

func (srv *FakeServer) InGroup() bool {
	srv.fleet.mu.Lock()
	defer srv.fleet.mu.Unlock()
	return srv.group != nil
}

type session struct {
	srv    *FakeServer
	closed bool
}

// begin runs the hook and takes the fleet lock; callers must unlock.
func (s *session) begin(op string) error {
	if s.srv.Before != nil {
		if err := s.srv.Before(op); err != nil {
			return err
		}
	}
	s.srv.fleet.mu.Lock()
	if s.closed {
		s.srv.fleet.mu.Unlock()
		return fmt.Errorf("%s: %s on closed session", s.srv.endpoint, op)
	}
	return nil
}

func (s *session) end() {
	s.srv.fleet.mu.Unlock()
}

func (s *session) Endpoint() string {
	return s.srv.endpoint
}

func (s *session) ServerUUID(ctx context.Context) (string, error) {
	if err := s.begin("ServerUUID"); err != nil {
		return "", err
	}
	defer s.end()
	return s.srv.uuid, nil
}

func (s *session) Version(ctx context.Context) (string, error) {
	if err := s.begin("Version"); err != nil {
		return "", err
	}
	defer s.end()
	return s.srv.version, nil
}

func (s *session) SuperReadOnly(ctx context.Context) (bool, error) {
	if err := s.begin("SuperReadOnly"); err != nil {
		return false, err
	}
	defer s.end()
	return s.srv.superReadOnly, nil
}

func (s *session) SetSuperReadOnly(ctx context.Context, on bool) error {
	if err := s.begin("SetSuperReadOnly"); err != nil {
		return err
	}
	defer s.end()
	s.srv.superReadOnly = on
	return nil
}

func (s *session) SetPersist(ctx context.Context, name string, value interface{}) error {
	if err := s.begin("SetPersist"); err != nil {
		return err
	}
	defer s.end()
	s.srv.vars[name] = value
	return nil
}

func (s *session) GroupMembers(ctx context.Context) ([]mysql.GroupMember, error) {
	if err := s.begin("GroupMembers"); err != nil {
		return nil, err
	}
	defer s.end()
	g := s.srv.group
	if g == nil {
		return nil, nil
	}
	members := make([]mysql.GroupMember, 0, len(g.members))
	for _, m := range g.members {
		role := mysql.RoleSecondary
		if m == g.primary {
			role = mysql.RolePrimary
		}
		members = append(members, mysql.GroupMember{
			UUID:    m.uuid,
			Host:    m.host,
			Port:    m.port,
			State:   m.state,
			Role:    role,
			Version: m.version,
		})
	}
	return members, nil
}

func (s *session) StartGroupReplication(ctx context.Context, cfg mysql.GroupConfig) error {
	if err := s.begin("StartGroupReplication"); err != nil {
		return err
	}
	defer s.end()
	srv := s.srv
	if srv.group != nil {
		return fmt.Errorf("%s: group replication is already running", srv.endpoint)
	}
	c := cfg
	srv.lastGroupCfg = &c
	if cfg.Bootstrap {
		g := &group{name: cfg.GroupName, protocol: "8.0.27"}
		srv.group = g
		srv.state = mysql.StateOnline
		g.members = append(g.members, srv)
		g.setPrimary(srv)
		return nil
	}
	for _, other := range srv.fleet.servers {
		if other.group != nil && other.group.name == cfg.GroupName && other.state == mysql.StateOnline {
			g := other.group
			srv.group = g
			srv.state = mysql.StateOnline
			srv.superReadOnly = true
			g.members = append(g.members, srv)
			return nil
		}
	}
	return fmt.Errorf("%s: no reachable member of group %s", srv.endpoint, cfg.GroupName)
}

func (s *session) StopGroupReplication(ctx context.Context) error {
	if err := s.begin("StopGroupReplication"); err != nil {
		return err
	}
	defer s.end()
	srv := s.srv
	if srv.group == nil {
		return nil
	}
	srv.group.remove(srv)
	srv.group = nil
	srv.state = mysql.StateOffline
	srv.superReadOnly = true
	return nil
}

func (s *session) SetGroupPrimary(ctx context.Context, serverUUID string, runningTransactionsTimeout int) error {
	if err := s.begin("SetGroupPrimary"); err != nil {
		return err
	}
	defer s.end()
	g := s.srv.group
	if g == nil {
		return fmt.Errorf("%s: group replication is not running", s.srv.endpoint)
	}
	for _, m := range g.members {
		if m.uuid == serverUUID {
			g.setPrimary(m)
			return nil
		}
	}
	return fmt.Errorf("%s: %s is not a member of the group", s.srv.endpoint, serverUUID)
}

func (s *session) CommunicationProtocol(ctx context.Context) (string, error) {
	if err := s.begin("CommunicationProtocol"); err != nil {
		return "", err
	}
	defer s.end()
	if s.srv.group == nil {
		return "", fmt.Errorf("%s: group replication is not running", s.srv.endpoint)
	}
	return s.srv.group.protocol, nil
}

func (s *session) SetCommunicationProtocol(ctx context.Context, version string) error {
	if err := s.begin("SetCommunicationProtocol"); err != nil {
		return err
	}
	defer s.end()
	if s.srv.group == nil {
		return fmt.Errorf("%s: group replication is not running", s.srv.endpoint)
	}
	s.srv.group.protocol = version
	return nil
}

func (s *session) ConfigureReplicaChannel(ctx context.Context, cfg mysql.ChannelConfig) error {
	if err := s.begin("ConfigureReplicaChannel"); err != nil {
		return err
	}
	defer s.end()
	if ch, ok := s.srv.channels[cfg.Channel]; ok && ch.running {
		return fmt.Errorf("%s: replica channel '%s' must be stopped first", s.srv.endpoint, cfg.Channel)
	}
	s.srv.channels[cfg.Channel] = &channel{cfg: cfg}
	return nil
}

func (s *session) StartReplica(ctx context.Context, name string) error {
	if err := s.begin("StartReplica"); err != nil {
		return err
	}
	defer s.end()
	ch, ok := s.srv.channels[name]
	if !ok {
		return fmt.Errorf("%s: replica channel '%s' does not exist", s.srv.endpoint, name)
	}
	ch.running = true
	return nil
}

func (s *session) StopReplica(ctx context.Context, name string) error {
	if err := s.begin("StopReplica"); err != nil {
		return err
	}
	defer s.end()
	if ch, ok := s.srv.channels[name]; ok {
		ch.running = false
	}
	return nil
}

func (s *session) ResetReplica(ctx context.Context, name string) error {
	if err := s.begin("ResetReplica"); err != nil {
		return err
	}
	defer s.end()
	delete(s.srv.channels, name)
	return nil
}

func (s *session) ReplicaStatus(ctx context.Context, name string) (*mysql.ReplicaStatus, error) {
	if err := s.begin("ReplicaStatus"); err != nil {
		return nil, err
	}
	defer s.end()
	ch, ok := s.srv.channels[name]
	if !ok {
		return nil, nil
	}
	return &mysql.ReplicaStatus{
		Channel:          name,
		SourceHost:       ch.cfg.SourceHost,
		SourcePort:       ch.cfg.SourcePort,
		IOThreadRunning:  ch.running,
		SQLThreadRunning: ch.running,
	}, nil
}

func (s *session) ExecutedGTIDSet(ctx context.Context) (string, error) {
	if err := s.begin("ExecutedGTIDSet"); err != nil {
		return "", err
	}
	defer s.end()
	if s.srv.gtid == 0 {
		return "", nil
	}
	return fmt.Sprintf("%s:1-%d", s.srv.uuid, s.srv.gtid), nil
}

func (s *session) WaitForGTIDSet(ctx context.Context, gtidSet string, timeout time.Duration) error {
	if err := s.begin("WaitForGTIDSet"); err != nil {
		return err
	}
	defer s.end()
	return nil
}

func (s *session) Close() error {
	s.srv.fleet.mu.Lock()
	defer s.srv.fleet.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.srv.fleet.open--
	}
	return nil
}
