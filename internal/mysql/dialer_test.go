package mysql

import (
	"testing"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetman.io/fleetman/internal/conn"
)

func TestDriverConfig(t *testing.T) {
	d := conn.Descriptor{User: "admin", Password: "pw", Host: "db1", Port: 3306}
	cfg, err := DriverConfig(d, time.Second, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.User)
	assert.Equal(t, "pw", cfg.Passwd)
	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "db1:3306", cfg.Addr)
	assert.Equal(t, time.Second, cfg.Timeout)
	assert.Equal(t, "preferred", cfg.TLSConfig)
	assert.True(t, cfg.InterpolateParams)

	d.SSLMode = conn.SSLModeDisabled
	cfg, err = DriverConfig(d, time.Second, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "false", cfg.TLSConfig)
}

func TestDriverConfigRegistersTLS(t *testing.T) {
	d := conn.Descriptor{User: "admin", Host: "DB2", Port: 3306, SSLMode: conn.SSLModeRequired}
	cfg, err := DriverConfig(d, time.Second, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fleetman-db2:3306", cfg.TLSConfig)
	gomysql.DeregisterTLSConfig(cfg.TLSConfig)
}

func TestDriverConfigMissingCA(t *testing.T) {
	d := conn.Descriptor{Host: "db3", Port: 3306, SSLMode: conn.SSLModeVerifyCA, SSLCA: "/nonexistent/ca.pem"}
	_, err := DriverConfig(d, time.Second, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read ca file")
}

func TestErrorClassification(t *testing.T) {
	ro := &gomysql.MySQLError{Number: 1290, Message: "The MySQL server is running with the --super-read-only option"}
	assert.True(t, IsReadOnlyError(ro))
	assert.False(t, IsAccessDenied(ro))
	assert.True(t, IsAccessDenied(&gomysql.MySQLError{Number: 1045}))
	assert.True(t, IsGroupReplicationNotRunning(&gomysql.MySQLError{Number: 3092}))
	assert.Equal(t, uint16(0), ErrorNumber(assert.AnError))
}

func TestPrimaryOf(t *testing.T) {
	members := []GroupMember{
		{UUID: "a", Role: RoleSecondary, State: StateOnline},
		{UUID: "b", Role: RolePrimary, State: StateRecovering},
		{UUID: "c", Role: RolePrimary, State: StateOnline},
	}
	p, ok := PrimaryOf(members)
	require.True(t, ok)
	assert.Equal(t, "c", p.UUID)

	_, ok = PrimaryOf(members[:2])
	assert.False(t, ok)

	m, ok := FindMember(members, "b")
	require.True(t, ok)
	assert.Equal(t, StateRecovering, m.State)
}
