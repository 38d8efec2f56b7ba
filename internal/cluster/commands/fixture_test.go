package commands

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/conn"
	"fleetman.io/fleetman/internal/fmlog"
	"fleetman.io/fleetman/internal/metrics"
	"fleetman.io/fleetman/internal/mysql"
	"fleetman.io/fleetman/internal/mysql/mysqltest"
	"fleetman.io/fleetman/internal/option"
	"fleetman.io/fleetman/internal/store/storetest"
)

const (
	h1 = "127.0.0.1:3310"
	h2 = "127.0.0.1:3311"
	h3 = "127.0.0.1:3312"
	h4 = "127.0.0.1:3313"
	h5 = "127.0.0.1:3314"
)

type fixture struct {
	ctx     context.Context
	servers *mysqltest.Fleet
	cs      *cluster.ClusterStore
	out     *bytes.Buffer
	metrics *metrics.Metrics
	cfg     Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		ctx:     context.Background(),
		servers: mysqltest.NewFleet(),
		cs:      cluster.NewClusterStoreFromExisting("c1", storetest.NewMemStore()),
		out:     &bytes.Buffer{},
		metrics: metrics.New(),
	}
	for _, ep := range []string{h1, h2, h3, h4, h5} {
		fx.servers.AddServer(ep)
	}
	fx.cfg = Config{
		Store:   fx.cs,
		Dialer:  fx.servers,
		Console: fmlog.NewConsole(fx.out, nil),
		Logger:  fmlog.NewNopLogger(),
		Metrics: fx.metrics,
	}
	return fx
}

// create makes a fleet of the given type with the first endpoint as primary
// and the others added as secondaries.
func (fx *fixture) create(t *testing.T, typ cluster.TopologyType, endpoints ...string) *Fleet {
	t.Helper()
	f, err := Create(fx.ctx, fx.cfg, option.NewString(endpoints[0]), CreateOptions{
		Type:          typ,
		AdminUser:     "admin",
		AdminPassword: "secret",
	})
	require.NoError(t, err)
	for _, ep := range endpoints[1:] {
		_, err := f.AddInstance(fx.ctx, option.NewString(ep), AddInstanceOptions{})
		require.NoError(t, err)
	}
	fx.out.Reset()
	return f
}

func (fx *fixture) clusterData(t *testing.T) *cluster.ClusterData {
	t.Helper()
	fx.cs.InvalidateCached()
	cldata, err := fx.cs.MustGetClusterData(fx.ctx)
	require.NoError(t, err)
	return cldata
}

// session dials a server behind the back of the fleet.
func (fx *fixture) session(t *testing.T, endpoint string) mysql.Server {
	t.Helper()
	d, err := conn.ValidateEndpoint(endpoint)
	require.NoError(t, err)
	srv, err := fx.servers.Dial(fx.ctx, d)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}
