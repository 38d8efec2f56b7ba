// Copyright (c) 2026, The fleetman Authors

// Package commands implements the administrative verbs. Each verb validates
// its input first, then runs its steps through the executor so that a primary
// elected meanwhile does not make it fail.
package commands

import (
	"context"
	"net"
	"strconv"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/executor"
	"fleetman.io/fleetman/internal/fmlog"
	"fleetman.io/fleetman/internal/metrics"
	"fleetman.io/fleetman/internal/mysql"
	"fleetman.io/fleetman/internal/pool"
)

type Config struct {
	Store   *cluster.ClusterStore
	Dialer  mysql.Dialer
	Console fmlog.Console
	Logger  *fmlog.Logger
	// empty user means the admin account recorded in the group spec
	Credentials pool.Credentials
	Interactive bool
	// may be nil
	Metrics *metrics.Metrics
}

// Fleet is an open cluster or replica set. It tracks the server commands are
// addressed to, which moves along with the primary.
type Fleet struct {
	cs      *cluster.ClusterStore
	hl      *fmlog.Logger
	console fmlog.Console
	pool    *pool.Pool
	exec    *executor.Executor
	target  *pool.Instance
}

// Open loads the metadata of an existing cluster.
func Open(ctx context.Context, cfg Config) (*Fleet, error) {
	cldata, err := cfg.Store.MustGetClusterData(ctx)
	if err != nil {
		return nil, err
	}
	creds := cfg.Credentials
	if creds.User == "" {
		creds.User = cluster.StringValue(cldata.Spec.AdminUser)
		creds.Password = cluster.StringValue(cldata.Spec.AdminPassword)
	}
	return newFleet(cfg, creds), nil
}

func newFleet(cfg Config, creds pool.Credentials) *Fleet {
	hl := cfg.Logger
	if hl == nil {
		hl = fmlog.NewNopLogger()
	}
	f := &Fleet{
		cs:      cfg.Store,
		hl:      hl,
		console: cfg.Console,
		pool:    pool.New(cfg.Dialer, hl),
	}
	f.exec = executor.New(f.pool, cfg.Store, f, cfg.Console, creds, hl)
	f.exec.Interactive = cfg.Interactive
	f.exec.Metrics = cfg.Metrics
	return f
}

func (f *Fleet) Name() string {
	return f.cs.ClusterName
}

// SetTargetServer makes target the server subsequent steps talk to. The fleet
// owns it from now on.
func (f *Fleet) SetTargetServer(target *pool.Instance) {
	if f.target != nil && f.target != target {
		f.target.Close()
	}
	f.target = target
	f.hl.Infof("cluster %s: target server is now %s", f.Name(), target.Endpoint())
}

// TargetServer is the endpoint of the current target server, empty before
// any relocation.
func (f *Fleet) TargetServer() string {
	if f.target == nil {
		return ""
	}
	return f.target.Endpoint()
}

func (f *Fleet) Close() error {
	if f.target == nil {
		return nil
	}
	err := f.target.Close()
	f.target = nil
	return err
}

// Leases is the number of pool scopes currently held; zero between commands.
func (f *Fleet) Leases() int {
	return f.pool.Leases()
}

func run[T any](ctx context.Context, f *Fleet, operation string, work executor.Work[T]) (T, error) {
	return executor.Run(ctx, f.exec, operation, work)
}

func memberEndpoint(m mysql.GroupMember) string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}
