package executor

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetman.io/fleetman/internal/fmlog"
	"fleetman.io/fleetman/internal/metrics"
	"fleetman.io/fleetman/internal/mysql/mysqltest"
	"fleetman.io/fleetman/internal/pool"
)

type fakeMetadata struct {
	primary       string
	invalidations int
}

func (m *fakeMetadata) PrimaryEndpoint(ctx context.Context) (string, error) {
	return m.primary, nil
}

func (m *fakeMetadata) IsMember(ctx context.Context, endpoint string) (bool, error) {
	return true, nil
}

func (m *fakeMetadata) InvalidateCached() {
	m.invalidations++
}

type fakeTopology struct {
	targets []*pool.Instance
}

func (ft *fakeTopology) SetTargetServer(target *pool.Instance) {
	ft.targets = append(ft.targets, target)
}

func (ft *fakeTopology) current() string {
	if len(ft.targets) == 0 {
		return ""
	}
	return ft.targets[len(ft.targets)-1].Endpoint()
}

type fixture struct {
	fleet   *mysqltest.Fleet
	pool    *pool.Pool
	md      *fakeMetadata
	topo    *fakeTopology
	out     *bytes.Buffer
	metrics *metrics.Metrics
	e       *Executor
}

func newFixture() *fixture {
	f := &fixture{
		fleet:   mysqltest.NewFleet(),
		md:      &fakeMetadata{primary: "h1:3306"},
		topo:    &fakeTopology{},
		out:     &bytes.Buffer{},
		metrics: metrics.New(),
	}
	for _, ep := range []string{"h1:3306", "h2:3306", "h3:3306"} {
		f.fleet.AddServer(ep)
	}
	hl := fmlog.NewNopLogger()
	f.pool = pool.New(f.fleet, hl)
	f.e = New(f.pool, f.md, f.topo, fmlog.NewConsole(f.out, hl), pool.Credentials{User: "admin"}, hl)
	f.e.Metrics = f.metrics
	return f
}

func (f *fixture) closeTargets() {
	for _, t := range f.topo.targets {
		t.Close()
	}
}

func TestRunSucceeds(t *testing.T) {
	f := newFixture()
	calls := 0
	v, err := Run(context.Background(), f.e, "status", func(ctx context.Context, sp *pool.Scoped) (Result[string], error) {
		calls++
		_, err := sp.ConnectPrimary(ctx)
		return Check("done", err)
	})
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, f.md.invalidations)
	assert.Equal(t, 0, f.pool.Leases())
	assert.Equal(t, 0, f.fleet.OpenSessions())
	assert.Empty(t, f.topo.targets)
	assert.Empty(t, f.out.String())
}

func TestRunRelocatesOnce(t *testing.T) {
	f := newFixture()
	defer f.closeTargets()

	var primaries []string
	v, err := Run(context.Background(), f.e, "rejoin", func(ctx context.Context, sp *pool.Scoped) (Result[int], error) {
		primaries = append(primaries, sp.Primary())
		if len(primaries) == 1 {
			return Check(0, &PrimaryInvalidatedError{NewPrimary: "h2:3306"})
		}
		return Done(42), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, []string{"h1:3306", "h2:3306"}, primaries)
	assert.Equal(t, "h2:3306", f.topo.current())
	assert.Equal(t, 2, f.md.invalidations)
	assert.Equal(t, 0, f.pool.Leases())
	assert.Equal(t, "WARNING: The primary of the cluster changed: reconnecting to h2:3306\n", f.out.String())

	// the new target survived the release of its scope
	assert.Equal(t, 1, f.fleet.OpenSessions())
	_, err = f.topo.targets[0].ServerUUID(context.Background())
	assert.NoError(t, err)
}

func TestRunFollowsSeveralElections(t *testing.T) {
	f := newFixture()
	defer f.closeTargets()

	next := []string{"h2:3306", "h3:3306"}
	calls := 0
	_, err := Run(context.Background(), f.e, "rescan", func(ctx context.Context, sp *pool.Scoped) (Result[struct{}], error) {
		calls++
		if len(next) > 0 {
			np := next[0]
			next = next[1:]
			return Relocate[struct{}](np, "Primary switched"), nil
		}
		return Done(struct{}{}), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "h3:3306", f.topo.current())
	assert.Contains(t, f.out.String(), "WARNING: Primary switched: reconnecting to h2:3306\n")
	assert.Contains(t, f.out.String(), "WARNING: Primary switched: reconnecting to h3:3306\n")
	assert.Equal(t, 0, f.pool.Leases())
}

func TestRunDoesNotRetryOtherErrors(t *testing.T) {
	f := newFixture()
	boom := errors.New("boom")
	calls := 0
	_, err := Run(context.Background(), f.e, "remove", func(ctx context.Context, sp *pool.Scoped) (Result[int], error) {
		calls++
		if _, err := sp.ConnectPrimary(ctx); err != nil {
			return Result[int]{}, err
		}
		return Check(0, boom)
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, f.pool.Leases())
	assert.Equal(t, 0, f.fleet.OpenSessions())
	assert.Empty(t, f.topo.targets)
}

func TestRunPrimaryInvalidatedWithoutNewPrimary(t *testing.T) {
	f := newFixture()
	pie := &PrimaryInvalidatedError{Reason: "Primary went away"}
	calls := 0
	_, err := Run(context.Background(), f.e, "add", func(ctx context.Context, sp *pool.Scoped) (Result[int], error) {
		calls++
		return Check(0, pie)
	})
	assert.Same(t, pie, err)
	assert.EqualError(t, err, "Primary went away, new primary is unknown")
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, f.pool.Leases())
}

func TestRunFailsWhenNewPrimaryIsUnreachable(t *testing.T) {
	f := newFixture()
	_, err := Run(context.Background(), f.e, "add", func(ctx context.Context, sp *pool.Scoped) (Result[int], error) {
		return Relocate[int]("h9:3306", ""), nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot connect to the new primary h9:3306")
	assert.Equal(t, 0, f.pool.Leases())
	assert.Empty(t, f.topo.targets)
}

func TestRunWithoutLogger(t *testing.T) {
	f := newFixture()
	defer f.closeTargets()
	e := New(f.pool, f.md, f.topo, fmlog.NewConsole(f.out, nil), pool.Credentials{User: "admin"}, nil)

	calls := 0
	_, err := Run(context.Background(), e, "remove", func(ctx context.Context, sp *pool.Scoped) (Result[int], error) {
		calls++
		if calls == 1 {
			return Check(0, &PrimaryInvalidatedError{NewPrimary: "h2:3306"})
		}
		return Check(0, errors.New("boom"))
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 2, calls)
	assert.Equal(t, "h2:3306", f.topo.current())
	assert.Equal(t, 0, f.pool.Leases())
}

func TestCheck(t *testing.T) {
	res, err := Check("v", nil)
	require.NoError(t, err)
	assert.False(t, res.IsRelocate())
	assert.Equal(t, "v", res.Value())

	wrapped := errors.Join(errors.New("context"), &PrimaryInvalidatedError{NewPrimary: "h2:3306", Reason: "r"})
	res, err = Check("v", wrapped)
	require.NoError(t, err)
	assert.True(t, res.IsRelocate())
	assert.Equal(t, "h2:3306", res.NewPrimary())

	_, err = Check("v", assert.AnError)
	assert.Same(t, assert.AnError, err)
}
