package commands

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/mysql"
	"fleetman.io/fleetman/internal/option"
)

func TestCreateCluster(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1)

	cldata := fx.clusterData(t)
	assert.Equal(t, cluster.TypeCluster, cldata.Type)
	assert.Equal(t, h1, cldata.Primary)
	assert.Equal(t, "8.0.27", cluster.StringValue(cldata.Spec.CommunicationProtocol))
	assert.Equal(t, defaultReplUser, cluster.StringValue(cldata.Spec.ReplUser))

	seed := fx.servers.Server(h1)
	assert.True(t, seed.InGroup())
	gcfg := seed.LastGroupConfig()
	require.NotNil(t, gcfg)
	assert.True(t, gcfg.Bootstrap)
	assert.Equal(t, "127.0.0.1:33101", gcfg.LocalAddress)
	assert.Equal(t, cluster.StringValue(cldata.Spec.GroupName), gcfg.GroupName)

	assert.Equal(t, 0, f.Leases())
	assert.Equal(t, 0, fx.servers.OpenSessions())
}

func TestCreateRefusesExistingCluster(t *testing.T) {
	fx := newFixture(t)
	fx.create(t, cluster.TypeCluster, h1)

	_, err := Create(fx.ctx, fx.cfg, option.NewString(h2), CreateOptions{AdminUser: "admin"})
	assert.EqualError(t, err, "cluster 'c1' already exists")
}

func TestCreateValidatesOptions(t *testing.T) {
	fx := newFixture(t)

	_, err := Create(fx.ctx, fx.cfg, option.NewString(h1), CreateOptions{})
	assert.True(t, option.IsArgumentError(err))

	_, err = Create(fx.ctx, fx.cfg, option.NewString(h1), CreateOptions{AdminUser: "admin", GroupName: "not-a-uuid"})
	assert.True(t, option.IsArgumentError(err))

	_, err = Create(fx.ctx, fx.cfg, option.NewString("127.0.0.1:7000"), CreateOptions{AdminUser: "admin"})
	assert.True(t, option.IsArgumentError(err), "local address port out of range")
}

func TestAddInstance(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1)

	res, err := f.AddInstance(fx.ctx, option.NewString(h2), AddInstanceOptions{Label: "second"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, fx.servers.Server(h2).UUID(), res.ServerUUID)
	assert.Contains(t, fx.out.String(), "Joining instance '127.0.0.1:3311' to the group...")

	cldata := fx.clusterData(t)
	m, ok := cldata.FindMember(h2)
	require.True(t, ok)
	assert.Equal(t, cluster.RoleSecondary, m.Role)
	assert.Equal(t, "second", m.Label)
	assert.True(t, fx.servers.Server(h2).InGroup())
	assert.Equal(t, []string{"127.0.0.1:33101"}, fx.servers.Server(h2).LastGroupConfig().Seeds)
	assert.Equal(t, 0, fx.servers.OpenSessions())

	_, err = f.AddInstance(fx.ctx, option.NewString(h2), AddInstanceOptions{})
	assert.ErrorIs(t, err, ErrAlreadyMember)

	_, err = f.AddInstance(fx.ctx, option.NewString(h3), AddInstanceOptions{Label: "second"})
	assert.True(t, option.IsArgumentError(err))
}

func TestAddInstanceDryRun(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1)

	res, err := f.AddInstance(fx.ctx, option.NewString(h2), AddInstanceOptions{DryRun: true})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Contains(t, fx.out.String(), dryRunNotice)
	assert.False(t, fx.servers.Server(h2).InGroup())
	_, ok := fx.clusterData(t).FindMember(h2)
	assert.False(t, ok)
}

func TestAddInstanceFollowsElectedPrimary(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)

	// the group elects h2 behind our back
	fx.servers.ElectPrimary(h2)

	res, err := f.AddInstance(fx.ctx, option.NewString(h4), AddInstanceOptions{})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "WARNING: The primary of 'c1' changed: reconnecting to 127.0.0.1:3311", firstLine(fx.out.String()))
	assert.Equal(t, h2, f.TargetServer())

	cldata := fx.clusterData(t)
	assert.Equal(t, h2, cldata.Primary)
	m, _ := cldata.FindMember(h1)
	assert.Equal(t, cluster.RoleSecondary, m.Role)
	_, ok := cldata.FindMember(h4)
	assert.True(t, ok)
	assert.True(t, fx.servers.Server(h4).InGroup())

	// only the target server session outlives the command
	assert.Equal(t, 0, f.Leases())
	assert.Equal(t, 1, fx.servers.OpenSessions())
	require.NoError(t, f.Close())
	assert.Equal(t, 0, fx.servers.OpenSessions())
}

func TestAddInstanceWithPrimaryDown(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)

	fx.servers.ElectPrimary(h3)
	fx.servers.DialErrors[h1] = errors.New("connection refused")

	_, err := f.AddInstance(fx.ctx, option.NewString(h4), AddInstanceOptions{})
	require.NoError(t, err)
	assert.Equal(t, h3, f.TargetServer())
	assert.Equal(t, h3, fx.clusterData(t).Primary)
}

func TestAddInstanceElectionDuringCommand(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)

	elected := false
	fx.servers.Server(h1).Before = func(op string) error {
		if op == "GroupMembers" && !elected {
			elected = true
			fx.servers.ElectPrimary(h3)
		}
		return nil
	}

	_, err := f.AddInstance(fx.ctx, option.NewString(h4), AddInstanceOptions{})
	require.NoError(t, err)
	assert.True(t, elected)
	assert.Equal(t, h3, f.TargetServer())
	assert.Contains(t, fx.out.String(), "reconnecting to 127.0.0.1:3312")
}

func TestAddInstanceElectionAfterJoin(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)

	starts := 0
	fx.servers.Server(h4).Before = func(op string) error {
		if op == "StartGroupReplication" {
			starts++
			fx.servers.ElectPrimary(h3)
		}
		return nil
	}

	res, err := f.AddInstance(fx.ctx, option.NewString(h4), AddInstanceOptions{})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, starts, "the instance joins the group only once")
	assert.Contains(t, fx.out.String(), "reconnecting to 127.0.0.1:3312")
	assert.Equal(t, h3, f.TargetServer())
	assert.Equal(t, 0, f.Leases())

	cldata := fx.clusterData(t)
	assert.Equal(t, h3, cldata.Primary)
	_, ok := cldata.FindMember(h4)
	assert.True(t, ok)
}

func TestAddExistingMemberAfterElection(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)
	fx.servers.ElectPrimary(h2)

	res, err := f.AddInstance(fx.ctx, option.NewString(h3), AddInstanceOptions{})
	assert.ErrorIs(t, err, ErrAlreadyMember)
	assert.Nil(t, res)
	assert.Equal(t, "WARNING: The primary of 'c1' changed: reconnecting to 127.0.0.1:3311", firstLine(fx.out.String()))
	assert.Equal(t, h2, f.TargetServer())
	assert.Equal(t, 0, f.Leases())
}

func TestAddInstanceReplicaSet(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeReplicaSet, h1)

	_, err := f.AddInstance(fx.ctx, option.NewString(h2), AddInstanceOptions{})
	require.NoError(t, err)

	srv := fx.servers.Server(h2)
	assert.True(t, srv.IsSuperReadOnly())
	assert.False(t, srv.InGroup())
	cfg, running, ok := srv.Channel("")
	require.True(t, ok)
	assert.True(t, running)
	assert.Equal(t, 3310, cfg.SourcePort)
	assert.Equal(t, defaultReplUser, cfg.User)
}

func TestRemoveInstance(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)

	res, err := f.RemoveInstance(fx.ctx, option.NewString(h3), RemoveInstanceOptions{})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, fx.servers.Server(h3).InGroup())
	_, ok := fx.clusterData(t).FindMember(h3)
	assert.False(t, ok)

	_, err = f.RemoveInstance(fx.ctx, option.NewString(h3), RemoveInstanceOptions{})
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = f.RemoveInstance(fx.ctx, option.NewString(h1), RemoveInstanceOptions{})
	assert.Error(t, err)
	assert.True(t, fx.servers.Server(h1).InGroup())
}

func TestRemoveInstanceFollowsElectedPrimary(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)
	fx.servers.ElectPrimary(h2)

	res, err := f.RemoveInstance(fx.ctx, option.NewString(h3), RemoveInstanceOptions{})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, h3, res.Endpoint)
	assert.Equal(t, "WARNING: The primary of 'c1' changed: reconnecting to 127.0.0.1:3311", firstLine(fx.out.String()))
	assert.Equal(t, h2, f.TargetServer())
	assert.Equal(t, 0, f.Leases())

	assert.False(t, fx.servers.Server(h3).InGroup())
	cldata := fx.clusterData(t)
	assert.Equal(t, h2, cldata.Primary)
	_, ok := cldata.FindMember(h3)
	assert.False(t, ok)
}

func TestRemoveNonMemberAfterElection(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)
	fx.servers.ElectPrimary(h2)

	res, err := f.RemoveInstance(fx.ctx, option.NewString(h5), RemoveInstanceOptions{})
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Nil(t, res)
	assert.Contains(t, fx.out.String(), "reconnecting to 127.0.0.1:3311")
	assert.Equal(t, h2, f.TargetServer())
	assert.Equal(t, 0, f.Leases())
}

func TestRemoveInstanceElectionAfterStop(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)

	stops := 0
	fx.servers.Server(h3).Before = func(op string) error {
		if op == "StopGroupReplication" {
			stops++
			if stops == 1 {
				fx.servers.ElectPrimary(h2)
			}
		}
		return nil
	}

	res, err := f.RemoveInstance(fx.ctx, option.NewString(h3), RemoveInstanceOptions{})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, stops, "the rerun stops the already stopped member again")
	assert.Contains(t, fx.out.String(), "reconnecting to 127.0.0.1:3311")
	assert.Equal(t, h2, f.TargetServer())
	assert.Equal(t, 0, f.Leases())

	assert.False(t, fx.servers.Server(h3).InGroup())
	_, ok := fx.clusterData(t).FindMember(h3)
	assert.False(t, ok)
}

func TestRemoveUnreachableInstance(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)
	fx.servers.DialErrors[h3] = errors.New("no route to host")

	_, err := f.RemoveInstance(fx.ctx, option.NewString(h3), RemoveInstanceOptions{})
	assert.Error(t, err)
	_, ok := fx.clusterData(t).FindMember(h3)
	assert.True(t, ok)

	_, err = f.RemoveInstance(fx.ctx, option.NewString(h3), RemoveInstanceOptions{Force: true})
	require.NoError(t, err)
	assert.Contains(t, fx.out.String(), "WARNING: The instance '127.0.0.1:3312' is not reachable")
	_, ok = fx.clusterData(t).FindMember(h3)
	assert.False(t, ok)
}

func TestRejoinInstance(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)

	res, err := f.RejoinInstance(fx.ctx, option.NewString(h2), RejoinInstanceOptions{})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Contains(t, fx.out.String(), "The instance '127.0.0.1:3311' is already ONLINE in the cluster.")

	fx.servers.SetMemberState(h2, mysql.StateError)
	res, err = f.RejoinInstance(fx.ctx, option.NewString(h2), RejoinInstanceOptions{})
	require.NoError(t, err)
	assert.True(t, res.Changed)

	view, err := fx.session(t, h1).GroupMembers(fx.ctx)
	require.NoError(t, err)
	gm, ok := mysql.FindMember(view, fx.servers.Server(h2).UUID())
	require.True(t, ok)
	assert.Equal(t, mysql.StateOnline, gm.State)
}

func TestRejoinInstanceFollowsElectedPrimary(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)
	fx.servers.SetMemberState(h3, mysql.StateError)
	fx.servers.ElectPrimary(h2)

	res, err := f.RejoinInstance(fx.ctx, option.NewString(h3), RejoinInstanceOptions{})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, h3, res.Endpoint)
	assert.Equal(t, "WARNING: The primary of 'c1' changed: reconnecting to 127.0.0.1:3311", firstLine(fx.out.String()))
	assert.Equal(t, h2, f.TargetServer())
	assert.Equal(t, 0, f.Leases())

	view, err := fx.session(t, h2).GroupMembers(fx.ctx)
	require.NoError(t, err)
	gm, ok := mysql.FindMember(view, fx.servers.Server(h3).UUID())
	require.True(t, ok)
	assert.Equal(t, mysql.StateOnline, gm.State)
	p, ok := mysql.PrimaryOf(view)
	require.True(t, ok)
	assert.Equal(t, h2, memberEndpoint(p))
}

func TestRejoinNonMemberAfterElection(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)
	fx.servers.ElectPrimary(h2)

	_, err := f.RejoinInstance(fx.ctx, option.NewString(h5), RejoinInstanceOptions{})
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Equal(t, h2, f.TargetServer())
	assert.Equal(t, 0, f.Leases())
}

func TestSetPrimaryInstanceCluster(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeCluster, h1, h2, h3)

	res, err := f.SetPrimaryInstance(fx.ctx, option.NewString(h2), SetPrimaryInstanceOptions{})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, h2, f.TargetServer())
	assert.False(t, fx.servers.Server(h2).IsSuperReadOnly())
	assert.True(t, fx.servers.Server(h1).IsSuperReadOnly())

	cldata := fx.clusterData(t)
	assert.Equal(t, h2, cldata.Primary)
	m, _ := cldata.FindMember(h2)
	assert.Equal(t, cluster.RolePrimary, m.Role)

	// no relocation is needed afterwards
	fx.out.Reset()
	_, err = f.AddInstance(fx.ctx, option.NewString(h4), AddInstanceOptions{})
	require.NoError(t, err)
	assert.NotContains(t, fx.out.String(), "reconnecting")
}

func TestSetPrimaryInstanceReplicaSet(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeReplicaSet, h1, h2, h3)

	_, err := f.SetPrimaryInstance(fx.ctx, option.NewString(h2), SetPrimaryInstanceOptions{})
	require.NoError(t, err)

	assert.False(t, fx.servers.Server(h2).IsSuperReadOnly())
	_, _, ok := fx.servers.Server(h2).Channel("")
	assert.False(t, ok, "the new primary replicates from nobody")
	for _, ep := range []string{h1, h3} {
		srv := fx.servers.Server(ep)
		assert.True(t, srv.IsSuperReadOnly(), ep)
		cfg, running, ok := srv.Channel("")
		require.True(t, ok, ep)
		assert.True(t, running, ep)
		assert.Equal(t, 3311, cfg.SourcePort, ep)
	}
	assert.Equal(t, h2, fx.clusterData(t).Primary)
	assert.Equal(t, h2, f.TargetServer())
}

func TestReplicaSetPrimaryChangedOutside(t *testing.T) {
	fx := newFixture(t)
	f := fx.create(t, cluster.TypeReplicaSet, h1, h2)

	// someone switched h2 over by hand
	fx.servers.Server(h2).Writable(true)
	s2 := fx.session(t, h2)
	require.NoError(t, s2.StopReplica(fx.ctx, ""))
	require.NoError(t, s2.ResetReplica(fx.ctx, ""))
	s1 := fx.session(t, h1)
	require.NoError(t, s1.SetSuperReadOnly(fx.ctx, true))
	require.NoError(t, s1.ConfigureReplicaChannel(fx.ctx, mysql.ChannelConfig{SourceHost: "127.0.0.1", SourcePort: 3311}))
	require.NoError(t, s1.StartReplica(fx.ctx, ""))

	st, err := f.Status(fx.ctx, StatusOptions{})
	require.NoError(t, err)
	assert.Equal(t, h2, st.Primary)
	assert.Equal(t, StatusAvailable, st.Status)
	assert.Contains(t, fx.out.String(), "reconnecting to 127.0.0.1:3311")
	assert.Equal(t, h2, f.TargetServer())
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
