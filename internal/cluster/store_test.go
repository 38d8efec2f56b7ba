package cluster

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetman.io/fleetman/internal/store/storetest"
)

func newTestStore(t *testing.T) (*ClusterStore, *storetest.MemStore) {
	t.Helper()
	ms := storetest.NewMemStore()
	cs := NewClusterStoreFromExisting("c1", ms)
	cd := NewClusterData("c1", TypeCluster)
	cd.Spec.AdminUser = StringPtr("admin")
	cd.Spec.MemberWeight = IntPtr(50)
	cd.AddMember(&Member{Endpoint: "h1:3306", Role: RolePrimary})
	cd.AddMember(&Member{Endpoint: "h2:3306", Role: RoleSecondary})
	cd.Primary = "h1:3306"
	require.NoError(t, cs.PutClusterData(context.Background(), cd))
	return cs, ms
}

func TestGetClusterDataIsCached(t *testing.T) {
	ctx := context.Background()
	cs, ms := newTestStore(t)

	cd, pair, err := cs.GetClusterData(ctx)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "fleetman/c1/clusterdata", pair.Key)
	assert.Equal(t, "c1", cd.Name)
	gets := ms.Gets

	// changes behind our back are not seen until invalidation
	other := NewClusterStoreFromExisting("c1", ms)
	cd.Primary = "h2:3306"
	require.NoError(t, other.PutClusterData(ctx, cd))

	primary, err := cs.PrimaryEndpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "h1:3306", primary)
	assert.Equal(t, gets, ms.Gets)

	cs.InvalidateCached()
	primary, err = cs.PrimaryEndpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "h2:3306", primary)
	assert.Equal(t, gets+1, ms.Gets)
}

func TestGetClusterDataReturnsCopies(t *testing.T) {
	ctx := context.Background()
	cs, _ := newTestStore(t)
	cd1, _, err := cs.GetClusterData(ctx)
	require.NoError(t, err)
	cd1.Members["h1:3306"].Label = "changed"
	cd2, _, err := cs.GetClusterData(ctx)
	require.NoError(t, err)
	assert.Empty(t, cd2.Members["h1:3306"].Label)
}

func TestMissingCluster(t *testing.T) {
	ctx := context.Background()
	cs := NewClusterStoreFromExisting("nope", storetest.NewMemStore())
	cd, pair, err := cs.GetClusterData(ctx)
	require.NoError(t, err)
	assert.Nil(t, cd)
	assert.Nil(t, pair)

	_, err = cs.PrimaryEndpoint(ctx)
	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.EqualError(t, err, "cluster 'nope' not found in the store")
}

func TestPrimaryUnavailable(t *testing.T) {
	ctx := context.Background()
	cs, _ := newTestStore(t)
	cd, err := cs.MustGetClusterData(ctx)
	require.NoError(t, err)
	cd.Primary = ""
	require.NoError(t, cs.PutClusterData(ctx, cd))

	_, err = cs.PrimaryEndpoint(ctx)
	var pue *PrimaryUnavailableError
	assert.ErrorAs(t, err, &pue)
}

func TestIsMember(t *testing.T) {
	ctx := context.Background()
	cs, _ := newTestStore(t)
	ok, err := cs.IsMember(ctx, "H2:3306")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = cs.IsMember(ctx, "h3:3306")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = cs.IsMember(ctx, "h3")
	assert.Error(t, err)
}

func TestPatchSpec(t *testing.T) {
	ctx := context.Background()
	cs, _ := newTestStore(t)

	spec, err := cs.PatchSpec(ctx, []byte(`{"memberWeight": 80, "exitStateAction": "OFFLINE_MODE", "tags": {"dc": "east"}}`))
	require.NoError(t, err)
	assert.Equal(t, 80, IntValue(spec.MemberWeight, 0))
	assert.Equal(t, "OFFLINE_MODE", StringValue(spec.ExitStateAction))
	assert.Equal(t, "admin", StringValue(spec.AdminUser))

	spec, err = cs.PatchSpec(ctx, []byte(`{"tags": {"rack": "r1"}, "memberWeight": null}`))
	require.NoError(t, err)
	assert.Nil(t, spec.MemberWeight)
	assert.Equal(t, map[string]string{"dc": "east", "rack": "r1"}, spec.Tags)

	cd, err := cs.MustGetClusterData(ctx)
	require.NoError(t, err)
	assert.Equal(t, spec.Tags, cd.Spec.Tags)

	_, err = cs.PatchSpec(ctx, []byte(`not json`))
	assert.Error(t, err)
}

func TestSetPrimary(t *testing.T) {
	cd := NewClusterData("c", TypeCluster)
	cd.AddMember(&Member{Endpoint: "h1:3306", Role: RolePrimary})
	cd.AddMember(&Member{Endpoint: "h2:3306", Role: RoleSecondary})
	cd.AddMember(&Member{Endpoint: "h3:3306", Role: RoleReadReplica})

	cd.SetPrimary("H2:3306")
	assert.Equal(t, "h2:3306", cd.Primary)
	assert.Equal(t, RoleSecondary, cd.Members["h1:3306"].Role)
	assert.Equal(t, RolePrimary, cd.Members["h2:3306"].Role)
	assert.Equal(t, RoleReadReplica, cd.Members["h3:3306"].Role)
	assert.Len(t, cd.GroupMembers(), 2)
	assert.Len(t, cd.ReadReplicas(), 1)

	cd.RemoveMember("H3:3306")
	assert.Empty(t, cd.ReadReplicas())
}

func TestDurationJSON(t *testing.T) {
	spec := GroupSpec{RecoveryTimeout: &Duration{Duration: 90 * time.Second}}
	b, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"recoveryTimeout": "1m30s"}`, string(b))

	var back GroupSpec
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, 90*time.Second, back.RecoveryTimeout.Duration)
}
