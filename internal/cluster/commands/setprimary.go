// Copyright (c) 2026, The fleetman Authors

package commands

import (
	"context"
	"fmt"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/conn"
	"fleetman.io/fleetman/internal/executor"
	"fleetman.io/fleetman/internal/option"
	"fleetman.io/fleetman/internal/pool"
)

// SetPrimaryInstance makes target the primary. A cluster elects it through
// the group; a replica set is switched over by hand, the old primary
// becoming a replica of the new one. Afterwards the fleet targets the new
// primary.
func (f *Fleet) SetPrimaryInstance(ctx context.Context, target option.Value, opts SetPrimaryInstanceOptions) (*MemberResult, error) {
	d, err := conn.Validate(target)
	if err != nil {
		return nil, err
	}
	return run(ctx, f, "set-primary-instance", func(ctx context.Context, sp *pool.Scoped) (executor.Result[*MemberResult], error) {
		res, err := f.setPrimaryInstance(ctx, sp, d, opts)
		return executor.Check(res, err)
	})
}

func (f *Fleet) setPrimaryInstance(ctx context.Context, sp *pool.Scoped, d conn.Descriptor, opts SetPrimaryInstanceOptions) (*MemberResult, error) {
	primary, cldata, err := f.checkPrimary(ctx, sp)
	if err != nil {
		return nil, err
	}
	m, ok := cldata.FindMember(d.Endpoint())
	if !ok {
		return nil, fmt.Errorf("%s: %w", d.Endpoint(), ErrNotMember)
	}
	if m.Role == cluster.RoleReadReplica {
		return nil, option.Errorf("Instance '%s' is a read replica and cannot become the primary", m.Endpoint)
	}
	if sameEndpoint(m.Endpoint, cldata.Primary) {
		f.console.PrintInfo(fmt.Sprintf("The instance '%s' is already the primary.", m.Endpoint))
		return memberResult(m, false), nil
	}
	inst, err := sp.Connect(ctx, m.Endpoint)
	if err != nil {
		return nil, err
	}

	f.console.PrintInfo(fmt.Sprintf("Setting instance '%s' as the primary of '%s'...", m.Endpoint, f.Name()))
	switch cldata.Type {
	case cluster.TypeCluster:
		if err := primary.SetGroupPrimary(ctx, m.ServerUUID, opts.RunningTransactionsTimeout); err != nil {
			return nil, fmt.Errorf("failed to elect %s: %v", m.Endpoint, err)
		}
		cldata.SetPrimary(m.Endpoint)
		if err := f.cs.PutClusterData(ctx, cldata); err != nil {
			return nil, fmt.Errorf("failed to save clusterdata in store: %v", err)
		}
	case cluster.TypeReplicaSet:
		if err := f.switchover(ctx, sp, primary, inst, cldata, m); err != nil {
			return nil, err
		}
	}

	f.SetTargetServer(inst.Steal())
	f.hl.Infof("cluster %s: primary is now %s", f.Name(), m.Endpoint)
	return memberResult(m, true), nil
}

// switchover moves the primary of a replica set from old to inst. The
// metadata is updated as soon as the new primary accepts writes.
func (f *Fleet) switchover(ctx context.Context, sp *pool.Scoped, old, inst *pool.Instance, cldata *cluster.ClusterData, m *cluster.Member) error {
	timeout := recoveryTimeout(&cldata.Spec, 0)
	rs, err := inst.ReplicaStatus(ctx, "")
	if err != nil {
		return err
	}
	if rs == nil || !rs.Running() {
		return fmt.Errorf("instance %s is not replicating from the primary, rejoin it first", m.Endpoint)
	}

	if err := old.SetSuperReadOnly(ctx, true); err != nil {
		return err
	}
	gtids, err := old.ExecutedGTIDSet(ctx)
	if err != nil {
		return err
	}
	if err := inst.WaitForGTIDSet(ctx, gtids, timeout); err != nil {
		// give the writes back to the old primary
		if rerr := old.SetSuperReadOnly(ctx, false); rerr != nil {
			f.hl.Errorf("failed to make %s writable again: %v", old.Endpoint(), rerr)
		}
		return fmt.Errorf("instance %s did not catch up with %s: %v", m.Endpoint, old.Endpoint(), err)
	}
	if err := stopChannel(ctx, inst, ""); err != nil {
		return err
	}
	if err := inst.SetSuperReadOnly(ctx, false); err != nil {
		return err
	}
	cldata.SetPrimary(m.Endpoint)
	if err := f.cs.PutClusterData(ctx, cldata); err != nil {
		return fmt.Errorf("failed to save clusterdata in store: %v", err)
	}

	for _, other := range cldata.GroupMembers() {
		if sameEndpoint(other.Endpoint, m.Endpoint) {
			continue
		}
		oi, err := sp.Connect(ctx, other.Endpoint)
		if err == nil {
			err = f.followPrimary(ctx, inst, oi, cldata, timeout)
		}
		if err != nil {
			f.console.PrintWarning(fmt.Sprintf("Failed to make '%s' replicate from the new primary: %v. Use rejoinInstance() to fix it.", other.Endpoint, err))
		}
	}
	return nil
}
