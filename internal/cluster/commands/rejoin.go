// Copyright (c) 2026, The fleetman Authors

package commands

import (
	"context"
	"fmt"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/conn"
	"fleetman.io/fleetman/internal/executor"
	"fleetman.io/fleetman/internal/mysql"
	"fleetman.io/fleetman/internal/option"
	"fleetman.io/fleetman/internal/pool"
)

// RejoinInstance brings a member which left the group back. A member already
// ONLINE is left alone.
func (f *Fleet) RejoinInstance(ctx context.Context, target option.Value, opts RejoinInstanceOptions) (*MemberResult, error) {
	d, err := conn.Validate(target)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		f.console.PrintInfo(dryRunNotice)
	}
	return run(ctx, f, "rejoin-instance", func(ctx context.Context, sp *pool.Scoped) (executor.Result[*MemberResult], error) {
		res, err := f.rejoinInstance(ctx, sp, d, opts)
		return executor.Check(res, err)
	})
}

func (f *Fleet) rejoinInstance(ctx context.Context, sp *pool.Scoped, d conn.Descriptor, opts RejoinInstanceOptions) (*MemberResult, error) {
	primary, cldata, err := f.checkPrimary(ctx, sp)
	if err != nil {
		return nil, err
	}
	m, ok := cldata.FindMember(d.Endpoint())
	if !ok {
		return nil, fmt.Errorf("%s: %w", d.Endpoint(), ErrNotMember)
	}
	if sameEndpoint(m.Endpoint, cldata.Primary) {
		f.console.PrintInfo(fmt.Sprintf("The instance '%s' is the primary, nothing to rejoin.", m.Endpoint))
		return memberResult(m, false), nil
	}
	inst, err := sp.Connect(ctx, m.Endpoint)
	if err != nil {
		return nil, err
	}
	timeout := recoveryTimeout(&cldata.Spec, opts.Timeout)

	switch {
	case m.Role == cluster.RoleReadReplica:
		rs, err := inst.ReplicaStatus(ctx, readReplicaChannel)
		if err != nil {
			return nil, err
		}
		if rs != nil && rs.Running() {
			f.console.PrintInfo(fmt.Sprintf("The instance '%s' is already replicating.", m.Endpoint))
			return memberResult(m, false), nil
		}
		if opts.DryRun {
			return memberResult(m, false), nil
		}
		if err := f.configureReadReplica(ctx, primary, inst, cldata, m.Sources); err != nil {
			return nil, err
		}
		if err := waitReplicaRunning(ctx, inst, readReplicaChannel, timeout); err != nil {
			return nil, err
		}

	case cldata.Type == cluster.TypeCluster:
		members, err := primary.GroupMembers(ctx)
		if err != nil {
			return nil, err
		}
		if gm, ok := mysql.FindMember(members, m.ServerUUID); ok && gm.State == mysql.StateOnline {
			f.console.PrintInfo(fmt.Sprintf("The instance '%s' is already ONLINE in the cluster.", m.Endpoint))
			return memberResult(m, false), nil
		}
		if opts.DryRun {
			return memberResult(m, false), nil
		}
		// a member in ERROR state has to leave first
		if err := inst.StopGroupReplication(ctx); err != nil {
			return nil, err
		}
		if err := f.joinGroup(ctx, primary, inst, cldata, inst.Descriptor(), m.ServerUUID, timeout); err != nil {
			return nil, err
		}

	default:
		if opts.DryRun {
			return memberResult(m, false), nil
		}
		if err := f.followPrimary(ctx, primary, inst, cldata, timeout); err != nil {
			return nil, err
		}
	}
	f.hl.Infof("instance %s rejoined %s", m.Endpoint, f.Name())
	return memberResult(m, true), nil
}
