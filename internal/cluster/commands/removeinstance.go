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

// RemoveInstance takes a member out of the group and forgets it. With Force
// an unreachable member is only dropped from the metadata.
func (f *Fleet) RemoveInstance(ctx context.Context, target option.Value, opts RemoveInstanceOptions) (*MemberResult, error) {
	d, err := conn.Validate(target)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		f.console.PrintInfo(dryRunNotice)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	return run(ctx, f, "remove-instance", func(ctx context.Context, sp *pool.Scoped) (executor.Result[*MemberResult], error) {
		res, err := f.removeInstance(ctx, sp, d, opts)
		return executor.Check(res, err)
	})
}

func (f *Fleet) removeInstance(ctx context.Context, sp *pool.Scoped, d conn.Descriptor, opts RemoveInstanceOptions) (*MemberResult, error) {
	primary, cldata, err := f.checkPrimary(ctx, sp)
	if err != nil {
		return nil, err
	}
	m, ok := cldata.FindMember(d.Endpoint())
	if !ok {
		return nil, fmt.Errorf("%s: %w", d.Endpoint(), ErrNotMember)
	}
	if sameEndpoint(m.Endpoint, cldata.Primary) {
		return nil, fmt.Errorf("cannot remove the primary instance %s, set another primary first", m.Endpoint)
	}
	if opts.DryRun {
		return memberResult(m, false), nil
	}

	inst, err := sp.Connect(ctx, m.Endpoint)
	if err != nil {
		if !opts.Force {
			return nil, fmt.Errorf("cannot connect to %s, use the force option to remove it from the metadata only: %v", m.Endpoint, err)
		}
		f.console.PrintWarning(fmt.Sprintf("The instance '%s' is not reachable, it is only removed from the metadata.", m.Endpoint))
	} else {
		switch {
		case m.Role == cluster.RoleReadReplica:
			err = stopChannel(ctx, inst, readReplicaChannel)
		case cldata.Type == cluster.TypeCluster:
			err = inst.StopGroupReplication(ctx)
		default:
			err = stopChannel(ctx, inst, "")
		}
		if err != nil && !opts.Force {
			return nil, fmt.Errorf("failed to stop replication on %s: %v", m.Endpoint, err)
		}
		if err != nil {
			f.console.PrintWarning(fmt.Sprintf("Failed to stop replication on '%s': %v", m.Endpoint, err))
		}
	}
	if err := f.recheckPrimary(ctx, sp, primary, cldata); err != nil {
		return nil, err
	}

	cldata.RemoveMember(m.Endpoint)
	if err := f.cs.PutClusterData(ctx, cldata); err != nil {
		return nil, fmt.Errorf("failed to save clusterdata in store: %v", err)
	}
	f.hl.Infof("instance %s removed from %s", m.Endpoint, f.Name())
	return memberResult(m, true), nil
}

func stopChannel(ctx context.Context, inst *pool.Instance, channel string) error {
	if err := inst.StopReplica(ctx, channel); err != nil {
		return err
	}
	return inst.ResetReplica(ctx, channel)
}
