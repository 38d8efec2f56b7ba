// Copyright (c) 2026, The fleetman Authors

package commands

import (
	"context"
	"fmt"
	"time"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/conn"
	"fleetman.io/fleetman/internal/executor"
	"fleetman.io/fleetman/internal/mysql"
	"fleetman.io/fleetman/internal/option"
	"fleetman.io/fleetman/internal/pool"
)

// MemberResult describes the member a verb dealt with. Changed is false for
// dry runs and for verbs which found nothing to do.
type MemberResult struct {
	Endpoint   string             `json:"endpoint"`
	ServerUUID string             `json:"serverUuid,omitempty"`
	Role       cluster.MemberRole `json:"role,omitempty"`
	Label      string             `json:"label,omitempty"`
	Changed    bool               `json:"changed"`
}

func memberResult(m *cluster.Member, changed bool) *MemberResult {
	return &MemberResult{Endpoint: m.Endpoint, ServerUUID: m.ServerUUID, Role: m.Role, Label: m.Label, Changed: changed}
}

const dryRunNotice = "dryRun option was specified. Validations will be executed, but no changes will be applied."

// AddInstance makes target a new secondary.
func (f *Fleet) AddInstance(ctx context.Context, target option.Value, opts AddInstanceOptions) (*MemberResult, error) {
	d, err := conn.Validate(target)
	if err != nil {
		return nil, err
	}
	if opts.Label != "" {
		if err := validateLabel(opts.Label); err != nil {
			return nil, err
		}
	}
	if opts.DryRun {
		f.console.PrintInfo(dryRunNotice)
	}

	return run(ctx, f, "add-instance", func(ctx context.Context, sp *pool.Scoped) (executor.Result[*MemberResult], error) {
		res, err := f.addInstance(ctx, sp, d, opts)
		return executor.Check(res, err)
	})
}

func (f *Fleet) addInstance(ctx context.Context, sp *pool.Scoped, d conn.Descriptor, opts AddInstanceOptions) (*MemberResult, error) {
	primary, cldata, err := f.checkPrimary(ctx, sp)
	if err != nil {
		return nil, err
	}
	if _, ok := cldata.FindMember(d.Endpoint()); ok {
		return nil, fmt.Errorf("%s: %w", d.Endpoint(), ErrAlreadyMember)
	}
	if opts.Label != "" {
		for _, m := range cldata.Members {
			if m.Label == opts.Label {
				return nil, option.Errorf("An instance with label '%s' is already part of the cluster", opts.Label)
			}
		}
	}

	inst, err := sp.ConnectDescriptor(ctx, d)
	if err != nil {
		return nil, err
	}
	serverUUID, err := inst.ServerUUID(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range cldata.Members {
		if m.ServerUUID == serverUUID {
			return nil, fmt.Errorf("instance %s has the same server uuid as member %s", d.Endpoint(), m.Endpoint)
		}
	}

	member := &cluster.Member{
		Endpoint:    d.Endpoint(),
		ServerUUID:  serverUUID,
		Label:       opts.Label,
		Role:        cluster.RoleSecondary,
		CertSubject: opts.CertSubject,
	}
	if opts.DryRun {
		return memberResult(member, false), nil
	}

	timeout := recoveryTimeout(&cldata.Spec, opts.RecoveryTimeout)
	switch cldata.Type {
	case cluster.TypeCluster:
		err = f.joinGroup(ctx, primary, inst, cldata, d, serverUUID, timeout)
	case cluster.TypeReplicaSet:
		err = f.followPrimary(ctx, primary, inst, cldata, timeout)
	}
	if err != nil {
		return nil, err
	}
	if err := f.recheckPrimary(ctx, sp, primary, cldata); err != nil {
		return nil, err
	}

	cldata.AddMember(member)
	if err := f.cs.PutClusterData(ctx, cldata); err != nil {
		return nil, fmt.Errorf("failed to save clusterdata in store: %v", err)
	}
	f.hl.Infof("instance %s added to %s", d.Endpoint(), f.Name())
	return memberResult(member, true), nil
}

// joinGroup starts group replication on inst unless it already is in the
// group, then waits for it to get ONLINE.
func (f *Fleet) joinGroup(ctx context.Context, primary, inst *pool.Instance, cldata *cluster.ClusterData,
	d conn.Descriptor, serverUUID string, timeout time.Duration) error {
	members, err := primary.GroupMembers(ctx)
	if err != nil {
		return err
	}
	if _, ok := mysql.FindMember(members, serverUUID); !ok {
		gcfg, err := groupConfig(&cldata.Spec, d, seedAddresses(cldata.GroupMembers()), false)
		if err != nil {
			return err
		}
		f.console.PrintInfo(fmt.Sprintf("Joining instance '%s' to the group...", d.Endpoint()))
		if err := inst.StartGroupReplication(ctx, gcfg); err != nil {
			return fmt.Errorf("failed to join %s to the group: %v", d.Endpoint(), err)
		}
	}
	if err := waitMemberOnline(ctx, primary, serverUUID, timeout); err != nil {
		return fmt.Errorf("instance %s did not become ONLINE: %v", d.Endpoint(), err)
	}
	return nil
}

// followPrimary makes inst a read only replica of the primary through the
// default channel, unless it already is one.
func (f *Fleet) followPrimary(ctx context.Context, primary, inst *pool.Instance, cldata *cluster.ClusterData, timeout time.Duration) error {
	pd := primary.Descriptor()
	rs, err := inst.ReplicaStatus(ctx, "")
	if err != nil {
		return err
	}
	if rs != nil && rs.Running() && sameEndpoint(rs.SourceHost, pd.Host) && rs.SourcePort == pd.Port {
		return nil
	}
	if err := inst.SetSuperReadOnly(ctx, true); err != nil {
		return err
	}
	if err := inst.StopReplica(ctx, ""); err != nil {
		return err
	}
	err = inst.ConfigureReplicaChannel(ctx, mysql.ChannelConfig{
		SourceHost: pd.Host,
		SourcePort: pd.Port,
		User:       cluster.StringValue(cldata.Spec.ReplUser),
		Password:   cluster.StringValue(cldata.Spec.ReplPassword),
	})
	if err != nil {
		return err
	}
	if err := inst.StartReplica(ctx, ""); err != nil {
		return err
	}
	return waitReplicaRunning(ctx, inst, "", timeout)
}
