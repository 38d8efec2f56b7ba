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
	"fleetman.io/fleetman/internal/topology"
)

const (
	readReplicaChannel = "read_replica_replication"
	// weight of the members not holding the preferred role
	otherRoleWeight = 60
)

// AddReplicaInstance attaches target to the cluster as a read replica. It
// replicates asynchronously from its sources and never joins the group.
func (f *Fleet) AddReplicaInstance(ctx context.Context, target option.Value, opts AddReplicaInstanceOptions) (*MemberResult, error) {
	d, err := conn.Validate(target)
	if err != nil {
		return nil, err
	}
	if opts.ReplicationSources.Type == "" {
		opts.ReplicationSources = topology.PrimarySources()
	}
	if err := opts.ReplicationSources.Validate(); err != nil {
		return nil, err
	}
	if opts.DryRun {
		f.console.PrintInfo(dryRunNotice)
	}

	return run(ctx, f, "add-replica-instance", func(ctx context.Context, sp *pool.Scoped) (executor.Result[*MemberResult], error) {
		res, err := f.addReplicaInstance(ctx, sp, d, opts)
		return executor.Check(res, err)
	})
}

func (f *Fleet) addReplicaInstance(ctx context.Context, sp *pool.Scoped, d conn.Descriptor, opts AddReplicaInstanceOptions) (*MemberResult, error) {
	primary, cldata, err := f.checkPrimary(ctx, sp)
	if err != nil {
		return nil, err
	}
	if cldata.Type != cluster.TypeCluster {
		return nil, fmt.Errorf("%w: read replicas need a %s", ErrNotSupported, cluster.TypeCluster)
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
	sources := opts.ReplicationSources
	if err := checkCustomSources(ctx, primary, cldata, sources); err != nil {
		return nil, err
	}

	inst, err := sp.ConnectDescriptor(ctx, d)
	if err != nil {
		return nil, err
	}
	serverUUID, err := inst.ServerUUID(ctx)
	if err != nil {
		return nil, err
	}
	members, err := inst.GroupMembers(ctx)
	if err != nil {
		return nil, err
	}
	if len(members) > 0 {
		return nil, fmt.Errorf("instance %s is part of a replication group and cannot be a read replica", d.Endpoint())
	}

	member := &cluster.Member{
		Endpoint:   d.Endpoint(),
		ServerUUID: serverUUID,
		Label:      opts.Label,
		Role:       cluster.RoleReadReplica,
		Sources:    &sources,
	}
	if opts.DryRun {
		return memberResult(member, false), nil
	}

	if err := f.configureReadReplica(ctx, primary, inst, cldata, &sources); err != nil {
		return nil, err
	}
	if err := waitReplicaRunning(ctx, inst, readReplicaChannel, recoveryTimeout(&cldata.Spec, opts.Timeout)); err != nil {
		return nil, err
	}
	if err := f.recheckPrimary(ctx, sp, primary, cldata); err != nil {
		return nil, err
	}

	cldata.AddMember(member)
	if err := f.cs.PutClusterData(ctx, cldata); err != nil {
		return nil, fmt.Errorf("failed to save clusterdata in store: %v", err)
	}
	f.hl.Infof("read replica %s added to %s", d.Endpoint(), f.Name())
	return memberResult(member, true), nil
}

// checkCustomSources makes sure every listed source is an ONLINE member.
func checkCustomSources(ctx context.Context, primary *pool.Instance, cldata *cluster.ClusterData, ss topology.SourceSet) error {
	if ss.Type != topology.SourceTypeCustom {
		return nil
	}
	members, err := primary.GroupMembers(ctx)
	if err != nil {
		return err
	}
	for _, s := range ss.Sources {
		m, ok := cldata.FindMember(s.Endpoint())
		if !ok || m.Role == cluster.RoleReadReplica {
			return option.Errorf("Invalid source '%s' in '%s': the instance is not an ONLINE member of the cluster",
				s.Endpoint(), topology.ReplicationSourcesOption)
		}
		gm, ok := mysql.FindMember(members, m.ServerUUID)
		if !ok || gm.State != mysql.StateOnline {
			return option.Errorf("Invalid source '%s' in '%s': the instance is not an ONLINE member of the cluster",
				s.Endpoint(), topology.ReplicationSourcesOption)
		}
	}
	return nil
}

// configureReadReplica (re)creates the read replica channel of inst and
// starts it. A nil source set means follow the primary.
func (f *Fleet) configureReadReplica(ctx context.Context, primary, inst *pool.Instance, cldata *cluster.ClusterData, ss *topology.SourceSet) error {
	sources := topology.PrimarySources()
	if ss != nil {
		sources = *ss
	}
	cfg := mysql.ChannelConfig{
		Channel:      readReplicaChannel,
		User:         cluster.StringValue(cldata.Spec.ReplUser),
		Password:     cluster.StringValue(cldata.Spec.ReplPassword),
		AutoFailover: true,
	}
	pd := primary.Descriptor()
	switch sources.Type {
	case topology.SourceTypeCustom:
		cfg.Sources = sources.Sources
		cfg.SourceHost = sources.Sources[0].Host
		cfg.SourcePort = sources.Sources[0].Port
	default:
		mg := &mysql.ManagedGroup{
			GroupName:       cluster.StringValue(cldata.Spec.GroupName),
			Host:            pd.Host,
			Port:            pd.Port,
			PrimaryWeight:   topology.ReadReplicaMaxWeight,
			SecondaryWeight: otherRoleWeight,
		}
		cfg.SourceHost, cfg.SourcePort = pd.Host, pd.Port
		if sources.Type == topology.SourceTypeSecondary {
			mg.PrimaryWeight, mg.SecondaryWeight = otherRoleWeight, topology.ReadReplicaMaxWeight
			if sd, ok := onlineSecondary(ctx, primary); ok {
				cfg.SourceHost, cfg.SourcePort = sd.Host, sd.Port
			}
		}
		cfg.ManagedGroup = mg
	}

	f.console.PrintInfo(fmt.Sprintf("Configuring '%s' to replicate from %s...", inst.Endpoint(), describeSources(sources)))
	if err := inst.SetSuperReadOnly(ctx, true); err != nil {
		return err
	}
	if err := inst.StopReplica(ctx, readReplicaChannel); err != nil {
		return err
	}
	if err := inst.ConfigureReplicaChannel(ctx, cfg); err != nil {
		return fmt.Errorf("failed to configure replication on %s: %v", inst.Endpoint(), err)
	}
	return inst.StartReplica(ctx, readReplicaChannel)
}

func onlineSecondary(ctx context.Context, primary *pool.Instance) (conn.Descriptor, bool) {
	members, err := primary.GroupMembers(ctx)
	if err != nil {
		return conn.Descriptor{}, false
	}
	for _, m := range members {
		if m.Role == mysql.RoleSecondary && m.State == mysql.StateOnline {
			return conn.Descriptor{Host: m.Host, Port: m.Port}, true
		}
	}
	return conn.Descriptor{}, false
}

func describeSources(ss topology.SourceSet) string {
	switch ss.Type {
	case topology.SourceTypePrimary:
		return "the primary"
	case topology.SourceTypeSecondary:
		return "the secondaries"
	}
	return fmt.Sprintf("%v", ss.Endpoints())
}
