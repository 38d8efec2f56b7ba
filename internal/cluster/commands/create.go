// Copyright (c) 2026, The fleetman Authors

package commands

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/conn"
	"fleetman.io/fleetman/internal/mysql"
	"fleetman.io/fleetman/internal/option"
	"fleetman.io/fleetman/internal/pool"
)

const defaultReplUser = "fleetman_repl"

type CreateOptions struct {
	Type          cluster.TopologyType
	AdminUser     string
	AdminPassword string
	ReplUser      string
	ReplPassword  string
	// generated when empty
	GroupName        string
	ExitStateAction  string
	MemberWeight     *int
	AutoRejoinTries  *int
	ConsistencyLevel string
	ExpelTimeout     *int
	Label            string
	// override cluster data already in the store
	Force bool
}

// scribbles directly on input
func adjustCreateDefaults(opts *CreateOptions) {
	if opts.Type == "" {
		opts.Type = cluster.TypeCluster
	}
	if opts.ReplUser == "" {
		opts.ReplUser = defaultReplUser
	}
	if opts.Type == cluster.TypeCluster && opts.GroupName == "" {
		opts.GroupName = uuid.NewString()
	}
}

func validateCreateOptions(opts *CreateOptions) error {
	switch opts.Type {
	case cluster.TypeCluster, cluster.TypeReplicaSet:
	default:
		return option.Errorf("Invalid topology type '%s', expected '%s' or '%s'", opts.Type, cluster.TypeCluster, cluster.TypeReplicaSet)
	}
	if opts.AdminUser == "" {
		return option.Errorf("Admin user not provided")
	}
	if opts.GroupName != "" {
		if _, err := uuid.Parse(opts.GroupName); err != nil {
			return option.Errorf("Invalid group name '%s': it must be a UUID", opts.GroupName)
		}
	}
	if opts.Label != "" {
		if err := validateLabel(opts.Label); err != nil {
			return err
		}
	}
	return nil
}

// localAddress is the group communication address derived from the server
// port.
func localAddress(d conn.Descriptor) (string, error) {
	port := d.Port*10 + 1
	if port > 65535 {
		return "", option.Errorf("Automatically generated port for localAddress falls out of valid range. The port must be an integer between 1 and 65535.")
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port)), nil
}

func groupConfig(spec *cluster.GroupSpec, d conn.Descriptor, seeds []string, bootstrap bool) (mysql.GroupConfig, error) {
	local, err := localAddress(d)
	if err != nil {
		return mysql.GroupConfig{}, err
	}
	return mysql.GroupConfig{
		GroupName:        cluster.StringValue(spec.GroupName),
		LocalAddress:     local,
		Seeds:            seeds,
		Bootstrap:        bootstrap,
		ViewChangeUUID:   cluster.StringValue(spec.ViewChangeUUID),
		ExitStateAction:  cluster.StringValue(spec.ExitStateAction),
		MemberWeight:     spec.MemberWeight,
		AutoRejoinTries:  spec.AutoRejoinTries,
		ConsistencyLevel: cluster.StringValue(spec.ConsistencyLevel),
		ExpelTimeout:     spec.ExpelTimeout,
		ReplUser:         cluster.StringValue(spec.ReplUser),
		ReplPassword:     cluster.StringValue(spec.ReplPassword),
	}, nil
}

// seedAddresses are the group communication addresses of the given members.
func seedAddresses(members []*cluster.Member) []string {
	var seeds []string
	for _, m := range members {
		d, err := conn.ValidateEndpoint(m.Endpoint)
		if err != nil {
			continue
		}
		if local, err := localAddress(d); err == nil {
			seeds = append(seeds, local)
		}
	}
	return seeds
}

// bootstrapMetadata stands in for the metadata before there is any.
type bootstrapMetadata struct {
	seed string
}

func (bm bootstrapMetadata) PrimaryEndpoint(ctx context.Context) (string, error) {
	return bm.seed, nil
}

func (bm bootstrapMetadata) IsMember(ctx context.Context, endpoint string) (bool, error) {
	return sameEndpoint(endpoint, bm.seed), nil
}

// Create makes a new cluster or replica set out of the seed instance and
// opens it.
func Create(ctx context.Context, cfg Config, seed option.Value, opts CreateOptions) (*Fleet, error) {
	d, err := conn.Validate(seed)
	if err != nil {
		return nil, err
	}
	adjustCreateDefaults(&opts)
	if err := validateCreateOptions(&opts); err != nil {
		return nil, err
	}
	if opts.Type == cluster.TypeCluster {
		if _, err := localAddress(d); err != nil {
			return nil, err
		}
	}

	cs := cfg.Store
	cldata, _, err := cs.GetClusterData(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot get cluster data: %v", err)
	}
	if cldata != nil {
		if !opts.Force {
			return nil, fmt.Errorf("cluster '%s' already exists", cs.ClusterName)
		}
		cfg.Console.PrintWarning(fmt.Sprintf("Overriding existing cluster '%s'", cs.ClusterName))
	}

	creds := pool.Credentials{User: opts.AdminUser, Password: opts.AdminPassword}
	f := newFleet(cfg, creds)
	sp, err := f.pool.Acquire(ctx, bootstrapMetadata{seed: d.Endpoint()}, cfg.Interactive, creds)
	if err != nil {
		return nil, err
	}
	defer sp.Release()

	inst, err := sp.ConnectDescriptor(ctx, d)
	if err != nil {
		return nil, err
	}
	serverUUID, err := inst.ServerUUID(ctx)
	if err != nil {
		return nil, err
	}

	cldatanew := cluster.NewClusterData(cs.ClusterName, opts.Type)
	cldatanew.Spec = cluster.GroupSpec{
		AdminUser:     cluster.StringPtr(opts.AdminUser),
		AdminPassword: cluster.StringPtr(opts.AdminPassword),
		ReplUser:      cluster.StringPtr(opts.ReplUser),
		ReplPassword:  cluster.StringPtr(opts.ReplPassword),
		MemberWeight:  opts.MemberWeight,
		ExpelTimeout:  opts.ExpelTimeout,
	}
	if opts.AutoRejoinTries != nil {
		cldatanew.Spec.AutoRejoinTries = opts.AutoRejoinTries
	}
	if opts.ExitStateAction != "" {
		cldatanew.Spec.ExitStateAction = cluster.StringPtr(opts.ExitStateAction)
	}
	if opts.ConsistencyLevel != "" {
		cldatanew.Spec.ConsistencyLevel = cluster.StringPtr(opts.ConsistencyLevel)
	}

	switch opts.Type {
	case cluster.TypeCluster:
		cldatanew.Spec.GroupName = cluster.StringPtr(opts.GroupName)
		members, err := inst.GroupMembers(ctx)
		if err != nil {
			return nil, err
		}
		if len(members) > 0 {
			return nil, fmt.Errorf("instance %s is already part of a replication group", d.Endpoint())
		}
		gcfg, err := groupConfig(&cldatanew.Spec, d, nil, true)
		if err != nil {
			return nil, err
		}
		if err := inst.StartGroupReplication(ctx, gcfg); err != nil {
			return nil, fmt.Errorf("failed to bootstrap the group on %s: %v", d.Endpoint(), err)
		}
		if proto, err := inst.CommunicationProtocol(ctx); err == nil {
			cldatanew.Spec.CommunicationProtocol = cluster.StringPtr(proto)
		}
	case cluster.TypeReplicaSet:
		if err := inst.SetSuperReadOnly(ctx, false); err != nil {
			return nil, err
		}
	}

	cldatanew.AddMember(&cluster.Member{
		Endpoint:   d.Endpoint(),
		ServerUUID: serverUUID,
		Label:      opts.Label,
		Role:       cluster.RolePrimary,
	})
	cldatanew.SetPrimary(d.Endpoint())
	if err := cs.PutClusterData(ctx, cldatanew); err != nil {
		return nil, fmt.Errorf("failed to save clusterdata in store: %v", err)
	}
	f.hl.Infof("created %s '%s' with primary %s", opts.Type, cs.ClusterName, d.Endpoint())
	return f, nil
}
