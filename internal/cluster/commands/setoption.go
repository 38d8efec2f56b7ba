// Copyright (c) 2026, The fleetman Authors

package commands

import (
	"context"
	"fmt"
	"strings"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/conn"
	"fleetman.io/fleetman/internal/executor"
	"fleetman.io/fleetman/internal/mysql"
	"fleetman.io/fleetman/internal/option"
	"fleetman.io/fleetman/internal/pool"
	"fleetman.io/fleetman/internal/topology"
)

// Settable options.
const (
	OptMemberWeight    = "memberWeight"
	OptExitStateAction = "exitStateAction"
	OptAutoRejoinTries = "autoRejoinTries"
	OptConsistency     = "consistency"
	OptExpelTimeout    = "expelTimeout"

	tagPrefix = "tag:"
)

// groupVariables maps options to the server variables backing them.
var groupVariables = map[string]string{
	OptMemberWeight:    "group_replication_member_weight",
	OptExitStateAction: "group_replication_exit_state_action",
	OptAutoRejoinTries: "group_replication_autorejoin_tries",
	OptConsistency:     "group_replication_consistency",
	OptExpelTimeout:    "group_replication_member_expel_timeout",
}

var (
	exitStateActions  = []string{"READ_ONLY", "OFFLINE_MODE", "ABORT_SERVER"}
	consistencyLevels = []string{"EVENTUAL", "BEFORE_ON_PRIMARY_FAILOVER", "BEFORE", "AFTER", "BEFORE_AND_AFTER"}
)

func intInRange(name string, v option.Value, lo, hi int64) (int, error) {
	i, ok := v.AsInt()
	if !ok {
		return 0, option.Errorf("Option '%s' is expected to be of type %s, but is %s", name, option.Integer, v.Kind())
	}
	if i < lo || i > hi {
		return 0, option.Errorf("Invalid value '%d' for option '%s'. It must be an integer in the range [%d, %d].", i, name, lo, hi)
	}
	return int(i), nil
}

func oneOf(name string, v option.Value, allowed []string) (string, error) {
	s, ok := v.AsString()
	if !ok {
		return "", option.Errorf("Option '%s' is expected to be of type %s, but is %s", name, option.String, v.Kind())
	}
	for _, a := range allowed {
		if strings.EqualFold(s, a) {
			return a, nil
		}
	}
	return "", option.Errorf("Invalid value for '%s': '%s'. Accepted values: %s.", name, s, strings.Join(allowed, ", "))
}

// parseGroupOption validates a group replication option and returns the
// value to set.
func parseGroupOption(name string, v option.Value) (interface{}, error) {
	switch name {
	case OptMemberWeight:
		return intInRange(name, v, 0, 100)
	case OptAutoRejoinTries:
		return intInRange(name, v, 0, 2016)
	case OptExpelTimeout:
		return intInRange(name, v, 0, 3600)
	case OptExitStateAction:
		return oneOf(name, v, exitStateActions)
	case OptConsistency:
		return oneOf(name, v, consistencyLevels)
	}
	return nil, option.Errorf("Option '%s' not supported.", name)
}

func applyGroupOption(spec *cluster.GroupSpec, name string, value interface{}) {
	switch name {
	case OptMemberWeight:
		spec.MemberWeight = cluster.IntPtr(value.(int))
	case OptAutoRejoinTries:
		spec.AutoRejoinTries = cluster.IntPtr(value.(int))
	case OptExpelTimeout:
		spec.ExpelTimeout = cluster.IntPtr(value.(int))
	case OptExitStateAction:
		spec.ExitStateAction = cluster.StringPtr(value.(string))
	case OptConsistency:
		spec.ConsistencyLevel = cluster.StringPtr(value.(string))
	}
}

// SetOption changes a group wide option on every ONLINE member and records
// it, so that members joining later get it too. tag:<name> options are only
// recorded; an empty value removes the tag.
func (f *Fleet) SetOption(ctx context.Context, name string, value option.Value) error {
	if tag, ok := strings.CutPrefix(name, tagPrefix); ok {
		return f.setTag(ctx, tag, value)
	}
	parsed, err := parseGroupOption(name, value)
	if err != nil {
		return err
	}
	_, err = run(ctx, f, "set-option", func(ctx context.Context, sp *pool.Scoped) (executor.Result[struct{}], error) {
		return executor.Check(struct{}{}, f.setOption(ctx, sp, name, parsed))
	})
	return err
}

func (f *Fleet) setOption(ctx context.Context, sp *pool.Scoped, name string, value interface{}) error {
	primary, cldata, err := f.checkPrimary(ctx, sp)
	if err != nil {
		return err
	}
	if cldata.Type != cluster.TypeCluster {
		return fmt.Errorf("%w: '%s' needs a %s", ErrNotSupported, name, cluster.TypeCluster)
	}
	view, err := primary.GroupMembers(ctx)
	if err != nil {
		return err
	}
	for _, m := range cldata.GroupMembers() {
		gm, ok := mysql.FindMember(view, m.ServerUUID)
		if !ok || gm.State != mysql.StateOnline {
			f.console.PrintWarning(fmt.Sprintf("The instance '%s' is not ONLINE, '%s' will be set when it rejoins.", m.Endpoint, name))
			continue
		}
		inst, err := sp.Connect(ctx, m.Endpoint)
		if err != nil {
			return err
		}
		if err := inst.SetPersist(ctx, groupVariables[name], value); err != nil {
			return fmt.Errorf("failed to set '%s' on %s: %v", name, m.Endpoint, err)
		}
	}
	applyGroupOption(&cldata.Spec, name, value)
	if err := f.cs.PutClusterData(ctx, cldata); err != nil {
		return fmt.Errorf("failed to save clusterdata in store: %v", err)
	}
	f.console.PrintInfo(fmt.Sprintf("Successfully set the value of '%s' to '%v' in the '%s' cluster.", name, value, f.Name()))
	return nil
}

func (f *Fleet) setTag(ctx context.Context, tag string, value option.Value) error {
	if tag == "" {
		return option.Errorf("The tag name cannot be empty")
	}
	s, ok := value.AsString()
	if !ok {
		return option.Errorf("Option '%s%s' is expected to be of type %s, but is %s", tagPrefix, tag, option.String, value.Kind())
	}
	cldata, err := f.cs.MustGetClusterData(ctx)
	if err != nil {
		return err
	}
	if s == "" {
		delete(cldata.Spec.Tags, tag)
	} else {
		if cldata.Spec.Tags == nil {
			cldata.Spec.Tags = make(map[string]string)
		}
		cldata.Spec.Tags[tag] = s
	}
	return f.cs.PutClusterData(ctx, cldata)
}

// SetInstanceOption changes an option of a single member.
func (f *Fleet) SetInstanceOption(ctx context.Context, target option.Value, name string, value option.Value) error {
	d, err := conn.Validate(target)
	if err != nil {
		return err
	}
	var parsed interface{}
	switch name {
	case OptLabel:
		s, ok := value.AsString()
		if !ok {
			return option.Errorf("Option '%s' is expected to be of type %s, but is %s", name, option.String, value.Kind())
		}
		if err := validateLabel(s); err != nil {
			return err
		}
		parsed = s
	case OptReplicationSources:
		ss, err := topology.Prioritize(value)
		if err != nil {
			return err
		}
		parsed = ss
	case OptMemberWeight, OptExitStateAction, OptAutoRejoinTries:
		if parsed, err = parseGroupOption(name, value); err != nil {
			return err
		}
	default:
		return option.Errorf("Option '%s' not supported.", name)
	}

	_, err = run(ctx, f, "set-instance-option", func(ctx context.Context, sp *pool.Scoped) (executor.Result[struct{}], error) {
		return executor.Check(struct{}{}, f.setInstanceOption(ctx, sp, d, name, value, parsed))
	})
	return err
}

func (f *Fleet) setInstanceOption(ctx context.Context, sp *pool.Scoped, d conn.Descriptor, name string, raw option.Value, parsed interface{}) error {
	primary, cldata, err := f.checkPrimary(ctx, sp)
	if err != nil {
		return err
	}
	m, ok := cldata.FindMember(d.Endpoint())
	if !ok {
		return fmt.Errorf("%s: %w", d.Endpoint(), ErrNotMember)
	}

	switch name {
	case OptLabel:
		label := parsed.(string)
		for _, o := range cldata.Members {
			if o != m && o.Label == label {
				return option.Errorf("An instance with label '%s' is already part of the cluster", label)
			}
		}
		m.Label = label

	case OptReplicationSources:
		if m.Role != cluster.RoleReadReplica {
			return option.Errorf("Option '%s' is only supported for read replicas", name)
		}
		ss := parsed.(topology.SourceSet)
		if err := checkCustomSources(ctx, primary, cldata, ss); err != nil {
			return err
		}
		inst, err := sp.Connect(ctx, m.Endpoint)
		if err != nil {
			return err
		}
		if err := f.configureReadReplica(ctx, primary, inst, cldata, &ss); err != nil {
			return err
		}
		m.Sources = &ss

	default:
		if cldata.Type != cluster.TypeCluster || m.Role == cluster.RoleReadReplica {
			return fmt.Errorf("%w: '%s' applies to group members only", ErrNotSupported, name)
		}
		inst, err := sp.Connect(ctx, m.Endpoint)
		if err != nil {
			return err
		}
		if err := inst.SetPersist(ctx, groupVariables[name], parsed); err != nil {
			return fmt.Errorf("failed to set '%s' on %s: %v", name, m.Endpoint, err)
		}
		if m.Options == nil {
			m.Options = make(map[string]option.Value)
		}
		m.Options[name] = raw
	}

	if err := f.cs.PutClusterData(ctx, cldata); err != nil {
		return fmt.Errorf("failed to save clusterdata in store: %v", err)
	}
	f.console.PrintInfo(fmt.Sprintf("Successfully set the value of '%s' for instance '%s'.", name, m.Endpoint))
	return nil
}

// PatchSpec merges a json patch into the group spec. Nothing is pushed to
// the servers; the new values apply to members joining afterwards.
func (f *Fleet) PatchSpec(ctx context.Context, patch []byte) (*cluster.GroupSpec, error) {
	return f.cs.PatchSpec(ctx, patch)
}
