// Copyright (c) 2026, The fleetman Authors

package commands

import (
	"context"
	"fmt"

	"github.com/coreos/go-semver/semver"
	"github.com/google/uuid"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/executor"
	"fleetman.io/fleetman/internal/mysql"
	"fleetman.io/fleetman/internal/option"
	"fleetman.io/fleetman/internal/pool"
)

const viewChangeUUIDVar = "group_replication_view_change_uuid"

type RescanResult struct {
	NewlyDiscovered []string `json:"newlyDiscovered,omitempty"`
	Added           []string `json:"added,omitempty"`
	Obsolete        []string `json:"obsolete,omitempty"`
	Removed         []string `json:"removed,omitempty"`
	// members whose server uuid changed, e.g. after a reprovisioning
	UpdatedUUIDs          []string `json:"updatedUuids,omitempty"`
	CommunicationProtocol string   `json:"communicationProtocol,omitempty"`
	ViewChangeUUID        string   `json:"viewChangeUuid,omitempty"`
}

// Rescan reconciles the metadata with the group as it actually is.
func (f *Fleet) Rescan(ctx context.Context, opts RescanOptions) (*RescanResult, error) {
	return run(ctx, f, "rescan", func(ctx context.Context, sp *pool.Scoped) (executor.Result[*RescanResult], error) {
		res, err := f.rescan(ctx, sp, opts)
		return executor.Check(res, err)
	})
}

func (f *Fleet) rescan(ctx context.Context, sp *pool.Scoped, opts RescanOptions) (*RescanResult, error) {
	primary, cldata, err := f.checkPrimary(ctx, sp)
	if err != nil {
		return nil, err
	}
	if cldata.Type != cluster.TypeCluster {
		return nil, fmt.Errorf("%w: rescan needs a %s", ErrNotSupported, cluster.TypeCluster)
	}
	members, err := primary.GroupMembers(ctx)
	if err != nil {
		return nil, err
	}

	res := &RescanResult{}
	matched := make(map[string]bool)
	var obsolete []*cluster.Member
	for _, m := range cldata.GroupMembers() {
		if gm, ok := mysql.FindMember(members, m.ServerUUID); ok {
			matched[gm.UUID] = true
			continue
		}
		if gm, ok := findByEndpoint(members, m.Endpoint); ok && !matched[gm.UUID] {
			f.console.PrintInfo(fmt.Sprintf("Updating server uuid of '%s' to %s.", m.Endpoint, gm.UUID))
			m.ServerUUID = gm.UUID
			matched[gm.UUID] = true
			res.UpdatedUUIDs = append(res.UpdatedUUIDs, m.Endpoint)
			continue
		}
		obsolete = append(obsolete, m)
		res.Obsolete = append(res.Obsolete, m.Endpoint)
	}
	var discovered []mysql.GroupMember
	for _, gm := range members {
		if !matched[gm.UUID] {
			discovered = append(discovered, gm)
			res.NewlyDiscovered = append(res.NewlyDiscovered, memberEndpoint(gm))
		}
	}

	if err := checkRescanList(OptAddInstances, opts.AddInstances.Endpoints(), res.NewlyDiscovered, "is not a newly discovered group member"); err != nil {
		return nil, err
	}
	if err := checkRescanList(OptRemoveInstances, opts.RemoveInstances.Endpoints(), res.Obsolete, "is not an obsolete member"); err != nil {
		return nil, err
	}

	for _, gm := range discovered {
		ep := memberEndpoint(gm)
		if !opts.AddInstances.Auto && !opts.AddInstances.Contains(ep) {
			f.console.PrintWarning(fmt.Sprintf("The instance '%s' is part of the group but not managed. Use the '%s' option to add it.", ep, OptAddInstances))
			continue
		}
		f.console.PrintInfo(fmt.Sprintf("Adding instance '%s' to the cluster metadata...", ep))
		role := cluster.RoleSecondary
		if gm.Role == mysql.RolePrimary {
			role = cluster.RolePrimary
		}
		cldata.AddMember(&cluster.Member{Endpoint: ep, ServerUUID: gm.UUID, Role: role})
		res.Added = append(res.Added, ep)
	}
	for _, m := range obsolete {
		if !opts.RemoveInstances.Auto && !opts.RemoveInstances.Contains(m.Endpoint) {
			f.console.PrintWarning(fmt.Sprintf("The instance '%s' is no longer part of the group. Use the '%s' option to remove it.", m.Endpoint, OptRemoveInstances))
			continue
		}
		f.console.PrintInfo(fmt.Sprintf("Removing instance '%s' from the cluster metadata...", m.Endpoint))
		cldata.RemoveMember(m.Endpoint)
		res.Removed = append(res.Removed, m.Endpoint)
	}

	if opts.UpgradeCommProtocol {
		proto, err := f.upgradeCommProtocol(ctx, primary, members)
		if err != nil {
			return nil, err
		}
		if proto != "" {
			cldata.Spec.CommunicationProtocol = cluster.StringPtr(proto)
			res.CommunicationProtocol = proto
		}
	}
	if opts.UpdateViewChangeUUID {
		vcu := uuid.NewString()
		for _, gm := range members {
			if gm.State != mysql.StateOnline {
				continue
			}
			inst, err := sp.ConnectUnchecked(ctx, memberEndpoint(gm))
			if err != nil {
				return nil, err
			}
			if err := inst.SetPersist(ctx, viewChangeUUIDVar, vcu); err != nil {
				return nil, fmt.Errorf("failed to set %s on %s: %v", viewChangeUUIDVar, inst.Endpoint(), err)
			}
		}
		cldata.Spec.ViewChangeUUID = cluster.StringPtr(vcu)
		res.ViewChangeUUID = vcu
		f.console.PrintWarning(fmt.Sprintf("The '%s' was updated on every ONLINE member. The cluster must be completely restarted for the change to take effect.", viewChangeUUIDVar))
	}

	if err := f.cs.PutClusterData(ctx, cldata); err != nil {
		return nil, fmt.Errorf("failed to save clusterdata in store: %v", err)
	}
	return res, nil
}

func findByEndpoint(members []mysql.GroupMember, endpoint string) (mysql.GroupMember, bool) {
	for _, gm := range members {
		if sameEndpoint(memberEndpoint(gm), endpoint) {
			return gm, true
		}
	}
	return mysql.GroupMember{}, false
}

// checkRescanList fails when an explicitly listed instance is not among the
// candidates.
func checkRescanList(optionName string, listed, candidates []string, why string) error {
	for _, ep := range listed {
		found := false
		for _, c := range candidates {
			if sameEndpoint(ep, c) {
				found = true
				break
			}
		}
		if !found {
			return option.Errorf("Invalid value for '%s' option: instance '%s' %s.", optionName, ep, why)
		}
	}
	return nil
}

// upgradeCommProtocol raises the group communication protocol to the lowest
// version among the ONLINE members. Returns the new protocol, or empty if
// nothing changed.
func (f *Fleet) upgradeCommProtocol(ctx context.Context, primary *pool.Instance, members []mysql.GroupMember) (string, error) {
	var lowest *semver.Version
	for _, gm := range members {
		if gm.State != mysql.StateOnline || gm.Version == "" {
			continue
		}
		v, err := semver.NewVersion(gm.Version)
		if err != nil {
			return "", fmt.Errorf("cannot parse version '%s' of %s: %v", gm.Version, memberEndpoint(gm), err)
		}
		if lowest == nil || v.LessThan(*lowest) {
			lowest = v
		}
	}
	if lowest == nil {
		return "", nil
	}
	current, err := primary.CommunicationProtocol(ctx)
	if err != nil {
		return "", err
	}
	cv, err := semver.NewVersion(current)
	if err != nil {
		return "", fmt.Errorf("cannot parse communication protocol '%s': %v", current, err)
	}
	if !cv.LessThan(*lowest) {
		f.console.PrintInfo(fmt.Sprintf("The communication protocol is already %s.", current))
		return "", nil
	}
	target := fmt.Sprintf("%d.%d.%d", lowest.Major, lowest.Minor, lowest.Patch)
	f.console.PrintInfo(fmt.Sprintf("Upgrading the communication protocol from %s to %s...", current, target))
	if err := primary.SetCommunicationProtocol(ctx, target); err != nil {
		return "", fmt.Errorf("failed to upgrade the communication protocol: %v", err)
	}
	return target, nil
}
