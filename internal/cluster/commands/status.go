// Copyright (c) 2026, The fleetman Authors

package commands

import (
	"context"
	"fmt"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/executor"
	"fleetman.io/fleetman/internal/mysql"
	"fleetman.io/fleetman/internal/pool"
	"fleetman.io/fleetman/internal/topology"
)

const (
	ModeReadWrite = "R/W"
	ModeReadOnly  = "R/O"
	ModeNA        = "n/a"

	statusMissing = "(MISSING)"
)

// Overall availability of a cluster or replica set.
const (
	StatusOK               = "OK"
	StatusOKPartial        = "OK_PARTIAL"
	StatusOKNoTolerance    = "OK_NO_TOLERANCE"
	StatusNoQuorum         = "NO_QUORUM"
	StatusAvailable        = "AVAILABLE"
	StatusAvailablePartial = "AVAILABLE_PARTIAL"
)

type MemberStatus struct {
	Address string             `json:"address"`
	Role    cluster.MemberRole `json:"role"`
	Mode    string             `json:"mode"`
	Status  string             `json:"status"`
	Label   string             `json:"label,omitempty"`
	// read replicas only
	Sources []string `json:"replicationSources,omitempty"`

	// extended >= 1
	Version    string `json:"version,omitempty"`
	ServerUUID string `json:"serverUuid,omitempty"`
	// extended >= 2
	Channel *mysql.ReplicaStatus `json:"replicationChannel,omitempty"`
	// extended >= 3, the group as this member sees it
	GroupView []mysql.GroupMember `json:"groupView,omitempty"`

	Errors []string `json:"instanceErrors,omitempty"`
}

type ClusterStatus struct {
	Name       string               `json:"name"`
	Type       cluster.TopologyType `json:"type"`
	Primary    string               `json:"primary"`
	Status     string               `json:"status"`
	StatusText string               `json:"statusText"`
	Topology   []MemberStatus       `json:"topology"`

	GroupName             string `json:"groupName,omitempty"`
	CommunicationProtocol string `json:"communicationProtocol,omitempty"`
	ViewChangeUUID        string `json:"viewChangeUuid,omitempty"`
}

// Status reports the health of every member as seen from the primary.
func (f *Fleet) Status(ctx context.Context, opts StatusOptions) (*ClusterStatus, error) {
	return run(ctx, f, "status", func(ctx context.Context, sp *pool.Scoped) (executor.Result[*ClusterStatus], error) {
		res, err := f.status(ctx, sp, opts)
		return executor.Check(res, err)
	})
}

func (f *Fleet) status(ctx context.Context, sp *pool.Scoped, opts StatusOptions) (*ClusterStatus, error) {
	primary, cldata, err := f.checkPrimary(ctx, sp)
	if err != nil {
		return nil, err
	}
	cs := &ClusterStatus{
		Name:    cldata.Name,
		Type:    cldata.Type,
		Primary: cldata.Primary,
	}

	var view []mysql.GroupMember
	if cldata.Type == cluster.TypeCluster {
		if view, err = primary.GroupMembers(ctx); err != nil {
			return nil, err
		}
		if opts.Extended >= 1 {
			cs.GroupName = cluster.StringValue(cldata.Spec.GroupName)
			cs.ViewChangeUUID = cluster.StringValue(cldata.Spec.ViewChangeUUID)
			if proto, err := primary.CommunicationProtocol(ctx); err == nil {
				cs.CommunicationProtocol = proto
			}
		}
	}

	online, total := 0, 0
	for _, m := range cldata.SortedMembers() {
		ms := f.memberStatus(ctx, sp, cldata, m, view, opts.Extended)
		if m.Role != cluster.RoleReadReplica {
			total++
			if ms.Status == string(mysql.StateOnline) {
				online++
			}
		}
		cs.Topology = append(cs.Topology, ms)
	}
	cs.Status, cs.StatusText = overallStatus(cldata.Type, online, total)
	return cs, nil
}

func (f *Fleet) memberStatus(ctx context.Context, sp *pool.Scoped, cldata *cluster.ClusterData, m *cluster.Member,
	view []mysql.GroupMember, extended int) MemberStatus {
	ms := MemberStatus{Address: m.Endpoint, Role: m.Role, Label: m.Label, Mode: ModeNA, Status: statusMissing}
	if m.Sources != nil {
		ms.Sources = sourceNames(*m.Sources)
	}
	if extended >= 1 {
		ms.ServerUUID = m.ServerUUID
	}

	if cldata.Type == cluster.TypeCluster && m.Role != cluster.RoleReadReplica {
		if gm, ok := mysql.FindMember(view, m.ServerUUID); ok {
			ms.Status = string(gm.State)
			if gm.State == mysql.StateOnline {
				ms.Mode = ModeReadOnly
				if gm.Role == mysql.RolePrimary {
					ms.Mode = ModeReadWrite
				}
			}
			if extended >= 1 {
				ms.Version = gm.Version
			}
		}
		if extended < 3 {
			return ms
		}
	}

	inst, err := sp.Connect(ctx, m.Endpoint)
	if err != nil {
		ms.Status = statusMissing
		ms.Errors = append(ms.Errors, err.Error())
		return ms
	}
	if extended >= 1 && ms.Version == "" {
		if v, err := inst.Version(ctx); err == nil {
			ms.Version = v
		}
	}
	if extended >= 3 {
		if gv, err := inst.GroupMembers(ctx); err == nil {
			ms.GroupView = gv
		}
	}
	if cldata.Type == cluster.TypeCluster && m.Role != cluster.RoleReadReplica {
		return ms
	}

	// replica set members and read replicas are judged by their channel
	ro, err := inst.SuperReadOnly(ctx)
	if err != nil {
		ms.Errors = append(ms.Errors, err.Error())
		return ms
	}
	if sameEndpoint(m.Endpoint, cldata.Primary) {
		ms.Status = string(mysql.StateOnline)
		ms.Mode = ModeReadWrite
		if ro {
			ms.Mode = ModeReadOnly
			ms.Errors = append(ms.Errors, "the primary is read only")
		}
		return ms
	}
	channel := ""
	if m.Role == cluster.RoleReadReplica {
		channel = readReplicaChannel
	}
	rs, err := inst.ReplicaStatus(ctx, channel)
	if err != nil {
		ms.Errors = append(ms.Errors, err.Error())
		return ms
	}
	if extended >= 2 {
		ms.Channel = rs
	}
	switch {
	case rs == nil:
		ms.Status = string(mysql.StateOffline)
		ms.Errors = append(ms.Errors, "replication is not configured")
	case rs.LastError != "":
		ms.Status = string(mysql.StateError)
		ms.Errors = append(ms.Errors, rs.LastError)
	case rs.Running():
		ms.Status = string(mysql.StateOnline)
	default:
		ms.Status = string(mysql.StateOffline)
		ms.Errors = append(ms.Errors, "replication is stopped")
	}
	if ro {
		ms.Mode = ModeReadOnly
	} else {
		ms.Mode = ModeReadWrite
		ms.Errors = append(ms.Errors, "the instance is not read only")
	}
	return ms
}

func overallStatus(typ cluster.TopologyType, online, total int) (string, string) {
	if typ == cluster.TypeReplicaSet {
		if online == total {
			return StatusAvailable, "All instances available."
		}
		return StatusAvailablePartial, fmt.Sprintf("The primary is available, %d of %d instances are not.", total-online, total)
	}
	if online*2 <= total {
		return StatusNoQuorum, "Cluster has no quorum as visible from the primary and cannot process write transactions."
	}
	tolerance := (online - 1) / 2
	var st, text string
	switch {
	case tolerance == 0:
		st, text = StatusOKNoTolerance, "Cluster is ONLINE and cannot tolerate any failures."
	case online < total:
		st = StatusOKPartial
		text = fmt.Sprintf("Cluster is ONLINE and can tolerate up to %d failure%s.", tolerance, plural(tolerance))
	default:
		st = StatusOK
		text = fmt.Sprintf("Cluster is ONLINE and can tolerate up to %d failure%s.", tolerance, plural(tolerance))
	}
	if online < total {
		text += fmt.Sprintf(" %d member%s not active.", total-online, pluralVerb(total-online))
	}
	return st, text
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func pluralVerb(n int) string {
	if n == 1 {
		return " is"
	}
	return "s are"
}

func sourceNames(ss topology.SourceSet) []string {
	switch ss.Type {
	case topology.SourceTypePrimary:
		return []string{string(topology.SourceTypePrimary)}
	case topology.SourceTypeSecondary:
		return []string{string(topology.SourceTypeSecondary)}
	}
	names := make([]string, 0, len(ss.Sources))
	for _, s := range ss.Sources {
		names = append(names, s.String())
	}
	return names
}

// Description is the metadata view of a cluster, no server is contacted.
type Description struct {
	Name     string               `json:"name"`
	Type     cluster.TopologyType `json:"type"`
	Primary  string               `json:"primary"`
	Topology []MemberDescription  `json:"topology"`
}

type MemberDescription struct {
	Address string             `json:"address"`
	Role    cluster.MemberRole `json:"role"`
	Label   string             `json:"label,omitempty"`
	Sources []string           `json:"replicationSources,omitempty"`
}

func (f *Fleet) Describe(ctx context.Context) (*Description, error) {
	cldata, err := f.cs.MustGetClusterData(ctx)
	if err != nil {
		return nil, err
	}
	d := &Description{Name: cldata.Name, Type: cldata.Type, Primary: cldata.Primary}
	for _, m := range cldata.SortedMembers() {
		md := MemberDescription{Address: m.Endpoint, Role: m.Role, Label: m.Label}
		if m.Sources != nil {
			md.Sources = sourceNames(*m.Sources)
		}
		d.Topology = append(d.Topology, md)
	}
	return d, nil
}
