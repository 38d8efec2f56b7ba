// Copyright (c) 2026, The fleetman Authors

package cluster

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"fleetman.io/fleetman/internal/option"
	"fleetman.io/fleetman/internal/topology"
)

const (
	CurrentFormatVersion = 1
)

type TopologyType string

const (
	TypeCluster    TopologyType = "cluster"
	TypeReplicaSet TopologyType = "replicaset"
)

type MemberRole string

const (
	RolePrimary     MemberRole = "PRIMARY"
	RoleSecondary   MemberRole = "SECONDARY"
	RoleReadReplica MemberRole = "READ_REPLICA"
)

// Global cluster data, the single blob stored per cluster
type ClusterData struct {
	FormatVersion uint64       `json:"formatVersion"`
	Name          string       `json:"name"`
	Type          TopologyType `json:"type"`
	Spec          GroupSpec    `json:"spec"`
	// keyed by host:port
	Members map[string]*Member `json:"members"`
	// endpoint of the primary as last seen by us
	Primary string `json:"primary,omitempty"`
}

// GroupSpec holds the group wide settings. Everything is a pointer, so that
// a patch can leave a value unset.
type GroupSpec struct {
	// Same admin user is assumed on all members
	AdminUser     *string `json:"adminUser,omitempty"`
	AdminPassword *string `json:"adminPassword,omitempty"`
	ReplUser      *string `json:"replUser,omitempty"`
	ReplPassword  *string `json:"replPassword,omitempty"`

	GroupName             *string   `json:"groupName,omitempty"`
	ViewChangeUUID        *string   `json:"viewChangeUuid,omitempty"`
	CommunicationProtocol *string   `json:"communicationProtocol,omitempty"`
	ExitStateAction       *string   `json:"exitStateAction,omitempty"`
	MemberWeight          *int      `json:"memberWeight,omitempty"`
	AutoRejoinTries       *int      `json:"autoRejoinTries,omitempty"`
	ConsistencyLevel      *string   `json:"consistency,omitempty"`
	ExpelTimeout          *int      `json:"expelTimeout,omitempty"`
	RecoveryTimeout       *Duration `json:"recoveryTimeout,omitempty"`

	Tags map[string]string `json:"tags,omitempty"`
}

type Member struct {
	Endpoint    string     `json:"endpoint"`
	ServerUUID  string     `json:"serverUuid,omitempty"`
	Label       string     `json:"label,omitempty"`
	Role        MemberRole `json:"role"`
	CertSubject string     `json:"certSubject,omitempty"`
	// only read replicas have sources
	Sources *topology.SourceSet     `json:"sources,omitempty"`
	Options map[string]option.Value `json:"options,omitempty"`
}

func NewClusterData(name string, typ TopologyType) *ClusterData {
	return &ClusterData{
		FormatVersion: CurrentFormatVersion,
		Name:          name,
		Type:          typ,
		Members:       make(map[string]*Member),
	}
}

// FindMember looks a member up by endpoint, host compared case insensitively.
func (cd *ClusterData) FindMember(endpoint string) (*Member, bool) {
	if m, ok := cd.Members[endpoint]; ok {
		return m, true
	}
	for ep, m := range cd.Members {
		if strings.EqualFold(ep, endpoint) {
			return m, true
		}
	}
	return nil, false
}

func (cd *ClusterData) AddMember(m *Member) {
	if cd.Members == nil {
		cd.Members = make(map[string]*Member)
	}
	cd.Members[m.Endpoint] = m
}

func (cd *ClusterData) RemoveMember(endpoint string) {
	if m, ok := cd.FindMember(endpoint); ok {
		delete(cd.Members, m.Endpoint)
	}
}

// SortedMembers returns members ordered by endpoint.
func (cd *ClusterData) SortedMembers() []*Member {
	ms := make([]*Member, 0, len(cd.Members))
	for _, m := range cd.Members {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].Endpoint < ms[j].Endpoint })
	return ms
}

// GroupMembers are members taking part in the group itself, read replicas
// excluded.
func (cd *ClusterData) GroupMembers() []*Member {
	var ms []*Member
	for _, m := range cd.SortedMembers() {
		if m.Role != RoleReadReplica {
			ms = append(ms, m)
		}
	}
	return ms
}

func (cd *ClusterData) ReadReplicas() []*Member {
	var ms []*Member
	for _, m := range cd.SortedMembers() {
		if m.Role == RoleReadReplica {
			ms = append(ms, m)
		}
	}
	return ms
}

// SetPrimary records a new primary and fixes up the roles of the others.
func (cd *ClusterData) SetPrimary(endpoint string) {
	cd.Primary = endpoint
	for ep, m := range cd.Members {
		if m.Role == RoleReadReplica {
			continue
		}
		if strings.EqualFold(ep, endpoint) {
			m.Role = RolePrimary
			cd.Primary = ep
		} else {
			m.Role = RoleSecondary
		}
	}
}

func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func IntValue(i *int, def int) int {
	if i == nil {
		return def
	}
	return *i
}

func StringPtr(s string) *string {
	return &s
}

func IntPtr(i int) *int {
	return &i
}

// Duration is needed to be able to marshal/unmarshal json strings with time
// unit (eg. 3s, 100ms) instead of ugly times in nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	du, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = du
	return nil
}
