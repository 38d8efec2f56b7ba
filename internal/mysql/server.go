// Copyright (c) 2026, The fleetman Authors

// Package mysql talks to the managed servers. Everything the control plane
// needs from a server goes through the Server interface, so that commands can
// be exercised against fakes.
package mysql

import (
	"context"
	"time"

	"fleetman.io/fleetman/internal/topology"
)

type MemberState string

const (
	StateOnline      MemberState = "ONLINE"
	StateRecovering  MemberState = "RECOVERING"
	StateOffline     MemberState = "OFFLINE"
	StateError       MemberState = "ERROR"
	StateUnreachable MemberState = "UNREACHABLE"
)

type MemberRole string

const (
	RolePrimary   MemberRole = "PRIMARY"
	RoleSecondary MemberRole = "SECONDARY"
)

// GroupMember is one row of the group membership as seen by a member.
type GroupMember struct {
	UUID    string      `json:"uuid"`
	Host    string      `json:"host"`
	Port    int         `json:"port"`
	State   MemberState `json:"state"`
	Role    MemberRole  `json:"role"`
	Version string      `json:"version,omitempty"`
}

// GroupConfig is what a server needs to start or join a replication group.
// Nil pointers leave the server's current setting alone.
type GroupConfig struct {
	GroupName        string
	LocalAddress     string
	Seeds            []string
	Bootstrap        bool
	ViewChangeUUID   string
	ExitStateAction  string
	MemberWeight     *int
	AutoRejoinTries  *int
	ConsistencyLevel string
	ExpelTimeout     *int
	ReplUser         string
	ReplPassword     string
}

// ManagedGroup makes a channel follow the members of a group holding a
// given role, instead of a fixed list of sources.
type ManagedGroup struct {
	GroupName       string
	Host            string
	Port            int
	PrimaryWeight   int
	SecondaryWeight int
}

// ChannelConfig describes an asynchronous replication channel. With
// AutoFailover the channel moves to the next source by weight when the
// current one goes away.
type ChannelConfig struct {
	Channel      string
	SourceHost   string
	SourcePort   int
	User         string
	Password     string
	AutoFailover bool
	Sources      []topology.ManagedSource
	ManagedGroup *ManagedGroup
}

type ReplicaStatus struct {
	Channel          string `json:"channel"`
	SourceHost       string `json:"sourceHost"`
	SourcePort       int    `json:"sourcePort"`
	IOThreadRunning  bool   `json:"ioThreadRunning"`
	SQLThreadRunning bool   `json:"sqlThreadRunning"`
	LastError        string `json:"lastError,omitempty"`
}

func (rs *ReplicaStatus) Running() bool {
	return rs.IOThreadRunning && rs.SQLThreadRunning
}

// Server is a session on one managed server.
type Server interface {
	Endpoint() string
	ServerUUID(ctx context.Context) (string, error)
	Version(ctx context.Context) (string, error)
	SuperReadOnly(ctx context.Context) (bool, error)
	SetSuperReadOnly(ctx context.Context, on bool) error
	// SetPersist sets a global variable and persists it across restarts.
	SetPersist(ctx context.Context, name string, value interface{}) error

	// GroupMembers is empty when the server is not part of a group.
	GroupMembers(ctx context.Context) ([]GroupMember, error)
	StartGroupReplication(ctx context.Context, cfg GroupConfig) error
	StopGroupReplication(ctx context.Context) error
	SetGroupPrimary(ctx context.Context, serverUUID string, runningTransactionsTimeout int) error
	CommunicationProtocol(ctx context.Context) (string, error)
	SetCommunicationProtocol(ctx context.Context, version string) error

	ConfigureReplicaChannel(ctx context.Context, cfg ChannelConfig) error
	StartReplica(ctx context.Context, channel string) error
	StopReplica(ctx context.Context, channel string) error
	ResetReplica(ctx context.Context, channel string) error
	// ReplicaStatus is nil when the channel is not configured.
	ReplicaStatus(ctx context.Context, channel string) (*ReplicaStatus, error)
	ExecutedGTIDSet(ctx context.Context) (string, error)
	WaitForGTIDSet(ctx context.Context, gtidSet string, timeout time.Duration) error

	Close() error
}

// PrimaryOf returns the ONLINE primary of a membership list.
func PrimaryOf(members []GroupMember) (GroupMember, bool) {
	for _, m := range members {
		if m.Role == RolePrimary && m.State == StateOnline {
			return m, true
		}
	}
	return GroupMember{}, false
}

// FindMember looks a member up by uuid.
func FindMember(members []GroupMember, uuid string) (GroupMember, bool) {
	for _, m := range members {
		if m.UUID == uuid {
			return m, true
		}
	}
	return GroupMember{}, false
}
