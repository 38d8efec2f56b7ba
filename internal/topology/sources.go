package topology

import (
	"fmt"
	"strings"

	"fleetman.io/fleetman/internal/conn"
	"fleetman.io/fleetman/internal/option"
)

// ReadReplicaMaxWeight is the weight of the first source of a list; each
// following one gets one less.
const ReadReplicaMaxWeight = 100

const (
	ReplicationSourcesAutoPrimary   = "auto-primary"
	ReplicationSourcesAutoSecondary = "auto-secondary"
)

const ReplicationSourcesOption = "replicationSources"

type SourceType string

const (
	SourceTypeCustom    SourceType = "CUSTOM"
	SourceTypePrimary   SourceType = "PRIMARY"
	SourceTypeSecondary SourceType = "SECONDARY"
)

// ManagedSource is a candidate upstream of a read replica. Higher weight
// means higher priority.
type ManagedSource struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Weight int    `json:"weight"`
}

func (ms ManagedSource) Descriptor() conn.Descriptor {
	return conn.Descriptor{Host: ms.Host, Port: ms.Port}
}

func (ms ManagedSource) Endpoint() string {
	return ms.Descriptor().Endpoint()
}

func (ms ManagedSource) String() string {
	return fmt.Sprintf("%s (weight %d)", ms.Endpoint(), ms.Weight)
}

// SourceSet is either CUSTOM with at least one source, ordered by descending
// weight, or PRIMARY/SECONDARY with no sources at all: the replica then
// follows whichever members hold that role.
type SourceSet struct {
	Type    SourceType      `json:"type"`
	Sources []ManagedSource `json:"sources,omitempty"`
}

func PrimarySources() SourceSet {
	return SourceSet{Type: SourceTypePrimary}
}

func (ss SourceSet) Endpoints() []string {
	eps := make([]string, 0, len(ss.Sources))
	for _, s := range ss.Sources {
		eps = append(eps, s.Endpoint())
	}
	return eps
}

// Validate checks the invariants; used on sets loaded from the metadata.
func (ss SourceSet) Validate() error {
	switch ss.Type {
	case SourceTypeCustom:
		if len(ss.Sources) == 0 {
			return fmt.Errorf("custom source set without sources")
		}
		for i := 1; i < len(ss.Sources); i++ {
			if ss.Sources[i].Weight >= ss.Sources[i-1].Weight {
				return fmt.Errorf("sources are not ordered by descending weight")
			}
		}
	case SourceTypePrimary, SourceTypeSecondary:
		if len(ss.Sources) != 0 {
			return fmt.Errorf("%s source set must not list sources", ss.Type)
		}
	default:
		return fmt.Errorf("unknown source type '%s'", ss.Type)
	}
	return nil
}

// ValidateReplicationSources is the syntactic check of the option value done
// before prioritizing it.
func ValidateReplicationSources(v option.Value) error {
	switch v.Kind() {
	case option.String:
		s, _ := v.AsString()
		if strings.EqualFold(s, ReplicationSourcesAutoPrimary) || strings.EqualFold(s, ReplicationSourcesAutoSecondary) {
			return nil
		}
		return option.Errorf("Invalid value for '%s' option. Supported values: '%s', '%s' or a list of instances.",
			ReplicationSourcesOption, ReplicationSourcesAutoPrimary, ReplicationSourcesAutoSecondary)
	case option.List:
		list, _ := v.AsList()
		if len(list) == 0 {
			return option.Errorf("The list for '%s' option cannot be empty.", ReplicationSourcesOption)
		}
		for _, src := range list {
			s, ok := src.AsString()
			if !ok {
				return option.Errorf("Invalid value '%s' for '%s' option: instances must be given as strings.",
					src.Descr(), ReplicationSourcesOption)
			}
			if _, err := conn.ValidateEndpoint(s); err != nil {
				return option.Errorf("Invalid value '%s' for '%s' option: %v", s, ReplicationSourcesOption, err)
			}
		}
		return nil
	}
	return option.Errorf("The '%s' option must be a string or a list of strings.", ReplicationSourcesOption)
}

// Prioritize turns the option value into a source set. List entries get
// weights from ReadReplicaMaxWeight downwards in input order; a repeated
// server keeps its first, higher, weight.
func Prioritize(v option.Value) (SourceSet, error) {
	if err := ValidateReplicationSources(v); err != nil {
		return SourceSet{}, err
	}

	if s, ok := v.AsString(); ok {
		if strings.EqualFold(s, ReplicationSourcesAutoPrimary) {
			return SourceSet{Type: SourceTypePrimary}, nil
		}
		return SourceSet{Type: SourceTypeSecondary}, nil
	}

	list, _ := v.AsList()
	ss := SourceSet{Type: SourceTypeCustom, Sources: make([]ManagedSource, 0, len(list))}
	seen := make(map[string]bool, len(list))
	weight := ReadReplicaMaxWeight
	for _, src := range list {
		s, _ := src.AsString()
		d, _ := conn.ValidateEndpoint(s)
		if seen[d.Key()] {
			continue
		}
		if weight <= 0 {
			return SourceSet{}, option.Errorf("The '%s' option accepts at most %d instances.",
				ReplicationSourcesOption, ReadReplicaMaxWeight)
		}
		seen[d.Key()] = true
		ss.Sources = append(ss.Sources, ManagedSource{Host: d.Host, Port: d.Port, Weight: weight})
		weight--
	}
	return ss, nil
}
