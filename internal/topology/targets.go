package topology

import (
	"strings"

	"fleetman.io/fleetman/internal/conn"
	"fleetman.io/fleetman/internal/option"
)

// AutoTargets is the string accepted in place of an instance list.
const AutoTargets = "auto"

// TargetSet is either Auto (discover members from the group itself) or an
// explicit, non-empty, deduplicated list of instances in input order. The
// zero TargetSet means the option was not given.
type TargetSet struct {
	Auto      bool
	Instances []conn.Descriptor
}

func (ts TargetSet) IsSet() bool {
	return ts.Auto || len(ts.Instances) > 0
}

// Contains tells whether the explicit list names the server at endpoint.
func (ts TargetSet) Contains(endpoint string) bool {
	d, err := conn.ValidateEndpoint(endpoint)
	if err != nil {
		return false
	}
	for _, i := range ts.Instances {
		if i.SameServer(d) {
			return true
		}
	}
	return false
}

// Endpoints lists the explicit instances as host:port strings.
func (ts TargetSet) Endpoints() []string {
	eps := make([]string, 0, len(ts.Instances))
	for _, i := range ts.Instances {
		eps = append(eps, i.Endpoint())
	}
	return eps
}

// Resolve validates the value of an option accepting "a list of instances,
// or the string auto". optionName is only used in messages.
func Resolve(optionName string, v option.Value) (TargetSet, error) {
	switch v.Kind() {
	case option.String:
		s, _ := v.AsString()
		if strings.EqualFold(s, AutoTargets) {
			return TargetSet{Auto: true}, nil
		}
		return TargetSet{}, option.Errorf("Option '%s' only accepts '%s' as a valid string value, otherwise a list of instances is expected.",
			optionName, AutoTargets)
	case option.List:
		list, _ := v.AsList()
		if len(list) == 0 {
			return TargetSet{}, option.Errorf("The list for '%s' option cannot be empty.", optionName)
		}
		ts := TargetSet{Instances: make([]conn.Descriptor, 0, len(list))}
		seen := make(map[string]bool, len(list))
		for _, instance := range list {
			d, err := conn.Validate(instance)
			if err != nil {
				return TargetSet{}, option.Errorf("Invalid value '%s' for '%s' option: %v",
					instance.Descr(), optionName, err)
			}
			if seen[d.Key()] {
				continue
			}
			seen[d.Key()] = true
			ts.Instances = append(ts.Instances, d)
		}
		return ts, nil
	}
	return TargetSet{}, option.Errorf("The '%s' option must be a string or a list of strings.", optionName)
}
