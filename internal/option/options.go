package option

import (
	"sort"
	"strings"
)

// Options are the named values given to one command, only those the
// operator actually set.
type Options map[string]Value

// Check fails on any name not in known.
func (o Options) Check(known ...string) error {
	var unknown []string
	for name := range o {
		found := false
		for _, k := range known {
			if k == name {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return Errorf("Invalid options: %s", strings.Join(unknown, ", "))
}

func (o Options) Value(name string) (Value, bool) {
	v, ok := o[name]
	return v, ok
}

func typeError(name string, want Kind, got Value) error {
	return Errorf("Option '%s' is expected to be of type %s, but is %s", name, want, got.Kind())
}

func (o Options) String(name string) (string, bool, error) {
	v, ok := o[name]
	if !ok {
		return "", false, nil
	}
	s, ok := v.AsString()
	if !ok {
		return "", true, typeError(name, String, v)
	}
	return s, true, nil
}

func (o Options) Int(name string) (int64, bool, error) {
	v, ok := o[name]
	if !ok {
		return 0, false, nil
	}
	if i, ok := v.AsInt(); ok {
		return i, true, nil
	}
	return 0, true, typeError(name, Integer, v)
}

// Bool accepts integers too, non zero meaning true.
func (o Options) Bool(name string) (bool, bool, error) {
	v, ok := o[name]
	if !ok {
		return false, false, nil
	}
	if b, ok := v.AsBool(); ok {
		return b, true, nil
	}
	if i, ok := v.AsInt(); ok {
		return i != 0, true, nil
	}
	return false, true, typeError(name, Bool, v)
}
