// Package option holds the dynamic values operators pass to commands. A Value
// is inspected once at the validation boundary; everything downstream works
// on typed results.
package option

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
)

type Kind int

const (
	Null Kind = iota
	String
	Integer
	Bool
	List
	Map
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "Null"
	case String:
		return "String"
	case Integer:
		return "Integer"
	case Bool:
		return "Bool"
	case List:
		return "Array"
	case Map:
		return "Map"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a closed tagged union; the zero Value is Null.
type Value struct {
	kind Kind
	s    string
	i    int64
	b    bool
	list []Value
	m    map[string]Value
}

func NewString(s string) Value {
	return Value{kind: String, s: s}
}

func NewInt(i int64) Value {
	return Value{kind: Integer, i: i}
}

func NewBool(b bool) Value {
	return Value{kind: Bool, b: b}
}

func NewList(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: List, list: vs}
}

// Strings is a shortcut for a list of strings.
func Strings(ss ...string) Value {
	vs := make([]Value, 0, len(ss))
	for _, s := range ss {
		vs = append(vs, NewString(s))
	}
	return NewList(vs...)
}

func NewMap(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: Map, m: m}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == Null
}

func (v Value) AsString() (string, bool) {
	return v.s, v.kind == String
}

func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == Integer
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == Bool
}

func (v Value) AsList() ([]Value, bool) {
	return v.list, v.kind == List
}

func (v Value) AsMap() (map[string]Value, bool) {
	return v.m, v.kind == Map
}

// Descr renders the value for error messages: strings as they are, the rest
// as compact JSON.
func (v Value) Descr() string {
	if v.kind == String {
		return v.s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "<" + v.kind.String() + ">"
	}
	return string(b)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case String:
		return json.Marshal(v.s)
	case Integer:
		return json.Marshal(v.i)
	case Bool:
		return json.Marshal(v.b)
	case List:
		return json.Marshal(v.list)
	case Map:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kj, _ := json.Marshal(k)
			buf.Write(kj)
			buf.WriteByte(':')
			vj, err := v.m[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vj)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromJSON decodes a JSON document into a Value. Non-integer numbers are
// rejected, no option takes them.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Value{}, errors.Wrap(err, "cannot decode option value")
	}
	return FromAny(raw)
}

// FromAny converts decoded JSON-ish data into a Value.
func FromAny(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return x, nil
	case string:
		return NewString(x), nil
	case bool:
		return NewBool(x), nil
	case int:
		return NewInt(int64(x)), nil
	case int64:
		return NewInt(x), nil
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return Value{}, Errorf("unsupported number %s: only integers are accepted", x.String())
		}
		return NewInt(i), nil
	case float64:
		if x != float64(int64(x)) {
			return Value{}, Errorf("unsupported number %v: only integers are accepted", x)
		}
		return NewInt(int64(x)), nil
	case []string:
		return Strings(x...), nil
	case []interface{}:
		vs := make([]Value, 0, len(x))
		for _, e := range x {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			vs = append(vs, ev)
		}
		return NewList(vs...), nil
	case map[string]interface{}:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = ev
		}
		return NewMap(m), nil
	}
	return Value{}, Errorf("unsupported option value of type %T", raw)
}

// FromFlag decodes a command line value. Values opening with '[' or '{' are
// read as YAML flow (and thus JSON) collections, anything else is a string.
func FromFlag(raw string) (Value, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		j, err := yaml.YAMLToJSON([]byte(trimmed))
		if err != nil {
			return Value{}, Errorf("cannot parse '%s': %v", raw, err)
		}
		return FromJSON(j)
	}
	return NewString(raw), nil
}
