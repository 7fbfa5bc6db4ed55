// Package partition implements the partition-value algebra: a map of
// string-valued partition keys to values, with projection, equality,
// containment, and combination (Merge).
package partition

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Values is an immutable mapping of partition-column name to value.
// Methods never mutate the receiver; they return new Values.
type Values struct {
	elements map[string]string
}

// New constructs Values from a map, copying it so the caller's map can be
// reused or mutated afterwards without affecting the result.
func New(elements map[string]string) Values {
	if len(elements) == 0 {
		return Values{}
	}
	copied := make(map[string]string, len(elements))
	for k, v := range elements {
		copied[k] = v
	}
	return Values{elements: copied}
}

// Keys returns the sorted partition-column names present.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v.elements))
	for k := range v.elements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value for key and whether it was present.
func (v Values) Get(key string) (string, bool) {
	val, ok := v.elements[key]
	return val, ok
}

// IsEmpty reports whether no partition columns are set.
func (v Values) IsEmpty() bool { return len(v.elements) == 0 }

// Len returns the number of partition columns set.
func (v Values) Len() int { return len(v.elements) }

// AsMap returns a defensive copy of the underlying map.
func (v Values) AsMap() map[string]string {
	out := make(map[string]string, len(v.elements))
	for k, val := range v.elements {
		out[k] = val
	}
	return out
}

// Project drops keys not present in columns, returning a new Values.
// Extra keys are silently dropped; missing required keys are the
// caller's concern (a configuration error), not something Project itself
// detects.
func (v Values) Project(columns []string) Values {
	if len(columns) == 0 {
		return Values{}
	}
	allowed := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		allowed[c] = struct{}{}
	}
	out := make(map[string]string, len(v.elements))
	for k, val := range v.elements {
		if _, ok := allowed[k]; ok {
			out[k] = val
		}
	}
	if len(out) == 0 {
		return Values{}
	}
	return Values{elements: out}
}

// Equal reports whether v and other contain exactly the same key/value pairs.
func (v Values) Equal(other Values) bool {
	if len(v.elements) != len(other.elements) {
		return false
	}
	for k, val := range v.elements {
		if otherVal, ok := other.elements[k]; !ok || otherVal != val {
			return false
		}
	}
	return true
}

// IsSubsetOf reports whether every key/value pair in v also appears in other.
func (v Values) IsSubsetOf(other Values) bool {
	for k, val := range v.elements {
		if otherVal, ok := other.elements[k]; !ok || otherVal != val {
			return false
		}
	}
	return true
}

// Merge returns a new Values containing v's pairs overlaid with other's
// (other wins on key collisions).
func (v Values) Merge(other Values) Values {
	out := make(map[string]string, len(v.elements)+len(other.elements))
	for k, val := range v.elements {
		out[k] = val
	}
	for k, val := range other.elements {
		out[k] = val
	}
	return Values{elements: out}
}

// String renders Values in "k1=v1,k2=v2" form with keys sorted, useful for
// logging and for identifying a partition by its rendered form (e.g.
// "dt=20180101").
func (v Values) String() string {
	keys := v.Keys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+v.elements[k])
	}
	return strings.Join(parts, ",")
}

// Diff computes the set of values present in left but absent from any
// element of right, comparing by rendered key/value identity. This backs
// PartitionDiffMode's "listPartitions(input) \ listPartitions(output)".
func Diff(left, right []Values) []Values {
	seen := make(map[string]struct{}, len(right))
	for _, r := range right {
		seen[r.String()] = struct{}{}
	}
	var out []Values
	for _, l := range left {
		if _, ok := seen[l.String()]; !ok {
			out = append(out, l)
		}
	}
	return out
}

// MarshalYAML renders Values as a plain map so it round-trips through the
// run-state store's YAML records without exposing the unexported field.
func (v Values) MarshalYAML() (interface{}, error) {
	return v.AsMap(), nil
}

// UnmarshalYAML restores Values from the plain map produced by MarshalYAML.
func (v *Values) UnmarshalYAML(value *yaml.Node) error {
	var m map[string]string
	if err := value.Decode(&m); err != nil {
		return err
	}
	*v = New(m)
	return nil
}

// RestrictColumns projects every element of a partition-value list onto
// the first n columns (sorted) of the column schema, used by
// PartitionDiffMode's partitionColNb option.
func RestrictColumns(values []Values, columns []string, n int) []Values {
	if n <= 0 || n >= len(columns) {
		return values
	}
	cols := append([]string(nil), columns...)
	sort.Strings(cols)
	restricted := cols[:n]
	out := make([]Values, len(values))
	for i, v := range values {
		out[i] = v.Project(restricted)
	}
	return out
}
