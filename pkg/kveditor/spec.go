package kveditor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/user/hostguard/pkg/faults"
)

// Intent says whether the data must be present in the file or absent from it.
type Intent int

const (
	Present Intent = iota
	NotPresent
)

func (i Intent) String() string {
	if i == NotPresent {
		return "notpresent"
	}
	return "present"
}

// ParseIntent maps profile strings onto Intent.
func ParseIntent(s string) (Intent, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "present", "":
		return Present, nil
	case "notpresent", "absent":
		return NotPresent, nil
	}
	return Present, fmt.Errorf("unknown intent %q", s)
}

type valueKind int

const (
	oneOf valueKind = iota
	each
	flag
	anyValue
)

// Value is what a key should carry.
type Value struct {
	kind  valueKind
	items []string
}

// Is accepts any of the pipe separated alternatives; the first one is written
// when a fix has to insert the line.
func Is(v string) Value {
	var items []string
	for _, alt := range strings.Split(v, "|") {
		items = append(items, strings.TrimSpace(alt))
	}
	return Value{kind: oneOf, items: items}
}

// Each is a repeatable key: every value must appear on its own line.
func Each(vs ...string) Value {
	items := make([]string, len(vs))
	for i, v := range vs {
		items[i] = strings.TrimSpace(v)
	}
	return Value{kind: each, items: items}
}

// Flag is a key that stands alone on its line.
func Flag() Value { return Value{kind: flag} }

// Any matches every value of the key. It is only meaningful for NotPresent.
func Any() Value { return Value{kind: anyValue} }

// Canonical is the value written when a fix inserts or corrects the key.
func (v Value) Canonical() string {
	if v.kind == oneOf && len(v.items) > 0 {
		return v.items[0]
	}
	return ""
}

// Items returns the alternatives or repeated values.
func (v Value) Items() []string {
	return append([]string(nil), v.items...)
}

// Repeated reports whether v was built with Each.
func (v Value) Repeated() bool { return v.kind == each }

func (v Value) String() string {
	switch v.kind {
	case each:
		return "[" + strings.Join(v.items, ", ") + "]"
	case flag:
		return "(flag)"
	case anyValue:
		return "*"
	}
	return strings.Join(v.items, "|")
}

// Pair is one desired key.
type Pair struct {
	Key   string
	Value Value
}

// Section groups the pairs of one tagged block. The flat spec uses the
// unnamed section.
type Section struct {
	Name  string
	Pairs []Pair
}

// DesiredSpec is implemented by FlatSpec and SectionedSpec only.
type DesiredSpec interface {
	sections() []Section
	Len() int
}

// FlatSpec is the desired data for an unsectioned file.
type FlatSpec []Pair

func (f FlatSpec) sections() []Section { return []Section{{Pairs: f}} }
func (f FlatSpec) Len() int            { return len(f) }

// Flat builds a FlatSpec from a map with keys in sorted order.
func Flat(m map[string]Value) FlatSpec {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	spec := make(FlatSpec, 0, len(keys))
	for _, k := range keys {
		spec = append(spec, Pair{Key: k, Value: m[k]})
	}
	return spec
}

// SectionedSpec is the desired data for a tagged file.
type SectionedSpec []Section

func (s SectionedSpec) sections() []Section { return s }

func (s SectionedSpec) Len() int {
	n := 0
	for _, sec := range s {
		n += len(sec.Pairs)
	}
	return n
}

func validate(spec DesiredSpec, intent Intent) error {
	if spec == nil {
		return faults.New(faults.InvalidSpec, "spec", "", fmt.Errorf("no desired data"))
	}
	for _, sec := range spec.sections() {
		seen := make(map[string]bool)
		for _, p := range sec.Pairs {
			key := strings.TrimSpace(p.Key)
			if key == "" {
				return faults.New(faults.InvalidSpec, "spec", "", fmt.Errorf("empty key in section %q", sec.Name))
			}
			if seen[key] {
				return faults.New(faults.InvalidSpec, "spec", "", fmt.Errorf("duplicate key %q in section %q", key, sec.Name))
			}
			seen[key] = true
			if intent == Present && p.Value.kind == anyValue {
				return faults.New(faults.InvalidSpec, "spec", "", fmt.Errorf("key %q: wildcard value cannot be made present", key))
			}
			if p.Value.kind == oneOf && len(p.Value.items) == 0 {
				return faults.New(faults.InvalidSpec, "spec", "", fmt.Errorf("key %q: no value", key))
			}
		}
	}
	return nil
}
