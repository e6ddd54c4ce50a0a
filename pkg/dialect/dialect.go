// Package dialect parses configuration files into ordered entries and renders
// them back. Every dialect is a pair of a file Kind (flat or sectioned) and a
// MatchMode deciding how a line's key and value are read and compared.
package dialect

import (
	"fmt"
	"strings"
)

// Kind is the file layout.
type Kind int

const (
	Conf Kind = iota
	TagConf
)

func (k Kind) String() string {
	switch k {
	case Conf:
		return "conf"
	case TagConf:
		return "tagconf"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps profile strings onto Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conf", "":
		return Conf, nil
	case "tagconf":
		return TagConf, nil
	}
	return Conf, fmt.Errorf("unknown dialect %q", s)
}

// MatchMode is the line syntax inside a file or section.
type MatchMode int

const (
	OpenEq MatchMode = iota
	ClosedEq
	Space
)

func (m MatchMode) String() string {
	switch m {
	case OpenEq:
		return "openeq"
	case ClosedEq:
		return "closedeq"
	case Space:
		return "space"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMatchMode maps profile strings onto MatchMode.
func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openeq", "":
		return OpenEq, nil
	case "closedeq":
		return ClosedEq, nil
	case "space":
		return Space, nil
	}
	return OpenEq, fmt.Errorf("unknown match mode %q", s)
}

// Dialect is the strategy the editor uses to read and write one file.
type Dialect interface {
	Kind() Kind
	Mode() MatchMode
	// Parse never fails; lines it cannot read become Opaque entries.
	Parse(text string) []Entry
	// Lookup reports whether e carries key and returns the value text after it.
	Lookup(e Entry, key string) (string, bool)
	// Satisfies reports whether a value read by Lookup matches want.
	Satisfies(have, want string) bool
	// Format renders a new line (without terminator) for key and value.
	Format(key, value string) string
}

// New returns the dialect for kind and mode. Unknown enum values are a
// programming error.
func New(kind Kind, mode MatchMode) Dialect {
	var m matcher
	switch mode {
	case OpenEq:
		m = openEq{}
	case ClosedEq:
		m = closedEq{}
	case Space:
		m = space{}
	default:
		panic(fmt.Sprintf("dialect: unknown match mode %d", int(mode)))
	}
	switch kind {
	case Conf, TagConf:
	default:
		panic(fmt.Sprintf("dialect: unknown kind %d", int(kind)))
	}
	return &lineDialect{kind: kind, mode: mode, m: m}
}

type lineDialect struct {
	kind Kind
	mode MatchMode
	m    matcher
}

func (d *lineDialect) Kind() Kind      { return d.kind }
func (d *lineDialect) Mode() MatchMode { return d.mode }

func (d *lineDialect) Parse(text string) []Entry {
	var entries []Entry
	section := ""
	for i, ln := range splitLines(text) {
		e := Entry{Raw: ln.body, EOL: ln.eol, Line: i}
		trimmed := strings.TrimSpace(ln.body)
		switch {
		case trimmed == "":
			e.Kind = Blank
		case trimmed[0] == '#' || trimmed[0] == ';':
			e.Kind = Comment
		case d.kind == TagConf && isHeader(trimmed):
			e.Kind = Header
			section = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
		default:
			if k, v, ok := d.m.split(ln.body); ok {
				e.Kind = Pair
				e.Key = k
				e.Value = v
			} else {
				e.Kind = Opaque
			}
		}
		e.Section = section
		entries = append(entries, e)
	}
	return entries
}

func (d *lineDialect) Lookup(e Entry, key string) (string, bool) {
	if e.Kind != Pair {
		return "", false
	}
	return d.m.lookup(e.Raw, key)
}

func (d *lineDialect) Satisfies(have, want string) bool {
	return d.m.satisfies(have, want)
}

func (d *lineDialect) Format(key, value string) string {
	return d.m.format(key, value)
}

func isHeader(trimmed string) bool {
	return len(trimmed) >= 2 && trimmed[0] == '[' && trimmed[len(trimmed)-1] == ']'
}

// HeaderLine renders a section header.
func HeaderLine(name string) string {
	return "[" + name + "]"
}
