package kveditor

import (
	"fmt"
	"strings"

	"github.com/user/hostguard/pkg/dialect"
)

// Fixable is a desired key that is missing or carries the wrong value.
type Fixable struct {
	Section string
	Key     string
	Value   Value
}

// Result is the outcome of a report pass. Compliant holds exactly when both
// lists are empty and the file could be read.
type Result struct {
	Fixables    []Fixable
	Removeables []dialect.Entry
	Compliant   bool
	Detail      string
}

type match struct {
	idx   int
	value string
}

func lookupAll(d dialect.Dialect, entries []dialect.Entry, section, key string) []match {
	var out []match
	for i, e := range entries {
		if e.Section != section {
			continue
		}
		if v, ok := d.Lookup(e, key); ok {
			out = append(out, match{idx: i, value: v})
		}
	}
	return out
}

func satisfiesAny(d dialect.Dialect, have string, wants []string) bool {
	for _, w := range wants {
		if d.Satisfies(have, w) {
			return true
		}
	}
	return false
}

func wants(v Value) []string {
	if v.kind == flag {
		return []string{""}
	}
	return v.items
}

// reconcile diffs entries against spec.
func reconcile(d dialect.Dialect, entries []dialect.Entry, spec DesiredSpec, intent Intent) Result {
	var res Result
	for _, sec := range spec.sections() {
		for _, p := range sec.Pairs {
			matches := lookupAll(d, entries, sec.Name, p.Key)
			if intent == NotPresent {
				for _, m := range matches {
					if p.Value.kind == each && !satisfiesAny(d, m.value, p.Value.items) {
						continue
					}
					res.Removeables = append(res.Removeables, entries[m.idx])
				}
				continue
			}

			if p.Value.kind == each {
				var missing []string
				for _, item := range p.Value.items {
					found := false
					for _, m := range matches {
						if d.Satisfies(m.value, item) {
							found = true
							break
						}
					}
					if !found {
						missing = append(missing, item)
					}
				}
				if len(missing) > 0 {
					res.Fixables = append(res.Fixables, Fixable{Section: sec.Name, Key: p.Key, Value: Each(missing...)})
				}
				continue
			}

			// space keys such as blacklist repeat with different values, so
			// one satisfying line is enough; eq keys must agree on every line.
			ok := len(matches) > 0
			if d.Mode() == dialect.Space {
				ok = false
				for _, m := range matches {
					if satisfiesAny(d, m.value, wants(p.Value)) {
						ok = true
						break
					}
				}
			} else {
				for _, m := range matches {
					if !satisfiesAny(d, m.value, wants(p.Value)) {
						ok = false
						break
					}
				}
			}
			if !ok {
				res.Fixables = append(res.Fixables, Fixable{Section: sec.Name, Key: p.Key, Value: p.Value})
			}
		}
	}
	res.Compliant = len(res.Fixables) == 0 && len(res.Removeables) == 0
	res.Detail = describe(res)
	return res
}

func describe(res Result) string {
	if res.Compliant {
		return "all desired settings are in place"
	}
	var sb strings.Builder
	for _, f := range res.Fixables {
		where := ""
		if f.Section != "" {
			where = "[" + f.Section + "] "
		}
		fmt.Fprintf(&sb, "missing or wrong: %s%s = %s\n", where, f.Key, f.Value)
	}
	for _, e := range res.Removeables {
		fmt.Fprintf(&sb, "must be removed (line %d): %s\n", e.Line+1, strings.TrimSpace(e.Raw))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// apply renders entries with the result's edits applied. Wrong values are
// corrected in place on their first line and duplicates dropped; absent keys
// are appended at the end of their section, or of the file.
func apply(d dialect.Dialect, entries []dialect.Entry, res Result) string {
	n := len(entries)
	removed := make(map[int]bool)
	for _, e := range res.Removeables {
		removed[e.Line] = true
	}
	replaced := make(map[int]string)
	inserts := make(map[int][]string)
	var newSections []string
	newLines := make(map[string][]string)

	for _, f := range res.Fixables {
		var lines []string
		if f.Value.kind == each {
			for _, item := range f.Value.items {
				lines = append(lines, d.Format(f.Key, item))
			}
		} else {
			line := d.Format(f.Key, f.Value.Canonical())
			var live []match
			for _, m := range lookupAll(d, entries, f.Section, f.Key) {
				if !removed[m.idx] {
					live = append(live, m)
				}
			}
			if len(live) > 0 {
				first := live[0].idx
				replaced[first] = entries[first].Indent() + line
				for _, m := range live[1:] {
					removed[m.idx] = true
				}
				continue
			}
			lines = []string{line}
		}

		if d.Kind() == dialect.TagConf && f.Section != "" && headerIndex(entries, f.Section) < 0 {
			if _, ok := newLines[f.Section]; !ok {
				newSections = append(newSections, f.Section)
			}
			newLines[f.Section] = append(newLines[f.Section], lines...)
			continue
		}
		at, indent := sectionEnd(d, entries, f.Section)
		for _, l := range lines {
			inserts[at] = append(inserts[at], indent+l)
		}
	}

	var out []dialect.Entry
	push := func(e dialect.Entry) {
		if len(out) > 0 && out[len(out)-1].EOL == "" {
			out[len(out)-1].EOL = "\n"
		}
		out = append(out, e)
	}
	for k := 0; k <= n; k++ {
		for _, l := range inserts[k] {
			push(dialect.Entry{Raw: l, EOL: "\n"})
		}
		if k == n || removed[k] {
			continue
		}
		e := entries[k]
		if r, ok := replaced[k]; ok {
			e.Raw = r
		}
		push(e)
	}
	for _, name := range newSections {
		if len(out) > 0 && strings.TrimSpace(out[len(out)-1].Raw) != "" {
			push(dialect.Entry{Raw: "", EOL: "\n"})
		}
		push(dialect.Entry{Raw: dialect.HeaderLine(name), EOL: "\n"})
		for _, l := range newLines[name] {
			push(dialect.Entry{Raw: l, EOL: "\n"})
		}
	}
	return dialect.Render(out)
}

func headerIndex(entries []dialect.Entry, section string) int {
	for i, e := range entries {
		if e.Kind == dialect.Header && e.Section == section {
			return i
		}
	}
	return -1
}

// sectionEnd returns the insertion point for new lines of section, and the
// indentation its existing pairs use.
func sectionEnd(d dialect.Dialect, entries []dialect.Entry, section string) (int, string) {
	n := len(entries)
	if d.Kind() != dialect.TagConf {
		return n, ""
	}

	start, stop := 0, n
	if section == "" {
		for i, e := range entries {
			if e.Kind == dialect.Header {
				stop = i
				break
			}
		}
	} else {
		start = headerIndex(entries, section) + 1
		for i := start; i < n; i++ {
			if entries[i].Kind == dialect.Header {
				stop = i
				break
			}
		}
	}

	end, indent := -1, ""
	for i := start; i < stop; i++ {
		switch entries[i].Kind {
		case dialect.Pair:
			end, indent = i, entries[i].Indent()
		case dialect.Opaque:
			end = i
		}
	}
	if end >= 0 {
		return end + 1, indent
	}
	if section == "" {
		return stop, ""
	}
	return start, ""
}
