package dialect

import "strings"

// matcher is the per-MatchMode line syntax.
type matcher interface {
	split(body string) (key, value string, ok bool)
	lookup(body, key string) (string, bool)
	satisfies(have, want string) bool
	format(key, value string) string
}

func splitEq(body string) (string, string, bool) {
	i := strings.IndexByte(body, '=')
	if i < 0 {
		return "", "", false
	}
	key := strings.TrimSpace(body[:i])
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(body[i+1:]), true
}

func lookupEq(body, key string) (string, bool) {
	k, v, ok := splitEq(body)
	if !ok || k != strings.TrimSpace(key) {
		return "", false
	}
	return v, true
}

// openEq reads "key = value". A trailing "#" comment after the value is
// ignored; anything else after the value is a mismatch.
type openEq struct{}

func (openEq) split(body string) (string, string, bool) { return splitEq(body) }
func (openEq) lookup(body, key string) (string, bool)   { return lookupEq(body, key) }

func (openEq) satisfies(have, want string) bool {
	if i := strings.Index(have, "#"); i > 0 {
		have = have[:i]
	}
	return strings.TrimSpace(have) == strings.TrimSpace(want)
}

func (openEq) format(key, value string) string {
	return key + " = " + value
}

// closedEq reads "key=value" and requires the whole remainder to be the value.
type closedEq struct{}

func (closedEq) split(body string) (string, string, bool) { return splitEq(body) }
func (closedEq) lookup(body, key string) (string, bool)   { return lookupEq(body, key) }

func (closedEq) satisfies(have, want string) bool {
	return have == strings.TrimSpace(want)
}

func (closedEq) format(key, value string) string {
	return key + "=" + value
}

// space reads "key value..." where the key itself may span several words.
type space struct{}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (space) split(body string) (string, string, bool) {
	f := strings.Fields(body)
	if len(f) == 0 {
		return "", "", false
	}
	return f[0], strings.Join(f[1:], " "), true
}

func (space) lookup(body, key string) (string, bool) {
	norm, k := collapse(body), collapse(key)
	if k == "" {
		return "", false
	}
	if norm == k {
		return "", true
	}
	if strings.HasPrefix(norm, k+" ") {
		return norm[len(k)+1:], true
	}
	return "", false
}

func (space) satisfies(have, want string) bool {
	return collapse(have) == collapse(want)
}

func (space) format(key, value string) string {
	if value == "" {
		return collapse(key)
	}
	return collapse(key) + " " + value
}
