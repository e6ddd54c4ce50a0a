package dialect

import "strings"

// EntryKind classifies one parsed line.
type EntryKind int

const (
	Blank EntryKind = iota
	Comment
	Header
	Pair
	Opaque
)

func (k EntryKind) String() string {
	switch k {
	case Blank:
		return "blank"
	case Comment:
		return "comment"
	case Header:
		return "header"
	case Pair:
		return "pair"
	}
	return "opaque"
}

// Entry is one line of a config file. Raw and EOL reproduce the line exactly;
// Key and Value are only set for Pair entries.
type Entry struct {
	Kind    EntryKind
	Key     string
	Value   string
	Section string
	Raw     string
	EOL     string
	Line    int
}

// Render concatenates the raw text of entries.
func Render(entries []Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Raw)
		sb.WriteString(e.EOL)
	}
	return sb.String()
}

// Indent returns the leading whitespace of the entry's line.
func (e Entry) Indent() string {
	return e.Raw[:len(e.Raw)-len(strings.TrimLeft(e.Raw, " \t"))]
}

type line struct {
	body string
	eol  string
}

// splitLines keeps "\n" as the terminator; a "\r" before it stays in the body
// so CRLF files round trip unchanged.
func splitLines(text string) []line {
	var lines []line
	for text != "" {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			lines = append(lines, line{body: text})
			break
		}
		lines = append(lines, line{body: text[:i], eol: "\n"})
		text = text[i+1:]
	}
	return lines
}
