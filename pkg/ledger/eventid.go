package ledger

import (
	"fmt"
	"strconv"
)

const (
	MaxRule = 9999
	MaxSeq  = 999
)

// EventID identifies one recorded change: the rule that made it and its
// position in that rule's fix run. The string form, four digits of rule and
// three of sequence, is the key other tools filter on.
type EventID struct {
	Rule uint16
	Seq  uint16
}

// NewEventID validates the ranges that fit the wire format.
func NewEventID(rule, seq int) (EventID, error) {
	if rule < 0 || rule > MaxRule {
		return EventID{}, fmt.Errorf("rule number %d out of range", rule)
	}
	if seq < 1 || seq > MaxSeq {
		return EventID{}, fmt.Errorf("sequence %d out of range", seq)
	}
	return EventID{Rule: uint16(rule), Seq: uint16(seq)}, nil
}

func (id EventID) String() string {
	return fmt.Sprintf("%04d%03d", id.Rule, id.Seq)
}

// IsZero reports whether id is unset.
func (id EventID) IsZero() bool { return id == EventID{} }

// ParseEventID reads the seven digit form.
func ParseEventID(s string) (EventID, error) {
	if len(s) != 7 {
		return EventID{}, fmt.Errorf("event id %q: want 7 digits", s)
	}
	rule, err := strconv.Atoi(s[:4])
	if err != nil {
		return EventID{}, fmt.Errorf("event id %q: %w", s, err)
	}
	seq, err := strconv.Atoi(s[4:])
	if err != nil {
		return EventID{}, fmt.Errorf("event id %q: %w", s, err)
	}
	return NewEventID(rule, seq)
}

// Compare orders ids by rule, then sequence.
func (id EventID) Compare(o EventID) int {
	switch {
	case id.Rule < o.Rule:
		return -1
	case id.Rule > o.Rule:
		return 1
	case id.Seq < o.Seq:
		return -1
	case id.Seq > o.Seq:
		return 1
	}
	return 0
}

func (id EventID) Less(o EventID) bool { return id.Compare(o) < 0 }

// MarshalText lets ids travel as their string form in JSON and YAML.
func (id EventID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *EventID) UnmarshalText(b []byte) error {
	v, err := ParseEventID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Sequencer hands out the ids of one rule's fix run, starting at 1.
type Sequencer struct {
	rule uint16
	next int
}

func NewSequencer(rule uint16) *Sequencer {
	return &Sequencer{rule: rule, next: 1}
}

// Next returns the following id, or an error once the sequence space is used up.
func (s *Sequencer) Next() (EventID, error) {
	id, err := NewEventID(int(s.rule), s.next)
	if err != nil {
		return EventID{}, err
	}
	s.next++
	return id, nil
}
