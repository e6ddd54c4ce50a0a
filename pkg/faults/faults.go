// Package faults defines the error kinds shared by the editor, the ledger and
// the rule layer.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide whether it is fatal to the
// current operation only, or can be folded into a report.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	ReadFailure
	WriteFailure
	CommandFailure
	UndoImpossible
	InvalidSpec
	NoReport
	Stale
	Duplicate
)

var kindNames = map[Kind]string{
	Unknown:        "unknown",
	NotFound:       "not found",
	ReadFailure:    "read failure",
	WriteFailure:   "write failure",
	CommandFailure: "command failure",
	UndoImpossible: "undo impossible",
	InvalidSpec:    "invalid spec",
	NoReport:       "no report",
	Stale:          "stale",
	Duplicate:      "duplicate",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries a Kind together with the operation and path it happened on.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error. err may be nil.
func New(kind Kind, op, path string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Errorf is New with a formatted cause.
func Errorf(kind Kind, op, path, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	for err != nil {
		if errors.As(err, &fe) {
			if fe.Kind == kind {
				return true
			}
			err = fe.Err
			continue
		}
		return false
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}
