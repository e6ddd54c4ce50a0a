package ledger

import (
	"time"

	"github.com/user/hostguard/pkg/fileio"
)

// EventType names the kind of mutation an event undoes.
type EventType string

const (
	Conf          EventType = "conf"
	Perm          EventType = "perm"
	Creation      EventType = "creation"
	Deletion      EventType = "deletion"
	Move          EventType = "move"
	CommandString EventType = "commandstring"
	PkgHelper     EventType = "pkghelper"
	ServiceHelper EventType = "servicehelper"
)

// Status is the lifecycle position of an event. Reverted and Deleted are
// terminal.
type Status string

const (
	Recorded Status = "recorded"
	Reverted Status = "reverted"
	Deleted  Status = "deleted"
)

// State labels for events whose start and end are plain words.
const (
	Configured    = "configured"
	NotConfigured = "notconfigured"
	Installed     = "installed"
	Removed       = "removed"
	Enabled       = "enabled"
	Disabled      = "disabled"
	Present       = "present"
	Absent        = "absent"
)

// State is one side of an event.
type State struct {
	Label   string       `json:"label,omitempty"`
	Perm    *fileio.Perm `json:"perm,omitempty"`
	Command []string     `json:"command,omitempty"`
}

// Event is one reversible mutation.
type Event struct {
	ID     EventID   `json:"id"`
	Type   EventType `json:"type"`
	Path   string    `json:"path,omitempty"`
	Target string    `json:"target,omitempty"` // move destination
	Name   string    `json:"name,omitempty"`   // package or service
	Start  State     `json:"start"`
	End    State     `json:"end"`

	// Backup is the archived copy of Path taken before the change. Absent
	// means Path did not exist, so restoring it means removing it.
	Backup string `json:"backup,omitempty"`
	Absent bool   `json:"absent,omitempty"`

	Status     Status    `json:"status"`
	RunID      string    `json:"run_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	RetiredAt  time.Time `json:"retired_at,omitempty"`
}
