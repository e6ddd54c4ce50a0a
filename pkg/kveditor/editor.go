// Package kveditor reconciles a configuration file with a desired set of
// keys. A session is report, fix (possibly several passes) and one commit;
// the commit journals the change so it can be undone.
package kveditor

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/user/hostguard/pkg/dialect"
	"github.com/user/hostguard/pkg/faults"
	"github.com/user/hostguard/pkg/fileio"
	"github.com/user/hostguard/pkg/ledger"
	"github.com/user/hostguard/pkg/logging"
)

// Journal is the part of the ledger a commit writes to.
type Journal interface {
	RecordEvent(ev ledger.Event) error
	RecordFileChange(path string, id ledger.EventID) error
	Discard(id ledger.EventID) error
}

// Options configure an Editor.
type Options struct {
	Dialect dialect.Dialect
	Path    string
	// TmpPath is the staging file; it defaults to Path + ".tmp".
	TmpPath string
	Spec    DesiredSpec
	Intent  Intent
	// Journal may be nil, in which case commits are not recorded.
	Journal Journal
	// Mode is used when the target does not exist yet; default 0644.
	Mode os.FileMode
	Log  *zap.Logger
}

type snapshot struct {
	exists bool
	sum    [sha256.Size]byte
}

// Editor reconciles one file.
type Editor struct {
	d       dialect.Dialect
	path    string
	tmpPath string
	// target is path with symlinks resolved at Fix time; the staged file
	// is renamed over it so a symlinked path keeps its link.
	target     string
	defaultTmp bool
	spec    DesiredSpec
	intent  Intent
	journal Journal
	mode    os.FileMode
	log     *zap.Logger
	baseLog *zap.Logger

	eventID ledger.EventID

	// session state
	reported   bool
	unreadable error
	last       Result
	base       *snapshot // disk state when the session first read the file
	staged     bool
	working    string
}

// New validates opts and returns an editor for opts.Path.
func New(opts Options) (*Editor, error) {
	if opts.Dialect == nil {
		return nil, faults.New(faults.InvalidSpec, "editor", opts.Path, errors.New("no dialect"))
	}
	if opts.Path == "" {
		return nil, faults.New(faults.InvalidSpec, "editor", "", errors.New("no path"))
	}
	if err := checkSpec(opts.Dialect, opts.Spec, opts.Intent); err != nil {
		return nil, err
	}
	e := &Editor{
		d:       opts.Dialect,
		path:    opts.Path,
		tmpPath: opts.TmpPath,
		spec:    opts.Spec,
		intent:  opts.Intent,
		journal: opts.Journal,
		mode:    opts.Mode,
		log:     logging.OrNop(opts.Log).With(zap.String("path", opts.Path)),
		baseLog: logging.OrNop(opts.Log),
		target:  opts.Path,
	}
	if e.tmpPath == "" {
		e.tmpPath = e.path + ".tmp"
		e.defaultTmp = true
	}
	if e.mode == 0 {
		e.mode = 0o644
	}
	return e, nil
}

func checkSpec(d dialect.Dialect, spec DesiredSpec, intent Intent) error {
	if err := validate(spec, intent); err != nil {
		return err
	}
	if _, ok := spec.(SectionedSpec); ok && d.Kind() != dialect.TagConf {
		return faults.New(faults.InvalidSpec, "spec", "", fmt.Errorf("sectioned data needs a tagconf dialect, have %s", d.Kind()))
	}
	return nil
}

func (e *Editor) Path() string    { return e.path }
func (e *Editor) TmpPath() string { return e.tmpPath }

// Staged reports whether a fix is waiting for Commit.
func (e *Editor) Staged() bool { return e.staged }

// Result returns the last report.
func (e *Editor) Result() Result { return e.last }

// SetData replaces the desired data; a new Report is required before Fix.
func (e *Editor) SetData(spec DesiredSpec) error {
	if err := checkSpec(e.d, spec, e.intent); err != nil {
		return err
	}
	e.spec = spec
	e.reported = false
	return nil
}

// SetIntent switches between Present and NotPresent; a new Report is
// required before Fix.
func (e *Editor) SetIntent(i Intent) error {
	if err := checkSpec(e.d, e.spec, i); err != nil {
		return err
	}
	e.intent = i
	e.reported = false
	return nil
}

// SetEventID sets the id the next Commit records under.
func (e *Editor) SetEventID(id ledger.EventID) { e.eventID = id }

// read returns the text a pass works on: the staged text once a fix has been
// made in this session, the file on disk otherwise.
func (e *Editor) read() (string, snapshot, error) {
	if e.staged {
		return e.working, snapshot{exists: true, sum: sha256.Sum256([]byte(e.working))}, nil
	}
	data, err := os.ReadFile(e.path)
	if errors.Is(err, fs.ErrNotExist) {
		e.log.Debug("target file does not exist")
		return "", snapshot{}, nil
	}
	if err != nil {
		return "", snapshot{}, faults.New(faults.ReadFailure, "read", e.path, err)
	}
	return string(data), snapshot{exists: true, sum: sha256.Sum256(data)}, nil
}

func (e *Editor) diskSnapshot() (snapshot, error) {
	data, err := os.ReadFile(e.path)
	if errors.Is(err, fs.ErrNotExist) {
		return snapshot{}, nil
	}
	if err != nil {
		return snapshot{}, faults.New(faults.ReadFailure, "read", e.path, err)
	}
	return snapshot{exists: true, sum: sha256.Sum256(data)}, nil
}

// Report compares the file with the desired data. A file that cannot be read
// is reported as not compliant rather than returned as an error.
func (e *Editor) Report() (Result, error) {
	text, snap, err := e.read()
	if err != nil {
		e.log.Debug("cannot read file", zap.Error(err))
		e.unreadable = err
		e.reported = true
		e.last = Result{Detail: "cannot read file: " + err.Error()}
		return e.last, nil
	}
	e.unreadable = nil
	if !e.staged {
		e.base = &snap
	}
	e.last = reconcile(e.d, e.d.Parse(text), e.spec, e.intent)
	e.reported = true
	e.log.Debug("report",
		zap.String("intent", e.intent.String()),
		zap.Bool("compliant", e.last.Compliant),
		zap.Int("fixables", len(e.last.Fixables)),
		zap.Int("removeables", len(e.last.Removeables)))
	return e.last, nil
}

// Fix applies the last report's edits and writes the result to the staging
// file. The target is not touched until Commit.
func (e *Editor) Fix() error {
	if !e.reported {
		return faults.New(faults.NoReport, "fix", e.path, errors.New("fix requires a report in this session"))
	}
	if e.unreadable != nil {
		return faults.New(faults.ReadFailure, "fix", e.path, e.unreadable)
	}

	text, snap, err := e.read()
	if err != nil {
		return err
	}
	res := e.last
	if !e.staged && (e.base == nil || snap != *e.base) {
		e.log.Debug("file changed since report, recomputing")
		e.base = &snap
		res = reconcile(e.d, e.d.Parse(text), e.spec, e.intent)
		e.last = res
	}
	if res.Compliant {
		e.log.Debug("nothing to fix")
		e.reported = false
		return nil
	}

	out := apply(e.d, e.d.Parse(text), res)
	e.resolve()
	mode := fileio.ModeOf(e.target, e.mode)
	if err := fileio.WriteFile(e.tmpPath, out, mode); err != nil {
		e.log.Error("cannot stage fix", zap.String("tmp", e.tmpPath), zap.Error(err))
		return err
	}
	e.working = out
	e.staged = true
	e.reported = false
	e.log.Debug("fix staged", zap.String("tmp", e.tmpPath))
	return nil
}

// Commit renames the staging file over the target. With a journal and an
// event id set it first records a conf event and archives the current file,
// and rolls both back if the rename fails. Commit without a staged fix does
// nothing.
func (e *Editor) Commit() error {
	if !e.staged {
		e.log.Debug("nothing staged to commit")
		return nil
	}

	now, err := e.diskSnapshot()
	if err != nil {
		return err
	}
	if e.base != nil && now != *e.base {
		e.abort()
		return faults.New(faults.Stale, "commit", e.path, errors.New("file changed on disk during the session"))
	}

	recorded := false
	if e.journal != nil && !e.eventID.IsZero() {
		ev := ledger.Event{
			ID:    e.eventID,
			Type:  ledger.Conf,
			Path:  e.path,
			Start: ledger.State{Label: ledger.NotConfigured},
			End:   ledger.State{Label: ledger.Configured},
		}
		if err := e.journal.RecordEvent(ev); err != nil {
			return fmt.Errorf("commit %s: %w", e.path, err)
		}
		if err := e.journal.RecordFileChange(e.path, e.eventID); err != nil {
			if derr := e.journal.Discard(e.eventID); derr != nil {
				e.log.Error("could not discard event after failed archive", zap.Stringer("id", e.eventID), zap.Error(derr))
			}
			return fmt.Errorf("commit %s: %w", e.path, err)
		}
		recorded = true
	}

	if now.exists {
		if p, err := fileio.GetPerms(e.target); err == nil {
			if err := fileio.ApplyPerms(e.tmpPath, p); err != nil {
				e.log.Debug("could not carry ownership to staged file", zap.Error(err))
			}
		}
	}

	if err := os.Rename(e.tmpPath, e.target); err != nil {
		if recorded {
			if derr := e.journal.Discard(e.eventID); derr != nil {
				e.log.Error("could not discard event after failed rename", zap.Stringer("id", e.eventID), zap.Error(derr))
			}
		}
		e.log.Error("commit failed", zap.Error(err))
		return faults.New(faults.WriteFailure, "commit", e.path, err)
	}
	fileio.ResetSecon(e.baseLog, e.target)
	e.log.Debug("committed", zap.Stringer("id", e.eventID))
	e.reset()
	return nil
}

// resolve follows symlinks in path. A dangling or missing path is used as is.
func (e *Editor) resolve() {
	e.target = e.path
	if r, err := filepath.EvalSymlinks(e.path); err == nil {
		e.target = r
	}
	if e.defaultTmp {
		e.tmpPath = e.target + ".tmp"
	}
}

func (e *Editor) abort() {
	if err := os.Remove(e.tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.log.Debug("could not remove staging file", zap.Error(err))
	}
	e.reset()
}

func (e *Editor) reset() {
	e.staged = false
	e.working = ""
	e.reported = false
	e.base = nil
	e.unreadable = nil
}
