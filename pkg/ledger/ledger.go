// Package ledger records every mutation a rule makes so the rule's last fix
// can be undone. Events are keyed by EventID; retired events are kept as
// history for reporting.
package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/hostguard/pkg/faults"
	"github.com/user/hostguard/pkg/fileio"
	"github.com/user/hostguard/pkg/logging"
)

// Ledger is the change journal for one audit run.
type Ledger struct {
	store      Store
	archiveDir string
	runID      string
	log        *zap.Logger
	now        func() time.Time
}

// New wraps store. archiveDir receives the pre-change copies of edited and
// deleted files.
func New(store Store, archiveDir string, log *zap.Logger) *Ledger {
	return &Ledger{
		store:      store,
		archiveDir: archiveDir,
		runID:      uuid.NewString(),
		log:        logging.OrNop(log),
		now:        time.Now,
	}
}

// RunID identifies the process run that recorded events.
func (l *Ledger) RunID() string { return l.runID }

func (l *Ledger) Close() error { return l.store.Close() }

// RecordEvent appends ev under ev.ID. A live event with the same id is
// rejected with faults.Duplicate.
func (l *Ledger) RecordEvent(ev Event) error {
	if ev.ID.IsZero() {
		return faults.New(faults.InvalidSpec, "record", "", errors.New("event id not set"))
	}
	ev.Status = Recorded
	ev.RunID = l.runID
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = l.now()
	}
	if err := l.store.Insert(ev); err != nil {
		return err
	}
	l.log.Debug("event recorded",
		zap.Stringer("id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("path", ev.Path))
	return nil
}

// backupPath mirrors path under the archive directory.
func (l *Ledger) backupPath(path string, id EventID) string {
	rel := strings.TrimPrefix(filepath.Clean(path), string(filepath.Separator))
	return filepath.Join(l.archiveDir, rel) + "." + id.String() + ".orig"
}

// archive copies path into the archive and returns the copy's location.
// absent is true when path does not exist.
func (l *Ledger) archive(path string, id EventID) (backup string, perm *fileio.Perm, absent bool, err error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil, true, nil
	}
	backup = l.backupPath(path, id)
	if err := os.MkdirAll(filepath.Dir(backup), 0o700); err != nil {
		return "", nil, false, faults.New(faults.WriteFailure, "archive", backup, err)
	}
	if err := fileio.CopyFile(path, backup); err != nil {
		return "", nil, false, err
	}
	if p, err := fileio.GetPerms(path); err == nil {
		perm = &p
	}
	return backup, perm, false, nil
}

// RecordFileChange attaches a byte-exact copy of path, as it is now, to the
// live event id. It must be called before path is replaced.
func (l *Ledger) RecordFileChange(path string, id EventID) error {
	ev, err := l.store.Get(id)
	if err != nil {
		return err
	}
	backup, perm, absent, err := l.archive(path, id)
	if err != nil {
		return err
	}
	ev.Backup = backup
	ev.Absent = absent
	if perm != nil {
		ev.Start.Perm = perm
	}
	if err := l.store.Update(ev); err != nil {
		if backup != "" {
			os.Remove(backup)
		}
		return err
	}
	l.log.Debug("file change archived", zap.Stringer("id", id), zap.String("path", path), zap.String("backup", backup), zap.Bool("absent", absent))
	return nil
}

// FindRuleChanges lists the live event ids of rule in ascending order.
func (l *Ledger) FindRuleChanges(rule uint16) ([]EventID, error) {
	return l.store.IDs(rule)
}

// GetEvent returns the live event, or the last retired record for id.
func (l *Ledger) GetEvent(id EventID) (Event, error) {
	ev, err := l.store.Get(id)
	if err == nil {
		return ev, nil
	}
	if !faults.Is(err, faults.NotFound) {
		return Event{}, err
	}
	old, ok, rerr := l.store.Retired(id)
	if rerr != nil {
		return Event{}, rerr
	}
	if !ok {
		return Event{}, err
	}
	return old, nil
}

// DeleteEntry retires id into history. An event that was never reverted is
// retired as Deleted. A missing id is not an error.
func (l *Ledger) DeleteEntry(id EventID) error {
	ev, err := l.store.Get(id)
	if faults.Is(err, faults.NotFound) {
		l.log.Debug("delete of unknown event", zap.Stringer("id", id))
		return nil
	}
	if err != nil {
		return err
	}
	status := ev.Status
	if status == Recorded {
		status = Deleted
	}
	return l.store.Retire(id, status, l.now())
}

// Discard removes a live event and its backup without keeping history. It is
// used to roll the ledger back when the change the event describes never
// happened.
func (l *Ledger) Discard(id EventID) error {
	ev, err := l.store.Get(id)
	if faults.Is(err, faults.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ev.Backup != "" {
		if err := os.Remove(ev.Backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.log.Warn("could not remove backup", zap.String("backup", ev.Backup), zap.Error(err))
		}
	}
	return l.store.Remove(id)
}

// setStatus moves a live event out of Recorded.
func (l *Ledger) setStatus(id EventID, status Status) error {
	ev, err := l.store.Get(id)
	if err != nil {
		return err
	}
	if ev.Status != Recorded {
		l.log.Warn("event already settled", zap.Stringer("id", id), zap.String("status", string(ev.Status)))
		return nil
	}
	ev.Status = status
	return l.store.Update(ev)
}

// MarkReverted records that id's change has been undone by its caller.
func (l *Ledger) MarkReverted(id EventID) error {
	return l.setStatus(id, Reverted)
}

// revertable returns the live, still-recorded event for id. settled is true
// when the id exists but was already reverted or retired; that case is
// logged and the caller treats it as a no-op.
func (l *Ledger) revertable(op string, id EventID) (ev Event, settled bool, err error) {
	ev, err = l.store.Get(id)
	if err == nil && ev.Status == Recorded {
		return ev, false, nil
	}
	if err == nil {
		l.log.Warn("revert of settled event ignored", zap.String("op", op), zap.Stringer("id", id), zap.String("status", string(ev.Status)))
		return ev, true, nil
	}
	if !faults.Is(err, faults.NotFound) {
		return Event{}, false, err
	}
	if old, ok, rerr := l.store.Retired(id); rerr == nil && ok {
		l.log.Warn("revert of retired event ignored", zap.String("op", op), zap.Stringer("id", id), zap.String("status", string(old.Status)))
		return old, true, nil
	}
	l.log.Warn("revert of unknown event", zap.String("op", op), zap.Stringer("id", id))
	return Event{}, false, faults.New(faults.UndoImpossible, op, id.String(), errors.New("event not found"))
}

// RevertFileChanges restores path to the copy archived for id. When the file
// did not exist before the change it is removed and the event becomes
// Deleted; otherwise it becomes Reverted.
func (l *Ledger) RevertFileChanges(path string, id EventID) error {
	ev, settled, err := l.revertable("revert", id)
	if err != nil || settled {
		return err
	}
	if path == "" {
		path = ev.Path
	}

	if ev.Absent {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return faults.New(faults.WriteFailure, "revert", path, err)
		}
		l.log.Debug("reverted by removal", zap.Stringer("id", id), zap.String("path", path))
		return l.setStatus(id, Deleted)
	}

	if ev.Backup == "" || !fileio.Exists(ev.Backup) {
		l.log.Warn("backup missing, cannot revert", zap.Stringer("id", id), zap.String("path", path), zap.String("backup", ev.Backup))
		return faults.New(faults.UndoImpossible, "revert", path, fmt.Errorf("backup %q missing", ev.Backup))
	}
	if err := l.restore(ev.Backup, path, ev.Start.Perm); err != nil {
		return err
	}
	l.log.Debug("reverted from backup", zap.Stringer("id", id), zap.String("path", path))
	return l.setStatus(id, Reverted)
}

// restore writes backup over path through a sibling temp file so readers never
// see a partial file. A symlinked path is restored through its link.
func (l *Ledger) restore(backup, path string, perm *fileio.Perm) error {
	if r, err := filepath.EvalSymlinks(path); err == nil {
		path = r
	}
	tmp := path + ".restore"
	if err := fileio.CopyFile(backup, tmp); err != nil {
		return err
	}
	if perm != nil {
		if err := fileio.ApplyPerms(tmp, *perm); err != nil {
			l.log.Warn("could not restore ownership", zap.String("path", path), zap.Error(err))
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return faults.New(faults.WriteFailure, "restore", path, err)
	}
	fileio.ResetSecon(l.log, path)
	return nil
}

// RecordFileDelete archives path, records a deletion event under id and then
// removes path. Nothing is recorded if path does not exist.
func (l *Ledger) RecordFileDelete(path string, id EventID) error {
	backup, perm, absent, err := l.archive(path, id)
	if err != nil {
		return err
	}
	if absent {
		l.log.Debug("nothing to delete", zap.String("path", path))
		return nil
	}
	ev := Event{
		ID:     id,
		Type:   Deletion,
		Path:   path,
		Backup: backup,
		Start:  State{Label: Present, Perm: perm},
		End:    State{Label: Absent},
	}
	if err := l.RecordEvent(ev); err != nil {
		os.Remove(backup)
		return err
	}
	if err := os.Remove(path); err != nil {
		l.Discard(id)
		return faults.New(faults.WriteFailure, "delete", path, err)
	}
	return nil
}

// RevertFileDelete puts a deleted file back from its archive copy.
func (l *Ledger) RevertFileDelete(path string, id EventID) error {
	ev, settled, err := l.revertable("revert delete", id)
	if err != nil || settled {
		return err
	}
	if path == "" {
		path = ev.Path
	}
	if ev.Backup == "" || !fileio.Exists(ev.Backup) {
		return faults.New(faults.UndoImpossible, "revert delete", path, fmt.Errorf("backup %q missing", ev.Backup))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return faults.New(faults.WriteFailure, "revert delete", path, err)
	}
	if err := l.restore(ev.Backup, path, ev.Start.Perm); err != nil {
		return err
	}
	return l.setStatus(id, Reverted)
}

// History returns the rule's retired and live events, oldest first.
func (l *Ledger) History(rule uint16) ([]Event, error) {
	return l.store.History(rule)
}

// PermRecorder binds id so fileio.SetPerms can record through the ledger.
func (l *Ledger) PermRecorder(id EventID) fileio.PermRecorder {
	return permRecorder{l: l, id: id}
}

type permRecorder struct {
	l  *Ledger
	id EventID
}

func (r permRecorder) RecordPerm(path string, start, end fileio.Perm) error {
	return r.l.RecordEvent(Event{
		ID:    r.id,
		Type:  Perm,
		Path:  path,
		Start: State{Perm: &start},
		End:   State{Perm: &end},
	})
}
