package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/hostguard/pkg/faults"
)

const schema = `
CREATE TABLE IF NOT EXISTS change_events (
    id TEXT PRIMARY KEY,
    rule INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    path TEXT,
    target TEXT,
    name TEXT,
    start_state TEXT,
    end_state TEXT,
    backup TEXT,
    absent INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    run_id TEXT,
    recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS change_events_rule ON change_events (rule, seq);
CREATE TABLE IF NOT EXISTS event_history (
    pk INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    rule INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    path TEXT,
    target TEXT,
    name TEXT,
    start_state TEXT,
    end_state TEXT,
    backup TEXT,
    absent INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    run_id TEXT,
    recorded_at DATETIME NOT NULL,
    retired_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS event_history_rule ON event_history (rule, seq);`

const eventColumns = `id, rule, seq, event_type, path, target, name, start_state, end_state, backup, absent, status, run_id, recorded_at`

// SQLiteStore persists the ledger between runs.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the event database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	// one connection keeps :memory: databases shared and writes serialized
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func encodeState(st State) (string, error) {
	b, err := json.Marshal(st)
	return string(b), err
}

func decodeState(s string) (State, error) {
	var st State
	if s == "" {
		return st, nil
	}
	err := json.Unmarshal([]byte(s), &st)
	return st, err
}

func eventArgs(ev Event) ([]interface{}, error) {
	start, err := encodeState(ev.Start)
	if err != nil {
		return nil, err
	}
	end, err := encodeState(ev.End)
	if err != nil {
		return nil, err
	}
	absent := 0
	if ev.Absent {
		absent = 1
	}
	return []interface{}{
		ev.ID.String(), int(ev.ID.Rule), int(ev.ID.Seq), string(ev.Type),
		ev.Path, ev.Target, ev.Name, start, end, ev.Backup, absent,
		string(ev.Status), ev.RunID, ev.RecordedAt.UTC(),
	}, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner, extra ...interface{}) (Event, error) {
	var (
		ev                                  Event
		id, typ, status                     string
		rule, seq, absent                   int
		path, target, name, start, end, bak sql.NullString
		runID                               sql.NullString
	)
	dest := []interface{}{&id, &rule, &seq, &typ, &path, &target, &name, &start, &end, &bak, &absent, &status, &runID, &ev.RecordedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Event{}, err
	}
	parsed, err := ParseEventID(id)
	if err != nil {
		return Event{}, err
	}
	ev.ID = parsed
	ev.Type = EventType(typ)
	ev.Path, ev.Target, ev.Name, ev.Backup = path.String, target.String, name.String, bak.String
	ev.Absent = absent != 0
	ev.Status = Status(status)
	ev.RunID = runID.String
	if ev.Start, err = decodeState(start.String); err != nil {
		return Event{}, fmt.Errorf("event %s start state: %w", id, err)
	}
	if ev.End, err = decodeState(end.String); err != nil {
		return Event{}, fmt.Errorf("event %s end state: %w", id, err)
	}
	return ev, nil
}

func (s *SQLiteStore) Insert(ev Event) error {
	args, err := eventArgs(ev)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO change_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return faults.New(faults.Duplicate, "record", ev.ID.String(), err)
	}
	return err
}

func (s *SQLiteStore) Get(id EventID) (Event, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM change_events WHERE id = ?`, id.String())
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, faults.New(faults.NotFound, "get", id.String(), nil)
	}
	return ev, err
}

func (s *SQLiteStore) Update(ev Event) error {
	args, err := eventArgs(ev)
	if err != nil {
		return err
	}
	// drop id, rule, seq from the front and key the update on id
	res, err := s.db.Exec(`UPDATE change_events SET event_type = ?, path = ?, target = ?, name = ?,
        start_state = ?, end_state = ?, backup = ?, absent = ?, status = ?, run_id = ?, recorded_at = ?
        WHERE id = ?`, append(args[3:], ev.ID.String())...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.New(faults.NotFound, "update", ev.ID.String(), nil)
	}
	return nil
}

func (s *SQLiteStore) Remove(id EventID) error {
	_, err := s.db.Exec(`DELETE FROM change_events WHERE id = ?`, id.String())
	return err
}

func (s *SQLiteStore) Retire(id EventID, status Status, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO event_history (`+eventColumns+`, retired_at)
        SELECT id, rule, seq, event_type, path, target, name, start_state, end_state, backup, absent, ?, run_id, recorded_at, ?
        FROM change_events WHERE id = ?`, string(status), at.UTC(), id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.New(faults.NotFound, "retire", id.String(), nil)
	}
	if _, err := tx.Exec(`DELETE FROM change_events WHERE id = ?`, id.String()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) IDs(rule uint16) ([]EventID, error) {
	rows, err := s.db.Query(`SELECT id FROM change_events WHERE rule = ? ORDER BY seq ASC`, int(rule))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []EventID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := ParseEventID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Retired(id EventID) (Event, bool, error) {
	var retiredAt time.Time
	row := s.db.QueryRow(`SELECT `+eventColumns+`, retired_at FROM event_history WHERE id = ? ORDER BY pk DESC LIMIT 1`, id.String())
	ev, err := scanEvent(row, &retiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	ev.RetiredAt = retiredAt
	return ev, true, nil
}

func (s *SQLiteStore) History(rule uint16) ([]Event, error) {
	var out []Event

	rows, err := s.db.Query(`SELECT `+eventColumns+`, retired_at FROM event_history WHERE rule = ? ORDER BY pk ASC`, int(rule))
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var retiredAt time.Time
		ev, err := scanEvent(rows, &retiredAt)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ev.RetiredAt = retiredAt
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.db.Query(`SELECT `+eventColumns+` FROM change_events WHERE rule = ? ORDER BY seq ASC`, int(rule))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
