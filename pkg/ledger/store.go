package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/user/hostguard/pkg/faults"
)

// Store persists live events and the history of retired ones.
type Store interface {
	// Insert fails with faults.Duplicate when a live event has the same id.
	Insert(ev Event) error
	// Get returns a live event or faults.NotFound.
	Get(id EventID) (Event, error)
	Update(ev Event) error
	// Remove drops a live event without keeping history.
	Remove(id EventID) error
	// Retire moves a live event into history with a terminal status.
	Retire(id EventID, status Status, at time.Time) error
	// IDs lists the live ids of a rule in ascending order.
	IDs(rule uint16) ([]EventID, error)
	// Retired returns the most recent history record for id.
	Retired(id EventID) (Event, bool, error)
	// History returns the rule's retired events followed by its live ones.
	History(rule uint16) ([]Event, error)
	Close() error
}

// MemoryStore keeps the ledger for the lifetime of one process.
type MemoryStore struct {
	mu      sync.RWMutex
	live    map[EventID]Event
	history []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{live: make(map[EventID]Event)}
}

func (s *MemoryStore) Insert(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[ev.ID]; ok {
		return faults.New(faults.Duplicate, "record", ev.ID.String(), nil)
	}
	s.live[ev.ID] = ev
	return nil
}

func (s *MemoryStore) Get(id EventID) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.live[id]
	if !ok {
		return Event{}, faults.New(faults.NotFound, "get", id.String(), nil)
	}
	return ev, nil
}

func (s *MemoryStore) Update(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[ev.ID]; !ok {
		return faults.New(faults.NotFound, "update", ev.ID.String(), nil)
	}
	s.live[ev.ID] = ev
	return nil
}

func (s *MemoryStore) Remove(id EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
	return nil
}

func (s *MemoryStore) Retire(id EventID, status Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.live[id]
	if !ok {
		return faults.New(faults.NotFound, "retire", id.String(), nil)
	}
	ev.Status = status
	ev.RetiredAt = at
	s.history = append(s.history, ev)
	delete(s.live, id)
	return nil
}

func (s *MemoryStore) IDs(rule uint16) ([]EventID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []EventID
	for id := range s.live {
		if id.Rule == rule {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids, nil
}

func (s *MemoryStore) Retired(id EventID) (Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].ID == id {
			return s.history[i], true, nil
		}
	}
	return Event{}, false, nil
}

func (s *MemoryStore) History(rule uint16) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, ev := range s.history {
		if ev.ID.Rule == rule {
			out = append(out, ev)
		}
	}
	var live []Event
	for _, ev := range s.live {
		if ev.ID.Rule == rule {
			live = append(live, ev)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ID.Less(live[j].ID) })
	return append(out, live...), nil
}

func (s *MemoryStore) Close() error { return nil }
