// Package state implements the address space: the engine's durable
// in-memory store of current Param and Timeline state.
//
// Each address carries a revision counter that starts at 1 on first
// write and increments by exactly 1 per write, with no gaps. Reads only
// ever observe fully committed values; Snapshot reflects one consistent
// point in time relative to concurrent writers.
package state

import (
	"sort"
	"sync"

	"github.com/lumencanvas/clasp/clock"
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/signal"
	"github.com/lumencanvas/clasp/value"
)

// Entry is the stored state of one address.
type Entry struct {
	Address string
	Value   value.Value
	// Timeline is set for addresses holding a timeline definition.
	Timeline *signal.Timeline
	// Revision is the per-address monotonic write counter.
	Revision uint64
	// Writer is the identity of the last writing session.
	Writer string
	// Timestamp is the logical time of the last write.
	Timestamp clock.Micros
}

// Store is the address space. The zero value is not usable; construct
// with New.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates an empty store.
func New() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Get returns the current entry for addr.
func (s *Store) Get(addr string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[addr]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Set writes v to addr and returns the new revision. The revision is 1
// for a first write and exactly prior+1 otherwise. A writer identity and
// logical timestamp are recorded with the value.
func (s *Store) Set(addr string, v value.Value, writer string, ts clock.Micros) uint64 {
	rev, _ := s.set(addr, v, nil, writer, ts, 0)
	return rev
}

// SetChecked is Set with optimistic concurrency: if expected is non-zero
// and does not match the stored revision, the write is rejected with
// REVISION_CONFLICT. An expected revision on an absent address only
// succeeds if expected is zero.
func (s *Store) SetChecked(addr string, v value.Value, writer string, ts clock.Micros, expected uint64) (uint64, error) {
	return s.set(addr, v, nil, writer, ts, expected)
}

// SetTimeline stores a timeline definition at addr, persisting it under
// the same revision discipline as a Param.
func (s *Store) SetTimeline(addr string, tl signal.Timeline, writer string, ts clock.Micros) uint64 {
	rev, _ := s.set(addr, value.Null(), &tl, writer, ts, 0)
	return rev
}

func (s *Store) set(addr string, v value.Value, tl *signal.Timeline, writer string, ts clock.Micros, expected uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[addr]
	if !ok {
		if expected != 0 {
			return 0, clasperrors.Invalidf(clasperrors.CodeRevisionConflict,
				"expected revision %d but %s has never been written", expected, addr)
		}
		s.entries[addr] = &Entry{
			Address:   addr,
			Value:     v,
			Timeline:  tl,
			Revision:  1,
			Writer:    writer,
			Timestamp: ts,
		}
		return 1, nil
	}

	if expected != 0 && expected != e.Revision {
		return 0, clasperrors.Invalidf(clasperrors.CodeRevisionConflict,
			"expected revision %d but %s is at %d", expected, addr, e.Revision)
	}

	e.Value = v
	e.Timeline = tl
	e.Revision++
	e.Writer = writer
	e.Timestamp = ts
	return e.Revision, nil
}

// Delete removes addr from the store. It reports whether the address
// existed. A later re-write starts the revision counter at 1 again.
func (s *Store) Delete(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[addr]; !ok {
		return false
	}
	delete(s.entries, addr)
	return true
}

// Snapshot returns a copy of every entry whose address satisfies pred,
// ordered by address. The result reflects a single consistent point in
// time: no address appears twice or with two different revisions.
func (s *Store) Snapshot(pred func(addr string) bool) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for addr, e := range s.entries {
		if pred == nil || pred(addr) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Len returns the number of stored addresses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes all state.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
}
