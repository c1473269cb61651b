package state

import (
	"sync"
	"time"

	"github.com/berfenger/otgw2mqtt/pkg/opentherm"
)

// Snapshot is a consistent copy of one entity state.
type Snapshot struct {
	ID         string           `json:"id"`
	Value      *opentherm.Value `json:"value"`
	Updated    time.Time        `json:"updated,omitempty"`
	Available  bool             `json:"available"`
	LearnedMin *float64         `json:"learned_min,omitempty"`
	LearnedMax *float64         `json:"learned_max,omitempty"`
}

type entry struct {
	value      *opentherm.Value
	updated    time.Time
	available  bool
	learnedMin *float64
	learnedMax *float64
}

// Store keeps the last known state of every entity and the last raw payload
// of every Data-ID.
type Store struct {
	mu       sync.RWMutex
	order    []string
	entities map[string]*entry
	raw      map[opentherm.DataID]uint16
}

func NewStore(ids []string) *Store {
	s := &Store{
		entities: make(map[string]*entry, len(ids)),
		raw:      map[opentherm.DataID]uint16{},
	}
	for _, id := range ids {
		if _, ok := s.entities[id]; ok {
			continue
		}
		s.order = append(s.order, id)
		s.entities[id] = &entry{available: true}
	}
	return s
}

// Set stores a new value and marks the entity available. It reports whether
// the value differs from the previous one.
func (s *Store) Set(id string, v opentherm.Value, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return false
	}
	changed := e.value == nil || *e.value != v || !e.available
	e.value = &v
	e.updated = at
	e.available = true
	return changed
}

func (s *Store) MarkUnavailable(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entities[id]; ok {
		e.available = false
	}
}

func (s *Store) Available(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return ok && e.available
}

func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(id), true
}

// Value returns the last value of an entity, if any.
func (s *Store) Value(id string) (opentherm.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok || e.value == nil {
		return opentherm.Value{}, false
	}
	return *e.value, true
}

func (s *Store) All() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entities[id].snapshot(id))
	}
	return out
}

// SetLearned replaces the learned minimum or maximum of an entity.
func (s *Store) SetLearned(id string, max bool, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return
	}
	if max {
		e.learnedMax = &v
	} else {
		e.learnedMin = &v
	}
}

func (s *Store) Learned(id string) (min, max *float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	return copyFloat(e.learnedMin), copyFloat(e.learnedMax)
}

func (s *Store) SetRaw(id opentherm.DataID, payload uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[id] = payload
}

func (s *Store) Raw(id opentherm.DataID) (uint16, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.raw[id]
	return v, ok
}

func (e *entry) snapshot(id string) Snapshot {
	snap := Snapshot{
		ID:         id,
		Updated:    e.updated,
		Available:  e.available,
		LearnedMin: copyFloat(e.learnedMin),
		LearnedMax: copyFloat(e.learnedMax),
	}
	if e.value != nil {
		v := *e.value
		snap.Value = &v
	}
	return snap
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
