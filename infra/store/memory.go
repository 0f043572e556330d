package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kilianp07/fleetiot/core/vehicle"
)

// MemoryStore keeps vehicles in process memory. Records are copied in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]vehicle.Vehicle
	bySerial map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]vehicle.Vehicle),
		bySerial: make(map[string]string),
	}
}

// Create inserts v. An existing ID or serial returns vehicle.ErrDuplicate.
func (s *MemoryStore) Create(_ context.Context, v vehicle.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[v.ID]; ok {
		return vehicle.ErrDuplicate
	}
	if _, ok := s.bySerial[v.Serial]; ok {
		return vehicle.ErrDuplicate
	}
	s.byID[v.ID] = v
	s.bySerial[v.Serial] = v.ID
	return nil
}

// FindBySerial returns a copy of the record with serial.
func (s *MemoryStore) FindBySerial(_ context.Context, serial string) (*vehicle.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySerial[serial]
	if !ok {
		return nil, vehicle.ErrNotFound
	}
	v := s.byID[id]
	return &v, nil
}

// Update replaces the mutable fields of the record with the same ID.
func (s *MemoryStore) Update(_ context.Context, v vehicle.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[v.ID]
	if !ok {
		return vehicle.ErrNotFound
	}
	v.Serial = cur.Serial
	s.byID[v.ID] = v
	return nil
}

// List returns every record ordered by ID.
func (s *MemoryStore) List(context.Context) ([]vehicle.Vehicle, error) {
	s.mu.RLock()
	out := make([]vehicle.Vehicle, 0, len(s.byID))
	for _, v := range s.byID {
		out = append(out, v)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
