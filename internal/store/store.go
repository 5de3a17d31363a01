// Package store implements the node store used by the behavior engine: an
// arena of opaque handles with one side table per attribute kind.
//
// Handles are never reused within a process, so an ID can be handed to a
// remote peer and later resolved (or found dead) without ambiguity.
//
// The store is not safe for concurrent use. Every mutation is expected to
// happen from the single goroutine that runs the host tick.
package store

import (
	"errors"
	"fmt"
	"sort"
)

// ID is an opaque node handle. The zero value is never allocated.
type ID uint64

// None is the invalid handle.
const None ID = 0

// String implements fmt.Stringer.
func (id ID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// ErrExhausted is returned by Spawn once the store holds MaxNodes live handles.
var ErrExhausted = errors.New("store: node capacity exhausted")

// table is the type-erased view of a Table the store needs for despawning.
type table interface {
	remove(id ID)
}

// Store allocates handles and tracks which ones are alive.
type Store struct {
	// MaxNodes caps the number of live handles. Zero means unlimited.
	MaxNodes int

	next   ID
	alive  map[ID]struct{}
	tables []table
}

// New creates an empty store. maxNodes <= 0 means unlimited.
func New(maxNodes int) *Store {
	if maxNodes < 0 {
		maxNodes = 0
	}
	return &Store{
		MaxNodes: maxNodes,
		alive:    make(map[ID]struct{}),
	}
}

// Spawn allocates a fresh handle.
func (s *Store) Spawn() (ID, error) {
	if s.MaxNodes > 0 && len(s.alive) >= s.MaxNodes {
		return None, ErrExhausted
	}
	s.next++
	id := s.next
	s.alive[id] = struct{}{}
	return id, nil
}

// Alive reports whether id refers to a live handle.
func (s *Store) Alive(id ID) bool {
	_, ok := s.alive[id]
	return ok
}

// Len returns the number of live handles.
func (s *Store) Len() int {
	return len(s.alive)
}

// IDs returns every live handle in ascending order.
func (s *Store) IDs() []ID {
	ids := make([]ID, 0, len(s.alive))
	for id := range s.alive {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Despawn removes the handle and every attribute attached to it.
// Despawning a dead handle is a no-op.
func (s *Store) Despawn(id ID) {
	if _, ok := s.alive[id]; !ok {
		return
	}
	delete(s.alive, id)
	for _, t := range s.tables {
		t.remove(id)
	}
}

func (s *Store) register(t table) {
	s.tables = append(s.tables, t)
}

func sortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
