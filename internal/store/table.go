package store

// Table is a side table attaching a value of type T to handles.
type Table[T any] struct {
	store *Store
	data  map[ID]T
}

// NewTable creates a table bound to s. Despawning a handle in s removes its
// entry from the table.
func NewTable[T any](s *Store) *Table[T] {
	t := &Table[T]{
		store: s,
		data:  make(map[ID]T),
	}
	s.register(t)
	return t
}

// Get returns the value attached to id.
func (t *Table[T]) Get(id ID) (T, bool) {
	v, ok := t.data[id]
	return v, ok
}

// Set attaches v to id. Setting on a dead handle is ignored and reports false.
func (t *Table[T]) Set(id ID, v T) bool {
	if !t.store.Alive(id) {
		return false
	}
	t.data[id] = v
	return true
}

// Remove detaches the value from id, reporting whether one was present.
func (t *Table[T]) Remove(id ID) bool {
	_, ok := t.data[id]
	delete(t.data, id)
	return ok
}

// Has reports whether id carries this attribute.
func (t *Table[T]) Has(id ID) bool {
	_, ok := t.data[id]
	return ok
}

// Len returns the number of handles carrying this attribute.
func (t *Table[T]) Len() int {
	return len(t.data)
}

// IDs returns the handles carrying this attribute, ascending.
func (t *Table[T]) IDs() []ID {
	ids := make([]ID, 0, len(t.data))
	for id := range t.data {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func (t *Table[T]) remove(id ID) {
	delete(t.data, id)
}

// Set is a marker table: presence is the only information.
type Set struct {
	*Table[struct{}]
}

// NewSet creates a marker set bound to s.
func NewSet(s *Store) *Set {
	return &Set{Table: NewTable[struct{}](s)}
}

// Add attaches the marker to id.
func (m *Set) Add(id ID) bool {
	return m.Set(id, struct{}{})
}

// Has is implemented by every table and marker set.
type Has interface {
	Has(id ID) bool
}

// Query returns the live handles that carry every attribute in with and none
// of the attributes in without, in ascending order.
func Query(s *Store, with []Has, without []Has) []ID {
	var out []ID
	for _, id := range s.IDs() {
		if matches(id, with, without) {
			out = append(out, id)
		}
	}
	return out
}

func matches(id ID, with []Has, without []Has) bool {
	for _, h := range with {
		if !h.Has(id) {
			return false
		}
	}
	for _, h := range without {
		if h.Has(id) {
			return false
		}
	}
	return true
}
