package behavior

import (
	"fmt"
	"slices"
	"sync"

	"github.com/joeycumines/behaviord/internal/store"
)

// Trace records node lifecycle events as "[id] EVENT name" lines. It is
// meant for tests and debugging.
type Trace struct {
	mu      sync.Mutex
	entries []string
}

// NewTrace returns an empty trace.
func NewTrace() *Trace {
	return &Trace{}
}

func (t *Trace) add(id store.ID, event, name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, fmt.Sprintf("[%s] %s %s", id, event, name))
}

// Entries returns a copy of the recorded lines.
func (t *Trace) Entries() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.entries)
}

// Reset drops every recorded line.
func (t *Trace) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}
