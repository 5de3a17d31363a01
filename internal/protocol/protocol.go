// Package protocol defines the messages exchanged between the behavior
// server and its clients (editors and inspectors), the bounded channel pair
// that carries them in-process, and their JSON wire form.
package protocol

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/joeycumines/behaviord/internal/store"
)

// FileID identifies a trackable behavior file for the lifetime of the server
// process, whether or not the file is loaded or running.
type FileID string

// NewFileID returns a fresh short identifier.
func NewFileID() FileID {
	id := uuid.New()
	return FileID(strings.ReplaceAll(id.String(), "-", "")[:8])
}

// RemoteEntity refers to a live handle without exposing store internals.
type RemoteEntity struct {
	ID   store.ID `json:"id"`
	Name string   `json:"name,omitempty"`
}

func (e RemoteEntity) String() string {
	if e.Name == "" {
		return fmt.Sprintf("#%s", e.ID)
	}
	return fmt.Sprintf("%s #%s", e.Name, e.ID)
}

// StartKind selects how a Start request places the tree.
type StartKind string

const (
	// StartSpawn creates a brand-new anchor owned by the server.
	StartSpawn StartKind = "spawn"
	// StartAttach binds to an existing handle without owning its lifetime.
	StartAttach StartKind = "attach"
	// StartInsert binds to an existing handle and owns it for teardown.
	StartInsert StartKind = "insert"
)

// StartOption is the placement policy of a Start request.
type StartOption struct {
	Kind   StartKind     `json:"kind"`
	Entity *RemoteEntity `json:"entity,omitempty"`
}

// Spawn returns the StartSpawn option.
func Spawn() StartOption { return StartOption{Kind: StartSpawn} }

// Attach returns the StartAttach option for e.
func Attach(e RemoteEntity) StartOption { return StartOption{Kind: StartAttach, Entity: &e} }

// Insert returns the StartInsert option for e.
func Insert(e RemoteEntity) StartOption { return StartOption{Kind: StartInsert, Entity: &e} }

// StopOption is the teardown policy of a Stop request.
type StopOption string

const (
	// StopDespawn deletes the bound handle and its whole subtree.
	StopDespawn StopOption = "despawn"
	// StopDetach drops the binding only.
	StopDetach StopOption = "detach"
	// StopRemove clears the bound handle's children and document reference
	// but keeps the handle.
	StopRemove StopOption = "remove"
)

// LogLevel grades Log messages.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)
