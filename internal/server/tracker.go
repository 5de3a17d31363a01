package server

import (
	"github.com/joeycumines/behaviord/internal/behavior"
	"github.com/joeycumines/behaviord/internal/protocol"
	"github.com/joeycumines/behaviord/internal/store"
)

// BindingKind records how a tracker is tied to a live tree.
type BindingKind int

const (
	// Unbound trackers have no live tree.
	Unbound BindingKind = iota
	// Spawned trees live on an anchor the server created.
	Spawned
	// Attached trees live on a foreign handle the server does not own.
	Attached
	// Inserted trees live on a foreign handle the server owns for teardown.
	Inserted
)

func (k BindingKind) String() string {
	switch k {
	case Unbound:
		return "unbound"
	case Spawned:
		return "spawned"
	case Attached:
		return "attached"
	case Inserted:
		return "inserted"
	}
	return "unknown"
}

// Binding is a tracker's live tree, if any.
type Binding struct {
	Kind   BindingKind
	Entity store.ID
}

// Bound reports whether the binding refers to a tree.
func (b Binding) Bound() bool { return b.Kind != Unbound }

// FileTracker is the server's record of one behavior file.
type FileTracker struct {
	ID   protocol.FileID
	Name string
	// Document is the resident document, nil until loaded.
	Document *behavior.Document
	Binding  Binding

	// version is the asset version Document was taken from.
	version uint64
}
