package behavior

import (
	"errors"
	"fmt"

	"github.com/joeycumines/behaviord/internal/store"
)

// ErrUnknownKind is returned when a document names a kind this package does
// not implement.
var ErrUnknownKind = errors.New("behavior: unknown node kind")

// ErrBehaviorNode is returned when a tree is placed on a handle that already
// belongs to a tree's node hierarchy.
var ErrBehaviorNode = errors.New("behavior: handle is a behavior node")

// MissingError reports a handle that lacks an attribute the caller needs.
type MissingError struct {
	Node      store.ID
	Attribute string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("behavior: node %s is missing %s", e.Node, e.Attribute)
}
