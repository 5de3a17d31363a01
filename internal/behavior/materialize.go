package behavior

import (
	"fmt"

	"github.com/joeycumines/behaviord/internal/store"
)

// Materialize expands doc into live handles under parent, in pre-order, and
// returns the handle of the materialized root. Each handle gets a cloned
// payload, and Children lists mirror the document's child order.
//
// When parent is not itself a behavior node (a tree anchor, or store.None)
// the new root receives the cursor and is marked running. When parent is a
// behavior node the root is linked to it and left idle for the parent to
// enter.
//
// The only failure is store exhaustion. Handles allocated before the failure
// are despawned so the store is left as it was.
func Materialize(w *World, doc *Behavior, parent store.ID) (store.ID, error) {
	if doc == nil {
		return store.None, fmt.Errorf("behavior: materialize nil document")
	}
	if parent != store.None && !w.Store.Alive(parent) {
		return store.None, &MissingError{Node: parent, Attribute: "handle"}
	}

	owner := parent
	linked := w.Data.Has(parent)
	if linked {
		owner, _ = w.Owners.Get(parent)
	}

	var spawned []store.ID
	root, err := materialize(w, doc, owner, &spawned)
	if err != nil {
		for _, id := range spawned {
			w.Store.Despawn(id)
		}
		return store.None, err
	}

	if parent != store.None {
		w.Children.Set(parent, append(w.childrenOf(parent), root))
	}
	if linked {
		w.Parents.Set(root, parent)
		return root, nil
	}
	w.Cursors.Add(root)
	w.Running.Add(root)
	w.Started.Add(root)
	return root, nil
}

func materialize(w *World, b *Behavior, owner store.ID, spawned *[]store.ID) (store.ID, error) {
	if b.Data == nil {
		return store.None, fmt.Errorf("behavior: node %q has no data", b.Name)
	}
	id, err := w.Store.Spawn()
	if err != nil {
		return store.None, err
	}
	*spawned = append(*spawned, id)

	w.Names.Set(id, b.Name)
	w.Data.Set(id, b.Data.Clone())
	if owner != store.None {
		w.Owners.Set(id, owner)
	}

	children := make([]store.ID, 0, len(b.Nodes))
	for _, c := range b.Nodes {
		child, err := materialize(w, c, owner, spawned)
		if err != nil {
			return store.None, err
		}
		w.Parents.Set(child, id)
		children = append(children, child)
	}
	w.Children.Set(id, children)
	return id, nil
}
