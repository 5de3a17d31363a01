package behavior

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/joeycumines/behaviord/internal/store"
)

// Tree is the TreeRoot attribute. It marks the anchor handle of a live tree.
type Tree struct {
	// Root is the materialized behavior root, or store.None.
	Root store.ID
	// Document is the source the tree is (re)built from. Nil for orphans.
	Document *Document
	// Asset names the tracked file the document came from, if any.
	Asset string
	// Blackboard is the scope property expressions evaluate against.
	Blackboard *Blackboard
}

// AssetSource resolves Subtree assets. Document returns ready == false while
// the asset is still loading.
type AssetSource interface {
	Document(asset string) (doc *Document, ready bool, err error)
}

// World is the live forest: the node store with every side table the engine
// uses. It is not safe for concurrent use.
type World struct {
	Store *store.Store

	Names    *store.Table[string]
	Data     *store.Table[Node]
	Children *store.Table[[]store.ID]
	// Parents links behavior nodes only. Tree anchors are never parents.
	Parents *store.Table[store.ID]
	// Owners maps every behavior node to the anchor of its tree.
	Owners *store.Table[store.ID]

	Cursors   *store.Set
	Running   *store.Set
	Successes *store.Set
	Failures  *store.Set
	Started   *store.Set

	Trees  *store.Table[*Tree]
	Resets *store.Set
	// Subtrees records the document a Subtree node materialized.
	Subtrees *store.Table[*Document]

	// Elapsed is the engine clock, advanced by the host.
	Elapsed time.Duration

	Eval       Evaluator
	Blackboard *Blackboard
	Assets     AssetSource
	Trace      *Trace
	Logger     *slog.Logger
}

// Option configures a World.
type Option func(*World)

// WithMaxNodes caps the number of live handles.
func WithMaxNodes(n int) Option {
	return func(w *World) { w.Store.MaxNodes = n }
}

// WithEvaluator sets the property evaluator.
func WithEvaluator(ev Evaluator) Option {
	return func(w *World) { w.Eval = ev }
}

// WithTrace records lifecycle events into t.
func WithTrace(t *Trace) Option {
	return func(w *World) { w.Trace = t }
}

// WithAssets sets the source Subtree nodes load from.
func WithAssets(a AssetSource) Option {
	return func(w *World) { w.Assets = a }
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(w *World) { w.Logger = l }
}

// NewWorld creates an empty world.
func NewWorld(opts ...Option) *World {
	s := store.New(0)
	w := &World{
		Store:      s,
		Names:      store.NewTable[string](s),
		Data:       store.NewTable[Node](s),
		Children:   store.NewTable[[]store.ID](s),
		Parents:    store.NewTable[store.ID](s),
		Owners:     store.NewTable[store.ID](s),
		Cursors:    store.NewSet(s),
		Running:    store.NewSet(s),
		Successes:  store.NewSet(s),
		Failures:   store.NewSet(s),
		Started:    store.NewSet(s),
		Trees:      store.NewTable[*Tree](s),
		Resets:     store.NewSet(s),
		Subtrees:   store.NewTable[*Document](s),
		Eval:       NewExprEvaluator(0),
		Blackboard: new(Blackboard),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.Logger == nil {
		w.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return w
}

// SpawnTree allocates a new anchor for doc, materializes it and returns the
// anchor handle.
func (w *World) SpawnTree(doc *Document, asset string) (store.ID, error) {
	anchor, err := w.Store.Spawn()
	if err != nil {
		return store.None, err
	}
	if err := w.InsertTree(anchor, doc, asset); err != nil {
		w.Store.Despawn(anchor)
		return store.None, err
	}
	return anchor, nil
}

// InsertTree turns an existing handle into a tree anchor for doc, replacing
// any tree it already carried. Behavior nodes cannot anchor a tree. On
// failure the handle is left as it was before the call, minus any previous
// tree.
func (w *World) InsertTree(anchor store.ID, doc *Document, asset string) error {
	if !w.Store.Alive(anchor) {
		return &MissingError{Node: anchor, Attribute: "handle"}
	}
	if w.Data.Has(anchor) || w.Parents.Has(anchor) {
		return fmt.Errorf("%w: %s", ErrBehaviorNode, anchor)
	}
	w.ClearTree(anchor)
	tree := &Tree{Document: doc, Asset: asset, Blackboard: new(Blackboard)}
	w.Trees.Set(anchor, tree)
	if doc == nil || doc.Root == nil {
		return nil
	}
	root, err := Materialize(w, doc.Root, anchor)
	if err != nil {
		w.Trees.Remove(anchor)
		return err
	}
	tree.Root = root
	return nil
}

// ClearTree despawns every child of anchor. The anchor, its TreeRoot
// attribute and the tree's document stay, so a reset can rebuild it.
func (w *World) ClearTree(anchor store.ID) {
	for _, c := range w.childrenOf(anchor) {
		w.DespawnRecursive(c)
	}
	w.Children.Remove(anchor)
	if tree, ok := w.Trees.Get(anchor); ok {
		tree.Root = store.None
	}
}

// OrphanTree clears anchor and drops its document reference. The anchor keeps
// its TreeRoot attribute and is reported as an orphan from then on.
func (w *World) OrphanTree(anchor store.ID) {
	w.ClearTree(anchor)
	if tree, ok := w.Trees.Get(anchor); ok {
		tree.Document = nil
		tree.Asset = ""
	}
}

// RemoveTree despawns the behavior nodes under anchor and removes its TreeRoot
// attribute, leaving the anchor handle alive.
func (w *World) RemoveTree(anchor store.ID) {
	w.ClearTree(anchor)
	w.Trees.Remove(anchor)
	w.Resets.Remove(anchor)
}

// DespawnRecursive despawns id and everything below it.
func (w *World) DespawnRecursive(id store.ID) {
	for _, c := range w.childrenOf(id) {
		w.DespawnRecursive(c)
	}
	w.Store.Despawn(id)
}

// RequestReset marks anchor for rematerialization on the next tick.
func (w *World) RequestReset(anchor store.ID) bool {
	if !w.Trees.Has(anchor) {
		return false
	}
	return w.Resets.Add(anchor)
}

// Status reports the terminal status of id, if any.
func (w *World) Status(id store.ID) (done, ok bool) {
	switch {
	case w.Successes.Has(id):
		return true, true
	case w.Failures.Has(id):
		return true, false
	}
	return false, false
}

// Descendants returns the handles below id in pre-order, excluding id.
func (w *World) Descendants(id store.ID) []store.ID {
	var out []store.ID
	var walk func(store.ID)
	walk = func(n store.ID) {
		for _, c := range w.childrenOf(n) {
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out
}

func (w *World) childrenOf(id store.ID) []store.ID {
	c, _ := w.Children.Get(id)
	return c
}

func (w *World) name(id store.ID) string {
	n, _ := w.Names.Get(id)
	return n
}

// scopes returns the blackboards properties of id evaluate against: the
// global one, then the one of the owning tree.
func (w *World) scopes(id store.ID) []*Blackboard {
	if anchor, ok := w.Owners.Get(id); ok {
		if tree, ok := w.Trees.Get(anchor); ok {
			return []*Blackboard{w.Blackboard, tree.Blackboard}
		}
	}
	return []*Blackboard{w.Blackboard}
}
