package behavior

import (
	"math/rand/v2"
	"slices"

	"github.com/joeycumines/behaviord/internal/store"
)

// maxDescent bounds how many delegations one node may chain within a single
// advance pass. A Subtree that (indirectly) embeds itself would otherwise
// never yield.
const maxDescent = 1 << 10

// Tick runs one engine step over every live tree: ResetPass, CompletePass
// then AdvancePass. The host advances Elapsed before calling it.
func (w *World) Tick() {
	w.ResetPass()
	w.CompletePass()
	w.AdvancePass()
}

// ResetPass rebuilds every tree anchor marked with ResetRequested from the
// tree's current document, clearing the marker.
func (w *World) ResetPass() {
	for _, anchor := range store.Query(w.Store, []store.Has{w.Trees, w.Resets}, nil) {
		w.Resets.Remove(anchor)
		tree, _ := w.Trees.Get(anchor)
		w.ClearTree(anchor)
		if tree.Document == nil || tree.Document.Root == nil {
			continue
		}
		root, err := Materialize(w, tree.Document.Root, anchor)
		if err != nil {
			w.Logger.Error("[engine] tree reset failed", "tree", anchor, "error", err)
			continue
		}
		tree.Root = root
		w.Logger.Debug("[engine] tree reset", "tree", anchor, "root", root)
	}
}

// CompletePass moves the cursor from every finished node to its parent and
// applies the parent's rule for a finished child. A parent that finishes as a
// result keeps the cursor and propagates on the next tick. Roots keep their
// terminal status.
func (w *World) CompletePass() {
	for _, id := range store.Query(w.Store, []store.Has{w.Cursors}, []store.Has{w.Running}) {
		done, ok := w.Status(id)
		if !done {
			continue
		}
		parent, has := w.Parents.Get(id)
		if !has || !w.Store.Alive(parent) {
			continue
		}
		w.Cursors.Remove(id)
		w.Cursors.Add(parent)
		if !w.Running.Has(parent) {
			w.Logger.Warn("[engine] child finished under idle parent", "node", id, "parent", parent)
			continue
		}
		w.childDone(parent, id, ok)
	}
}

// AdvancePass fails expired Timeout nodes, then moves every cursor that sits
// on an unfinished node: leaves are evaluated, composites and decorators
// either hand the cursor to a child, finish, or hold.
func (w *World) AdvancePass() {
	w.checkDeadlines()
	for _, id := range store.Query(w.Store, []store.Has{w.Cursors, w.Running}, []store.Has{w.Successes, w.Failures}) {
		if !w.Cursors.Has(id) || !w.Running.Has(id) {
			continue
		}
		w.advance(id)
	}
}

func (w *World) advance(id store.ID) {
	for range maxDescent {
		if w.Started.Has(id) {
			w.Started.Remove(id)
			w.onEnter(id)
		}
		next := w.step(id)
		if next == store.None {
			return
		}
		w.Cursors.Remove(id)
		w.enter(next)
		w.Logger.Debug("[engine] cursor moved", "from", id, "to", next)
		id = next
	}
	w.Logger.Warn("[engine] descent limit reached", "node", id)
}

// enter gives id the cursor as a freshly started, running node. Stale
// markers left in its subtree by a previous run are cleared.
func (w *World) enter(id store.ID) {
	w.clearMarkers(id)
	for _, d := range w.Descendants(id) {
		w.clearMarkers(d)
	}
	w.Cursors.Add(id)
	w.Running.Add(id)
	w.Started.Add(id)
}

func (w *World) clearMarkers(id store.ID) {
	w.Cursors.Remove(id)
	w.Running.Remove(id)
	w.Successes.Remove(id)
	w.Failures.Remove(id)
	w.Started.Remove(id)
}

// finish replaces Running with the terminal status. The cursor stays until
// CompletePass hands it to the parent.
func (w *World) finish(id store.ID, ok bool) {
	w.Running.Remove(id)
	if ok {
		w.Successes.Add(id)
		w.Trace.add(id, "SUCCESS", w.name(id))
	} else {
		w.Failures.Add(id)
		w.Trace.add(id, "FAILURE", w.name(id))
	}
	w.Logger.Debug("[engine] node finished", "node", id, "name", w.name(id), "success", ok)
}

func (w *World) missing(id store.ID, attribute string) {
	w.Logger.Warn("[engine] skipping node", "error", &MissingError{Node: id, Attribute: attribute})
}

func (w *World) onEnter(id store.ID) {
	data, ok := w.Data.Get(id)
	if !ok {
		w.missing(id, "NodeData")
		return
	}
	w.Trace.add(id, "STARTED", w.name(id))

	switch n := data.(type) {
	case *Debug:
		n.Remaining = n.Repeat
		n.Ticks = 0
		w.Logger.Info("[engine] debug", "node", id, "name", w.name(id), "message", n.Message)
	case *Wait:
		n.Start = w.Elapsed
		n.Ticks = 0
		n.Fail.Reset()
	case *Sequence:
		n.Progress = shuffle(len(w.childrenOf(id)), n.Random, &n.Seed)
	case *Selector:
		n.Progress = shuffle(len(w.childrenOf(id)), n.Random, &n.Seed)
	case *All:
		n.Progress = Progress{}
	case *Any:
		n.Progress = Progress{}
	case *Repeater:
		n.Count = 0
	case *Guard:
		n.Condition.Reset()
	case *Gate:
		n.Until.Reset()
		n.Ticks = 0
	case *Timeout:
		n.Start = w.Elapsed
	case *Delay:
		n.Start = w.Elapsed
	case *Inverter, *Succeeder, *Identity, *Subtree:
	}
}

// shuffle returns fresh composite progress. Random composites visit their
// children in a permutation drawn from seed, which is then advanced so the
// next entry draws a different one.
func shuffle(n int, random bool, seed *uint64) Progress {
	if !random || n < 2 {
		return Progress{}
	}
	r := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	p := Progress{Order: r.Perm(n)}
	*seed = r.Uint64()
	return p
}

func (p *Progress) child(children []store.ID) store.ID {
	i := p.Index
	if len(p.Order) == len(children) {
		i = p.Order[i]
	}
	return children[i]
}

// step evaluates id once. It returns the child to delegate to, or store.None
// if id finished or holds.
func (w *World) step(id store.ID) store.ID {
	data, ok := w.Data.Get(id)
	if !ok {
		w.missing(id, "NodeData")
		return store.None
	}
	children := w.childrenOf(id)

	switch n := data.(type) {
	case *Debug:
		n.Ticks++
		if n.Remaining > 0 {
			n.Remaining--
			return store.None
		}
		w.finish(id, !n.Fail)

	case *Wait:
		n.Ticks++
		if w.Elapsed-n.Start < seconds(n.Duration) {
			return store.None
		}
		fail, err := n.Fail.Resolve(w.Eval, w.scopes(id)...)
		if err != nil {
			w.Logger.Warn("[engine] property evaluation failed", "node", id, "error", err)
			fail = true
		}
		w.finish(id, !fail)

	case *Sequence:
		if n.Progress.Index >= len(children) {
			w.finish(id, true)
			return store.None
		}
		return n.Progress.child(children)

	case *Selector:
		if n.Progress.Index >= len(children) {
			w.finish(id, false)
			return store.None
		}
		return n.Progress.child(children)

	case *All:
		if n.Progress.Index >= len(children) {
			w.finish(id, n.Progress.Failures == 0)
			return store.None
		}
		return children[n.Progress.Index]

	case *Any:
		if n.Progress.Index >= len(children) {
			w.finish(id, n.Progress.Successes > 0)
			return store.None
		}
		return children[n.Progress.Index]

	case *Inverter, *Succeeder, *Identity, *Timeout:
		return w.only(id, children)

	case *Repeater:
		child := w.only(id, children)
		if child != store.None {
			n.Count++
		}
		return child

	case *Guard:
		open, err := n.Condition.Resolve(w.Eval, w.scopes(id)...)
		if err != nil {
			w.Logger.Warn("[engine] property evaluation failed", "node", id, "error", err)
			open = false
		}
		if !open {
			w.finish(id, false)
			return store.None
		}
		return w.only(id, children)

	case *Gate:
		n.Ticks++
		open, err := n.Until.Resolve(w.Eval, w.scopes(id)...)
		if err != nil {
			w.Logger.Warn("[engine] property evaluation failed", "node", id, "error", err)
			w.finish(id, false)
			return store.None
		}
		if !open {
			return store.None
		}
		return w.only(id, children)

	case *Delay:
		if w.Elapsed-n.Start < seconds(n.Duration) {
			return store.None
		}
		return w.only(id, children)

	case *Subtree:
		if len(children) > 0 {
			return w.only(id, children)
		}
		return w.loadSubtree(id, n)
	}
	return store.None
}

// only returns the single child of a decorator, failing the decorator if it
// does not have exactly one.
func (w *World) only(id store.ID, children []store.ID) store.ID {
	if len(children) != 1 {
		w.Logger.Warn("[engine] decorator needs exactly one child", "node", id, "children", len(children))
		w.finish(id, false)
		return store.None
	}
	return children[0]
}

func (w *World) loadSubtree(id store.ID, n *Subtree) store.ID {
	if w.Assets == nil {
		w.Logger.Warn("[engine] no asset source for subtree", "node", id, "asset", n.Asset)
		w.finish(id, false)
		return store.None
	}
	doc, ready, err := w.Assets.Document(n.Asset)
	if err != nil {
		w.Logger.Warn("[engine] subtree load failed", "node", id, "asset", n.Asset, "error", err)
		w.finish(id, false)
		return store.None
	}
	if !ready {
		return store.None
	}
	if doc == nil || doc.Root == nil {
		w.Logger.Warn("[engine] subtree asset is empty", "node", id, "asset", n.Asset)
		w.finish(id, false)
		return store.None
	}
	child, err := Materialize(w, doc.Root, id)
	if err != nil {
		w.Logger.Error("[engine] subtree materialize failed", "node", id, "asset", n.Asset, "error", err)
		w.finish(id, false)
		return store.None
	}
	w.Subtrees.Set(id, doc)
	return child
}

// childDone applies the rule of parent for a child that finished with ok.
// Parents that do not finish keep the cursor and are stepped again by the
// next AdvancePass.
func (w *World) childDone(parent, child store.ID, ok bool) {
	data, has := w.Data.Get(parent)
	if !has {
		w.missing(parent, "NodeData")
		return
	}
	children := w.childrenOf(parent)

	switch n := data.(type) {
	case *Sequence:
		if !ok {
			w.finish(parent, false)
			return
		}
		n.Progress.Successes++
		n.Progress.Index++
		if n.Progress.Index >= len(children) {
			w.finish(parent, true)
		}

	case *Selector:
		if ok {
			w.finish(parent, true)
			return
		}
		n.Progress.Failures++
		n.Progress.Index++
		if n.Progress.Index >= len(children) {
			w.finish(parent, false)
		}

	case *All:
		n.Progress.count(ok)
		if n.Progress.Index >= len(children) {
			w.finish(parent, n.Progress.Failures == 0)
		}

	case *Any:
		n.Progress.count(ok)
		if n.Progress.Index >= len(children) {
			w.finish(parent, n.Progress.Successes > 0)
		}

	case *Inverter:
		w.finish(parent, !ok)

	case *Succeeder:
		w.finish(parent, true)

	case *Identity, *Guard, *Gate, *Timeout, *Delay:
		w.finish(parent, ok)

	case *Repeater:
		switch n.Repeat {
		case RepeatTimes:
			if n.Count < n.Times {
				return
			}
			w.finish(parent, true)
		case RepeatUntilFailure:
			if !ok {
				w.finish(parent, true)
			}
		case RepeatUntilSuccess:
			if ok {
				w.finish(parent, true)
			}
		default:
			// forever
		}

	case *Subtree:
		if n.Unload {
			for _, c := range children {
				w.DespawnRecursive(c)
			}
			w.Children.Set(parent, nil)
			w.Subtrees.Remove(parent)
		}
		w.finish(parent, ok)

	case *Debug, *Wait:
		w.Logger.Warn("[engine] action has children", "node", parent, "child", child)
		w.finish(parent, false)
	}
}

func (p *Progress) count(ok bool) {
	if ok {
		p.Successes++
	} else {
		p.Failures++
	}
	p.Index++
}

// checkDeadlines fails every running Timeout whose child has not finished in
// time. The timed-out subtree is stopped and the cursor returns to the
// Timeout node.
func (w *World) checkDeadlines() {
	for _, id := range store.Query(w.Store, []store.Has{w.Running}, []store.Has{w.Cursors, w.Successes, w.Failures}) {
		if !w.Running.Has(id) {
			continue
		}
		data, _ := w.Data.Get(id)
		t, ok := data.(*Timeout)
		if !ok || w.Elapsed-t.Start < seconds(t.Duration) {
			continue
		}
		for _, d := range w.Descendants(id) {
			w.clearMarkers(d)
		}
		w.Cursors.Add(id)
		w.finish(id, false)
		w.Logger.Debug("[engine] timeout expired", "node", id, "name", w.name(id))
	}
}

// TreeCursors returns the handles holding the cursor within the tree anchored at
// anchor.
func (w *World) TreeCursors(anchor store.ID) []store.ID {
	var out []store.ID
	for _, id := range w.Descendants(anchor) {
		if w.Cursors.Has(id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
