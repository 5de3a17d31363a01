// Package behavior implements the behavior-tree model and its tick engine.
//
// # Documents
//
// A [Document] is the persisted, immutable description of a tree: each
// [Behavior] has a name, a typed payload ([Node]) and ordered children.
// Documents are stored as YAML (see [Encode] and [Decode]) and travel over
// the wire as JSON.
//
// # Live trees
//
// [Materialize] expands a document into handles of a [World], attaching a
// cloned payload, a Children list and a Parents link to each handle. A tree
// is anchored on a handle carrying the [Tree] attribute, which remembers the
// document so the tree can be rebuilt after the source changes
// ([World.RequestReset]).
//
// # Ticking
//
// [World.Tick] advances every live tree by one step using marker sets:
// Cursor, Running, Success and Failure. At every tick boundary exactly one
// handle per unfinished tree carries the cursor.
//
//   - [World.ResetPass] rebuilds trees marked for reset.
//   - [World.CompletePass] moves the cursor from finished nodes to their
//     parents and applies the parent's rule (Sequence fails fast, Selector
//     succeeds fast, and so on).
//   - [World.AdvancePass] fails expired timeouts, then lets every node holding
//     the cursor act: leaves run, composites and decorators delegate to a
//     child, finish or hold.
//
// A node finishing moves the cursor up exactly one level per tick. A node
// that has been left keeps its terminal marker until it is entered again,
// so telemetry can show how the last run ended.
//
// # Properties
//
// [Prop] values are literals or expressions evaluated by an [Evaluator]
// against the global and per-tree [Blackboard]. [ExprEvaluator] (expr-lang)
// is the default; [JSEvaluator] runs JavaScript.
//
// # Telemetry
//
// [World.BuildTelemetry] zips a live subtree against its document and
// reports one [State] per node together with a copy of its payload.
package behavior
