package behavior

import (
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/behaviord/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dt = 100 * time.Millisecond

func debug(name string, repeat uint64, fail bool) *Behavior {
	return NewBehavior(name, &Debug{Message: name, Repeat: repeat, Fail: fail})
}

func spawn(t *testing.T, root *Behavior, opts ...Option) (*World, *Trace, store.ID) {
	t.Helper()
	tr := NewTrace()
	w := NewWorld(append([]Option{WithTrace(tr)}, opts...)...)
	anchor, err := w.SpawnTree(&Document{Root: root}, "")
	require.NoError(t, err)
	return w, tr, anchor
}

func rootOf(t *testing.T, w *World, anchor store.ID) store.ID {
	t.Helper()
	tree, ok := w.Trees.Get(anchor)
	require.True(t, ok)
	return tree.Root
}

func step(w *World) {
	w.Elapsed += dt
	w.Tick()
}

// runTree ticks until the root finishes, checking the single cursor
// invariant after every tick, and returns the number of ticks taken.
func runTree(t *testing.T, w *World, anchor store.ID, limit int) int {
	t.Helper()
	root := rootOf(t, w, anchor)
	for i := 1; i <= limit; i++ {
		step(w)
		require.Len(t, w.TreeCursors(anchor), 1, "tick %d", i)
		if done, _ := w.Status(root); done {
			return i
		}
	}
	t.Fatalf("tree did not finish within %d ticks", limit)
	return 0
}

func TestSequence_AllSucceed(t *testing.T) {
	t.Parallel()

	w, tr, anchor := spawn(t, NewBehavior("root", &Sequence{},
		debug("a", 2, false),
		debug("b", 0, false),
		debug("c", 1, false),
	))
	root := rootOf(t, w, anchor)

	ticks := runTree(t, w, anchor, 50)
	done, ok := w.Status(root)
	require.True(t, done)
	assert.True(t, ok)

	// a holds for 3 ticks and c for 2, b finishes on the tick it is entered,
	// and each hand-back to the root costs one tick.
	assert.Equal(t, 7, ticks)
	assert.Equal(t, []string{
		"[2] STARTED root",
		"[3] STARTED a",
		"[3] SUCCESS a",
		"[4] STARTED b",
		"[4] SUCCESS b",
		"[5] STARTED c",
		"[5] SUCCESS c",
		"[2] SUCCESS root",
	}, tr.Entries())
}

func TestSequence_ShortCircuit(t *testing.T) {
	t.Parallel()

	w, tr, anchor := spawn(t, NewBehavior("root", &Sequence{},
		debug("a", 0, false),
		debug("b", 1, true),
		debug("c", 0, false),
	))
	root := rootOf(t, w, anchor)

	runTree(t, w, anchor, 50)
	done, ok := w.Status(root)
	require.True(t, done)
	assert.False(t, ok)
	assert.Equal(t, []string{
		"[2] STARTED root",
		"[3] STARTED a",
		"[3] SUCCESS a",
		"[4] STARTED b",
		"[4] FAILURE b",
		"[2] FAILURE root",
	}, tr.Entries())
	assert.Equal(t, StateNone, w.StateOf(5), "c is never visited")
}

func TestSelector_ShortCircuit(t *testing.T) {
	t.Parallel()

	w, tr, anchor := spawn(t, NewBehavior("root", &Selector{},
		debug("a", 0, false),
		debug("b", 0, false),
	))
	root := rootOf(t, w, anchor)

	runTree(t, w, anchor, 50)
	_, ok := w.Status(root)
	assert.True(t, ok)
	assert.Equal(t, []string{
		"[2] STARTED root",
		"[3] STARTED a",
		"[3] SUCCESS a",
		"[2] SUCCESS root",
	}, tr.Entries())
}

func TestSelector_AllFail(t *testing.T) {
	t.Parallel()

	w, tr, anchor := spawn(t, NewBehavior("root", &Selector{},
		debug("a", 0, true),
		debug("b", 0, true),
	))
	root := rootOf(t, w, anchor)

	runTree(t, w, anchor, 50)
	_, ok := w.Status(root)
	assert.False(t, ok)
	assert.Equal(t, "[2] FAILURE root", tr.Entries()[len(tr.Entries())-1])
}

func TestNestedComposites_ExactTrace(t *testing.T) {
	t.Parallel()

	w, tr, anchor := spawn(t, NewBehavior("root", &Sequence{},
		NewBehavior("sel", &Selector{},
			debug("f1", 0, true),
			debug("s1", 1, false),
		),
		NewBehavior("inv", &Inverter{},
			debug("f2", 0, true),
		),
		NewBehavior("inner", &Sequence{},
			debug("x", 0, false),
		),
	))
	root := rootOf(t, w, anchor)

	runTree(t, w, anchor, 100)
	_, ok := w.Status(root)
	assert.True(t, ok)
	assert.Equal(t, []string{
		"[2] STARTED root",
		"[3] STARTED sel",
		"[4] STARTED f1",
		"[4] FAILURE f1",
		"[5] STARTED s1",
		"[5] SUCCESS s1",
		"[3] SUCCESS sel",
		"[6] STARTED inv",
		"[7] STARTED f2",
		"[7] FAILURE f2",
		"[6] SUCCESS inv",
		"[8] STARTED inner",
		"[9] STARTED x",
		"[9] SUCCESS x",
		"[8] SUCCESS inner",
		"[2] SUCCESS root",
	}, tr.Entries())
}

func TestEmptyComposites(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		node Node
		want bool
	}{
		{&Sequence{}, true},
		{&All{}, true},
		{&Selector{}, false},
		{&Any{}, false},
	} {
		t.Run(string(tc.node.Kind()), func(t *testing.T) {
			t.Parallel()
			w, _, anchor := spawn(t, NewBehavior("root", tc.node))
			assert.Equal(t, 1, runTree(t, w, anchor, 5))
			_, ok := w.Status(rootOf(t, w, anchor))
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestAllAndAny_VisitEveryChild(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		node Node
		fail []bool
		want bool
	}{
		{"all succeed", &All{}, []bool{false, false}, true},
		{"all one fails", &All{}, []bool{false, true, false}, false},
		{"any one succeeds", &Any{}, []bool{true, false}, true},
		{"any none succeed", &Any{}, []bool{true, true}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var children []*Behavior
			for i, f := range tc.fail {
				children = append(children, debug(string(rune('a'+i)), 0, f))
			}
			w, tr, anchor := spawn(t, NewBehavior("root", tc.node, children...))
			runTree(t, w, anchor, 50)
			_, ok := w.Status(rootOf(t, w, anchor))
			assert.Equal(t, tc.want, ok)

			started := 0
			for _, e := range tr.Entries() {
				if e != "[2] STARTED root" && strings.Contains(e, "STARTED") {
					started++
				}
			}
			assert.Equal(t, len(tc.fail), started, "no short-circuit")
		})
	}
}

func countEntries(tr *Trace, entry string) int {
	n := 0
	for _, e := range tr.Entries() {
		if e == entry {
			n++
		}
	}
	return n
}

func TestRepeater(t *testing.T) {
	t.Parallel()

	t.Run("times", func(t *testing.T) {
		t.Parallel()
		w, tr, anchor := spawn(t, NewBehavior("rep", &Repeater{Repeat: RepeatTimes, Times: 3},
			debug("leaf", 0, true),
		))
		runTree(t, w, anchor, 50)
		_, ok := w.Status(rootOf(t, w, anchor))
		assert.True(t, ok)
		assert.Equal(t, 3, countEntries(tr, "[3] STARTED leaf"))
	})

	t.Run("until failure", func(t *testing.T) {
		t.Parallel()
		w, tr, anchor := spawn(t, NewBehavior("rep", &Repeater{Repeat: RepeatUntilFailure},
			debug("leaf", 0, true),
		))
		runTree(t, w, anchor, 50)
		_, ok := w.Status(rootOf(t, w, anchor))
		assert.True(t, ok)
		assert.Equal(t, 1, countEntries(tr, "[3] STARTED leaf"))
	})

	t.Run("until success never ends on failing child", func(t *testing.T) {
		t.Parallel()
		w, tr, anchor := spawn(t, NewBehavior("rep", &Repeater{Repeat: RepeatUntilSuccess},
			debug("leaf", 0, true),
		))
		for range 20 {
			step(w)
			require.Len(t, w.TreeCursors(anchor), 1)
		}
		done, _ := w.Status(rootOf(t, w, anchor))
		assert.False(t, done)
		assert.Greater(t, countEntries(tr, "[3] STARTED leaf"), 5)
	})

	t.Run("forever", func(t *testing.T) {
		t.Parallel()
		w, _, anchor := spawn(t, NewBehavior("rep", &Repeater{},
			debug("leaf", 0, false),
		))
		for range 10 {
			step(w)
		}
		data, _ := w.Data.Get(rootOf(t, w, anchor))
		assert.Equal(t, uint64(10), data.(*Repeater).Count, "child re-entered every tick")
	})
}

func TestSucceeder(t *testing.T) {
	t.Parallel()

	w, _, anchor := spawn(t, NewBehavior("s", &Succeeder{}, debug("leaf", 0, true)))
	runTree(t, w, anchor, 10)
	_, ok := w.Status(rootOf(t, w, anchor))
	assert.True(t, ok)
}

func TestDecorator_WrongChildCountFails(t *testing.T) {
	t.Parallel()

	w, _, anchor := spawn(t, NewBehavior("inv", &Inverter{}, debug("a", 0, false), debug("b", 0, false)))
	runTree(t, w, anchor, 5)
	_, ok := w.Status(rootOf(t, w, anchor))
	assert.False(t, ok)
}

func TestGuard(t *testing.T) {
	t.Parallel()

	t.Run("literal false skips child", func(t *testing.T) {
		t.Parallel()
		w, tr, anchor := spawn(t, NewBehavior("g", &Guard{Condition: Literal(false)}, debug("leaf", 0, false)))
		runTree(t, w, anchor, 5)
		_, ok := w.Status(rootOf(t, w, anchor))
		assert.False(t, ok)
		assert.Equal(t, []string{"[2] STARTED g", "[2] FAILURE g"}, tr.Entries())
	})

	t.Run("expression reads blackboard", func(t *testing.T) {
		t.Parallel()
		tr := NewTrace()
		w := NewWorld(WithTrace(tr))
		w.Blackboard.Set("ammo", 3)
		anchor, err := w.SpawnTree(&Document{Root: NewBehavior("g", &Guard{Condition: Expr[bool]("ammo > 0")}, debug("leaf", 0, false))}, "")
		require.NoError(t, err)
		runTree(t, w, anchor, 5)
		_, ok := w.Status(rootOf(t, w, anchor))
		assert.True(t, ok)
		assert.Contains(t, tr.Entries(), "[3] SUCCESS leaf")
	})

	t.Run("evaluation error fails", func(t *testing.T) {
		t.Parallel()
		w, _, anchor := spawn(t, NewBehavior("g", &Guard{Condition: Expr[bool]("1 +")}, debug("leaf", 0, false)))
		runTree(t, w, anchor, 5)
		root := rootOf(t, w, anchor)
		_, ok := w.Status(root)
		assert.False(t, ok)
		data, _ := w.Data.Get(root)
		assert.NotEmpty(t, data.(*Guard).Condition.Err)
	})
}

func TestGate_HoldsUntilConditionTrue(t *testing.T) {
	t.Parallel()

	w, tr, anchor := spawn(t, NewBehavior("gate", &Gate{Until: Expr[bool]("open == true")}, debug("leaf", 0, false)))
	root := rootOf(t, w, anchor)
	for range 5 {
		step(w)
	}
	assert.Equal(t, StateCursor, w.StateOf(root))
	assert.Equal(t, 0, countEntries(tr, "[3] STARTED leaf"))

	tree, _ := w.Trees.Get(anchor)
	tree.Blackboard.Set("open", true)
	runTree(t, w, anchor, 5)
	_, ok := w.Status(root)
	assert.True(t, ok)
	assert.Equal(t, 1, countEntries(tr, "[3] STARTED leaf"))
}

func TestTimeout_FailsSlowChild(t *testing.T) {
	t.Parallel()

	w, tr, anchor := spawn(t, NewBehavior("t", &Timeout{Duration: 1}, debug("slow", 1000, false)))
	root := rootOf(t, w, anchor)

	ticks := runTree(t, w, anchor, 50)
	_, ok := w.Status(root)
	assert.False(t, ok)
	assert.Equal(t, 11, ticks)
	assert.Equal(t, StateNone, w.StateOf(3), "timed-out child is stopped")
	assert.Equal(t, []string{"[2] STARTED t", "[3] STARTED slow", "[2] FAILURE t"}, tr.Entries())
}

func TestTimeout_PassesFastChild(t *testing.T) {
	t.Parallel()

	w, _, anchor := spawn(t, NewBehavior("t", &Timeout{Duration: 1}, debug("fast", 2, true)))
	runTree(t, w, anchor, 50)
	_, ok := w.Status(rootOf(t, w, anchor))
	assert.False(t, ok, "child result is passed through")
	assert.Equal(t, StateFailure, w.StateOf(3))
}

func TestDelay(t *testing.T) {
	t.Parallel()

	w, tr, anchor := spawn(t, NewBehavior("d", &Delay{Duration: 0.5}, debug("leaf", 0, false)))
	for range 4 {
		step(w)
	}
	assert.Equal(t, 0, countEntries(tr, "[3] STARTED leaf"))
	runTree(t, w, anchor, 10)
	_, ok := w.Status(rootOf(t, w, anchor))
	assert.True(t, ok)
}

func TestWait(t *testing.T) {
	t.Parallel()

	w, _, anchor := spawn(t, NewBehavior("w", &Wait{Duration: 0.3}))
	ticks := runTree(t, w, anchor, 10)
	assert.Equal(t, 4, ticks)
	_, ok := w.Status(rootOf(t, w, anchor))
	assert.True(t, ok)

	w, _, anchor = spawn(t, NewBehavior("w", &Wait{Fail: Expr[bool]("1 +")}))
	runTree(t, w, anchor, 10)
	_, ok = w.Status(rootOf(t, w, anchor))
	assert.False(t, ok)
}

type fakeAssets struct {
	docs    map[string]*Document
	pending int
	calls   int
}

func (f *fakeAssets) Document(asset string) (*Document, bool, error) {
	f.calls++
	if f.calls <= f.pending {
		return nil, false, nil
	}
	doc, ok := f.docs[asset]
	if !ok {
		return nil, false, assert.AnError
	}
	return doc, true, nil
}

func TestSubtree(t *testing.T) {
	t.Parallel()

	assets := &fakeAssets{
		docs:    map[string]*Document{"leaf": {Root: debug("inner", 0, false)}},
		pending: 2,
	}
	doc := NewBehavior("root", &Sequence{},
		NewBehavior("sub", &Subtree{Asset: "leaf", Unload: true}),
	)
	w, tr, anchor := spawn(t, doc, WithAssets(assets))
	root := rootOf(t, w, anchor)

	step(w)
	step(w)
	assert.Empty(t, w.childrenOf(3), "asset still loading")
	step(w)
	require.Len(t, w.childrenOf(3), 1)
	inner := w.childrenOf(3)[0]

	tel, err := w.BuildTelemetry(root, doc)
	require.NoError(t, err)
	require.Len(t, tel.Nodes, 1)
	require.Len(t, tel.Nodes[0].Nodes, 1)
	assert.Equal(t, "inner", tel.Nodes[0].Nodes[0].Name)

	runTree(t, w, anchor, 10)
	_, ok := w.Status(root)
	assert.True(t, ok)
	assert.Contains(t, tr.Entries(), "[4] SUCCESS inner")
	assert.False(t, w.Store.Alive(inner), "unloaded after completion")
	assert.Empty(t, w.childrenOf(3))
}

func TestSubtree_MissingAssetFails(t *testing.T) {
	t.Parallel()

	w, _, anchor := spawn(t, NewBehavior("sub", &Subtree{Asset: "nope"}), WithAssets(&fakeAssets{}))
	runTree(t, w, anchor, 5)
	_, ok := w.Status(rootOf(t, w, anchor))
	assert.False(t, ok)
}

func TestRandomSequence_DeterministicPermutation(t *testing.T) {
	t.Parallel()

	build := func() *Behavior {
		return NewBehavior("root", &Sequence{Random: true, Seed: 42},
			debug("a", 0, false), debug("b", 0, false), debug("c", 0, false), debug("d", 0, false),
		)
	}
	w1, tr1, a1 := spawn(t, build())
	w2, tr2, a2 := spawn(t, build())
	runTree(t, w1, a1, 50)
	runTree(t, w2, a2, 50)
	assert.Equal(t, tr1.Entries(), tr2.Entries())
	for _, name := range []string{"a", "b", "c", "d"} {
		found := false
		for _, e := range tr1.Entries() {
			if strings.Contains(e, "SUCCESS "+name) {
				found = true
			}
		}
		assert.True(t, found, name)
	}
}

func TestResetPass_RebuildsFromDocument(t *testing.T) {
	t.Parallel()

	w, tr, anchor := spawn(t, debug("old", 0, false))
	oldRoot := rootOf(t, w, anchor)
	runTree(t, w, anchor, 5)

	tree, _ := w.Trees.Get(anchor)
	tree.Document = &Document{Root: NewBehavior("new", &Sequence{}, debug("leaf", 0, false))}
	require.True(t, w.RequestReset(anchor))
	tr.Reset()
	step(w)

	assert.False(t, w.Store.Alive(oldRoot))
	assert.False(t, w.Resets.Has(anchor))
	newRoot := rootOf(t, w, anchor)
	assert.NotEqual(t, oldRoot, newRoot)
	name, _ := w.Names.Get(newRoot)
	assert.Equal(t, "new", name)
	assert.Equal(t, []string{
		"[3] STARTED new",
		"[4] STARTED leaf",
		"[4] SUCCESS leaf",
	}, tr.Entries())
}

func TestInsertTree_RejectsBehaviorNodes(t *testing.T) {
	t.Parallel()

	w, _, anchor := spawn(t, NewBehavior("root", &Sequence{}, debug("a", 1, false), debug("b", 0, false)))
	root := rootOf(t, w, anchor)
	leaf := w.childrenOf(root)[0]
	step(w)
	before := w.Descendants(anchor)
	live := w.Store.Len()

	other := &Document{Root: debug("other", 0, false)}
	for _, id := range []store.ID{root, leaf} {
		err := w.InsertTree(id, other, "other")
		require.ErrorIs(t, err, ErrBehaviorNode)
		assert.False(t, w.Trees.Has(id))
	}
	assert.Equal(t, before, w.Descendants(anchor))
	assert.Equal(t, live, w.Store.Len())
	assert.Empty(t, w.childrenOf(leaf))

	// The host tree still finishes with one cursor throughout.
	runTree(t, w, anchor, 10)
	done, ok := w.Status(root)
	assert.True(t, done)
	assert.True(t, ok)

	// The anchor itself can be re-targeted.
	require.NoError(t, w.InsertTree(anchor, other, "other"))
	assert.Len(t, w.TreeCursors(anchor), 1)
}

func TestMaterialize(t *testing.T) {
	t.Parallel()

	t.Run("links children in document order", func(t *testing.T) {
		t.Parallel()
		w := NewWorld()
		doc := NewBehavior("root", &Sequence{}, debug("a", 0, false), NewBehavior("b", &Inverter{}, debug("c", 0, false)))
		root, err := Materialize(w, doc, store.None)
		require.NoError(t, err)

		assert.Equal(t, 4, w.Store.Len())
		assert.True(t, w.Cursors.Has(root))
		assert.True(t, w.Running.Has(root))
		children := w.childrenOf(root)
		require.Len(t, children, 2)
		nameA, _ := w.Names.Get(children[0])
		nameB, _ := w.Names.Get(children[1])
		assert.Equal(t, []string{"a", "b"}, []string{nameA, nameB})
		parent, ok := w.Parents.Get(children[1])
		require.True(t, ok)
		assert.Equal(t, root, parent)
		_, ok = w.Parents.Get(root)
		assert.False(t, ok)

		data, _ := w.Data.Get(children[0])
		data.(*Debug).Message = "changed"
		assert.Equal(t, "a", doc.Nodes[0].Data.(*Debug).Message, "payload is cloned")
	})

	t.Run("exhaustion rolls back", func(t *testing.T) {
		t.Parallel()
		w := NewWorld(WithMaxNodes(3))
		doc := NewBehavior("root", &Sequence{}, debug("a", 0, false), debug("b", 0, false), debug("c", 0, false))
		_, err := Materialize(w, doc, store.None)
		require.ErrorIs(t, err, store.ErrExhausted)
		assert.Equal(t, 0, w.Store.Len())
	})
}

func TestRootKeepsTerminalStatus(t *testing.T) {
	t.Parallel()

	w, _, anchor := spawn(t, debug("only", 0, false))
	root := rootOf(t, w, anchor)
	runTree(t, w, anchor, 5)
	for range 3 {
		step(w)
	}
	assert.True(t, w.Successes.Has(root))
	assert.True(t, w.Cursors.Has(root))
}
