package behavior

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTelemetry_States(t *testing.T) {
	t.Parallel()

	doc := NewBehavior("root", &Sequence{}, debug("a", 5, false), debug("b", 0, false))
	w, _, anchor := spawn(t, doc)
	step(w)

	tel, err := w.TreeTelemetry(anchor)
	require.NoError(t, err)
	assert.Equal(t, "root", tel.Name)
	assert.Equal(t, StateRunning, tel.State)
	require.Len(t, tel.Nodes, 2)
	assert.Equal(t, StateCursor, tel.Nodes[0].State)
	assert.Equal(t, StateNone, tel.Nodes[1].State)
	assert.Equal(t, uint64(4), tel.Nodes[0].Data.(*Debug).Remaining)

	tel.Nodes[0].Data.(*Debug).Remaining = 100
	live, _ := w.Data.Get(tel.Nodes[0].ID)
	assert.Equal(t, uint64(4), live.(*Debug).Remaining, "snapshot data is a copy")
}

func TestBuildTelemetry_StatePriority(t *testing.T) {
	t.Parallel()

	w, _, anchor := spawn(t, debug("only", 0, true))
	root := rootOf(t, w, anchor)
	step(w)
	require.True(t, w.Failures.Has(root))
	assert.Equal(t, StateCursor, w.StateOf(root), "cursor outranks the terminal marker")

	w.Cursors.Remove(root)
	assert.Equal(t, StateFailure, w.StateOf(root))
	w.Successes.Add(root)
	assert.Equal(t, StateFailure, w.StateOf(root))
}

func TestBuildTelemetry_ShapeMismatchIsSkipped(t *testing.T) {
	t.Parallel()

	doc := NewBehavior("root", &Sequence{}, debug("a", 0, false), debug("b", 0, false))
	w, _, anchor := spawn(t, doc)
	root := rootOf(t, w, anchor)

	longer := doc.Clone()
	longer.Nodes = append(longer.Nodes, debug("c", 0, false))
	tel, err := w.BuildTelemetry(root, longer)
	require.NoError(t, err)
	assert.Len(t, tel.Nodes, 2)

	shorter := doc.Clone()
	shorter.Nodes = shorter.Nodes[:1]
	tel, err = w.BuildTelemetry(root, shorter)
	require.NoError(t, err)
	assert.Len(t, tel.Nodes, 1)
}

func TestBuildTelemetry_MissingData(t *testing.T) {
	t.Parallel()

	doc := NewBehavior("root", &Sequence{}, debug("a", 0, false), debug("b", 0, false))
	w, _, anchor := spawn(t, doc)
	root := rootOf(t, w, anchor)
	children := w.childrenOf(root)

	w.Data.Remove(children[0])
	tel, err := w.BuildTelemetry(root, doc)
	require.NoError(t, err)
	require.Len(t, tel.Nodes, 1)
	assert.Equal(t, "b", tel.Nodes[0].Name)

	w.Data.Remove(root)
	_, err = w.BuildTelemetry(root, doc)
	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, root, missing.Node)
	assert.Equal(t, "NodeData", missing.Attribute)
}

func TestTelemetry_JSON(t *testing.T) {
	t.Parallel()

	doc := NewBehavior("root", &Sequence{}, debug("a", 5, false))
	w, _, anchor := spawn(t, doc)
	step(w)
	tel, err := w.TreeTelemetry(anchor)
	require.NoError(t, err)

	data, err := json.Marshal(tel)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"cursor"`)

	var got Telemetry
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, tel.ID, got.ID)
	assert.Equal(t, StateRunning, got.State)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, StateCursor, got.Nodes[0].State)
	assert.Equal(t, uint64(4), got.Nodes[0].Data.(*Debug).Remaining)

	var names []string
	got.Walk(func(n *Telemetry, depth int) bool {
		names = append(names, n.Name)
		return true
	})
	assert.Equal(t, []string{"root", "a"}, names)
}
