package behavior

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joeycumines/behaviord/internal/store"
)

// State is the single status tag telemetry reports per node.
type State int

const (
	StateNone State = iota
	StateSuccess
	StateFailure
	StateRunning
	StateCursor
)

var stateNames = [...]string{"none", "success", "failure", "running", "cursor"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(p []byte) error {
	for i, n := range stateNames {
		if n == string(p) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("behavior: unknown state %q", p)
}

// Telemetry is a snapshot of one live node: its state, a copy of its
// payload and the snapshots of its children, shaped like the source
// document.
type Telemetry struct {
	ID    store.ID
	Name  string
	State State
	Data  Node
	Nodes []*Telemetry
}

// StateOf returns the state of id. A node can briefly carry more than one
// marker, so the precedence is Cursor, Running, Failure, Success.
func (w *World) StateOf(id store.ID) State {
	switch {
	case w.Cursors.Has(id):
		return StateCursor
	case w.Running.Has(id):
		return StateRunning
	case w.Failures.Has(id):
		return StateFailure
	case w.Successes.Has(id):
		return StateSuccess
	default:
		return StateNone
	}
}

// BuildTelemetry zips the live subtree at id against doc. Children are
// walked pairwise; when the live and document child lists differ in length
// the extra entries are skipped with a warning. A child that lacks its
// payload is skipped too. Only a problem with id itself is an error.
//
// Subtree nodes are zipped against the document they loaded rather than
// their (childless) node in doc.
func (w *World) BuildTelemetry(id store.ID, doc *Behavior) (*Telemetry, error) {
	if !w.Store.Alive(id) {
		return nil, &MissingError{Node: id, Attribute: "handle"}
	}
	data, ok := w.Data.Get(id)
	if !ok {
		return nil, &MissingError{Node: id, Attribute: "NodeData"}
	}
	if doc == nil {
		return nil, fmt.Errorf("behavior: no document for node %s", id)
	}

	t := &Telemetry{
		ID:    id,
		Name:  w.name(id),
		State: w.StateOf(id),
		Data:  data.Clone(),
	}

	docChildren := doc.Nodes
	if sub, ok := w.Subtrees.Get(id); ok && sub.Root != nil {
		docChildren = []*Behavior{sub.Root}
	}
	live := w.childrenOf(id)
	if len(live) != len(docChildren) {
		w.Logger.Warn("[telemetry] live tree and document diverge",
			"node", id, "name", t.Name, "live", len(live), "document", len(docChildren))
	}
	for i := 0; i < len(live) && i < len(docChildren); i++ {
		child, err := w.BuildTelemetry(live[i], docChildren[i])
		if err != nil {
			var missing *MissingError
			if errors.As(err, &missing) {
				w.Logger.Warn("[telemetry] skipping child", "node", id, "error", err)
				continue
			}
			return nil, err
		}
		t.Nodes = append(t.Nodes, child)
	}
	return t, nil
}

// TreeTelemetry builds the snapshot of the tree anchored at anchor.
func (w *World) TreeTelemetry(anchor store.ID) (*Telemetry, error) {
	tree, ok := w.Trees.Get(anchor)
	if !ok {
		return nil, &MissingError{Node: anchor, Attribute: "TreeRoot"}
	}
	if tree.Document == nil || tree.Root == store.None {
		return nil, &MissingError{Node: anchor, Attribute: "Document"}
	}
	return w.BuildTelemetry(tree.Root, tree.Document.Root)
}

// Walk visits t and its descendants in pre-order. Returning false stops the
// walk below the current node.
func (t *Telemetry) Walk(fn func(t *Telemetry, depth int) bool) {
	t.walk(fn, 0)
}

func (t *Telemetry) walk(fn func(*Telemetry, int) bool, depth int) {
	if t == nil || !fn(t, depth) {
		return
	}
	for _, c := range t.Nodes {
		c.walk(fn, depth+1)
	}
}

type jsonTelemetry struct {
	ID    store.ID        `json:"id"`
	Name  string          `json:"name,omitempty"`
	State State           `json:"state"`
	Type  Kind            `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Nodes []*Telemetry    `json:"nodes,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t *Telemetry) MarshalJSON() ([]byte, error) {
	if t.Data == nil {
		return nil, fmt.Errorf("behavior: telemetry for %s has no data", t.ID)
	}
	data, err := json.Marshal(t.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonTelemetry{ID: t.ID, Name: t.Name, State: t.State, Type: t.Data.Kind(), Data: data, Nodes: t.Nodes})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Telemetry) UnmarshalJSON(p []byte) error {
	var raw jsonTelemetry
	if err := json.Unmarshal(p, &raw); err != nil {
		return err
	}
	data, err := decodeNodeJSON(raw.Type, raw.Data)
	if err != nil {
		return err
	}
	*t = Telemetry{ID: raw.ID, Name: raw.Name, State: raw.State, Data: data, Nodes: raw.Nodes}
	return nil
}
