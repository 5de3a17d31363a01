package behavior

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Attributes carries editor metadata. It has no runtime effect.
type Attributes struct {
	Pos [2]float64 `yaml:"pos,flow" json:"pos"`
}

// Behavior is one node of a behavior document: a name, its typed payload,
// optional editor attributes and its ordered children.
type Behavior struct {
	Name  string
	Data  Node
	Attrs *Attributes
	Nodes []*Behavior
}

// Document is a persisted behavior tree.
type Document struct {
	Root *Behavior
}

// NewBehavior is shorthand for building documents in code.
func NewBehavior(name string, data Node, nodes ...*Behavior) *Behavior {
	return &Behavior{Name: name, Data: data, Nodes: nodes}
}

// Clone returns a deep copy of b.
func (b *Behavior) Clone() *Behavior {
	if b == nil {
		return nil
	}
	c := &Behavior{Name: b.Name}
	if b.Data != nil {
		c.Data = b.Data.Clone()
	}
	if b.Attrs != nil {
		attrs := *b.Attrs
		c.Attrs = &attrs
	}
	if b.Nodes != nil {
		c.Nodes = make([]*Behavior, len(b.Nodes))
		for i, n := range b.Nodes {
			c.Nodes[i] = n.Clone()
		}
	}
	return c
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return &Document{Root: d.Root.Clone()}
}

// Count returns the number of nodes in the document.
func (d *Document) Count() int {
	if d == nil {
		return 0
	}
	return d.Root.count()
}

func (b *Behavior) count() int {
	if b == nil {
		return 0
	}
	n := 1
	for _, c := range b.Nodes {
		n += c.count()
	}
	return n
}

// Equal reports whether a and b describe the same tree. Runtime state held
// in node payloads is ignored.
func Equal(a, b *Document) bool {
	if a == nil || b == nil {
		return a == b
	}
	return equalBehavior(a.Root, b.Root)
}

func equalBehavior(a, b *Behavior) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || len(a.Nodes) != len(b.Nodes) {
		return false
	}
	if (a.Attrs == nil) != (b.Attrs == nil) || (a.Attrs != nil && *a.Attrs != *b.Attrs) {
		return false
	}
	if !equalData(a.Data, b.Data) {
		return false
	}
	for i := range a.Nodes {
		if !equalBehavior(a.Nodes[i], b.Nodes[i]) {
			return false
		}
	}
	return true
}

// equalData compares the persisted form of two payloads.
func equalData(a, b Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() {
		return false
	}
	ay, err := yaml.Marshal(a)
	if err != nil {
		return false
	}
	by, err := yaml.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ay, by)
}

// yamlBehavior is the persisted shape of a Behavior.
type yamlBehavior struct {
	Name  string      `yaml:"name,omitempty"`
	Type  Kind        `yaml:"type"`
	Data  any         `yaml:"data,omitempty"`
	Attrs *Attributes `yaml:"attrs,omitempty"`
	Nodes []*Behavior `yaml:"nodes,omitempty"`
}

// MarshalYAML implements yaml.Marshaler.
func (b *Behavior) MarshalYAML() (any, error) {
	if b.Data == nil {
		return nil, fmt.Errorf("behavior %q has no data", b.Name)
	}
	return yamlBehavior{
		Name:  b.Name,
		Type:  b.Data.Kind(),
		Data:  b.Data,
		Attrs: b.Attrs,
		Nodes: b.Nodes,
	}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *Behavior) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name  string      `yaml:"name"`
		Type  Kind        `yaml:"type"`
		Data  yaml.Node   `yaml:"data"`
		Attrs *Attributes `yaml:"attrs"`
		Nodes []*Behavior `yaml:"nodes"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	data, err := New(raw.Type)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	if raw.Data.Kind != 0 {
		if err := raw.Data.Decode(data); err != nil {
			return fmt.Errorf("line %d: %s data: %w", raw.Data.Line, raw.Type, err)
		}
	}
	*b = Behavior{Name: raw.Name, Data: data, Attrs: raw.Attrs, Nodes: raw.Nodes}
	return nil
}

type yamlDocument struct {
	Root *Behavior `yaml:"root"`
}

// Encode serializes d in the asset format.
func Encode(d *Document) ([]byte, error) {
	if d == nil || d.Root == nil {
		return nil, fmt.Errorf("behavior: empty document")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(yamlDocument{Root: d.Root}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a document in the asset format.
func Decode(data []byte) (*Document, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("behavior: %w", err)
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("behavior: document has no root")
	}
	return &Document{Root: doc.Root}, nil
}

// jsonBehavior is the wire shape of a Behavior. Runtime state in payloads is
// included so telemetry can carry it.
type jsonBehavior struct {
	Name  string          `json:"name,omitempty"`
	Type  Kind            `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Attrs *Attributes     `json:"attrs,omitempty"`
	Nodes []*Behavior     `json:"nodes,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (b *Behavior) MarshalJSON() ([]byte, error) {
	if b.Data == nil {
		return nil, fmt.Errorf("behavior %q has no data", b.Name)
	}
	data, err := json.Marshal(b.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonBehavior{Name: b.Name, Type: b.Data.Kind(), Data: data, Attrs: b.Attrs, Nodes: b.Nodes})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Behavior) UnmarshalJSON(p []byte) error {
	var raw jsonBehavior
	if err := json.Unmarshal(p, &raw); err != nil {
		return err
	}
	data, err := decodeNodeJSON(raw.Type, raw.Data)
	if err != nil {
		return err
	}
	*b = Behavior{Name: raw.Name, Data: data, Attrs: raw.Attrs, Nodes: raw.Nodes}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Root *Behavior `json:"root"`
	}{d.Root})
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(p []byte) error {
	var raw struct {
		Root *Behavior `json:"root"`
	}
	if err := json.Unmarshal(p, &raw); err != nil {
		return err
	}
	if raw.Root == nil {
		return fmt.Errorf("behavior: document has no root")
	}
	d.Root = raw.Root
	return nil
}

func decodeNodeJSON(k Kind, data json.RawMessage) (Node, error) {
	n, err := New(k)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, n); err != nil {
			return nil, fmt.Errorf("%s data: %w", k, err)
		}
	}
	return n, nil
}
