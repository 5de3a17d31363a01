package behavior

import (
	"fmt"
	"sort"
)

// Kind identifies a node variant. It is the tag of the persisted tagged union.
type Kind string

const (
	KindDebug     Kind = "Debug"
	KindWait      Kind = "Wait"
	KindSequence  Kind = "Sequence"
	KindSelector  Kind = "Selector"
	KindAll       Kind = "All"
	KindAny       Kind = "Any"
	KindInverter  Kind = "Inverter"
	KindSucceeder Kind = "Succeeder"
	KindIdentity  Kind = "Identity"
	KindRepeater  Kind = "Repeater"
	KindGuard     Kind = "Guard"
	KindGate      Kind = "Gate"
	KindTimeout   Kind = "Timeout"
	KindDelay     Kind = "Delay"
	KindSubtree   Kind = "Subtree"
)

// Type groups kinds by how they treat their children.
type Type int

const (
	// TypeAction nodes are leaves.
	TypeAction Type = iota
	// TypeComposite nodes derive their result from many children.
	TypeComposite
	// TypeDecorator nodes wrap exactly one child.
	TypeDecorator
	// TypeSubtree nodes load their single child from another document.
	TypeSubtree
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeAction:
		return "action"
	case TypeComposite:
		return "composite"
	case TypeDecorator:
		return "decorator"
	case TypeSubtree:
		return "subtree"
	default:
		return "unknown"
	}
}

// Node is the typed payload of a behavior node. The set of implementations
// is closed: every kind is declared in this package and handled by an
// exhaustive switch in the engine.
type Node interface {
	// Kind returns the variant tag.
	Kind() Kind
	// Clone returns a deep copy, including runtime state.
	Clone() Node

	node()
}

// Info is the static description of a kind, used by editors.
type Info struct {
	Kind Kind
	Type Type
	Name string
	Icon string
	Desc string
}

var kinds = map[Kind]Info{
	KindDebug:     {KindDebug, TypeAction, "Debug", "👁", "Display a debug message and complete with success or failure"},
	KindWait:      {KindWait, TypeAction, "Wait", "⌛", "Wait for a specified amount of time and then complete with success or failure"},
	KindSequence:  {KindSequence, TypeComposite, "Sequence", "➡", "Run children in order until one fails"},
	KindSelector:  {KindSelector, TypeComposite, "Selector", "❓", "Run children in order until one succeeds"},
	KindAll:       {KindAll, TypeComposite, "All", "⇉", "Run every child, succeed only if all of them succeed"},
	KindAny:       {KindAny, TypeComposite, "Any", "⇶", "Run every child, succeed if any of them succeeds"},
	KindInverter:  {KindInverter, TypeDecorator, "Inverter", "!", "Invert the result of the child"},
	KindSucceeder: {KindSucceeder, TypeDecorator, "Succeeder", "✔", "Succeed regardless of the child result"},
	KindIdentity:  {KindIdentity, TypeDecorator, "Identity", "=", "Return the result of the child"},
	KindRepeater:  {KindRepeater, TypeDecorator, "Repeater", "🔁", "Repeat the child until a condition is met"},
	KindGuard:     {KindGuard, TypeDecorator, "Guard", "🚫", "Run the child only if the condition holds on entry"},
	KindGate:      {KindGate, TypeDecorator, "Gate", "🚪", "Wait until the trigger condition holds, then run the child"},
	KindTimeout:   {KindTimeout, TypeDecorator, "Timeout", "⏱", "Fail if the child does not finish within the time limit"},
	KindDelay:     {KindDelay, TypeDecorator, "Delay", "⏳", "Wait before running the child"},
	KindSubtree:   {KindSubtree, TypeSubtree, "Subtree", "🏃", "Run the root of another behavior document"},
}

// Describe returns the static description of k.
func Describe(k Kind) (Info, bool) {
	info, ok := kinds[k]
	return info, ok
}

// Kinds returns every known kind, sorted by name.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TypeOf returns the type of n.
func TypeOf(n Node) Type {
	return kinds[n.Kind()].Type
}

// New returns the default payload for k.
func New(k Kind) (Node, error) {
	switch k {
	case KindDebug:
		return &Debug{}, nil
	case KindWait:
		return &Wait{}, nil
	case KindSequence:
		return &Sequence{}, nil
	case KindSelector:
		return &Selector{}, nil
	case KindAll:
		return &All{}, nil
	case KindAny:
		return &Any{}, nil
	case KindInverter:
		return &Inverter{}, nil
	case KindSucceeder:
		return &Succeeder{}, nil
	case KindIdentity:
		return &Identity{}, nil
	case KindRepeater:
		return &Repeater{}, nil
	case KindGuard:
		return &Guard{Condition: Prop[bool]{Value: true}}, nil
	case KindGate:
		return &Gate{Until: Prop[bool]{Value: true}}, nil
	case KindTimeout:
		return &Timeout{}, nil
	case KindDelay:
		return &Delay{}, nil
	case KindSubtree:
		return &Subtree{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
}
