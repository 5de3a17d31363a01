package behavior

import (
	"slices"
	"time"
)

// Fields tagged yaml:"-" are runtime state: they are never persisted, but
// they travel with telemetry so an inspector can show live progress.

// Debug logs its message on entry, stays running for Repeat ticks and then
// completes with failure if Fail is set, success otherwise.
type Debug struct {
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
	Fail    bool   `yaml:"fail,omitempty" json:"fail,omitempty"`
	Repeat  uint64 `yaml:"repeat,omitempty" json:"repeat,omitempty"`

	Remaining uint64 `yaml:"-" json:"remaining,omitempty"`
	Ticks     uint64 `yaml:"-" json:"ticks,omitempty"`
}

// Wait completes once Duration seconds have elapsed since entry.
type Wait struct {
	Duration float64    `yaml:"duration,omitempty" json:"duration,omitempty"`
	Fail     Prop[bool] `yaml:"fail,omitempty" json:"fail"`

	Start time.Duration `yaml:"-" json:"start,omitempty"`
	Ticks uint64        `yaml:"-" json:"ticks,omitempty"`
}

// Progress is the runtime state shared by composites.
type Progress struct {
	Index     int   `json:"index"`
	Order     []int `json:"order,omitempty"`
	Successes int   `json:"successes,omitempty"`
	Failures  int   `json:"failures,omitempty"`
}

func (p Progress) clone() Progress {
	p.Order = slices.Clone(p.Order)
	return p
}

// Sequence runs its children one at a time and fails on the first failure.
// With Random set the visiting order is shuffled on each entry, driven by Seed.
type Sequence struct {
	Random bool   `yaml:"random,omitempty" json:"random,omitempty"`
	Seed   uint64 `yaml:"seed,omitempty" json:"seed,omitempty"`

	Progress Progress `yaml:"-" json:"progress"`
}

// Selector runs its children one at a time and succeeds on the first success.
type Selector struct {
	Random bool   `yaml:"random,omitempty" json:"random,omitempty"`
	Seed   uint64 `yaml:"seed,omitempty" json:"seed,omitempty"`

	Progress Progress `yaml:"-" json:"progress"`
}

// All runs every child and succeeds only if every one of them succeeded.
type All struct {
	Progress Progress `yaml:"-" json:"progress"`
}

// Any runs every child and succeeds if at least one of them succeeded.
type Any struct {
	Progress Progress `yaml:"-" json:"progress"`
}

// Inverter swaps success and failure of its child.
type Inverter struct{}

// Succeeder succeeds whatever its child returned.
type Succeeder struct{}

// Identity returns its child's result unchanged.
type Identity struct{}

// RepeatMode selects when a Repeater stops.
type RepeatMode string

const (
	RepeatForever      RepeatMode = "forever"
	RepeatTimes        RepeatMode = "times"
	RepeatUntilFailure RepeatMode = "until-failure"
	RepeatUntilSuccess RepeatMode = "until-success"
)

// Repeater re-runs its child according to Repeat. In RepeatTimes mode the
// child runs Times times (at least once) and the repeater then succeeds.
type Repeater struct {
	Repeat RepeatMode `yaml:"repeat,omitempty" json:"repeat,omitempty"`
	Times  uint64     `yaml:"times,omitempty" json:"times,omitempty"`

	Count uint64 `yaml:"-" json:"count,omitempty"`
}

// Guard evaluates Condition once on entry. The child runs only if it is
// true; otherwise the guard fails without visiting the child.
type Guard struct {
	Condition Prop[bool] `yaml:"condition" json:"condition"`
}

// Gate re-evaluates Until every tick while it holds the cursor and runs its
// child as soon as the condition becomes true.
type Gate struct {
	Until Prop[bool] `yaml:"until" json:"until"`

	Ticks uint64 `yaml:"-" json:"ticks,omitempty"`
}

// Timeout fails if its child has not finished Duration seconds after entry.
type Timeout struct {
	Duration float64 `yaml:"duration,omitempty" json:"duration,omitempty"`

	Start time.Duration `yaml:"-" json:"start,omitempty"`
}

// Delay waits Duration seconds after entry before running its child.
type Delay struct {
	Duration float64 `yaml:"duration,omitempty" json:"duration,omitempty"`

	Start time.Duration `yaml:"-" json:"start,omitempty"`
}

// Subtree loads the document named by Asset and runs its root as its only
// child. With Unload set the child is despawned once it finishes.
type Subtree struct {
	Asset  string `yaml:"asset" json:"asset"`
	Unload bool   `yaml:"unload,omitempty" json:"unload,omitempty"`
}

func (*Debug) Kind() Kind     { return KindDebug }
func (*Wait) Kind() Kind      { return KindWait }
func (*Sequence) Kind() Kind  { return KindSequence }
func (*Selector) Kind() Kind  { return KindSelector }
func (*All) Kind() Kind       { return KindAll }
func (*Any) Kind() Kind       { return KindAny }
func (*Inverter) Kind() Kind  { return KindInverter }
func (*Succeeder) Kind() Kind { return KindSucceeder }
func (*Identity) Kind() Kind  { return KindIdentity }
func (*Repeater) Kind() Kind  { return KindRepeater }
func (*Guard) Kind() Kind     { return KindGuard }
func (*Gate) Kind() Kind      { return KindGate }
func (*Timeout) Kind() Kind   { return KindTimeout }
func (*Delay) Kind() Kind     { return KindDelay }
func (*Subtree) Kind() Kind   { return KindSubtree }

func (n *Debug) Clone() Node { c := *n; return &c }
func (n *Wait) Clone() Node  { c := *n; return &c }
func (n *Sequence) Clone() Node {
	c := *n
	c.Progress = n.Progress.clone()
	return &c
}
func (n *Selector) Clone() Node {
	c := *n
	c.Progress = n.Progress.clone()
	return &c
}
func (n *All) Clone() Node {
	c := *n
	c.Progress = n.Progress.clone()
	return &c
}
func (n *Any) Clone() Node {
	c := *n
	c.Progress = n.Progress.clone()
	return &c
}
func (n *Inverter) Clone() Node  { c := *n; return &c }
func (n *Succeeder) Clone() Node { c := *n; return &c }
func (n *Identity) Clone() Node  { c := *n; return &c }
func (n *Repeater) Clone() Node  { c := *n; return &c }
func (n *Guard) Clone() Node     { c := *n; return &c }
func (n *Gate) Clone() Node      { c := *n; return &c }
func (n *Timeout) Clone() Node   { c := *n; return &c }
func (n *Delay) Clone() Node     { c := *n; return &c }
func (n *Subtree) Clone() Node   { c := *n; return &c }

func (*Debug) node()     {}
func (*Wait) node()      {}
func (*Sequence) node()  {}
func (*Selector) node()  {}
func (*All) node()       {}
func (*Any) node()       {}
func (*Inverter) node()  {}
func (*Succeeder) node() {}
func (*Identity) node()  {}
func (*Repeater) node()  {}
func (*Guard) node()     {}
func (*Gate) node()      {}
func (*Timeout) node()   {}
func (*Delay) node()     {}
func (*Subtree) node()   {}

// seconds converts a document duration to a time.Duration.
func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
