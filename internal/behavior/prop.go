package behavior

import (
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
)

// Prop is a node property that is either a literal Value or an Eval
// expression resolved against the tree's blackboard at runtime.
//
// In documents a literal is written as the bare value and an expression as
// a mapping with a single "eval" key:
//
//	condition: true
//	condition: {eval: "ammo > 0"}
//
// Result, Err and Ready hold the outcome of the last evaluation. They are
// runtime state and are not persisted.
type Prop[T any] struct {
	Value T      `json:"value"`
	Eval  string `json:"eval,omitempty"`

	Result T      `json:"result"`
	Err    string `json:"err,omitempty"`
	Ready  bool   `json:"ready,omitempty"`
}

// Literal returns a Prop holding v.
func Literal[T any](v T) Prop[T] {
	return Prop[T]{Value: v}
}

// Expr returns a Prop evaluating src.
func Expr[T any](src string) Prop[T] {
	return Prop[T]{Eval: src}
}

// IsZero reports whether the persisted part of p is empty.
func (p Prop[T]) IsZero() bool {
	return p.Eval == "" && reflect.ValueOf(&p.Value).Elem().IsZero()
}

// Reset clears the runtime result.
func (p *Prop[T]) Reset() {
	var zero T
	p.Result = zero
	p.Err = ""
	p.Ready = false
}

// Resolve evaluates p using ev against scopes, storing the outcome. A literal
// resolves to its Value without touching ev.
func (p *Prop[T]) Resolve(ev Evaluator, scopes ...*Blackboard) (T, error) {
	p.Reset()
	if p.Eval == "" {
		p.Result, p.Ready = p.Value, true
		return p.Result, nil
	}
	if ev == nil {
		err := fmt.Errorf("no evaluator for expression %q", p.Eval)
		p.Err = err.Error()
		return p.Result, err
	}
	raw, err := ev.Eval(p.Eval, scopes...)
	if err != nil {
		p.Err = err.Error()
		return p.Result, err
	}
	v, ok := raw.(T)
	if !ok {
		err := fmt.Errorf("expression %q returned %T, want %T", p.Eval, raw, p.Value)
		p.Err = err.Error()
		return p.Result, err
	}
	p.Result, p.Ready = v, true
	return v, nil
}

// MarshalYAML implements yaml.Marshaler.
func (p Prop[T]) MarshalYAML() (any, error) {
	if p.Eval != "" {
		return map[string]string{"eval": p.Eval}, nil
	}
	return p.Value, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Prop[T]) UnmarshalYAML(value *yaml.Node) error {
	*p = Prop[T]{}
	if value.Kind == yaml.MappingNode {
		var m struct {
			Eval string `yaml:"eval"`
		}
		if err := value.Decode(&m); err != nil {
			return err
		}
		if m.Eval == "" {
			return fmt.Errorf("line %d: property mapping needs an eval key", value.Line)
		}
		p.Eval = m.Eval
		return nil
	}
	return value.Decode(&p.Value)
}
