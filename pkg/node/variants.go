package node

import (
	"context"
	"fmt"
)

// Func is the run function of a plain node.
type Func func(ctx context.Context, inputs Values) (Values, error)

// PlainNode wraps a pure function.
type PlainNode struct {
	id     string
	schema Schema
	fn     Func
}

// NewPlain creates a plain node.
func NewPlain(id string, schema Schema, fn Func) *PlainNode {
	return &PlainNode{id: id, schema: schema, fn: fn}
}

func (n *PlainNode) ID() string     { return n.id }
func (n *PlainNode) Schema() Schema { return n.schema }

// Invoke calls the run function and checks the output arity.
func (n *PlainNode) Invoke(ctx context.Context, inputs Values) (Values, error) {
	if err := checkInputs(n.schema, inputs); err != nil {
		return nil, err
	}
	out, err := n.fn(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if err := checkOutputs(n.schema, out); err != nil {
		return nil, err
	}
	return out, nil
}

// EffectFunc is the run function of a side-effect node.
type EffectFunc func(ctx context.Context, inputs Values) error

// SideEffectNode runs for its effect only, such as writing a file. Its
// outputs are always empty.
type SideEffectNode struct {
	id     string
	schema Schema
	fn     EffectFunc
}

// NewSideEffect creates a side-effect node.
func NewSideEffect(id string, schema Schema, fn EffectFunc) *SideEffectNode {
	return &SideEffectNode{id: id, schema: schema, fn: fn}
}

func (n *SideEffectNode) ID() string           { return n.id }
func (n *SideEffectNode) Schema() Schema       { return n.schema }
func (n *SideEffectNode) HasSideEffects() bool { return true }

// Invoke runs the effect and returns one nil value per declared output.
func (n *SideEffectNode) Invoke(ctx context.Context, inputs Values) (Values, error) {
	if err := checkInputs(n.schema, inputs); err != nil {
		return nil, err
	}
	if err := n.fn(ctx, inputs); err != nil {
		return nil, err
	}
	return make(Values, len(n.schema.Outputs)), nil
}

// Outcome is the eventual result of an async node.
type Outcome struct {
	Outputs Values
	Err     error
}

// AsyncFunc starts the work and returns a channel that receives exactly one outcome.
type AsyncFunc func(ctx context.Context, inputs Values) <-chan Outcome

// AsyncNode wraps work that completes in the background, such as waiting on a
// subprocess pipe or a download.
type AsyncNode struct {
	id     string
	schema Schema
	fn     AsyncFunc
}

// NewAsync creates an async node.
func NewAsync(id string, schema Schema, fn AsyncFunc) *AsyncNode {
	return &AsyncNode{id: id, schema: schema, fn: fn}
}

func (n *AsyncNode) ID() string     { return n.id }
func (n *AsyncNode) Schema() Schema { return n.schema }

// Invoke starts the work and awaits its outcome or the end of ctx.
func (n *AsyncNode) Invoke(ctx context.Context, inputs Values) (Values, error) {
	if err := checkInputs(n.schema, inputs); err != nil {
		return nil, err
	}
	select {
	case outcome, ok := <-n.fn(ctx, inputs):
		if !ok {
			return nil, fmt.Errorf("%s: async node closed without an outcome", n.schema.ID)
		}
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		if err := checkOutputs(n.schema, outcome.Outputs); err != nil {
			return nil, err
		}
		return outcome.Outputs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var (
	_ Node          = (*PlainNode)(nil)
	_ Node          = (*SideEffectNode)(nil)
	_ Node          = (*AsyncNode)(nil)
	_ SideEffecting = (*SideEffectNode)(nil)
)
