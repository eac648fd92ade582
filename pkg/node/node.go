// Package node defines the contract a node must satisfy to take part in
// graph execution: positional inputs and outputs, a kind, the declaration of
// which slots are iterated, and one Invoke entry point.
package node

import (
	"context"
	"fmt"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Kind classifies how the graph executor treats a node.
type Kind string

const (
	KindPlain          Kind = "plain"
	KindNewIterator    Kind = "newIterator"
	KindIteratorHelper Kind = "iteratorHelper"
	KindIterator       Kind = "iterator"
	KindCollector      Kind = "collector"
	KindTransformer    Kind = "transformer"
)

// Values holds positional node inputs or outputs. Payloads are opaque to the
// runtime.
type Values []any

// Port describes one input or output slot.
type Port struct {
	Name     string
	Optional bool
}

// IteratorInputInfo lists the input slots that receive a new value for every
// item. All other inputs are constant across iterations.
type IteratorInputInfo struct {
	Inputs []int
}

// IteratorOutputInfo lists the output slots that carry per-item values. All
// other outputs are emitted once, such as a shared root directory.
type IteratorOutputInfo struct {
	Outputs []int
}

// Schema is the static description of a node.
type Schema struct {
	ID              string
	Name            string
	Kind            Kind
	Inputs          []Port
	Outputs         []Port
	IteratorInputs  []IteratorInputInfo
	IteratorOutputs []IteratorOutputInfo
}

// Validate checks that iterated slots exist and fit the node kind.
func (s Schema) Validate() error {
	if s.ID == "" {
		return derrors.Configuration(derrors.ErrInvalidArgument, "schema id is required")
	}
	for _, info := range s.IteratorInputs {
		for _, slot := range info.Inputs {
			if slot < 0 || slot >= len(s.Inputs) {
				return derrors.Configuration(derrors.ErrInvalidArgument, "%s: iterated input %d out of range", s.ID, slot)
			}
		}
	}
	for _, info := range s.IteratorOutputs {
		for _, slot := range info.Outputs {
			if slot < 0 || slot >= len(s.Outputs) {
				return derrors.Configuration(derrors.ErrInvalidArgument, "%s: iterated output %d out of range", s.ID, slot)
			}
		}
	}
	switch s.Kind {
	case KindNewIterator, KindIteratorHelper:
		if len(s.IteratorOutputs) == 0 {
			return derrors.Configuration(derrors.ErrInvalidArgument, "%s: %s node must declare iterated outputs", s.ID, s.Kind)
		}
	case KindCollector:
		if len(s.IteratorInputs) == 0 {
			return derrors.Configuration(derrors.ErrInvalidArgument, "%s: collector must declare iterated inputs", s.ID)
		}
	case KindTransformer:
		if len(s.IteratorInputs) == 0 || len(s.IteratorOutputs) == 0 {
			return derrors.Configuration(derrors.ErrInvalidArgument, "%s: transformer must declare iterated inputs and outputs", s.ID)
		}
	case KindPlain, KindIterator:
	default:
		return derrors.Configuration(derrors.ErrInvalidArgument, "%s: unknown kind %q", s.ID, s.Kind)
	}
	return nil
}

// IsIteratedInput reports whether input slot receives per-item values.
func (s Schema) IsIteratedInput(slot int) bool {
	for _, info := range s.IteratorInputs {
		for _, in := range info.Inputs {
			if in == slot {
				return true
			}
		}
	}
	return false
}

// IsIteratedOutput reports whether output slot carries per-item values.
func (s Schema) IsIteratedOutput(slot int) bool {
	for _, info := range s.IteratorOutputs {
		for _, out := range info.Outputs {
			if out == slot {
				return true
			}
		}
	}
	return false
}

// Node is the single interface the runtime invokes nodes through.
type Node interface {
	// ID returns the unique identifier of this node instance.
	ID() string

	// Schema returns the static description of the node.
	Schema() Schema

	// Invoke runs the node on positional inputs.
	Invoke(ctx context.Context, inputs Values) (Values, error)
}

// SideEffecting is implemented by nodes whose outputs must never be cached
// because running them changes the outside world.
type SideEffecting interface {
	HasSideEffects() bool
}

// HasSideEffects reports whether n declares side effects.
func HasSideEffects(n Node) bool {
	se, ok := n.(SideEffecting)
	return ok && se.HasSideEffects()
}

func checkInputs(s Schema, inputs Values) error {
	if len(inputs) != len(s.Inputs) {
		return fmt.Errorf("%w: %s expects %d inputs, got %d", derrors.ErrInvalidArgument, s.ID, len(s.Inputs), len(inputs))
	}
	for i, port := range s.Inputs {
		// Iterated inputs are fed per item, not at invocation.
		if inputs[i] == nil && !port.Optional && !s.IsIteratedInput(i) {
			return fmt.Errorf("%w: %s input %q is required", derrors.ErrInvalidArgument, s.ID, port.Name)
		}
	}
	return nil
}

func checkOutputs(s Schema, outputs Values) error {
	switch s.Kind {
	case KindNewIterator, KindTransformer:
		_, err := IterationOf(outputs)
		return err
	case KindCollector:
		_, err := GathererOf(outputs)
		return err
	}
	if len(outputs) != len(s.Outputs) {
		return fmt.Errorf("%s returned %d outputs, schema declares %d", s.ID, len(outputs), len(s.Outputs))
	}
	return nil
}
