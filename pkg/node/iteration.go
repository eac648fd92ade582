package node

import (
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/collector"
	"github.com/wehubfusion/Daedalus/pkg/sequence"
)

// Stream is the sequence passed between iteration nodes. Each item holds the
// values of the producer's iterated outputs, in slot order.
type Stream = sequence.Sequence[Values]

// Gatherer is the collector a collector node hands to the engine. It
// receives the values wired into the node's iterated inputs and returns the
// node's outputs once.
type Gatherer = collector.Collector[Values, Values]

// Iteration is the single output of newIterator and transformer nodes.
type Iteration struct {
	// Stream yields the per-item values.
	Stream *Stream
	// Extra holds the non-iterated outputs, in slot order. They are the
	// same for every item.
	Extra Values
	// Workers asks the engine to run per-item work on a pool of this size.
	// 0 leaves the engine's own strategy in place.
	Workers int
}

// Outputs spreads one item and the extra values back over the producer's
// output slots.
func (it *Iteration) Outputs(s Schema, item Values) (Values, error) {
	out := make(Values, len(s.Outputs))
	var iterated, extra int
	for slot := range s.Outputs {
		if s.IsIteratedOutput(slot) {
			if iterated >= len(item) {
				return nil, fmt.Errorf("%s: item carries %d values, output %d is missing", s.ID, len(item), slot)
			}
			out[slot] = item[iterated]
			iterated++
			continue
		}
		if extra < len(it.Extra) {
			out[slot] = it.Extra[extra]
		}
		extra++
	}
	return out, nil
}

// IterationOf extracts the iteration returned by a newIterator or
// transformer node.
func IterationOf(outputs Values) (*Iteration, error) {
	if len(outputs) != 1 {
		return nil, fmt.Errorf("expected a single iteration output, got %d values", len(outputs))
	}
	it, ok := outputs[0].(*Iteration)
	if !ok || it == nil || it.Stream == nil {
		return nil, fmt.Errorf("expected *Iteration output, got %T", outputs[0])
	}
	return it, nil
}

// GathererOf extracts the collector returned by a collector node.
func GathererOf(outputs Values) (Gatherer, error) {
	if len(outputs) != 1 {
		return nil, fmt.Errorf("expected a single collector output, got %d values", len(outputs))
	}
	g, ok := outputs[0].(Gatherer)
	if !ok || g == nil {
		return nil, fmt.Errorf("expected collector output, got %T", outputs[0])
	}
	return g, nil
}
