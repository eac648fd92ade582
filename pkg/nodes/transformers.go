package nodes

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"runtime"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/node"
	"github.com/wehubfusion/Daedalus/pkg/sequence"
)

// transformerSchema declares the upstream sequence on input 0 and the
// resulting sequence on output 0. extra lists further constant inputs.
func transformerSchema(id, name string, extra ...node.Port) node.Schema {
	return node.Schema{
		ID:              id,
		Name:            name,
		Kind:            node.KindTransformer,
		Inputs:          append([]node.Port{{Name: "sequence"}}, extra...),
		Outputs:         []node.Port{{Name: "sequence"}},
		IteratorInputs:  iteratedInputs(0),
		IteratorOutputs: iterated(0),
	}
}

// streamFunc derives a new stream from the upstream one.
type streamFunc func(ctx context.Context, in *node.Stream, inputs node.Values) (*node.Stream, error)

// newTransformer builds a transformer that keeps the upstream's shared values
// and worker count.
func newTransformer(config node.Config, schema node.Schema, fn streamFunc) node.Node {
	return node.NewPlain(config.ID, schema, func(ctx context.Context, inputs node.Values) (node.Values, error) {
		up, err := upstream(inputs, 0)
		if err != nil {
			return nil, err
		}
		stream, err := fn(ctx, up.Stream, inputs)
		if err != nil {
			return nil, err
		}
		return emit(stream, up.Extra, up.Workers), nil
	})
}

func newLimit(_ Deps, config node.Config) (node.Node, error) {
	count := config.Settings.Int("count", 0)
	return newTransformer(config, transformerSchema(TypeLimit, "Limit"),
		func(_ context.Context, in *node.Stream, _ node.Values) (*node.Stream, error) {
			return sequence.Limit(in, count)
		}), nil
}

func newSkip(_ Deps, config node.Config) (node.Node, error) {
	count := config.Settings.Int("count", 0)
	return newTransformer(config, transformerSchema(TypeSkip, "Skip"),
		func(_ context.Context, in *node.Stream, _ node.Values) (*node.Stream, error) {
			return sequence.Skip(in, count)
		}), nil
}

// newSlice keeps items start, start+step, ... below stop. An unset stop
// means the end of the sequence.
func newSlice(_ Deps, config node.Config) (node.Node, error) {
	start := config.Settings.Int("start", 0)
	step := config.Settings.Int("step", 1)
	stop, ok := config.Settings.OptionalInt("stop")
	if !ok {
		stop = math.MaxInt
	}
	return newTransformer(config, transformerSchema(TypeSlice, "Slice"),
		func(_ context.Context, in *node.Stream, _ node.Values) (*node.Stream, error) {
			return sequence.Slice(in, start, stop, step)
		}), nil
}

func newRepeat(_ Deps, config node.Config) (node.Node, error) {
	times := config.Settings.Int("times", 1)
	return newTransformer(config, transformerSchema(TypeRepeat, "Repeat"),
		func(_ context.Context, in *node.Stream, _ node.Values) (*node.Stream, error) {
			return sequence.Repeat(in, times)
		}), nil
}

func newReverse(_ Deps, config node.Config) (node.Node, error) {
	return newTransformer(config, transformerSchema(TypeReverse, "Reverse"),
		func(_ context.Context, in *node.Stream, _ node.Values) (*node.Stream, error) {
			return sequence.Reverse(in), nil
		}), nil
}

// newDeduplicate drops items whose value at slot was already seen.
func newDeduplicate(_ Deps, config node.Config) (node.Node, error) {
	slot := config.Settings.Int("slot", 0)
	return newTransformer(config, transformerSchema(TypeDeduplicate, "Deduplicate"),
		func(_ context.Context, in *node.Stream, _ node.Values) (*node.Stream, error) {
			return sequence.DeduplicateFunc(in, func(item node.Values) any {
				if slot >= len(item) {
					return nil
				}
				return dedupKey(item[slot])
			}), nil
		}), nil
}

// printedKey keys values that cannot be map keys. Its own type keeps it
// apart from plain string items.
type printedKey struct{ s string }

// dedupKey returns v itself when it can be a map key, and its printed form
// otherwise.
func dedupKey(v any) any {
	if v == nil {
		return nil
	}
	if rv := reflect.ValueOf(v); rv.Comparable() {
		return v
	}
	return printedKey{fmt.Sprintf("%T:%v", v, v)}
}

// newInterleave alternates between the upstream and a second sequence wired
// into the other input.
func newInterleave(_ Deps, config node.Config) (node.Node, error) {
	schema := transformerSchema(TypeInterleave, "Interleave", node.Port{Name: "other"})
	return newTransformer(config, schema,
		func(_ context.Context, in *node.Stream, inputs node.Values) (*node.Stream, error) {
			other, err := upstream(inputs, 1)
			if err != nil {
				return nil, err
			}
			return sequence.Interleave(in, other.Stream), nil
		}), nil
}

// newPermute yields every combination of the upstream and a second sequence.
// Each item holds the values of both.
func newPermute(_ Deps, config node.Config) (node.Node, error) {
	schema := transformerSchema(TypePermute, "Permute", node.Port{Name: "other"})
	return newTransformer(config, schema,
		func(_ context.Context, in *node.Stream, inputs node.Values) (*node.Stream, error) {
			other, err := upstream(inputs, 1)
			if err != nil {
				return nil, err
			}
			pairs := sequence.Permute(in, other.Stream)
			return sequence.Map(pairs, func(p sequence.Pair[node.Values, node.Values]) (node.Values, error) {
				item := make(node.Values, 0, len(p.First)+len(p.Second))
				item = append(item, p.First...)
				return append(item, p.Second...), nil
			}), nil
		}), nil
}

// newMultithread runs the per-item work behind it on a pool. Completion order
// is not preserved for unordered collectors.
func newMultithread(_ Deps, config node.Config) (node.Node, error) {
	workers := config.Settings.Int("workers", runtime.GOMAXPROCS(0))
	if workers < 1 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "workers must be at least 1, got %d", workers)
	}
	schema := transformerSchema(TypeMultithread, "Multithread")
	return node.NewPlain(config.ID, schema, func(_ context.Context, inputs node.Values) (node.Values, error) {
		up, err := upstream(inputs, 0)
		if err != nil {
			return nil, err
		}
		return emit(up.Stream, up.Extra, workers), nil
	}), nil
}

// Number conditions.
const (
	ConditionGreaterThan  = "GREATER_THAN"
	ConditionLessThan     = "LESS_THAN"
	ConditionEqual        = "EQUAL"
	ConditionNotEqual     = "NOT_EQUAL"
	ConditionGreaterEqual = "GREATER_EQUAL"
	ConditionLessEqual    = "LESS_EQUAL"
)

// compareNumber reports whether v satisfies condition against threshold.
func compareNumber(condition string, v, threshold float64) (bool, error) {
	switch condition {
	case ConditionGreaterThan:
		return v > threshold, nil
	case ConditionLessThan:
		return v < threshold, nil
	case ConditionEqual:
		return v == threshold, nil
	case ConditionNotEqual:
		return v != threshold, nil
	case ConditionGreaterEqual:
		return v >= threshold, nil
	case ConditionLessEqual:
		return v <= threshold, nil
	}
	return false, fmt.Errorf("%w: unsupported condition %q", derrors.ErrInvalidArgument, condition)
}

// newFilterNumber keeps items whose number at slot satisfies the condition.
// A value that is not a number fails its item.
func newFilterNumber(_ Deps, config node.Config) (node.Node, error) {
	condition := config.Settings.String("condition", ConditionGreaterThan)
	threshold := config.Settings.Float("threshold", 0)
	slot := config.Settings.Int("slot", 0)
	if _, err := compareNumber(condition, 0, 0); err != nil {
		return nil, derrors.Configuration(err, "filter_number")
	}
	return newTransformer(config, transformerSchema(TypeFilterNumber, "Filter Number"),
		func(_ context.Context, in *node.Stream, _ node.Values) (*node.Stream, error) {
			return sequence.Filter(in, func(item node.Values) (bool, error) {
				if slot >= len(item) {
					return false, fmt.Errorf("%w: item has no value at %d", derrors.ErrInvalidArgument, slot)
				}
				v, err := toFloat(item[slot])
				if err != nil {
					return false, err
				}
				return compareNumber(condition, v, threshold)
			}), nil
		}), nil
}
