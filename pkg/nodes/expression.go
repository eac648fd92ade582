package nodes

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/node"
	"github.com/wehubfusion/Daedalus/pkg/sequence"
)

// filterEnv is the environment a filter expression is evaluated in: the
// item values, their position in the stream and the first value as a
// shorthand. Value is typed any so expressions over it are checked at run
// time.
type filterEnv struct {
	Item  []any `expr:"item"`
	Index int   `expr:"index"`
	Value any   `expr:"value"`
}

func expressionEnv(item node.Values, index int) filterEnv {
	return filterEnv{Item: []any(item), Index: index, Value: first(item)}
}

// compileFilter compiles a boolean expression against the item environment.
func compileFilter(source string) (*vm.Program, error) {
	if source == "" {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "expression is required")
	}
	program, err := expr.Compile(source, expr.Env(filterEnv{}), expr.AsBool())
	if err != nil {
		return nil, derrors.Configuration(err, "invalid expression %q", source)
	}
	return program, nil
}

// newFilterExpression keeps items for which an expr-lang expression holds,
// for example `value > 3 && index % 2 == 0`.
func newFilterExpression(_ Deps, config node.Config) (node.Node, error) {
	source := config.Settings.String("expression", "")
	program, err := compileFilter(source)
	if err != nil {
		return nil, err
	}
	return newTransformer(config, transformerSchema(TypeFilterExpression, "Filter Expression"),
		func(_ context.Context, in *node.Stream, _ node.Values) (*node.Stream, error) {
			indexed := sequence.Enumerate(in)
			kept := sequence.Filter(indexed, func(p sequence.Pair[int, node.Values]) (bool, error) {
				out, err := expr.Run(program, expressionEnv(p.Second, p.First))
				if err != nil {
					return false, fmt.Errorf("expression %q on item %d: %w", source, p.First, err)
				}
				keep, ok := out.(bool)
				if !ok {
					return false, fmt.Errorf("expression %q returned %T, not bool", source, out)
				}
				return keep, nil
			})
			return sequence.Map(kept, func(p sequence.Pair[int, node.Values]) (node.Values, error) {
				return p.Second, nil
			}), nil
		}), nil
}
