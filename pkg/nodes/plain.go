package nodes

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/imaging"
	"github.com/wehubfusion/Daedalus/pkg/node"
)

// Math operations.
const (
	MathAdd      = "add"
	MathSubtract = "subtract"
	MathMultiply = "multiply"
	MathDivide   = "divide"
	MathPower    = "power"
)

// ErrDivisionByZero is returned by the math node when dividing by zero.
var ErrDivisionByZero = fmt.Errorf("%w: division by zero", derrors.ErrInvalidArgument)

func applyMath(operation string, a, b float64) (float64, error) {
	switch operation {
	case MathAdd:
		return a + b, nil
	case MathSubtract:
		return a - b, nil
	case MathMultiply:
		return a * b, nil
	case MathDivide:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	case MathPower:
		return math.Pow(a, b), nil
	}
	return 0, fmt.Errorf("%w: unsupported math operation %q", derrors.ErrInvalidArgument, operation)
}

// newMath combines two numbers. An unconnected b falls back to the "b"
// setting.
func newMath(_ Deps, config node.Config) (node.Node, error) {
	operation := config.Settings.String("operation", MathAdd)
	if _, err := applyMath(operation, 1, 1); err != nil {
		return nil, derrors.Configuration(err, "math")
	}
	fallback := config.Settings.Float("b", 0)
	schema := node.Schema{
		ID:      TypeMath,
		Name:    "Math",
		Kind:    node.KindPlain,
		Inputs:  []node.Port{{Name: "a"}, {Name: "b", Optional: true}},
		Outputs: []node.Port{{Name: "result"}},
	}
	return node.NewPlain(config.ID, schema, func(_ context.Context, inputs node.Values) (node.Values, error) {
		a, err := toFloat(inputs[0])
		if err != nil {
			return nil, err
		}
		b := fallback
		if inputs[1] != nil {
			if b, err = toFloat(inputs[1]); err != nil {
				return nil, err
			}
		}
		result, err := applyMath(operation, a, b)
		if err != nil {
			return nil, err
		}
		return node.Values{result}, nil
	}), nil
}

// newSaveImage writes one image per call. It has no outputs worth caching.
func newSaveImage(deps Deps, config node.Config) (node.Node, error) {
	if err := requireStore(deps, TypeSaveImage); err != nil {
		return nil, err
	}
	format := imaging.Format(config.Settings.String("format", string(imaging.FormatPNG)))
	schema := node.Schema{
		ID:     TypeSaveImage,
		Name:   "Save Image",
		Kind:   node.KindPlain,
		Inputs: []node.Port{{Name: "image"}, {Name: "name"}, {Name: "directory", Optional: true}},
	}
	logger := deps.Logger.With(zap.String("node_id", config.ID))

	return node.NewSideEffect(config.ID, schema, func(ctx context.Context, inputs node.Values) error {
		img, err := imageOf(inputs[:1])
		if err != nil {
			return err
		}
		dir := stringInput(inputs, 2, config.Settings, "directory")
		if dir == "" {
			return fmt.Errorf("%w: directory is required", derrors.ErrInvalidArgument)
		}
		path, err := writeImage(ctx, deps.Store, dir, fmt.Sprint(inputs[1]), img, format)
		if err != nil {
			return err
		}
		logger.Debug("saved image", zap.String("path", path))
		return nil
	}), nil
}
