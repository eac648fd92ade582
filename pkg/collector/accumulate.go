package collector

import (
	"math"
	"strings"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Operation is a numeric reduction.
type Operation string

const (
	OpSum     Operation = "SUM"
	OpProduct Operation = "PRODUCT"
	OpMaximum Operation = "MAXIMUM"
	OpMinimum Operation = "MINIMUM"
)

// ParseOperation parses an operation name, case-insensitively.
func ParseOperation(name string) (Operation, error) {
	op := Operation(strings.ToUpper(strings.TrimSpace(name)))
	switch op {
	case OpSum, OpProduct, OpMaximum, OpMinimum:
		return op, nil
	}
	return "", derrors.Configuration(derrors.ErrInvalidArgument, "unknown accumulate operation %q", name)
}

// Identity returns the neutral element of the operation, which is also the
// result of accumulating an empty sequence.
func (op Operation) Identity() float64 {
	switch op {
	case OpProduct:
		return 1
	case OpMaximum:
		return math.Inf(-1)
	case OpMinimum:
		return math.Inf(1)
	}
	return 0
}

// Apply combines the accumulator with one value.
func (op Operation) Apply(acc, v float64) float64 {
	switch op {
	case OpProduct:
		return acc * v
	case OpMaximum:
		return math.Max(acc, v)
	case OpMinimum:
		return math.Min(acc, v)
	}
	return acc + v
}

// Accumulate reduces numbers with op, seeded with op's neutral element.
func Accumulate(op Operation) (Collector[float64, float64], error) {
	if _, err := ParseOperation(string(op)); err != nil {
		return nil, err
	}
	acc := op.Identity()
	return Func[float64, float64]{
		Iterate: func(v float64) error {
			acc = op.Apply(acc, v)
			return nil
		},
		Complete: func() (float64, error) {
			return acc, nil
		},
	}, nil
}

// TextAppend joins strings with separator in dispatch order.
func TextAppend(separator string) Collector[string, string] {
	var parts []string
	return Func[string, string]{
		Iterate: func(s string) error {
			parts = append(parts, s)
			return nil
		},
		Complete: func() (string, error) {
			return strings.Join(parts, separator), nil
		},
		InOrder: true,
	}
}
