// Package collector defines terminal consumers of a sequence. A collector
// receives every successfully processed item through OnIterate and produces
// one aggregate value from OnComplete.
package collector

import (
	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Collector accumulates items into one result. OnIterate is called once per
// successfully completed task and never concurrently; OnComplete is called
// exactly once after the sequence is drained.
type Collector[T, R any] interface {
	OnIterate(item T) error
	OnComplete() (R, error)

	// Ordered reports whether the collector needs items in dispatch order.
	// The driver re-sorts completions for ordered collectors under the
	// parallel strategy.
	Ordered() bool
}

// Func builds a collector from closures.
type Func[T, R any] struct {
	Iterate  func(item T) error
	Complete func() (R, error)
	InOrder  bool
}

// OnIterate calls f.Iterate.
func (f Func[T, R]) OnIterate(item T) error {
	if f.Iterate == nil {
		return nil
	}
	return f.Iterate(item)
}

// OnComplete calls f.Complete.
func (f Func[T, R]) OnComplete() (R, error) {
	if f.Complete == nil {
		var zero R
		return zero, nil
	}
	return f.Complete()
}

// Ordered returns f.InOrder.
func (f Func[T, R]) Ordered() bool {
	return f.InOrder
}

// List collects every item into a slice in dispatch order.
func List[T any]() Collector[T, []T] {
	var items []T
	return Func[T, []T]{
		Iterate: func(item T) error {
			items = append(items, item)
			return nil
		},
		Complete: func() ([]T, error) {
			return items, nil
		},
		InOrder: true,
	}
}

// Length counts the items. It is the one collector that accepts an empty sequence by contract.
func Length[T any]() Collector[T, int] {
	n := 0
	return Func[T, int]{
		Iterate: func(T) error {
			n++
			return nil
		},
		Complete: func() (int, error) {
			return n, nil
		},
	}
}

// nonEmpty fails OnComplete when no item was collected.
type nonEmpty[T, R any] struct {
	Collector[T, R]
	name string
	seen bool
}

// RequireNonEmpty wraps c so that completing without items fails with ErrEmptySequence.
func RequireNonEmpty[T, R any](name string, c Collector[T, R]) Collector[T, R] {
	return &nonEmpty[T, R]{Collector: c, name: name}
}

func (c *nonEmpty[T, R]) OnIterate(item T) error {
	c.seen = true
	return c.Collector.OnIterate(item)
}

func (c *nonEmpty[T, R]) OnComplete() (R, error) {
	if !c.seen {
		var zero R
		return zero, derrors.Empty(c.name)
	}
	return c.Collector.OnComplete()
}
