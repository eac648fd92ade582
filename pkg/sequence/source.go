package sequence

import (
	"iter"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// FromList wraps a list whose length is already known. before is called
// lazily for each item when the sequence is driven, never at construction.
func FromList[T, R any](items []T, before func(item T, index int) (R, error), opts ...Option) *Sequence[R] {
	o := applyOptions(opts)
	return &Sequence[R]{
		factory: func() iter.Seq2[R, error] {
			return func(yield func(R, error) bool) {
				for i, item := range items {
					if !yield(before(item, i)) {
						return
					}
				}
			}
		},
		length:      len(items),
		known:       true,
		failFast:    o.failFast,
		restartable: true,
	}
}

// Of builds a restartable sequence over the given items.
func Of[T any](items ...T) *Sequence[T] {
	return FromList(items, func(item T, _ int) (T, error) { return item, nil })
}

// FromRange synthesizes count items that are pure functions of their index.
func FromRange[R any](count int, before func(index int) (R, error), opts ...Option) (*Sequence[R], error) {
	if count < 0 {
		return nil, derrors.Configuration(derrors.ErrInvalidLength, "range count %d is negative", count)
	}
	o := applyOptions(opts)
	return &Sequence[R]{
		factory: func() iter.Seq2[R, error] {
			return func(yield func(R, error) bool) {
				for i := 0; i < count; i++ {
					if !yield(before(i)) {
						return
					}
				}
			}
		},
		length:      count,
		known:       true,
		failFast:    o.failFast,
		restartable: true,
	}, nil
}

// FromSupplier wraps an arbitrary generator such as frames read from a
// decoder process. length is nil when the number of items is truly unknown.
// The resulting sequence is single-pass.
func FromSupplier[T any](supplier func() iter.Seq2[T, error], length *int, opts ...Option) (*Sequence[T], error) {
	if supplier == nil {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "supplier is required")
	}
	s := &Sequence[T]{factory: supplier}
	if length != nil {
		if *length < 0 {
			return nil, derrors.Configuration(derrors.ErrInvalidLength, "expected length %d is negative", *length)
		}
		s.length, s.known = *length, true
	}
	o := applyOptions(opts)
	s.failFast, s.release = o.failFast, o.release
	return s, nil
}

// FromProbe builds a run-while sequence: next is called with increasing
// indices until it reports ok=false or count items were produced. count is an
// upper bound, not a promise, so the expected length is unknown.
func FromProbe[T any](count int, next func(index int) (T, bool, error), opts ...Option) (*Sequence[T], error) {
	if count < 0 {
		return nil, derrors.Configuration(derrors.ErrInvalidLength, "probe count %d is negative", count)
	}
	if next == nil {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "probe function is required")
	}
	o := applyOptions(opts)
	return &Sequence[T]{
		factory: func() iter.Seq2[T, error] {
			return func(yield func(T, error) bool) {
				for i := 0; i < count; i++ {
					item, ok, err := next(i)
					if err == nil && !ok {
						return
					}
					if !yield(item, err) {
						return
					}
				}
			}
		},
		failFast:   o.failFast,
		probe:      next,
		probeCount: count,
		release:    o.release,
	}, nil
}
