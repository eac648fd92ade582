// Package sequence provides lazy, finite streams of items that feed the
// iteration driver. A Sequence carries its expected length and error policy
// alongside the generator so consumers can pre-size buffers without forcing
// evaluation.
package sequence

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Sequence is a lazy stream of items of type T.
//
// Sequences backed by a materialized list (or derived only from such
// sequences) are restartable: every call to All re-derives a fresh generator.
// Every other sequence is single-pass and yields ErrConsumed when entered twice.
type Sequence[T any] struct {
	factory     func() iter.Seq2[T, error]
	length      int
	known       bool
	failFast    bool
	restartable bool
	consumed    atomic.Bool

	// run-while sources only
	probe      func(index int) (T, bool, error)
	probeCount int

	release     func()
	releaseOnce sync.Once
}

// Option configures a sequence at construction.
type Option func(*options)

type options struct {
	failFast bool
	release  func()
}

func defaultOptions() options {
	return options{failFast: true}
}

// WithFailFast sets whether the first per-item error aborts the iteration.
// When false, errors are deferred and reported together once the sequence is drained.
func WithFailFast(failFast bool) Option {
	return func(o *options) {
		o.failFast = failFast
	}
}

// WithRelease registers fn to free the resources behind a single-pass
// sequence. It runs once, when the first pass returns for any reason or when
// Release is called, whichever comes first.
func WithRelease(fn func()) Option {
	return func(o *options) {
		o.release = fn
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ExpectedLength returns the number of items the sequence will yield and
// whether that number is known ahead of time.
func (s *Sequence[T]) ExpectedLength() (int, bool) {
	return s.length, s.known
}

// FailFast reports the error policy declared by the source.
func (s *Sequence[T]) FailFast() bool {
	return s.failFast
}

// Restartable reports whether All may be called more than once.
func (s *Sequence[T]) Restartable() bool {
	return s.restartable
}

// Probe returns the run-while view of a sequence created with FromProbe.
func (s *Sequence[T]) Probe() (count int, next func(index int) (T, bool, error), ok bool) {
	if s.probe == nil {
		return 0, nil, false
	}
	return s.probeCount, s.probe, true
}

// All returns the generator for the sequence. Each pair is either an item or
// the per-item error raised while producing it.
func (s *Sequence[T]) All() iter.Seq2[T, error] {
	if !s.restartable && !s.consumed.CompareAndSwap(false, true) {
		return func(yield func(T, error) bool) {
			var zero T
			yield(zero, derrors.ErrConsumed)
		}
	}
	seq := s.factory()
	if s.release == nil {
		return seq
	}
	return func(yield func(T, error) bool) {
		defer s.Release()
		seq(yield)
	}
}

// Release runs the release hook registered with WithRelease, if it has not
// run yet. Owners call it when a sequence may never be iterated.
func (s *Sequence[T]) Release() {
	if s.release != nil {
		s.releaseOnce.Do(s.release)
	}
}

// derive builds a sequence that inherits the error policy of in.
func derive[T, R any](in *Sequence[T], factory func() iter.Seq2[R, error], length int, known bool) *Sequence[R] {
	return &Sequence[R]{
		factory:     factory,
		length:      length,
		known:       known,
		failFast:    in.failFast,
		restartable: in.restartable,
	}
}

// Collect drains the sequence into a slice, stopping at the first error.
func Collect[T any](ctx context.Context, s *Sequence[T]) ([]T, error) {
	var out []T
	if n, ok := s.ExpectedLength(); ok {
		out = make([]T, 0, n)
	}
	for item, err := range s.All() {
		if err != nil {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		out = append(out, item)
	}
	return out, nil
}

// entry is a buffered item-or-error pair.
type entry[T any] struct {
	item T
	err  error
}

// buffer drains a generator into entries, keeping per-item errors in place.
func buffer[T any](seq iter.Seq2[T, error]) []entry[T] {
	var out []entry[T]
	for item, err := range seq {
		out = append(out, entry[T]{item: item, err: err})
	}
	return out
}

func replay[T any](entries []entry[T], yield func(T, error) bool) bool {
	for _, e := range entries {
		if !yield(e.item, e.err) {
			return false
		}
	}
	return true
}
