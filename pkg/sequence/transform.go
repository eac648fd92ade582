package sequence

import (
	"iter"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Pair holds one item from each of two sequences.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Map applies fn to every item. Errors already in the stream pass through
// without calling fn. The expected length is preserved.
func Map[T, R any](in *Sequence[T], fn func(T) (R, error)) *Sequence[R] {
	n, known := in.ExpectedLength()
	return derive(in, func() iter.Seq2[R, error] {
		return func(yield func(R, error) bool) {
			for item, err := range in.All() {
				if err != nil {
					var zero R
					if !yield(zero, err) {
						return
					}
					continue
				}
				if !yield(fn(item)) {
					return
				}
			}
		}
	}, n, known)
}

// FlatMap replaces every item with zero or more outputs, which covers both
// map and filter. The resulting length is unknown.
func FlatMap[T, R any](in *Sequence[T], fn func(T) ([]R, error)) *Sequence[R] {
	return derive(in, func() iter.Seq2[R, error] {
		return func(yield func(R, error) bool) {
			for item, err := range in.All() {
				if err != nil {
					var zero R
					if !yield(zero, err) {
						return
					}
					continue
				}
				outs, fnErr := fn(item)
				if fnErr != nil {
					var zero R
					if !yield(zero, fnErr) {
						return
					}
					continue
				}
				for _, out := range outs {
					if !yield(out, nil) {
						return
					}
				}
			}
		}
	}, 0, false)
}

// Filter keeps the items for which keep returns true.
func Filter[T any](in *Sequence[T], keep func(T) (bool, error)) *Sequence[T] {
	return FlatMap(in, func(item T) ([]T, error) {
		ok, err := keep(item)
		if err != nil || !ok {
			return nil, err
		}
		return []T{item}, nil
	})
}

// Limit yields at most limit entries. A limit of zero yields an empty sequence.
func Limit[T any](in *Sequence[T], limit int) (*Sequence[T], error) {
	if limit < 0 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "limit %d is negative", limit)
	}
	n, known := in.ExpectedLength()
	return derive(in, func() iter.Seq2[T, error] {
		return func(yield func(T, error) bool) {
			if limit == 0 {
				return
			}
			taken := 0
			for item, err := range in.All() {
				if !yield(item, err) {
					return
				}
				taken++
				if taken >= limit {
					return
				}
			}
		}
	}, min(n, limit), known), nil
}

// Skip drops the first count entries. Skipping past the end yields an empty sequence.
func Skip[T any](in *Sequence[T], count int) (*Sequence[T], error) {
	if count < 0 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "skip count %d is negative", count)
	}
	n, known := in.ExpectedLength()
	return derive(in, func() iter.Seq2[T, error] {
		return func(yield func(T, error) bool) {
			i := 0
			for item, err := range in.All() {
				if i >= count && !yield(item, err) {
					return
				}
				i++
			}
		}
	}, max(0, n-count), known), nil
}

// Slice yields the entries at positions start, start+step, ... below stop.
// start >= stop yields an empty sequence.
func Slice[T any](in *Sequence[T], start, stop, step int) (*Sequence[T], error) {
	if start < 0 || stop < 0 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "slice bounds [%d:%d] must not be negative", start, stop)
	}
	if step < 1 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "slice step %d must be at least 1", step)
	}
	n, known := in.ExpectedLength()
	length := 0
	if known {
		s, e := min(start, n), min(stop, n)
		if e > s {
			length = (e - s + step - 1) / step
		}
	}
	return derive(in, func() iter.Seq2[T, error] {
		return func(yield func(T, error) bool) {
			if start >= stop {
				return
			}
			i := 0
			for item, err := range in.All() {
				if i >= stop {
					return
				}
				if i >= start && (i-start)%step == 0 && !yield(item, err) {
					return
				}
				i++
			}
		}
	}, length, known), nil
}

// Repeat yields the whole sequence times times in a row. Single-pass inputs
// are buffered during the first pass and replayed afterwards.
func Repeat[T any](in *Sequence[T], times int) (*Sequence[T], error) {
	if times < 0 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "repeat count %d is negative", times)
	}
	n, known := in.ExpectedLength()
	return derive(in, func() iter.Seq2[T, error] {
		return func(yield func(T, error) bool) {
			if times == 0 {
				return
			}
			if in.Restartable() {
				for range times {
					for item, err := range in.All() {
						if !yield(item, err) {
							return
						}
					}
				}
				return
			}
			var entries []entry[T]
			for item, err := range in.All() {
				entries = append(entries, entry[T]{item: item, err: err})
				if !yield(item, err) {
					return
				}
			}
			for range times - 1 {
				if !replay(entries, yield) {
					return
				}
			}
		}
	}, n*times, known), nil
}

// Concat yields every sequence in turn.
func Concat[T any](seqs ...*Sequence[T]) *Sequence[T] {
	s := combine(seqs, func(yield func(T, error) bool) {
		for _, seq := range seqs {
			for item, err := range seq.All() {
				if !yield(item, err) {
					return
				}
			}
		}
	})
	return s
}

// Interleave takes one entry from each sequence in turn. Once a sequence is
// exhausted the remaining ones continue, so [a1 a2 a3] and [b1 b2] yield
// a1 b1 a2 b2 a3.
func Interleave[T any](seqs ...*Sequence[T]) *Sequence[T] {
	return combine(seqs, func(yield func(T, error) bool) {
		nexts := make([]func() (T, error, bool), len(seqs))
		for i, seq := range seqs {
			next, stop := iter.Pull2(seq.All())
			defer stop()
			nexts[i] = next
		}
		live := len(nexts)
		for live > 0 {
			for i, next := range nexts {
				if next == nil {
					continue
				}
				item, err, ok := next()
				if !ok {
					nexts[i] = nil
					live--
					continue
				}
				if !yield(item, err) {
					return
				}
			}
		}
	})
}

// combine builds a sequence over several inputs whose length is the sum of the
// input lengths when all are known.
func combine[T any](seqs []*Sequence[T], gen iter.Seq2[T, error]) *Sequence[T] {
	total, known, restartable, failFast := 0, true, true, false
	for _, seq := range seqs {
		n, ok := seq.ExpectedLength()
		total += n
		known = known && ok
		restartable = restartable && seq.Restartable()
		failFast = failFast || seq.FailFast()
	}
	if !known {
		total = 0
	}
	return &Sequence[T]{
		factory:     func() iter.Seq2[T, error] { return gen },
		length:      total,
		known:       known,
		failFast:    failFast,
		restartable: restartable,
	}
}

// Reverse yields the entries in reverse order. The input is buffered.
func Reverse[T any](in *Sequence[T]) *Sequence[T] {
	n, known := in.ExpectedLength()
	return derive(in, func() iter.Seq2[T, error] {
		return func(yield func(T, error) bool) {
			entries := buffer(in.All())
			for i := len(entries) - 1; i >= 0; i-- {
				if !yield(entries[i].item, entries[i].err) {
					return
				}
			}
		}
	}, n, known)
}

// Permute yields every (a, b) pair, iterating b fully for each a. b is
// buffered on first use so it may be single-pass.
func Permute[A, B any](a *Sequence[A], b *Sequence[B]) *Sequence[Pair[A, B]] {
	na, okA := a.ExpectedLength()
	nb, okB := b.ExpectedLength()
	return &Sequence[Pair[A, B]]{
		factory: func() iter.Seq2[Pair[A, B], error] {
			return func(yield func(Pair[A, B], error) bool) {
				var right []entry[B]
				loaded := false
				for first, err := range a.All() {
					if err != nil {
						if !yield(Pair[A, B]{}, err) {
							return
						}
						continue
					}
					if !loaded {
						right, loaded = buffer(b.All()), true
					}
					for _, e := range right {
						if !yield(Pair[A, B]{First: first, Second: e.item}, e.err) {
							return
						}
					}
				}
			}
		},
		length:      na * nb,
		known:       okA && okB,
		failFast:    a.FailFast() || b.FailFast(),
		restartable: a.Restartable() && b.Restartable(),
	}
}

// Zip pairs items positionally and stops at the shorter sequence.
func Zip[A, B any](a *Sequence[A], b *Sequence[B]) *Sequence[Pair[A, B]] {
	na, okA := a.ExpectedLength()
	nb, okB := b.ExpectedLength()
	return &Sequence[Pair[A, B]]{
		factory: func() iter.Seq2[Pair[A, B], error] {
			return func(yield func(Pair[A, B], error) bool) {
				next, stop := iter.Pull2(b.All())
				defer stop()
				for first, errA := range a.All() {
					second, errB, ok := next()
					if !ok {
						return
					}
					err := errA
					if err == nil {
						err = errB
					}
					if !yield(Pair[A, B]{First: first, Second: second}, err) {
						return
					}
				}
			}
		},
		length:      min(na, nb),
		known:       okA && okB,
		failFast:    a.FailFast() || b.FailFast(),
		restartable: a.Restartable() && b.Restartable(),
	}
}

// Deduplicate drops items that were already seen, keeping first-occurrence order.
func Deduplicate[T comparable](in *Sequence[T]) *Sequence[T] {
	return DeduplicateFunc(in, func(item T) T { return item })
}

// DeduplicateFunc drops items whose key was already seen.
func DeduplicateFunc[T any, K comparable](in *Sequence[T], key func(T) K) *Sequence[T] {
	return derive(in, func() iter.Seq2[T, error] {
		return func(yield func(T, error) bool) {
			seen := make(map[K]struct{})
			for item, err := range in.All() {
				if err == nil {
					k := key(item)
					if _, dup := seen[k]; dup {
						continue
					}
					seen[k] = struct{}{}
				}
				if !yield(item, err) {
					return
				}
			}
		}
	}, 0, false)
}

// Enumerate pairs every item with its position in the stream. Positions
// restart at zero on every pass and count error entries too.
func Enumerate[T any](in *Sequence[T]) *Sequence[Pair[int, T]] {
	n, known := in.ExpectedLength()
	return derive(in, func() iter.Seq2[Pair[int, T], error] {
		return func(yield func(Pair[int, T], error) bool) {
			i := 0
			for item, err := range in.All() {
				if !yield(Pair[int, T]{First: i, Second: item}, err) {
					return
				}
				i++
			}
		}
	}, n, known)
}
