package sequence

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

var errBad = errors.New("bad item")

func ints(n int) *Sequence[int] {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return Of(items...)
}

// singlePass wraps items in a supplier-backed sequence of known length.
func singlePass(items ...int) *Sequence[int] {
	n := len(items)
	s, err := FromSupplier(func() iter.Seq2[int, error] {
		return func(yield func(int, error) bool) {
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}, &n)
	if err != nil {
		panic(err)
	}
	return s
}

func drain[T any](t *testing.T, s *Sequence[T]) []T {
	t.Helper()
	out, err := Collect(context.Background(), s)
	require.NoError(t, err)
	if len(out) == 0 {
		return nil
	}
	return out
}

func TestFromList_IsLazyAndRestartable(t *testing.T) {
	calls := 0
	s := FromList([]string{"a", "b"}, func(item string, i int) (string, error) {
		calls++
		return item + "!", nil
	})
	assert.Zero(t, calls, "before runs only when driven")

	n, known := s.ExpectedLength()
	assert.True(t, known)
	assert.Equal(t, 2, n)
	assert.True(t, s.Restartable())
	assert.True(t, s.FailFast())

	assert.Equal(t, []string{"a!", "b!"}, drain(t, s))
	assert.Equal(t, []string{"a!", "b!"}, drain(t, s))
	assert.Equal(t, 4, calls)
}

func TestFromList_ErrorsStayInPlace(t *testing.T) {
	s := FromList([]int{1, 2, 3}, func(item, i int) (int, error) {
		if i == 1 {
			return 0, errBad
		}
		return item, nil
	}, WithFailFast(false))
	assert.False(t, s.FailFast())

	var errs []error
	for _, err := range s.All() {
		errs = append(errs, err)
	}
	assert.Equal(t, []error{nil, errBad, nil}, errs)

	_, err := Collect(context.Background(), s)
	assert.ErrorIs(t, err, errBad)
}

func TestFromRange(t *testing.T) {
	s, err := FromRange(4, func(i int) (int, error) { return i * i, nil })
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4, 9}, drain(t, s))

	_, err = FromRange(-1, func(i int) (int, error) { return i, nil })
	assert.True(t, derrors.IsConfiguration(err))
	assert.ErrorIs(t, err, derrors.ErrInvalidLength)
}

func TestFromSupplier_SinglePass(t *testing.T) {
	s := singlePass(1, 2)
	assert.False(t, s.Restartable())
	assert.Equal(t, []int{1, 2}, drain(t, s))

	_, err := Collect(context.Background(), s)
	assert.ErrorIs(t, err, derrors.ErrConsumed)
}

func TestFromSupplier_Validation(t *testing.T) {
	_, err := FromSupplier[int](nil, nil)
	assert.True(t, derrors.IsConfiguration(err))

	n := -2
	_, err = FromSupplier(func() iter.Seq2[int, error] { return func(func(int, error) bool) {} }, &n)
	assert.ErrorIs(t, err, derrors.ErrInvalidLength)

	s, err := FromSupplier(func() iter.Seq2[int, error] { return func(func(int, error) bool) {} }, nil)
	require.NoError(t, err)
	_, known := s.ExpectedLength()
	assert.False(t, known)
}

func TestFromProbe(t *testing.T) {
	probed := 0
	s, err := FromProbe(10, func(i int) (int, bool, error) {
		probed++
		return i, i < 3, nil
	})
	require.NoError(t, err)

	_, known := s.ExpectedLength()
	assert.False(t, known, "count is an upper bound")
	count, next, ok := s.Probe()
	assert.True(t, ok)
	assert.Equal(t, 10, count)
	assert.NotNil(t, next)

	assert.Equal(t, []int{0, 1, 2}, drain(t, s))
	assert.Equal(t, 4, probed)

	_, _, ok = ints(2).Probe()
	assert.False(t, ok)

	_, err = FromProbe[int](1, nil)
	assert.True(t, derrors.IsConfiguration(err))
}

func TestWithRelease(t *testing.T) {
	endless := func(released *int) *Sequence[int] {
		s, err := FromProbe(10, func(i int) (int, bool, error) {
			return i, true, nil
		}, WithRelease(func() { *released++ }))
		require.NoError(t, err)
		return s
	}

	t.Run("runs when the count is reached", func(t *testing.T) {
		released := 0
		s, err := FromProbe(3, func(i int) (int, bool, error) { return i, true, nil }, WithRelease(func() { released++ }))
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2}, drain(t, s))
		assert.Equal(t, 1, released)
	})

	t.Run("runs when a downstream limit stops pulling", func(t *testing.T) {
		released := 0
		limited, err := Limit(endless(&released), 2)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1}, drain(t, limited))
		assert.Equal(t, 1, released)
	})

	t.Run("runs once", func(t *testing.T) {
		released := 0
		s := endless(&released)
		s.Release()
		s.Release()
		assert.Equal(t, 1, released)
	})

	t.Run("consumed sequence keeps its state", func(t *testing.T) {
		released := 0
		s := endless(&released)
		drain(t, s)
		_, err := Collect(context.Background(), s)
		assert.ErrorIs(t, err, derrors.ErrConsumed)
		assert.Equal(t, 1, released)
	})
}

func TestMap_PreservesLengthAndErrors(t *testing.T) {
	in := FromList([]int{1, 2, 3}, func(item, i int) (int, error) {
		if i == 2 {
			return 0, errBad
		}
		return item, nil
	})
	calls := 0
	out := Map(in, func(v int) (int, error) {
		calls++
		return v * 10, nil
	})

	n, known := out.ExpectedLength()
	assert.True(t, known)
	assert.Equal(t, 3, n)
	assert.True(t, out.Restartable())

	var values []int
	var errs int
	for v, err := range out.All() {
		if err != nil {
			errs++
			continue
		}
		values = append(values, v)
	}
	assert.Equal(t, []int{10, 20}, values)
	assert.Equal(t, 1, errs)
	assert.Equal(t, 2, calls, "fn is not called for error entries")
}

func TestFilter(t *testing.T) {
	out := Filter(Of(1, 5, 2, 8, 3), func(v int) (bool, error) { return v > 3, nil })
	_, known := out.ExpectedLength()
	assert.False(t, known)
	assert.Equal(t, []int{5, 8}, drain(t, out))
}

func TestLimitSkip(t *testing.T) {
	tests := []struct {
		name    string
		build   func() (*Sequence[int], error)
		want    []int
		wantLen int
	}{
		{"limit", func() (*Sequence[int], error) { return Limit(ints(5), 2) }, []int{0, 1}, 2},
		{"limit zero", func() (*Sequence[int], error) { return Limit(ints(5), 0) }, nil, 0},
		{"limit past end", func() (*Sequence[int], error) { return Limit(ints(2), 9) }, []int{0, 1}, 2},
		{"skip", func() (*Sequence[int], error) { return Skip(ints(5), 3) }, []int{3, 4}, 2},
		{"skip past end", func() (*Sequence[int], error) { return Skip(ints(2), 5) }, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.build()
			require.NoError(t, err)
			n, known := s.ExpectedLength()
			assert.True(t, known)
			assert.Equal(t, tt.wantLen, n)
			assert.Equal(t, tt.want, drain(t, s))
		})
	}

	_, err := Limit(ints(1), -1)
	assert.True(t, derrors.IsConfiguration(err))
	_, err = Skip(ints(1), -1)
	assert.True(t, derrors.IsConfiguration(err))
}

func TestLimit_StopsPullingUpstream(t *testing.T) {
	pulled := 0
	in := FromList(make([]int, 100), func(item, _ int) (int, error) {
		pulled++
		return item, nil
	})
	s, err := Limit(in, 3)
	require.NoError(t, err)
	drain(t, s)
	assert.Equal(t, 3, pulled)
}

func TestSlice(t *testing.T) {
	tests := []struct {
		name              string
		start, stop, step int
		want              []int
	}{
		{"range", 2, 5, 1, []int{2, 3, 4}},
		{"stepped", 1, 9, 3, []int{1, 4, 7}},
		{"stop past end", 6, 100, 2, []int{6, 8}},
		{"start past end", 20, 30, 1, nil},
		{"start after stop", 5, 3, 1, nil},
		{"empty range", 4, 4, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Slice(ints(10), tt.start, tt.stop, tt.step)
			require.NoError(t, err)
			got := drain(t, s)
			assert.Equal(t, tt.want, got)
			n, known := s.ExpectedLength()
			assert.True(t, known)
			assert.Equal(t, len(tt.want), n)
		})
	}

	_, err := Slice(ints(3), 0, 2, 0)
	assert.True(t, derrors.IsConfiguration(err))
	_, err = Slice(ints(3), -1, 2, 1)
	assert.True(t, derrors.IsConfiguration(err))
}

func TestRepeat(t *testing.T) {
	s, err := Repeat(Of(1, 2), 3)
	require.NoError(t, err)
	n, _ := s.ExpectedLength()
	assert.Equal(t, 6, n)
	assert.Equal(t, []int{1, 2, 1, 2, 1, 2}, drain(t, s))

	zero, err := Repeat(Of(1), 0)
	require.NoError(t, err)
	assert.Empty(t, drain(t, zero))

	_, err = Repeat(Of(1), -1)
	assert.True(t, derrors.IsConfiguration(err))
}

func TestRepeat_BuffersSinglePassInput(t *testing.T) {
	s, err := Repeat(singlePass(7, 8), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8, 7, 8}, drain(t, s))
}

func TestConcatAndInterleave(t *testing.T) {
	a, b := Of("a1", "a2", "a3"), Of("b1", "b2")

	concat := Concat(a, b)
	n, known := concat.ExpectedLength()
	assert.True(t, known)
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"a1", "a2", "a3", "b1", "b2"}, drain(t, concat))

	inter := Interleave(a, b)
	assert.Equal(t, []string{"a1", "b1", "a2", "b2", "a3"}, drain(t, inter))
	assert.True(t, inter.Restartable())
	assert.Equal(t, []string{"a1", "b1", "a2", "b2", "a3"}, drain(t, inter))
}

func TestCombine_UnknownLength(t *testing.T) {
	s, err := FromSupplier(func() iter.Seq2[int, error] { return func(func(int, error) bool) {} }, nil)
	require.NoError(t, err)
	_, known := Concat(Of(1), s).ExpectedLength()
	assert.False(t, known)
}

func TestReverse(t *testing.T) {
	s := Reverse(Of(1, 2, 3))
	assert.Equal(t, []int{3, 2, 1}, drain(t, s))
	n, _ := s.ExpectedLength()
	assert.Equal(t, 3, n)
}

func TestPermute(t *testing.T) {
	s := Permute(Of(1, 2), singlePass(10, 20, 30))
	n, known := s.ExpectedLength()
	assert.True(t, known)
	assert.Equal(t, 6, n)

	got := drain(t, s)
	want := []Pair[int, int]{
		{1, 10}, {1, 20}, {1, 30},
		{2, 10}, {2, 20}, {2, 30},
	}
	assert.Equal(t, want, got)
}

func TestZip(t *testing.T) {
	s := Zip(Of("a", "b", "c"), Of(1, 2))
	n, _ := s.ExpectedLength()
	assert.Equal(t, 2, n)
	assert.Equal(t, []Pair[string, int]{{"a", 1}, {"b", 2}}, drain(t, s))
}

func TestDeduplicate(t *testing.T) {
	s := Deduplicate(Of(3, 1, 3, 2, 1))
	assert.Equal(t, []int{3, 1, 2}, drain(t, s))
	assert.Equal(t, []int{3, 1, 2}, drain(t, s), "seen set resets per pass")

	byLen := DeduplicateFunc(Of("a", "bb", "c", "dd", "eee"), func(s string) int { return len(s) })
	assert.Equal(t, []string{"a", "bb", "eee"}, drain(t, byLen))
}

func TestEnumerate(t *testing.T) {
	s := Enumerate(Of("x", "y"))
	want := []Pair[int, string]{{0, "x"}, {1, "y"}}
	assert.Equal(t, want, drain(t, s))
	assert.Equal(t, want, drain(t, s), "positions restart per pass")
}

func TestCollect_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Collect(ctx, Of(1, 2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDerivedSinglePassStaysSinglePass(t *testing.T) {
	s := Map(singlePass(1), func(v int) (int, error) { return v, nil })
	assert.False(t, s.Restartable())
	drain(t, s)

	// the derived sequence is re-entered; the inner one reports the reuse
	_, err := Collect(context.Background(), s)
	assert.ErrorIs(t, err, derrors.ErrConsumed)
}
