package nodes

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/imaging"
	"github.com/wehubfusion/Daedalus/pkg/node"
	"github.com/wehubfusion/Daedalus/pkg/sequence"
	"github.com/wehubfusion/Daedalus/pkg/storage"
)

func testDeps(t *testing.T) (Deps, string) {
	t.Helper()
	root := t.TempDir()
	return Deps{Store: storage.NewLocalStore(root, zap.NewNop()), Logger: zap.NewNop()}, root
}

func create(t *testing.T, deps Deps, nodeType string, settings node.Settings) node.Node {
	t.Helper()
	n, err := NewRegistry(deps).Create(node.Config{ID: nodeType + "-1", Type: nodeType, Settings: settings})
	require.NoError(t, err)
	return n
}

// invokeSource runs a newIterator node and returns its iteration.
func invokeSource(t *testing.T, n node.Node, inputs node.Values) *node.Iteration {
	t.Helper()
	if inputs == nil {
		inputs = make(node.Values, len(n.Schema().Inputs))
	}
	out, err := n.Invoke(context.Background(), inputs)
	require.NoError(t, err)
	it, err := node.IterationOf(out)
	require.NoError(t, err)
	return it
}

// transform runs a transformer over upstream with optional extra inputs.
func transform(t *testing.T, n node.Node, up *node.Iteration, extra ...any) *node.Iteration {
	t.Helper()
	return invokeSource(t, n, append(node.Values{up}, extra...))
}

func listOf(t *testing.T, items ...any) *node.Iteration {
	t.Helper()
	deps, _ := testDeps(t)
	return invokeSource(t, create(t, deps, TypeList, node.Settings{"items": items}), nil)
}

// firsts drains an iteration and returns the first value of every item.
func firsts(t *testing.T, it *node.Iteration) []any {
	t.Helper()
	items, err := sequence.Collect(context.Background(), it.Stream)
	require.NoError(t, err)
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item[0]
	}
	return out
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func writePNGs(t *testing.T, root, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	for _, name := range names {
		var buf bytes.Buffer
		require.NoError(t, imaging.Encode(&buf, solid(2, 2, color.RGBA{R: 200, A: 255}), imaging.FormatPNG))
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, name), buf.Bytes(), 0o644))
	}
}

func TestRegistryHoldsCatalog(t *testing.T) {
	deps, _ := testDeps(t)
	r := NewRegistry(deps)
	for nodeType := range catalog {
		assert.True(t, r.Has(nodeType), nodeType)
	}
	assert.Len(t, r.Types(), len(catalog))
}

func TestNodesNeedingStoreFailWithout(t *testing.T) {
	r := NewRegistry(Deps{})
	for _, nodeType := range []string{TypeLoadImages, TypeLoadImagePairs, TypeSaveImages, TypeSaveImage} {
		_, err := r.Create(node.Config{ID: "n", Type: nodeType})
		assert.True(t, derrors.IsConfiguration(err), nodeType)
	}
}

func TestListAndRange(t *testing.T) {
	assert.Equal(t, []any{"a", "b"}, firsts(t, listOf(t, "a", "b")))

	deps, _ := testDeps(t)
	it := invokeSource(t, create(t, deps, TypeRange, node.Settings{"count": 4, "start": 10, "step": 5}), nil)
	n, known := it.Stream.ExpectedLength()
	assert.True(t, known)
	assert.Equal(t, 4, n)
	assert.Equal(t, []any{10, 15, 20, 25}, firsts(t, it))
}

func TestFilterNumber(t *testing.T) {
	deps, _ := testDeps(t)
	filter := create(t, deps, TypeFilterNumber, node.Settings{"condition": ConditionGreaterThan, "threshold": 3.0})

	out := transform(t, filter, listOf(t, 1, 5, 2, 8, 3))
	assert.Equal(t, []any{5, 8}, firsts(t, out))
	_, known := out.Stream.ExpectedLength()
	assert.False(t, known)
}

func TestFilterNumberConditions(t *testing.T) {
	tests := []struct {
		condition string
		want      []any
	}{
		{ConditionLessThan, []any{1, 2}},
		{ConditionEqual, []any{3}},
		{ConditionNotEqual, []any{1, 5, 2}},
		{ConditionGreaterEqual, []any{5, 3}},
		{ConditionLessEqual, []any{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			deps, _ := testDeps(t)
			filter := create(t, deps, TypeFilterNumber, node.Settings{"condition": tt.condition, "threshold": 3})
			assert.Equal(t, tt.want, firsts(t, transform(t, filter, listOf(t, 1, 5, 2, 3))))
		})
	}
}

func TestFilterNumberRejectsUnknownCondition(t *testing.T) {
	deps, _ := testDeps(t)
	_, err := NewRegistry(deps).Create(node.Config{ID: "f", Type: TypeFilterNumber, Settings: node.Settings{"condition": "ROUGHLY"}})
	assert.True(t, derrors.IsConfiguration(err))
}

func TestFilterNumberFailsNonNumericItem(t *testing.T) {
	deps, _ := testDeps(t)
	filter := create(t, deps, TypeFilterNumber, node.Settings{"threshold": 1})
	out := transform(t, filter, listOf(t, 2, "many"))

	_, err := sequence.Collect(context.Background(), out.Stream)
	assert.Error(t, err)
}

func TestSliceLimitSkip(t *testing.T) {
	deps, _ := testDeps(t)
	up := func() *node.Iteration { return listOf(t, 0, 1, 2, 3, 4, 5, 6) }

	tests := []struct {
		name     string
		nodeType string
		settings node.Settings
		want     []any
	}{
		{"slice start past stop", TypeSlice, node.Settings{"start": 5, "stop": 3, "step": 1}, []any{}},
		{"slice with step", TypeSlice, node.Settings{"start": 1, "stop": 6, "step": 2}, []any{1, 3, 5}},
		{"slice to end", TypeSlice, node.Settings{"start": 4}, []any{4, 5, 6}},
		{"limit zero", TypeLimit, node.Settings{"count": 0}, []any{}},
		{"limit", TypeLimit, node.Settings{"count": 2}, []any{0, 1}},
		{"skip", TypeSkip, node.Settings{"count": 5}, []any{5, 6}},
		{"skip past end", TypeSkip, node.Settings{"count": 10}, []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := transform(t, create(t, deps, tt.nodeType, tt.settings), up())
			assert.Equal(t, tt.want, firsts(t, out))
			n, known := out.Stream.ExpectedLength()
			assert.True(t, known)
			assert.Equal(t, len(tt.want), n)
		})
	}
}

func TestNegativeLimitIsConfigurationError(t *testing.T) {
	deps, _ := testDeps(t)
	limit := create(t, deps, TypeLimit, node.Settings{"count": -1})
	_, err := limit.Invoke(context.Background(), node.Values{listOf(t, 1)})
	assert.True(t, derrors.IsConfiguration(err))
}

func TestRepeatReverseDeduplicate(t *testing.T) {
	deps, _ := testDeps(t)

	repeated := transform(t, create(t, deps, TypeRepeat, node.Settings{"times": 2}), listOf(t, 1, 2))
	assert.Equal(t, []any{1, 2, 1, 2}, firsts(t, repeated))

	reversed := transform(t, create(t, deps, TypeReverse, nil), listOf(t, 1, 2, 3))
	assert.Equal(t, []any{3, 2, 1}, firsts(t, reversed))

	deduped := transform(t, create(t, deps, TypeDeduplicate, nil), listOf(t, "a", "b", "a", []any{1}, []any{1}))
	assert.Equal(t, []any{"a", "b", []any{1}}, firsts(t, deduped))

	// a string spelling out a printed slice is a different item
	lookalike := transform(t, create(t, deps, TypeDeduplicate, nil), listOf(t, []int{1, 2}, "[]int:[1 2]", []int{1, 2}))
	assert.Equal(t, []any{[]int{1, 2}, "[]int:[1 2]"}, firsts(t, lookalike))
}

func TestInterleaveAndPermute(t *testing.T) {
	deps, _ := testDeps(t)

	interleaved := transform(t, create(t, deps, TypeInterleave, nil), listOf(t, "a1", "a2", "a3"), listOf(t, "b1", "b2"))
	assert.Equal(t, []any{"a1", "b1", "a2", "b2", "a3"}, firsts(t, interleaved))

	permuted := transform(t, create(t, deps, TypePermute, nil), listOf(t, 1, 2), listOf(t, "x", "y"))
	items, err := sequence.Collect(context.Background(), permuted.Stream)
	require.NoError(t, err)
	require.Len(t, items, 4)
	// list items are (item, index), so a permuted item holds four values
	assert.Equal(t, node.Values{1, 0, "x", 0}, items[0])
	assert.Equal(t, node.Values{2, 1, "y", 1}, items[3])

	_, err = create(t, deps, TypePermute, nil).Invoke(context.Background(), node.Values{listOf(t, 1), nil})
	assert.Error(t, err)
}

func TestTransformersKeepSharedValuesAndWorkers(t *testing.T) {
	deps, _ := testDeps(t)
	up := listOf(t, 1, 2, 3)
	up.Extra = node.Values{"/root"}

	threaded := transform(t, create(t, deps, TypeMultithread, node.Settings{"workers": 3}), up)
	assert.Equal(t, 3, threaded.Workers)
	assert.Same(t, up.Stream, threaded.Stream)

	limited := transform(t, create(t, deps, TypeLimit, node.Settings{"count": 1}), threaded)
	assert.Equal(t, 3, limited.Workers)
	assert.Equal(t, node.Values{"/root"}, limited.Extra)

	_, err := NewRegistry(deps).Create(node.Config{ID: "m", Type: TypeMultithread, Settings: node.Settings{"workers": 0}})
	assert.True(t, derrors.IsConfiguration(err))
}

func TestFilterExpression(t *testing.T) {
	deps, _ := testDeps(t)
	filter := create(t, deps, TypeFilterExpression, node.Settings{"expression": "value > 3 || index == 0"})

	out := transform(t, filter, listOf(t, 1, 5, 2, 8, 3))
	assert.Equal(t, []any{1, 5, 8}, firsts(t, out))
	// the stream is restartable, so indices start over on the second pass
	assert.Equal(t, []any{1, 5, 8}, firsts(t, out))
}

func TestFilterExpressionOverValues(t *testing.T) {
	deps, _ := testDeps(t)
	cases := []struct {
		expression string
		items      []any
		want       []any
	}{
		{"value > 3 && index % 2 == 0", []any{1, 5, 8, 2, 9}, []any{8, 9}},
		{"len(value) > 6 || index == 0", []any{"0:APPLE", "1:FIG", "2:BANANA"}, []any{"0:APPLE", "2:BANANA"}},
		{"item[0] != nil", []any{"a", "b"}, []any{"a", "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.expression, func(t *testing.T) {
			filter := create(t, deps, TypeFilterExpression, node.Settings{"expression": tc.expression})
			out := transform(t, filter, listOf(t, tc.items...))
			assert.Equal(t, tc.want, firsts(t, out))
		})
	}
}

func TestFilterExpressionConfigurationErrors(t *testing.T) {
	deps, _ := testDeps(t)
	r := NewRegistry(deps)
	for _, expression := range []string{"", "value >", "1 + 2"} {
		_, err := r.Create(node.Config{ID: "f", Type: TypeFilterExpression, Settings: node.Settings{"expression": expression}})
		assert.True(t, derrors.IsConfiguration(err), expression)
	}
}

func TestScriptMap(t *testing.T) {
	deps, _ := testDeps(t)
	script := create(t, deps, TypeScriptMap, node.Settings{"script": "(value, index) => value * 10 + index"})

	out := transform(t, script, listOf(t, 1, 2, 3))
	got := firsts(t, out)
	require.Len(t, got, 3)
	for i, want := range []float64{10, 21, 32} {
		v, err := toFloat(got[i])
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
}

func TestScriptMapConfigurationErrors(t *testing.T) {
	deps, _ := testDeps(t)
	r := NewRegistry(deps)
	for _, script := range []string{"", "function (", "42"} {
		_, err := r.Create(node.Config{ID: "s", Type: TypeScriptMap, Settings: node.Settings{"script": script}})
		assert.True(t, derrors.IsConfiguration(err), script)
	}
}

func TestScriptMapTimeoutFailsItem(t *testing.T) {
	deps, _ := testDeps(t)
	script := create(t, deps, TypeScriptMap, node.Settings{
		"script":     "(value) => { while (true) {} }",
		"timeout_ms": 50,
	})
	out := transform(t, script, listOf(t, 1))

	_, err := sequence.Collect(context.Background(), out.Stream)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution timeout")
}

func TestLoadImagesNaturalOrder(t *testing.T) {
	deps, root := testDeps(t)
	writePNGs(t, root, "in", "frame10.png", "frame2.png", "frame1.png")
	require.NoError(t, os.WriteFile(filepath.Join(root, "in", "notes.txt"), []byte("x"), 0o644))

	it := invokeSource(t, create(t, deps, TypeLoadImages, nil), node.Values{"in"})
	n, known := it.Stream.ExpectedLength()
	require.True(t, known)
	assert.Equal(t, 3, n)
	assert.Equal(t, node.Values{"in"}, it.Extra)
	assert.False(t, it.Stream.FailFast())

	items, err := sequence.Collect(context.Background(), it.Stream)
	require.NoError(t, err)
	var names []any
	for i, item := range items {
		_, isImage := item[0].(image.Image)
		assert.True(t, isImage)
		assert.Equal(t, i, item[3])
		names = append(names, item[2])
	}
	assert.Equal(t, []any{"frame1", "frame2", "frame10"}, names)
}

func TestLoadImagesCorruptFileFailsItemOnly(t *testing.T) {
	deps, root := testDeps(t)
	writePNGs(t, root, "in", "a.png", "c.png")
	require.NoError(t, os.WriteFile(filepath.Join(root, "in", "b.png"), []byte("not a png"), 0o644))

	it := invokeSource(t, create(t, deps, TypeLoadImages, nil), node.Values{"in"})
	var failed []int
	i := 0
	for _, err := range it.Stream.All() {
		if err != nil {
			failed = append(failed, i)
		}
		i++
	}
	assert.Equal(t, []int{1}, failed)
}

func TestLoadImagesMissingDirectory(t *testing.T) {
	deps, _ := testDeps(t)
	n := create(t, deps, TypeLoadImages, node.Settings{"directory": "nowhere"})
	_, err := n.Invoke(context.Background(), node.Values{nil})
	assert.True(t, derrors.IsConfiguration(err))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoadImagePairsCountMismatch(t *testing.T) {
	deps, root := testDeps(t)
	writePNGs(t, root, "a", "1.png", "2.png", "3.png", "4.png")
	writePNGs(t, root, "b", "1.png", "2.png", "3.png", "4.png", "5.png")

	n := create(t, deps, TypeLoadImagePairs, nil)
	_, err := n.Invoke(context.Background(), node.Values{"a", "b"})
	require.Error(t, err)
	assert.True(t, derrors.IsConfiguration(err))
}

func TestLoadImagePairs(t *testing.T) {
	deps, root := testDeps(t)
	writePNGs(t, root, "a", "1.png", "2.png")
	writePNGs(t, root, "b", "1.png", "2.png")

	it := invokeSource(t, create(t, deps, TypeLoadImagePairs, node.Settings{"directory_a": "a", "directory_b": "b"}), nil)
	items, err := sequence.Collect(context.Background(), it.Stream)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a/2.png", items[1][2])
	assert.Equal(t, "b/2.png", items[1][3])
	assert.Equal(t, node.Values{"a", "b"}, it.Extra)
}

func TestSplitSpritesheet(t *testing.T) {
	deps, _ := testDeps(t)
	sheet := solid(4, 6, color.RGBA{G: 255, A: 255})

	split := create(t, deps, TypeSplitSpritesheet, node.Settings{"rows": 3, "cols": 2})
	it := invokeSource(t, split, node.Values{sheet})
	items, err := sequence.Collect(context.Background(), it.Stream)
	require.NoError(t, err)
	require.Len(t, items, 6)
	for i, item := range items {
		tile := item[0].(image.Image)
		assert.Equal(t, 2, tile.Bounds().Dx())
		assert.Equal(t, 2, tile.Bounds().Dy())
		assert.Equal(t, i, item[1])
	}

	uneven := create(t, deps, TypeSplitSpritesheet, node.Settings{"rows": 4, "cols": 2})
	_, err = uneven.Invoke(context.Background(), node.Values{sheet})
	assert.True(t, derrors.IsConfiguration(err))
}

func TestLoadFramesRaw(t *testing.T) {
	deps, root := testDeps(t)
	// three 2x1 frames and nothing else
	raw := []byte{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
		13, 14, 15, 16, 17, 18,
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "video.rgb"), raw, 0o644))

	frames := create(t, deps, TypeLoadFrames, node.Settings{"path": "video.rgb", "width": 2, "height": 1, "count": 10})
	it := invokeSource(t, frames, node.Values{nil})

	count, next, ok := it.Stream.Probe()
	require.True(t, ok)
	assert.Equal(t, 10, count)

	var got []*image.RGBA
	for i := range count {
		item, more, err := next(i)
		require.NoError(t, err)
		if !more {
			break
		}
		got = append(got, item[0].(*image.RGBA))
	}
	require.Len(t, got, 3)
	assert.Equal(t, []uint8{13, 14, 15, 255}, got[2].Pix[:4])

	_, more, err := next(3)
	assert.NoError(t, err)
	assert.False(t, more)
}

// closeCounter counts Close calls on the readers a store hands out.
type closeCounter struct {
	storage.Store
	closes atomic.Int64
}

func (c *closeCounter) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := c.Store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &countedReader{ReadCloser: rc, closes: &c.closes}, nil
}

type countedReader struct {
	io.ReadCloser
	closes *atomic.Int64
}

func (r *countedReader) Close() error {
	r.closes.Add(1)
	return r.ReadCloser.Close()
}

func TestLoadFramesReleasesDecoderOnEarlyStop(t *testing.T) {
	deps, root := testDeps(t)
	counter := &closeCounter{Store: deps.Store}
	deps.Store = counter
	// three 1x1 frames
	require.NoError(t, os.WriteFile(filepath.Join(root, "clip.rgb"), []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, 0o644))

	t.Run("count reached", func(t *testing.T) {
		counter.closes.Store(0)
		frames := create(t, deps, TypeLoadFrames, node.Settings{"path": "clip.rgb", "width": 1, "height": 1, "count": 2})
		items, err := sequence.Collect(context.Background(), invokeSource(t, frames, node.Values{nil}).Stream)
		require.NoError(t, err)
		assert.Len(t, items, 2)
		assert.Equal(t, int64(1), counter.closes.Load())
	})

	t.Run("consumer stops pulling", func(t *testing.T) {
		counter.closes.Store(0)
		frames := create(t, deps, TypeLoadFrames, node.Settings{"path": "clip.rgb", "width": 1, "height": 1})
		it := invokeSource(t, frames, node.Values{nil})
		pulled := 0
		for _, err := range it.Stream.All() {
			require.NoError(t, err)
			if pulled++; pulled == 1 {
				break
			}
		}
		assert.Equal(t, int64(1), counter.closes.Load())
		it.Stream.Release()
		assert.Equal(t, int64(1), counter.closes.Load())
	})

	t.Run("never iterated", func(t *testing.T) {
		counter.closes.Store(0)
		frames := create(t, deps, TypeLoadFrames, node.Settings{"path": "clip.rgb", "width": 1, "height": 1})
		it := invokeSource(t, frames, node.Values{nil})
		assert.Zero(t, counter.closes.Load())
		it.Stream.Release()
		assert.Equal(t, int64(1), counter.closes.Load())
	})

	t.Run("drained", func(t *testing.T) {
		counter.closes.Store(0)
		frames := create(t, deps, TypeLoadFrames, node.Settings{"path": "clip.rgb", "width": 1, "height": 1})
		items, err := sequence.Collect(context.Background(), invokeSource(t, frames, node.Values{nil}).Stream)
		require.NoError(t, err)
		assert.Len(t, items, 3)
		assert.Equal(t, int64(1), counter.closes.Load())
	})
}

func TestLoadFramesPartialFrameFails(t *testing.T) {
	deps, root := testDeps(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "video.rgb"), []byte{1, 2, 3, 4, 5, 6, 7}, 0o644))

	frames := create(t, deps, TypeLoadFrames, node.Settings{"path": "video.rgb", "width": 2, "height": 1})
	it := invokeSource(t, frames, node.Values{nil})

	_, err := sequence.Collect(context.Background(), it.Stream)
	assert.Error(t, err)
}

func TestLoadFramesConfigurationErrors(t *testing.T) {
	deps, _ := testDeps(t)
	r := NewRegistry(deps)

	_, err := r.Create(node.Config{ID: "f", Type: TypeLoadFrames, Settings: node.Settings{"width": 0, "height": 1}})
	assert.True(t, derrors.IsConfiguration(err))

	_, err = r.Create(node.Config{ID: "f", Type: TypeLoadFrames, Settings: node.Settings{"width": 1, "height": 1, "decoder": "vlc"}})
	assert.True(t, derrors.IsConfiguration(err))

	missing := create(t, deps, TypeLoadFrames, node.Settings{"path": "missing.rgb", "width": 1, "height": 1})
	_, err = missing.Invoke(context.Background(), node.Values{nil})
	assert.True(t, derrors.IsConfiguration(err))
}

func TestItemHelperInjects(t *testing.T) {
	deps, _ := testDeps(t)
	helper := create(t, deps, TypeItemHelper, nil).(graph.Injector)

	out, err := helper.Inject(context.Background(), graph.Injection{Index: 4, Item: node.Values{"x"}, Extra: node.Values{"/root"}})
	require.NoError(t, err)
	assert.Equal(t, node.Values{"x", 4, "/root"}, out)

	out, err = helper.Inject(context.Background(), graph.Injection{Index: 0, Item: node.Values{"x", 0}})
	require.NoError(t, err)
	assert.Equal(t, node.Values{node.Values{"x", 0}, 0, nil}, out)

	_, err = helper.Invoke(context.Background(), nil)
	assert.True(t, derrors.IsConfiguration(err))
}

// feed invokes a collector node and hands every item to its gatherer.
func feed(t *testing.T, n node.Node, inputs node.Values, items ...node.Values) (node.Values, error) {
	t.Helper()
	if inputs == nil {
		inputs = make(node.Values, len(n.Schema().Inputs))
	}
	out, err := n.Invoke(context.Background(), inputs)
	require.NoError(t, err)
	g, err := node.GathererOf(out)
	require.NoError(t, err)
	for _, item := range items {
		if err := g.OnIterate(item); err != nil {
			return nil, err
		}
	}
	return g.OnComplete()
}

func TestAccumulate(t *testing.T) {
	deps, _ := testDeps(t)

	out, err := feed(t, create(t, deps, TypeAccumulate, node.Settings{"operation": "product"}), nil,
		node.Values{2}, node.Values{3}, node.Values{4})
	require.NoError(t, err)
	assert.Equal(t, node.Values{24.0}, out)

	out, err = feed(t, create(t, deps, TypeAccumulate, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, node.Values{0.0}, out)

	_, err = NewRegistry(deps).Create(node.Config{ID: "a", Type: TypeAccumulate, Settings: node.Settings{"operation": "MEDIAN"}})
	assert.True(t, derrors.IsConfiguration(err))
}

func TestSequenceLengthAndTextAppend(t *testing.T) {
	deps, _ := testDeps(t)

	out, err := feed(t, create(t, deps, TypeSequenceLength, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, node.Values{0}, out)

	out, err = feed(t, create(t, deps, TypeTextAppend, node.Settings{"separator": "-"}), nil,
		node.Values{"a"}, node.Values{2}, node.Values{"c"})
	require.NoError(t, err)
	assert.Equal(t, node.Values{"a-2-c"}, out)
}

func TestStackImages(t *testing.T) {
	deps, _ := testDeps(t)
	stack := create(t, deps, TypeStackImages, nil)

	_, err := feed(t, stack, nil)
	assert.ErrorIs(t, err, derrors.ErrEmptySequence)

	out, err := feed(t, stack, nil,
		node.Values{solid(2, 1, color.RGBA{R: 255, A: 255})},
		node.Values{solid(2, 3, color.RGBA{B: 255, A: 255})})
	require.NoError(t, err)
	img := out[0].(image.Image)
	assert.Equal(t, 2, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
}

func TestMergeSpritesheetSortsByIndex(t *testing.T) {
	deps, _ := testDeps(t)
	merge := create(t, deps, TypeMergeSpritesheet, node.Settings{"cols": 2})

	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	out, err := feed(t, merge, nil,
		node.Values{solid(1, 1, blue), 1},
		node.Values{solid(1, 1, red), 0})
	require.NoError(t, err)

	img := out[0].(image.Image)
	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestSaveImages(t *testing.T) {
	deps, root := testDeps(t)
	save := create(t, deps, TypeSaveImages, node.Settings{"format": "jpeg"})
	assert.True(t, node.HasSideEffects(save))

	out, err := feed(t, save, node.Values{nil, nil, "out"},
		node.Values{solid(2, 2, color.RGBA{A: 255}), "first"},
		node.Values{solid(2, 2, color.RGBA{A: 255}), "second"})
	require.NoError(t, err)
	assert.Equal(t, node.Values{2}, out)
	assert.FileExists(t, filepath.Join(root, "out", "first.jpg"))
	assert.FileExists(t, filepath.Join(root, "out", "second.jpg"))
}

func TestSaveImage(t *testing.T) {
	deps, root := testDeps(t)
	save := create(t, deps, TypeSaveImage, node.Settings{"directory": "single"})
	assert.True(t, node.HasSideEffects(save))

	_, err := save.Invoke(context.Background(), node.Values{solid(1, 1, color.RGBA{A: 255}), "one", nil})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "single", "one.png"))

	_, err = save.Invoke(context.Background(), node.Values{"not an image", "two", nil})
	assert.ErrorIs(t, err, derrors.ErrInvalidArgument)
}

func TestMath(t *testing.T) {
	deps, _ := testDeps(t)

	tests := []struct {
		operation string
		a, b      any
		want      float64
	}{
		{MathAdd, 2, 3, 5},
		{MathSubtract, 2, 3.5, -1.5},
		{MathMultiply, "4", 2, 8},
		{MathDivide, 9, 3, 3},
		{MathPower, 2, 10, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			n := create(t, deps, TypeMath, node.Settings{"operation": tt.operation})
			out, err := n.Invoke(context.Background(), node.Values{tt.a, tt.b})
			require.NoError(t, err)
			assert.Equal(t, node.Values{tt.want}, out)
		})
	}

	divide := create(t, deps, TypeMath, node.Settings{"operation": MathDivide})
	_, err := divide.Invoke(context.Background(), node.Values{1, 0})
	assert.ErrorIs(t, err, ErrDivisionByZero)

	withFallback := create(t, deps, TypeMath, node.Settings{"operation": MathMultiply, "b": 2.0})
	out, err := withFallback.Invoke(context.Background(), node.Values{21, nil})
	require.NoError(t, err)
	assert.Equal(t, node.Values{42.0}, out)
}
