package nodes

import (
	"context"
	"errors"
	"image"

	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/imaging"
	"github.com/wehubfusion/Daedalus/pkg/node"
	"github.com/wehubfusion/Daedalus/pkg/sequence"
	"github.com/wehubfusion/Daedalus/pkg/storage"
)

const defaultImageGlob = "**/*.{png,jpg,jpeg}"

func newList(_ Deps, config node.Config) (node.Node, error) {
	items, _ := config.Settings["items"].([]any)
	failFast := config.Settings.Bool("fail_fast", true)
	schema := node.Schema{
		ID:              TypeList,
		Name:            "List",
		Kind:            node.KindNewIterator,
		Outputs:         []node.Port{{Name: "item"}, {Name: "index"}},
		IteratorOutputs: iterated(0, 1),
	}
	return node.NewPlain(config.ID, schema, func(context.Context, node.Values) (node.Values, error) {
		stream := sequence.FromList(items, func(item any, index int) (node.Values, error) {
			return node.Values{item, index}, nil
		}, sequence.WithFailFast(failFast))
		return emit(stream, nil, 0), nil
	}), nil
}

func newRange(_ Deps, config node.Config) (node.Node, error) {
	count := config.Settings.Int("count", 0)
	start := config.Settings.Int("start", 0)
	step := config.Settings.Int("step", 1)
	schema := node.Schema{
		ID:              TypeRange,
		Name:            "Range",
		Kind:            node.KindNewIterator,
		Outputs:         []node.Port{{Name: "value"}, {Name: "index"}},
		IteratorOutputs: iterated(0, 1),
	}
	return node.NewPlain(config.ID, schema, func(context.Context, node.Values) (node.Values, error) {
		stream, err := sequence.FromRange(count, func(index int) (node.Values, error) {
			return node.Values{start + index*step, index}, nil
		})
		if err != nil {
			return nil, err
		}
		return emit(stream, nil, 0), nil
	}), nil
}

// listImages lists the images of a directory, mapping a missing directory to
// a configuration error.
func listImages(ctx context.Context, store storage.Store, dir, glob string) ([]string, error) {
	if dir == "" {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "directory is required")
	}
	paths, err := store.List(ctx, dir, glob)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, derrors.Configuration(err, "directory %s does not exist", dir)
		}
		return nil, derrors.Configuration(err, "failed to list %s", dir)
	}
	return paths, nil
}

func loadImage(ctx context.Context, store storage.Store, name string) (image.Image, error) {
	rc, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	img, err := imaging.Decode(rc)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// newLoadImages iterates over the images of a directory in natural order.
// Files are opened and decoded only when their item is dispatched.
func newLoadImages(deps Deps, config node.Config) (node.Node, error) {
	if err := requireStore(deps, TypeLoadImages); err != nil {
		return nil, err
	}
	glob := config.Settings.String("glob", defaultImageGlob)
	failFast := config.Settings.Bool("fail_fast", false)
	schema := node.Schema{
		ID:      TypeLoadImages,
		Name:    "Load Images",
		Kind:    node.KindNewIterator,
		Inputs:  []node.Port{{Name: "directory", Optional: true}},
		Outputs: []node.Port{{Name: "image"}, {Name: "path"}, {Name: "name"}, {Name: "index"}, {Name: "directory"}},
		// directory is shared by every item
		IteratorOutputs: iterated(0, 1, 2, 3),
	}
	logger := deps.Logger.With(zap.String("node_id", config.ID))

	return node.NewPlain(config.ID, schema, func(ctx context.Context, inputs node.Values) (node.Values, error) {
		dir := stringInput(inputs, 0, config.Settings, "directory")
		paths, err := listImages(ctx, deps.Store, dir, glob)
		if err != nil {
			return nil, err
		}
		logger.Debug("listed images", zap.String("directory", dir), zap.Int("count", len(paths)))

		stream := sequence.FromList(paths, func(path string, index int) (node.Values, error) {
			img, err := loadImage(ctx, deps.Store, path)
			if err != nil {
				return nil, err
			}
			return node.Values{img, path, storage.Stem(path), index}, nil
		}, sequence.WithFailFast(failFast))
		return emit(stream, node.Values{dir}, 0), nil
	}), nil
}

// newLoadImagePairs iterates over two directories in lockstep. Both must
// hold the same number of matching files.
func newLoadImagePairs(deps Deps, config node.Config) (node.Node, error) {
	if err := requireStore(deps, TypeLoadImagePairs); err != nil {
		return nil, err
	}
	glob := config.Settings.String("glob", defaultImageGlob)
	failFast := config.Settings.Bool("fail_fast", false)
	schema := node.Schema{
		ID:     TypeLoadImagePairs,
		Name:   "Load Image Pairs",
		Kind:   node.KindNewIterator,
		Inputs: []node.Port{{Name: "directory_a", Optional: true}, {Name: "directory_b", Optional: true}},
		Outputs: []node.Port{
			{Name: "image_a"}, {Name: "image_b"},
			{Name: "path_a"}, {Name: "path_b"},
			{Name: "index"},
			{Name: "directory_a"}, {Name: "directory_b"},
		},
		IteratorOutputs: iterated(0, 1, 2, 3, 4),
	}

	return node.NewPlain(config.ID, schema, func(ctx context.Context, inputs node.Values) (node.Values, error) {
		dirA := stringInput(inputs, 0, config.Settings, "directory_a")
		dirB := stringInput(inputs, 1, config.Settings, "directory_b")
		pathsA, err := listImages(ctx, deps.Store, dirA, glob)
		if err != nil {
			return nil, err
		}
		pathsB, err := listImages(ctx, deps.Store, dirB, glob)
		if err != nil {
			return nil, err
		}
		if len(pathsA) != len(pathsB) {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument,
				"directories must hold the same number of images: %s has %d, %s has %d",
				dirA, len(pathsA), dirB, len(pathsB))
		}

		stream := sequence.FromList(pathsA, func(pathA string, index int) (node.Values, error) {
			pathB := pathsB[index]
			imgA, err := loadImage(ctx, deps.Store, pathA)
			if err != nil {
				return nil, err
			}
			imgB, err := loadImage(ctx, deps.Store, pathB)
			if err != nil {
				return nil, err
			}
			return node.Values{imgA, imgB, pathA, pathB, index}, nil
		}, sequence.WithFailFast(failFast))
		return emit(stream, node.Values{dirA, dirB}, 0), nil
	}), nil
}

// newSplitSpritesheet iterates over the tiles of a grid. The grid is
// checked against the image size before any tile is cut.
func newSplitSpritesheet(_ Deps, config node.Config) (node.Node, error) {
	rows := config.Settings.Int("rows", 1)
	cols := config.Settings.Int("cols", 1)
	if rows < 1 || cols < 1 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "grid %dx%d is invalid", rows, cols)
	}
	schema := node.Schema{
		ID:              TypeSplitSpritesheet,
		Name:            "Split Spritesheet",
		Kind:            node.KindNewIterator,
		Inputs:          []node.Port{{Name: "spritesheet"}},
		Outputs:         []node.Port{{Name: "tile"}, {Name: "index"}},
		IteratorOutputs: iterated(0, 1),
	}

	return node.NewPlain(config.ID, schema, func(_ context.Context, inputs node.Values) (node.Values, error) {
		img, ok := inputs[0].(image.Image)
		if !ok {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument, "spritesheet is %T, not an image", inputs[0])
		}
		b := img.Bounds()
		if b.Dx()%cols != 0 || b.Dy()%rows != 0 {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument,
				"spritesheet of %dx%d cannot be split into %d rows and %d columns", b.Dx(), b.Dy(), rows, cols)
		}
		stream, err := sequence.FromRange(rows*cols, func(index int) (node.Values, error) {
			tile, err := imaging.Tile(img, rows, cols, index)
			if err != nil {
				return nil, err
			}
			return node.Values{tile, index}, nil
		})
		if err != nil {
			return nil, err
		}
		return emit(stream, nil, 0), nil
	}), nil
}
