package nodes

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"slices"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/collector"
	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/imaging"
	"github.com/wehubfusion/Daedalus/pkg/node"
	"github.com/wehubfusion/Daedalus/pkg/storage"
)

// collectorSchema declares iterated inputs and a single result output.
func collectorSchema(id, name string, inputs []node.Port, iteratedSlots []int, output string) node.Schema {
	return node.Schema{
		ID:             id,
		Name:           name,
		Kind:           node.KindCollector,
		Inputs:         inputs,
		Outputs:        []node.Port{{Name: output}},
		IteratorInputs: iteratedInputs(iteratedSlots...),
	}
}

// gather adapts a typed collector to the node-level collector. convert turns
// the per-item values into the collector's item type.
func gather[T, R any](c collector.Collector[T, R], convert func(node.Values) (T, error)) node.Gatherer {
	return collector.Func[node.Values, node.Values]{
		Iterate: func(item node.Values) error {
			v, err := convert(item)
			if err != nil {
				return err
			}
			return c.OnIterate(v)
		},
		Complete: func() (node.Values, error) {
			result, err := c.OnComplete()
			if err != nil {
				return nil, err
			}
			return node.Values{result}, nil
		},
		InOrder: c.Ordered(),
	}
}

// newCollector builds a collector node whose gatherer is created fresh for
// every run.
func newCollector(config node.Config, schema node.Schema, create func(ctx context.Context, inputs node.Values) (node.Gatherer, error)) *node.PlainNode {
	return node.NewPlain(config.ID, schema, func(ctx context.Context, inputs node.Values) (node.Values, error) {
		g, err := create(ctx, inputs)
		if err != nil {
			return nil, err
		}
		return node.Values{g}, nil
	})
}

func numberOf(item node.Values) (float64, error) {
	return toFloat(first(item))
}

func imageOf(item node.Values) (image.Image, error) {
	img, ok := first(item).(image.Image)
	if !ok {
		return nil, fmt.Errorf("%w: expected an image, got %T", derrors.ErrInvalidArgument, first(item))
	}
	return img, nil
}

func newAccumulate(_ Deps, config node.Config) (node.Node, error) {
	op, err := collector.ParseOperation(config.Settings.String("operation", string(collector.OpSum)))
	if err != nil {
		return nil, err
	}
	schema := collectorSchema(TypeAccumulate, "Accumulate", []node.Port{{Name: "number"}}, []int{0}, "result")
	return newCollector(config, schema, func(context.Context, node.Values) (node.Gatherer, error) {
		c, err := collector.Accumulate(op)
		if err != nil {
			return nil, err
		}
		return gather(c, numberOf), nil
	}), nil
}

// newSequenceLength counts items. An empty sequence yields 0.
func newSequenceLength(_ Deps, config node.Config) (node.Node, error) {
	schema := collectorSchema(TypeSequenceLength, "Sequence Length", []node.Port{{Name: "value"}}, []int{0}, "length")
	return newCollector(config, schema, func(context.Context, node.Values) (node.Gatherer, error) {
		return gather(collector.Length[node.Values](), func(item node.Values) (node.Values, error) {
			return item, nil
		}), nil
	}), nil
}

func newTextAppend(_ Deps, config node.Config) (node.Node, error) {
	separator := config.Settings.String("separator", " ")
	schema := collectorSchema(TypeTextAppend, "Text Append", []node.Port{{Name: "text"}}, []int{0}, "text")
	return newCollector(config, schema, func(context.Context, node.Values) (node.Gatherer, error) {
		return gather(collector.TextAppend(separator), func(item node.Values) (string, error) {
			if s, ok := first(item).(string); ok {
				return s, nil
			}
			return fmt.Sprint(first(item)), nil
		}), nil
	}), nil
}

// newStackImages stacks every image in dispatch order. It needs at least one image.
func newStackImages(_ Deps, config node.Config) (node.Node, error) {
	orientation := imaging.Orientation(config.Settings.String("orientation", string(imaging.Vertical)))
	if orientation != imaging.Vertical && orientation != imaging.Horizontal {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "unknown orientation %q", orientation)
	}
	schema := collectorSchema(TypeStackImages, "Stack Images", []node.Port{{Name: "image"}}, []int{0}, "image")
	return newCollector(config, schema, func(context.Context, node.Values) (node.Gatherer, error) {
		images := collector.RequireNonEmpty(TypeStackImages, collector.List[image.Image]())
		stacked := collector.Func[image.Image, image.Image]{
			Iterate: images.OnIterate,
			Complete: func() (image.Image, error) {
				list, err := images.OnComplete()
				if err != nil {
					return nil, err
				}
				return imaging.Stack(list, orientation)
			},
			InOrder: true,
		}
		return gather[image.Image, image.Image](stacked, imageOf), nil
	}), nil
}

type indexedTile struct {
	index int
	tile  image.Image
}

// newMergeSpritesheet assembles tiles into a grid. Tiles carry their index
// and are sorted on completion, so arrival order does not matter.
func newMergeSpritesheet(_ Deps, config node.Config) (node.Node, error) {
	cols := config.Settings.Int("cols", 1)
	if cols < 1 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "cols must be at least 1, got %d", cols)
	}
	schema := collectorSchema(TypeMergeSpritesheet, "Merge Spritesheet",
		[]node.Port{{Name: "tile"}, {Name: "index"}}, []int{0, 1}, "spritesheet")

	return newCollector(config, schema, func(context.Context, node.Values) (node.Gatherer, error) {
		var tiles []indexedTile
		merge := collector.Func[indexedTile, image.Image]{
			Iterate: func(t indexedTile) error {
				tiles = append(tiles, t)
				return nil
			},
			Complete: func() (image.Image, error) {
				slices.SortFunc(tiles, func(a, b indexedTile) int { return a.index - b.index })
				images := make([]image.Image, len(tiles))
				for i, t := range tiles {
					images[i] = t.tile
				}
				return imaging.MergeGrid(images, cols)
			},
		}
		return gather[indexedTile, image.Image](merge, func(item node.Values) (indexedTile, error) {
			img, err := imageOf(item)
			if err != nil {
				return indexedTile{}, err
			}
			if len(item) < 2 {
				return indexedTile{}, fmt.Errorf("%w: tile has no index", derrors.ErrInvalidArgument)
			}
			index, ok := item[1].(int)
			if !ok {
				return indexedTile{}, fmt.Errorf("%w: tile index is %T", derrors.ErrInvalidArgument, item[1])
			}
			return indexedTile{index: index, tile: img}, nil
		}), nil
	}), nil
}

// saveImagesNode is a collector whose items are written to storage as they
// arrive.
type saveImagesNode struct {
	*node.PlainNode
}

func (saveImagesNode) HasSideEffects() bool { return true }

// newSaveImages writes every image to a directory and outputs the number of
// files written. Items carry the image and a file stem.
func newSaveImages(deps Deps, config node.Config) (node.Node, error) {
	if err := requireStore(deps, TypeSaveImages); err != nil {
		return nil, err
	}
	format := imaging.Format(config.Settings.String("format", string(imaging.FormatPNG)))
	schema := collectorSchema(TypeSaveImages, "Save Images",
		[]node.Port{{Name: "image"}, {Name: "name"}, {Name: "directory", Optional: true}}, []int{0, 1}, "count")
	logger := deps.Logger.With(zap.String("node_id", config.ID))

	plain := newCollector(config, schema, func(ctx context.Context, inputs node.Values) (node.Gatherer, error) {
		dir := stringInput(inputs, 2, config.Settings, "directory")
		if dir == "" {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument, "directory is required")
		}
		written := 0
		save := collector.Func[node.Values, int]{
			Iterate: func(item node.Values) error {
				img, err := imageOf(item)
				if err != nil {
					return err
				}
				name := fmt.Sprint(item[1])
				path, err := writeImage(ctx, deps.Store, dir, name, img, format)
				if err != nil {
					return err
				}
				written++
				logger.Debug("saved image", zap.String("path", path))
				return nil
			},
			Complete: func() (int, error) {
				return written, nil
			},
		}
		return gather[node.Values, int](save, func(item node.Values) (node.Values, error) {
			if len(item) < 2 {
				return nil, fmt.Errorf("%w: expected image and name, got %d values", derrors.ErrInvalidArgument, len(item))
			}
			return item, nil
		}), nil
	})
	return saveImagesNode{PlainNode: plain}, nil
}

// writeImage encodes img and stores it as dir/name.<ext>.
func writeImage(ctx context.Context, store storage.Store, dir, name string, img image.Image, format imaging.Format) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return "", err
	}
	ext := ".png"
	if format == imaging.FormatJPEG {
		ext = ".jpg"
	}
	path := storage.Join(dir, name+ext)
	if err := store.Put(ctx, path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", path, err)
	}
	return path, nil
}
