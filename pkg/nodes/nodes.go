// Package nodes is the catalog of iteration nodes: sources, the item helper,
// transformers and collectors, plus the plain nodes used inside per-item
// subgraphs.
//
// Pass-through transformers keep the item shape of their upstream, so a
// subgraph behind limit or filter_number can keep using the source schema as
// its entry.
package nodes

import (
	"fmt"
	"runtime"
	"strconv"

	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/node"
	"github.com/wehubfusion/Daedalus/pkg/storage"
)

// Node types.
const (
	TypeList             = "list"
	TypeRange            = "range"
	TypeLoadImages       = "load_images"
	TypeLoadImagePairs   = "load_image_pairs"
	TypeSplitSpritesheet = "split_spritesheet"
	TypeLoadFrames       = "load_frames"

	TypeItemHelper = "item_helper"

	TypeLimit            = "limit"
	TypeSkip             = "skip"
	TypeSlice            = "slice"
	TypeRepeat           = "repeat"
	TypeReverse          = "reverse"
	TypeDeduplicate      = "deduplicate"
	TypeInterleave       = "interleave"
	TypePermute          = "permute"
	TypeMultithread      = "multithread"
	TypeFilterNumber     = "filter_number"
	TypeFilterExpression = "filter_expression"
	TypeScriptMap        = "script_map"

	TypeAccumulate       = "accumulate"
	TypeSequenceLength   = "sequence_length"
	TypeTextAppend       = "text_append"
	TypeStackImages      = "stack_images"
	TypeMergeSpritesheet = "merge_spritesheet"
	TypeSaveImages       = "save_images"

	TypeMath      = "math"
	TypeSaveImage = "save_image"
)

// Deps are the services shared by catalog nodes.
type Deps struct {
	// Store backs every node that reads or writes files. Nodes that need it
	// fail at creation when it is nil.
	Store  storage.Store
	Logger *zap.Logger

	// FFmpeg is the decoder binary used by load_frames. Defaults to "ffmpeg".
	FFmpeg string

	// ScriptRuntimes bounds the idle JS runtimes kept per script_map node.
	ScriptRuntimes int
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.FFmpeg == "" {
		d.FFmpeg = "ffmpeg"
	}
	if d.ScriptRuntimes <= 0 {
		d.ScriptRuntimes = runtime.GOMAXPROCS(0)
	}
	return d
}

type factory func(deps Deps, config node.Config) (node.Node, error)

var catalog = map[string]factory{
	TypeList:             newList,
	TypeRange:            newRange,
	TypeLoadImages:       newLoadImages,
	TypeLoadImagePairs:   newLoadImagePairs,
	TypeSplitSpritesheet: newSplitSpritesheet,
	TypeLoadFrames:       newLoadFrames,

	TypeItemHelper: newItemHelper,

	TypeLimit:            newLimit,
	TypeSkip:             newSkip,
	TypeSlice:            newSlice,
	TypeRepeat:           newRepeat,
	TypeReverse:          newReverse,
	TypeDeduplicate:      newDeduplicate,
	TypeInterleave:       newInterleave,
	TypePermute:          newPermute,
	TypeMultithread:      newMultithread,
	TypeFilterNumber:     newFilterNumber,
	TypeFilterExpression: newFilterExpression,
	TypeScriptMap:        newScriptMap,

	TypeAccumulate:       newAccumulate,
	TypeSequenceLength:   newSequenceLength,
	TypeTextAppend:       newTextAppend,
	TypeStackImages:      newStackImages,
	TypeMergeSpritesheet: newMergeSpritesheet,
	TypeSaveImages:       newSaveImages,

	TypeMath:      newMath,
	TypeSaveImage: newSaveImage,
}

// Register adds every catalog node to r.
func Register(r *node.Registry, deps Deps) {
	deps = deps.withDefaults()
	for nodeType, create := range catalog {
		r.Register(nodeType, func(config node.Config) (node.Node, error) {
			if config.Settings == nil {
				config.Settings = node.Settings{}
			}
			return create(deps, config)
		})
	}
}

// NewRegistry returns a registry holding the whole catalog.
func NewRegistry(deps Deps) *node.Registry {
	r := node.NewRegistry()
	Register(r, deps)
	return r
}

// emit wraps a stream as the single output of a newIterator or transformer node.
func emit(stream *node.Stream, extra node.Values, workers int) node.Values {
	return node.Values{&node.Iteration{Stream: stream, Extra: extra, Workers: workers}}
}

// upstream reads the iteration wired into an input slot.
func upstream(inputs node.Values, slot int) (*node.Iteration, error) {
	it, ok := inputs[slot].(*node.Iteration)
	if !ok || it == nil || it.Stream == nil {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "input %d is not a sequence (%T)", slot, inputs[slot])
	}
	return it, nil
}

func requireStore(deps Deps, nodeType string) error {
	if deps.Store == nil {
		return derrors.Configuration(derrors.ErrInvalidArgument, "%s needs a storage backend", nodeType)
	}
	return nil
}

// stringInput returns the input value at slot when it is a non-empty
// string, or the named setting otherwise.
func stringInput(inputs node.Values, slot int, settings node.Settings, key string) string {
	if slot < len(inputs) {
		if s, ok := inputs[slot].(string); ok && s != "" {
			return s
		}
	}
	return settings.String(key, "")
}

// toFloat converts a numeric payload to float64.
func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string %q to number: %w", v, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot convert type %T to number", value)
}

// first returns the first value of an item, or nil for an empty item.
func first(item node.Values) any {
	if len(item) == 0 {
		return nil
	}
	return item[0]
}

func iterated(slots ...int) []node.IteratorOutputInfo {
	return []node.IteratorOutputInfo{{Outputs: slots}}
}

func iteratedInputs(slots ...int) []node.IteratorInputInfo {
	return []node.IteratorInputInfo{{Inputs: slots}}
}
