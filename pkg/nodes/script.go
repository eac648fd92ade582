package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/node"
	"github.com/wehubfusion/Daedalus/pkg/sequence"
)

const (
	defaultScriptTimeout = 5 * time.Second
	maxRuntimeReuse      = 1000
)

// scriptRuntime is a JS runtime holding the compiled mapping function.
type scriptRuntime struct {
	vm   *goja.Runtime
	fn   goja.Callable
	uses int
}

// runtimePool keeps idle runtimes for one script. goja runtimes are not safe
// for concurrent use, so every call holds one exclusively.
type runtimePool struct {
	program *goja.Program
	idle    chan *scriptRuntime
	timeout time.Duration
	logger  *zap.Logger
}

func newRuntimePool(source string, size int, timeout time.Duration, logger *zap.Logger) (*runtimePool, error) {
	if source == "" {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "script is required")
	}
	program, err := goja.Compile(TypeScriptMap, "("+source+")", true)
	if err != nil {
		return nil, derrors.Configuration(err, "script does not compile")
	}
	p := &runtimePool{
		program: program,
		idle:    make(chan *scriptRuntime, size),
		timeout: timeout,
		logger:  logger,
	}
	// Build one runtime up front so a script that is not a function fails
	// before iteration.
	rt, err := p.create()
	if err != nil {
		return nil, derrors.Configuration(err, "invalid script")
	}
	p.idle <- rt
	return p, nil
}

func (p *runtimePool) create() (*scriptRuntime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	value, err := vm.RunProgram(p.program)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %w", err)
	}
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("script must evaluate to a function, got %s", value.ExportType())
	}
	return &scriptRuntime{vm: vm, fn: fn}, nil
}

func (p *runtimePool) acquire() (*scriptRuntime, error) {
	select {
	case rt := <-p.idle:
		return rt, nil
	default:
		return p.create()
	}
}

// release returns a runtime to the pool. Runtimes that served too many calls
// or that the pool has no room for are dropped.
func (p *runtimePool) release(rt *scriptRuntime) {
	rt.vm.ClearInterrupt()
	rt.uses++
	if rt.uses >= maxRuntimeReuse {
		return
	}
	select {
	case p.idle <- rt:
	default:
	}
}

// call runs the mapping function on one item. It is interrupted when ctx
// ends or the timeout elapses.
func (p *runtimePool) call(ctx context.Context, item node.Values, index int) (any, error) {
	rt, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer p.release(rt)

	stop := context.AfterFunc(ctx, func() {
		rt.vm.Interrupt(ctx.Err())
	})
	defer stop()
	if p.timeout > 0 {
		timer := time.AfterFunc(p.timeout, func() {
			rt.vm.Interrupt("execution timeout")
		})
		defer timer.Stop()
	}

	result, err := rt.fn(goja.Undefined(),
		rt.vm.ToValue(first(item)),
		rt.vm.ToValue(index),
		rt.vm.ToValue([]any(item)))
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			p.logger.Debug("script interrupted", zap.Int("index", index), zap.Any("reason", interrupted.Value()))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("script on item %d: %v", index, interrupted.Value())
		}
		return nil, fmt.Errorf("script on item %d: %w", index, err)
	}
	if goja.IsUndefined(result) {
		return nil, nil
	}
	return result.Export(), nil
}

// newScriptMap maps every item through a JS function of (value, index, item),
// for example `(value, index) => value * 2`. The result becomes the single
// value of the new item.
func newScriptMap(deps Deps, config node.Config) (node.Node, error) {
	timeout := time.Duration(config.Settings.Int("timeout_ms", int(defaultScriptTimeout/time.Millisecond))) * time.Millisecond
	logger := deps.Logger.With(zap.String("node_id", config.ID))
	pool, err := newRuntimePool(config.Settings.String("script", ""), deps.ScriptRuntimes, timeout, logger)
	if err != nil {
		return nil, err
	}
	return newTransformer(config, transformerSchema(TypeScriptMap, "Script Map"),
		func(ctx context.Context, in *node.Stream, _ node.Values) (*node.Stream, error) {
			return sequence.Map(sequence.Enumerate(in), func(p sequence.Pair[int, node.Values]) (node.Values, error) {
				out, err := pool.call(ctx, p.Second, p.First)
				if err != nil {
					return nil, err
				}
				return node.Values{out}, nil
			}), nil
		}), nil
}
