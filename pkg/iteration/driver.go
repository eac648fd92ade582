package iteration

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/sequence"
)

// Driver runs per-item work once for every item of a sequence and routes the
// outputs to a sink. A Driver holds no per-run state and may be reused.
type Driver[T, R any] struct {
	config   Config
	logger   *zap.Logger
	observer Observer
	metrics  *MetricsCollector
	limiter  *concurrency.Limiter
	tracer   trace.Tracer
}

// Option configures a driver.
type Option func(*settings)

type settings struct {
	logger   *zap.Logger
	observer Observer
	metrics  *MetricsCollector
	limiter  *concurrency.Limiter
	tracer   trace.Tracer
}

// WithLogger sets the logger used for run-level events.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithObserver sets the observer notified of every transition.
func WithObserver(observer Observer) Option {
	return func(s *settings) { s.observer = observer }
}

// WithMetrics shares a metrics collector between drivers.
func WithMetrics(metrics *MetricsCollector) Option {
	return func(s *settings) { s.metrics = metrics }
}

// WithLimiter caps the number of tasks running across every driver sharing
// the limiter, on top of the driver's own worker count.
func WithLimiter(limiter *concurrency.Limiter) Option {
	return func(s *settings) { s.limiter = limiter }
}

// WithTracer sets the tracer used for run and item spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *settings) { s.tracer = tracer }
}

// NewDriver creates a driver with the given config.
func NewDriver[T, R any](config Config, opts ...Option) *Driver[T, R] {
	config.Validate()

	s := settings{}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.observer == nil {
		s.observer = NoOpObserver{}
	}
	if s.metrics == nil {
		s.metrics = NewMetricsCollector()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("daedalus/iteration")
	}

	return &Driver[T, R]{
		config:   config,
		logger:   s.logger,
		observer: s.observer,
		metrics:  s.metrics,
		limiter:  s.limiter,
		tracer:   s.tracer,
	}
}

// Config returns the validated driver configuration.
func (d *Driver[T, R]) Config() Config {
	return d.config
}

// Metrics returns a snapshot of the driver's metrics.
func (d *Driver[T, R]) Metrics() Metrics {
	return d.metrics.Snapshot()
}

// Run drives the sequence to completion. Under the sequential strategy sink
// calls follow dispatch order; under the parallel strategy they follow
// completion order. Use RunOrdered when the sink depends on position.
func (d *Driver[T, R]) Run(ctx context.Context, seq *sequence.Sequence[T], handle Handler[T, R], sink Sink[R]) error {
	return d.run(ctx, seq, handle, sink, false)
}

// RunOrdered is Run with sink calls re-sorted into dispatch order under the
// parallel strategy.
func (d *Driver[T, R]) RunOrdered(ctx context.Context, seq *sequence.Sequence[T], handle Handler[T, R], sink Sink[R]) error {
	return d.run(ctx, seq, handle, sink, true)
}

// RunWhile drives up to count tasks sequentially when the real number of
// items is unknown ahead of time. next returns ok=false once there is no more
// data, which drains the run even if fewer than count tasks ran. failFast is
// the source's error policy.
func (d *Driver[T, R]) RunWhile(ctx context.Context, count int, next func(index int) (T, bool, error), failFast bool, handle Handler[T, R], sink Sink[R]) error {
	seq, err := sequence.FromProbe(count, next, sequence.WithFailFast(failFast))
	if err != nil {
		return err
	}
	return d.RunProbe(ctx, seq, handle, sink)
}

// RunProbe drives a run-while sequence built with sequence.FromProbe. The
// sequence itself is iterated, so it is consumed and its release hook runs.
// Run-while sources are always driven sequentially.
func (d *Driver[T, R]) RunProbe(ctx context.Context, seq *sequence.Sequence[T], handle Handler[T, R], sink Sink[R]) error {
	if seq == nil {
		return derrors.Configuration(derrors.ErrInvalidArgument, "sequence is required")
	}
	if _, _, ok := seq.Probe(); !ok {
		return derrors.Configuration(derrors.ErrInvalidArgument, "sequence is not a run-while source")
	}
	if handle == nil {
		return derrors.Configuration(derrors.ErrInvalidArgument, "handler is required")
	}
	ctx, span := d.startRun(ctx, seq)
	defer span.End()
	return d.finishRun(span, d.runSequential(ctx, seq, handle, sink, d.failFast(seq)))
}

func (d *Driver[T, R]) run(ctx context.Context, seq *sequence.Sequence[T], handle Handler[T, R], sink Sink[R], ordered bool) error {
	if seq == nil {
		return derrors.Configuration(derrors.ErrInvalidArgument, "sequence is required")
	}
	if handle == nil {
		return derrors.Configuration(derrors.ErrInvalidArgument, "handler is required")
	}

	ctx, span := d.startRun(ctx, seq)
	defer span.End()

	failFast := d.failFast(seq)
	var err error
	if d.parallel() {
		err = d.runParallel(ctx, seq, handle, sink, failFast, ordered)
	} else {
		err = d.runSequential(ctx, seq, handle, sink, failFast)
	}
	return d.finishRun(span, err)
}

func (d *Driver[T, R]) parallel() bool {
	return d.config.Strategy == StrategyParallel && d.config.MaxConcurrent > 1
}

func (d *Driver[T, R]) failFast(seq *sequence.Sequence[T]) bool {
	if d.config.FailFast != nil {
		return *d.config.FailFast
	}
	return seq.FailFast()
}

func (d *Driver[T, R]) startRun(ctx context.Context, seq *sequence.Sequence[T]) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("iteration.strategy", string(d.config.Strategy)),
		attribute.Int("iteration.max_concurrent", d.config.MaxConcurrent),
	}
	if n, ok := seq.ExpectedLength(); ok {
		attrs = append(attrs, attribute.Int("iteration.expected_length", n))
	}
	return d.tracer.Start(ctx, "iteration.run", trace.WithAttributes(attrs...))
}

func (d *Driver[T, R]) finishRun(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (d *Driver[T, R]) runSequential(ctx context.Context, seq *sequence.Sequence[T], handle Handler[T, R], sink Sink[R], failFast bool) error {
	d.emit(Transition{Index: -1, From: StateIdle, To: StateDispatching})

	next, stop := iter.Pull2(seq.All())
	defer stop()

	var deferred []*ItemError
	index := 0
	for {
		if err := ctx.Err(); err != nil {
			return d.abort(index, cancelled(err))
		}
		item, srcErr, ok := next()
		if !ok {
			break
		}
		task := Task[T]{Index: index, Item: item}
		index++

		itemErr := d.process(ctx, task, srcErr, handle, sink)
		if itemErr == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return d.abort(index, cancelled(err))
		}
		if failFast {
			return d.abort(index, itemErr)
		}
		deferred = append(deferred, itemErr)
	}
	return d.drain(index, deferred)
}

// process runs INJECT, EXECUTE and COLLECT for one task.
func (d *Driver[T, R]) process(ctx context.Context, task Task[T], srcErr error, handle Handler[T, R], sink Sink[R]) *ItemError {
	if srcErr != nil {
		return d.fail(&ItemError{Index: task.Index, Phase: StateInject, Cause: srcErr})
	}
	value, itemErr := d.execute(ctx, task, handle)
	if itemErr != nil {
		return d.fail(itemErr)
	}
	if sink == nil {
		return nil
	}
	d.emit(Transition{Index: task.Index, From: StateExecute, To: StateCollect})
	if err := sink(task.Index, value); err != nil {
		return d.fail(&ItemError{Index: task.Index, Phase: StateCollect, Cause: err})
	}
	return nil
}

// execute invokes the handler for one task with the item span, the per-item
// timeout and panic recovery applied.
func (d *Driver[T, R]) execute(ctx context.Context, task Task[T], handle Handler[T, R]) (value R, itemErr *ItemError) {
	start := time.Now()
	d.metrics.start()
	d.emit(Transition{Index: task.Index, From: StateDispatching, To: StateInject})
	d.emit(Transition{Index: task.Index, From: StateInject, To: StateExecute})

	itemCtx, span := d.tracer.Start(ctx, "iteration.item",
		trace.WithAttributes(attribute.Int("iteration.index", task.Index)))
	defer span.End()

	if d.config.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(itemCtx, d.config.ItemTimeout)
		defer cancel()
	}

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic in item %d: %v", task.Index, p)
			}
		}()
		value, err = handle(itemCtx, task)
	}()

	elapsed := time.Since(start)
	d.metrics.finish(elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		phase := StateExecute
		var inj *injectError
		if errors.As(err, &inj) {
			phase, err = StateInject, inj.cause
		}
		return value, &ItemError{Index: task.Index, Phase: phase, Cause: err}
	}
	return value, nil
}

func (d *Driver[T, R]) runParallel(ctx context.Context, seq *sequence.Sequence[T], handle Handler[T, R], sink Sink[R], failFast, ordered bool) error {
	d.emit(Transition{Index: -1, From: StateIdle, To: StateDispatching})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(d.config.MaxConcurrent)

	var (
		mu       sync.Mutex
		deferred []*ItemError
		fatal    *ItemError
		ro       *reorder[R]
	)
	if ordered && sink != nil {
		ro = newReorder(sink)
	}

	// record must be called with mu held.
	record := func(ie *ItemError) {
		if failFast {
			if fatal == nil {
				fatal = ie
				cancel()
			}
			return
		}
		deferred = append(deferred, ie)
	}

	complete := func(index int, value R, itemErr *ItemError) {
		mu.Lock()
		defer mu.Unlock()
		if itemErr != nil {
			record(itemErr)
		}
		if fatal != nil {
			return
		}
		if ro != nil {
			ro.deliver(index, value, itemErr == nil, func(i int, err error) bool {
				record(d.fail(&ItemError{Index: i, Phase: StateCollect, Cause: err}))
				return fatal == nil
			})
			return
		}
		if itemErr == nil && sink != nil {
			d.emit(Transition{Index: index, From: StateExecute, To: StateCollect})
			if err := sink(index, value); err != nil {
				record(d.fail(&ItemError{Index: index, Phase: StateCollect, Cause: err}))
			}
		}
	}

	next, stop := iter.Pull2(seq.All())
	defer stop()

	var zero R
	index := 0
	for gctx.Err() == nil {
		item, srcErr, ok := next()
		if !ok {
			break
		}
		task := Task[T]{Index: index, Item: item}
		index++

		if srcErr != nil {
			complete(task.Index, zero, d.fail(&ItemError{Index: task.Index, Phase: StateInject, Cause: srcErr}))
			continue
		}

		g.Go(func() error {
			if d.limiter != nil {
				if err := d.limiter.Acquire(gctx); err != nil {
					complete(task.Index, zero, &ItemError{Index: task.Index, Phase: StateDispatching, Cause: err})
					return nil
				}
				defer d.limiter.Release()
			}
			if err := gctx.Err(); err != nil {
				complete(task.Index, zero, &ItemError{Index: task.Index, Phase: StateDispatching, Cause: err})
				return nil
			}
			value, itemErr := d.execute(gctx, task, handle)
			if itemErr != nil {
				d.fail(itemErr)
			}
			complete(task.Index, value, itemErr)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return d.abort(index, cancelled(err))
	}
	if fatal != nil {
		return d.abort(index, fatal)
	}
	return d.drain(index, deferred)
}

// Stream maps the sequence through the handler lazily and returns the outputs
// as a new single-pass sequence, which is how transformer endpoints are built.
// Per-item failures are yielded as ItemError entries for the consumer's
// driver to classify. Under the parallel strategy outputs follow completion
// order.
func (d *Driver[T, R]) Stream(ctx context.Context, seq *sequence.Sequence[T], handle Handler[T, R]) (*sequence.Sequence[R], error) {
	return d.stream(ctx, seq, handle, false)
}

// StreamOrdered is Stream with outputs and failures yielded in dispatch order
// under the parallel strategy too.
func (d *Driver[T, R]) StreamOrdered(ctx context.Context, seq *sequence.Sequence[T], handle Handler[T, R]) (*sequence.Sequence[R], error) {
	return d.stream(ctx, seq, handle, true)
}

func (d *Driver[T, R]) stream(ctx context.Context, seq *sequence.Sequence[T], handle Handler[T, R], ordered bool) (*sequence.Sequence[R], error) {
	if seq == nil {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "sequence is required")
	}
	if handle == nil {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "handler is required")
	}

	var length *int
	if n, ok := seq.ExpectedLength(); ok {
		length = &n
	}
	supplier := d.streamSequential(ctx, seq, handle)
	if d.parallel() {
		supplier = d.streamParallel(ctx, seq, handle, ordered)
	}
	return sequence.FromSupplier(supplier, length, sequence.WithFailFast(seq.FailFast()))
}

func (d *Driver[T, R]) streamSequential(ctx context.Context, seq *sequence.Sequence[T], handle Handler[T, R]) func() iter.Seq2[R, error] {
	return func() iter.Seq2[R, error] {
		return func(yield func(R, error) bool) {
			var zero R
			index := 0
			for item, srcErr := range seq.All() {
				task := Task[T]{Index: index, Item: item}
				index++
				if err := ctx.Err(); err != nil {
					yield(zero, cancelled(err))
					return
				}
				if srcErr != nil {
					if !yield(zero, &ItemError{Index: task.Index, Phase: StateInject, Cause: srcErr}) {
						return
					}
					continue
				}
				value, itemErr := d.execute(ctx, task, handle)
				if itemErr != nil {
					if !yield(zero, itemErr) {
						return
					}
					continue
				}
				if !yield(value, nil) {
					return
				}
			}
		}
	}
}

func (d *Driver[T, R]) streamParallel(ctx context.Context, seq *sequence.Sequence[T], handle Handler[T, R], ordered bool) func() iter.Seq2[R, error] {
	return func() iter.Seq2[R, error] {
		return func(yield func(R, error) bool) {
			streamCtx, cancel := context.WithCancel(ctx)
			results := make(chan Result[R])

			send := func(r Result[R]) {
				select {
				case results <- r:
				case <-streamCtx.Done():
				}
			}

			go func() {
				defer close(results)
				g, gctx := errgroup.WithContext(streamCtx)
				g.SetLimit(d.config.MaxConcurrent)

				next, stop := iter.Pull2(seq.All())
				defer stop()

				index := 0
				for gctx.Err() == nil {
					item, srcErr, ok := next()
					if !ok {
						break
					}
					task := Task[T]{Index: index, Item: item}
					index++
					if srcErr != nil {
						send(Result[R]{Index: task.Index, Err: &ItemError{Index: task.Index, Phase: StateInject, Cause: srcErr}})
						continue
					}
					g.Go(func() error {
						value, itemErr := d.execute(gctx, task, handle)
						r := Result[R]{Index: task.Index, Value: value}
						if itemErr != nil {
							r.Err = itemErr
						}
						send(r)
						return nil
					})
				}
				_ = g.Wait()
			}()

			defer func() {
				cancel()
				for range results {
				}
			}()

			// pending holds completions that arrived ahead of the cursor.
			var pending map[int]Result[R]
			if ordered {
				pending = make(map[int]Result[R])
			}
			cursor := 0
			for r := range results {
				if pending == nil {
					if !yield(r.Value, r.Err) {
						return
					}
					continue
				}
				pending[r.Index] = r
				for {
					ready, ok := pending[cursor]
					if !ok {
						break
					}
					delete(pending, cursor)
					cursor++
					if !yield(ready.Value, ready.Err) {
						return
					}
				}
			}
			if err := ctx.Err(); err != nil {
				var zero R
				yield(zero, cancelled(err))
			}
		}
	}
}

func (d *Driver[T, R]) emit(t Transition) {
	d.observer.OnTransition(t)
}

// fail reports an item failure to the observer and returns it unchanged.
func (d *Driver[T, R]) fail(ie *ItemError) *ItemError {
	d.emit(Transition{Index: ie.Index, From: ie.Phase, To: StateDispatching, Err: ie})
	d.logger.Debug("item failed",
		zap.Int("index", ie.Index),
		zap.String("phase", ie.Phase.String()),
		zap.Error(ie.Cause))
	return ie
}

func (d *Driver[T, R]) abort(dispatched int, err error) error {
	d.emit(Transition{Index: -1, From: StateDispatching, To: StateAborted, Err: err})
	d.logger.Error("iteration aborted",
		zap.Int("dispatched", dispatched),
		zap.String("code", Categorize(err)),
		zap.Error(err))
	return err
}

func (d *Driver[T, R]) drain(dispatched int, deferred []*ItemError) error {
	if len(deferred) == 0 {
		d.emit(Transition{Index: -1, From: StateDispatching, To: StateDrained})
		d.logger.Debug("iteration drained", zap.Int("dispatched", dispatched))
		return nil
	}
	agg := newAggregateError(deferred, dispatched)
	d.emit(Transition{Index: -1, From: StateDispatching, To: StateDrained, Err: agg})
	d.logger.Warn("iteration drained with deferred errors",
		zap.Int("dispatched", dispatched),
		zap.Int("failed", len(deferred)),
		zap.Error(agg.Combined()))
	return agg
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", derrors.ErrCancelled, cause)
}
