// Package engine runs iteration chains: a source node, optional transformer
// stages, per-item work and a collector node.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/iteration"
	"github.com/wehubfusion/Daedalus/pkg/node"
	"github.com/wehubfusion/Daedalus/pkg/storage"
)

// Stage is one transformer step of a chain.
type Stage struct {
	// Map, when set, runs per item before the transformer. Its outputs become
	// the items the transformer sees.
	Map *graph.Subgraph

	// Transformer receives the upstream iteration in its iterated input slot.
	// It may be nil when the stage only maps.
	Transformer node.Node
	Inputs      node.Values
}

// Chain is an iteration as the graph executor sees it.
type Chain struct {
	Source       node.Node
	SourceInputs node.Values

	Stages []Stage

	// Subgraph is the per-item work. Its outputs are handed to the
	// collector. When nil, items are handed over unchanged.
	Subgraph *graph.Subgraph

	Collector       node.Node
	CollectorInputs node.Values
}

// ObserverFactory creates an observer for one run.
type ObserverFactory func(runID string) iteration.Observer

// Engine runs chains. It is safe for concurrent use.
type Engine struct {
	config    iteration.Config
	logger    *zap.Logger
	tracer    trace.Tracer
	limiter   *concurrency.Limiter
	metrics   *iteration.MetricsCollector
	observers []ObserverFactory
	reports   *storage.ReportWriter
}

// Option configures an engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer for run spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithLimiter shares a process-wide limiter between all pooled runs.
func WithLimiter(limiter *concurrency.Limiter) Option {
	return func(e *Engine) { e.limiter = limiter }
}

// WithObservers adds observers created per run, such as progress publishers.
func WithObservers(factories ...ObserverFactory) Option {
	return func(e *Engine) { e.observers = append(e.observers, factories...) }
}

// WithReports writes a run report through writer after every run.
func WithReports(writer *storage.ReportWriter) Option {
	return func(e *Engine) { e.reports = writer }
}

// New creates an engine that drives iterations with config.
func New(config iteration.Config, opts ...Option) *Engine {
	config.Validate()
	e := &Engine{
		config:  config,
		logger:  zap.NewNop(),
		metrics: iteration.NewMetricsCollector(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("daedalus/engine")
	}
	return e
}

// NewFromConfig creates an engine from the process concurrency settings.
// A positive global limit installs a shared limiter.
func NewFromConfig(cfg *concurrency.Config, opts ...Option) *Engine {
	config := iteration.DefaultConfig().WithMaxConcurrent(cfg.MaxConcurrent).WithItemTimeout(cfg.ItemTimeout)
	if cfg.IteratorMode == concurrency.IteratorModeParallel {
		config = config.WithStrategy(iteration.StrategyParallel)
	}
	if cfg.FailFast != nil {
		config = config.WithFailFast(*cfg.FailFast)
	}
	if cfg.GlobalLimit > 0 {
		opts = append([]Option{WithLimiter(concurrency.NewLimiter(cfg.GlobalLimit))}, opts...)
	}
	return New(config, opts...)
}

// Metrics returns the item metrics accumulated over every run of the engine.
func (e *Engine) Metrics() iteration.Metrics {
	return e.metrics.Snapshot()
}

// Run executes the chain and returns the collector's outputs. The source,
// every transformer and the collector node are invoked before the first item
// is dispatched, so their configuration errors surface before iteration.
// The result is all-or-nothing: any per-item error yields no outputs.
func (e *Engine) Run(ctx context.Context, chain Chain) (node.Values, error) {
	if chain.Source == nil || chain.Collector == nil {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "chain needs a source and a collector")
	}

	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", runID))
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("engine.run_id", runID),
		attribute.String("engine.source", chain.Source.ID()),
		attribute.String("engine.collector", chain.Collector.ID()),
	))
	defer span.End()

	stats := &tally{}
	outputs, err := e.run(ctx, chain, runID, stats, logger)
	e.report(ctx, chain, runID, start, stats, err, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("iteration chain failed",
			zap.String("code", iteration.Categorize(err)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}
	logger.Info("iteration chain completed", zap.Duration("elapsed", time.Since(start)))
	return outputs, nil
}

func (e *Engine) run(ctx context.Context, chain Chain, runID string, stats *tally, logger *zap.Logger) (node.Values, error) {
	source, it, err := e.prepare(ctx, chain)
	if source != nil {
		defer source.Stream.Release()
	}
	if err != nil {
		return nil, err
	}

	collected, err := invokeNode(ctx, chain.Collector, chain.CollectorInputs)
	if err != nil {
		return nil, err
	}
	gatherer, err := node.GathererOf(collected)
	if err != nil {
		return nil, derrors.Configuration(err, "collector %s", chain.Collector.ID())
	}

	driver := iteration.NewDriver[node.Values, node.Values](e.driverConfig(it),
		iteration.WithLogger(logger),
		iteration.WithLimiter(e.limiter),
		iteration.WithMetrics(e.metrics),
		iteration.WithObserver(e.observer(runID, stats)))

	handle := e.handler(chain.Subgraph, it.Extra)
	sink := func(_ int, value node.Values) error {
		return gatherer.OnIterate(value)
	}

	if _, _, ok := it.Stream.Probe(); ok {
		err = driver.RunProbe(ctx, it.Stream, handle, sink)
	} else if gatherer.Ordered() {
		err = driver.RunOrdered(ctx, it.Stream, handle, sink)
	} else {
		err = driver.Run(ctx, it.Stream, handle, sink)
	}
	if err != nil {
		return nil, err
	}

	outputs, err := gatherer.OnComplete()
	if err != nil {
		return nil, fmt.Errorf("collector %s: %w", chain.Collector.ID(), err)
	}
	return outputs, nil
}

// prepare invokes the source and applies every stage lazily. The source
// iteration is returned as soon as it exists so the caller can release it.
func (e *Engine) prepare(ctx context.Context, chain Chain) (source, it *node.Iteration, err error) {
	out, err := invokeNode(ctx, chain.Source, chain.SourceInputs)
	if err != nil {
		return nil, nil, err
	}
	source, err = node.IterationOf(out)
	if err != nil {
		return nil, nil, derrors.Configuration(err, "source %s", chain.Source.ID())
	}

	it = source
	for _, stage := range chain.Stages {
		if stage.Map != nil {
			if it, err = e.Map(ctx, it, stage.Map); err != nil {
				return source, nil, err
			}
		}
		if stage.Transformer == nil {
			continue
		}
		if it, err = e.transform(ctx, it, stage); err != nil {
			return source, nil, err
		}
	}
	return source, it, nil
}

func (e *Engine) transform(ctx context.Context, upstream *node.Iteration, stage Stage) (*node.Iteration, error) {
	schema := stage.Transformer.Schema()
	inputs := make(node.Values, len(schema.Inputs))
	copy(inputs, stage.Inputs)
	for slot := range inputs {
		if schema.IsIteratedInput(slot) {
			inputs[slot] = upstream
		}
	}

	out, err := invokeNode(ctx, stage.Transformer, inputs)
	if err != nil {
		return nil, err
	}
	it, err := node.IterationOf(out)
	if err != nil {
		return nil, derrors.Configuration(err, "transformer %s", stage.Transformer.ID())
	}
	if it.Workers == 0 {
		it.Workers = upstream.Workers
	}
	return it, nil
}

// Map runs the subgraph over every item of it and returns the outputs as a
// new iteration, which is how transformer endpoints are fed. Outputs are
// produced lazily as the result is pulled and keep the order of it, also when
// the subgraph runs on the pool.
func (e *Engine) Map(ctx context.Context, it *node.Iteration, sg *graph.Subgraph) (*node.Iteration, error) {
	driver := iteration.NewDriver[node.Values, node.Values](e.driverConfig(it),
		iteration.WithLogger(e.logger),
		iteration.WithMetrics(e.metrics),
		iteration.WithLimiter(e.limiter))

	stream, err := driver.StreamOrdered(ctx, it.Stream, e.handler(sg, it.Extra))
	if err != nil {
		return nil, err
	}
	return &node.Iteration{Stream: stream, Extra: it.Extra, Workers: it.Workers}, nil
}

func (e *Engine) driverConfig(it *node.Iteration) iteration.Config {
	config := e.config
	if it.Workers > 0 {
		config = config.WithStrategy(iteration.StrategyParallel).WithMaxConcurrent(it.Workers)
	}
	return config
}

func (e *Engine) handler(sg *graph.Subgraph, extra node.Values) iteration.Handler[node.Values, node.Values] {
	return func(ctx context.Context, task iteration.Task[node.Values]) (node.Values, error) {
		if sg == nil {
			return task.Item, nil
		}
		out, err := sg.Execute(ctx, graph.Injection{Index: task.Index, Item: task.Item, Extra: extra})
		var nodeErr *graph.NodeError
		if errors.As(err, &nodeErr) && nodeErr.Phase == graph.PhaseInject {
			return nil, iteration.InjectFailure(err)
		}
		return out, err
	}
}

func (e *Engine) observer(runID string, stats *tally) iteration.Observer {
	observers := make(iteration.Observers, 0, len(e.observers)+1)
	observers = append(observers, stats)
	for _, factory := range e.observers {
		observers = append(observers, factory(runID))
	}
	return observers
}

// tally counts the items of one run for its report.
type tally struct {
	highest atomic.Int64
	failed  atomic.Int64
}

func (t *tally) OnTransition(tr iteration.Transition) {
	if tr.Index < 0 {
		return
	}
	for {
		seen := t.highest.Load()
		if int64(tr.Index)+1 <= seen || t.highest.CompareAndSwap(seen, int64(tr.Index)+1) {
			break
		}
	}
	if tr.To == iteration.StateDispatching && tr.Err != nil {
		t.failed.Add(1)
	}
}

// report writes the run report. Writing uses a context that outlives
// cancellation so cancelled runs are reported too.
func (e *Engine) report(ctx context.Context, chain Chain, runID string, start time.Time, stats *tally, err error, logger *zap.Logger) {
	if e.reports == nil {
		return
	}
	report := &storage.RunReport{
		RunID:      runID,
		Source:     chain.Source.ID(),
		Collector:  chain.Collector.ID(),
		Status:     storage.StatusSucceeded,
		Dispatched: int(stats.highest.Load()),
		Failed:     int(stats.failed.Load()),
		StartedAt:  start.UTC(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		report.Status = storage.StatusFailed
		report.Code = iteration.Categorize(err)
		report.Error = err.Error()

		var agg *iteration.AggregateError
		var ie *iteration.ItemError
		switch {
		case errors.As(err, &agg):
			for _, failure := range agg.Errors {
				report.Failures = append(report.Failures, itemFailure(failure))
			}
		case errors.As(err, &ie):
			report.Failures = []storage.ItemFailure{itemFailure(ie)}
		}
	}
	if _, werr := e.reports.Write(context.WithoutCancel(ctx), report); werr != nil {
		logger.Warn("failed to write run report", zap.Error(werr))
	}
}

func itemFailure(ie *iteration.ItemError) storage.ItemFailure {
	return storage.ItemFailure{
		Index:   ie.Index,
		Phase:   ie.Phase.String(),
		Code:    iteration.Categorize(ie.Cause),
		Message: ie.Cause.Error(),
	}
}

// invokeNode runs a node ahead of iteration. Failures there are always
// configuration errors.
func invokeNode(ctx context.Context, n node.Node, inputs node.Values) (node.Values, error) {
	if inputs == nil {
		inputs = make(node.Values, len(n.Schema().Inputs))
	}
	out, err := n.Invoke(ctx, inputs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", derrors.ErrCancelled, ctxErr)
		}
		if derrors.IsConfiguration(err) {
			return nil, fmt.Errorf("node %s: %w", n.ID(), err)
		}
		return nil, derrors.Configuration(err, "node %s", n.ID())
	}
	return out, nil
}
