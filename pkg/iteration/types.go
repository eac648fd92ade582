package iteration

import (
	"context"
	"runtime"
	"time"
)

// Strategy defines how sequence items are dispatched
type Strategy string

const (
	StrategySequential Strategy = "sequential" // One item completes before the next starts
	StrategyParallel   Strategy = "parallel"   // Items run on a bounded worker pool
)

// Config holds configuration for a driver
type Config struct {
	// Strategy is sequential or parallel
	Strategy Strategy

	// MaxConcurrent is the worker count for the parallel strategy.
	// 0 means runtime.NumCPU().
	MaxConcurrent int

	// FailFast overrides the error policy declared by the sequence.
	// nil keeps the sequence's own policy.
	FailFast *bool

	// ItemTimeout bounds the execution of a single item. 0 disables it.
	ItemTimeout time.Duration
}

// DefaultConfig returns a sequential configuration that follows the
// sequence's error policy.
func DefaultConfig() Config {
	return Config{
		Strategy:      StrategySequential,
		MaxConcurrent: 0,
	}
}

// Validate applies defaults to unset or unusable values.
func (c *Config) Validate() {
	if c.Strategy != StrategyParallel {
		c.Strategy = StrategySequential
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = runtime.NumCPU()
	}
	if c.ItemTimeout < 0 {
		c.ItemTimeout = 0
	}
}

// WithStrategy sets the dispatch strategy.
func (c Config) WithStrategy(s Strategy) Config {
	c.Strategy = s
	return c
}

// WithMaxConcurrent sets the worker count for the parallel strategy.
func (c Config) WithMaxConcurrent(n int) Config {
	c.MaxConcurrent = n
	return c
}

// WithFailFast overrides the sequence's error policy.
func (c Config) WithFailFast(failFast bool) Config {
	c.FailFast = &failFast
	return c
}

// WithItemTimeout sets the per-item timeout.
func (c Config) WithItemTimeout(d time.Duration) Config {
	c.ItemTimeout = d
	return c
}

// Task is one (index, item) pair dispatched into the per-item work.
// Index follows dispatch order and is never reused.
type Task[T any] struct {
	Index int
	Item  T
}

// Result is either a value or the error that replaced it.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Handler runs the per-item work for one task: it injects the item into the
// helper nodes and executes the subgraph that depends on them.
type Handler[T, R any] func(ctx context.Context, task Task[T]) (R, error)

// Sink receives the output of a successfully completed task. Calls to a sink
// are never concurrent.
type Sink[R any] func(index int, value R) error
