package iteration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// ItemError wraps a per-item failure with the task index and the phase that failed.
type ItemError struct {
	// Index is the task index of the failed item
	Index int
	// Phase is the state the item was in when it failed
	Phase State
	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d failed during %s: %v", e.Index, e.Phase, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ItemError) Unwrap() error {
	return e.Cause
}

// injectError marks a handler failure that happened while injecting the item
// into the per-item work rather than while executing it.
type injectError struct {
	cause error
}

func (e *injectError) Error() string { return e.cause.Error() }
func (e *injectError) Unwrap() error { return e.cause }

// InjectFailure marks err as raised during injection. The driver reports it
// with the inject phase.
func InjectFailure(err error) error {
	if err == nil {
		return nil
	}
	return &injectError{cause: err}
}

// AggregateError summarizes the per-item errors deferred until the sequence
// was drained. The first failure by index is the representative error.
type AggregateError struct {
	Errors []*ItemError
	// Total is the number of tasks dispatched
	Total int
}

func newAggregateError(errs []*ItemError, total int) *AggregateError {
	sorted := make([]*ItemError, len(errs))
	copy(sorted, errs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	return &AggregateError{Errors: sorted, Total: total}
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("1 of %d items failed: %v", e.Total, e.Errors[0])
	}
	indices := make([]string, 0, len(e.Errors))
	for _, ie := range e.Errors {
		indices = append(indices, fmt.Sprint(ie.Index))
	}
	return fmt.Sprintf("%d of %d items failed (items %s); first: %v",
		len(e.Errors), e.Total, strings.Join(indices, ", "), e.Errors[0])
}

// Unwrap exposes every deferred error to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	return multierr.Errors(e.Combined())
}

// Combined returns the deferred errors as a single multierr value.
func (e *AggregateError) Combined() error {
	errs := make([]error, len(e.Errors))
	for i, ie := range e.Errors {
		errs[i] = ie
	}
	return multierr.Combine(errs...)
}

// Categorize maps an error raised by an iteration to an error code.
func Categorize(err error) string {
	if err == nil {
		return ""
	}

	var structured *derrors.Error
	if errors.As(err, &structured) && structured.Code != "" {
		return structured.Code
	}

	if errors.Is(err, derrors.ErrCancelled) || errors.Is(err, context.Canceled) {
		return derrors.CodeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return derrors.CodeTimeout
	}
	if errors.Is(err, derrors.ErrEmptySequence) {
		return derrors.CodeEmpty
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "out of memory") || strings.Contains(msg, "resource exhausted") {
		return derrors.CodeResource
	}

	var itemErr *ItemError
	var aggErr *AggregateError
	if errors.As(err, &itemErr) || errors.As(err, &aggErr) {
		return derrors.CodeItem
	}

	return derrors.CodeUnknown
}
