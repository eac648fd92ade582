package events

import (
	"errors"
	"strconv"

	"github.com/getsentry/sentry-go"

	"github.com/wehubfusion/Daedalus/pkg/iteration"
)

// SentryObserver reports failed runs to Sentry.
type SentryObserver struct {
	hub   *sentry.Hub
	runID string
}

// NewSentryObserver creates an observer for one run. A nil hub uses a clone
// of the current hub.
func NewSentryObserver(hub *sentry.Hub, runID string) *SentryObserver {
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	return &SentryObserver{hub: hub, runID: runID}
}

// Sentry returns an observer factory for the engine.
func Sentry(hub *sentry.Hub) func(runID string) iteration.Observer {
	return func(runID string) iteration.Observer {
		return NewSentryObserver(hub, runID)
	}
}

// OnTransition captures aborted runs and runs drained with deferred errors.
// Item failures are not captured on their own since the run-level error
// already carries them.
func (o *SentryObserver) OnTransition(t iteration.Transition) {
	if t.Err == nil || t.Index >= 0 || !t.To.Terminal() {
		return
	}

	level := sentry.LevelError
	if t.To == iteration.StateDrained {
		level = sentry.LevelWarning
	}

	o.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetTag("run_id", o.runID)
		scope.SetTag("code", iteration.Categorize(t.Err))
		scope.SetTag("state", t.To.String())
		var itemErr *iteration.ItemError
		if errors.As(t.Err, &itemErr) {
			scope.SetTag("item_index", strconv.Itoa(itemErr.Index))
			scope.SetTag("phase", itemErr.Phase.String())
		}
		o.hub.CaptureException(t.Err)
	})
}

var _ iteration.Observer = (*SentryObserver)(nil)
