// Package events turns driver transitions into progress events and error
// reports for systems outside the process.
package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/iteration"
)

// Event types.
const (
	TypeRunStarted    = "run.started"
	TypeRunDrained    = "run.drained"
	TypeRunAborted    = "run.aborted"
	TypeItemStarted   = "item.started"
	TypeItemCompleted = "item.completed"
	TypeItemFailed    = "item.failed"
)

// Event is the wire form of one progress event.
type Event struct {
	ID     string    `json:"id"`
	RunID  string    `json:"run_id"`
	Type   string    `json:"type"`
	Index  int       `json:"index"`
	Phase  string    `json:"phase,omitempty"`
	Code   string    `json:"code,omitempty"`
	Error  string    `json:"error,omitempty"`
	Failed int       `json:"failed,omitempty"` // deferred item errors of a drained run
	Time   time.Time `json:"time"`
}

// FromTransition maps a transition to an event. Transitions that carry no
// progress information map to ok=false.
func FromTransition(runID string, t iteration.Transition) (Event, bool) {
	e := Event{
		ID:    uuid.NewString(),
		RunID: runID,
		Index: t.Index,
		Time:  time.Now().UTC(),
	}

	switch {
	case t.Index < 0 && t.To == iteration.StateDispatching:
		e.Type = TypeRunStarted
	case t.Index < 0 && t.To == iteration.StateDrained:
		e.Type = TypeRunDrained
		var agg *iteration.AggregateError
		if errors.As(t.Err, &agg) {
			e.Failed = len(agg.Errors)
		}
	case t.Index < 0 && t.To == iteration.StateAborted:
		e.Type = TypeRunAborted
	case t.Index >= 0 && t.Err != nil:
		e.Type = TypeItemFailed
		e.Phase = t.From.String()
	case t.To == iteration.StateInject:
		e.Type = TypeItemStarted
	case t.To == iteration.StateCollect:
		e.Type = TypeItemCompleted
	default:
		return Event{}, false
	}

	if t.Err != nil {
		e.Code = iteration.Categorize(t.Err)
		e.Error = t.Err.Error()
	}
	return e, true
}

// Marshal encodes the event as JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher sends raw messages to a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ProgressObserver publishes the progress of one run.
type ProgressObserver struct {
	publisher Publisher
	subject   string
	runID     string
	logger    *zap.Logger
}

// NewProgressObserver creates an observer that publishes to
// <subjectPrefix>.<runID>.
func NewProgressObserver(publisher Publisher, subjectPrefix, runID string, logger *zap.Logger) *ProgressObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressObserver{
		publisher: publisher,
		subject:   subjectPrefix + "." + runID,
		runID:     runID,
		logger:    logger,
	}
}

// Progress returns an observer factory for the engine.
func Progress(publisher Publisher, subjectPrefix string, logger *zap.Logger) func(runID string) iteration.Observer {
	return func(runID string) iteration.Observer {
		return NewProgressObserver(publisher, subjectPrefix, runID, logger)
	}
}

// OnTransition publishes the event for t. Publish failures are logged and
// never affect the run.
func (o *ProgressObserver) OnTransition(t iteration.Transition) {
	event, ok := FromTransition(o.runID, t)
	if !ok {
		return
	}
	data, err := event.Marshal()
	if err != nil {
		o.logger.Warn("failed to encode progress event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	if err := o.publisher.Publish(o.subject, data); err != nil {
		o.logger.Warn("failed to publish progress event",
			zap.String("subject", o.subject),
			zap.String("type", event.Type),
			zap.Error(err))
	}
}

var _ iteration.Observer = (*ProgressObserver)(nil)
