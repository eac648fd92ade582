package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/iteration"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message{subject: subject, data: data})
	return nil
}

func (p *fakePublisher) events(t *testing.T) []Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, 0, len(p.messages))
	for _, m := range p.messages {
		var e Event
		require.NoError(t, json.Unmarshal(m.data, &e))
		out = append(out, e)
	}
	return out
}

func TestFromTransition(t *testing.T) {
	boom := errors.New("boom")
	agg := &iteration.AggregateError{Errors: []*iteration.ItemError{{Index: 1, Phase: iteration.StateExecute, Cause: boom}}, Total: 3}

	tests := []struct {
		name   string
		t      iteration.Transition
		want   string
		ok     bool
		failed int
	}{
		{name: "run started", t: iteration.Transition{Index: -1, From: iteration.StateIdle, To: iteration.StateDispatching}, want: TypeRunStarted, ok: true},
		{name: "item started", t: iteration.Transition{Index: 0, From: iteration.StateDispatching, To: iteration.StateInject}, want: TypeItemStarted, ok: true},
		{name: "item executing", t: iteration.Transition{Index: 0, From: iteration.StateInject, To: iteration.StateExecute}},
		{name: "item completed", t: iteration.Transition{Index: 0, From: iteration.StateExecute, To: iteration.StateCollect}, want: TypeItemCompleted, ok: true},
		{name: "item failed", t: iteration.Transition{Index: 1, From: iteration.StateExecute, To: iteration.StateDispatching, Err: boom}, want: TypeItemFailed, ok: true},
		{name: "run drained", t: iteration.Transition{Index: -1, From: iteration.StateDispatching, To: iteration.StateDrained, Err: agg}, want: TypeRunDrained, ok: true, failed: 1},
		{name: "run aborted", t: iteration.Transition{Index: -1, From: iteration.StateDispatching, To: iteration.StateAborted, Err: boom}, want: TypeRunAborted, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := FromTransition("run-1", tt.t)
			assert.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, e.Type)
			assert.Equal(t, "run-1", e.RunID)
			assert.NotEmpty(t, e.ID)
			assert.Equal(t, tt.failed, e.Failed)
			if tt.t.Err != nil {
				assert.NotEmpty(t, e.Code)
				assert.NotEmpty(t, e.Error)
			}
		})
	}
}

func TestProgressObserverPublishesToRunSubject(t *testing.T) {
	pub := &fakePublisher{}
	factory := Progress(pub, "daedalus.progress", zap.NewNop())
	obs := factory("run-42")

	obs.OnTransition(iteration.Transition{Index: -1, From: iteration.StateIdle, To: iteration.StateDispatching})
	obs.OnTransition(iteration.Transition{Index: 0, From: iteration.StateInject, To: iteration.StateExecute})
	obs.OnTransition(iteration.Transition{Index: 0, From: iteration.StateExecute, To: iteration.StateCollect})

	events := pub.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, TypeRunStarted, events[0].Type)
	assert.Equal(t, TypeItemCompleted, events[1].Type)
	for _, m := range pub.messages {
		assert.Equal(t, "daedalus.progress.run-42", m.subject)
	}
}

func TestProgressObserverIgnoresPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	obs := NewProgressObserver(pub, "daedalus.progress", "run-1", nil)

	assert.NotPanics(t, func() {
		obs.OnTransition(iteration.Transition{Index: -1, From: iteration.StateIdle, To: iteration.StateDispatching})
	})
}

func newCapturingHub(t *testing.T) (*sentry.Hub, func() []*sentry.Event) {
	t.Helper()
	var (
		mu       sync.Mutex
		captured []*sentry.Event
	)
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://public@sentry.example.com/1",
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			mu.Lock()
			defer mu.Unlock()
			captured = append(captured, event)
			return nil
		},
	})
	require.NoError(t, err)
	return sentry.NewHub(client, sentry.NewScope()), func() []*sentry.Event {
		mu.Lock()
		defer mu.Unlock()
		return captured
	}
}

func TestSentryObserverCapturesRunFailures(t *testing.T) {
	hub, captured := newCapturingHub(t)
	obs := Sentry(hub)("run-7")

	itemErr := &iteration.ItemError{Index: 2, Phase: iteration.StateExecute, Cause: errors.New("decode failed")}

	obs.OnTransition(iteration.Transition{Index: 2, From: iteration.StateExecute, To: iteration.StateDispatching, Err: itemErr})
	obs.OnTransition(iteration.Transition{Index: -1, From: iteration.StateDispatching, To: iteration.StateDrained})
	assert.Empty(t, captured())

	obs.OnTransition(iteration.Transition{Index: -1, From: iteration.StateDispatching, To: iteration.StateAborted, Err: itemErr})

	events := captured()
	require.Len(t, events, 1)
	assert.Equal(t, sentry.LevelError, events[0].Level)
	assert.Equal(t, "run-7", events[0].Tags["run_id"])
	assert.Equal(t, "2", events[0].Tags["item_index"])
	assert.Equal(t, "execute", events[0].Tags["phase"])
}
