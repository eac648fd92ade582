package iteration

import "time"

// State is a step of the driver's state machine.
type State int

const (
	StateIdle State = iota
	StateDispatching
	StateInject
	StateExecute
	StateCollect
	StateDrained
	StateAborted
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateInject:
		return "inject"
	case StateExecute:
		return "execute"
	case StateCollect:
		return "collect"
	case StateDrained:
		return "drained"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Terminal reports whether no further transitions can follow.
func (s State) Terminal() bool {
	return s == StateDrained || s == StateAborted
}

// Transition describes one step of a run. Index is -1 for run-level
// transitions and the task index for per-item ones.
type Transition struct {
	Index   int
	From    State
	To      State
	Err     error
	Elapsed time.Duration
}

// Observer receives the transitions of a run. Under the parallel strategy
// OnTransition is called from worker goroutines and must be safe for
// concurrent use.
type Observer interface {
	OnTransition(t Transition)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(t Transition)

// OnTransition calls f(t).
func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// NoOpObserver is an observer that does nothing.
type NoOpObserver struct{}

func (NoOpObserver) OnTransition(Transition) {}

// Observers fans a transition out to several observers.
type Observers []Observer

// OnTransition forwards t to every observer in order.
func (o Observers) OnTransition(t Transition) {
	for _, obs := range o {
		obs.OnTransition(t)
	}
}

var (
	_ Observer = NoOpObserver{}
	_ Observer = Observers(nil)
)
