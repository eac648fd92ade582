package graph

import "fmt"

// Phase names the step of per-item execution a node failed in.
type Phase string

const (
	PhaseInject  Phase = "inject"
	PhaseExecute Phase = "execute"
)

// NodeError wraps a failure with the node that raised it.
type NodeError struct {
	NodeID string
	Phase  Phase
	Cause  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s failed during %s: %v", e.NodeID, e.Phase, e.Cause)
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}
