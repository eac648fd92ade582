package graph

import "github.com/wehubfusion/Daedalus/pkg/node"

// outputStore holds node outputs for one Execute call. It is created per call
// and never shared between goroutines.
type outputStore struct {
	outputs map[string]node.Values
}

func newOutputStore() *outputStore {
	return &outputStore{outputs: make(map[string]node.Values)}
}

func (s *outputStore) set(nodeID string, out node.Values) {
	s.outputs[nodeID] = out
}

// get returns one output slot of a node that already ran.
func (s *outputStore) get(nodeID string, output int) (any, bool) {
	out, ok := s.outputs[nodeID]
	if !ok || output < 0 || output >= len(out) {
		return nil, false
	}
	return out[output], true
}
