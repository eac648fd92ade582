// Package graph executes the nodes that sit between an iteration's producer
// and its consumer once per item.
package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/node"
)

// Edge connects an output slot of one node to an input slot of another.
type Edge struct {
	From   string
	Output int
	To     string
	Input  int
}

// Const binds a fixed value to an input slot.
type Const struct {
	Node  string
	Input int
	Value any
}

// Ref names one output slot.
type Ref struct {
	Node   string
	Output int
}

// Definition describes a per-item subgraph.
type Definition struct {
	// Entry is the id of the producer whose iterated outputs are injected for
	// every item. It is not part of Nodes.
	Entry       string
	EntrySchema node.Schema

	Nodes     []node.Node
	Edges     []Edge
	Constants []Const

	// Outputs are the values returned for every item, usually the slots
	// wired into a collector's iterated inputs.
	Outputs []Ref
}

// Injector is implemented by iterator helper nodes. They receive the
// injected item directly instead of reading it through edges.
type Injector interface {
	node.Node
	Inject(ctx context.Context, inj Injection) (node.Values, error)
}

// Injection is the immutable per-call input of a subgraph.
type Injection struct {
	Index int
	// Item holds the producer's iterated output values for this item.
	Item node.Values
	// Extra holds the producer's non-iterated outputs.
	Extra node.Values
}

// Subgraph is a validated, depth-sorted per-item graph. It holds no per-call
// state and is safe for concurrent use.
type Subgraph struct {
	entry       string
	entrySchema node.Schema
	nodes       []node.Node
	depth       map[string]int
	inputs      map[string][]source
	outputs     []Ref
	logger      *zap.Logger
}

// source is where one input slot gets its value: an upstream output or a constant.
type source struct {
	from   string
	output int
	value  any
	bound  bool
	wired  bool
}

// Option configures a subgraph.
type Option func(*Subgraph)

// WithLogger sets the logger used for node-level debug output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Subgraph) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New validates a definition and sorts its nodes by depth, then by the
// order they were given in. Cycles, dangling edges and unbound required
// inputs are configuration errors.
func New(def Definition, opts ...Option) (*Subgraph, error) {
	s := &Subgraph{
		entry:       def.Entry,
		entrySchema: def.EntrySchema,
		depth:       make(map[string]int, len(def.Nodes)),
		inputs:      make(map[string][]source, len(def.Nodes)),
		outputs:     def.Outputs,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	byID := make(map[string]node.Node, len(def.Nodes))
	for _, n := range def.Nodes {
		if n.ID() == def.Entry {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument, "node %s shadows the entry", n.ID())
		}
		if _, dup := byID[n.ID()]; dup {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument, "duplicate node id %s", n.ID())
		}
		byID[n.ID()] = n
		s.inputs[n.ID()] = make([]source, len(n.Schema().Inputs))
	}

	outputCount := func(id string) (int, bool) {
		if id == def.Entry && def.Entry != "" {
			return len(def.EntrySchema.Outputs), true
		}
		n, ok := byID[id]
		if !ok {
			return 0, false
		}
		return len(n.Schema().Outputs), true
	}

	for _, e := range def.Edges {
		count, ok := outputCount(e.From)
		if !ok {
			return nil, derrors.Configuration(derrors.ErrNodeNotFound, "edge from unknown node %s", e.From)
		}
		if e.Output < 0 || e.Output >= count {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument, "edge from %s uses output %d of %d", e.From, e.Output, count)
		}
		slots, ok := s.inputs[e.To]
		if !ok {
			return nil, derrors.Configuration(derrors.ErrNodeNotFound, "edge to unknown node %s", e.To)
		}
		if e.Input < 0 || e.Input >= len(slots) {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument, "edge to %s uses input %d of %d", e.To, e.Input, len(slots))
		}
		if slots[e.Input].bound {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument, "input %d of %s is bound twice", e.Input, e.To)
		}
		slots[e.Input] = source{from: e.From, output: e.Output, bound: true, wired: true}
	}

	for _, c := range def.Constants {
		slots, ok := s.inputs[c.Node]
		if !ok {
			return nil, derrors.Configuration(derrors.ErrNodeNotFound, "constant for unknown node %s", c.Node)
		}
		if c.Input < 0 || c.Input >= len(slots) {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument, "constant for %s uses input %d of %d", c.Node, c.Input, len(slots))
		}
		if slots[c.Input].bound {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument, "input %d of %s is bound twice", c.Input, c.Node)
		}
		slots[c.Input] = source{value: c.Value, bound: true}
	}

	for _, n := range def.Nodes {
		if _, ok := n.(Injector); ok {
			continue
		}
		for i, port := range n.Schema().Inputs {
			if !s.inputs[n.ID()][i].bound && !port.Optional {
				return nil, derrors.Configuration(derrors.ErrInvalidArgument, "input %q of %s is not connected", port.Name, n.ID())
			}
		}
	}

	for _, ref := range def.Outputs {
		count, ok := outputCount(ref.Node)
		if !ok {
			return nil, derrors.Configuration(derrors.ErrNodeNotFound, "output from unknown node %s", ref.Node)
		}
		if ref.Output < 0 || ref.Output >= count {
			return nil, derrors.Configuration(derrors.ErrInvalidArgument, "output %d of %s does not exist", ref.Output, ref.Node)
		}
	}

	sorted, err := s.sortByDepth(def.Nodes)
	if err != nil {
		return nil, err
	}
	s.nodes = sorted
	return s, nil
}

// sortByDepth orders nodes so every node runs after the nodes it reads from.
// Depth is the longest path from the entry or a node without wired inputs.
func (s *Subgraph) sortByDepth(nodes []node.Node) ([]node.Node, error) {
	position := make(map[string]int, len(nodes))
	for i, n := range nodes {
		position[n.ID()] = i
	}

	indegree := make(map[string]int, len(nodes))
	children := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		seen := make(map[string]bool)
		for _, src := range s.inputs[n.ID()] {
			if !src.wired || src.from == s.entry || seen[src.from] {
				continue
			}
			seen[src.from] = true
			indegree[n.ID()]++
			children[src.from] = append(children[src.from], n.ID())
		}
	}

	var ready []string
	for _, n := range nodes {
		if indegree[n.ID()] == 0 {
			ready = append(ready, n.ID())
			s.depth[n.ID()] = 0
		}
	}
	for i := 0; i < len(ready); i++ {
		id := ready[i]
		for _, child := range children[id] {
			s.depth[child] = max(s.depth[child], s.depth[id]+1)
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	if len(ready) != len(nodes) {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "subgraph contains a cycle")
	}

	byID := make(map[string]node.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID()] = n
	}
	sorted := make([]node.Node, 0, len(nodes))
	for _, group := range groupByDepth(ready, s.depth, position) {
		for _, id := range group {
			sorted = append(sorted, byID[id])
		}
	}
	return sorted, nil
}

// groupByDepth groups node ids by depth level, keeping definition order within a level.
func groupByDepth(ids []string, depth map[string]int, position map[string]int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	maxDepth := 0
	for _, id := range ids {
		maxDepth = max(maxDepth, depth[id])
	}
	groups := make([][]string, maxDepth+1)
	for _, id := range ids {
		groups[depth[id]] = append(groups[depth[id]], id)
	}
	for _, g := range groups {
		sortByPosition(g, position)
	}
	return groups
}

func sortByPosition(ids []string, position map[string]int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && position[ids[j]] < position[ids[j-1]]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// Depth returns the depth of a node, or -1 when it is not part of the subgraph.
func (s *Subgraph) Depth(id string) int {
	if d, ok := s.depth[id]; ok {
		return d
	}
	return -1
}

// Order returns the node ids in execution order.
func (s *Subgraph) Order() []string {
	ids := make([]string, len(s.nodes))
	for i, n := range s.nodes {
		ids[i] = n.ID()
	}
	return ids
}

// Execute runs every node once for the injected item and returns the values
// named by the definition's outputs. Each call has its own output store, so
// concurrent calls share nothing but the immutable graph.
func (s *Subgraph) Execute(ctx context.Context, inj Injection) (node.Values, error) {
	store := newOutputStore()
	if s.entry != "" {
		entryOut, err := (&node.Iteration{Extra: inj.Extra}).Outputs(s.entrySchema, inj.Item)
		if err != nil {
			return nil, &NodeError{NodeID: s.entry, Phase: PhaseInject, Cause: err}
		}
		store.set(s.entry, entryOut)
	}

	for _, n := range s.nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			out node.Values
			err error
		)
		if injector, ok := n.(Injector); ok {
			out, err = injector.Inject(ctx, inj)
			if err != nil {
				return nil, &NodeError{NodeID: n.ID(), Phase: PhaseInject, Cause: err}
			}
		} else {
			out, err = n.Invoke(ctx, s.gather(n, store))
			if err != nil {
				return nil, &NodeError{NodeID: n.ID(), Phase: PhaseExecute, Cause: err}
			}
		}
		store.set(n.ID(), out)

		s.logger.Debug("node executed",
			zap.String("node_id", n.ID()),
			zap.Int("depth", s.depth[n.ID()]),
			zap.Int("item_index", inj.Index))
	}

	result := make(node.Values, len(s.outputs))
	for i, ref := range s.outputs {
		v, ok := store.get(ref.Node, ref.Output)
		if !ok {
			return nil, fmt.Errorf("output %d of %s was not produced", ref.Output, ref.Node)
		}
		result[i] = v
	}
	return result, nil
}

// gather assembles the positional inputs of n from the store and constants.
func (s *Subgraph) gather(n node.Node, store *outputStore) node.Values {
	slots := s.inputs[n.ID()]
	in := make(node.Values, len(slots))
	for i, src := range slots {
		switch {
		case src.wired:
			in[i], _ = store.get(src.from, src.output)
		case src.bound:
			in[i] = src.value
		}
	}
	return in
}
