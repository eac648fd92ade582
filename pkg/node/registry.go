package node

import (
	"fmt"
	"slices"
	"sync"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Config is the per-instance description a graph uses to create a node.
type Config struct {
	ID       string
	Type     string
	Label    string
	Settings Settings
}

// Creator builds a node instance from its configuration.
type Creator func(config Config) (Node, error)

// Registry maps node type ids to creators. It is safe for concurrent use.
type Registry struct {
	creators map[string]Creator
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		creators: make(map[string]Creator),
	}
}

// Register registers a creator for a node type, replacing any previous one.
func (r *Registry) Register(nodeType string, creator Creator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creators[nodeType] = creator
}

// Create builds a node from configuration. Unknown types yield ErrNodeNotFound.
// Creator failures are configuration errors since no item has run yet.
func (r *Registry) Create(config Config) (Node, error) {
	r.mu.RLock()
	creator, exists := r.creators[config.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, derrors.Configuration(derrors.ErrNodeNotFound, "%s", config.Type)
	}

	n, err := creator(config)
	if err != nil {
		if derrors.IsConfiguration(err) {
			return nil, err
		}
		return nil, derrors.Configuration(err, "failed to create node %s (%s)", config.ID, config.Type)
	}
	if err := n.Schema().Validate(); err != nil {
		return nil, fmt.Errorf("node %s: %w", config.ID, err)
	}
	return n, nil
}

// Has reports whether a creator exists for a node type.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.creators[nodeType]
	return exists
}

// Types returns all registered node types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.creators))
	for t := range r.creators {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Unregister removes the creator for a node type and reports whether one existed.
func (r *Registry) Unregister(nodeType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.creators[nodeType]; exists {
		delete(r.creators, nodeType)
		return true
	}
	return false
}
