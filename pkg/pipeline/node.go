package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/entity"
)

// Node is one processing step. A node receives the state left by the
// previous node and returns the state for the next one.
type Node interface {
	Execute(ctx context.Context, state *State) (*State, error)
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc func(ctx context.Context, state *State) (*State, error)

// Execute calls f.
func (f NodeFunc) Execute(ctx context.Context, state *State) (*State, error) {
	return f(ctx, state)
}

// Factory builds a node from its parameters.
type Factory func(params map[string]any) (Node, error)

// Artifact is a durable output of a run, stamped with its provenance.
type Artifact struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	Pipeline    string         `json:"pipeline"`
	ContentHash string         `json:"content_hash"`
	Target      entity.Key     `json:"target"`
	Kind        string         `json:"kind"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ArtifactSink receives the artifacts of successful targets.
type ArtifactSink interface {
	Accept(ctx context.Context, artifact *Artifact) error
}

// State flows through the nodes of one target.
type State struct {
	Target      budget.Target
	RunID       string
	Pipeline    string
	ContentHash string

	// Values is the scratch space nodes read and write.
	Values map[string]any

	// Tokens is the model usage charged against the target.
	Tokens int64

	Artifacts []*Artifact

	// References are entities mentioned by the target's outputs. They are
	// recorded as provisional entities when the target succeeds.
	References []entity.Key
}

// Emit appends an artifact to the state. Provenance is stamped by the
// executor.
func (s *State) Emit(kind string, data map[string]any) {
	s.Artifacts = append(s.Artifacts, &Artifact{Kind: kind, Data: data})
}

// Reference records an entity mentioned by an output.
func (s *State) Reference(key entity.Key) {
	if !slices.Contains(s.References, key) {
		s.References = append(s.References, key)
	}
}

// Registry maps node type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty node registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a node type, replacing any existing factory of that name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Has reports whether a node type is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered node types in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Build instantiates a node from its spec.
func (r *Registry) Build(spec NodeSpec) (Node, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown node type %q", spec.Type)
	}

	node, err := f(spec.Params)
	if err != nil {
		return nil, fmt.Errorf("building %s node: %w", spec.Type, err)
	}
	return node, nil
}
