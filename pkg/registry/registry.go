// Package registry maps graph ids to compiled graphs and supports replacing a
// graph while runs are looking it up.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/avi3tal/graphengine/pkg/graph"
)

var (
	ErrEmptyID         = errors.New("graph id is required")
	ErrNilGraph        = errors.New("graph is nil")
	ErrDuplicateID     = errors.New("graph id already registered")
	ErrNotFound        = errors.New("graph not registered")
	ErrStaleGeneration = errors.New("graph generation is stale")
	ErrIDMismatch      = errors.New("graph id does not match registry id")
)

type entry struct {
	graph      *graph.CompiledGraph
	generation uint64
}

// Registry is a concurrency-safe directory of compiled graphs. Readers always
// observe either the old or the new graph for an id, never a partial update.
type Registry struct {
	mu     sync.RWMutex
	graphs map[string]entry
	gen    atomic.Uint64
}

func New() *Registry {
	return &Registry{graphs: make(map[string]entry)}
}

// RegisterGraph compiles g and stores it under id.
func (r *Registry) RegisterGraph(id string, g *graph.Graph) error {
	cg, err := r.prepare(id, g)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.graphs[id]; exists {
		return errors.Wrapf(ErrDuplicateID, "register %q", id)
	}
	r.graphs[id] = entry{graph: cg, generation: r.gen.Add(1)}
	return nil
}

// ReplaceGraph atomically installs g under id, registering it if absent.
func (r *Registry) ReplaceGraph(id string, g *graph.Graph) error {
	cg, err := r.prepare(id, g)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[id] = entry{graph: cg, generation: r.gen.Add(1)}
	return nil
}

// CompareAndReplace installs g under id only if the stored generation is still
// gen. A generation of zero means the id must not be registered yet.
func (r *Registry) CompareAndReplace(id string, gen uint64, g *graph.Graph) (uint64, error) {
	cg, err := r.prepare(id, g)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if current := r.graphs[id].generation; current != gen {
		return current, errors.Wrapf(ErrStaleGeneration, "replace %q: have %d, want %d", id, current, gen)
	}
	next := r.gen.Add(1)
	r.graphs[id] = entry{graph: cg, generation: next}
	return next, nil
}

// prepare compiles g for id. A graph without an id takes id, leaving the
// caller's graph untouched. Runs and checkpoints carry the compiled id, so any
// other id is rejected.
func (r *Registry) prepare(id string, g *graph.Graph) (*graph.CompiledGraph, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if g == nil {
		return nil, errors.Wrapf(ErrNilGraph, "register %q", id)
	}
	switch g.ID {
	case "":
		named := *g
		named.ID = id
		g = &named
	case id:
	default:
		return nil, errors.Wrapf(ErrIDMismatch, "register %q: graph id %q", id, g.ID)
	}
	cg, err := g.Compile()
	if err != nil {
		return nil, errors.Wrapf(err, "register %q", id)
	}
	return cg, nil
}

// GetGraph returns the graph registered under id.
func (r *Registry) GetGraph(id string) (*graph.CompiledGraph, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.graphs[id]
	return e.graph, ok
}

// Generation returns the mutation stamp of id, or zero when it is not registered.
func (r *Registry) Generation(id string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graphs[id].generation
}

func (r *Registry) ContainsGraph(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.graphs[id]
	return ok
}

// UnregisterGraph removes id and reports whether it was registered.
func (r *Registry) UnregisterGraph(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.graphs[id]; !ok {
		return false
	}
	delete(r.graphs, id)
	r.gen.Add(1)
	return true
}

// GetGraphIDs returns the registered ids in sorted order.
func (r *Registry) GetGraphIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.graphs))
	for id := range r.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs = make(map[string]entry)
	r.gen.Add(1)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.graphs)
}
