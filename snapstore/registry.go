package snapstore

import (
	"context"
	"fmt"
	"sync"
)

// -----------------------------------------------------------------------------
// Source registry
// -----------------------------------------------------------------------------

// Registry maps dataset keys to the Source that produces their payload.
//
// The registry is constructed explicitly at startup; each entry is a value
// implementing the single-method Source interface, so entries can be
// introspected and tested in isolation. The set of valid dataset keys is
// open-ended: whatever the orchestrator registers.
type Registry struct {
	names   []string
	sources map[string]Source
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a dataset source. Registering a duplicate key or a nil
// source is an error.
func (r *Registry) Register(name string, src Source) error {
	if name == "" {
		return fmt.Errorf("snapstore: dataset name is required")
	}
	if src == nil {
		return fmt.Errorf("snapstore: source for %q is nil", name)
	}
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("snapstore: dataset %q already registered", name)
	}
	r.sources[name] = src
	r.names = append(r.names, name)
	return nil
}

// Lookup returns the source for a dataset key.
func (r *Registry) Lookup(name string) (Source, bool) {
	src, ok := r.sources[name]
	return src, ok
}

// Names returns the registered dataset keys in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// -----------------------------------------------------------------------------
// Memoized sources
// -----------------------------------------------------------------------------

// cachedSource computes its underlying fetch once and replays the result.
type cachedSource struct {
	src  Source
	once sync.Once
	tbl  *Table
	sha  string
	err  error
}

// Cached wraps a Source so its Fetch runs at most once for the lifetime of
// the returned handle. Subsequent calls replay the first result, errors
// included.
//
// Use one handle per pipeline run: the cache's lifecycle is the handle's,
// not the process's. This replaces module-wide mutable result caches with
// a value the orchestrator owns and discards.
func Cached(src Source) Source {
	return &cachedSource{src: src}
}

func (c *cachedSource) Fetch(ctx context.Context) (*Table, string, error) {
	c.once.Do(func() {
		c.tbl, c.sha, c.err = c.src.Fetch(ctx)
	})
	return c.tbl, c.sha, c.err
}
