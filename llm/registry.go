package llm

import (
	"fmt"
	"sort"
	"sync"
)

// ModelRegistry is a thread-safe table of the models inference nodes may
// address by id, with an optional default used when a node names none.
type ModelRegistry struct {
	models       map[string]ModelSpec
	defaultModel string
	mu           sync.RWMutex
}

// NewModelRegistry creates a registry holding specs. The first spec
// becomes the default.
func NewModelRegistry(specs ...ModelSpec) *ModelRegistry {
	r := &ModelRegistry{models: make(map[string]ModelSpec)}
	for _, s := range specs {
		r.Register(s)
	}
	return r
}

// Register adds spec, replacing any model with the same id.
func (r *ModelRegistry) Register(spec ModelSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[spec.ID] = spec
	if r.defaultModel == "" {
		r.defaultModel = spec.ID
	}
}

// Get retrieves a model by id.
func (r *ModelRegistry) Get(id string) (ModelSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// Resolve returns the model named id, or the default when id is empty.
func (r *ModelRegistry) Resolve(id string) (ModelSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		if r.defaultModel == "" {
			return ModelSpec{}, fmt.Errorf("no default model set")
		}
		id = r.defaultModel
	}
	m, ok := r.models[id]
	if !ok {
		return ModelSpec{}, fmt.Errorf("model %q not registered", id)
	}
	return m, nil
}

// SetDefault designates an existing registered model as the default.
func (r *ModelRegistry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[id]; !ok {
		return fmt.Errorf("model %q not registered", id)
	}
	r.defaultModel = id
	return nil
}

// List returns every registered model sorted by id.
func (r *ModelRegistry) List() []ModelSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelSpec, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Unregister removes a model. Removing the default clears it.
func (r *ModelRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.models, id)
	if r.defaultModel == id {
		r.defaultModel = ""
	}
}

// Len returns the number of registered models.
func (r *ModelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
