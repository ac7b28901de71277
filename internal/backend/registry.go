// ABOUTME: Registry of completion backends keyed by name.
// ABOUTME: Pairs each backend with its shared descriptor for selection and health.

package backend

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrAlreadyRegistered indicates a backend with the same name exists.
var ErrAlreadyRegistered = errors.New("backend already registered")

// ErrNotFound indicates the named backend is not registered.
var ErrNotFound = errors.New("backend not found")

// registration pairs a backend with its descriptor.
type registration struct {
	backend    Backend
	descriptor *Descriptor
}

// Registry tracks the available completion backends. It is safe for
// concurrent use; descriptors returned from it are shared, with their own
// atomic health discipline.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*registration
	logger   *slog.Logger
}

// NewRegistry creates an empty backend registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backends: make(map[string]*registration),
		logger:   logger.With("component", "backend-registry"),
	}
}

// Register adds a backend under its descriptor's name.
func (r *Registry) Register(desc *Descriptor, b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[desc.Name]; exists {
		return ErrAlreadyRegistered
	}
	r.backends[desc.Name] = &registration{backend: b, descriptor: desc}
	r.logger.Info("backend registered",
		"name", desc.Name,
		"privacy_tier", desc.PrivacyTier,
		"capabilities", desc.Capabilities,
	)
	return nil
}

// Get returns the descriptor and backend registered under name.
func (r *Registry) Get(name string) (*Descriptor, Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.backends[name]
	if !ok {
		return nil, nil, false
	}
	return reg.descriptor, reg.backend, true
}

// List returns all registered descriptors, sorted by name for stable output.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]*Descriptor, 0, len(r.backends))
	for _, reg := range r.backends {
		descs = append(descs, reg.descriptor)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Available reports whether at least one backend is not unavailable.
func (r *Registry) Available() bool {
	for _, d := range r.List() {
		if d.Health() != HealthUnavailable {
			return true
		}
	}
	return false
}
