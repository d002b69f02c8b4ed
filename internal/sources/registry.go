package sources

import (
	"fmt"
)

// Registry holds all configured sources in registration order.
type Registry struct {
	sources []Source
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a source to the registry. A source with the same name
// replaces the earlier registration.
func (r *Registry) Register(s Source) {
	for i, existing := range r.sources {
		if existing.Name() == s.Name() {
			r.sources[i] = s
			return
		}
	}
	r.sources = append(r.sources, s)
}

// SourceNames returns the names of all registered sources.
func (r *Registry) SourceNames() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// Get returns the source registered under name.
func (r *Registry) Get(name string) (Source, error) {
	for _, s := range r.sources {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
}

// ByKind returns the registered sources of the given kind.
func (r *Registry) ByKind(k Kind) []Source {
	var out []Source
	for _, s := range r.sources {
		if s.Kind() == k {
			out = append(out, s)
		}
	}
	return out
}

// Dated returns the first registered Dated source, or nil.
func (r *Registry) Dated() Source {
	if ds := r.ByKind(Dated); len(ds) > 0 {
		return ds[0]
	}
	return nil
}
