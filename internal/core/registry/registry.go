// Package registry holds the entity descriptors that take part in auditing and
// in the generic CRUD surface. It is populated once at startup.
package registry

import (
	"fmt"
	"sync"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*domain.EntityDescriptor
	order []string
}

func New() *Registry {
	return &Registry{byID: map[string]*domain.EntityDescriptor{}}
}

// Register adds d. Registering the same descriptor twice is a no-op; a
// different descriptor under an existing identifier fails.
func (r *Registry) Register(d *domain.EntityDescriptor) error {
	if d == nil {
		return fmt.Errorf("register: nil descriptor")
	}
	id := d.ID()
	if err := domain.ValidateEntityID(id); err != nil {
		return err
	}
	if d.Table == "" {
		return fmt.Errorf("register %s: table is required", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[id]; ok {
		if existing == d || sameShape(existing, d) {
			return nil
		}
		return fmt.Errorf("%w: %s", domain.ErrDuplicateDescriptor, id)
	}
	r.byID[id] = d
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) Lookup(id string) (*domain.EntityDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntity, id)
	}
	return d, nil
}

// Registered reports whether id is known, without building an error.
func (r *Registry) Registered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// All returns descriptors in registration order.
func (r *Registry) All() []*domain.EntityDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.EntityDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func sameShape(a, b *domain.EntityDescriptor) bool {
	if a.Table != b.Table || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i].Name != b.Fields[i].Name || a.Fields[i].Kind != b.Fields[i].Kind {
			return false
		}
	}
	return true
}
