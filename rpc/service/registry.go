package service

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"sort"
)

// Builder collects services before a server starts. Build consumes it and
// returns the read-only Registry the business workers use.
type Builder struct {
	services map[string]*Service
	built    bool
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{services: make(map[string]*Service)}
}

// Register adds a service. Names must be unique.
func (b *Builder) Register(svc *Service) error {
	if b.built {
		return common.ErrRegistryFrozen
	}
	if err := svc.validate(); err != nil {
		return err
	}
	if _, ok := b.services[svc.Name]; ok {
		return fmt.Errorf("%w: %s", common.ErrDuplicateService, svc.Name)
	}

	// copy the method table so later changes by the caller have no effect
	methods := make([]Method, len(svc.Methods))
	copy(methods, svc.Methods)
	b.services[svc.Name] = &Service{Name: svc.Name, Methods: methods}
	return nil
}

// Build freezes the builder and returns the registry. Further calls to
// Register fail with ErrRegistryFrozen.
func (b *Builder) Build() *Registry {
	b.built = true
	services := b.services
	b.services = nil
	return &Registry{services: services}
}

// Registry maps service names to method tables. It is never modified after
// Build and is safe for concurrent lookups.
type Registry struct {
	services map[string]*Service
}

// Lookup resolves a service name and method index
func (r *Registry) Lookup(serviceName string, index uint32) (*Method, bool) {
	svc, ok := r.services[serviceName]
	if !ok || uint64(index) >= uint64(len(svc.Methods)) {
		return nil, false
	}
	return &svc.Methods[index], true
}

// Services returns the registered service names in sorted order
func (r *Registry) Services() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
