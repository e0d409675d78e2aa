// Package registry implements the process-wide service registry: a map
// from serviceId to a ServiceDescriptor, populated once at startup and
// read concurrently thereafter.
package registry

import (
	"log/slog"
	"sync"

	"github.com/dbbouncer/gateway/internal/codec"
	"github.com/dbbouncer/gateway/internal/session"
)

// HandlerFunc processes one decoded frame for session s.
type HandlerFunc func(s *session.Session, h codec.Header, body []byte)

// Service is anything that can register its commands into a descriptor.
type Service interface {
	ServiceID() uint16
	RegisterCmd(reg func(cmdID uint16, fn HandlerFunc))
}

// Descriptor is one service's immutable, post-registration state.
type Descriptor struct {
	ServiceID uint16
	Handlers  map[uint16]HandlerFunc
}

// Registry is the process-wide serviceId -> Descriptor map.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[uint16]*Descriptor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{descriptors: make(map[uint16]*Descriptor)}
}

// Register builds svc's descriptor by calling RegisterCmd, then inserts
// it. Idempotent on an absent key; a duplicate serviceId is rejected and
// logged, leaving the existing descriptor in place.
func (r *Registry) Register(svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[svc.ServiceID()]; exists {
		slog.Error("registry: duplicate service registration rejected", "serviceId", svc.ServiceID())
		return
	}

	desc := &Descriptor{ServiceID: svc.ServiceID(), Handlers: make(map[uint16]HandlerFunc)}
	svc.RegisterCmd(func(cmdID uint16, fn HandlerFunc) {
		desc.Handlers[cmdID] = fn
	})
	r.descriptors[svc.ServiceID()] = desc
}

// Lookup returns the descriptor for serviceId, if registered.
func (r *Registry) Lookup(serviceID uint16) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[serviceID]
	return d, ok
}

// Handler returns the handler for (serviceId, cmdId), if both are
// registered.
func (d *Descriptor) Handler(cmdID uint16) (HandlerFunc, bool) {
	fn, ok := d.Handlers[cmdID]
	return fn, ok
}
