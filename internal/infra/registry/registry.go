// Package registry holds the catalogue of known tool servers and the keyword
// heuristic that routes a free-text prompt to one of them.
package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mcpgate/internal/domain"
	"mcpgate/internal/infra/telemetry"
)

// Registry is an ordered, in-memory set of server descriptors. Registration
// order is load-bearing: the selector breaks score ties by it, and the first
// registered server is the fallback when nothing matches.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	order    []string
	byID     map[string]domain.ServerDescriptor
	defaults string
}

type Options struct {
	Logger *zap.Logger

	// DefaultServer is returned when no keyword matches. Empty means the
	// first registered server.
	DefaultServer string
}

func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:   logger.Named("registry"),
		byID:     make(map[string]domain.ServerDescriptor),
		defaults: opts.DefaultServer,
	}
}

// Add registers a descriptor. Re-adding an existing ID updates the descriptor
// in place without changing its registration order.
func (r *Registry) Add(desc domain.ServerDescriptor) error {
	const op = "registry.Add"
	if desc.ServerID == "" {
		return domain.E(domain.CodeInvalidArgument, op, "serverId is required", nil)
	}
	if domain.NormalizeTransport(string(desc.Transport)) != domain.TransportProcess &&
		domain.NormalizeTransport(string(desc.Transport)) != domain.TransportEventStream &&
		domain.NormalizeTransport(string(desc.Transport)) != domain.TransportHTTP {
		return domain.E(domain.CodeInvalidArgument, op,
			fmt.Sprintf("server %q has unknown transport %q", desc.ServerID, desc.Transport), nil)
	}

	r.mu.Lock()
	if _, exists := r.byID[desc.ServerID]; !exists {
		r.order = append(r.order, desc.ServerID)
	}
	r.byID[desc.ServerID] = desc
	r.mu.Unlock()
	return nil
}

// Remove deletes a descriptor and reports whether it existed. Pool eviction
// for the removed server is the caller's responsibility.
func (r *Registry) Remove(serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[serverID]; !ok {
		return false
	}
	delete(r.byID, serverID)
	for i, id := range r.order {
		if id == serverID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Replace swaps the whole catalogue atomically, preserving the order of the
// incoming slice. Used by config hot reload.
func (r *Registry) Replace(descs []domain.ServerDescriptor) error {
	byID := make(map[string]domain.ServerDescriptor, len(descs))
	order := make([]string, 0, len(descs))
	for _, desc := range descs {
		if desc.ServerID == "" {
			return domain.E(domain.CodeInvalidArgument, "registry.Replace", "serverId is required", nil)
		}
		if _, dup := byID[desc.ServerID]; dup {
			return domain.E(domain.CodeInvalidArgument, "registry.Replace",
				fmt.Sprintf("duplicate server %q", desc.ServerID), nil)
		}
		byID[desc.ServerID] = desc
		order = append(order, desc.ServerID)
	}

	r.mu.Lock()
	r.byID = byID
	r.order = order
	r.mu.Unlock()

	r.logger.Info("registry replaced",
		telemetry.EventField(telemetry.EventRegistryReload),
		zap.Int("serverCount", len(descs)),
	)
	return nil
}

// Get returns the descriptor for serverID.
func (r *Registry) Get(serverID string) (domain.ServerDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.byID[serverID]
	if !ok {
		return domain.ServerDescriptor{}, domain.Wrap(domain.CodeNotFound, "registry.Get", domain.ErrUnknownServer)
	}
	return desc, nil
}

// List returns all descriptors in registration order.
func (r *Registry) List() []domain.ServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ServerDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len reports the number of registered servers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
