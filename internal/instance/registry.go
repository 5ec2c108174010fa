// Package instance implements the InstanceRegistry: the thread-safe
// map of provider-instance-id to Provider, with Add/Remove events and
// recovery from the MetadataStore. Grounded on
// original_source/retriever/src/provider/provider_instance_registry.py
// for the add/remove/notify/load_instances semantics, and on the
// teacher's internal/cluster/manager.go for the Go
// sync.RWMutex-guarded map shape.
package instance

import (
	"context"
	"fmt"
	"sync"

	"github.com/darkden-lab/tracer/indexer/internal/events"
	"github.com/darkden-lab/tracer/indexer/internal/metadata"
	"github.com/darkden-lab/tracer/indexer/internal/mutation"
	"github.com/darkden-lab/tracer/indexer/internal/provider"
)

// ProviderInstance pairs a live Provider with its mutation queue. The
// queue is owned here, not by the Provider, so IndexWriter can drain
// it without depending on the provider package.
type ProviderInstance struct {
	ID       int64
	Provider provider.Provider
	Queue    *mutation.Queue
}

// Registry is the InstanceRegistry.
type Registry struct {
	mu        sync.RWMutex
	instances map[int64]*ProviderInstance
	bus       *events.InstanceBus
}

// New constructs a Registry backed by the given InstanceBus (shared
// with IndexRegistry and IndexWriter's subscriptions).
func New(bus *events.InstanceBus) *Registry {
	return &Registry{
		instances: make(map[int64]*ProviderInstance),
		bus:       bus,
	}
}

// Bus exposes the underlying InstanceBus for other components to subscribe to.
func (r *Registry) Bus() *events.InstanceBus { return r.bus }

// Add registers a new instance, returning false if the id already exists.
func (r *Registry) Add(inst *ProviderInstance) bool {
	r.mu.Lock()
	if _, exists := r.instances[inst.ID]; exists {
		r.mu.Unlock()
		return false
	}
	r.instances[inst.ID] = inst
	r.mu.Unlock()

	r.bus.Publish(events.InstanceEvent{Kind: events.InstanceAdded, InstanceID: inst.ID})
	return true
}

// Remove removes the instance, kills its provider, then notifies.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	inst, exists := r.instances[id]
	if !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.instances, id)
	r.mu.Unlock()

	inst.Provider.Kill()
	r.bus.Publish(events.InstanceEvent{Kind: events.InstanceRemoved, InstanceID: id})
	return true
}

// Get returns the instance, if present.
func (r *Registry) Get(id int64) (*ProviderInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// All returns a snapshot of every live instance, used by FetchScheduler
// and IndexWriter to seed their active sets.
func (r *Registry) All() []*ProviderInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ProviderInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}

// Contains reports whether id is still registered, used by IndexWriter
// and ClusteringWorker to detect a mid-cycle removal.
func (r *Registry) Contains(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[id]
	return ok
}

// ProviderFactory constructs a live Provider for one stored row, given
// its own freshly-allocated mutation queue.
type ProviderFactory func(row metadata.ProviderInstanceRow, queue *mutation.Queue) provider.Provider

// LoadFromStore materializes one ProviderInstance per stored row whose
// provider-kind matches, and adds each (emitting Add).
func (r *Registry) LoadFromStore(ctx context.Context, store metadata.Store, kind string, factory ProviderFactory) error {
	rows, err := store.FindInstancesByProviderKind(ctx, kind)
	if err != nil {
		return fmt.Errorf("instance: load_from_store kind %s: %w", kind, err)
	}
	for _, row := range rows {
		queue := mutation.NewQueue()
		r.Add(&ProviderInstance{
			ID:       row.ID,
			Provider: factory(row, queue),
			Queue:    queue,
		})
	}
	return nil
}
