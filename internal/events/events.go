// Package events implements the synchronous, in-process observer
// fabric that wakes the core's worker loops: InstanceRegistry notifies
// IndexRegistry, FetchScheduler and IndexWriter, and IndexRegistry
// notifies ClusteringWorker. This is distinct from internal/eventbus, which
// carries the same lifecycle facts to external, asynchronous
// consumers. Grounded on the teacher's internal/notifications
// (InMemoryBroker.dispatch: copy subscriber slice under lock, invoke
// handlers outside it) and on original_source's Observer ABCs
// (notify(event, target)).
package events

import "sync"

// InstanceEventKind is the closed set of InstanceRegistry events.
type InstanceEventKind string

const (
	InstanceAdded   InstanceEventKind = "add"
	InstanceRemoved InstanceEventKind = "remove"
)

// InstanceEvent announces a provider instance entering or leaving the
// registry.
type InstanceEvent struct {
	Kind       InstanceEventKind
	InstanceID int64
}

// InstanceHandler reacts to an InstanceEvent. Must be non-blocking or
// queue internally — it runs inline on the publisher's goroutine.
type InstanceHandler func(InstanceEvent)

// InstanceBus fans out InstanceEvents to every subscriber, in
// registration order, outside any lock held by the publisher.
type InstanceBus struct {
	mu        sync.Mutex
	observers []InstanceHandler
}

func NewInstanceBus() *InstanceBus { return &InstanceBus{} }

func (b *InstanceBus) Subscribe(h InstanceHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, h)
}

func (b *InstanceBus) Publish(e InstanceEvent) {
	b.mu.Lock()
	handlers := append([]InstanceHandler(nil), b.observers...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

// IndexEventKind is the closed set of IndexRegistry events.
type IndexEventKind string

const (
	IndexAdded     IndexEventKind = "add"
	IndexRemoved   IndexEventKind = "remove"
	IndexFull      IndexEventKind = "full"
	IndexClustered IndexEventKind = "clustered"
)

// IndexEvent announces a shard lifecycle transition. Position is only
// meaningful for IndexFull and IndexClustered: the shard's index within
// its (instance, kind) ordered list.
type IndexEvent struct {
	Kind       IndexEventKind
	InstanceID int64
	IndexKind  string
	Position   int
}

type IndexHandler func(IndexEvent)

// IndexBus fans out IndexEvents to every subscriber, in registration
// order, outside any lock held by the publisher.
type IndexBus struct {
	mu        sync.Mutex
	observers []IndexHandler
}

func NewIndexBus() *IndexBus { return &IndexBus{} }

func (b *IndexBus) Subscribe(h IndexHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, h)
}

func (b *IndexBus) Publish(e IndexEvent) {
	b.mu.Lock()
	handlers := append([]IndexHandler(nil), b.observers...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}
