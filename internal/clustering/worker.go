// Package clustering implements the ClusteringWorker: it listens for
// Full events from IndexRegistry and rebuilds the named shard into a
// clustered (IVF-style) one. Grounded on
// original_source/retriever/src/indexing/clustering_queue.py for the
// pending-set/pop/cluster/save shape.
package clustering

import (
	"context"
	"log"
	"sync"

	"github.com/darkden-lab/tracer/indexer/internal/ctxtoken"
	"github.com/darkden-lab/tracer/indexer/internal/events"
	"github.com/darkden-lab/tracer/indexer/internal/index"
	"github.com/darkden-lab/tracer/indexer/internal/indexregistry"
)

// clusterCells is the fixed cell count passed to Index.cluster, left
// hardcoded per spec.md §9 Open Question 4 rather than derived from
// shard size.
const clusterCells = 20

type pendingKey struct {
	instanceID int64
	kind       index.Kind
	position   int
}

// Worker is the ClusteringWorker.
type Worker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending map[pendingKey]bool
	order   []pendingKey
	stopped bool

	indexes *indexregistry.Registry
	tokens  *ctxtoken.Registry
}

// New constructs a Worker and subscribes it to indexes' Full/Removed events.
func New(indexes *indexregistry.Registry, tokens *ctxtoken.Registry) *Worker {
	w := &Worker{
		pending: make(map[pendingKey]bool),
		indexes: indexes,
		tokens:  tokens,
	}
	w.cond = sync.NewCond(&w.mu)
	indexes.Subscribe(w.onIndexEvent)
	return w
}

func (w *Worker) onIndexEvent(e events.IndexEvent) {
	switch e.Kind {
	case events.IndexFull:
		w.mu.Lock()
		key := pendingKey{instanceID: e.InstanceID, kind: index.Kind(e.IndexKind), position: e.Position}
		if !w.pending[key] {
			w.pending[key] = true
			w.order = append(w.order, key)
		}
		w.mu.Unlock()
		w.cond.Broadcast()
	case events.IndexRemoved:
		w.mu.Lock()
		filtered := w.order[:0]
		for _, k := range w.order {
			if k.instanceID == e.InstanceID {
				delete(w.pending, k)
				continue
			}
			filtered = append(filtered, k)
		}
		w.order = filtered
		w.mu.Unlock()
	}
}

// Stop unblocks Run permanently.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Run processes pending full shards one at a time until Stop is
// called or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	for {
		w.mu.Lock()
		for !w.stopped && len(w.order) == 0 {
			w.cond.Wait()
		}
		if w.stopped {
			w.mu.Unlock()
			return
		}
		key := w.order[0]
		w.order = w.order[1:]
		delete(w.pending, key)
		w.mu.Unlock()

		w.process(ctx, key)
	}
}

func (w *Worker) process(ctx context.Context, key pendingKey) {
	shards, err := w.indexes.Get(key.instanceID, key.kind)
	if err != nil {
		log.Printf("clustering: instance %d kind %s: %v", key.instanceID, key.kind, err)
		return
	}
	if key.position < 0 || key.position >= len(shards) {
		log.Printf("clustering: instance %d kind %s: position %d out of range (%d shards)", key.instanceID, key.kind, key.position, len(shards))
		return
	}
	target := shards[key.position]

	tok, err := w.tokens.Generate()
	if err != nil {
		log.Printf("clustering: instance %d shard %s: token generation failed: %v", key.instanceID, target.Path(), err)
		return
	}
	defer w.tokens.Release(tok)

	if err := target.Load(ctx, tok); err != nil {
		log.Printf("clustering: instance %d shard %s: load failed: %v", key.instanceID, target.Path(), err)
		return
	}
	defer target.Release(tok)

	if err := target.Cluster(clusterCells); err != nil {
		log.Printf("clustering: instance %d shard %s: cluster failed: %v", key.instanceID, target.Path(), err)
		return
	}

	if !w.indexes.Contains(key.instanceID) {
		return
	}
	if err := target.Save(""); err != nil {
		log.Printf("clustering: instance %d shard %s: save failed: %v", key.instanceID, target.Path(), err)
		return
	}
	if err := w.indexes.MarkClustered(key.instanceID, key.kind, target.Path()); err != nil {
		log.Printf("clustering: instance %d shard %s: mark_clustered failed: %v", key.instanceID, target.Path(), err)
	}
}
