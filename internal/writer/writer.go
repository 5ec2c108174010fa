package writer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/darkden-lab/tracer/indexer/internal/ctxtoken"
	"github.com/darkden-lab/tracer/indexer/internal/events"
	"github.com/darkden-lab/tracer/indexer/internal/index"
	"github.com/darkden-lab/tracer/indexer/internal/indexregistry"
	"github.com/darkden-lab/tracer/indexer/internal/instance"
	"github.com/darkden-lab/tracer/indexer/internal/mutation"
)

// Arbiter is the subset of memory.Arbiter the writer needs to decide
// whether a shard just crossed the fullness line, kept narrow per the
// same pattern as indexregistry.Arbiter.
type Arbiter interface {
	IsIndexFull(size, maxIndexSize float64) bool
}

const wakeInterval = 300 * time.Second

var kinds = []index.Kind{index.KindVector, index.KindLexical}

// Writer is the IndexWriter.
type Writer struct {
	instances    *instance.Registry
	indexes      *indexregistry.Registry
	tokens       *ctxtoken.Registry
	arbiter      Arbiter
	maxIndexSize float64

	mu     sync.Mutex
	active map[int64]struct{}
	notify chan struct{}

	nowFunc func() time.Time
}

// New constructs a Writer wired to the same InstanceRegistry and
// IndexRegistry as the rest of the core.
func New(instances *instance.Registry, indexes *indexregistry.Registry, tokens *ctxtoken.Registry, arbiter Arbiter, maxIndexSize float64) *Writer {
	w := &Writer{
		instances:    instances,
		indexes:      indexes,
		tokens:       tokens,
		arbiter:      arbiter,
		maxIndexSize: maxIndexSize,
		active:       make(map[int64]struct{}),
		notify:       make(chan struct{}, 1),
		nowFunc:      time.Now,
	}
	instances.Bus().Subscribe(w.onInstanceEvent)
	for _, inst := range instances.All() {
		w.active[inst.ID] = struct{}{}
	}
	return w
}

func (w *Writer) onInstanceEvent(e events.InstanceEvent) {
	w.mu.Lock()
	switch e.Kind {
	case events.InstanceAdded:
		w.active[e.InstanceID] = struct{}{}
	case events.InstanceRemoved:
		delete(w.active, e.InstanceID)
	}
	w.mu.Unlock()
	w.Notify()
}

// Notify wakes the run loop early instead of waiting the full 300s cadence.
func (w *Writer) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Run drives the wake-every-300s-or-on-notify loop until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(wakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-w.notify:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce drains every active instance's mutation queue and processes
// the coalesced result, trapping per-instance failures so one bad
// instance never stalls the rest.
func (w *Writer) RunOnce(ctx context.Context) {
	w.mu.Lock()
	ids := make([]int64, 0, len(w.active))
	for id := range w.active {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		inst, ok := w.instances.Get(id)
		if !ok {
			continue
		}
		muts := inst.Queue.Drain()
		if len(muts) == 0 {
			continue
		}
		w.processInstance(ctx, id, muts)
	}
}

func (w *Writer) processInstance(ctx context.Context, instanceID int64, muts []mutation.Mutation) {
	inserts, deletes := Coalesce(muts)

	for _, kind := range kinds {
		if !w.indexes.Contains(instanceID) {
			return
		}
		shards, err := w.indexes.Get(instanceID, kind)
		if err != nil {
			continue
		}

		cursor := 0
		touched := make(map[string]bool)

		for _, shard := range shards {
			hits := shard.IDIntersection(deletes)
			if len(hits) == 0 {
				continue
			}
			touched[shard.Path()] = true
			cursor = w.applyToShard(ctx, instanceID, kind, shard, hits, inserts, cursor)
			if !w.instances.Contains(instanceID) {
				return
			}
		}

		if cursor < len(inserts) {
			fillable, err := w.indexes.GetFillable(instanceID, kind)
			if err == nil {
				for _, shard := range fillable {
					if touched[shard.Path()] || cursor >= len(inserts) {
						continue
					}
					cursor = w.applyToShard(ctx, instanceID, kind, shard, nil, inserts, cursor)
					if !w.instances.Contains(instanceID) {
						return
					}
				}
			}
		}

		for cursor < len(inserts) {
			shard := w.indexes.Create(instanceID, kind, w.nowFunc().UnixMilli())
			cursor = w.applyToShard(ctx, instanceID, kind, shard, nil, inserts, cursor)
			if !w.instances.Contains(instanceID) {
				return
			}
		}
	}
}

// applyToShard loads shard, removes hitIDs, inserts as many of
// inserts[cursor:] as the shard's capacity allows, saves (unless the
// instance was removed mid-cycle), and releases. Returns the advanced
// cursor.
func (w *Writer) applyToShard(ctx context.Context, instanceID int64, kind index.Kind, shard index.Index, hitIDs []int64, inserts []index.ProcessedDocument, cursor int) int {
	tok, err := w.tokens.Generate()
	if err != nil {
		log.Printf("writer: instance %d shard %s: token generation failed: %v", instanceID, shard.Path(), err)
		return cursor
	}
	defer w.tokens.Release(tok)

	if err := shard.Load(ctx, tok); err != nil {
		log.Printf("writer: instance %d shard %s: load failed: %v", instanceID, shard.Path(), err)
		return cursor
	}
	defer shard.Release(tok)

	if len(hitIDs) > 0 {
		if err := shard.Remove(hitIDs); err != nil {
			log.Printf("writer: instance %d shard %s: remove failed: %v", instanceID, shard.Path(), err)
			return cursor
		}
	}

	newCursor := cursor
	if cursor < len(inserts) {
		capacity := shard.Capacity(w.maxIndexSize)
		if capacity > 0 {
			end := cursor + capacity
			if end > len(inserts) {
				end = len(inserts)
			}
			if err := shard.Insert(ctx, inserts[cursor:end]); err != nil {
				log.Printf("writer: instance %d shard %s: insert failed: %v", instanceID, shard.Path(), err)
				return cursor
			}
			newCursor = end
		}
	}

	if !w.instances.Contains(instanceID) {
		return newCursor
	}

	if err := shard.Save(""); err != nil {
		log.Printf("writer: instance %d shard %s: save failed: %v", instanceID, shard.Path(), err)
		return newCursor
	}

	if w.arbiter.IsIndexFull(shard.Size(), w.maxIndexSize) {
		if err := w.indexes.MarkFull(instanceID, kind, shard.Path()); err != nil {
			log.Printf("writer: instance %d shard %s: mark_full failed: %v", instanceID, shard.Path(), err)
		}
	}

	return newCursor
}
