package clustering

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/darkden-lab/tracer/indexer/internal/ctxtoken"
	"github.com/darkden-lab/tracer/indexer/internal/events"
	"github.com/darkden-lab/tracer/indexer/internal/index"
	"github.com/darkden-lab/tracer/indexer/internal/indexregistry"
)

type fakeShard struct {
	kind      index.Kind
	path      string
	clustered int32
	saved     int32
}

func newFakeShard(kind index.Kind, path string) index.Index {
	return &fakeShard{kind: kind, path: path}
}

func (f *fakeShard) Kind() index.Kind { return f.kind }
func (f *fakeShard) Path() string     { return f.path }
func (f *fakeShard) Load(ctx context.Context, tok ctxtoken.Token) error {
	return nil
}
func (f *fakeShard) Release(tok ctxtoken.Token)                  {}
func (f *fakeShard) Search(ctx context.Context, q string, k int) ([]index.SearchResult, error) {
	return nil, nil
}
func (f *fakeShard) HasID(id int64) bool                              { return false }
func (f *fakeShard) IDIntersection(ids map[int64]struct{}) []int64    { return nil }
func (f *fakeShard) Insert(ctx context.Context, docs []index.ProcessedDocument) error {
	return nil
}
func (f *fakeShard) Remove(ids []int64) error { return nil }
func (f *fakeShard) Save(path string) error   { atomic.StoreInt32(&f.saved, 1); return nil }
func (f *fakeShard) Size() float64                     { return 10 }
func (f *fakeShard) MaxDocSize() float64               { return 1 }
func (f *fakeShard) Capacity(maxIndexSize float64) int { return 100 }
func (f *fakeShard) Cluster(n int) error               { atomic.StoreInt32(&f.clustered, 1); return nil }
func (f *fakeShard) IDs() []int64                      { return nil }

type alwaysFullArbiter struct{}

func (alwaysFullArbiter) IsIndexFull(size, maxIndexSize float64) bool { return true }

func TestFullEventTriggersClusterAndSave(t *testing.T) {
	bus := events.NewInstanceBus()
	tokens := ctxtoken.New()
	indexes := indexregistry.New(t.TempDir(), 4096, alwaysFullArbiter{}, tokens, newFakeShard, bus)

	shard := indexes.Create(1, index.KindVector, 1).(*fakeShard)

	w := New(indexes, tokens)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	indexes.Subscribe(func(e events.IndexEvent) {}) // no-op, exercises multi-subscriber path
	indexes.MarkFull(1, index.KindVector, shard.path)

	deadline := time.After(200 * time.Millisecond)
	for atomic.LoadInt32(&shard.clustered) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected shard to be clustered after Full event")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if atomic.LoadInt32(&shard.saved) == 0 {
		t.Error("expected shard to be saved after clustering")
	}
}

func TestRemovedInstancePrunesPendingTriples(t *testing.T) {
	bus := events.NewInstanceBus()
	tokens := ctxtoken.New()
	indexes := indexregistry.New(t.TempDir(), 4096, alwaysFullArbiter{}, tokens, newFakeShard, bus)

	shard := indexes.Create(1, index.KindVector, 1).(*fakeShard)
	w := New(indexes, tokens)

	indexes.MarkFull(1, index.KindVector, shard.path)
	bus.Publish(events.InstanceEvent{Kind: events.InstanceRemoved, InstanceID: 1})

	w.mu.Lock()
	pendingLen := len(w.order)
	w.mu.Unlock()
	if pendingLen != 0 {
		t.Fatalf("expected pending triples pruned on instance removal, got %d", pendingLen)
	}
}
