package instance

import (
	"context"
	"testing"
	"time"

	"github.com/darkden-lab/tracer/indexer/internal/events"
	"github.com/darkden-lab/tracer/indexer/internal/metadata"
	"github.com/darkden-lab/tracer/indexer/internal/mutation"
	"github.com/darkden-lab/tracer/indexer/internal/provider"
)

type fakeProvider struct {
	killed bool
}

func (f *fakeProvider) Run(ctx context.Context) error { return nil }
func (f *fakeProvider) Kill()                          { f.killed = true }

type fakeStore struct {
	rows []metadata.ProviderInstanceRow
}

func (f *fakeStore) FindInstanceByID(ctx context.Context, id int64) (metadata.ProviderInstanceRow, error) {
	return metadata.ProviderInstanceRow{}, nil
}
func (f *fakeStore) UpdateLastFetched(ctx context.Context, id int64, t time.Time) error {
	return nil
}
func (f *fakeStore) FindInstancesByProviderKind(ctx context.Context, kind string) ([]metadata.ProviderInstanceRow, error) {
	var out []metadata.ProviderInstanceRow
	for _, r := range f.rows {
		if r.ProviderKind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeStore) CreateDocument(ctx context.Context, in metadata.DocumentInput) (int64, error) {
	return 0, nil
}
func (f *fakeStore) CreateSubDocument(ctx context.Context, documentID int64, data string) (int64, error) {
	return 0, nil
}

func TestAddRejectsDuplicateID(t *testing.T) {
	r := New(events.NewInstanceBus())
	inst := &ProviderInstance{ID: 1, Provider: &fakeProvider{}, Queue: mutation.NewQueue()}
	if !r.Add(inst) {
		t.Fatal("expected first add to succeed")
	}
	if r.Add(inst) {
		t.Fatal("expected duplicate add to fail")
	}
}

func TestAddPublishesInstanceAdded(t *testing.T) {
	bus := events.NewInstanceBus()
	var got []events.InstanceEvent
	bus.Subscribe(func(e events.InstanceEvent) { got = append(got, e) })
	r := New(bus)

	r.Add(&ProviderInstance{ID: 7, Provider: &fakeProvider{}, Queue: mutation.NewQueue()})

	if len(got) != 1 || got[0].Kind != events.InstanceAdded || got[0].InstanceID != 7 {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestRemoveKillsProviderAndPublishes(t *testing.T) {
	bus := events.NewInstanceBus()
	var got []events.InstanceEvent
	bus.Subscribe(func(e events.InstanceEvent) { got = append(got, e) })
	r := New(bus)

	fp := &fakeProvider{}
	r.Add(&ProviderInstance{ID: 3, Provider: fp, Queue: mutation.NewQueue()})

	if !r.Remove(3) {
		t.Fatal("expected remove to succeed")
	}
	if !fp.killed {
		t.Error("expected provider to be killed")
	}
	if _, ok := r.Get(3); ok {
		t.Error("expected instance to be gone")
	}
	if len(got) != 2 || got[1].Kind != events.InstanceRemoved {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestRemoveUnknownReturnsFalse(t *testing.T) {
	r := New(events.NewInstanceBus())
	if r.Remove(99) {
		t.Fatal("expected remove of unknown id to fail")
	}
}

func TestContainsReflectsLiveSet(t *testing.T) {
	r := New(events.NewInstanceBus())
	if r.Contains(1) {
		t.Fatal("expected empty registry to not contain id 1")
	}
	r.Add(&ProviderInstance{ID: 1, Provider: &fakeProvider{}, Queue: mutation.NewQueue()})
	if !r.Contains(1) {
		t.Fatal("expected registry to contain id 1 after add")
	}
	r.Remove(1)
	if r.Contains(1) {
		t.Fatal("expected registry to not contain id 1 after remove")
	}
}

func TestLoadFromStoreMaterializesMatchingProviders(t *testing.T) {
	store := &fakeStore{rows: []metadata.ProviderInstanceRow{
		{ID: 1, ProviderKind: "imap"},
		{ID: 2, ProviderKind: "rss"},
		{ID: 3, ProviderKind: "imap"},
	}}
	r := New(events.NewInstanceBus())

	err := r.LoadFromStore(context.Background(), store, "imap", func(row metadata.ProviderInstanceRow, queue *mutation.Queue) provider.Provider {
		return &fakeProvider{}
	})
	if err != nil {
		t.Fatalf("load from store: %v", err)
	}
	if len(r.All()) != 2 {
		t.Fatalf("expected 2 imap instances loaded, got %d", len(r.All()))
	}
	if _, ok := r.Get(2); ok {
		t.Error("expected rss instance to be skipped")
	}
}

func TestAllReturnsSnapshot(t *testing.T) {
	r := New(events.NewInstanceBus())
	r.Add(&ProviderInstance{ID: 1, Provider: &fakeProvider{}, Queue: mutation.NewQueue()})
	r.Add(&ProviderInstance{ID: 2, Provider: &fakeProvider{}, Queue: mutation.NewQueue()})
	if len(r.All()) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(r.All()))
	}
}
