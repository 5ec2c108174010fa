package provider

import (
	"context"
	"testing"
	"time"

	"github.com/darkden-lab/tracer/indexer/internal/metadata"
	"github.com/darkden-lab/tracer/indexer/internal/mutation"
	"github.com/darkden-lab/tracer/indexer/internal/pipeline"
)

type fakeStore struct {
	row              metadata.ProviderInstanceRow
	updatedTo        time.Time
	nextDocID        int64
	nextSubID        int64
	createdDocuments []metadata.DocumentInput
}

func (f *fakeStore) FindInstanceByID(ctx context.Context, id int64) (metadata.ProviderInstanceRow, error) {
	return f.row, nil
}
func (f *fakeStore) UpdateLastFetched(ctx context.Context, id int64, t time.Time) error {
	f.updatedTo = t
	return nil
}
func (f *fakeStore) FindInstancesByProviderKind(ctx context.Context, kind string) ([]metadata.ProviderInstanceRow, error) {
	return nil, nil
}
func (f *fakeStore) CreateDocument(ctx context.Context, in metadata.DocumentInput) (int64, error) {
	f.nextDocID++
	f.createdDocuments = append(f.createdDocuments, in)
	return f.nextDocID, nil
}
func (f *fakeStore) CreateSubDocument(ctx context.Context, documentID int64, data string) (int64, error) {
	f.nextSubID++
	return f.nextSubID, nil
}

type fakeClient struct {
	connected bool
	loggedOut bool
	messages  []Message
}

func (f *fakeClient) Connect(ctx context.Context, cfg IMAPConfig) error {
	f.connected = true
	return nil
}
func (f *fakeClient) FetchSince(ctx context.Context, since time.Time) ([]Message, error) {
	var out []Message
	for _, m := range f.messages {
		if m.Date.After(since) {
			out = append(out, m)
		}
	}
	return out, nil
}
func (f *fakeClient) Logout(ctx context.Context) error {
	f.loggedOut = true
	return nil
}

func TestIMAPProviderRunEnqueuesOnlyNewerMessages(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour).UTC()
	store := &fakeStore{row: metadata.ProviderInstanceRow{LastFetched: &old}}
	client := &fakeClient{messages: []Message{
		{Subject: "old", Body: "stale", Date: old.Add(-time.Hour)},
		{Subject: "new", Body: "fresh content here", Date: time.Now().UTC()},
	}}
	queue := mutation.NewQueue()
	p := NewIMAPProvider(1, IMAPConfig{}, store, pipeline.NewDefault(), queue, client, 1024)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !client.connected {
		t.Error("expected client to be connected")
	}
	if len(store.createdDocuments) != 1 {
		t.Fatalf("expected exactly 1 document created, got %d", len(store.createdDocuments))
	}
	if queue.Len() != 1 {
		t.Fatalf("expected exactly 1 mutation enqueued, got %d", queue.Len())
	}
	if store.updatedTo.IsZero() {
		t.Error("expected last_fetched to be updated")
	}
}

func TestIMAPProviderSetupRunsOnlyOnce(t *testing.T) {
	store := &fakeStore{}
	client := &fakeClient{}
	p := NewIMAPProvider(1, IMAPConfig{}, store, pipeline.NewDefault(), mutation.NewQueue(), client, 1024)

	_ = p.Run(context.Background())
	client.connected = false // reset to detect a second Connect call
	_ = p.Run(context.Background())

	if client.connected {
		t.Error("expected setup (Connect) to not run again on second Run")
	}
}

func TestIMAPProviderKillIsIdempotentAndLogsOut(t *testing.T) {
	client := &fakeClient{}
	p := NewIMAPProvider(1, IMAPConfig{}, &fakeStore{}, pipeline.NewDefault(), mutation.NewQueue(), client, 1024)

	p.Kill()
	p.Kill()

	if !client.loggedOut {
		t.Error("expected client to be logged out")
	}
	if p.Alive() {
		t.Error("expected provider to report not alive after kill")
	}
}

func TestIMAPProviderSkipsRunAfterKill(t *testing.T) {
	client := &fakeClient{}
	p := NewIMAPProvider(1, IMAPConfig{}, &fakeStore{}, pipeline.NewDefault(), mutation.NewQueue(), client, 1024)
	p.Kill()

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.connected {
		t.Error("expected no fetch work after kill")
	}
}
