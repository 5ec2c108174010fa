package provider

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/darkden-lab/tracer/indexer/internal/index"
	"github.com/darkden-lab/tracer/indexer/internal/metadata"
	"github.com/darkden-lab/tracer/indexer/internal/mutation"
	"github.com/darkden-lab/tracer/indexer/internal/pipeline"
)

// IMAPConfig is the opaque connection config carried by a
// ProviderInstance for the IMAP provider kind.
type IMAPConfig struct {
	Connection string
	User       string
	Password   string
}

// Message is one fetched email, already parsed down to the fields the
// indexing core cares about.
type Message struct {
	Subject string
	From    string
	Body    string
	Date    time.Time
}

// Client is the seam a real IMAP wire implementation would fulfill;
// vendoring one is out of scope for the core (spec.md §1). Grounded on
// original_source/retriever/src/provider/email/imap.py's
// imaplib.IMAP4_SSL usage, abstracted behind an interface.
type Client interface {
	Connect(ctx context.Context, cfg IMAPConfig) error
	FetchSince(ctx context.Context, since time.Time) ([]Message, error)
	Logout(ctx context.Context) error
}

// IMAPProvider is the reference Provider implementation for the
// "imap" provider kind.
type IMAPProvider struct {
	Base

	instanceID int64
	cfg        IMAPConfig
	store      metadata.Store
	pipeline   pipeline.TextPipeline
	queue      *mutation.Queue
	client     Client
	tokenLimit int
}

const ProviderKindIMAP = "imap"

func NewIMAPProvider(instanceID int64, cfg IMAPConfig, store metadata.Store, pl pipeline.TextPipeline, queue *mutation.Queue, client Client, tokenLimit int) *IMAPProvider {
	return &IMAPProvider{
		instanceID: instanceID,
		cfg:        cfg,
		store:      store,
		pipeline:   pl,
		queue:      queue,
		client:     client,
		tokenLimit: tokenLimit,
	}
}

// Run implements the Provider contract's six steps (spec.md §4.F).
func (p *IMAPProvider) Run(ctx context.Context) error {
	if !p.Alive() {
		return nil
	}
	if err := p.EnsureSetup(ctx, func(ctx context.Context) error {
		return p.client.Connect(ctx, p.cfg)
	}); err != nil {
		return fmt.Errorf("provider: imap setup instance %d: %w", p.instanceID, err)
	}

	row, err := p.store.FindInstanceByID(ctx, p.instanceID)
	if err != nil {
		return fmt.Errorf("provider: imap read last_fetched instance %d: %w", p.instanceID, err)
	}
	lastFetched := time.Time{} // min, per spec.md §4.F step 2
	if row.LastFetched != nil {
		lastFetched = *row.LastFetched
	}

	// Captured before the fetch, per spec.md §4.F step 6.
	initiatedAt := time.Now().UTC()

	messages, err := p.client.FetchSince(ctx, lastFetched)
	if err != nil {
		return fmt.Errorf("provider: imap fetch instance %d: %w", p.instanceID, err)
	}

	for _, msg := range messages {
		if !msg.Date.After(lastFetched) {
			continue
		}
		if err := p.indexMessage(ctx, msg); err != nil {
			log.Printf("provider: imap instance %d: failed to index message %q: %v", p.instanceID, msg.Subject, err)
		}
	}

	if err := p.store.UpdateLastFetched(ctx, p.instanceID, initiatedAt); err != nil {
		return fmt.Errorf("provider: imap update last_fetched instance %d: %w", p.instanceID, err)
	}
	return nil
}

func (p *IMAPProvider) indexMessage(ctx context.Context, msg Message) error {
	docID, err := p.store.CreateDocument(ctx, metadata.DocumentInput{
		InstanceID: p.instanceID,
		DocType:    "email",
		Status:     "new",
		Title:      msg.Subject,
		Author:     msg.From,
		Timestamp:  msg.Date,
	})
	if err != nil {
		return err
	}

	chunks, err := p.pipeline.Process(ctx, msg.Body, p.tokenLimit)
	if err != nil {
		return err
	}

	for _, c := range chunks {
		subID, err := p.store.CreateSubDocument(ctx, docID, c.Text)
		if err != nil {
			return err
		}
		p.queue.EnqueueInsert(index.ProcessedDocument{ID: subID, Text: c.Text})
	}
	return nil
}

func (p *IMAPProvider) Kill() {
	p.MarkKilled(func() {
		_ = p.client.Logout(context.Background())
	})
}
