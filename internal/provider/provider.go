// Package provider implements the Provider contract and a reference
// IMAP-backed implementation. Grounded on
// original_source/retriever/src/provider/generic_provider.py for the
// idempotent-setup / read-before-fetch / write-after-success shape.
package provider

import (
	"context"
	"sync"
)

// Provider fetches raw content from a remote source and submits
// mutations to its instance's indexing queue. The IMAP variant below
// is a reference implementation, not part of the core contract.
type Provider interface {
	Run(ctx context.Context) error
	Kill()
}

// Base provides the idempotent setup tracking and liveness flag every
// concrete Provider needs, matching generic_provider.py's
// `_setup_completed` / `_status` fields.
type Base struct {
	mu        sync.Mutex
	setupDone bool
	killed    bool
}

// EnsureSetup idempotently runs setup exactly once across the
// lifetime of the provider.
func (b *Base) EnsureSetup(ctx context.Context, setup func(context.Context) error) error {
	b.mu.Lock()
	if b.setupDone {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := setup(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	b.setupDone = true
	b.mu.Unlock()
	return nil
}

// Alive reports whether Kill has not yet been called. A Provider's
// Run should check this at safe points so InstanceRegistry.Remove can
// preempt a long-running fetch without hard-cancelling it.
func (b *Base) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.killed
}

// MarkKilled idempotently flips the liveness flag and runs cleanup
// exactly once.
func (b *Base) MarkKilled(cleanup func()) {
	b.mu.Lock()
	if b.killed {
		b.mu.Unlock()
		return
	}
	b.killed = true
	b.mu.Unlock()

	if cleanup != nil {
		cleanup()
	}
}
