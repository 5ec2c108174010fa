// Package metadata defines the MetadataStore abstraction the core
// consumes for provider instance and document persistence, plus a
// concrete Postgres-backed implementation. Grounded on the teacher's
// internal/db (pgxpool + golang-migrate) and on hand-written SQL in
// the style of internal/cluster rather than an ORM.
package metadata

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("metadata: not found")

// ProviderInstanceRow is one row of the provider_instances table.
type ProviderInstanceRow struct {
	ID           int64
	ProviderKind string
	Name         string
	Config       map[string]string
	LastFetched  *time.Time // nil means "never fetched" (treated as time.Time{} / min)
}

// DocumentInput is the set of fields needed to persist a raw document
// header ahead of its chunked sub-documents.
type DocumentInput struct {
	InstanceID   int64
	DocType      string
	Status       string
	Title        string
	Author       string
	AuthorAvatar string
	URL          string
	Location     string
	Timestamp    time.Time
}

// Store is the abstract RDBMS interface consumed by Provider and
// InstanceRegistry. All operations are synchronous and may fail with
// a transient or permanent error; callers surface failures to the
// triggering Provider.run(), which treats them as fetch failures.
type Store interface {
	FindInstanceByID(ctx context.Context, id int64) (ProviderInstanceRow, error)
	UpdateLastFetched(ctx context.Context, id int64, t time.Time) error
	FindInstancesByProviderKind(ctx context.Context, kind string) ([]ProviderInstanceRow, error)

	CreateDocument(ctx context.Context, in DocumentInput) (int64, error)
	CreateSubDocument(ctx context.Context, documentID int64, data string) (int64, error)
}
