// Package index implements the Index shard: one on-disk searchable
// unit, polymorphic over the closed {vector, lexical} kind set.
// Grounded on original_source/src/indexing/index/store/faiss_index.py
// and bm25_index.py for the scoring and clustering algorithms; the
// on-disk codec (gob primary artifact + JSON sidecar) is this
// implementation's own, since there is no Go equivalent of faiss to
// delegate storage to.
package index

import (
	"context"

	"github.com/darkden-lab/tracer/indexer/internal/ctxtoken"
)

// Kind is the closed set of shard variants.
type Kind string

const (
	KindVector  Kind = "vector"
	KindLexical Kind = "lexical"
)

// Ext returns the on-disk extension for the kind, per §6's closed set.
func (k Kind) Ext() string {
	switch k {
	case KindVector:
		return "faiss"
	case KindLexical:
		return "bm25"
	default:
		return ""
	}
}

// SearchResult is one scored hit.
type SearchResult struct {
	ID    int64
	Score float64
}

// ProcessedDocument is the atomic unit indexed: one token-bounded chunk
// of cleaned text carrying a globally unique id assigned by the
// MetadataStore at persistence time.
type ProcessedDocument struct {
	ID   int64
	Text string
}

// Embedder turns text into fixed-dimensional unit vectors. The vector
// shard depends only on this interface, never on a concrete transport.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the shared capability set across both kinds.
type Index interface {
	Kind() Kind
	Path() string

	// Load is idempotent: the first call reads the shard from disk (or
	// initializes empty state if this is a brand-new shard); every call
	// attaches tok. Release drops tok; once no tokens remain, resident
	// state is freed.
	Load(ctx context.Context, tok ctxtoken.Token) error
	Release(tok ctxtoken.Token)

	// Search requires a currently loaded shard; returns ErrNotLoaded
	// otherwise.
	Search(ctx context.Context, queryText string, k int) ([]SearchResult, error)

	HasID(id int64) bool
	IDIntersection(ids map[int64]struct{}) []int64

	Insert(ctx context.Context, docs []ProcessedDocument) error
	Remove(ids []int64) error

	Save(path string) error

	Size() float64
	MaxDocSize() float64
	Capacity(maxIndexSize float64) int

	Cluster(n int) error

	IDs() []int64
}
