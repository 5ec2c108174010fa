// Package mutation defines the per-instance mutation stream that
// flows from a Provider's fetch into the IndexWriter: a tagged
// Insert/Delete value and a drain-on-wake queue. Grounded on
// original_source/src/indexing/indexing_operation.py
// (IndexingOperationType.INSERT/DELETE).
package mutation

import (
	"sync"

	"github.com/darkden-lab/tracer/indexer/internal/index"
)

// Op is the tag of a Mutation.
type Op int

const (
	Insert Op = iota
	Delete
)

// Mutation is {Insert(ProcessedDocument) | Delete(id)}. Update is
// modeled as Delete + Insert, matching spec.md §3.
type Mutation struct {
	Op       Op
	Doc      index.ProcessedDocument // valid when Op == Insert
	DeleteID int64                   // valid when Op == Delete
}

// ID returns the document id a mutation pertains to, regardless of
// its tag — the key the coalescer groups on.
func (m Mutation) ID() int64 {
	if m.Op == Insert {
		return m.Doc.ID
	}
	return m.DeleteID
}

// Queue is an instance's pending mutation stream. Providers enqueue
// from their fetch goroutine; IndexWriter drains atomically on its
// wake cycle.
type Queue struct {
	mu      sync.Mutex
	pending []Mutation
}

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) EnqueueInsert(doc index.ProcessedDocument) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, Mutation{Op: Insert, Doc: doc})
}

func (q *Queue) EnqueueDelete(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, Mutation{Op: Delete, DeleteID: id})
}

// Drain atomically empties the queue and returns what was pending.
func (q *Queue) Drain() []Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
