package mutation

import (
	"testing"

	"github.com/darkden-lab/tracer/indexer/internal/index"
)

func TestDrainEmptiesQueueAtomically(t *testing.T) {
	q := NewQueue()
	q.EnqueueInsert(index.ProcessedDocument{ID: 1, Text: "a"})
	q.EnqueueDelete(2)

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 mutations, got %d", len(drained))
	}
	if q.Len() != 0 {
		t.Errorf("expected queue empty after drain, got %d", q.Len())
	}
}

func TestDrainOfEmptyQueueReturnsNil(t *testing.T) {
	q := NewQueue()
	if drained := q.Drain(); drained != nil {
		t.Errorf("expected nil, got %v", drained)
	}
}

func TestMutationIDReflectsTag(t *testing.T) {
	ins := Mutation{Op: Insert, Doc: index.ProcessedDocument{ID: 7}}
	del := Mutation{Op: Delete, DeleteID: 9}
	if ins.ID() != 7 {
		t.Errorf("expected insert id 7, got %d", ins.ID())
	}
	if del.ID() != 9 {
		t.Errorf("expected delete id 9, got %d", del.ID())
	}
}
