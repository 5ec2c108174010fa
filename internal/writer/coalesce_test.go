package writer

import (
	"testing"

	"github.com/darkden-lab/tracer/indexer/internal/index"
	"github.com/darkden-lab/tracer/indexer/internal/mutation"
)

func TestCoalesceInsertAfterDeleteStaysDeleteInsert(t *testing.T) {
	muts := []mutation.Mutation{
		{Op: mutation.Delete, DeleteID: 1},
		{Op: mutation.Insert, Doc: index.ProcessedDocument{ID: 1, Text: "v2"}},
	}
	inserts, deletes := Coalesce(muts)
	if len(inserts) != 1 || inserts[0].Text != "v2" {
		t.Fatalf("expected insert to survive, got %+v", inserts)
	}
	if _, ok := deletes[1]; !ok {
		t.Fatalf("expected delete to survive alongside insert, got %+v", deletes)
	}
}

func TestCoalesceDeleteAfterSolitaryInsertCancels(t *testing.T) {
	muts := []mutation.Mutation{
		{Op: mutation.Insert, Doc: index.ProcessedDocument{ID: 1, Text: "v1"}},
		{Op: mutation.Delete, DeleteID: 1},
	}
	inserts, deletes := Coalesce(muts)
	if len(inserts) != 0 {
		t.Fatalf("expected no inserts, got %+v", inserts)
	}
	if len(deletes) != 0 {
		t.Fatalf("expected no deletes, got %+v", deletes)
	}
}

func TestCoalesceDeleteAfterDeleteInsertCollapsesToDelete(t *testing.T) {
	muts := []mutation.Mutation{
		{Op: mutation.Delete, DeleteID: 1},
		{Op: mutation.Insert, Doc: index.ProcessedDocument{ID: 1, Text: "v2"}},
		{Op: mutation.Delete, DeleteID: 1},
	}
	inserts, deletes := Coalesce(muts)
	if len(inserts) != 0 {
		t.Fatalf("expected no inserts, got %+v", inserts)
	}
	if _, ok := deletes[1]; !ok {
		t.Fatalf("expected delete to survive, got %+v", deletes)
	}
}

func TestCoalesceOtherSequencesKeepLatest(t *testing.T) {
	muts := []mutation.Mutation{
		{Op: mutation.Insert, Doc: index.ProcessedDocument{ID: 1, Text: "v1"}},
		{Op: mutation.Insert, Doc: index.ProcessedDocument{ID: 1, Text: "v2"}},
	}
	inserts, _ := Coalesce(muts)
	if len(inserts) != 1 || inserts[0].Text != "v2" {
		t.Fatalf("expected only the latest insert to survive, got %+v", inserts)
	}
}

func TestCoalescePreservesFirstOccurrenceOrderAcrossIDs(t *testing.T) {
	muts := []mutation.Mutation{
		{Op: mutation.Insert, Doc: index.ProcessedDocument{ID: 2, Text: "b"}},
		{Op: mutation.Insert, Doc: index.ProcessedDocument{ID: 1, Text: "a"}},
	}
	inserts, _ := Coalesce(muts)
	if len(inserts) != 2 || inserts[0].ID != 2 || inserts[1].ID != 1 {
		t.Fatalf("expected order [2,1], got %+v", inserts)
	}
}
