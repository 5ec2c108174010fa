// Package writer implements the IndexWriter: coalescing an instance's
// pending mutation stream and applying it to the right shards.
// Grounded on original_source/retriever/src/indexing/indexing_queue.py
// for the coalesce rewrite rules, and on the teacher's
// internal/ai/rag/indexer.go for the tick-driven worker-loop shape.
package writer

import (
	"github.com/darkden-lab/tracer/indexer/internal/index"
	"github.com/darkden-lab/tracer/indexer/internal/mutation"
)

type coalesceState int

const (
	stateNone coalesceState = iota
	stateInsert
	stateDelete
	stateDeleteInsert
)

type coalesced struct {
	state coalesceState
	doc   index.ProcessedDocument
}

// Coalesce applies the per-document-id rewrite rules of spec.md §4.H
// step 1 to a raw mutation stream, then partitions the surviving
// operations into an ordered insert list and a delete-id set (step 2).
// Ordering of inserts follows first-occurrence order of each id in the
// input stream.
func Coalesce(muts []mutation.Mutation) (inserts []index.ProcessedDocument, deletes map[int64]struct{}) {
	order := make([]int64, 0, len(muts))
	states := make(map[int64]*coalesced)

	for _, m := range muts {
		id := m.ID()
		cur, seen := states[id]
		if !seen {
			order = append(order, id)
			cur = &coalesced{}
			states[id] = cur
		}

		switch m.Op {
		case mutation.Insert:
			switch cur.state {
			case stateNone, stateInsert:
				cur.state = stateInsert
				cur.doc = m.Doc
			case stateDelete, stateDeleteInsert:
				cur.state = stateDeleteInsert
				cur.doc = m.Doc
			}
		case mutation.Delete:
			switch cur.state {
			case stateNone, stateDelete:
				cur.state = stateDelete
			case stateInsert:
				cur.state = stateNone
			case stateDeleteInsert:
				cur.state = stateDelete
			}
		}
	}

	deletes = make(map[int64]struct{})
	for _, id := range order {
		cur := states[id]
		switch cur.state {
		case stateInsert:
			inserts = append(inserts, cur.doc)
		case stateDelete:
			deletes[id] = struct{}{}
		case stateDeleteInsert:
			deletes[id] = struct{}{}
			inserts = append(inserts, cur.doc)
		case stateNone:
			// cancelled out, nothing to do
		}
	}
	return inserts, deletes
}
