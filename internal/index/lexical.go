package index

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/darkden-lab/tracer/indexer/internal/ctxtoken"
)

// LexicalShard stores per-document term frequencies and document
// frequencies for a BM25-family scorer. Grounded on
// original_source/src/indexing/index/store/bm25_index.py, including
// its default parameters (k=1.5, b=0.7, delta=0) and incremental
// average-document-length bookkeeping.
type LexicalShard struct {
	mu sync.Mutex

	path string

	loaded bool
	tokens map[ctxtoken.Token]struct{}

	termFreqs map[int64]map[string]int // doc id -> term -> frequency
	docFreq   map[string]int           // term -> number of docs containing it
	docLens   map[int64]int            // doc id -> token count
	totalLen  int
	byteLen   map[int64]int // doc id -> raw byte length, for size accounting

	k, b, delta float64
}

const (
	defaultBM25K     = 1.5
	defaultBM25B     = 0.7
	defaultBM25Delta = 0.0
)

// NewLexicalShard constructs an empty, unloaded lexical shard with the
// BM25-family defaults.
func NewLexicalShard(path string) *LexicalShard {
	return &LexicalShard{
		path:      path,
		tokens:    make(map[ctxtoken.Token]struct{}),
		termFreqs: make(map[int64]map[string]int),
		docFreq:   make(map[string]int),
		docLens:   make(map[int64]int),
		byteLen:   make(map[int64]int),
		k:         defaultBM25K,
		b:         defaultBM25B,
		delta:     defaultBM25Delta,
	}
}

func (l *LexicalShard) Kind() Kind   { return KindLexical }
func (l *LexicalShard) Path() string { return l.path }

type lexicalFileFormat struct {
	TermFreqs map[int64]map[string]int
	DocFreq   map[string]int
	DocLens   map[int64]int
	TotalLen  int
	ByteLen   map[int64]int
}

func (l *LexicalShard) Load(ctx context.Context, tok ctxtoken.Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens[tok] = struct{}{}
	if l.loaded {
		return nil
	}

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.loaded = true
			return nil
		}
		return transientIO(err)
	}
	defer f.Close()

	var ff lexicalFileFormat
	if err := gob.NewDecoder(f).Decode(&ff); err != nil {
		return permanentIO(fmt.Errorf("decode lexical shard %s: %w", l.path, err))
	}

	l.termFreqs = ff.TermFreqs
	l.docFreq = ff.DocFreq
	l.docLens = ff.DocLens
	l.totalLen = ff.TotalLen
	l.byteLen = ff.ByteLen
	l.loaded = true
	return nil
}

func (l *LexicalShard) Release(tok ctxtoken.Token) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.tokens, tok)
	if len(l.tokens) == 0 {
		l.loaded = false
		l.termFreqs = make(map[int64]map[string]int)
		l.docFreq = make(map[string]int)
		l.docLens = make(map[int64]int)
		l.byteLen = make(map[int64]int)
		l.totalLen = 0
	}
}

func (l *LexicalShard) avgDocLen() float64 {
	if len(l.docLens) == 0 {
		return 0
	}
	return float64(l.totalLen) / float64(len(l.docLens))
}

func (l *LexicalShard) idf(term string) float64 {
	n := float64(len(l.docLens))
	df := float64(l.docFreq[term])
	return math.Log((n + 1) / (df + 0.5))
}

func (l *LexicalShard) tf(term string, docID int64) float64 {
	freq := float64(l.termFreqs[docID][term])
	if freq == 0 {
		return 0
	}
	avgLen := l.avgDocLen()
	if avgLen == 0 {
		avgLen = 1
	}
	docLen := float64(l.docLens[docID])
	denom := l.k * (1 - l.b + l.b*(docLen/avgLen))
	return ((l.k+1)*freq)/denom + l.delta
}

func (l *LexicalShard) Search(ctx context.Context, queryText string, k int) ([]SearchResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		return nil, ErrNotLoaded
	}

	terms := strings.Fields(queryText)
	scores := make(map[int64]float64)
	for _, term := range terms {
		idf := l.idf(term)
		for docID := range l.termFreqs {
			tf := l.tf(term, docID)
			if tf == 0 {
				continue
			}
			scores[docID] += idf * tf
		}
	}

	results := make([]SearchResult, 0, len(scores))
	for id, score := range scores {
		results = append(results, SearchResult{ID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (l *LexicalShard) HasID(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.termFreqs[id]
	return ok
}

func (l *LexicalShard) IDIntersection(ids map[int64]struct{}) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var hits []int64
	for id := range l.termFreqs {
		if _, ok := ids[id]; ok {
			hits = append(hits, id)
		}
	}
	return hits
}

// Insert tokenizes each document by whitespace and incrementally
// updates term frequencies, document frequency, and the running
// average document length.
func (l *LexicalShard) Insert(ctx context.Context, docs []ProcessedDocument) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, d := range docs {
		terms := strings.Fields(d.Text)
		freqs := make(map[string]int, len(terms))
		for _, t := range terms {
			freqs[t]++
		}
		for t := range freqs {
			l.docFreq[t]++
		}
		l.termFreqs[d.ID] = freqs
		l.docLens[d.ID] = len(terms)
		l.byteLen[d.ID] = len(d.Text)
		l.totalLen += len(terms)
	}
	return nil
}

func (l *LexicalShard) Remove(ids []int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		freqs, ok := l.termFreqs[id]
		if !ok {
			continue
		}
		for t := range freqs {
			l.docFreq[t]--
			if l.docFreq[t] <= 0 {
				delete(l.docFreq, t)
			}
		}
		l.totalLen -= l.docLens[id]
		delete(l.termFreqs, id)
		delete(l.docLens, id)
		delete(l.byteLen, id)
	}
	return nil
}

func (l *LexicalShard) Save(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	target := path
	if target == "" {
		target = l.path
	}

	f, err := os.Create(target)
	if err != nil {
		return transientIO(err)
	}
	defer f.Close()

	ff := lexicalFileFormat{
		TermFreqs: l.termFreqs,
		DocFreq:   l.docFreq,
		DocLens:   l.docLens,
		TotalLen:  l.totalLen,
		ByteLen:   l.byteLen,
	}
	if err := gob.NewEncoder(f).Encode(ff); err != nil {
		return permanentIO(err)
	}

	ids := make([]int64, 0, len(l.termFreqs))
	for id := range l.termFreqs {
		ids = append(ids, id)
	}
	sc := sidecar{Size: l.sizeLocked(), IDs: ids}
	scBytes, err := json.Marshal(sc)
	if err != nil {
		return permanentIO(err)
	}
	if err := os.WriteFile(target+".metadata", scBytes, 0o644); err != nil {
		return transientIO(err)
	}
	return nil
}

// Size estimates resident size in MiB from the raw byte length of
// indexed documents. The spec gives an exact formula only for vector
// shards; for lexical shards this implementation uses the sum of
// indexed document byte lengths as the size proxy (documented in
// DESIGN.md).
func (l *LexicalShard) Size() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sizeLocked()
}

func (l *LexicalShard) sizeLocked() float64 {
	total := 0
	for _, n := range l.byteLen {
		total += n
	}
	return float64(total) / (1024 * 1024)
}

// MaxDocSize returns the running average document byte length, the
// lexical analogue of the vector shard's fixed 4*D-byte footprint.
func (l *LexicalShard) MaxDocSize() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.byteLen) == 0 {
		return 1.0 / (1024 * 1024)
	}
	total := 0
	for _, n := range l.byteLen {
		total += n
	}
	return float64(total) / float64(len(l.byteLen)) / (1024 * 1024)
}

func (l *LexicalShard) Capacity(maxIndexSize float64) int {
	size := l.Size()
	maxDoc := l.MaxDocSize()
	if maxDoc <= 0 {
		return 0
	}
	c := int(math.Floor((maxIndexSize - size) / maxDoc))
	if c < 0 {
		return 0
	}
	return c
}

// Cluster is not supported for lexical shards (spec.md §4.C).
func (l *LexicalShard) Cluster(n int) error {
	return ErrUnsupported
}

func (l *LexicalShard) IDs() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]int64, 0, len(l.termFreqs))
	for id := range l.termFreqs {
		ids = append(ids, id)
	}
	return ids
}
