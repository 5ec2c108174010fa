package index

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"sync"

	"github.com/darkden-lab/tracer/indexer/internal/ctxtoken"
)

// vectorCluster is one IVF-style cell: a centroid and the ids/vectors
// assigned to it.
type vectorCluster struct {
	Centroid []float32
	IDs      []int64
	Vectors  [][]float32
}

// VectorShard stores L2-normalized unit vectors of fixed dimension,
// queried by inner product (== cosine similarity on unit vectors).
// Grounded on faiss_index.py: flat IndexFlatIP before clustering,
// IndexIVFFlat with METRIC_INNER_PRODUCT after.
type VectorShard struct {
	mu sync.Mutex

	path     string
	dims     int
	embedder Embedder

	loaded  bool
	tokens  map[ctxtoken.Token]struct{}
	ids     []int64
	vectors [][]float32 // present when not clustered

	clustered bool
	clusters  []vectorCluster
}

// NewVectorShard constructs an empty, unloaded vector shard.
func NewVectorShard(path string, dims int, embedder Embedder) *VectorShard {
	return &VectorShard{
		path:     path,
		dims:     dims,
		embedder: embedder,
		tokens:   make(map[ctxtoken.Token]struct{}),
	}
}

func (v *VectorShard) Kind() Kind   { return KindVector }
func (v *VectorShard) Path() string { return v.path }

type vectorFileFormat struct {
	Dims      int
	Clustered bool
	IDs       []int64
	Vectors   [][]float32
	Clusters  []vectorCluster
}

type sidecar struct {
	Size float64 `json:"size"`
	IDs  []int64 `json:"ids"`
}

func (v *VectorShard) Load(ctx context.Context, tok ctxtoken.Token) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.tokens[tok] = struct{}{}
	if v.loaded {
		return nil
	}

	f, err := os.Open(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Brand-new shard: empty resident state is valid.
			v.loaded = true
			return nil
		}
		return transientIO(err)
	}
	defer f.Close()

	var ff vectorFileFormat
	if err := gob.NewDecoder(f).Decode(&ff); err != nil {
		return permanentIO(fmt.Errorf("decode vector shard %s: %w", v.path, err))
	}

	v.dims = ff.Dims
	v.clustered = ff.Clustered
	v.ids = ff.IDs
	v.vectors = ff.Vectors
	v.clusters = ff.Clusters
	v.loaded = true
	return nil
}

func (v *VectorShard) Release(tok ctxtoken.Token) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.tokens, tok)
	if len(v.tokens) == 0 {
		v.loaded = false
		v.vectors = nil
		v.clusters = nil
		v.ids = nil
	}
}

func (v *VectorShard) allIDs() []int64 {
	if v.clustered {
		var out []int64
		for _, c := range v.clusters {
			out = append(out, c.IDs...)
		}
		return out
	}
	return v.ids
}

func (v *VectorShard) allVectors() ([]int64, [][]float32) {
	if v.clustered {
		var ids []int64
		var vecs [][]float32
		for _, c := range v.clusters {
			ids = append(ids, c.IDs...)
			vecs = append(vecs, c.Vectors...)
		}
		return ids, vecs
	}
	return v.ids, v.vectors
}

func (v *VectorShard) Search(ctx context.Context, queryText string, k int) ([]SearchResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.loaded {
		return nil, ErrNotLoaded
	}

	embs, err := v.embedder.EmbedTexts(ctx, []string{queryText})
	if err != nil {
		return nil, transientIO(err)
	}
	if len(embs) == 0 {
		return nil, fmt.Errorf("index: embedder returned no vectors")
	}
	query := l2Normalize(embs[0])

	var candidateIDs []int64
	var candidateVecs [][]float32

	if v.clustered && len(v.clusters) > 0 {
		best := 0
		bestScore := dot(query, v.clusters[0].Centroid)
		for i := 1; i < len(v.clusters); i++ {
			s := dot(query, v.clusters[i].Centroid)
			if s > bestScore {
				bestScore = s
				best = i
			}
		}
		candidateIDs = v.clusters[best].IDs
		candidateVecs = v.clusters[best].Vectors
	} else {
		candidateIDs, candidateVecs = v.allVectors()
	}

	results := make([]SearchResult, 0, len(candidateIDs))
	for i, id := range candidateIDs {
		s := dot(query, candidateVecs[i])
		results = append(results, SearchResult{ID: id, Score: (s + 1) / 2})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (v *VectorShard) HasID(id int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, existing := range v.allIDs() {
		if existing == id {
			return true
		}
	}
	return false
}

func (v *VectorShard) IDIntersection(ids map[int64]struct{}) []int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	var hits []int64
	for _, existing := range v.allIDs() {
		if _, ok := ids[existing]; ok {
			hits = append(hits, existing)
		}
	}
	return hits
}

// Insert embeds each document's text via the shard's Embedder,
// L2-normalizes the result, and appends it. Does not check for
// existing ids; callers must precede with Remove.
func (v *VectorShard) Insert(ctx context.Context, docs []ProcessedDocument) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	embs, err := v.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return transientIO(err)
	}
	if len(embs) != len(docs) {
		return fmt.Errorf("index: embedder returned %d vectors for %d documents", len(embs), len(docs))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.clustered {
		// Once clustered, new inserts join the nearest existing cell.
		for i, d := range docs {
			vec := l2Normalize(embs[i])
			best := 0
			bestScore := dot(vec, v.clusters[0].Centroid)
			for c := 1; c < len(v.clusters); c++ {
				s := dot(vec, v.clusters[c].Centroid)
				if s > bestScore {
					bestScore = s
					best = c
				}
			}
			v.clusters[best].IDs = append(v.clusters[best].IDs, d.ID)
			v.clusters[best].Vectors = append(v.clusters[best].Vectors, vec)
		}
		return nil
	}

	for i, d := range docs {
		v.ids = append(v.ids, d.ID)
		v.vectors = append(v.vectors, l2Normalize(embs[i]))
	}
	return nil
}

func (v *VectorShard) Remove(ids []int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	remove := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}

	if v.clustered {
		for ci := range v.clusters {
			newIDs := v.clusters[ci].IDs[:0]
			newVecs := v.clusters[ci].Vectors[:0]
			for j, id := range v.clusters[ci].IDs {
				if _, drop := remove[id]; drop {
					continue
				}
				newIDs = append(newIDs, id)
				newVecs = append(newVecs, v.clusters[ci].Vectors[j])
			}
			v.clusters[ci].IDs = newIDs
			v.clusters[ci].Vectors = newVecs
		}
		return nil
	}

	newIDs := v.ids[:0]
	newVecs := v.vectors[:0]
	for j, id := range v.ids {
		if _, drop := remove[id]; drop {
			continue
		}
		newIDs = append(newIDs, id)
		newVecs = append(newVecs, v.vectors[j])
	}
	v.ids = newIDs
	v.vectors = newVecs
	return nil
}

// Save persists both the primary gob artifact and a JSON sidecar
// carrying size and ids. If path is empty, the shard's own path is
// used — the Go equivalent of the original's `path or self._path`
// fallback (see DESIGN.md, Open Question 3).
func (v *VectorShard) Save(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	target := path
	if target == "" {
		target = v.path
	}

	f, err := os.Create(target)
	if err != nil {
		return transientIO(err)
	}
	defer f.Close()

	ff := vectorFileFormat{
		Dims:      v.dims,
		Clustered: v.clustered,
		IDs:       v.ids,
		Vectors:   v.vectors,
		Clusters:  v.clusters,
	}
	if err := gob.NewEncoder(f).Encode(ff); err != nil {
		return permanentIO(err)
	}

	sc := sidecar{Size: v.sizeLocked(), IDs: v.allIDs()}
	scBytes, err := json.Marshal(sc)
	if err != nil {
		return permanentIO(err)
	}
	if err := os.WriteFile(target+".metadata", scBytes, 0o644); err != nil {
		return transientIO(err)
	}
	return nil
}

// Size returns the shard's resident size in MiB: 4*dims*ntotal bytes
// for the flat vectors, plus IVF bookkeeping overhead once clustered.
func (v *VectorShard) Size() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sizeLocked()
}

func (v *VectorShard) sizeLocked() float64 {
	ntotal := len(v.allIDs())
	bytes := float64(4 * v.dims * ntotal)
	if v.clustered {
		bytes += float64(len(v.clusters)*v.dims*4 + ntotal*4*4)
	}
	return bytes / (1024 * 1024)
}

func (v *VectorShard) MaxDocSize() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return float64(4*v.dims) / (1024 * 1024)
}

func (v *VectorShard) Capacity(maxIndexSize float64) int {
	size := v.Size()
	maxDoc := v.MaxDocSize()
	if maxDoc <= 0 {
		return 0
	}
	c := int(math.Floor((maxIndexSize - size) / maxDoc))
	if c < 0 {
		return 0
	}
	return c
}

// Cluster rebuilds the shard into n IVF-style cells. Grounded on
// faiss_index.py's sample-size formula and re-insertion-by-original-id
// behavior. Once clustered, a shard is not re-clustered (spec.md §4.C).
func (v *VectorShard) Cluster(n int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.clustered {
		return nil
	}
	if !v.loaded {
		return ErrNotLoaded
	}
	ids, vecs := v.ids, v.vectors
	total := len(ids)
	if total == 0 || n <= 0 {
		return nil
	}
	if n > total {
		n = total
	}

	sampleSize := vectorSampleSize(total, v.dims)
	sampleIdx := sampleIndices(total, sampleSize)

	centroids := kMeans(vecs, sampleIdx, n)

	clusters := make([]vectorCluster, len(centroids))
	for i := range clusters {
		clusters[i].Centroid = centroids[i]
	}
	for i, id := range ids {
		best := 0
		bestScore := dot(vecs[i], centroids[0])
		for c := 1; c < len(centroids); c++ {
			s := dot(vecs[i], centroids[c])
			if s > bestScore {
				bestScore = s
				best = c
			}
		}
		clusters[best].IDs = append(clusters[best].IDs, id)
		clusters[best].Vectors = append(clusters[best].Vectors, vecs[i])
	}

	v.clusters = clusters
	v.clustered = true
	v.ids = nil
	v.vectors = nil
	return nil
}

func (v *VectorShard) IDs() []int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]int64(nil), v.allIDs()...)
}

// vectorSampleSize implements min(N, N/e^log10(N) * (1+log10(D))).
func vectorSampleSize(n, d int) int {
	if n <= 1 {
		return n
	}
	nf := float64(n)
	df := float64(d)
	s := nf / math.Pow(math.E, math.Log10(nf)) * (1 + math.Log10(df))
	size := int(math.Round(s))
	if size > n {
		size = n
	}
	if size < 1 {
		size = 1
	}
	return size
}

// sampleIndices returns size distinct indices into [0,n), via a
// uniform random permutation when size < n (original uses
// torch.randperm over the unique vectors).
func sampleIndices(n, size int) []int {
	if size >= n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	perm := rand.Perm(n)
	return perm[:size]
}

// kMeans runs a fixed number of Lloyd iterations on the sampled
// vectors to train n centroids, using inner product (vectors are unit
// normalized, so nearest-by-dot is equivalent to nearest-by-angle).
func kMeans(vecs [][]float32, sampleIdx []int, n int) [][]float32 {
	sample := make([][]float32, len(sampleIdx))
	for i, idx := range sampleIdx {
		sample[i] = vecs[idx]
	}
	if len(sample) < n {
		n = len(sample)
	}
	if n == 0 {
		return nil
	}

	perm := rand.Perm(len(sample))
	centroids := make([][]float32, n)
	for i := 0; i < n; i++ {
		centroids[i] = append([]float32(nil), sample[perm[i]]...)
	}

	dims := len(sample[0])
	const iterations = 10
	for iter := 0; iter < iterations; iter++ {
		sums := make([][]float64, n)
		counts := make([]int, n)
		for i := range sums {
			sums[i] = make([]float64, dims)
		}

		for _, vec := range sample {
			best := 0
			bestScore := dot(vec, centroids[0])
			for c := 1; c < n; c++ {
				s := dot(vec, centroids[c])
				if s > bestScore {
					bestScore = s
					best = c
				}
			}
			counts[best]++
			for d := 0; d < dims; d++ {
				sums[best][d] += float64(vec[d])
			}
		}

		for c := 0; c < n; c++ {
			if counts[c] == 0 {
				continue
			}
			newCentroid := make([]float32, dims)
			for d := 0; d < dims; d++ {
				newCentroid[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = l2Normalize(newCentroid)
		}
	}
	return centroids
}

func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return append([]float32(nil), v...)
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
