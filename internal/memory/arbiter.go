// Package memory implements the MemoryArbiter: the single authority
// for how much space indexing work may occupy, split across three
// paired budgets (general, indexing, clustering).
package memory

import (
	"errors"
	"sync"
)

// ErrInsufficientMemory is returned by any reserve call that would
// drive a counter negative.
var ErrInsufficientMemory = errors.New("memory: insufficient memory available")

// Arbiter tracks three independent (max, available) budgets, all in
// MiB. Every specialized reservation also draws down the general
// counter, matching the Python MemoryManager this is grounded on: a
// single lock serializes every mutation.
type Arbiter struct {
	mu sync.Mutex

	maxGeneral   float64
	availGeneral float64

	maxIndexing   float64
	availIndexing float64

	maxClustering   float64
	availClustering float64

	threshold float64
}

// New constructs an Arbiter from the startup budgets. Callers must
// have already validated maxGeneral - maxIndexSize - maxIndexing -
// maxClustering > 0 (config.Config.Validate does this).
func New(maxGeneral, maxIndexing, maxClustering, threshold float64) *Arbiter {
	return &Arbiter{
		maxGeneral:      maxGeneral,
		availGeneral:    maxGeneral,
		maxIndexing:     maxIndexing,
		availIndexing:   maxIndexing,
		maxClustering:   maxClustering,
		availClustering: maxClustering,
		threshold:       threshold,
	}
}

// ReserveGeneral draws down the general budget only.
func (a *Arbiter) ReserveGeneral(n float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.availGeneral-n < 0 {
		return ErrInsufficientMemory
	}
	a.availGeneral -= n
	return nil
}

// ReleaseGeneral returns n MiB to the general budget.
func (a *Arbiter) ReleaseGeneral(n float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.availGeneral += n
}

// ReserveIndexing draws down both the indexing budget and the general
// budget; it fails and leaves both untouched if either would go
// negative.
func (a *Arbiter) ReserveIndexing(n float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.availIndexing-n < 0 || a.availGeneral-n < 0 {
		return ErrInsufficientMemory
	}
	a.availIndexing -= n
	a.availGeneral -= n
	return nil
}

// ReleaseIndexing returns n MiB to both the indexing and general budgets.
func (a *Arbiter) ReleaseIndexing(n float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.availIndexing += n
	a.availGeneral += n
}

// ReserveClustering draws down both the clustering budget and the
// general budget.
func (a *Arbiter) ReserveClustering(n float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.availClustering-n < 0 || a.availGeneral-n < 0 {
		return ErrInsufficientMemory
	}
	a.availClustering -= n
	a.availGeneral -= n
	return nil
}

// ReleaseClustering returns n MiB to both the clustering and general budgets.
func (a *Arbiter) ReleaseClustering(n float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.availClustering += n
	a.availGeneral += n
}

// IsIndexFull reports whether a shard of the given size has crossed
// the clustering threshold: round(size * threshold) >= maxIndexSize.
// maxIndexSize is passed in by the caller (it lives with the shard's
// configured cap, not with the arbiter's own budgets).
func (a *Arbiter) IsIndexFull(size, maxIndexSize float64) bool {
	return roundHalfAwayFromZero(size*a.threshold) >= maxIndexSize
}

// Snapshot reports the current state of all six counters, for the
// health/status surface.
type Snapshot struct {
	MaxGeneral, AvailGeneral       float64
	MaxIndexing, AvailIndexing     float64
	MaxClustering, AvailClustering float64
}

func (a *Arbiter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		MaxGeneral:      a.maxGeneral,
		AvailGeneral:    a.availGeneral,
		MaxIndexing:     a.maxIndexing,
		AvailIndexing:   a.availIndexing,
		MaxClustering:   a.maxClustering,
		AvailClustering: a.availClustering,
	}
}

func roundHalfAwayFromZero(f float64) float64 {
	if f < 0 {
		return -roundHalfAwayFromZero(-f)
	}
	i := float64(int64(f))
	if f-i >= 0.5 {
		return i + 1
	}
	return i
}
