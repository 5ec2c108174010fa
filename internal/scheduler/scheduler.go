// Package scheduler implements the FetchScheduler: a time-sorted
// queue of provider instances dispatched to a bounded worker pool at
// a configured cadence. Has no direct analogue in original_source or
// the teacher repo (which only ever polls on a fixed ticker, see
// internal/ai/rag/indexer.go); the condition-variable priority-queue
// loop below is original, built to the four-step wait/peek/pop/submit
// algorithm the indexing core requires.
package scheduler

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"

	"github.com/darkden-lab/tracer/indexer/internal/events"
	"github.com/darkden-lab/tracer/indexer/internal/instance"
)

// entry is one (last_fetched, instance_id) pair in the readiness queue.
type entry struct {
	lastFetched time.Time
	instanceID  int64
}

type entryHeap []entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].lastFetched.Before(h[j].lastFetched) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler is the FetchScheduler.
type Scheduler struct {
	mu          sync.Mutex
	cond        *sync.Cond
	queue       entryHeap
	inFlight    int
	poolSize    int
	fetchingGap time.Duration
	instances   *instance.Registry
	removed     map[int64]bool
	stopped     bool

	nowFunc func() time.Time
}

// New constructs a Scheduler backed by instances. fetchingGap is
// FETCHING_TIME, poolSize is FETCHING_THREADS. It subscribes to
// instances' bus so Add/Remove are reflected automatically.
func New(instances *instance.Registry, fetchingGap time.Duration, poolSize int) *Scheduler {
	s := &Scheduler{
		poolSize:    poolSize,
		fetchingGap: fetchingGap,
		instances:   instances,
		removed:     make(map[int64]bool),
		nowFunc:     time.Now,
	}
	s.cond = sync.NewCond(&s.mu)
	instances.Bus().Subscribe(s.onInstanceEvent)
	return s
}

func (s *Scheduler) onInstanceEvent(e events.InstanceEvent) {
	switch e.Kind {
	case events.InstanceAdded:
		s.Add(e.InstanceID)
	case events.InstanceRemoved:
		s.Remove(e.InstanceID)
	}
}

// Seed primes the queue with every currently registered instance,
// treating each as immediately ready (used on startup, after
// InstanceRegistry.LoadFromStore has already populated it, to avoid a
// race with the Add subscription above double-enqueuing).
func (s *Scheduler) Seed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances.All() {
		heap.Push(&s.queue, entry{lastFetched: time.Time{}, instanceID: inst.ID})
	}
	s.cond.Broadcast()
}

// Add enqueues a newly-registered instance as immediately ready.
func (s *Scheduler) Add(instanceID int64) {
	s.mu.Lock()
	delete(s.removed, instanceID)
	heap.Push(&s.queue, entry{lastFetched: time.Time{}, instanceID: instanceID})
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Remove marks instanceID so it never re-enters the queue, and wakes
// the loop so a long sleep on its behalf is abandoned.
func (s *Scheduler) Remove(instanceID int64) {
	s.mu.Lock()
	s.removed[instanceID] = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Stop unblocks the run loop permanently.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Run executes the four-step dispatch loop until Stop is called or ctx
// is cancelled. Intended to run on its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	for {
		s.mu.Lock()
		for !s.stopped && (s.queue.Len() == 0 || s.inFlight >= s.poolSize) {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}

		head := s.queue[0]
		wait := s.fetchingGap - s.nowFunc().Sub(head.lastFetched)
		if wait > 0 {
			s.waitOrTimeout(wait)
			s.mu.Unlock()
			continue
		}

		heap.Pop(&s.queue)
		if s.removed[head.instanceID] {
			s.mu.Unlock()
			continue
		}
		s.inFlight++
		s.mu.Unlock()

		s.dispatch(ctx, head.instanceID)
	}
}

// waitOrTimeout blocks the caller, which must hold s.mu, until either
// the condition is signalled or d elapses, then returns with s.mu
// re-held. This is step 3 of the scheduler algorithm: a deletion or a
// newly-added instance preempts the sleep instead of waiting it out.
func (s *Scheduler) waitOrTimeout(d time.Duration) {
	woken := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	go func() {
		<-woken
		timer.Stop()
	}()
	s.cond.Wait()
	close(woken)
}

func (s *Scheduler) dispatch(ctx context.Context, instanceID int64) {
	go func() {
		inst, ok := s.instances.Get(instanceID)
		if ok {
			if err := inst.Provider.Run(ctx); err != nil {
				log.Printf("scheduler: instance %d run failed: %v", instanceID, err)
			}
		}

		s.mu.Lock()
		s.inFlight--
		if !s.removed[instanceID] && s.instances.Contains(instanceID) {
			heap.Push(&s.queue, entry{lastFetched: s.nowFunc(), instanceID: instanceID})
		}
		s.mu.Unlock()
		s.cond.Broadcast()
	}()
}
