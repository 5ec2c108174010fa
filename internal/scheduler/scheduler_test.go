package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/darkden-lab/tracer/indexer/internal/events"
	"github.com/darkden-lab/tracer/indexer/internal/instance"
	"github.com/darkden-lab/tracer/indexer/internal/mutation"
)

type countingProvider struct {
	runs  int32
	delay time.Duration
}

func (p *countingProvider) Run(ctx context.Context) error {
	atomic.AddInt32(&p.runs, 1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return nil
}
func (p *countingProvider) Kill() {}

func (p *countingProvider) count() int { return int(atomic.LoadInt32(&p.runs)) }

func TestDispatchesReadyInstanceImmediately(t *testing.T) {
	reg := instance.New(events.NewInstanceBus())
	prov := &countingProvider{}
	reg.Add(&instance.ProviderInstance{ID: 1, Provider: prov, Queue: mutation.NewQueue()})

	s := New(reg, 50*time.Millisecond, 2)
	s.Seed()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(150 * time.Millisecond)
	for prov.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected at least one dispatch within 150ms")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDoesNotRedispatchWithinFetchingGap(t *testing.T) {
	reg := instance.New(events.NewInstanceBus())
	prov := &countingProvider{}
	reg.Add(&instance.ProviderInstance{ID: 1, Provider: prov, Queue: mutation.NewQueue()})

	gap := 300 * time.Millisecond
	s := New(reg, gap, 2)
	s.Seed()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if got := prov.count(); got != 1 {
		t.Fatalf("expected exactly 1 run within the gap window, got %d", got)
	}
}

func TestRemovedInstanceIsNotRedispatched(t *testing.T) {
	reg := instance.New(events.NewInstanceBus())
	prov := &countingProvider{delay: 30 * time.Millisecond}
	reg.Add(&instance.ProviderInstance{ID: 1, Provider: prov, Queue: mutation.NewQueue()})

	s := New(reg, 10*time.Millisecond, 2)
	s.Seed()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(15 * time.Millisecond) // let the first dispatch start
	reg.Remove(1)                     // publishes InstanceRemoved, which s.onInstanceEvent observes

	time.Sleep(100 * time.Millisecond)
	s.mu.Lock()
	qlen := s.queue.Len()
	s.mu.Unlock()
	if qlen != 0 {
		t.Fatalf("expected removed instance to never re-enter queue, queue len = %d", qlen)
	}
}

func TestAddEnqueuesNewInstanceImmediately(t *testing.T) {
	reg := instance.New(events.NewInstanceBus())
	s := New(reg, time.Second, 2)

	prov := &countingProvider{}
	reg.Add(&instance.ProviderInstance{ID: 5, Provider: prov, Queue: mutation.NewQueue()})

	s.mu.Lock()
	qlen := s.queue.Len()
	s.mu.Unlock()
	if qlen != 1 {
		t.Fatalf("expected instance auto-enqueued via Add event, queue len = %d", qlen)
	}
}
