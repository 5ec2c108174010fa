package eventbus

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type subscription struct {
	id      string
	handler EventHandler
}

// InMemoryBroker is a single-process MessageBroker for deployments
// with no external broker. Unlike a generic pub-sub queue, every
// Publish call here happens inline on the IndexWriter or
// ClusteringWorker's hot path (through Bridge), so it must never
// block: a wedged or slow subscriber downstream must not stall
// indexing. Publish is therefore non-blocking and drops the event,
// counting it, if the queue is saturated rather than backing up the
// caller.
type InMemoryBroker struct {
	mu      sync.RWMutex
	subs    map[string][]subscription
	closed  bool
	eventCh chan topicEvent
	done    chan struct{}
	dropped int64
}

type topicEvent struct {
	topic string
	event Event
}

// queueCapacity is sized for this domain's event volume: shard
// lifecycle transitions happen on the order of once per writer cycle
// per instance, nowhere near the teacher's per-request notification
// rate, so a much smaller buffer than the teacher's 1024 is plenty of
// headroom while surfacing a wedged consumer sooner via Dropped.
const queueCapacity = 256

// NewInMemoryBroker creates and starts an InMemoryBroker. Close stops
// the dispatch goroutine.
func NewInMemoryBroker() *InMemoryBroker {
	b := &InMemoryBroker{
		subs:    make(map[string][]subscription),
		eventCh: make(chan topicEvent, queueCapacity),
		done:    make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *InMemoryBroker) Publish(topic string, event Event) error {
	if !validTopic(topic) {
		return fmt.Errorf("eventbus: unknown topic %q", topic)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("eventbus: broker is closed")
	}

	select {
	case b.eventCh <- topicEvent{topic: topic, event: event}:
	default:
		atomic.AddInt64(&b.dropped, 1)
		log.Printf("eventbus: queue saturated, dropped %s event %s", topic, event.ID)
	}
	return nil
}

// Dropped reports how many events have been discarded because the
// dispatch queue was saturated.
func (b *InMemoryBroker) Dropped() int64 {
	return atomic.LoadInt64(&b.dropped)
}

func (b *InMemoryBroker) Subscribe(topic string, handler EventHandler) (string, error) {
	if !validTopic(topic) {
		return "", fmt.Errorf("eventbus: unknown topic %q", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("eventbus: broker is closed")
	}
	id := uuid.New().String()
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})
	return id, nil
}

func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.eventCh)
	b.mu.Unlock()
	// dispatch takes the read lock for every queued event, so it must
	// be able to drain while Close waits for it.
	<-b.done
	return nil
}

func (b *InMemoryBroker) dispatch() {
	defer close(b.done)
	for te := range b.eventCh {
		b.mu.RLock()
		subs := b.subs[te.topic]
		handlers := make([]EventHandler, len(subs))
		for i, s := range subs {
			handlers[i] = s.handler
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			invokeHandler(h, te.event)
		}
	}
}

// invokeHandler runs a subscriber's handler with a panic guard: one
// misbehaving external consumer (the admin UI, a metrics sink) must
// not take down the dispatch goroutine every other subscriber relies on.
func invokeHandler(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("eventbus: handler panicked on %s event %s: %v", event.Topic, event.ID, r)
		}
	}()
	h(event)
}
