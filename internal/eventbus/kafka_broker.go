package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds configuration for the Kafka-backed broker.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

// publishRetries/publishBackoff bound how hard Publish retries a
// transient write failure before giving up. Lifecycle events are not
// worth blocking the writer/clustering loops over indefinitely, but a
// single broker hiccup (a leader election, a momentary network blip)
// should not silently drop an event either.
const (
	publishRetries = 3
	publishBackoff = 50 * time.Millisecond
)

// KafkaBroker implements MessageBroker over Apache Kafka via
// segmentio/kafka-go. Grounded on the teacher's
// internal/notifications.KafkaBroker for the writer-per-broker,
// reader-per-subscription shape; the partitioning key and retry
// behavior below are specific to this domain (see Publish).
type KafkaBroker struct {
	config  KafkaConfig
	writer  *kafka.Writer
	mu      sync.Mutex
	readers map[string]*kafkaSubscription
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

type kafkaSubscription struct {
	id      string
	reader  *kafka.Reader
	handler EventHandler
	cancel  context.CancelFunc
}

// NewKafkaBroker creates a new KafkaBroker. It starts a shared
// producer; each Subscribe call allocates its own consumer.
func NewKafkaBroker(config KafkaConfig) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("eventbus: at least one kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "indexer-lifecycle-events"
	}

	ctx, cancel := context.WithCancel(context.Background())

	writer := &kafka.Writer{
		Addr: kafka.TCP(config.Brokers...),
		// Hash on the message key (instance id) rather than
		// LeastBytes: consumers rebuilding per-instance state need to
		// see an instance's own events in publish order, which only
		// holds if they always land on the same partition.
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}

	return &KafkaBroker{
		config:  config,
		writer:  writer,
		readers: make(map[string]*kafkaSubscription),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Publish serializes event and writes it keyed by instance id, so
// Kafka's per-partition ordering guarantee keeps one instance's
// lifecycle transitions in order for any consumer. Transient write
// failures are retried a bounded number of times with a linearly
// growing backoff before Publish gives up and returns an error.
func (b *KafkaBroker) Publish(topic string, event Event) error {
	if !validTopic(topic) {
		return fmt.Errorf("eventbus: unknown topic %q", topic)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("eventbus: broker is closed")
	}
	b.mu.Unlock()

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(strconv.FormatInt(event.InstanceID, 10)),
		Value: value,
	}

	var lastErr error
	for attempt := 0; attempt < publishRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(publishBackoff * time.Duration(attempt))
		}
		if lastErr = b.writer.WriteMessages(b.ctx, msg); lastErr == nil {
			return nil
		}
		log.Printf("eventbus: write to kafka failed (attempt %d/%d): %v", attempt+1, publishRetries, lastErr)
	}
	return fmt.Errorf("eventbus: write to kafka: %w", lastErr)
}

func (b *KafkaBroker) Subscribe(topic string, handler EventHandler) (string, error) {
	if !validTopic(topic) {
		return "", fmt.Errorf("eventbus: unknown topic %q", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("eventbus: broker is closed")
	}

	id := uuid.New().String()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.config.Brokers,
		Topic:    topic,
		GroupID:  b.config.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	subCtx, subCancel := context.WithCancel(b.ctx)
	sub := &kafkaSubscription{id: id, reader: reader, handler: handler, cancel: subCancel}
	b.readers[id] = sub

	go b.consumeLoop(subCtx, sub)
	return id, nil
}

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cancel()

	var firstErr error
	for _, sub := range b.readers {
		sub.cancel()
		if err := sub.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (b *KafkaBroker) consumeLoop(ctx context.Context, sub *kafkaSubscription) {
	for {
		msg, err := sub.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("eventbus: kafka consumer %s error: %v", sub.id, err)
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("eventbus: kafka consumer %s: unmarshal error: %v", sub.id, err)
			continue
		}
		sub.handler(event)
	}
}
