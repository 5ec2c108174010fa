// Package eventbus publishes indexing-core lifecycle events to an
// external broker — instance and shard lifecycle transitions that
// outside consumers (an admin UI, a metrics sink) care about, as
// distinct from internal/events' synchronous in-process observer
// fabric that the registries use to drive each other. The pluggable
// MessageBroker/InMemoryBroker/KafkaBroker split is grounded on the
// teacher's internal/notifications package, but the payload shape,
// the closed topic set, and the delivery guarantees below are this
// domain's own: lifecycle events only ever describe an instance or a
// shard, never an arbitrary free-form notification.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Topic constants for lifecycle events the core publishes externally.
// Unlike the teacher's open-ended topic namespace, this set is closed:
// every broker implementation rejects any other string via validTopic
// below.
const (
	TopicInstanceAdded   = "instance.added"
	TopicInstanceRemoved = "instance.removed"
	TopicShardCreated    = "shard.created"
	TopicShardFull       = "shard.full"
	TopicShardClustered  = "shard.clustered"
)

var topics = map[string]bool{
	TopicInstanceAdded:   true,
	TopicInstanceRemoved: true,
	TopicShardCreated:    true,
	TopicShardFull:       true,
	TopicShardClustered:  true,
}

func validTopic(topic string) bool { return topics[topic] }

// Event is one externally-visible lifecycle notification. Every
// lifecycle event names the instance it concerns, and shard events
// additionally carry the shard's kind and position within that
// instance's ordered shard list, so a consumer never has to go back
// to the core to resolve which shard an event is about.
type Event struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	InstanceID int64     `json:"instance_id"`
	IndexKind  string    `json:"index_kind,omitempty"`
	Position   int       `json:"position,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewEvent builds an Event with a generated id and the current UTC
// timestamp. indexKind and position are the zero value for
// instance-level topics.
func NewEvent(topic string, instanceID int64, indexKind string, position int) Event {
	return Event{
		ID:         uuid.New().String(),
		Topic:      topic,
		InstanceID: instanceID,
		IndexKind:  indexKind,
		Position:   position,
		Timestamp:  time.Now().UTC(),
	}
}

// EventHandler is invoked for each event delivered to a subscription.
type EventHandler func(event Event)

// MessageBroker is the pluggable transport lifecycle events are sent
// over. Publish must reject any topic outside the closed set above.
type MessageBroker interface {
	Publish(topic string, event Event) error
	Subscribe(topic string, handler EventHandler) (string, error)
	Close() error
}
