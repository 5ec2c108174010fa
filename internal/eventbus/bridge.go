package eventbus

import (
	"log"

	"github.com/darkden-lab/tracer/indexer/internal/events"
)

// Bridge republishes the core's internal, synchronous lifecycle
// events onto an external MessageBroker for outside consumers.
type Bridge struct {
	broker MessageBroker
}

// NewBridge wires broker to the given InstanceBus and IndexBus.
func NewBridge(broker MessageBroker, instances *events.InstanceBus, indexes *events.IndexBus) *Bridge {
	b := &Bridge{broker: broker}
	if instances != nil {
		instances.Subscribe(b.onInstanceEvent)
	}
	if indexes != nil {
		indexes.Subscribe(b.onIndexEvent)
	}
	return b
}

func (b *Bridge) onInstanceEvent(e events.InstanceEvent) {
	topic := TopicInstanceAdded
	if e.Kind == events.InstanceRemoved {
		topic = TopicInstanceRemoved
	}
	b.publish(NewEvent(topic, e.InstanceID, "", 0))
}

func (b *Bridge) onIndexEvent(e events.IndexEvent) {
	var topic string
	switch e.Kind {
	case events.IndexAdded:
		topic = TopicShardCreated
	case events.IndexFull:
		topic = TopicShardFull
	case events.IndexClustered:
		topic = TopicShardClustered
	case events.IndexRemoved:
		return // no external signal for cascading shard removal; covered by instance.removed
	default:
		return
	}
	b.publish(NewEvent(topic, e.InstanceID, e.IndexKind, e.Position))
}

func (b *Bridge) publish(event Event) {
	if err := b.broker.Publish(event.Topic, event); err != nil {
		log.Printf("eventbus: publish %s failed: %v", event.Topic, err)
	}
}
