package eventbus

import (
	"log"
	"strings"

	"github.com/darkden-lab/tracer/indexer/internal/config"
)

// NewBroker returns a KafkaBroker when cfg.KafkaBrokers is set,
// otherwise an InMemoryBroker sized for this domain's lifecycle-event
// volume (see queueCapacity) rather than a generic high-throughput
// notification stream.
func NewBroker(cfg *config.Config) (MessageBroker, error) {
	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		log.Printf("eventbus: using KafkaBroker with brokers=%v group=%s", brokers, cfg.KafkaConsumerGroup)
		return NewKafkaBroker(KafkaConfig{Brokers: brokers, ConsumerGroup: cfg.KafkaConsumerGroup})
	}
	log.Println("eventbus: using InMemoryBroker (KAFKA_BROKERS not set)")
	return NewInMemoryBroker(), nil
}
