package kafka

import (
	"github.com/IBM/sarama"
)

// Config contains settings for publishing crawl events to Kafka.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// Topic receives every crawl lifecycle event.
	Topic string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

// NewProducerConfig returns the producer settings used for crawl events.
// Events of one job share a key, so the hash partitioner keeps them ordered.
func NewProducerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V3_6_0_0
	return config
}
