// Package eventbus publishes coordinator domain events (proof ready,
// block finalized) to Kafka, grounded on
// datasync/chaindatafetcher/kafka's producer wiring in the teacher
// (kafka.NewProducer, sarama.NewAsyncProducer with
// sarama.NewConfig()'s Producer.Return.Successes/Errors toggles). This
// is a side channel only: spec.md's pipeline never blocks on or
// branches on publish outcomes, so a down or unconfigured broker must
// never stall mine/submit/finalize.
package eventbus

import (
	"encoding/json"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

// EventKind names the domain events the bus carries.
type EventKind string

const (
	EventProofReady     EventKind = "proof_ready"
	EventBlockFinalized EventKind = "block_finalized"
)

// Event is the JSON payload published to the configured topic.
type Event struct {
	Kind       EventKind `json:"kind"`
	BlockNum   uint64    `json:"block_num"`
	BlockHash  string    `json:"block_hash,omitempty"`
}

// Bus publishes Events to a Kafka topic. A nil *Bus is valid and
// Publish on it is a no-op, so callers can construct one
// unconditionally from config and ignore whether KAFKA_BROKERS was
// set.
type Bus struct {
	producer sarama.SyncProducer
	topic    string
}

// New dials brokers and returns a Bus publishing to topic. Mirrors the
// teacher's synchronous-producer setup (chaindatafetcher prefers
// AsyncProducer for throughput; the coordinator only emits a handful
// of events per tick, so the simpler SyncProducer suffices).
func New(brokers []string, topic string) (*Bus, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "eventbus: dial kafka")
	}
	return &Bus{producer: producer, topic: topic}, nil
}

// Publish sends ev to the bus's topic. A nil Bus silently drops the
// event, matching the "optional side channel" contract.
func (b *Bus) Publish(ev Event) error {
	if b == nil || b.producer == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "eventbus: marshal event")
	}
	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Value: sarama.ByteEncoder(payload),
	}
	_, _, err = b.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrap(err, "eventbus: send message")
	}
	return nil
}

// Close releases the underlying producer. Safe to call on a nil Bus.
func (b *Bus) Close() error {
	if b == nil || b.producer == nil {
		return nil
	}
	return b.producer.Close()
}
