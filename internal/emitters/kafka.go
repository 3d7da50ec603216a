// Package emitters publishes terminal payment and provisioning outcomes for
// the main backend to record. The engine owns no persistent transaction
// store; the event stream is how downstream bookkeeping learns what happened.
package emitters

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event is one terminal workflow outcome. Amount and Fee are decimal strings
// in asset units; no key material ever goes into an event.
type Event struct {
	Kind        string    `json:"kind"` // "payment" | "provision"
	OperationID string    `json:"operation_id,omitempty"`
	Sender      string    `json:"sender,omitempty"`
	Receiver    string    `json:"receiver,omitempty"`
	Asset       string    `json:"asset,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Fee         string    `json:"fee,omitempty"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

type Emitter interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// KafkaEmitter publishes events to a Kafka topic, keyed by operation id so
// replays of one operation land in one partition.
type KafkaEmitter struct {
	writer *kafka.Writer
	mu     sync.Mutex
}

func NewKafkaEmitter(brokerAddress, topic string) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokerAddress),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (k *KafkaEmitter) Emit(ctx context.Context, event Event) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OperationID),
		Value: value,
	}); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (k *KafkaEmitter) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer != nil {
		return k.writer.Close()
	}
	return nil
}

// Noop drops events; used when no broker is configured.
type Noop struct{}

func (Noop) Emit(context.Context, Event) error { return nil }
func (Noop) Close() error                      { return nil }
