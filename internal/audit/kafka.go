package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/telemetry"
)

const defaultKafkaTopic = "ggr.audit.events"

// KafkaShipper publishes entries to a Kafka topic through an async producer, keyed by
// actor id so one actor's events stay ordered within a partition.
type KafkaShipper struct {
	producer sarama.AsyncProducer
	topic    string
	done     chan struct{}
}

// NewKafkaShipper connects an async producer to the configured brokers
func NewKafkaShipper(cfg *config.AuditKafkaConfig) (*KafkaShipper, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Flush.Frequency = 500 * time.Millisecond
	sc.Producer.Flush.Messages = 100

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to start kafka producer: %w", err)
	}
	return newKafkaShipper(producer, cfg.Topic), nil
}

func newKafkaShipper(producer sarama.AsyncProducer, topic string) *KafkaShipper {
	if topic == "" {
		topic = defaultKafkaTopic
	}
	k := &KafkaShipper{
		producer: producer,
		topic:    topic,
		done:     make(chan struct{}),
	}
	go k.drainErrors()
	return k
}

// Ship queues the entry on the producer
func (k *KafkaShipper) Ship(ctx context.Context, entry *Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(entry.Actor.ID),
		Value: sarama.ByteEncoder(payload),
	}

	select {
	case k.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *KafkaShipper) drainErrors() {
	defer close(k.done)
	for err := range k.producer.Errors() {
		telemetry.AuditShipperErrorsTotal.WithLabelValues("kafka").Inc()
		slog.Warn("failed to publish audit entry to kafka", "topic", k.topic, "error", err)
	}
}

// Close flushes buffered messages and stops the producer
func (k *KafkaShipper) Close() error {
	err := k.producer.Close()
	<-k.done
	return err
}
