package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
)

// KafkaSink forwards changes to a Kafka topic for downstream consumers.
// Combine it with the application feed in a Fanout so only changes committed
// by this instance are sent; relayed events never reach it.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	events   chan Event
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewKafkaSink connects a synchronous producer to the given brokers.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) (*KafkaSink, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(producer, topic, DefaultBuffer, logger), nil
}

// NewKafkaSinkWithProducer wraps an existing producer. buffer bounds how many
// events wait for Run before new ones are dropped.
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string, buffer int, logger *slog.Logger) *KafkaSink {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &KafkaSink{
		producer: producer,
		topic:    topic,
		events:   make(chan Event, buffer),
		logger:   logger.With("component", "feed.kafka", "topic", topic),
	}
}

// Publish queues ev for delivery without blocking the caller.
func (k *KafkaSink) Publish(_ context.Context, ev Event) {
	select {
	case k.events <- ev:
	default:
		k.logger.Warn("kafka queue full, dropping event", "kind", ev.Kind)
	}
}

// Run sends queued events until ctx is cancelled, then flushes what is
// already queued.
func (k *KafkaSink) Run(ctx context.Context) error {
	k.wg.Add(1)
	defer k.wg.Done()

	for {
		select {
		case ev := <-k.events:
			k.send(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-k.events:
					k.send(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (k *KafkaSink) send(ev Event) {
	key := eventKey(ev)
	data, err := json.Marshal(ev)
	if err != nil {
		k.logger.Error("failed to marshal change event", "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		k.logger.Warn("failed to send change event", "key", key, "error", err)
		return
	}
	k.logger.Debug("change event sent", "key", key, "partition", partition, "offset", offset)
}

// Close waits for Run to return and then closes the producer.
func (k *KafkaSink) Close() error {
	k.wg.Wait()
	return k.producer.Close()
}

func eventKey(ev Event) string {
	switch {
	case ev.User != nil:
		return fmt.Sprintf("user:%d", ev.User.UserID)
	case ev.Upload != nil:
		return fmt.Sprintf("upload:%d", ev.Upload.UploadID)
	default:
		return string(ev.Kind)
	}
}
