// Package kafka publishes changes to Kafka with a sarama sync producer.
// Messages are keyed by schema.table so changes to one table keep their
// order within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/edgeflare/pgcrud/pkg/events"
	"go.uber.org/zap"
)

var errProducerNotInitialized = errors.New("Kafka producer not initialized")

// Sink publishes to Kafka.
type Sink struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
	Config   Config
}

// NewSink wraps an existing producer, eg a sarama mock.
func NewSink(producer sarama.SyncProducer, config Config, logger *zap.Logger) *Sink {
	config.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{producer: producer, Config: config, logger: logger}
}

func (s *Sink) Connect(_ context.Context, config map[string]any, logger *zap.Logger) error {
	if err := events.DecodeConfig(config, &s.Config); err != nil {
		return err
	}
	s.Config.setDefaults()
	s.logger = logger
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	conf, err := s.Config.ToSaramaConfig()
	if err != nil {
		return err
	}
	producer, err := sarama.NewSyncProducer(s.Config.Brokers, conf)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	s.producer = producer
	return nil
}

func (s *Sink) Publish(_ context.Context, c events.Change) error {
	if s.producer == nil {
		return errProducerNotInitialized
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.Config.TopicFor(c.Subject()),
		Key:   sarama.StringEncoder(c.Schema + "." + c.Table),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("id"), Value: []byte(c.ID)},
			{Key: []byte("op"), Value: []byte(c.Op)},
		},
	}
	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	s.logger.Debug("published message",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (s *Sink) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

func init() {
	events.RegisterSink(events.SinkKafka, func() events.Sink { return &Sink{} })
}
