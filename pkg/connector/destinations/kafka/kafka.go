// Package kafka produces forwarded events to a Kafka topic, one message
// per event.
package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/config"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/registry"
	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
)

// SinkName is the registry name of the Kafka sink.
const SinkName = "kafka"

func init() {
	_ = registry.RegisterSink(SinkName, func(cfg config.SinkConfig, deps registry.Dependencies) (core.Sink, error) {
		return New(cfg, deps.Logger)
	})
}

// Sink sends each batch with a single SendMessages call.
type Sink struct {
	topic    string
	client   sarama.Client
	producer sarama.SyncProducer
	logger   *zap.Logger
}

// New connects to the brokers and returns a sink backed by a SyncProducer.
func New(cfg config.SinkConfig, logger *zap.Logger) (*Sink, error) {
	kc := cfg.Kafka
	if len(kc.Brokers) == 0 || kc.Topic == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "kafka brokers and topic are required")
	}

	saramaConfig, err := BuildSaramaConfig(kc)
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(kc.Brokers, saramaConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka client").
			WithDetail("brokers", strings.Join(kc.Brokers, ","))
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer")
	}

	sink := NewWithProducer(producer, kc.Topic, logger)
	sink.client = client
	return sink, nil
}

// NewWithProducer wraps an existing producer.
func NewWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		topic:    topic,
		producer: producer,
		logger:   logger.With(zap.String("sink", SinkName), zap.String("topic", topic)),
	}
}

// BuildSaramaConfig maps the sink configuration onto a producer config.
func BuildSaramaConfig(kc config.KafkaSinkConfig) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	if kc.ClientID != "" {
		cfg.ClientID = kc.ClientID
	}

	switch kc.Acks {
	case "", "all", "-1":
		cfg.Producer.RequiredAcks = sarama.WaitForAll
	case "1":
		cfg.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		cfg.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "invalid kafka acks").WithDetail("acks", kc.Acks)
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	switch kc.Compression {
	case "", "none":
		cfg.Producer.Compression = sarama.CompressionNone
	case "gzip":
		cfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
		cfg.Version = sarama.V2_1_0_0
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "invalid kafka compression").
			WithDetail("compression", kc.Compression)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid kafka configuration")
	}
	return cfg, nil
}

func (s *Sink) Name() string { return SinkName }

// Push produces every event of the batch. A partial failure fails the
// whole batch; the next cycle sends it again.
func (s *Sink) Push(ctx context.Context, batch []string) error {
	if len(batch) == 0 {
		return nil
	}

	messages := make([]*sarama.ProducerMessage, 0, len(batch))
	for _, event := range batch {
		messages = append(messages, &sarama.ProducerMessage{
			Topic: s.topic,
			Value: sarama.StringEncoder(event),
		})
	}

	if err := s.producer.SendMessages(messages); err != nil {
		wrapped := errors.Wrap(err, errors.ErrorTypePush, "failed to produce events")
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			wrapped = wrapped.WithDetail("failed", fmt.Sprintf("%d/%d", len(perrs), len(messages)))
		}
		return wrapped
	}

	s.logger.Debug("produced messages", zap.Int("messages", len(messages)))
	return nil
}

// Close closes the producer and, when the sink owns it, the client.
func (s *Sink) Close(ctx context.Context) error {
	err := s.producer.Close()
	if s.client != nil && !s.client.Closed() {
		if cerr := s.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
