package status

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"philcali.me/notify/internal/notifications"
)

func NewConfig(clientId string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientId
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

func NewSyncProducer(brokers []string, clientId string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka status: at least one broker is required")
	}
	producer, err := sarama.NewSyncProducer(brokers, NewConfig(clientId))
	if err != nil {
		return nil, errors.Wrapf(err, "connect to kafka brokers %v", brokers)
	}
	return producer, nil
}

// StatusKafkaPublisher writes delivery lifecycle events keyed by message id,
// so every event of one message lands on the same partition in order.
type StatusKafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   zerolog.Logger
}

var _ notifications.StatusPublisher = (*StatusKafkaPublisher)(nil)

func NewStatusPublisher(producer sarama.SyncProducer, topic string, logger zerolog.Logger) *StatusKafkaPublisher {
	return &StatusKafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.With().Str("component", "kafka_status").Logger(),
	}
}

func (p *StatusKafkaPublisher) PublishStatus(_ context.Context, event notifications.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "kafka status: marshal event")
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.MessageId),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte("application/json")},
			{Key: []byte("event-type"), Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "kafka status: publish %s event for %s", event.Type, event.MessageId)
	}
	p.logger.Debug().
		Str("message_id", event.MessageId).
		Str("event", event.Type).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("status event published")
	return nil
}

func (p *StatusKafkaPublisher) Close() error {
	return p.producer.Close()
}
