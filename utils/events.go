package utils

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"lwie/services"
)

const paymentCreditedEventType = "payment.credited"

// KafkaPublisher publishes payment events for downstream consumers such as
// the notification service.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   logrus.FieldLogger
}

func NewKafkaPublisher(brokers []string, topic string, logger logrus.FieldLogger) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "lwie-backend"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger logrus.FieldLogger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func (p *KafkaPublisher) PublishPaymentCredited(ctx context.Context, event services.PaymentCreditedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode payment event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.TransactionID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(paymentCreditedEventType)},
			{Key: []byte("event_id"), Value: []byte(event.EventID)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish payment event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     p.topic,
		"tx_ref":    event.TransactionID,
		"partition": partition,
		"offset":    offset,
	}).Debug("Payment event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
