package kafka

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/quizrace/internal/config"
	"github.com/quizrace/internal/domain"
)

// Producer publishes game lifecycle and security events to the event
// log. Emission is fire-and-forget: a publish failure is logged and
// never fails the primary operation.
type Producer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewProducer creates a Kafka event producer
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = 100
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, err
	}

	p := &Producer{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.logger.Warn("event publish failed", "error", err)
		}
	}()

	return p, nil
}

// Emit publishes a game event. Non-blocking: when the producer's input
// buffer is full the event is dropped with a warning rather than
// stalling the request path.
func (p *Producer) Emit(ev domain.GameEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("failed to marshal event", "type", ev.Type, "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.ParticipantID),
		Value: sarama.ByteEncoder(data),
	}

	select {
	case p.producer.Input() <- msg:
	default:
		p.logger.Warn("event buffer full, dropping event", "type", ev.Type)
	}
}

// Close flushes pending events and shuts the producer down
func (p *Producer) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}
