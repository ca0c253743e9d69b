package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/quizrace/internal/config"
	"github.com/quizrace/internal/domain"
)

// AuditHandler processes answer events out of band: question usage
// accounting and the second, stricter fraud pass
type AuditHandler interface {
	ProcessAnswerEvent(ctx context.Context, ev domain.GameEvent) error
}

// AuditConsumer consumes game events from Kafka and runs the
// out-of-band audit over answer submissions
type AuditConsumer struct {
	config        *config.KafkaConfig
	handler       AuditHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewAuditConsumer creates a new audit consumer
func NewAuditConsumer(cfg *config.KafkaConfig, handler AuditHandler, logger *slog.Logger) (*AuditConsumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &AuditConsumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming events from Kafka
func (c *AuditConsumer) Start() error {
	c.logger.Info("starting audit consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &auditGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("audit consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *AuditConsumer) Stop() error {
	c.logger.Info("stopping audit consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// auditGroupHandler implements sarama.ConsumerGroupHandler
type auditGroupHandler struct {
	consumer *AuditConsumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *auditGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *auditGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Events are
// batched the same way scores were ingested upstream; only
// answer_submitted events reach the handler.
func (h *auditGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]domain.GameEvent, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if len(batch) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, ev := range batch {
			if err := h.consumer.handler.ProcessAnswerEvent(ctx, ev); err != nil {
				h.consumer.logger.Error("audit failed for event",
					"participant_id", ev.ParticipantID,
					"question_id", ev.QuestionID,
					"error", err,
				)
			}
		}
		h.consumer.logger.Debug("audited batch", "batch_size", len(batch))

		batch = batch[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}

			var ev domain.GameEvent
			if err := json.Unmarshal(message.Value, &ev); err != nil {
				h.consumer.logger.Warn("failed to unmarshal event",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			if ev.Type != domain.EventAnswerSubmitted || ev.ParticipantID == "" {
				session.MarkMessage(message, "")
				continue
			}

			batch = append(batch, ev)
			session.MarkMessage(message, "")

			if len(batch) >= cfg.BatchSize {
				processBatch()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
