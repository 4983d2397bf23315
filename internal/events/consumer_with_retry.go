package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// Handler processes one decoded event. IsRetryable separates transient
// faults (database down) from permanent ones (order deleted).
type Handler interface {
	Handle(ctx context.Context, event Event) error
	IsRetryable(err error) bool
}

// ErrMessageUnfinished ends a claim whose message could be neither handled
// nor parked on the DLQ.
var ErrMessageUnfinished = errors.New("message neither processed nor dead-lettered")

type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:   3,
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
}

type ConsumerMetrics struct {
	Processed    atomic.Int64
	Retries      atomic.Int64
	DeadLettered atomic.Int64
	Succeeded    atomic.Int64
	Failed       atomic.Int64
}

type MessageMetadata struct {
	RetryCount    int       `json:"retry_count"`
	FirstFailure  time.Time `json:"first_failure"`
	LastFailure   time.Time `json:"last_failure"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

type KafkaConsumerWithRetry struct {
	consumerGroup sarama.ConsumerGroup
	producer      sarama.SyncProducer
	processor     *MessageProcessor
	logger        *logrus.Logger
	topics        []string
}

func NewKafkaConsumerWithRetry(brokers, groupID string, topics []Type, handler Handler, logger *logrus.Logger) (*KafkaConsumerWithRetry, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), newProducerConfig())
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = string(t)
	}

	return &KafkaConsumerWithRetry{
		consumerGroup: consumerGroup,
		producer:      producer,
		processor:     NewMessageProcessor(handler, producer, DefaultRetryPolicy, logger),
		logger:        logger,
		topics:        names,
	}, nil
}

func (c *KafkaConsumerWithRetry) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{processor: c.processor, logger: c.logger}
	for {
		if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
			c.logger.WithError(err).Error("Error consuming from Kafka")
			return err
		}
		if ctx.Err() != nil {
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		}
	}
}

func (c *KafkaConsumerWithRetry) Metrics() *ConsumerMetrics {
	return c.processor.metrics
}

func (c *KafkaConsumerWithRetry) Close() error {
	if err := c.producer.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close producer")
	}
	return c.consumerGroup.Close()
}

type consumerGroupHandler struct {
	processor *MessageProcessor
	logger    *logrus.Logger
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session setup")
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.processor.Process(session.Context(), message) {
				if session.Context().Err() != nil {
					return nil
				}
				// Ending the claim keeps later offsets from being committed
				// past this one; the next session redelivers it.
				h.logger.WithFields(logrus.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("Message left unfinished, ending claim for redelivery")
				return fmt.Errorf("%w: %s/%d@%d", ErrMessageUnfinished, message.Topic, message.Partition, message.Offset)
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			h.logger.Info("Consumer group session context cancelled")
			return nil
		}
	}
}

// MessageProcessor decodes, retries with exponential backoff, and parks
// messages that still fail on "<topic>.dlq". It never blocks the partition
// on a poison message.
type MessageProcessor struct {
	handler  Handler
	producer sarama.SyncProducer
	policy   RetryPolicy
	logger   *logrus.Logger
	metrics  *ConsumerMetrics
}

func NewMessageProcessor(handler Handler, producer sarama.SyncProducer, policy RetryPolicy, logger *logrus.Logger) *MessageProcessor {
	return &MessageProcessor{
		handler:  handler,
		producer: producer,
		policy:   policy,
		logger:   logger,
		metrics:  &ConsumerMetrics{},
	}
}

// Process reports whether the message is finished with (handled or parked
// on the DLQ) and its offset may be committed.
func (p *MessageProcessor) Process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	p.metrics.Processed.Add(1)

	err := p.handleWithRetry(ctx, message)
	if err == nil {
		p.metrics.Succeeded.Add(1)
		return true
	}
	if ctx.Err() != nil {
		// Shutting down; leaving the offset uncommitted makes the next owner retry.
		return false
	}

	p.metrics.Failed.Add(1)
	p.logger.WithError(err).WithField("topic", message.Topic).Error("Failed to process message after retries")
	if dlqErr := p.sendToDLQ(message, err); dlqErr != nil {
		p.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		return false
	}
	p.metrics.DeadLettered.Add(1)
	return true
}

func (p *MessageProcessor) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	var event Event
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	log := p.logger.WithFields(logrus.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"order_id":  event.OrderID,
		"event_id":  event.ID,
	})
	log.Info("Processing Kafka message")

	delay := p.policy.InitialDelay
	for attempt := 0; ; attempt++ {
		err := p.handler.Handle(ctx, event)
		if err == nil {
			if attempt > 0 {
				log.WithField("attempt", attempt+1).Info("Processed message after retries")
			}
			return nil
		}
		if !p.handler.IsRetryable(err) {
			log.WithError(err).Error("Non-retryable error encountered")
			return err
		}
		if attempt >= p.policy.MaxRetries {
			return fmt.Errorf("exhausted %d retries for order %d: %w", p.policy.MaxRetries, event.OrderID, err)
		}

		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
		}).Warn("Retryable error processing message")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		p.metrics.Retries.Add(1)
		delay *= 2
		if delay > p.policy.MaxDelay {
			delay = p.policy.MaxDelay
		}
	}
}

func replayCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) == "retry_count" {
			if n, err := strconv.Atoi(string(header.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

func (p *MessageProcessor) sendToDLQ(message *sarama.ConsumerMessage, processingError error) error {
	now := time.Now().UTC()
	metadata := MessageMetadata{
		RetryCount:    replayCount(message) + 1,
		FirstFailure:  now,
		LastFailure:   now,
		OriginalTopic: message.Topic,
		ErrorMessage:  processingError.Error(),
	}
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dlqTopic := DLQTopic(message.Topic)
	dlqMessage := &sarama.ProducerMessage{
		Topic: dlqTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadataBytes},
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(message.Partition)))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(message.Offset, 10))},
			{Key: []byte("failure_time"), Value: []byte(now.Format(time.RFC3339))},
		},
	}

	partition, offset, err := p.producer.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"dlq_topic":     dlqTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"error":         processingError.Error(),
	}).Warn("Message sent to dead letter queue")
	return nil
}
