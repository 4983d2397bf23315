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

var ErrReplayLimit = errors.New("exceeded maximum replay attempts")

type DLQConfig struct {
	Topics []Type
	// Replay sends parked messages back to their original topic after
	// ReplayDelay. When false the processor only logs them.
	Replay      bool
	ReplayDelay time.Duration
	MaxReplays  int
}

type DLQStats struct {
	Seen     int64 `json:"seen"`
	Replayed int64 `json:"replayed"`
	Dropped  int64 `json:"dropped"`
}

type DLQProcessor struct {
	consumer sarama.ConsumerGroup
	producer sarama.SyncProducer
	logger   *logrus.Logger
	cfg      DLQConfig

	seen     atomic.Int64
	replayed atomic.Int64
	dropped  atomic.Int64
}

func NewDLQProcessor(brokers, groupID string, cfg DLQConfig, logger *logrus.Logger) (*DLQProcessor, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Version = sarama.V2_6_0_0

	consumer, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ consumer: %w", err)
	}

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), newProducerConfig())
	if err != nil {
		consumer.Close()
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return NewDLQProcessorWith(consumer, producer, cfg, logger), nil
}

func NewDLQProcessorWith(consumer sarama.ConsumerGroup, producer sarama.SyncProducer, cfg DLQConfig, logger *logrus.Logger) *DLQProcessor {
	if cfg.MaxReplays <= 0 {
		cfg.MaxReplays = DefaultRetryPolicy.MaxRetries * 2
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = []Type{OrderPaid}
	}
	return &DLQProcessor{consumer: consumer, producer: producer, logger: logger, cfg: cfg}
}

func (p *DLQProcessor) ProcessDLQ(ctx context.Context) error {
	topics := make([]string, len(p.cfg.Topics))
	for i, t := range p.cfg.Topics {
		topics[i] = DLQTopic(string(t))
	}

	handler := &dlqConsumerHandler{processor: p}
	for {
		if err := p.consumer.Consume(ctx, topics, handler); err != nil {
			p.logger.WithError(err).Error("Error consuming from DLQ")
			return err
		}
		if ctx.Err() != nil {
			p.logger.Info("DLQ processor context cancelled")
			return nil
		}
	}
}

func parseMetadata(message *sarama.ConsumerMessage) MessageMetadata {
	var metadata MessageMetadata
	for _, header := range message.Headers {
		if string(header.Key) == "metadata" {
			_ = json.Unmarshal(header.Value, &metadata)
			break
		}
	}
	if metadata.OriginalTopic == "" {
		metadata.OriginalTopic = strings.TrimSuffix(message.Topic, ".dlq")
	}
	return metadata
}

// ReplayMessage republishes a parked message to its original topic, carrying
// the failure count forward so a message cannot bounce forever.
func (p *DLQProcessor) ReplayMessage(message *sarama.ConsumerMessage) error {
	metadata := parseMetadata(message)

	if metadata.RetryCount >= p.cfg.MaxReplays {
		p.dropped.Add(1)
		p.logger.WithFields(logrus.Fields{
			"order_key":   string(message.Key),
			"retry_count": metadata.RetryCount,
		}).Error("Message exceeded maximum replay attempts")
		return ErrReplayLimit
	}

	replayMessage := &sarama.ProducerMessage{
		Topic: metadata.OriginalTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("retry_count"), Value: []byte(strconv.Itoa(metadata.RetryCount))},
			{Key: []byte("replayed_from_dlq"), Value: []byte("true")},
			{Key: []byte("replay_time"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	partition, offset, err := p.producer.SendMessage(replayMessage)
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}
	p.replayed.Add(1)

	p.logger.WithFields(logrus.Fields{
		"replay_topic":     metadata.OriginalTopic,
		"replay_partition": partition,
		"replay_offset":    offset,
		"order_key":        string(message.Key),
	}).Info("Message replayed from DLQ")
	return nil
}

func (p *DLQProcessor) Stats() DLQStats {
	return DLQStats{Seen: p.seen.Load(), Replayed: p.replayed.Load(), Dropped: p.dropped.Load()}
}

func (p *DLQProcessor) Close() error {
	if err := p.producer.Close(); err != nil {
		p.logger.WithError(err).Error("Failed to close producer")
	}
	return p.consumer.Close()
}

type dlqConsumerHandler struct {
	processor *DLQProcessor
}

func (h *dlqConsumerHandler) Setup(sarama.ConsumerGroupSession) error {
	h.processor.logger.Info("DLQ consumer session setup")
	return nil
}

func (h *dlqConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.processor.logger.Info("DLQ consumer session cleanup")
	return nil
}

func (h *dlqConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	p := h.processor
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			p.seen.Add(1)

			metadata := parseMetadata(message)
			p.logger.WithFields(logrus.Fields{
				"topic":          message.Topic,
				"offset":         message.Offset,
				"key":            string(message.Key),
				"original_topic": metadata.OriginalTopic,
				"retry_count":    metadata.RetryCount,
				"first_failure":  metadata.FirstFailure,
				"error_message":  metadata.ErrorMessage,
			}).Warn("DLQ message details")

			if p.cfg.Replay {
				select {
				case <-session.Context().Done():
					return nil
				case <-time.After(p.cfg.ReplayDelay):
				}
				if err := p.ReplayMessage(message); err != nil && !errors.Is(err, ErrReplayLimit) {
					p.logger.WithError(err).Error("Failed to replay DLQ message")
					continue
				}
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
