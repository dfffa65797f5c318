// Package events 订单领域事件投递
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Event 一条待投递的领域事件
type Event struct {
	ID          string
	AggregateID string
	Type        string
	Payload     []byte
	OccurredAt  time.Time
}

// Publisher 事件投递契约，由 outbox relay 调用
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// KafkaPublisher 使用 sarama 同步生产者，按订单ID分区保证同一订单有序
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

// NewKafkaConfig 生产者配置：等待全部副本确认
func NewKafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Retry.Max = 3
	return cfg
}

// NewKafkaPublisher 连接 brokers 创建生产者
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, log), nil
}

// NewKafkaPublisherWithProducer 复用已有生产者（测试传入 mocks.SyncProducer）
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{producer: producer, topic: topic, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.AggregateID),
		Value: sarama.ByteEncoder(ev.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(ev.ID)},
			{Key: []byte("event_type"), Value: []byte(ev.Type)},
		},
		Timestamp: ev.OccurredAt,
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.log.Debug("event published",
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (p *KafkaPublisher) Close() error { return p.producer.Close() }

// LogPublisher 未启用 Kafka 时只记录日志
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.log.Info("event",
		zap.String("event_id", ev.ID),
		zap.String("aggregate_id", ev.AggregateID),
		zap.String("type", ev.Type),
		zap.ByteString("payload", ev.Payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
