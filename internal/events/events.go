package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	rediscommon "tracktech-scheduler/internal/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 事件类型
const (
	OrderCreated       = "order.created"
	OrderDeleted       = "order.deleted"
	OrderScheduled     = "order.scheduled"
	OrderUnschedulable = "order.unschedulable"
	OrderUnscheduled   = "order.unscheduled"
	BlockMoved         = "block.moved"
	LineDeleted        = "line.deleted"
	UnitDeleted        = "unit.deleted"
)

// Event 排产事件
type Event struct {
	EventType string                 `json:"event_type"`
	OrderID   string                 `json:"order_id,omitempty"`
	BlockID   string                 `json:"block_id,omitempty"`
	LineID    string                 `json:"line_id,omitempty"`
	UnitID    string                 `json:"unit_id,omitempty"`
	Date      string                 `json:"date,omitempty"`
	Quantity  int                    `json:"quantity,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Publisher 事件发布
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// StreamPublisher 发布到 Redis Streams（JSON 放在 data 字段）
type StreamPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewStreamPublisher 创建 Redis Streams 发布者
func NewStreamPublisher(client *redis.Client, stream string, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, logger: logger}
}

func (p *StreamPublisher) Publish(ctx context.Context, event Event) error {
	id, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, event)
	if err != nil {
		return fmt.Errorf("failed to publish %s to stream %s: %w", event.EventType, p.stream, err)
	}
	p.logger.Debug("Published event to stream",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("event_type", event.EventType),
	)
	return nil
}

// MQTTClient MQTT 发布所需的最小接口
type MQTTClient interface {
	Publish(topic string, retained bool, payload []byte) error
}

// MQTTPublisher 发布到 <prefix>/<event_type>
type MQTTPublisher struct {
	client      MQTTClient
	topicPrefix string
}

// NewMQTTPublisher 创建 MQTT 发布者
func NewMQTTPublisher(client MQTTClient, topicPrefix string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topicPrefix: topicPrefix}
}

// Topic 事件对应的主题
func (p *MQTTPublisher) Topic(eventType string) string {
	if p.topicPrefix == "" {
		return eventType
	}
	return p.topicPrefix + "/" + eventType
}

func (p *MQTTPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.client.Publish(p.Topic(event.EventType), false, payload)
}

// MultiPublisher 依次发布到所有发布者，汇总错误
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopPublisher 丢弃所有事件
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) error { return nil }
