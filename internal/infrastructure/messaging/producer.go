package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-class-ai-api/internal/application/jobs"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishClassGen 投递课程生成请求
func (p *Producer) PublishClassGen(ctx context.Context, req *ClassGenMessage) (string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	msg, err := NewMessage(req.RequestID, MessageTypeClassGen, req)
	if err != nil {
		return "", err
	}
	msg.SetMetadata("request_id", req.RequestID)
	return p.Publish(ctx, StreamClassGen, msg)
}

// PublishJobEvent 发布任务生命周期事件，实现 jobs.EventPublisher
func (p *Producer) PublishJobEvent(ctx context.Context, event *jobs.JobEvent) error {
	msg, err := NewMessage(event.JobID, MessageTypeJobEvent, event)
	if err != nil {
		return err
	}
	msg.SetMetadata("event_type", string(event.Type))
	msg.SetMetadata("class_name", event.ClassName)
	_, err = p.Publish(ctx, StreamClassEvents, msg)
	return err
}
