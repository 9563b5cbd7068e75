package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-class-ai-api/pkg/logger"
	"z-class-ai-api/pkg/metrics"
)

// MessageHandler 消息处理函数，返回错误时消息留在 PEL 中等待重投
type MessageHandler func(ctx context.Context, msg *Message) error

// 单条消息的处理结果，同时用作指标标签
const (
	outcomeSuccess      = "success"
	outcomeSkipped      = "skipped"
	outcomeRetry        = "failed"
	outcomeDeadLettered = "dead_lettered"
)

// Consumer 消费者组读取流消息。
// 处理失败的消息不确认，按投递次数退避后由本消费者重新认领；
// 投递次数达到上限后写入死信流并确认。
type Consumer struct {
	client *redis.Client
	cfg    ConsumerConfig

	handlers map[string]MessageHandler
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Stream       Stream
	Group        ConsumerGroup
	ConsumerName string
	BlockTimeout time.Duration
	// ClaimInterval 扫描 PEL 的间隔
	ClaimInterval time.Duration
	// RetryLimit 最大投递次数
	RetryLimit int
	Backoff    BackoffConfig
	// StaleIdle 其他消费者持有的消息空闲超过该值才会被接管
	StaleIdle time.Duration
}

// NewConsumer 创建消息消费者
func NewConsumer(client *redis.Client, cfg ConsumerConfig) *Consumer {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}
	if cfg.StaleIdle <= 0 {
		cfg.StaleIdle = max(5*time.Minute, cfg.Backoff.Max*2)
	}

	return &Consumer{
		client:   client,
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
		stopCh:   make(chan struct{}),
	}
}

// RegisterHandler 注册消息处理器
func (c *Consumer) RegisterHandler(msgType string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// Start 创建消费者组并启动消费循环
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer already running")
	}
	c.running = true
	c.mu.Unlock()

	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	go c.run(ctx)
	return nil
}

// Stop 停止消费者，正在处理的消息会处理完
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		close(c.stopCh)
		c.running = false
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, string(c.cfg.Stream), string(c.cfg.Group), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (c *Consumer) run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info("consumer started",
		"stream", c.cfg.Stream,
		"group", c.cfg.Group,
		"consumer", c.cfg.ConsumerName,
	)

	lastClaim := time.Now().Add(-c.cfg.ClaimInterval)
	for {
		select {
		case <-ctx.Done():
			log.Info("consumer stopped due to context cancellation")
			return
		case <-c.stopCh:
			log.Info("consumer stopped")
			return
		default:
		}

		if time.Since(lastClaim) >= c.cfg.ClaimInterval {
			c.retryPending(ctx)
			lastClaim = time.Now()
		}

		if err := c.readNew(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to read from stream", "error", err)
			time.Sleep(time.Second)
		}
	}
}

// readNew 读取并处理一批新消息
func (c *Consumer) readNew(ctx context.Context) error {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    string(c.cfg.Group),
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{string(c.cfg.Stream), ">"},
		Count:    10,
		Block:    c.cfg.BlockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, s := range streams {
		for _, xmsg := range s.Messages {
			c.processMessage(ctx, xmsg)
		}
	}
	return nil
}

// processMessage 处理单条消息并返回处理结果
func (c *Consumer) processMessage(ctx context.Context, xmsg redis.XMessage) string {
	ctx, span := tracer.Start(ctx, "consumer.processMessage",
		trace.WithAttributes(
			attribute.String("stream", string(c.cfg.Stream)),
			attribute.String("stream.message_id", xmsg.ID),
		))
	defer span.End()

	outcome := c.dispatch(ctx, xmsg)
	span.SetAttributes(attribute.String("outcome", outcome))
	metrics.RedisStreamProcessed.WithLabelValues(string(c.cfg.Stream), outcome).Inc()
	return outcome
}

func (c *Consumer) dispatch(ctx context.Context, xmsg redis.XMessage) string {
	raw, _ := xmsg.Values["data"].(string)
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		logger.Error(ctx, "malformed stream message", err, "message_id", xmsg.ID)
		c.deadLetter(ctx, xmsg.ID, raw, "malformed message")
		return outcomeDeadLettered
	}

	if reqID := msg.GetMetadata("request_id"); reqID != "" {
		ctx = logger.WithContext(ctx, logger.RequestIDKey, reqID)
	}
	if traceID := msg.GetMetadata("trace_id"); traceID != "" {
		ctx = logger.WithContext(ctx, logger.TraceIDKey, traceID)
	}

	c.mu.RLock()
	handler, ok := c.handlers[msg.Type]
	c.mu.RUnlock()
	if !ok {
		logger.Warn(ctx, "no handler for message type", "type", msg.Type, "message_id", xmsg.ID)
		c.ack(ctx, xmsg.ID)
		return outcomeSkipped
	}

	if err := handler(ctx, &msg); err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		return c.handleFailure(ctx, xmsg.ID, raw, err)
	}
	c.ack(ctx, xmsg.ID)
	return outcomeSuccess
}

// handleFailure 投递次数未到上限时保留消息等待重投，否则写入死信流
func (c *Consumer) handleFailure(ctx context.Context, id, raw string, err error) string {
	deliveries := c.deliveries(ctx, id)
	if deliveries >= c.cfg.RetryLimit {
		logger.Warn(ctx, "message moved to DLQ after max retries",
			"message_id", id,
			"deliveries", deliveries,
			"error", err.Error(),
		)
		c.deadLetter(ctx, id, raw, err.Error())
		return outcomeDeadLettered
	}
	logger.Info(ctx, "message left pending for retry",
		"message_id", id,
		"deliveries", deliveries,
		"error", err.Error(),
	)
	return outcomeRetry
}

// deliveries 查询消息的投递次数
func (c *Consumer) deliveries(ctx context.Context, id string) int {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: string(c.cfg.Stream),
		Group:  string(c.cfg.Group),
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return int(pending[0].RetryCount)
}

// retryPending 认领退避到期的待确认消息。
// 本消费者的消息按投递次数退避，其他消费者的消息空闲超过 StaleIdle 才接管。
func (c *Consumer) retryPending(ctx context.Context) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: string(c.cfg.Stream),
		Group:  string(c.cfg.Group),
		Start:  "-",
		End:    "+",
		Count:  50,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Error(ctx, "failed to query pending messages", err)
		}
		return
	}

	for _, p := range pending {
		minIdle := c.cfg.Backoff.CalculateBackoff(int(p.RetryCount))
		if p.Consumer != c.cfg.ConsumerName {
			minIdle = max(minIdle, c.cfg.StaleIdle)
		}
		if p.Idle < minIdle {
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   string(c.cfg.Stream),
			Group:    string(c.cfg.Group),
			Consumer: c.cfg.ConsumerName,
			MinIdle:  minIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			logger.Error(ctx, "failed to claim pending message", err, "message_id", p.ID)
			continue
		}
		for _, xmsg := range claimed {
			if int(p.RetryCount) >= c.cfg.RetryLimit {
				raw, _ := xmsg.Values["data"].(string)
				c.deadLetter(ctx, xmsg.ID, raw, "message exceeded max retries")
				metrics.RedisStreamProcessed.WithLabelValues(string(c.cfg.Stream), outcomeDeadLettered).Inc()
				continue
			}
			c.processMessage(ctx, xmsg)
		}
	}
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, string(c.cfg.Stream), string(c.cfg.Group), id).Err(); err != nil {
		logger.Error(ctx, "failed to ack message", err, "message_id", id)
	}
}

// deadLetter 原样写入死信流后确认；写入失败时不确认，消息留给下次扫描
func (c *Consumer) deadLetter(ctx context.Context, id, raw, reason string) {
	err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream.DLQStream(),
		Values: map[string]any{
			"original_stream": string(c.cfg.Stream),
			"message_id":      id,
			"data":            raw,
			"error":           reason,
			"failed_at":       time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		logger.Error(ctx, "failed to write DLQ message", err, "message_id", id)
		return
	}
	c.ack(ctx, id)
}

// DLQLength 死信流长度
func (c *Consumer) DLQLength(ctx context.Context) (int64, error) {
	return c.client.XLen(ctx, c.cfg.Stream.DLQStream()).Result()
}

// MonitorDLQ 每分钟检查死信流，超过阈值时告警
func (c *Consumer) MonitorDLQ(ctx context.Context, alertThreshold int64) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			n, err := c.DLQLength(ctx)
			if err != nil {
				continue
			}
			if n > alertThreshold {
				logger.Warn(ctx, "DLQ has pending messages",
					"stream", c.cfg.Stream.DLQStream(),
					"count", n,
				)
			}
		}
	}
}
