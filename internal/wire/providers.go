// Package wire 提供依赖注入配置
package wire

import (
	"context"
	"fmt"
	"os"
	"time"

	"z-class-ai-api/internal/application/classgen"
	"z-class-ai-api/internal/application/contract"
	"z-class-ai-api/internal/application/jobs"
	"z-class-ai-api/internal/config"
	"z-class-ai-api/internal/domain/repository"
	"z-class-ai-api/internal/infrastructure/messaging"
	"z-class-ai-api/internal/infrastructure/persistence/filestore"
	"z-class-ai-api/internal/infrastructure/persistence/gcs"
	"z-class-ai-api/internal/infrastructure/persistence/postgres"
	"z-class-ai-api/internal/infrastructure/persistence/redis"
	"z-class-ai-api/internal/interfaces/http/handler"
	"z-class-ai-api/internal/interfaces/http/middleware"
	"z-class-ai-api/internal/interfaces/http/router"
	workflowport "z-class-ai-api/internal/workflow/port"
	workflowprompt "z-class-ai-api/internal/workflow/prompt"
	"z-class-ai-api/pkg/logger"
)

// App API 网关依赖容器
type App struct {
	Router       *router.Router
	Orchestrator *jobs.Orchestrator
}

// Worker job-worker 依赖容器
type Worker struct {
	Orchestrator *jobs.Orchestrator
	Consumer     *messaging.Consumer
	Producer     *messaging.Producer
}

// PostgresOnlyDataLayer 仅包含 PostgreSQL 的数据层（用于 bootstrap）
type PostgresOnlyDataLayer struct {
	PgClient  *postgres.Client
	TxManager *postgres.TxManager
	ClassRepo *postgres.ClassRepository
}

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvidePostgresClientOptional 仅在存储后端为 postgres 时连接数据库
func ProvidePostgresClientOptional(cfg *config.Config) (*postgres.Client, func(), error) {
	if cfg.Storage.Backend != config.StorageBackendPostgres {
		return nil, func() {}, nil
	}
	return ProvidePostgresClient(cfg)
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClientOptional 缓存、消息队列与限流都未启用时不连接 Redis
func ProvideRedisClientOptional(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Cache.Redis.Enabled && !cfg.Messaging.RedisStream.Enabled && !cfg.Security.RateLimit.Enabled {
		return nil, func() {}, nil
	}
	return ProvideRedisClient(cfg)
}

// ProvideClassRepository 按配置选择课程存储后端，Redis 缓存启用时包一层读穿缓存
func ProvideClassRepository(ctx context.Context, cfg *config.Config, pg *postgres.Client, rc *redis.Client) (repository.ClassRepository, func(), error) {
	var (
		store   repository.ClassRepository
		cleanup = func() {}
	)

	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		store = postgres.NewClassRepository(pg)
	case config.StorageBackendGCS:
		gs, err := gcs.NewStore(ctx, &cfg.Storage.GCS)
		if err != nil {
			return nil, nil, err
		}
		store = gs
		cleanup = func() {
			_ = gs.Close()
		}
	default:
		store = filestore.NewStore(cfg.Storage.File.Dir)
	}

	if cfg.Cache.Redis.Enabled && rc != nil {
		store = redis.NewCachedClassRepository(store, redis.NewCache(rc), cfg.Cache.Redis.ClassTTL)
	}

	logger.Info(ctx, "class store configured",
		"backend", string(cfg.Storage.Backend),
		"cache", cfg.Cache.Redis.Enabled,
	)
	return store, cleanup, nil
}

func samplingFrom(s config.SamplingConfig) workflowport.Sampling {
	return workflowport.Sampling{
		Temperature: s.Temperature,
		TopP:        s.TopP,
		TopK:        s.TopK,
		Seed:        s.Seed,
	}
}

// ProvideEnforcer 提供结构化输出约束器
func ProvideEnforcer(cfg *config.Config, gen workflowport.Generator, prompts *workflowprompt.Registry) *contract.Enforcer {
	return contract.NewEnforcer(gen, prompts,
		contract.WithRepairRounds(cfg.Generation.RepairRounds),
		contract.WithSampling(samplingFrom(cfg.Generation.Structure)),
	)
}

// ProvideClassGenConfig 提供课程生成参数
func ProvideClassGenConfig(cfg *config.Config) classgen.Config {
	c := classgen.DefaultConfig()
	c.Structure = samplingFrom(cfg.Generation.Structure)
	c.Prose = samplingFrom(cfg.Generation.Prose)
	if cfg.Generation.ContextKeep > 0 {
		c.ContextKeep = cfg.Generation.ContextKeep
	}
	if cfg.Generation.ContextSummaryMaxRunes > 0 {
		c.ContextSummaryMaxRunes = cfg.Generation.ContextSummaryMaxRunes
	}
	return c
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	maxLen := cfg.Messaging.RedisStream.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	return messaging.NewProducer(redisClient.Redis(), int64(maxLen))
}

// ProvideMessagingProducerOptional 消息队列未启用时返回 nil
func ProvideMessagingProducerOptional(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	if !cfg.Messaging.RedisStream.Enabled || redisClient == nil {
		return nil
	}
	return ProvideMessagingProducer(redisClient, cfg)
}

// ProvideEventPublisher 生产者为 nil 时不发布任务事件
func ProvideEventPublisher(producer *messaging.Producer) jobs.EventPublisher {
	if producer == nil {
		return nil
	}
	return producer
}

// ProvideClassGenPublisher 生产者为 nil 时关闭 /v1/jobs/enqueue
func ProvideClassGenPublisher(producer *messaging.Producer) handler.ClassGenPublisher {
	if producer == nil {
		return nil
	}
	return producer
}

// ProvideOrchestrator 创建并启动任务编排器，cleanup 时等待在途任务退出
func ProvideOrchestrator(cfg *config.Config, gen *classgen.Generator, store repository.ClassRepository, events jobs.EventPublisher) (*jobs.Orchestrator, func()) {
	o := jobs.NewOrchestrator(gen, store, events, jobs.Config{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		Dedupe:    cfg.Jobs.Dedupe,
	})
	o.Start()

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.Stop(ctx); err != nil {
			logger.Warn(ctx, "orchestrator did not stop in time", "error", err.Error())
		}
	}
	return o, cleanup
}

// ProvideClassGenConsumer 提供 class_gen 流消费者
func ProvideClassGenConsumer(cfg *config.Config, rc *redis.Client) *messaging.Consumer {
	rs := cfg.Messaging.RedisStream
	return messaging.NewConsumer(rc.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamClassGen,
		Group:         messaging.ConsumerGroupClassWorker.WithPrefix(rs.ConsumerGroupPrefix),
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  rs.BlockTimeout,
		ClaimInterval: rs.ClaimInterval,
		RetryLimit:    rs.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    rs.RetryBackoff.Initial,
			Max:        rs.RetryBackoff.Max,
			Multiplier: rs.RetryBackoff.Multiplier,
		},
	})
}

// ProvideRateLimiter 提交接口限流器，未启用时返回 nil
func ProvideRateLimiter(cfg *config.Config, rc *redis.Client) middleware.RateLimiter {
	if !cfg.Security.RateLimit.Enabled || rc == nil {
		return nil
	}
	return redis.NewRateLimiter(rc)
}

// ProvideHealthHandler 提供健康检查处理器
func ProvideHealthHandler(cfg *config.Config, pg *postgres.Client, rc *redis.Client) *handler.HealthHandler {
	return handler.NewHealthHandler(cfg.App.Version, pg, rc)
}

// ProvideClassReader 课程查看接口直接读取课程仓储
func ProvideClassReader(store repository.ClassRepository) handler.ClassReader {
	return store
}

// ProvideStreamHandler 提供进度推送处理器
func ProvideStreamHandler(jobService handler.JobService) *handler.StreamHandler {
	return handler.NewStreamHandler(jobService, 500*time.Millisecond)
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
