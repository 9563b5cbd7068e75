//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"z-class-ai-api/internal/application/classgen"
	"z-class-ai-api/internal/application/jobs"
	"z-class-ai-api/internal/config"
	"z-class-ai-api/internal/infrastructure/llm"
	"z-class-ai-api/internal/infrastructure/persistence/postgres"
	"z-class-ai-api/internal/interfaces/http/handler"
	"z-class-ai-api/internal/interfaces/http/router"
	workflowprompt "z-class-ai-api/internal/workflow/prompt"
)

// InitializeApp 初始化 API 网关（路由器 + 进程内任务编排器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		ProvidePostgresClientOptional,
		ProvideRedisClientOptional,
		ProvideClassRepository,
		GenerationSet,
		ProvideMessagingProducerOptional,
		ProvideEventPublisher,
		ProvideOrchestrator,
		RouterSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// InitializeWorker 初始化 job-worker（消费 class_gen 流并发布任务事件）
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		ProvidePostgresClientOptional,
		ProvideRedisClient,
		ProvideClassRepository,
		GenerationSet,
		ProvideMessagingProducer,
		ProvideEventPublisher,
		ProvideOrchestrator,
		ProvideClassGenConsumer,
		wire.Struct(new(Worker), "*"),
	)
	return nil, nil, nil
}

// InitializePostgresOnly 仅初始化 PostgreSQL 数据层（用于 bootstrap）
func InitializePostgresOnly(ctx context.Context, cfg *config.Config) (*PostgresOnlyDataLayer, func(), error) {
	wire.Build(
		PostgresSet,
		wire.Struct(new(PostgresOnlyDataLayer), "*"),
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewClassRepository,
)

// GenerationSet LLM 与课程生成提供者集合
var GenerationSet = wire.NewSet(
	llm.NewEinoFactory,
	llm.NewGenerator,
	workflowprompt.NewRegistry,
	ProvideEnforcer,
	ProvideClassGenConfig,
	classgen.NewGenerator,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	wire.Bind(new(handler.JobService), new(*jobs.Orchestrator)),
	ProvideClassGenPublisher,
	ProvideClassReader,
	ProvideRateLimiter,
	ProvideHealthHandler,
	handler.NewJobHandler,
	handler.NewClassHandler,
	ProvideStreamHandler,
	wire.Struct(new(router.Handlers), "*"),
	router.New,
)
