// Package main 异步任务执行器入口（job-worker）
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"z-class-ai-api/internal/application/jobs"
	"z-class-ai-api/internal/config"
	"z-class-ai-api/internal/domain/entity"
	"z-class-ai-api/internal/infrastructure/messaging"
	einoobs "z-class-ai-api/internal/observability/eino"
	"z-class-ai-api/internal/wire"
	"z-class-ai-api/pkg/errors"
	"z-class-ai-api/pkg/logger"
	"z-class-ai-api/pkg/tracer"

	"github.com/joho/godotenv"
)

// dlqAlertThreshold 死信队列告警阈值
const dlqAlertThreshold = 10

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "job-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	einoobs.Init()

	worker, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	worker.Consumer.RegisterHandler(messaging.MessageTypeClassGen, classGenHandler(worker.Orchestrator))

	if err := worker.Consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}
	go worker.Consumer.MonitorDLQ(ctx, dlqAlertThreshold)

	log := logger.FromContext(ctx)
	log.Info("job-worker started",
		"stream", string(messaging.StreamClassGen),
		"workers", cfg.Jobs.Workers,
		"storage", string(cfg.Storage.Backend),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("job-worker shutting down")
	worker.Consumer.Stop()
	cancel()
}

// classGenHandler 把 class_gen 消息交给编排器并等待结束。
// 返回错误时消息按退避重试，超过重试次数进入死信队列。
func classGenHandler(orch *jobs.Orchestrator) messaging.MessageHandler {
	return func(ctx context.Context, msg *messaging.Message) error {
		var payload messaging.ClassGenMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}

		jobID, err := orch.Submit(ctx, payload.ClassName)
		if err != nil {
			if stderrors.Is(err, errors.ErrInvalidParam) {
				// 无效请求重试也不会成功
				logger.Warn(ctx, "dropping invalid class_gen request", "request_id", payload.RequestID, "error", err.Error())
				return nil
			}
			return err
		}

		ctx = logger.WithContext(ctx, logger.JobIDKey, jobID)
		job, err := orch.Wait(ctx, jobID, time.Second)
		if err != nil {
			if stderrors.Is(err, errors.ErrJobNotFound) {
				logger.Info(ctx, "class_gen job cancelled", "class_name", payload.ClassName)
				return nil
			}
			orch.Cancel(context.WithoutCancel(ctx), jobID)
			return err
		}

		if job.Status == entity.JobStatusFailed {
			return fmt.Errorf("class generation failed: %s", job.Error)
		}
		logger.Info(ctx, "class_gen job completed",
			"class_name", job.ClassName,
			"reused", job.Reused,
			"duration_ms", job.Duration().Milliseconds(),
		)
		return nil
	}
}
