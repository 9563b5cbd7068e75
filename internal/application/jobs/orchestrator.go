// Package jobs 以后台任务方式运行课程生成：有界 worker 池、任务表、进度与取消
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-class-ai-api/internal/application/classgen"
	"z-class-ai-api/internal/domain/entity"
	"z-class-ai-api/internal/domain/repository"
	apperrors "z-class-ai-api/pkg/errors"
	"z-class-ai-api/pkg/logger"
	"z-class-ai-api/pkg/metrics"
)

var tracer = otel.Tracer("jobs")

// ClassGenerator 课程生成能力
type ClassGenerator interface {
	Generate(ctx context.Context, className string, onProgress classgen.ProgressFunc) (*entity.Class, error)
}

// Config 编排器配置
type Config struct {
	Workers   int
	QueueSize int
	// Dedupe 同名课程的并发任务共享一次生成
	Dedupe bool
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{Workers: 2, QueueSize: 128, Dedupe: true}
}

type jobRecord struct {
	job    *entity.GenerationJob
	cancel context.CancelFunc
}

// Orchestrator 任务编排器。
// 任务表由一把互斥锁保护，读取方拿到的都是副本；
// 提交方通过有缓冲 channel 把任务 ID 交给固定数量的 worker。
type Orchestrator struct {
	generator ClassGenerator
	store     repository.ClassRepository
	events    EventPublisher
	cfg       Config
	flights   *flightGroup
	newID     func() string

	mu     sync.Mutex
	jobs   map[string]*jobRecord
	closed bool

	queue     chan string
	baseCtx   context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
}

// NewOrchestrator 创建编排器，events 可为 nil
func NewOrchestrator(generator ClassGenerator, store repository.ClassRepository, events EventPublisher, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		generator: generator,
		store:     store,
		events:    events,
		cfg:       cfg,
		flights:   newFlightGroup(baseCtx),
		newID:     uuid.NewString,
		jobs:      make(map[string]*jobRecord),
		queue:     make(chan string, cfg.QueueSize),
		baseCtx:   baseCtx,
		stop:      stop,
	}
}

// Start 启动 worker 池，重复调用无效
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		for i := 0; i < o.cfg.Workers; i++ {
			o.wg.Add(1)
			go o.worker(i + 1)
		}
		logger.Info(o.baseCtx, "job orchestrator started", "workers", o.cfg.Workers, "queue_size", o.cfg.QueueSize)
	})
}

// Stop 拒绝新任务，把仍在排队的任务标记为失败，
// 取消运行中的任务并等待 worker 退出
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()
	o.failQueued(ctx)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// failQueued 清空队列，未开始的任务以 shutting down 结束
func (o *Orchestrator) failQueued(ctx context.Context) {
drain:
	for {
		select {
		case <-o.queue:
			metrics.JobsQueueDepth.Dec()
		default:
			break drain
		}
	}

	o.mu.Lock()
	var failed []*entity.GenerationJob
	for _, rec := range o.jobs {
		if rec.job.Status != entity.JobStatusPending {
			continue
		}
		rec.job.Fail("job orchestrator is shutting down")
		failed = append(failed, rec.job.Clone())
	}
	o.mu.Unlock()

	for _, snap := range failed {
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		logger.Warn(ctx, "queued job failed on shutdown", "job_id", snap.ID, "class_name", snap.ClassName)
		o.publish(ctx, EventJobFailed, snap)
	}
}

// Submit 登记 pending 任务并入队，不阻塞
func (o *Orchestrator) Submit(ctx context.Context, className string) (string, error) {
	name := entity.NormalizeClassName(className)
	if name == "" {
		return "", apperrors.ErrInvalidParam.WithDetail("class_name is required")
	}

	job := entity.NewGenerationJob(o.newID(), name)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", apperrors.ErrServiceUnavailable.WithDetail("job orchestrator is shutting down")
	}
	o.jobs[job.ID] = &jobRecord{job: job}
	snap := job.Clone()
	o.mu.Unlock()

	select {
	case o.queue <- job.ID:
		metrics.JobsQueueDepth.Inc()
	default:
		o.mu.Lock()
		delete(o.jobs, job.ID)
		o.mu.Unlock()
		metrics.JobsTotal.WithLabelValues("rejected").Inc()
		logger.Warn(ctx, "job queue is full", "class_name", name)
		return "", apperrors.ErrQueueFull
	}

	logger.Info(ctx, "job submitted", "job_id", job.ID, "class_name", name)
	o.publish(ctx, EventJobSubmitted, snap)
	return job.ID, nil
}

// Status 返回任务快照
func (o *Orchestrator) Status(jobID string) (*entity.GenerationJob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.jobs[jobID]
	if !ok {
		return nil, false
	}
	return rec.job.Clone(), true
}

// Cancel 从任务表移除未结束的任务；未开始的任务不会再执行，
// 运行中的任务其 ctx 被取消，但已发出的模型调用不保证立即停止。
// 未知或已结束的任务返回 false。
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) bool {
	o.mu.Lock()
	rec, ok := o.jobs[jobID]
	if !ok || rec.job.Status.IsTerminal() {
		o.mu.Unlock()
		return false
	}
	delete(o.jobs, jobID)
	cancel := rec.cancel
	snap := rec.job.Clone()
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	metrics.JobsTotal.WithLabelValues("cancelled").Inc()
	logger.Info(ctx, "job cancelled", "job_id", jobID, "status", string(snap.Status))
	o.publish(ctx, EventJobCancelled, snap)
	return true
}

// List 返回全部任务快照，按创建时间排序
func (o *Orchestrator) List() []*entity.GenerationJob {
	o.mu.Lock()
	out := make([]*entity.GenerationJob, 0, len(o.jobs))
	for _, rec := range o.jobs {
		out = append(out, rec.job.Clone())
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Wait 轮询任务直到进入终态；任务被取消（从任务表移除）时返回 ErrJobNotFound
func (o *Orchestrator) Wait(ctx context.Context, jobID string, interval time.Duration) (*entity.GenerationJob, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, ok := o.Status(jobID)
		if !ok {
			return nil, apperrors.ErrJobNotFound.WithDetail(jobID)
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListPersisted 列出已持久化课程的预览
func (o *Orchestrator) ListPersisted(ctx context.Context) ([]entity.ClassPreview, error) {
	previews, err := o.store.List(ctx)
	if err != nil {
		return nil, apperrors.ErrStorage.WithError(err)
	}
	return previews, nil
}

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	ctx := logger.WithContext(o.baseCtx, logger.WorkerIDKey, id)
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-o.queue:
			metrics.JobsQueueDepth.Dec()
			o.run(ctx, jobID)
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, jobID string) {
	o.mu.Lock()
	rec, ok := o.jobs[jobID]
	if !ok || rec.job.Status != entity.JobStatusPending {
		o.mu.Unlock()
		logger.Debug(ctx, "skip cancelled job", "job_id", jobID)
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	rec.cancel = cancel
	rec.job.Start()
	name := rec.job.ClassName
	snap := rec.job.Clone()
	o.mu.Unlock()
	defer cancel()

	jobCtx = logger.WithContext(jobCtx, logger.JobIDKey, jobID)
	jobCtx = logger.WithContext(jobCtx, logger.ClassNameKey, name)
	jobCtx, span := tracer.Start(jobCtx, "jobs.execute", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("class.name", name),
	))
	defer span.End()

	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	logger.Info(jobCtx, "job started")
	o.publish(jobCtx, EventJobStarted, snap)

	class, reused, err := o.executeSafely(jobCtx, jobID, name)
	if err != nil {
		span.RecordError(err)
		o.fail(jobCtx, jobID, err)
		return
	}
	span.SetAttributes(attribute.Bool("job.reused", reused))
	o.complete(jobCtx, jobID, class, reused)
}

func (o *Orchestrator) executeSafely(ctx context.Context, jobID, name string) (class *entity.Class, reused bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "job panicked", fmt.Errorf("%v", r), "stack", string(debug.Stack()))
			class, reused, err = nil, false, fmt.Errorf("panic: %v", r)
		}
	}()
	return o.execute(ctx, jobID, name)
}

// execute 已持久化的课程直接读取返回，否则生成并保存
func (o *Orchestrator) execute(ctx context.Context, jobID, name string) (*entity.Class, bool, error) {
	class, ok, err := o.loadExisting(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if ok {
		logger.Info(ctx, "class already persisted, reusing")
		return class, true, nil
	}

	progress := func(s entity.ProgressSnapshot) {
		o.updateProgress(ctx, jobID, s)
	}

	if !o.cfg.Dedupe {
		class, err := o.generateAndSave(ctx, name, progress)
		return class, false, err
	}

	res, err := o.flights.do(ctx, name, jobID, progress, func(fctx context.Context, fanout classgen.ProgressFunc) (flightResult, error) {
		// 上一次共享生成可能刚刚保存
		class, ok, err := o.loadExisting(fctx, name)
		if err != nil {
			return flightResult{}, err
		}
		if ok {
			return flightResult{class: class, reused: true}, nil
		}
		class, err = o.generateAndSave(fctx, name, fanout)
		return flightResult{class: class}, err
	})
	if err != nil {
		return nil, false, err
	}
	return res.class, res.reused, nil
}

func (o *Orchestrator) loadExisting(ctx context.Context, name string) (*entity.Class, bool, error) {
	exists, err := o.store.Exists(ctx, name)
	if err != nil {
		return nil, false, apperrors.ErrStorage.WithError(err)
	}
	if !exists {
		return nil, false, nil
	}
	class, err := o.store.Get(ctx, name)
	if err != nil {
		return nil, false, apperrors.ErrStorage.WithError(err)
	}
	if class == nil {
		return nil, false, nil
	}
	return class, true, nil
}

func (o *Orchestrator) generateAndSave(ctx context.Context, name string, progress classgen.ProgressFunc) (*entity.Class, error) {
	class, err := o.generator.Generate(ctx, name, progress)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperrors.ErrGenerationFailed.WithError(err)
	}
	if class == nil {
		return nil, apperrors.ErrGenerationFailed.WithDetail("generator returned no class")
	}

	locator, err := o.store.Save(ctx, class)
	if err != nil {
		return nil, apperrors.ErrStorage.WithError(err)
	}
	logger.Info(ctx, "class saved", "locator", locator)
	return class, nil
}

// updateProgress 整体替换进度；任务已被取消时为空操作
func (o *Orchestrator) updateProgress(ctx context.Context, jobID string, s entity.ProgressSnapshot) {
	o.mu.Lock()
	rec, ok := o.jobs[jobID]
	if !ok || rec.job.Status != entity.JobStatusRunning {
		o.mu.Unlock()
		return
	}
	rec.job.UpdateProgress(s)
	snap := rec.job.Clone()
	o.mu.Unlock()

	o.publish(ctx, EventJobProgress, snap)
}

func (o *Orchestrator) complete(ctx context.Context, jobID string, class *entity.Class, reused bool) {
	o.mu.Lock()
	rec, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		logger.Info(ctx, "job finished after cancellation, result discarded")
		return
	}
	if rec.job.Progress == nil || !rec.job.Progress.Done() {
		lessons := class.LessonCount()
		rec.job.UpdateProgress(entity.NewProgressSnapshot(len(class.Units), len(class.Units), lessons, lessons, rec.job.Duration()))
	}
	rec.job.Complete(class, reused)
	rec.cancel = nil
	snap := rec.job.Clone()
	o.mu.Unlock()

	status := "completed"
	if reused {
		status = "reused"
	}
	metrics.JobsTotal.WithLabelValues(status).Inc()
	metrics.JobDuration.WithLabelValues(status).Observe(snap.Duration().Seconds())

	logger.Info(ctx, "job completed",
		"reused", reused,
		"units", len(class.Units),
		"lessons", class.LessonCount(),
		"duration_ms", snap.Duration().Milliseconds(),
	)
	o.publish(ctx, EventJobCompleted, snap)
}

func (o *Orchestrator) fail(ctx context.Context, jobID string, err error) {
	o.mu.Lock()
	rec, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		logger.Info(ctx, "job stopped after cancellation", "error", err.Error())
		return
	}
	rec.job.Fail(err.Error())
	rec.cancel = nil
	snap := rec.job.Clone()
	o.mu.Unlock()

	metrics.JobsTotal.WithLabelValues("failed").Inc()
	metrics.JobDuration.WithLabelValues("failed").Observe(snap.Duration().Seconds())
	logger.Error(ctx, "job failed", err)
	o.publish(ctx, EventJobFailed, snap)
}

func (o *Orchestrator) publish(ctx context.Context, t EventType, job *entity.GenerationJob) {
	if o.events == nil {
		return
	}
	// 任务 ctx 可能已被取消，事件仍需送达
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.events.PublishJobEvent(pubCtx, newJobEvent(t, job)); err != nil {
		logger.Warn(ctx, "failed to publish job event", "type", string(t), "job_id", job.ID, "error", err.Error())
	}
}
