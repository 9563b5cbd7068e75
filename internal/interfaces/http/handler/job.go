// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"strings"

	"z-class-ai-api/internal/domain/entity"
	"z-class-ai-api/internal/infrastructure/messaging"
	"z-class-ai-api/internal/interfaces/http/dto"
	"z-class-ai-api/pkg/errors"
	"z-class-ai-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// JobService 任务编排能力（由 jobs.Orchestrator 实现）
type JobService interface {
	Submit(ctx context.Context, className string) (string, error)
	Status(jobID string) (*entity.GenerationJob, bool)
	Cancel(ctx context.Context, jobID string) bool
	List() []*entity.GenerationJob
}

// ClassGenPublisher 向消息队列投递生成请求
type ClassGenPublisher interface {
	PublishClassGen(ctx context.Context, req *messaging.ClassGenMessage) (string, error)
}

// JobHandler 任务处理器
type JobHandler struct {
	jobs      JobService
	publisher ClassGenPublisher
}

// NewJobHandler 创建任务处理器，publisher 可为 nil
func NewJobHandler(jobs JobService, publisher ClassGenPublisher) *JobHandler {
	return &JobHandler{
		jobs:      jobs,
		publisher: publisher,
	}
}

// SubmitJob 提交课程生成任务
// @Summary 提交课程生成任务
// @Description 立即返回任务 ID，生成在后台 worker 池中执行；已持久化的课程直接复用
// @Tags Jobs
// @Accept json
// @Produce json
// @Param body body dto.SubmitJobRequest true "课程名"
// @Success 202 {object} dto.Response[dto.SubmitJobResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse "任务队列已满"
// @Router /v1/jobs [post]
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBind(&req); err != nil {
		dto.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	jobID, err := h.jobs.Submit(c.Request.Context(), req.ClassName)
	if err != nil {
		respondError(c, err, "failed to submit job")
		return
	}

	c.Header("Location", "/v1/jobs/"+jobID)
	dto.Accepted(c, &dto.SubmitJobResponse{
		JobID:     jobID,
		ClassName: entity.NormalizeClassName(req.ClassName),
		Status:    string(entity.JobStatusPending),
	})
}

// EnqueueJob 通过 Redis Stream 投递生成请求，由 job-worker 消费
// @Summary 投递课程生成请求
// @Tags Jobs
// @Accept json
// @Produce json
// @Param body body dto.SubmitJobRequest true "课程名"
// @Success 202 {object} dto.Response[dto.EnqueueJobResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/jobs/enqueue [post]
func (h *JobHandler) EnqueueJob(c *gin.Context) {
	ctx := c.Request.Context()
	if h.publisher == nil {
		respondError(c, errors.ErrServiceUnavailable.WithDetail("messaging disabled"), "messaging disabled")
		return
	}

	var req dto.SubmitJobRequest
	if err := c.ShouldBind(&req); err != nil {
		dto.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	name := entity.NormalizeClassName(req.ClassName)
	if name == "" {
		dto.BadRequest(c, "class_name must not be blank")
		return
	}

	msg := &messaging.ClassGenMessage{
		RequestID: c.GetString("request_id"),
		ClassName: name,
	}
	msgID, err := h.publisher.PublishClassGen(ctx, msg)
	if err != nil {
		logger.Error(ctx, "failed to enqueue class generation", err, "class_name", name)
		dto.ServiceUnavailable(c, "failed to enqueue class generation")
		return
	}

	dto.Accepted(c, &dto.EnqueueJobResponse{
		RequestID: msg.RequestID,
		MessageID: msgID,
		ClassName: name,
	})
}

// GetJob 获取任务详情
// @Summary 获取任务详情
// @Description 获取任务状态与进度；include_class=true 时附带已完成任务的课程文档
// @Tags Jobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Param include_class query bool false "是否附带课程文档"
// @Success 200 {object} dto.Response[dto.JobResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/jobs/{jid} [get]
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := dto.BindJobID(c)

	job, ok := h.jobs.Status(jobID)
	if !ok {
		respondError(c, errors.ErrJobNotFound.WithDetail(jobID), "job not found")
		return
	}

	withClass := strings.EqualFold(c.Query("include_class"), "true")
	dto.Success(c, dto.ToJobResponse(job, withClass))
}

// ListJobs 列出当前进程内的任务
// @Summary 任务列表
// @Tags Jobs
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[dto.JobListResponse]
// @Router /v1/jobs [get]
func (h *JobHandler) ListJobs(c *gin.Context) {
	page := dto.BindPage(c)
	jobs := h.jobs.List()

	dto.SuccessWithPage(c,
		dto.ToJobListResponse(dto.PageOf(jobs, page)),
		dto.NewPageMeta(page.Page, page.PageSize, len(jobs)),
	)
}

// CancelJob 取消任务
// @Summary 取消任务
// @Description 取消未结束的任务；取消后任务不再可查询
// @Tags Jobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.CancelJobResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "任务已结束"
// @Router /v1/jobs/{jid} [delete]
func (h *JobHandler) CancelJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := dto.BindJobID(c)

	job, ok := h.jobs.Status(jobID)
	if !ok {
		respondError(c, errors.ErrJobNotFound.WithDetail(jobID), "job not found")
		return
	}
	if job.Status.IsTerminal() {
		dto.Conflict(c, "job already "+string(job.Status))
		return
	}

	if !h.jobs.Cancel(ctx, jobID) {
		// 查询与取消之间任务已结束
		dto.Conflict(c, "job can no longer be cancelled")
		return
	}

	logger.Info(ctx, "job cancelled via api", "job_id", jobID)
	dto.Success(c, &dto.CancelJobResponse{
		ID:        jobID,
		Cancelled: true,
	})
}
