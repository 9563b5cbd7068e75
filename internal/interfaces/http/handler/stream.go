// Package handler 提供 HTTP 请求处理器
package handler

import (
	"io"
	"time"

	"z-class-ai-api/internal/domain/entity"
	"z-class-ai-api/internal/interfaces/http/dto"
	"z-class-ai-api/pkg/errors"

	"github.com/gin-gonic/gin"
)

// StreamHandler 任务进度 SSE 推送
type StreamHandler struct {
	jobs     JobService
	interval time.Duration
}

// NewStreamHandler 创建流式响应处理器
func NewStreamHandler(jobs JobService, interval time.Duration) *StreamHandler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &StreamHandler{
		jobs:     jobs,
		interval: interval,
	}
}

// StreamJob 以 SSE 推送任务进度，任务结束或被取消后关闭连接
// @Summary 订阅任务进度
// @Tags Jobs
// @Produce text/event-stream
// @Param jid path string true "任务 ID"
// @Success 200 "SSE stream"
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/jobs/{jid}/stream [get]
func (h *StreamHandler) StreamJob(c *gin.Context) {
	jobID := dto.BindJobID(c)

	job, ok := h.jobs.Status(jobID)
	if !ok {
		respondError(c, errors.ErrJobNotFound.WithDetail(jobID), "job not found")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last *entity.GenerationJob
	emit := func(job *entity.GenerationJob) bool {
		if job.Status.IsTerminal() {
			c.SSEvent(string(job.Status), dto.ToJobResponse(job, false))
			return false
		}
		if last == nil || last.Status != job.Status || progressChanged(last.Progress, job.Progress) {
			c.SSEvent("progress", dto.ToJobResponse(job, false))
		}
		last = job
		return true
	}

	first := true
	c.Stream(func(w io.Writer) bool {
		if first {
			first = false
			return emit(job)
		}
		select {
		case <-ticker.C:
			current, ok := h.jobs.Status(jobID)
			if !ok {
				c.SSEvent("cancelled", gin.H{"id": jobID})
				return false
			}
			return emit(current)
		case <-c.Request.Context().Done():
			// 客户端断开
			return false
		}
	})
}

func progressChanged(prev, next *entity.ProgressSnapshot) bool {
	if prev == nil || next == nil {
		return prev != next
	}
	return prev.UnitsDone != next.UnitsDone ||
		prev.LessonsDone != next.LessonsDone ||
		prev.UnitsTotal != next.UnitsTotal ||
		prev.LessonsTotal != next.LessonsTotal
}
