// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"z-class-ai-api/internal/domain/entity"
)

// SubmitJobRequest 提交课程生成任务请求
type SubmitJobRequest struct {
	ClassName string `json:"class_name" form:"class_name" binding:"required,max=200"`
}

// SubmitJobResponse 提交任务响应
type SubmitJobResponse struct {
	JobID     string `json:"job_id"`
	ClassName string `json:"class_name"`
	Status    string `json:"status"`
}

// EnqueueJobResponse 通过消息队列投递的生成请求
type EnqueueJobResponse struct {
	RequestID string `json:"request_id"`
	MessageID string `json:"message_id"`
	ClassName string `json:"class_name"`
}

// ProgressResponse 进度快照
type ProgressResponse struct {
	UnitsTotal                int      `json:"units_total"`
	UnitsDone                 int      `json:"units_done"`
	LessonsTotal              int      `json:"lessons_total"`
	LessonsDone               int      `json:"lessons_done"`
	Percent                   int      `json:"percent"`
	ElapsedSeconds            float64  `json:"elapsed_seconds"`
	EstimatedSecondsRemaining *float64 `json:"estimated_seconds_remaining,omitempty"`
}

// JobResponse 任务响应
type JobResponse struct {
	ID          string            `json:"id"`
	ClassName   string            `json:"class_name"`
	Status      string            `json:"status"`
	Progress    *ProgressResponse `json:"progress,omitempty"`
	Reused      bool              `json:"reused"`
	Error       string            `json:"error,omitempty"`
	Class       *ClassResponse    `json:"class,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// JobListResponse 任务列表响应
type JobListResponse struct {
	Jobs []*JobResponse `json:"jobs"`
}

// CancelJobResponse 取消任务响应
type CancelJobResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

// ToProgressResponse 转换进度快照
func ToProgressResponse(p *entity.ProgressSnapshot) *ProgressResponse {
	if p == nil {
		return nil
	}
	return &ProgressResponse{
		UnitsTotal:                p.UnitsTotal,
		UnitsDone:                 p.UnitsDone,
		LessonsTotal:              p.LessonsTotal,
		LessonsDone:               p.LessonsDone,
		Percent:                   p.Percent,
		ElapsedSeconds:            p.ElapsedSeconds,
		EstimatedSecondsRemaining: p.EstimatedSecondsRemaining,
	}
}

// ToJobResponse 将领域实体转换为响应 DTO
// withResult 为 true 时附带已完成任务的课程文档
func ToJobResponse(j *entity.GenerationJob, withResult bool) *JobResponse {
	if j == nil {
		return nil
	}

	resp := &JobResponse{
		ID:          j.ID,
		ClassName:   j.ClassName,
		Status:      string(j.Status),
		Progress:    ToProgressResponse(j.Progress),
		Reused:      j.Reused,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.StartedAt != nil {
		resp.DurationMs = j.Duration().Milliseconds()
	}
	if withResult && j.Status == entity.JobStatusCompleted {
		resp.Class = ToClassResponse(j.Result)
	}
	return resp
}

// ToJobListResponse 将领域实体列表转换为响应 DTO
func ToJobListResponse(jobs []*entity.GenerationJob) *JobListResponse {
	resp := &JobListResponse{
		Jobs: make([]*JobResponse, 0, len(jobs)),
	}

	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, ToJobResponse(j, false))
	}

	return resp
}
