package jobs

import (
	"context"
	"time"

	"z-class-ai-api/internal/domain/entity"
)

// EventType 任务生命周期事件类型
type EventType string

const (
	EventJobSubmitted EventType = "job.submitted"
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"
)

// JobEvent 任务事件，携带任务快照
type JobEvent struct {
	Type       EventType                `json:"type"`
	JobID      string                   `json:"job_id"`
	ClassName  string                   `json:"class_name"`
	Status     entity.JobStatus         `json:"status"`
	Progress   *entity.ProgressSnapshot `json:"progress,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Reused     bool                     `json:"reused,omitempty"`
	OccurredAt time.Time                `json:"occurred_at"`
}

// EventPublisher 任务事件发布端口
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event *JobEvent) error
}

func newJobEvent(t EventType, job *entity.GenerationJob) *JobEvent {
	return &JobEvent{
		Type:       t,
		JobID:      job.ID,
		ClassName:  job.ClassName,
		Status:     job.Status,
		Progress:   job.Progress,
		Error:      job.Error,
		Reused:     job.Reused,
		OccurredAt: time.Now(),
	}
}
