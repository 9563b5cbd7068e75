// Package entity 定义领域实体
package entity

import (
	"time"
)

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal 是否为终态
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// GenerationJob 课程生成任务
// 只由执行它的 worker 修改，查询方拿到的都是 Clone 后的副本
type GenerationJob struct {
	ID          string            `json:"id"`
	ClassName   string            `json:"class_name"`
	Status      JobStatus         `json:"status"`
	Progress    *ProgressSnapshot `json:"progress,omitempty"`
	Result      *Class            `json:"-"`
	Error       string            `json:"error,omitempty"`
	Reused      bool              `json:"reused"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// NewGenerationJob 创建新任务
func NewGenerationJob(id, className string) *GenerationJob {
	return &GenerationJob{
		ID:        id,
		ClassName: className,
		Status:    JobStatusPending,
		CreatedAt: time.Now(),
	}
}

// Start 开始执行任务
func (j *GenerationJob) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

// Complete 完成任务
func (j *GenerationJob) Complete(result *Class, reused bool) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Result = result
	j.Reused = reused
	j.CompletedAt = &now
}

// Fail 任务失败
func (j *GenerationJob) Fail(errMsg string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = errMsg
	j.CompletedAt = &now
}

// UpdateProgress 整体替换进度快照
func (j *GenerationJob) UpdateProgress(p ProgressSnapshot) {
	cp := p.Clone()
	j.Progress = &cp
}

// Duration 任务执行耗时
func (j *GenerationJob) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

// Clone 返回任务副本；Result 持久化后不可变，共享引用
func (j *GenerationJob) Clone() *GenerationJob {
	cp := *j
	if j.Progress != nil {
		p := j.Progress.Clone()
		cp.Progress = &p
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
