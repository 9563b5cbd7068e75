package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"z-class-ai-api/internal/domain/entity"
	"z-class-ai-api/pkg/metrics"
)

const backendLabel = "postgres"

// ClassRepository 课程文档仓储实现
type ClassRepository struct {
	client *Client
}

// NewClassRepository 创建课程仓储
func NewClassRepository(client *Client) *ClassRepository {
	return &ClassRepository{client: client}
}

// Exists 判断课程是否已持久化
func (r *ClassRepository) Exists(ctx context.Context, name string) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.ClassRepository.Exists")
	defer span.End()

	var count int64
	if err := getDB(ctx, r.client.db).Model(&ClassModel{}).Where("name = ?", name).Count(&count).Error; err != nil {
		span.RecordError(err)
		observe("exists", err)
		return false, fmt.Errorf("failed to check class: %w", err)
	}
	observe("exists", nil)
	return count > 0, nil
}

// Get 读取课程，不存在时返回 nil, nil
func (r *ClassRepository) Get(ctx context.Context, name string) (*entity.Class, error) {
	ctx, span := tracer.Start(ctx, "postgres.ClassRepository.Get")
	defer span.End()

	var m ClassModel
	if err := getDB(ctx, r.client.db).First(&m, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observe("get", nil)
			return nil, nil
		}
		span.RecordError(err)
		observe("get", err)
		return nil, fmt.Errorf("failed to get class: %w", err)
	}
	c, err := m.toEntity()
	observe("get", err)
	return c, err
}

// Save 写入课程；同名课程已存在时保留先写入的版本
func (r *ClassRepository) Save(ctx context.Context, c *entity.Class) (string, error) {
	ctx, span := tracer.Start(ctx, "postgres.ClassRepository.Save")
	defer span.End()

	m, err := newClassModel(c)
	if err != nil {
		observe("save", err)
		return "", err
	}
	err = getDB(ctx, r.client.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(m).Error
	observe("save", err)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to save class: %w", err)
	}
	return "postgres://classes/" + c.Name, nil
}

// List 按更新时间倒序列出课程预览
func (r *ClassRepository) List(ctx context.Context) ([]entity.ClassPreview, error) {
	ctx, span := tracer.Start(ctx, "postgres.ClassRepository.List")
	defer span.End()

	var rows []ClassModel
	err := getDB(ctx, r.client.db).
		Select("name", "unit_names", "first_lesson", "lesson_count", "updated_at").
		Order("updated_at DESC").
		Find(&rows).Error
	observe("list", err)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}

	out := make([]entity.ClassPreview, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toPreview())
	}
	return out, nil
}

func observe(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ClassStoreOps.WithLabelValues(backendLabel, op, status).Inc()
}
