package repository

import (
	"context"

	"z-class-ai-api/internal/domain/entity"
)

// ClassRepository 课程文档仓储接口
// Exists/Get 必须能读到此前 Save 的结果
type ClassRepository interface {
	// Exists 课程是否已持久化
	Exists(ctx context.Context, name string) (bool, error)

	// Get 读取课程，不存在时返回 (nil, nil)
	Get(ctx context.Context, name string) (*entity.Class, error)

	// Save 持久化课程，返回存储位置（文件路径、gs:// URL 或表主键）
	Save(ctx context.Context, class *entity.Class) (string, error)

	// List 列出全部已持久化课程的预览
	List(ctx context.Context) ([]entity.ClassPreview, error)
}
