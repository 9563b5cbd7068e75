package redis

import (
	"context"
	"encoding/json"
	"time"

	"z-class-ai-api/internal/domain/entity"
	"z-class-ai-api/internal/domain/repository"
	"z-class-ai-api/pkg/logger"
	"z-class-ai-api/pkg/metrics"
)

const classKeyPrefix = "class:doc:"

// ClassCache CachedClassRepository 依赖的缓存能力
type ClassCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	GetOrLoadSafe(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) (any, error)) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
}

// CachedClassRepository 在课程仓储前加一层 Redis 读穿缓存。
// 底层存储先写者胜出，Save 后删除缓存键，由下一次 Get 回填实际保存的版本。
type CachedClassRepository struct {
	inner repository.ClassRepository
	cache ClassCache
	ttl   time.Duration
}

// NewCachedClassRepository 创建带缓存的课程仓储
func NewCachedClassRepository(inner repository.ClassRepository, cache ClassCache, ttl time.Duration) *CachedClassRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedClassRepository{inner: inner, cache: cache, ttl: ttl}
}

func classKey(name string) string {
	return classKeyPrefix + name
}

// Exists 缓存命中即存在，否则询问底层存储
func (r *CachedClassRepository) Exists(ctx context.Context, name string) (bool, error) {
	if _, err := r.cache.Get(ctx, classKey(name)); err == nil {
		metrics.ClassStoreOps.WithLabelValues("redis", "exists", "hit").Inc()
		return true, nil
	} else if !IsNil(err) {
		logger.Warn(ctx, "class cache lookup failed", "class_name", name, "error", err.Error())
	}
	return r.inner.Exists(ctx, name)
}

// Get 读穿缓存；缓存故障时直接读底层存储
func (r *CachedClassRepository) Get(ctx context.Context, name string) (*entity.Class, error) {
	var loadErr error
	data, err := r.cache.GetOrLoadSafe(ctx, classKey(name), r.ttl, func(ctx context.Context) (any, error) {
		c, err := r.inner.Get(ctx, name)
		if err != nil {
			loadErr = err
			return nil, err
		}
		if c == nil {
			return nil, nil
		}
		return c, nil
	})
	if loadErr != nil {
		return nil, loadErr
	}
	if err != nil {
		logger.Warn(ctx, "class cache read-through failed, falling back to store", "class_name", name, "error", err.Error())
		return r.inner.Get(ctx, name)
	}
	if data == nil {
		return nil, nil
	}

	var c entity.Class
	if err := json.Unmarshal(data, &c); err != nil {
		logger.Warn(ctx, "corrupt class cache entry, falling back to store", "class_name", name, "error", err.Error())
		return r.inner.Get(ctx, name)
	}
	return &c, nil
}

// Save 写底层存储后删除缓存键
func (r *CachedClassRepository) Save(ctx context.Context, c *entity.Class) (string, error) {
	locator, err := r.inner.Save(ctx, c)
	if err != nil {
		return "", err
	}
	if err := r.cache.Delete(ctx, classKey(c.Name)); err != nil {
		logger.Warn(ctx, "failed to invalidate class cache", "class_name", c.Name, "error", err.Error())
	}
	return locator, nil
}

// List 直接读底层存储
func (r *CachedClassRepository) List(ctx context.Context) ([]entity.ClassPreview, error) {
	return r.inner.List(ctx)
}
