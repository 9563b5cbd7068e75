// Package gcs 在 Google Cloud Storage 中持久化课程文档
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"z-class-ai-api/internal/config"
	"z-class-ai-api/internal/domain/entity"
	"z-class-ai-api/pkg/logger"
	"z-class-ai-api/pkg/metrics"
)

const (
	backendLabel = "gcs"
	objectExt    = ".json"

	metaFirstUnit   = "first_unit"
	metaFirstLesson = "first_lesson"
	metaUnitCount   = "unit_count"
	metaLessonCount = "lesson_count"
)

var tracer = otel.Tracer("gcs")

// Store GCS 课程仓储，对象名为 <prefix><class_name>.json
type Store struct {
	client     *storage.Client
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
}

// NewStore 使用默认凭据创建 GCS 仓储
func NewStore(ctx context.Context, cfg *config.GCSStorageConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &Store{
		client:     client,
		bucket:     client.Bucket(cfg.Bucket),
		bucketName: cfg.Bucket,
		prefix:     cfg.Prefix,
	}, nil
}

// Close 关闭客户端
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) objectName(name string) string {
	return s.prefix + name + objectExt
}

// Exists 判断课程对象是否存在
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	ctx, span := tracer.Start(ctx, "gcs.Exists")
	defer span.End()

	_, err := s.bucket.Object(s.objectName(name)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		observe("exists", nil)
		return false, nil
	}
	observe("exists", err)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("stat gcs object: %w", err)
	}
	return true, nil
}

// Get 读取课程，不存在时返回 nil, nil
func (s *Store) Get(ctx context.Context, name string) (*entity.Class, error) {
	ctx, span := tracer.Start(ctx, "gcs.Get")
	defer span.End()

	r, err := s.bucket.Object(s.objectName(name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		observe("get", nil)
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		observe("get", err)
		return nil, fmt.Errorf("open gcs object: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		span.RecordError(err)
		observe("get", err)
		return nil, fmt.Errorf("read gcs object: %w", err)
	}
	var c entity.Class
	if err := json.Unmarshal(data, &c); err != nil {
		observe("get", err)
		return nil, fmt.Errorf("decode class object %q: %w", name, err)
	}
	if c.Units == nil {
		c.Units = []*entity.Unit{}
	}
	observe("get", nil)
	return &c, nil
}

// Save 仅在对象不存在时写入；对象已存在视为成功，保留先写入的版本
func (s *Store) Save(ctx context.Context, c *entity.Class) (string, error) {
	ctx, span := tracer.Start(ctx, "gcs.Save")
	defer span.End()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		observe("save", err)
		return "", fmt.Errorf("encode class: %w", err)
	}

	obj := s.objectName(c.Name)
	w := s.bucket.Object(obj).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = previewMetadata(c.Preview())

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		span.RecordError(err)
		observe("save", err)
		return "", fmt.Errorf("write gcs object: %w", err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			logger.Info(ctx, "class object already exists, keeping existing version", "object", obj)
		} else {
			span.RecordError(err)
			observe("save", err)
			return "", fmt.Errorf("finalize gcs object: %w", err)
		}
	}
	observe("save", nil)
	return fmt.Sprintf("gs://%s/%s", s.bucketName, obj), nil
}

// List 基于对象元数据列出课程预览，不下载文档
func (s *Store) List(ctx context.Context) ([]entity.ClassPreview, error) {
	ctx, span := tracer.Start(ctx, "gcs.List")
	defer span.End()

	out := []entity.ClassPreview{}
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			span.RecordError(err)
			observe("list", err)
			return nil, fmt.Errorf("list gcs objects: %w", err)
		}
		if p, ok := previewFromAttrs(s.prefix, attrs); ok {
			out = append(out, p)
		}
	}
	observe("list", nil)

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func previewMetadata(p entity.ClassPreview) map[string]string {
	return map[string]string{
		metaFirstUnit:   p.FirstUnit,
		metaFirstLesson: p.FirstLesson,
		metaUnitCount:   strconv.Itoa(p.UnitCount),
		metaLessonCount: strconv.Itoa(p.LessonCount),
	}
}

func previewFromAttrs(prefix string, attrs *storage.ObjectAttrs) (entity.ClassPreview, bool) {
	rest, ok := strings.CutPrefix(attrs.Name, prefix)
	if !ok || strings.Contains(rest, "/") {
		return entity.ClassPreview{}, false
	}
	name, ok := strings.CutSuffix(rest, objectExt)
	if !ok || name == "" {
		return entity.ClassPreview{}, false
	}
	units, _ := strconv.Atoi(attrs.Metadata[metaUnitCount])
	lessons, _ := strconv.Atoi(attrs.Metadata[metaLessonCount])
	return entity.ClassPreview{
		Name:        name,
		FirstUnit:   attrs.Metadata[metaFirstUnit],
		FirstLesson: attrs.Metadata[metaFirstLesson],
		UnitCount:   units,
		LessonCount: lessons,
		UpdatedAt:   attrs.Updated,
	}, true
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

func observe(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ClassStoreOps.WithLabelValues(backendLabel, op, status).Inc()
}
