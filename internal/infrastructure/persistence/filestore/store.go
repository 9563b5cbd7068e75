// Package filestore 以 <dir>/<class_name>.json 的形式在本地磁盘持久化课程
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"

	"z-class-ai-api/internal/domain/entity"
	"z-class-ai-api/pkg/logger"
	"z-class-ai-api/pkg/metrics"
)

const (
	fileExt      = ".json"
	backendLabel = "file"
)

var tracer = otel.Tracer("filestore")

// Store 本地文件课程仓储
type Store struct {
	dir string
}

// NewStore 创建文件仓储，目录在首次写入时创建
func NewStore(dir string) *Store {
	if strings.TrimSpace(dir) == "" {
		dir = "classes"
	}
	return &Store{dir: dir}
}

// Dir 存储目录
func (s *Store) Dir() string {
	return s.dir
}

// fileName 课程名中的路径分隔符替换为下划线，避免写出存储目录
func fileName(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
	if safe == "." || safe == ".." {
		safe = "_" + safe
	}
	return safe + fileExt
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, fileName(name))
}

// Exists 判断课程文件是否存在，文件名冲突的其他课程不算
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, span := tracer.Start(ctx, "filestore.Exists")
	defer span.End()

	c, err := s.load(name)
	observe("exists", err)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return c != nil, nil
}

// Get 读取课程，不存在时返回 nil, nil
func (s *Store) Get(ctx context.Context, name string) (*entity.Class, error) {
	_, span := tracer.Start(ctx, "filestore.Get")
	defer span.End()

	c, err := s.load(name)
	observe("get", err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c, nil
}

// load 读取文件并校验课程名，"a/b" 与 "a_b" 映射到同一文件
func (s *Store) load(name string) (*entity.Class, error) {
	c, err := readClass(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Name != name {
		return nil, nil
	}
	return c, nil
}

// Save 原子写入课程文件，返回文件路径
// 文件已存在时保留先写入的版本
func (s *Store) Save(ctx context.Context, c *entity.Class) (string, error) {
	_, span := tracer.Start(ctx, "filestore.Save")
	defer span.End()

	path, err := s.write(c)
	observe("save", err)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return path, nil
}

func (s *Store) write(c *entity.Class) (string, error) {
	data, err := encodeClass(c)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create class directory: %w", err)
	}

	path := s.path(c.Name)
	tmp, err := os.CreateTemp(s.dir, ".class-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	defer os.Remove(tmpPath)

	// Link 不覆盖已有文件
	err = os.Link(tmpPath, path)
	if errors.Is(err, fs.ErrExist) {
		existing, rerr := readClass(path)
		if rerr != nil {
			return "", fmt.Errorf("read existing class file: %w", rerr)
		}
		if existing.Name != c.Name {
			return "", fmt.Errorf("class file %s already holds class %q", filepath.Base(path), existing.Name)
		}
		return path, nil
	}
	if err != nil {
		return "", fmt.Errorf("link class file: %w", err)
	}
	return path, nil
}

// List 列出目录中全部课程预览，按课程名排序；无法解析的文件被跳过
func (s *Store) List(ctx context.Context) ([]entity.ClassPreview, error) {
	ctx, span := tracer.Start(ctx, "filestore.List")
	defer span.End()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		observe("list", nil)
		return []entity.ClassPreview{}, nil
	}
	if err != nil {
		span.RecordError(err)
		observe("list", err)
		return nil, fmt.Errorf("read class directory: %w", err)
	}

	out := make([]entity.ClassPreview, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		c, err := readClass(path)
		if err != nil {
			logger.Warn(ctx, "skip unreadable class file", "path", path, "error", err.Error())
			continue
		}
		p := c.Preview()
		if info, err := e.Info(); err == nil {
			p.UpdatedAt = info.ModTime()
		}
		out = append(out, p)
	}
	observe("list", nil)

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// encodeClass 两空格缩进，不转义 HTML 字符，保持 markdown 原文可读
func encodeClass(c *entity.Class) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode class: %w", err)
	}
	return buf.Bytes(), nil
}

func readClass(path string) (*entity.Class, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c entity.Class
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode class file %s: %w", filepath.Base(path), err)
	}
	if c.Units == nil {
		c.Units = []*entity.Unit{}
	}
	return &c, nil
}

func observe(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ClassStoreOps.WithLabelValues(backendLabel, op, status).Inc()
}
