package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"z-class-ai-api/internal/domain/entity"
)

type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errors.New("connection refused")
	}
	v, ok := m.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (m *memCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func (m *memCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memCache) GetOrLoadSafe(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) (any, error)) ([]byte, error) {
	if v, err := m.Get(ctx, key); err == nil {
		return v, nil
	} else if !IsNil(err) {
		return nil, err
	}
	data, err := loader(ctx)
	if err != nil || data == nil {
		return nil, err
	}
	if err := m.Set(ctx, key, data, ttl); err != nil {
		return nil, err
	}
	return m.Get(ctx, key)
}

type countingStore struct {
	classes map[string]*entity.Class
	gets    int
	exists  int
	err     error
}

func (s *countingStore) Exists(_ context.Context, name string) (bool, error) {
	s.exists++
	_, ok := s.classes[name]
	return ok, s.err
}

func (s *countingStore) Get(_ context.Context, name string) (*entity.Class, error) {
	s.gets++
	if s.err != nil {
		return nil, s.err
	}
	return s.classes[name], nil
}

// Save 先写者胜出
func (s *countingStore) Save(_ context.Context, c *entity.Class) (string, error) {
	if _, ok := s.classes[c.Name]; !ok {
		s.classes[c.Name] = c
	}
	return "mem://" + c.Name, nil
}

func (s *countingStore) List(context.Context) ([]entity.ClassPreview, error) {
	out := make([]entity.ClassPreview, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c.Preview())
	}
	return out, nil
}

func sampleClass(name string) *entity.Class {
	c := entity.NewClass(name)
	u := entity.NewUnit("Basics")
	u.AddLesson(&entity.Lesson{Name: "Intro", Content: "# Intro", PracticeProblems: []entity.PracticeProblem{}})
	c.AddUnit(u)
	return c
}

func TestCachedClassRepositoryReadThrough(t *testing.T) {
	store := &countingStore{classes: map[string]*entity.Class{"Go": sampleClass("Go")}}
	cache := newMemCache()
	repo := NewCachedClassRepository(store, cache, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c, err := repo.Get(ctx, "Go")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if c == nil || c.Name != "Go" || c.LessonCount() != 1 {
			t.Fatalf("Get = %+v", c)
		}
	}
	if store.gets != 1 {
		t.Errorf("store gets = %d, want 1", store.gets)
	}

	ok, err := repo.Exists(ctx, "Go")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if store.exists != 0 {
		t.Errorf("cache hit should not reach store, exists calls = %d", store.exists)
	}
}

func TestCachedClassRepositoryMissIsNotCached(t *testing.T) {
	store := &countingStore{classes: map[string]*entity.Class{}}
	cache := newMemCache()
	repo := NewCachedClassRepository(store, cache, time.Hour)
	ctx := context.Background()

	c, err := repo.Get(ctx, "Missing")
	if err != nil || c != nil {
		t.Fatalf("Get = %+v, %v; want nil, nil", c, err)
	}
	if len(cache.data) != 0 {
		t.Errorf("absent class was cached: %v", cache.data)
	}

	if _, err := repo.Save(ctx, sampleClass("Missing")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if c, err := repo.Get(ctx, "Missing"); err != nil || c == nil {
		t.Fatalf("Get after save = %+v, %v", c, err)
	}
	if _, ok := cache.data[classKey("Missing")]; !ok {
		t.Error("Get after save did not populate cache")
	}
}

func TestCachedClassRepositoryServesFirstSavedVersion(t *testing.T) {
	store := &countingStore{classes: map[string]*entity.Class{}}
	cache := newMemCache()
	repo := NewCachedClassRepository(store, cache, time.Hour)
	ctx := context.Background()

	first := entity.NewClass("Go")
	first.AddUnit(entity.NewUnit("first"))
	second := entity.NewClass("Go")
	second.AddUnit(entity.NewUnit("second"))

	if _, err := repo.Save(ctx, first); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Get(ctx, "Go"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Save(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, "Go")
	if err != nil || got == nil {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if got.Units[0].Name != "first" {
		t.Errorf("cached unit = %q, want the stored first version", got.Units[0].Name)
	}
}

func TestCachedClassRepositoryFallsBackWhenCacheDown(t *testing.T) {
	store := &countingStore{classes: map[string]*entity.Class{"Go": sampleClass("Go")}}
	cache := newMemCache()
	cache.failGet = true
	repo := NewCachedClassRepository(store, cache, time.Hour)
	ctx := context.Background()

	ok, err := repo.Exists(ctx, "Go")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	c, err := repo.Get(ctx, "Go")
	if err != nil || c == nil {
		t.Fatalf("Get = %+v, %v", c, err)
	}
}

func TestCachedClassRepositoryPropagatesStoreError(t *testing.T) {
	boom := errors.New("disk gone")
	store := &countingStore{classes: map[string]*entity.Class{}, err: boom}
	repo := NewCachedClassRepository(store, newMemCache(), time.Hour)

	if _, err := repo.Get(context.Background(), "Go"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if store.gets != 1 {
		t.Errorf("store gets = %d, want 1", store.gets)
	}
}
