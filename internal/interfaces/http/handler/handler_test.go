package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"z-class-ai-api/internal/domain/entity"
	"z-class-ai-api/internal/infrastructure/messaging"
	"z-class-ai-api/internal/interfaces/http/dto"
	"z-class-ai-api/pkg/errors"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[string]*entity.GenerationJob
	order     []string
	submitErr error
	submitted []string
	cancelled []string
}

func newFakeJobs(jobs ...*entity.GenerationJob) *fakeJobs {
	f := &fakeJobs{jobs: make(map[string]*entity.GenerationJob)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
		f.order = append(f.order, j.ID)
	}
	return f
}

func (f *fakeJobs) Submit(_ context.Context, className string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, className)
	id := "job-" + string(rune('0'+len(f.submitted)))
	f.jobs[id] = entity.NewGenerationJob(id, entity.NormalizeClassName(className))
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeJobs) Status(jobID string) (*entity.GenerationJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

func (f *fakeJobs) Cancel(_ context.Context, jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok || j.Status.IsTerminal() {
		return false
	}
	delete(f.jobs, jobID)
	f.cancelled = append(f.cancelled, jobID)
	return true
}

func (f *fakeJobs) List() []*entity.GenerationJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entity.GenerationJob, 0, len(f.jobs))
	for _, id := range f.order {
		if j, ok := f.jobs[id]; ok {
			out = append(out, j.Clone())
		}
	}
	return out
}

type fakePublisher struct {
	got []*messaging.ClassGenMessage
	err error
}

func (p *fakePublisher) PublishClassGen(_ context.Context, req *messaging.ClassGenMessage) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.got = append(p.got, req)
	return "1700000000000-0", nil
}

type fakeClasses struct {
	classes map[string]*entity.Class
	err     error
}

func (f *fakeClasses) Get(_ context.Context, name string) (*entity.Class, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.classes[name], nil
}

func (f *fakeClasses) List(_ context.Context) ([]entity.ClassPreview, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]entity.ClassPreview, 0, len(f.classes))
	for _, c := range f.classes {
		out = append(out, c.Preview())
	}
	return out, nil
}

type envelope struct {
	Code    int              `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
	Meta    *dto.PageMeta    `json:"meta"`
	Error   *dto.ErrorDetail `json:"error"`
}

func newEngine(jobs JobService, pub ClassGenPublisher, classes ClassReader) *gin.Engine {
	r := gin.New()
	jh := NewJobHandler(jobs, pub)
	ch := NewClassHandler(classes)
	sh := NewStreamHandler(jobs, 5*time.Millisecond)

	r.GET("/v1/jobs", jh.ListJobs)
	r.POST("/v1/jobs", jh.SubmitJob)
	r.POST("/v1/jobs/enqueue", jh.EnqueueJob)
	r.GET("/v1/jobs/:jid", jh.GetJob)
	r.DELETE("/v1/jobs/:jid", jh.CancelJob)
	r.GET("/v1/jobs/:jid/stream", sh.StreamJob)
	r.GET("/v1/classes", ch.ListClasses)
	r.GET("/v1/classes/:name", ch.GetClass)
	r.GET("/v1/classes/:name/units/:unit/lessons/:lesson", ch.GetLesson)
	return r
}

func do(t *testing.T, r http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, target, w.Body.String(), err)
		}
	}
	return w, env
}

func sampleClass() *entity.Class {
	c := entity.NewClass("Linear Algebra")
	u := entity.NewUnit("Vectors")
	u.AddLesson(&entity.Lesson{
		Name:    "Dot Product",
		Content: "# Dot Product\n\nSum of products.",
		PracticeProblems: []entity.PracticeProblem{
			{Problem: "(1,2)·(3,4)?", Solution: "11"},
		},
	})
	c.AddUnit(u)
	return c
}

func TestSubmitJob(t *testing.T) {
	jobs := newFakeJobs()
	r := newEngine(jobs, nil, &fakeClasses{})

	w, env := do(t, r, http.MethodPost, "/v1/jobs", `{"class_name":"  Linear   Algebra "}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	var resp dto.SubmitJobResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID != "job-1" || resp.ClassName != "Linear Algebra" || resp.Status != "pending" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if loc := w.Header().Get("Location"); loc != "/v1/jobs/job-1" {
		t.Errorf("Location = %q", loc)
	}
}

func TestSubmitJobErrors(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		submitErr error
		status    int
		errCode   string
	}{
		{name: "missing class name", body: `{}`, status: http.StatusBadRequest},
		{name: "blank class name", body: `{"class_name":"   "}`, submitErr: errors.ErrInvalidParam.WithDetail("class name is blank"), status: http.StatusBadRequest, errCode: string(errors.CodeInvalidParam)},
		{name: "queue full", body: `{"class_name":"Physics"}`, submitErr: errors.ErrQueueFull, status: http.StatusServiceUnavailable, errCode: string(errors.CodeServiceUnavailable)},
		{name: "unexpected error", body: `{"class_name":"Physics"}`, submitErr: stderrors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jobs := newFakeJobs()
			jobs.submitErr = tc.submitErr
			r := newEngine(jobs, nil, &fakeClasses{})

			w, env := do(t, r, http.MethodPost, "/v1/jobs", tc.body)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.status, w.Body.String())
			}
			if tc.errCode != "" && (env.Error == nil || env.Error.ErrorCode != tc.errCode) {
				t.Errorf("error detail = %+v, want code %s", env.Error, tc.errCode)
			}
		})
	}
}

func TestEnqueueJob(t *testing.T) {
	t.Run("messaging disabled", func(t *testing.T) {
		r := newEngine(newFakeJobs(), nil, &fakeClasses{})
		w, _ := do(t, r, http.MethodPost, "/v1/jobs/enqueue", `{"class_name":"Physics"}`)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", w.Code)
		}
	})

	t.Run("publishes normalized name", func(t *testing.T) {
		pub := &fakePublisher{}
		r := newEngine(newFakeJobs(), pub, &fakeClasses{})
		w, env := do(t, r, http.MethodPost, "/v1/jobs/enqueue", `{"class_name":" Organic  Chemistry"}`)
		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
		}
		if len(pub.got) != 1 || pub.got[0].ClassName != "Organic Chemistry" {
			t.Fatalf("published = %+v", pub.got)
		}
		var resp dto.EnqueueJobResponse
		if err := json.Unmarshal(env.Data, &resp); err != nil {
			t.Fatal(err)
		}
		if resp.MessageID != "1700000000000-0" {
			t.Errorf("message id = %q", resp.MessageID)
		}
	})

	t.Run("publish failure", func(t *testing.T) {
		pub := &fakePublisher{err: stderrors.New("redis down")}
		r := newEngine(newFakeJobs(), pub, &fakeClasses{})
		w, _ := do(t, r, http.MethodPost, "/v1/jobs/enqueue", `{"class_name":"Physics"}`)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", w.Code)
		}
	})
}

func TestGetJob(t *testing.T) {
	done := entity.NewGenerationJob("done", "Linear Algebra")
	done.Start()
	done.UpdateProgress(entity.NewProgressSnapshot(1, 1, 1, 1, time.Second))
	done.Complete(sampleClass(), true)
	r := newEngine(newFakeJobs(done), nil, &fakeClasses{})

	w, env := do(t, r, http.MethodGet, "/v1/jobs/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if env.Error == nil || env.Error.ErrorCode != string(errors.CodeJobNotFound) {
		t.Errorf("error = %+v, want job not found", env.Error)
	}

	for _, tc := range []struct {
		query     string
		wantClass bool
	}{
		{"", false},
		{"?include_class=true", true},
	} {
		w, env = do(t, r, http.MethodGet, "/v1/jobs/done"+tc.query, "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var resp dto.JobResponse
		if err := json.Unmarshal(env.Data, &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Status != "completed" || !resp.Reused || resp.Progress == nil || resp.Progress.Percent != 100 {
			t.Errorf("unexpected job response: %+v", resp)
		}
		if (resp.Class != nil) != tc.wantClass {
			t.Errorf("query %q: class present = %v, want %v", tc.query, resp.Class != nil, tc.wantClass)
		}
	}
}

func TestCancelJob(t *testing.T) {
	running := entity.NewGenerationJob("running", "Physics")
	running.Start()
	failed := entity.NewGenerationJob("failed", "Chemistry")
	failed.Fail("boom")
	jobs := newFakeJobs(running, failed)
	r := newEngine(jobs, nil, &fakeClasses{})

	cases := []struct {
		id     string
		status int
	}{
		{"missing", http.StatusNotFound},
		{"failed", http.StatusConflict},
		{"running", http.StatusOK},
		{"running", http.StatusNotFound},
	}
	for _, tc := range cases {
		w, _ := do(t, r, http.MethodDelete, "/v1/jobs/"+tc.id, "")
		if w.Code != tc.status {
			t.Errorf("DELETE %s: status = %d, want %d", tc.id, w.Code, tc.status)
		}
	}
	if len(jobs.cancelled) != 1 || jobs.cancelled[0] != "running" {
		t.Errorf("cancelled = %v", jobs.cancelled)
	}
}

func TestListJobsPaginates(t *testing.T) {
	jobs := newFakeJobs(
		entity.NewGenerationJob("a", "A"),
		entity.NewGenerationJob("b", "B"),
		entity.NewGenerationJob("c", "C"),
	)
	r := newEngine(jobs, nil, &fakeClasses{})

	w, env := do(t, r, http.MethodGet, "/v1/jobs?page=2&page_size=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp dto.JobListResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].ID != "c" {
		t.Errorf("page 2 = %+v", resp.Jobs)
	}
	if env.Meta == nil || env.Meta.Total != 3 || env.Meta.TotalPages != 2 {
		t.Errorf("meta = %+v", env.Meta)
	}
}

func TestClassEndpoints(t *testing.T) {
	classes := &fakeClasses{classes: map[string]*entity.Class{"Linear Algebra": sampleClass()}}
	r := newEngine(newFakeJobs(), nil, classes)

	cases := []struct {
		name    string
		target  string
		status  int
		errCode string
	}{
		{"list", "/v1/classes", http.StatusOK, ""},
		{"class", "/v1/classes/Linear%20Algebra", http.StatusOK, ""},
		{"unknown class", "/v1/classes/Topology", http.StatusNotFound, string(errors.CodeClassNotFound)},
		{"lesson", "/v1/classes/Linear%20Algebra/units/Vectors/lessons/Dot%20Product", http.StatusOK, ""},
		{"unknown lesson", "/v1/classes/Linear%20Algebra/units/Vectors/lessons/Cross%20Product", http.StatusNotFound, string(errors.CodeLessonNotFound)},
		{"lesson in unknown class", "/v1/classes/Topology/units/Vectors/lessons/Dot%20Product", http.StatusNotFound, string(errors.CodeClassNotFound)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := do(t, r, http.MethodGet, tc.target, "")
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.status, w.Body.String())
			}
			if tc.errCode != "" && (env.Error == nil || env.Error.ErrorCode != tc.errCode) {
				t.Errorf("error = %+v, want %s", env.Error, tc.errCode)
			}
		})
	}

	_, env := do(t, r, http.MethodGet, "/v1/classes/Linear%20Algebra/units/Vectors/lessons/Dot%20Product", "")
	var lesson dto.LessonResponse
	if err := json.Unmarshal(env.Data, &lesson); err != nil {
		t.Fatal(err)
	}
	if lesson.UnitName != "Vectors" || !strings.HasPrefix(lesson.Content, "# Dot Product") || len(lesson.PracticeProblems) != 1 {
		t.Errorf("lesson = %+v", lesson)
	}
}

func TestClassEndpointsStorageError(t *testing.T) {
	r := newEngine(newFakeJobs(), nil, &fakeClasses{err: stderrors.New("disk gone")})

	for _, target := range []string{"/v1/classes", "/v1/classes/Physics"} {
		w, env := do(t, r, http.MethodGet, target, "")
		if w.Code != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want 500", target, w.Code)
		}
		if env.Error == nil || env.Error.ErrorCode != string(errors.CodeStorageError) {
			t.Errorf("%s: error = %+v", target, env.Error)
		}
	}
}

// closeNotifyingRecorder 让 gin 的 Stream 可以在 httptest 下运行
type closeNotifyingRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyingRecorder) CloseNotify() <-chan bool {
	return r.closed
}

// sequenceJobs 每次 Status 调用依次返回下一个快照，nil 表示任务已被取消
type sequenceJobs struct {
	*fakeJobs
	mu    sync.Mutex
	steps []*entity.GenerationJob
}

func (s *sequenceJobs) Status(string) (*entity.GenerationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	if step == nil {
		return nil, false
	}
	return step.Clone(), true
}

func streamJob(t *testing.T, jobs JobService) string {
	t.Helper()
	r := gin.New()
	r.GET("/v1/jobs/:jid/stream", NewStreamHandler(jobs, time.Millisecond).StreamJob)

	w := &closeNotifyingRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs/j1/stream", nil))
	return w.Body.String()
}

func TestStreamJob(t *testing.T) {
	pending := entity.NewGenerationJob("j1", "Physics")
	running := pending.Clone()
	running.Start()
	half := running.Clone()
	half.UpdateProgress(entity.NewProgressSnapshot(2, 1, 2, 1, time.Second))
	done := half.Clone()
	done.UpdateProgress(entity.NewProgressSnapshot(2, 2, 2, 2, 2*time.Second))
	done.Complete(sampleClass(), false)

	t.Run("progress until completed", func(t *testing.T) {
		body := streamJob(t, &sequenceJobs{
			fakeJobs: newFakeJobs(),
			steps:    []*entity.GenerationJob{pending, pending, running, half, half, done},
		})
		if got := strings.Count(body, "event:progress"); got != 3 {
			t.Errorf("progress events = %d, want 3\n%s", got, body)
		}
		if !strings.Contains(body, "event:completed") {
			t.Errorf("missing completed event\n%s", body)
		}
	})

	t.Run("cancelled mid stream", func(t *testing.T) {
		body := streamJob(t, &sequenceJobs{
			fakeJobs: newFakeJobs(),
			steps:    []*entity.GenerationJob{running, nil},
		})
		if !strings.Contains(body, "event:cancelled") {
			t.Errorf("missing cancelled event\n%s", body)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		body := streamJob(t, newFakeJobs())
		if !strings.Contains(body, string(errors.CodeJobNotFound)) {
			t.Errorf("expected job not found body, got %s", body)
		}
	})
}
