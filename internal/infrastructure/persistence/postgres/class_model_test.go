package postgres

import (
	"testing"
	"time"

	"z-class-ai-api/internal/domain/entity"
)

func TestClassModelRoundTrip(t *testing.T) {
	c := entity.NewClass("Intro to Testing")
	u := entity.NewUnit("Basics")
	u.AddLesson(&entity.Lesson{Name: "Unit Tests", Content: "# Unit Tests", PracticeProblems: []entity.PracticeProblem{{Problem: "2+2?", Solution: "4"}}})
	c.AddUnit(u)
	c.AddUnit(entity.NewUnit("Advanced"))

	m, err := newClassModel(c)
	if err != nil {
		t.Fatalf("newClassModel: %v", err)
	}
	if len(m.UnitNames) != 2 || m.UnitNames[1] != "Advanced" {
		t.Errorf("unit names = %v", m.UnitNames)
	}
	if m.FirstLesson != "Unit Tests" || m.LessonCount != 1 {
		t.Errorf("first lesson = %q, lesson count = %d", m.FirstLesson, m.LessonCount)
	}

	got, err := m.toEntity()
	if err != nil {
		t.Fatalf("toEntity: %v", err)
	}
	_, l, ok := got.FindLesson("Basics", "Unit Tests")
	if !ok || l.PracticeProblems[0].Solution != "4" {
		t.Errorf("decoded class = %+v", got)
	}

	m.UpdatedAt = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	p := m.toPreview()
	if p.Name != "Intro to Testing" || p.FirstUnit != "Basics" || p.UnitCount != 2 || !p.UpdatedAt.Equal(m.UpdatedAt) {
		t.Errorf("preview = %+v", p)
	}
}

func TestClassModelRejectsCorruptDocument(t *testing.T) {
	m := &ClassModel{Name: "Broken", Document: []byte("{")}
	if _, err := m.toEntity(); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestGormLogLevel(t *testing.T) {
	if gormLogLevel("INFO") != gormLogLevel("info") {
		t.Error("log level parsing should be case-insensitive")
	}
	if gormLogLevel("") != gormLogLevel("warn") {
		t.Error("empty log level should default to warn")
	}
}
