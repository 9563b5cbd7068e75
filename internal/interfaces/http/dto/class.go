package dto

import (
	"time"

	"z-class-ai-api/internal/domain/entity"
)

// ClassResponse 课程文档响应，Content 为原始 markdown
type ClassResponse struct {
	Name  string          `json:"class_name"`
	Units []*UnitResponse `json:"units"`
}

// UnitResponse 单元响应
type UnitResponse struct {
	Name    string            `json:"unit_name"`
	Lessons []*LessonResponse `json:"lessons"`
}

// LessonResponse 课时响应
type LessonResponse struct {
	UnitName         string                    `json:"unit_name,omitempty"`
	Name             string                    `json:"lesson_name"`
	Content          string                    `json:"content"`
	PracticeProblems []PracticeProblemResponse `json:"practice_problems"`
}

// PracticeProblemResponse 练习题响应
type PracticeProblemResponse struct {
	Problem  string `json:"problem"`
	Solution string `json:"solution"`
}

// ClassPreviewResponse 课程列表项
type ClassPreviewResponse struct {
	Name        string     `json:"class_name"`
	FirstUnit   string     `json:"first_unit,omitempty"`
	FirstLesson string     `json:"first_lesson,omitempty"`
	UnitCount   int        `json:"unit_count"`
	LessonCount int        `json:"lesson_count"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// ClassListResponse 课程列表响应
type ClassListResponse struct {
	Classes []*ClassPreviewResponse `json:"classes"`
}

// ToClassResponse 转换课程文档
func ToClassResponse(c *entity.Class) *ClassResponse {
	if c == nil {
		return nil
	}
	resp := &ClassResponse{
		Name:  c.Name,
		Units: make([]*UnitResponse, 0, len(c.Units)),
	}
	for _, u := range c.Units {
		ur := &UnitResponse{
			Name:    u.Name,
			Lessons: make([]*LessonResponse, 0, len(u.Lessons)),
		}
		for _, l := range u.Lessons {
			ur.Lessons = append(ur.Lessons, ToLessonResponse("", l))
		}
		resp.Units = append(resp.Units, ur)
	}
	return resp
}

// ToLessonResponse 转换课时
func ToLessonResponse(unitName string, l *entity.Lesson) *LessonResponse {
	resp := &LessonResponse{
		UnitName:         unitName,
		Name:             l.Name,
		Content:          l.Content,
		PracticeProblems: make([]PracticeProblemResponse, 0, len(l.PracticeProblems)),
	}
	for _, p := range l.PracticeProblems {
		resp.PracticeProblems = append(resp.PracticeProblems, PracticeProblemResponse{
			Problem:  p.Problem,
			Solution: p.Solution,
		})
	}
	return resp
}

// ToClassListResponse 转换课程预览列表
func ToClassListResponse(previews []entity.ClassPreview) *ClassListResponse {
	resp := &ClassListResponse{
		Classes: make([]*ClassPreviewResponse, 0, len(previews)),
	}
	for _, p := range previews {
		item := &ClassPreviewResponse{
			Name:        p.Name,
			FirstUnit:   p.FirstUnit,
			FirstLesson: p.FirstLesson,
			UnitCount:   p.UnitCount,
			LessonCount: p.LessonCount,
		}
		if !p.UpdatedAt.IsZero() {
			t := p.UpdatedAt
			item.UpdatedAt = &t
		}
		resp.Classes = append(resp.Classes, item)
	}
	return resp
}
