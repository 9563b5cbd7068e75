package entity

import (
	"strings"
	"time"
)

// Class 课程文档：按顺序组织的单元、课时与练习题
// JSON 布局与磁盘上的 classes/<name>.json 兼容
type Class struct {
	Name  string  `json:"class_name"`
	Units []*Unit `json:"units"`
}

// Unit 课程单元
type Unit struct {
	Name    string    `json:"unit_name"`
	Lessons []*Lesson `json:"lessons"`
}

// Lesson 课时
type Lesson struct {
	Name             string            `json:"lesson_name"`
	Content          string            `json:"content"`
	PracticeProblems []PracticeProblem `json:"practiceProblems"`
}

// PracticeProblem 练习题
type PracticeProblem struct {
	Problem  string `json:"problem"`
	Solution string `json:"solution"`
}

// NewClass 创建空课程
func NewClass(name string) *Class {
	return &Class{Name: name, Units: []*Unit{}}
}

// NewUnit 创建空单元
func NewUnit(name string) *Unit {
	return &Unit{Name: name, Lessons: []*Lesson{}}
}

// AddUnit 追加单元
func (c *Class) AddUnit(u *Unit) {
	c.Units = append(c.Units, u)
}

// AddLesson 追加课时
func (u *Unit) AddLesson(l *Lesson) {
	u.Lessons = append(u.Lessons, l)
}

// LessonCount 返回课程总课时数
func (c *Class) LessonCount() int {
	n := 0
	for _, u := range c.Units {
		n += len(u.Lessons)
	}
	return n
}

// FindLesson 按单元名与课时名查找课时
func (c *Class) FindLesson(unitName, lessonName string) (*Unit, *Lesson, bool) {
	for _, u := range c.Units {
		if u.Name != unitName {
			continue
		}
		for _, l := range u.Lessons {
			if l.Name == lessonName {
				return u, l, true
			}
		}
	}
	return nil, nil, false
}

// Preview 构造课程预览
func (c *Class) Preview() ClassPreview {
	p := ClassPreview{
		Name:        c.Name,
		UnitCount:   len(c.Units),
		LessonCount: c.LessonCount(),
	}
	if len(c.Units) > 0 {
		p.FirstUnit = c.Units[0].Name
		if len(c.Units[0].Lessons) > 0 {
			p.FirstLesson = c.Units[0].Lessons[0].Name
		}
	}
	return p
}

// ClassPreview 已持久化课程的列表预览
type ClassPreview struct {
	Name        string    `json:"class_name"`
	FirstUnit   string    `json:"first_unit,omitempty"`
	FirstLesson string    `json:"first_lesson,omitempty"`
	UnitCount   int       `json:"unit_count"`
	LessonCount int       `json:"lesson_count"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// NormalizeClassName 清理课程名中的首尾空白与连续空白
func NormalizeClassName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
