package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"z-class-ai-api/internal/domain/entity"
)

// ClassModel classes 表。完整文档存 jsonb，列表所需字段冗余成独立列
type ClassModel struct {
	Name        string         `gorm:"primaryKey;type:text"`
	UnitNames   pq.StringArray `gorm:"type:text[];not null"`
	FirstLesson string         `gorm:"type:text;not null;default:''"`
	LessonCount int            `gorm:"not null;default:0"`
	Document    []byte         `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time `gorm:"index"`
}

// TableName 表名
func (ClassModel) TableName() string {
	return "classes"
}

func newClassModel(c *entity.Class) (*ClassModel, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode class document: %w", err)
	}
	p := c.Preview()
	names := make(pq.StringArray, 0, len(c.Units))
	for _, u := range c.Units {
		names = append(names, u.Name)
	}
	return &ClassModel{
		Name:        c.Name,
		UnitNames:   names,
		FirstLesson: p.FirstLesson,
		LessonCount: p.LessonCount,
		Document:    doc,
	}, nil
}

func (m *ClassModel) toEntity() (*entity.Class, error) {
	var c entity.Class
	if err := json.Unmarshal(m.Document, &c); err != nil {
		return nil, fmt.Errorf("failed to decode class document %q: %w", m.Name, err)
	}
	if c.Units == nil {
		c.Units = []*entity.Unit{}
	}
	return &c, nil
}

func (m *ClassModel) toPreview() entity.ClassPreview {
	p := entity.ClassPreview{
		Name:        m.Name,
		FirstLesson: m.FirstLesson,
		UnitCount:   len(m.UnitNames),
		LessonCount: m.LessonCount,
		UpdatedAt:   m.UpdatedAt,
	}
	if len(m.UnitNames) > 0 {
		p.FirstUnit = m.UnitNames[0]
	}
	return p
}
