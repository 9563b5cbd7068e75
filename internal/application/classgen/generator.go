// Package classgen 逐层生成课程：单元大纲、课时大纲、课时内容与练习题
package classgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"z-class-ai-api/internal/application/contract"
	"z-class-ai-api/internal/domain/entity"
	llmctx "z-class-ai-api/internal/domain/service"
	"z-class-ai-api/internal/workflow/node"
	workflowport "z-class-ai-api/internal/workflow/port"
	workflowprompt "z-class-ai-api/internal/workflow/prompt"
	"z-class-ai-api/pkg/logger"
	"z-class-ai-api/pkg/metrics"
)

var tracer = otel.Tracer("classgen")

// Config 生成参数
type Config struct {
	// Structure 大纲类调用，低温度且固定种子
	Structure workflowport.Sampling
	// Prose 正文与问答调用，种子为 0 时每次随机
	Prose                  workflowport.Sampling
	ContextKeep            int
	ContextSummaryMaxRunes int
}

// DefaultConfig 默认生成参数
func DefaultConfig() Config {
	return Config{
		Structure:              workflowport.Sampling{Temperature: 0.1, TopP: 0.9, TopK: 20, Seed: 42},
		Prose:                  workflowport.Sampling{Temperature: 0.7, TopP: 0.9, TopK: 50},
		ContextKeep:            defaultContextKeep,
		ContextSummaryMaxRunes: defaultSummaryMaxRunes,
	}
}

// Generator 课程生成器
type Generator struct {
	gen      workflowport.Generator
	enforcer *contract.Enforcer
	prompts  *workflowprompt.Registry
	cfg      Config
	now      func() time.Time
}

// NewGenerator 创建课程生成器
func NewGenerator(gen workflowport.Generator, enforcer *contract.Enforcer, prompts *workflowprompt.Registry, cfg Config) *Generator {
	if prompts == nil {
		prompts = workflowprompt.NewRegistry()
	}
	if enforcer == nil {
		enforcer = contract.NewEnforcer(gen, prompts)
	}
	return &Generator{
		gen:      gen,
		enforcer: enforcer,
		prompts:  prompts,
		cfg:      cfg,
		now:      time.Now,
	}
}

type unitOutline struct {
	name    string
	lessons []string
}

// Generate 生成完整课程。
// 先确定全部单元与课时，得到总数后发出第一次进度；
// 随后按顺序生成，每完成一个单元、每完成一个课时各发出一次进度。
// 大纲解析失败视为空列表，生成器调用失败或 ctx 取消则返回错误。
func (g *Generator) Generate(ctx context.Context, className string, onProgress ProgressFunc) (*entity.Class, error) {
	if g == nil || g.gen == nil {
		return nil, errors.New("class generator not configured")
	}
	className = entity.NormalizeClassName(className)
	if className == "" {
		return nil, errors.New("class name is required")
	}

	ctx, span := tracer.Start(ctx, "classgen.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("class.name", className))

	started := g.now()
	rc := NewRunningContext(className, g.cfg.ContextKeep, g.cfg.ContextSummaryMaxRunes)

	// Phase 1: 大纲
	outline, err := g.outline(ctx, className, rc)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	lessonsTotal := 0
	for _, u := range outline {
		lessonsTotal += len(u.lessons)
	}
	span.SetAttributes(attribute.Int("class.units", len(outline)), attribute.Int("class.lessons", lessonsTotal))
	logger.Info(ctx, "class outline ready", "units", len(outline), "lessons", lessonsTotal)

	tracker := newProgressTracker(len(outline), lessonsTotal, started, g.now, onProgress)
	tracker.emit()

	// Phase 2: 内容
	class := entity.NewClass(className)
	for _, uo := range outline {
		unit := entity.NewUnit(uo.name)
		class.AddUnit(unit)
		tracker.unitDone()

		for _, lessonName := range uo.lessons {
			lesson, err := g.lesson(ctx, className, uo.name, lessonName, rc)
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			unit.AddLesson(lesson)
			tracker.lessonDone()
		}
	}

	logger.Info(ctx, "class generated",
		"units", len(class.Units),
		"lessons", class.LessonCount(),
		"duration_ms", g.now().Sub(started).Milliseconds(),
	)
	return class, nil
}

func (g *Generator) outline(ctx context.Context, className string, rc *RunningContext) ([]unitOutline, error) {
	ctx, span := tracer.Start(ctx, "classgen.outline")
	defer span.End()

	unitNames, err := g.structured(ctx, llmctx.WorkflowUnitOutline, workflowprompt.PromptUnitOutlineV1, map[string]any{
		"class_name": className,
		"context":    rc.String(),
	}, "units")
	if err != nil {
		return nil, fmt.Errorf("generate unit outline: %w", err)
	}
	if len(unitNames) == 0 {
		logger.Warn(ctx, "unit outline is empty")
	}

	outline := make([]unitOutline, 0, len(unitNames))
	for _, unitName := range unitNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lessons, err := g.structured(ctx, llmctx.WorkflowLessonOutline, workflowprompt.PromptLessonOutlineV1, map[string]any{
			"class_name": className,
			"unit_name":  unitName,
			"context":    rc.String(),
		}, "lessons")
		if err != nil {
			return nil, fmt.Errorf("generate lessons for %q: %w", unitName, err)
		}
		if len(lessons) == 0 {
			logger.Warn(ctx, "lesson outline is empty", "unit", unitName)
		}
		rc.Append(fmt.Sprintf("%s: %s", unitName, strings.Join(lessons, "; ")))
		outline = append(outline, unitOutline{name: unitName, lessons: lessons})
	}
	return outline, nil
}

func (g *Generator) lesson(ctx context.Context, className, unitName, lessonName string, rc *RunningContext) (*entity.Lesson, error) {
	ctx, span := tracer.Start(ctx, "classgen.lesson")
	defer span.End()
	span.SetAttributes(attribute.String("unit.name", unitName), attribute.String("lesson.name", lessonName))

	vars := map[string]any{
		"class_name":  className,
		"unit_name":   unitName,
		"lesson_name": lessonName,
		"context":     rc.String(),
	}

	content, err := g.prose(ctx, llmctx.WorkflowLessonContent, workflowprompt.PromptLessonContentV1, vars)
	if err != nil {
		return nil, fmt.Errorf("generate content for %q: %w", lessonName, err)
	}

	summary, err := g.prose(ctx, llmctx.WorkflowLessonSummary, workflowprompt.PromptLessonSummaryV1, map[string]any{
		"lesson_name": lessonName,
		"content":     content,
	})
	if err != nil {
		return nil, fmt.Errorf("summarize %q: %w", lessonName, err)
	}
	rc.Append(fmt.Sprintf("%s: %s", lessonName, strings.Join(strings.Fields(summary), " ")))

	qa, err := g.prose(ctx, llmctx.WorkflowPractice, workflowprompt.PromptPracticeProblemsV1, vars)
	if err != nil {
		return nil, fmt.Errorf("generate practice problems for %q: %w", lessonName, err)
	}
	problems := node.ParsePracticeProblems(qa)
	if len(problems) == 0 {
		logger.Warn(ctx, "no practice problems parsed", "lesson", lessonName)
	}

	metrics.ClassLessonsGenerated.Inc()
	metrics.ClassPracticeProblems.Observe(float64(len(problems)))

	return &entity.Lesson{
		Name:             lessonName,
		Content:          strings.TrimSpace(content),
		PracticeProblems: problems,
	}, nil
}

// structured 严格 JSON 模式调用，结果经约束器解析后归一为名称列表
func (g *Generator) structured(ctx context.Context, workflow string, id workflowprompt.PromptID, vars map[string]any, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = llmctx.WithWorkflow(ctx, workflow)

	p, err := g.prompts.Render(ctx, id, vars)
	if err != nil {
		return nil, err
	}
	raw, err := g.gen.Generate(ctx, p.User, p.System, g.cfg.Structure.Resolve())
	if err != nil {
		return nil, err
	}

	payload, ok := g.enforcer.Enforce(ctx, raw)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Warn(ctx, "structured output unrecoverable, using empty list", "workflow", workflow)
		return []string{}, nil
	}
	return node.NormalizeNames(payload, key), nil
}

func (g *Generator) prose(ctx context.Context, workflow string, id workflowprompt.PromptID, vars map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ctx = llmctx.WithWorkflow(ctx, workflow)

	p, err := g.prompts.Render(ctx, id, vars)
	if err != nil {
		return "", err
	}
	return g.gen.Generate(ctx, p.User, p.System, g.cfg.Prose.Resolve())
}
