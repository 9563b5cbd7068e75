package prompt

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

type PromptID string

const (
	PromptUnitOutlineV1      PromptID = "unit_outline_v1"
	PromptLessonOutlineV1    PromptID = "lesson_outline_v1"
	PromptLessonContentV1    PromptID = "lesson_content_v1"
	PromptLessonSummaryV1    PromptID = "lesson_summary_v1"
	PromptPracticeProblemsV1 PromptID = "practice_problems_v1"
	PromptJSONRepairV1       PromptID = "json_repair_v1"
)

// Role 系统角色模板
type Role string

const (
	// StrictJSONRole 只输出 JSON，无法完成时输出 {"error": "..."}
	StrictJSONRole Role = "strict_json"
	// TutorRole 面向学生的 markdown 讲解
	TutorRole Role = "tutor"
	// JSONRepairRole 先写 -r 推理，再单独一行输出修正后的 JSON
	JSONRepairRole Role = "json_repair"
)

// Rendered 渲染后的提示词
type Rendered struct {
	System string
	User   string
}

type Registry struct {
	mu    sync.RWMutex
	cache map[PromptID]einoprompt.ChatTemplate
}

func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[PromptID]einoprompt.ChatTemplate),
	}
}

func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	if tpl, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[id]; ok {
		return tpl, nil
	}

	role, userPath, err := resolvePrompt(id)
	if err != nil {
		return nil, err
	}
	system, err := readEmbeddedText(rolePath(role))
	if err != nil {
		return nil, err
	}
	user, err := readEmbeddedText(userPath)
	if err != nil {
		return nil, err
	}

	// 模板里大量出现 JSON 花括号，用 GoTemplate 避免与 FString 占位符冲突
	tpl := einoprompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	r.cache[id] = tpl
	return tpl, nil
}

// Render 渲染模板，返回系统角色与用户提示词
func (r *Registry) Render(ctx context.Context, id PromptID, vars map[string]any) (Rendered, error) {
	tpl, err := r.ChatTemplate(id)
	if err != nil {
		return Rendered{}, err
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return Rendered{}, fmt.Errorf("format prompt %s: %w", id, err)
	}

	var out Rendered
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case schema.System:
			out.System = strings.TrimSpace(m.Content)
		case schema.User:
			out.User = strings.TrimSpace(m.Content)
		}
	}
	if out.User == "" {
		return Rendered{}, fmt.Errorf("prompt %s rendered empty user message", id)
	}
	return out, nil
}

func resolvePrompt(id PromptID) (Role, string, error) {
	switch id {
	case PromptUnitOutlineV1:
		return StrictJSONRole, "templates/unit_outline_v1.user.txt", nil
	case PromptLessonOutlineV1:
		return StrictJSONRole, "templates/lesson_outline_v1.user.txt", nil
	case PromptJSONRepairV1:
		return JSONRepairRole, "templates/json_repair_v1.user.txt", nil
	case PromptLessonContentV1:
		return TutorRole, "templates/lesson_content_v1.user.txt", nil
	case PromptLessonSummaryV1:
		return TutorRole, "templates/lesson_summary_v1.user.txt", nil
	case PromptPracticeProblemsV1:
		return TutorRole, "templates/practice_problems_v1.user.txt", nil
	default:
		return "", "", fmt.Errorf("unknown prompt id: %s", id)
	}
}

func rolePath(role Role) string {
	return "templates/" + string(role) + ".system.txt"
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
