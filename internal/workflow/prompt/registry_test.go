package prompt

import (
	"context"
	"strings"
	"testing"
)

func TestRegistryRender(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	out, err := r.Render(ctx, PromptUnitOutlineV1, map[string]any{"class_name": "Intro to Testing"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out.User, `"Intro to Testing"`) || !strings.Contains(out.User, `{"units": [array of unit names]}`) {
		t.Errorf("unexpected user prompt: %s", out.User)
	}
	if !strings.Contains(out.System, `{"error"`) {
		t.Errorf("strict json role missing error fallback: %s", out.System)
	}

	repair, err := r.Render(ctx, PromptJSONRepairV1, map[string]any{"error": "unexpected end of JSON input", "json": `{"units": [`})
	if err != nil {
		t.Fatalf("Render repair: %v", err)
	}
	for _, want := range []string{"unexpected end of JSON input", `{"units": [`, `"-r"`, "must be different"} {
		if !strings.Contains(repair.User, want) {
			t.Errorf("repair prompt missing %q", want)
		}
	}
	if !strings.Contains(repair.System, "-r") || strings.Contains(repair.System, "no prose") {
		t.Errorf("repair role must allow reasoning before the JSON: %s", repair.System)
	}

	tutor, err := r.Render(ctx, PromptPracticeProblemsV1, map[string]any{"class_name": "c", "unit_name": "u", "lesson_name": "l"})
	if err != nil {
		t.Fatalf("Render tutor: %v", err)
	}
	if !strings.Contains(tutor.System, "markdown") {
		t.Errorf("tutor role = %q", tutor.System)
	}
}

func TestRegistryUnknownPrompt(t *testing.T) {
	if _, err := NewRegistry().ChatTemplate("nope"); err == nil {
		t.Fatal("expected error for unknown prompt id")
	}
}

func TestRegistryCachesTemplates(t *testing.T) {
	r := NewRegistry()
	a, err := r.ChatTemplate(PromptLessonContentV1)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.ChatTemplate(PromptLessonContentV1)
	if a != b {
		t.Error("expected cached template instance")
	}
}
