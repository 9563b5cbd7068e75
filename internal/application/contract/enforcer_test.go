package contract

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	workflowport "z-class-ai-api/internal/workflow/port"
)

// scriptedGenerator 按顺序返回预设回复
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
	systems []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt, systemRole string, _ workflowport.Sampling) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	g.systems = append(g.systems, systemRole)
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r, nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func decodeUnits(t *testing.T, raw json.RawMessage) []string {
	t.Helper()
	var v struct {
		Units []string `json:"units"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("result is not valid json: %v", err)
	}
	return v.Units
}

func TestEnforceValidPayloadInProse(t *testing.T) {
	gen := &scriptedGenerator{}
	e := NewEnforcer(gen, nil)

	out, ok := e.Enforce(context.Background(), "Here you go:\n```json\n{\"units\": [\"Unit 1: Basics\"]}\n```\nEnjoy!")
	if !ok {
		t.Fatal("expected success")
	}
	if got := decodeUnits(t, out); len(got) != 1 || got[0] != "Unit 1: Basics" {
		t.Errorf("units = %v", got)
	}
	if gen.calls() != 0 {
		t.Errorf("generator called %d times for valid payload", gen.calls())
	}
}

func TestParseWithRepairConvergesWithinBudget(t *testing.T) {
	cases := []struct {
		name    string
		replies []string
		calls   int
	}{
		{"first round", []string{`-r removed the trailing comma {"units": ["a"]}`}, 1},
		{"third round", []string{`{"units": ["a",, ]}`, `{"units": ["a" "b"]}`, `-r fixed {"units": ["a", "b"]}`}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &scriptedGenerator{replies: tc.replies}
			e := NewEnforcer(gen, nil)

			out, ok := e.ParseWithRepair(context.Background(), `{"units": ["a",]}`)
			if !ok {
				t.Fatal("expected repaired payload")
			}
			if len(decodeUnits(t, out)) == 0 {
				t.Error("empty units after repair")
			}
			if gen.calls() != tc.calls {
				t.Errorf("calls = %d, want %d", gen.calls(), tc.calls)
			}
		})
	}
}

func TestParseWithRepairExhaustsBudget(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{`{"a": 1,}`, `{"b": 2,}`, `{"c": 3,}`, `{"d": 4}`}}
	e := NewEnforcer(gen, nil)

	out, ok := e.ParseWithRepair(context.Background(), `{"x": ,}`)
	if ok || out != nil {
		t.Fatalf("expected empty result, got %s", out)
	}
	if gen.calls() != DefaultRepairRounds {
		t.Errorf("calls = %d, want exactly %d", gen.calls(), DefaultRepairRounds)
	}
}

func TestParseWithRepairStopsWithoutProgress(t *testing.T) {
	bad := `{"units": ["a",]}`
	gen := &scriptedGenerator{replies: []string{"-r nothing to change\n" + bad, `{"units": ["a"]}`}}
	e := NewEnforcer(gen, nil)

	if _, ok := e.ParseWithRepair(context.Background(), bad); ok {
		t.Fatal("expected failure when repair returns the same candidate")
	}
	if gen.calls() != 1 {
		t.Errorf("calls = %d, want 1", gen.calls())
	}
}

func TestRepairPromptCarriesErrorAndCandidate(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{`{"ok": true}`}}
	e := NewEnforcer(gen, nil)

	if _, ok := e.ParseWithRepair(context.Background(), `{"ok": tru}`); !ok {
		t.Fatal("expected success")
	}
	p := gen.prompts[0]
	for _, want := range []string{`{"ok": tru}`, "invalid character", "offset", `"-r"`, "trailing commas are not allowed"} {
		if !strings.Contains(p, want) {
			t.Errorf("repair prompt missing %q:\n%s", want, p)
		}
	}
	sys := gen.systems[0]
	if !strings.Contains(sys, "-r") || strings.Contains(sys, "no prose") {
		t.Errorf("repair system role contradicts the reasoning marker:\n%s", sys)
	}
}

func TestParseWithRepairBracketsInReasoning(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"-r I removed the trailing comma after \"b\" in the [units] array.\n{\"units\": [\"a\",\"b\"]}",
	}}
	e := NewEnforcer(gen, nil)

	out, ok := e.ParseWithRepair(context.Background(), `{"units": ["a", "b",]}`)
	if !ok {
		t.Fatal("expected repaired payload")
	}
	if got := decodeUnits(t, out); len(got) != 2 || got[1] != "b" {
		t.Errorf("units = %v", got)
	}
	if gen.calls() != 1 {
		t.Errorf("calls = %d, want 1", gen.calls())
	}
}

func TestEnforceWithoutBrackets(t *testing.T) {
	raw := "Units are Basics and Mocks"

	t.Run("repaired from full text", func(t *testing.T) {
		gen := &scriptedGenerator{replies: []string{`-r wrapped it {"units": ["Basics", "Mocks"]}`}}
		out, ok := NewEnforcer(gen, nil).Enforce(context.Background(), raw)
		if !ok {
			t.Fatal("expected success")
		}
		if got := decodeUnits(t, out); len(got) != 2 {
			t.Errorf("units = %v", got)
		}
		if gen.calls() != 1 || !strings.Contains(gen.prompts[0], raw) {
			t.Errorf("repair must use the entire original text, prompts = %v", gen.prompts)
		}
	})

	t.Run("repair without payload gives up", func(t *testing.T) {
		gen := &scriptedGenerator{replies: []string{"still no json", `{"units": []}`}}
		if _, ok := NewEnforcer(gen, nil).Enforce(context.Background(), raw); ok {
			t.Fatal("expected failure")
		}
		if gen.calls() != 1 {
			t.Errorf("calls = %d, want 1", gen.calls())
		}
	})

	t.Run("shares the round budget", func(t *testing.T) {
		gen := &scriptedGenerator{replies: []string{`{"a": 1,}`, `{"b": 2,}`, `{"c": 3,}`, `{"d": 4}`}}
		if _, ok := NewEnforcer(gen, nil).Enforce(context.Background(), raw); ok {
			t.Fatal("expected failure")
		}
		if gen.calls() != DefaultRepairRounds {
			t.Errorf("calls = %d, want %d", gen.calls(), DefaultRepairRounds)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		gen := &scriptedGenerator{}
		if _, ok := NewEnforcer(gen, nil).Enforce(context.Background(), "   "); ok {
			t.Fatal("expected failure")
		}
		if gen.calls() != 0 {
			t.Errorf("calls = %d, want 0", gen.calls())
		}
	})
}

func TestEnforceGeneratorErrorDegrades(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("connection refused")}
	out, ok := NewEnforcer(gen, nil).Enforce(context.Background(), `{"units": [}`)
	if ok || out != nil {
		t.Fatalf("expected empty result, got %s", out)
	}
}

func TestWithRepairRoundsZero(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{`{"units": []}`}}
	e := NewEnforcer(gen, nil, WithRepairRounds(0))
	if _, ok := e.ParseWithRepair(context.Background(), `{`); ok {
		t.Fatal("expected failure with zero rounds")
	}
	if gen.calls() != 0 {
		t.Errorf("calls = %d, want 0", gen.calls())
	}
}
