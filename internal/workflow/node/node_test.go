package node

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestExtractCandidate(t *testing.T) {
	cases := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{"object in prose", `Sure! Here it is: {"units": ["Unit 1: Basics"]} Hope this helps.`, `{"units": ["Unit 1: Basics"]}`, true},
		{"array first", `Lessons: ["a", {"b": 1}] done`, `["a", {"b": 1}]`, true},
		{"object before array", `x {"a": [1, 2]} y`, `{"a": [1, 2]}`, true},
		{"nested braces", "```json\n{\"a\": {\"b\": 2}}\n```", `{"a": {"b": 2}}`, true},
		{"fenced scalar", "```json\n\"only a string\"\n```", `"only a string"`, true},
		{"no brackets", "I cannot produce JSON for that.", "", false},
		{"empty", "   ", "", false},
		{"closer before opener", `} oops {`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractCandidate(tc.in)
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("ExtractCandidate(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestExtractRepairReasoning(t *testing.T) {
	in := "-r The trailing comma was removed.\n{\"units\": [\"a\"]}"
	if got := ExtractRepairReasoning(in); got != "The trailing comma was removed." {
		t.Errorf("reasoning = %q", got)
	}
	if got := ExtractRepairReasoning(`{"a": 1} -r late`); got != "" {
		t.Errorf("reasoning after payload must be ignored, got %q", got)
	}
	withBrackets := "-r I removed the trailing comma after \"b\" in the [units] array.\n{\"units\": [\"a\",\"b\"]}"
	if got := ExtractRepairReasoning(withBrackets); got != `I removed the trailing comma after "b" in the [units] array.` {
		t.Errorf("reasoning with brackets = %q", got)
	}
}

func TestExtractRepairCandidate(t *testing.T) {
	cases := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{
			name:   "brackets in reasoning",
			in:     "-r I removed the trailing comma after \"b\" in the [units] array.\n{\"units\": [\"a\",\"b\"]}",
			want:   `{"units": ["a","b"]}`,
			wantOK: true,
		},
		{
			name:   "valid fragment in reasoning",
			in:     "-r index [1] was a string; use {} for empty.\n{\"lessons\": [\"x\", \"y\"]}",
			want:   `{"lessons": ["x", "y"]}`,
			wantOK: true,
		},
		{
			name:   "brackets inside strings",
			in:     "-r quoted.\n{\"units\": [\"a ] b\", \"{c\"]}",
			want:   `{"units": ["a ] b", "{c"]}`,
			wantOK: true,
		},
		{
			name:   "still broken payload on its own line",
			in:     "-r fixed the [units] key.\n{\"units\": [\"a\",]}",
			want:   `{"units": ["a",]}`,
			wantOK: true,
		},
		{
			name:   "fenced block",
			in:     "-r done\n```json\n[\"a\"]\n```",
			want:   `["a"]`,
			wantOK: true,
		},
		{name: "no payload", in: "-r nothing to fix", wantOK: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractRepairCandidate(tc.in)
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("ExtractRepairCandidate(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestParsePracticeProblems(t *testing.T) {
	got := ParsePracticeProblems("Q: 2+2?\nA: 4\nQ: 3+3?\nA: 6")
	want := []struct{ q, a string }{{"2+2?", "4"}, {"3+3?", "6"}}
	if len(got) != len(want) {
		t.Fatalf("got %d pairs, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Problem != want[i].q || got[i].Solution != want[i].a {
			t.Errorf("pair %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if got := ParsePracticeProblems("Q: what is a unit test?"); len(got) != 0 {
		t.Errorf("dangling question parsed: %+v", got)
	}
	if got := ParsePracticeProblems("no markers at all"); got == nil || len(got) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", got)
	}

	mixed := ParsePracticeProblems("Intro text\nQ: first?\nQ: second?\nA: two\n")
	if len(mixed) != 1 || mixed[0].Problem != "second?" || mixed[0].Solution != "two" {
		t.Errorf("mixed = %+v", mixed)
	}
}

func TestNormalizeNames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		key  string
		want []string
	}{
		{"wrapped", `{"units": ["Unit 1: A", "Unit 2: B"]}`, "units", []string{"Unit 1: A", "Unit 2: B"}},
		{"bare array", `["Lesson 1", "  ", "Lesson 2"]`, "lessons", []string{"Lesson 1", "Lesson 2"}},
		{"single other array field", `{"modules": ["x", "y"]}`, "units", []string{"x", "y"}},
		{"records by priority", `{"lessons": [{"title": "T", "text": "ignored"}, {"lesson_name": "L"}, {"id": 3}]}`, "lessons", []string{"T", "L", `{"id":3}`}},
		{"record name beats title", `[{"title": "T", "name": "N"}]`, "units", []string{"N"}},
		{"scalars", `[1, true, null]`, "units", []string{"1", "true"}},
		{"key with scalar", `{"units": "Only Unit"}`, "units", []string{"Only Unit"}},
		{"strict error object", `{"error": "cannot comply"}`, "units", []string{}},
		{"single record", `{"name": "Solo"}`, "units", []string{"Solo"}},
		{"ambiguous arrays", `{"a": ["x"], "b": ["y"]}`, "units", []string{}},
		{"invalid", `{`, "units", []string{}},
		{"empty", ``, "units", []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeNames(json.RawMessage(tc.raw), tc.key)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("NormalizeNames(%s) = %#v, want %#v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestTruncateByRunes(t *testing.T) {
	if got := TruncateByRunes("课程生成", 2); got != "课程" {
		t.Errorf("TruncateByRunes = %q", got)
	}
	if got := TruncateTailByRunes("课程生成", 2); got != "生成" {
		t.Errorf("TruncateTailByRunes = %q", got)
	}
	if got := TruncateTailByRunes("abc", 5); got != "abc" {
		t.Errorf("TruncateTailByRunes short = %q", got)
	}
}
