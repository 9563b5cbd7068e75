package node

import (
	"strings"

	"z-class-ai-api/internal/domain/entity"
)

const (
	questionMarker = "Q:"
	answerMarker   = "A:"
)

// ParsePracticeProblems 解析 "Q: ... A: ..." 格式的问答文本。
// 每个问题与其后直到下一个 Q: 或文本结尾的答案配对；
// 没有 A: 的片段以及问题或答案为空的片段直接丢弃。
func ParsePracticeProblems(text string) []entity.PracticeProblem {
	parts := strings.Split(text, questionMarker)
	if len(parts) < 2 {
		return []entity.PracticeProblem{}
	}

	out := make([]entity.PracticeProblem, 0, len(parts)-1)
	// parts[0] 是第一个 Q: 之前的前言
	for _, frag := range parts[1:] {
		q, a, ok := strings.Cut(frag, answerMarker)
		if !ok {
			continue
		}
		q = strings.TrimSpace(q)
		a = strings.TrimSpace(a)
		if q == "" || a == "" {
			continue
		}
		out = append(out, entity.PracticeProblem{Problem: q, Solution: a})
	}
	return out
}
