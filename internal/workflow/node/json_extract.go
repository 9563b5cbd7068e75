package node

import (
	"encoding/json"
	"regexp"
	"strings"
)

// RepairReasoningMarker 修复回复中推理说明的起始标记，推理位于 JSON 之前
const RepairReasoningMarker = "-r"

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json|JSON)[ \t]*\r?\n?(.*?)```")

// ExtractCandidate 从模型输出中截取第一个 JSON 对象或数组片段。
// 从最先出现的 { 或 [ 截到最后一个对应的闭合符；
// 没有括号片段时退回到 ```json 代码块的内容。
func ExtractCandidate(s string) (string, bool) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return "", false
	}

	objStart := strings.Index(raw, "{")
	arrStart := strings.Index(raw, "[")
	start, end := -1, -1
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		start = objStart
		end = strings.LastIndex(raw, "}")
	case arrStart >= 0:
		start = arrStart
		end = strings.LastIndex(raw, "]")
	}
	if start >= 0 && end > start {
		return raw[start : end+1], true
	}

	if m := fencedJSONPattern.FindStringSubmatch(raw); m != nil {
		body := strings.TrimSpace(m[1])
		if body != "" {
			return body, true
		}
	}
	return "", false
}

// ExtractRepairCandidate 从修复回复中截取 JSON 片段。
// 推理说明可能含有括号，因此依次尝试每个 { 或 [，取括号配对且能解析的最长片段；
// 都不能解析时，取第一个位于行首的括号开始的片段，最后退回 ExtractCandidate。
func ExtractRepairCandidate(s string) (string, bool) {
	start, end := repairSpan(s)
	if start < 0 {
		return "", false
	}
	return strings.TrimSpace(s[start:end]), true
}

// ExtractRepairReasoning 取出修复回复中 -r 标记与 JSON 之间的推理说明
func ExtractRepairReasoning(s string) string {
	mark := strings.Index(s, RepairReasoningMarker)
	if mark < 0 {
		return ""
	}
	start, _ := repairSpan(s)
	if start < mark {
		return ""
	}
	return strings.TrimSpace(s[mark+len(RepairReasoningMarker) : start])
}

// repairSpan 返回修复回复中 JSON 片段的 [start, end)，找不到时 start 为 -1
func repairSpan(s string) (int, int) {
	bestStart, bestEnd := -1, -1
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		end := matchClose(s, i)
		if end < 0 || !json.Valid([]byte(s[i:end])) {
			continue
		}
		if end-i > bestEnd-bestStart {
			bestStart, bestEnd = i, end
		}
		// 内层片段不会更长
		i = end - 1
	}
	if bestStart >= 0 {
		return bestStart, bestEnd
	}

	lineStart := true
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\n':
			lineStart = true
		case c == ' ' || c == '\t' || c == '\r':
		case (c == '{' || c == '[') && lineStart:
			if sub, ok := ExtractCandidate(s[i:]); ok {
				return i, i + len(sub)
			}
			lineStart = false
		default:
			lineStart = false
		}
	}

	sub, ok := ExtractCandidate(s)
	if !ok {
		return -1, -1
	}
	start := strings.Index(s, sub)
	return start, start + len(sub)
}

// matchClose 从 s[open] 开始按括号配对扫描，忽略字符串内的括号，返回闭合符之后的位置；
// 不配对时返回 -1
func matchClose(s string, open int) int {
	var stack []byte
	inString, escaped := false, false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1
			}
		}
	}
	return -1
}
