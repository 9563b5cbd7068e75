package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// nameFields 记录型条目中可读名称字段的优先级
var nameFields = []string{"name", "title", "unit_name", "lesson_name", "unit", "lesson", "label", "text"}

// NormalizeNames 把模型返回的名称列表统一成有序字符串切片。
// 支持包装对象（{"units": [...]} 或仅含一个数组字段的对象）、裸数组，
// 以及条目本身是小型记录的情况；记录按 nameFields 顺序取名称，都没有时整体序列化。
// 形如 {"error": "..."} 的严格模式错误对象视为空列表。
func NormalizeNames(raw json.RawMessage, key string) []string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []string{}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return []string{}
	}

	return collectNames(listOf(v, key))
}

// listOf 找出承载名称条目的列表
func listOf(v any, key string) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		if key != "" {
			if inner, ok := t[key]; ok {
				if arr, ok := inner.([]any); ok {
					return arr
				}
				return []any{inner}
			}
		}
		var arrays [][]any
		for _, k := range sortedKeys(t) {
			if arr, ok := t[k].([]any); ok {
				arrays = append(arrays, arr)
			}
		}
		if len(arrays) == 1 {
			return arrays[0]
		}
		if len(arrays) > 1 {
			return nil
		}
		if _, ok := t["error"]; ok {
			return nil
		}
		return []any{t}
	case nil:
		return nil
	default:
		return []any{t}
	}
}

func collectNames(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(nameOf(item))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func nameOf(item any) string {
	switch t := item.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return fmt.Sprintf("%t", t)
	case map[string]any:
		for _, f := range nameFields {
			if s := scalarString(t[f]); s != "" {
				return s
			}
		}
		return marshalString(t)
	default:
		return marshalString(t)
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func marshalString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
