package classgen

import (
	"fmt"
	"strings"

	"z-class-ai-api/internal/workflow/node"
)

const (
	defaultContextKeep     = 12
	defaultSummaryMaxRunes = 2000
	contextEntryMaxRunes   = 400
)

// RunningContext 喂给后续提示词的滚动上下文。
// 课程名始终保留；最近 keep 条记录原样保留，更早的记录折叠进长度受限的摘要。
type RunningContext struct {
	className       string
	summary         string
	recent          []string
	keep            int
	summaryMaxRunes int
}

// NewRunningContext 创建滚动上下文
func NewRunningContext(className string, keep, summaryMaxRunes int) *RunningContext {
	if keep <= 0 {
		keep = defaultContextKeep
	}
	if summaryMaxRunes <= 0 {
		summaryMaxRunes = defaultSummaryMaxRunes
	}
	return &RunningContext{
		className:       strings.TrimSpace(className),
		keep:            keep,
		summaryMaxRunes: summaryMaxRunes,
	}
}

// Append 追加一条记录
func (c *RunningContext) Append(entry string) {
	e := strings.TrimSpace(entry)
	if e == "" {
		return
	}
	c.recent = append(c.recent, node.TruncateByRunes(e, contextEntryMaxRunes))
	c.compact()
}

func (c *RunningContext) compact() {
	if len(c.recent) <= c.keep {
		return
	}
	older := c.recent[:len(c.recent)-c.keep]
	c.recent = append([]string(nil), c.recent[len(c.recent)-c.keep:]...)

	var b strings.Builder
	if c.summary != "" {
		b.WriteString(c.summary)
		b.WriteString("\n")
	}
	for _, o := range older {
		b.WriteString("- ")
		b.WriteString(o)
		b.WriteString("\n")
	}
	// 摘要超长时丢弃最早的部分
	c.summary = node.TruncateTailByRunes(strings.TrimSpace(b.String()), c.summaryMaxRunes)
}

// Len 当前保留的原样记录数
func (c *RunningContext) Len() int {
	return len(c.recent)
}

// String 渲染为提示词文本
func (c *RunningContext) String() string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "Class: %s\n", c.className)
	if c.summary != "" {
		b.WriteString("Earlier:\n")
		b.WriteString(c.summary)
		b.WriteString("\n")
	}
	for _, r := range c.recent {
		b.WriteString("- ")
		b.WriteString(r)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
