// Package contract 把模型的自由文本输出收敛为合法 JSON
package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	llmctx "z-class-ai-api/internal/domain/service"
	"z-class-ai-api/internal/workflow/node"
	workflowport "z-class-ai-api/internal/workflow/port"
	workflowprompt "z-class-ai-api/internal/workflow/prompt"
	"z-class-ai-api/pkg/logger"
	"z-class-ai-api/pkg/metrics"
)

// DefaultRepairRounds 默认修复轮数
const DefaultRepairRounds = 3

var tracer = otel.Tracer("contract")

const errNoPayload = "no JSON object or array found in the response"

// Enforcer 结构化输出约束器
// 解析失败时让同一个生成器修复自己的输出，轮数有上限，并在修复无进展时提前停止
type Enforcer struct {
	gen      workflowport.Generator
	prompts  *workflowprompt.Registry
	rounds   int
	sampling workflowport.Sampling
}

// Option 配置项
type Option func(*Enforcer)

// WithRepairRounds 设置修复轮数上限
func WithRepairRounds(n int) Option {
	return func(e *Enforcer) {
		if n >= 0 {
			e.rounds = n
		}
	}
}

// WithSampling 设置修复调用的采样参数
func WithSampling(s workflowport.Sampling) Option {
	return func(e *Enforcer) {
		e.sampling = s
	}
}

// NewEnforcer 创建约束器
func NewEnforcer(gen workflowport.Generator, prompts *workflowprompt.Registry, opts ...Option) *Enforcer {
	e := &Enforcer{
		gen:      gen,
		prompts:  prompts,
		rounds:   DefaultRepairRounds,
		sampling: workflowport.Sampling{Temperature: 0.1, TopP: 0.9, TopK: 20},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.prompts == nil {
		e.prompts = workflowprompt.NewRegistry()
	}
	return e
}

// Enforce 从原始输出中提取并解析 JSON。
// 找不到任何括号片段时，先用完整原文做一次修复，再进入常规修复循环；
// 两次修复共用同一个轮数预算。失败时返回 ok=false，不返回错误。
func (e *Enforcer) Enforce(ctx context.Context, raw string) (json.RawMessage, bool) {
	ctx, span := tracer.Start(ctx, "contract.Enforce")
	defer span.End()

	candidate, found := node.ExtractCandidate(raw)
	if found {
		out, ok := e.repairLoop(ctx, candidate, 0)
		span.SetAttributes(attribute.Bool("contract.ok", ok))
		return out, ok
	}

	text := strings.TrimSpace(raw)
	if text == "" || e.rounds == 0 {
		logger.Warn(ctx, "no json payload in model output", "raw_len", len(raw))
		recordResult(false, 0)
		return nil, false
	}

	reply, err := e.repair(ctx, text, errNoPayload)
	if err != nil {
		logger.Warn(ctx, "json repair call failed", "error", err.Error())
		metrics.ContractRepairRounds.WithLabelValues("llm_error").Inc()
		recordResult(false, 1)
		return nil, false
	}
	candidate, found = node.ExtractRepairCandidate(reply)
	if !found {
		metrics.ContractRepairRounds.WithLabelValues("unparseable").Inc()
		logger.Warn(ctx, "repair produced no json payload")
		recordResult(false, 1)
		return nil, false
	}
	metrics.ContractRepairRounds.WithLabelValues("extracted").Inc()

	out, ok := e.repairLoop(ctx, candidate, 1)
	span.SetAttributes(attribute.Bool("contract.ok", ok))
	return out, ok
}

// ParseWithRepair 解析候选 JSON，失败时最多修复 rounds 轮
func (e *Enforcer) ParseWithRepair(ctx context.Context, candidate string) (json.RawMessage, bool) {
	return e.repairLoop(ctx, candidate, 0)
}

func (e *Enforcer) repairLoop(ctx context.Context, candidate string, used int) (json.RawMessage, bool) {
	current := strings.TrimSpace(candidate)
	for {
		out, parseErr := parse(current)
		if parseErr == nil {
			recordResult(true, used)
			return out, true
		}
		if used >= e.rounds {
			logger.Warn(ctx, "json repair budget exhausted",
				"rounds", used,
				"error", parseErr.Error(),
			)
			recordResult(false, used)
			return nil, false
		}
		if ctx.Err() != nil {
			recordResult(false, used)
			return nil, false
		}

		logger.Debug(ctx, "json decode failed, requesting repair",
			"attempt", used+1,
			"error", parseErr.Error(),
		)
		used++

		reply, err := e.repair(ctx, current, parseErr.Error())
		if err != nil {
			logger.Warn(ctx, "json repair call failed", "attempt", used, "error", err.Error())
			metrics.ContractRepairRounds.WithLabelValues("llm_error").Inc()
			recordResult(false, used)
			return nil, false
		}

		next, found := node.ExtractRepairCandidate(reply)
		if !found {
			next = strings.TrimSpace(reply)
		}
		if next == current {
			logger.Warn(ctx, "json repair made no progress, stopping", "attempt", used)
			metrics.ContractRepairRounds.WithLabelValues("no_progress").Inc()
			recordResult(false, used)
			return nil, false
		}
		metrics.ContractRepairRounds.WithLabelValues("revised").Inc()
		current = next
	}
}

// repair 让生成器修复 JSON，返回完整回复
func (e *Enforcer) repair(ctx context.Context, text, parseErr string) (string, error) {
	if e.gen == nil {
		return "", errors.New("generator not configured")
	}
	ctx = llmctx.WithWorkflow(ctx, llmctx.WorkflowJSONRepair)

	p, err := e.prompts.Render(ctx, workflowprompt.PromptJSONRepairV1, map[string]any{
		"error": parseErr,
		"json":  text,
	})
	if err != nil {
		return "", err
	}
	reply, err := e.gen.Generate(ctx, p.User, p.System, e.sampling)
	if err != nil {
		return "", err
	}
	if reasoning := node.ExtractRepairReasoning(reply); reasoning != "" {
		logger.Debug(ctx, "json repair reasoning", "reasoning", node.TruncateByRunes(reasoning, 500))
	}
	return reply, nil
}

// parse 校验 JSON，错误信息带上出错位置
func parse(candidate string) (json.RawMessage, error) {
	if candidate == "" {
		return nil, errors.New("unexpected end of JSON input")
	}
	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return nil, fmt.Errorf("%s (at offset %d)", syn.Error(), syn.Offset)
		}
		return nil, err
	}
	return json.RawMessage(candidate), nil
}

func recordResult(ok bool, rounds int) {
	switch {
	case !ok:
		metrics.ContractResults.WithLabelValues("empty").Inc()
	case rounds == 0:
		metrics.ContractResults.WithLabelValues("parsed").Inc()
	default:
		metrics.ContractResults.WithLabelValues("repaired").Inc()
	}
}
