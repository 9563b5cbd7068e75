package llm

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	llmctx "z-class-ai-api/internal/domain/service"
	"z-class-ai-api/internal/workflow/port"
	apperrors "z-class-ai-api/pkg/errors"
)

// EinoGenerator 基于 eino ChatModel 的文本生成。
// 调用指标与链路由 eino 全局回调记录；OpenAI 兼容接口不支持 top_k 与 seed。
type EinoGenerator struct {
	factory  port.ChatModelFactory
	provider string
}

// NewEinoGenerator 创建生成器，provider 为空时使用默认提供商
func NewEinoGenerator(factory port.ChatModelFactory, provider string) *EinoGenerator {
	return &EinoGenerator{factory: factory, provider: strings.TrimSpace(provider)}
}

// Generate 实现 port.Generator
func (g *EinoGenerator) Generate(ctx context.Context, prompt, systemRole string, s port.Sampling) (string, error) {
	chatModel, err := g.factory.Get(ctx, g.provider)
	if err != nil {
		return "", apperrors.ErrLLMCallFailed.WithError(err)
	}

	msgs := make([]*schema.Message, 0, 2)
	if strings.TrimSpace(systemRole) != "" {
		msgs = append(msgs, schema.SystemMessage(systemRole))
	}
	msgs = append(msgs, schema.UserMessage(prompt))

	var opts []model.Option
	if s.Temperature > 0 {
		opts = append(opts, model.WithTemperature(s.Temperature))
	}
	if s.TopP > 0 {
		opts = append(opts, model.WithTopP(s.TopP))
	}

	ctx = llmctx.WithProvider(ctx, g.provider)
	resp, err := chatModel.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", apperrors.ErrLLMCallFailed.WithError(err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}
