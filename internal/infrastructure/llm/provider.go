package llm

import (
	"fmt"
	"strings"

	"z-class-ai-api/internal/config"
	"z-class-ai-api/internal/workflow/port"
)

// NewGenerator 按 generation.provider（缺省为 llm.default_provider）选择生成后端
func NewGenerator(cfg *config.Config, factory *EinoFactory) (port.Generator, error) {
	name := strings.TrimSpace(cfg.Generation.Provider)
	if name == "" {
		name = cfg.LLM.DefaultProvider
	}
	p, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not found in LLM config", name)
	}

	switch p.Type {
	case config.ProviderTypeOllama:
		return NewOllamaGenerator(OllamaConfig{
			BaseURL:   p.BaseURL,
			Model:     p.Model,
			MaxTokens: p.MaxTokens,
			Timeout:   p.Timeout,
		}), nil
	case config.ProviderTypeOpenAI, "":
		return NewEinoGenerator(factory, name), nil
	default:
		return nil, fmt.Errorf("provider %q has unsupported type %q", name, p.Type)
	}
}
