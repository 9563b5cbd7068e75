package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	llmctx "z-class-ai-api/internal/domain/service"
	"z-class-ai-api/internal/workflow/port"
	apperrors "z-class-ai-api/pkg/errors"
	"z-class-ai-api/pkg/metrics"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaTimeout = 10 * time.Minute
	ollamaProviderLabel  = "ollama"
)

// OllamaConfig Ollama 连接参数
type OllamaConfig struct {
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// OllamaGenerator 直接调用 Ollama /api/chat，完整传递 temperature、top_p、top_k 与 seed
type OllamaGenerator struct {
	cfg        OllamaConfig
	httpClient *http.Client
}

// OllamaOption 自定义生成器
type OllamaOption func(*OllamaGenerator)

// WithHTTPClient 替换默认 HTTP 客户端
func WithHTTPClient(client *http.Client) OllamaOption {
	return func(g *OllamaGenerator) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// NewOllamaGenerator 创建 Ollama 生成器
func NewOllamaGenerator(cfg OllamaConfig, opts ...OllamaOption) *OllamaGenerator {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBaseURL
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOllamaTimeout
	}
	g := &OllamaGenerator{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	Seed        int64   `json:"seed,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

type ollamaStatusError struct {
	StatusCode int
	Body       string
}

func (e *ollamaStatusError) Error() string {
	return fmt.Sprintf("ollama chat: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Generate 实现 port.Generator
func (g *OllamaGenerator) Generate(ctx context.Context, prompt, systemRole string, s port.Sampling) (string, error) {
	s = s.Resolve()
	workflow := llmctx.WorkflowFromContext(ctx)

	ctx, span := otel.Tracer("llm").Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("eino.workflow", workflow),
		attribute.String("llm.provider", ollamaProviderLabel),
		attribute.String("llm.model", g.cfg.Model),
		attribute.Int64("llm.seed", s.Seed),
	))
	defer span.End()

	start := time.Now()
	content, resp, err := g.chat(ctx, prompt, systemRole, s)
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.LLMCallTotal.WithLabelValues(workflow, ollamaProviderLabel, g.cfg.Model, status).Inc()
	metrics.LLMCallDuration.WithLabelValues(workflow, ollamaProviderLabel, g.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", apperrors.ErrLLMCallFailed.WithError(err)
	}

	metrics.LLMTokensUsed.WithLabelValues(workflow, ollamaProviderLabel, g.cfg.Model, "prompt").Add(float64(resp.PromptEvalCount))
	metrics.LLMTokensUsed.WithLabelValues(workflow, ollamaProviderLabel, g.cfg.Model, "completion").Add(float64(resp.EvalCount))
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.PromptEvalCount),
		attribute.Int("llm.completion_tokens", resp.EvalCount),
	)
	return content, nil
}

func (g *OllamaGenerator) chat(ctx context.Context, prompt, systemRole string, s port.Sampling) (string, *ollamaChatResponse, error) {
	msgs := make([]ollamaMessage, 0, 2)
	if strings.TrimSpace(systemRole) != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: systemRole})
	}
	msgs = append(msgs, ollamaMessage{Role: "user", Content: prompt})

	payload := ollamaChatRequest{
		Model:    g.cfg.Model,
		Messages: msgs,
		Options: ollamaOptions{
			Temperature: s.Temperature,
			TopP:        s.TopP,
			TopK:        s.TopK,
			Seed:        s.Seed,
			NumPredict:  g.cfg.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("ollama chat: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("ollama chat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := g.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("ollama chat: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("ollama chat: read response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return "", nil, &ollamaStatusError{StatusCode: httpResp.StatusCode, Body: string(raw)}
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", nil, fmt.Errorf("ollama chat: decode response: %w", err)
	}
	if resp.Error != "" {
		return "", nil, fmt.Errorf("ollama chat: %s", resp.Error)
	}
	return resp.Message.Content, &resp, nil
}
