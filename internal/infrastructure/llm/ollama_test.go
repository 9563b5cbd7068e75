package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"z-class-ai-api/internal/config"
	"z-class-ai-api/internal/workflow/port"
	apperrors "z-class-ai-api/pkg/errors"
)

func TestOllamaGeneratorSendsSamplingOptions(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "llama3",
			"message":           map[string]string{"role": "assistant", "content": `{"units": ["Basics"]}`},
			"done":              true,
			"prompt_eval_count": 12,
			"eval_count":        5,
		})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL + "/", Model: "llama3", MaxTokens: 256})
	out, err := g.Generate(context.Background(), "list units", "json only", port.Sampling{Temperature: 0.1, TopP: 0.9, TopK: 20, Seed: 42})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"units": ["Basics"]}` {
		t.Errorf("content = %q", out)
	}

	if got.Model != "llama3" || got.Stream {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != "json only" || got.Messages[1].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
	want := ollamaOptions{Temperature: 0.1, TopP: 0.9, TopK: 20, Seed: 42, NumPredict: 256}
	if got.Options != want {
		t.Errorf("options = %+v, want %+v", got.Options, want)
	}
}

func TestOllamaGeneratorRandomSeedWhenUnset(t *testing.T) {
	var seed int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		seed = req.Options.Seed
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":true}`))
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL, Model: "llama3"})
	if _, err := g.Generate(context.Background(), "p", "", port.Sampling{Temperature: 0.7}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if seed < 1 || seed > port.MaxRandomSeed {
		t.Errorf("seed = %d, want within [1, %d]", seed, port.MaxRandomSeed)
	}
}

func TestOllamaGeneratorErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantSub string
	}{
		{"http status", http.StatusNotFound, `{"error":"model not found"}`, "http 404"},
		{"error field", http.StatusOK, `{"error":"out of memory"}`, "out of memory"},
		{"bad json", http.StatusOK, `not json`, "decode response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL, Model: "llama3"})
			_, err := g.Generate(context.Background(), "p", "s", port.Sampling{})
			if !errors.Is(err, apperrors.ErrLLMCallFailed) {
				t.Fatalf("err = %v, want LLM call failed", err)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("err = %v, want substring %q", err, tc.wantSub)
			}
		})
	}
}

func TestNewGeneratorSelectsBackend(t *testing.T) {
	cfg := &config.Config{
		LLM: config.LLMConfig{
			DefaultProvider: "local",
			Providers: map[string]config.ProviderConfig{
				"local":  {Type: config.ProviderTypeOllama, BaseURL: "http://ollama:11434", Model: "llama3"},
				"remote": {Type: config.ProviderTypeOpenAI, Model: "gpt-4o-mini"},
				"odd":    {Type: "grpc"},
			},
		},
	}
	factory := NewEinoFactory(cfg)

	g, err := NewGenerator(cfg, factory)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if o, ok := g.(*OllamaGenerator); !ok || o.cfg.BaseURL != "http://ollama:11434" {
		t.Errorf("default provider generator = %T", g)
	}

	cfg.Generation.Provider = "remote"
	g, err = NewGenerator(cfg, factory)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if e, ok := g.(*EinoGenerator); !ok || e.provider != "remote" {
		t.Errorf("remote generator = %T", g)
	}

	cfg.Generation.Provider = "odd"
	if _, err := NewGenerator(cfg, factory); err == nil {
		t.Error("expected error for unsupported provider type")
	}
	cfg.Generation.Provider = "missing"
	if _, err := NewGenerator(cfg, factory); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestEinoFactoryRejectsOllamaProvider(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{
		DefaultProvider: "local",
		Providers:       map[string]config.ProviderConfig{"local": {Type: config.ProviderTypeOllama}},
	}}
	if _, err := NewEinoFactory(cfg).Default(context.Background()); err == nil {
		t.Error("expected error when eino factory is asked for an ollama provider")
	}
}
