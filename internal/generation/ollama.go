package generation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Default Ollama settings
const (
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultOllamaTimeout = 120 * time.Second
)

// OllamaBackend generates text through an Ollama server
type OllamaBackend struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger

	mu    sync.RWMutex
	model string
}

type ollamaOptions struct {
	NumPredict    int      `json:"num_predict,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaBackend creates an Ollama backend
func NewOllamaBackend(baseURL string, timeout time.Duration, logger *zap.Logger) *OllamaBackend {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if timeout == 0 {
		timeout = DefaultOllamaTimeout
	}

	return &OllamaBackend{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Name implements Backend
func (b *OllamaBackend) Name() string {
	return "ollama"
}

// Load checks that the model exists on the server
func (b *OllamaBackend) Load(ctx context.Context, modelPath string) error {
	if modelPath == "" {
		return fmt.Errorf("model name is required")
	}

	if _, err := b.post(ctx, "/api/show", map[string]string{"model": modelPath}); err != nil {
		return err
	}

	b.mu.Lock()
	b.model = modelPath
	b.mu.Unlock()
	return nil
}

// Generate implements Backend
func (b *OllamaBackend) Generate(ctx context.Context, params Params) (string, error) {
	b.mu.RLock()
	model := b.model
	b.mu.RUnlock()

	req := ollamaGenerateRequest{
		Model:  model,
		Prompt: params.Prompt,
		Stream: false,
		Options: &ollamaOptions{
			NumPredict:    params.MaxTokens,
			Temperature:   params.Temperature,
			RepeatPenalty: params.RepeatPenalty,
			Stop:          params.Stop,
		},
	}

	body, err := b.post(ctx, "/api/generate", req)
	if err != nil {
		return "", err
	}

	var resp ollamaGenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	b.logger.Debug("Ollama generation finished",
		zap.String("model", model),
		zap.Int("prompt_chars", len(params.Prompt)),
		zap.Int("response_chars", len(resp.Response)),
	)

	return resp.Response, nil
}

// Close implements Backend
func (b *OllamaBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *OllamaBackend) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}
