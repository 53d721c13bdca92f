package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quill/internal/agent"
	qerrors "quill/internal/errors"
	"quill/internal/shared/logging"
)

const (
	defaultOpenAIURL   = "https://api.openai.com/v1"
	defaultHTTPTimeout = 120 * time.Second
	maxErrorBody       = 512
)

// Config configures an HTTP generation backend.
type Config struct {
	Model      string
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	Headers    map[string]string
	HTTPClient *http.Client
	// Defaults apply to sampling parameters the worker leaves unset.
	Defaults map[string]float64
}

type openaiBackend struct {
	cfg      Config
	endpoint string
	client   *http.Client
	logger   logging.Logger
}

// NewOpenAIBackend talks to any OpenAI-compatible /chat/completions API.
func NewOpenAIBackend(cfg Config) (Backend, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm: openai backend requires a model")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultOpenAIURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &openaiBackend{
		cfg:      cfg,
		endpoint: base + "/chat/completions",
		client:   client,
		logger:   logging.NewComponentLogger("llm-openai"),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	Stream           bool          `json:"stream"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *openaiBackend) buildRequest(inv Invocation) chatRequest {
	req := chatRequest{Model: b.cfg.Model}
	if system := SystemPrompt(inv); system != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: UserPrompt(inv)})

	params := mergeSampling(b.cfg.Defaults, inv.Sampling)
	req.Temperature = paramPtr(params, agent.ParamTemperature)
	req.TopP = paramPtr(params, agent.ParamTopP)
	req.PresencePenalty = paramPtr(params, agent.ParamPresencePenalty)
	req.FrequencyPenalty = paramPtr(params, agent.ParamFrequencyPenalty)
	return req
}

func (b *openaiBackend) Invoke(ctx context.Context, inv Invocation) (string, error) {
	payload, err := json.Marshal(b.buildRequest(inv))
	if err != nil {
		return "", fmt.Errorf("openai: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
	for name, value := range b.cfg.Headers {
		httpReq.Header.Set(name, value)
	}

	b.logger.Debug("model=%s role=%s -> %s", b.cfg.Model, inv.Role, b.endpoint)
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", qerrors.NewTransientError(err, "openai: "+err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", qerrors.NewTransientError(err, "openai: read response: "+err.Error())
	}
	if resp.StatusCode/100 != 2 {
		return "", statusError(resp.StatusCode, raw, resp.Header)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", statusError(resp.StatusCode, []byte(out.Error.Message), resp.Header)
	}
	if len(out.Choices) == 0 {
		return "", qerrors.NewTransientError(errors.New("no choices"), "openai: empty response")
	}

	choice := out.Choices[0]
	b.logger.Debug("role=%s finish=%s tokens=%d+%d", inv.Role, choice.FinishReason,
		out.Usage.PromptTokens, out.Usage.CompletionTokens)
	return choice.Message.Content, nil
}

// statusError classifies a non-2xx reply: 429 and 5xx are transient and carry
// the Retry-After hint, everything else is permanent.
func statusError(status int, body []byte, header http.Header) error {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	cause := fmt.Errorf("status %d: %s", status, text)
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		seconds, _ := strconv.Atoi(header.Get("Retry-After"))
		return &qerrors.TransientError{Err: cause, StatusCode: status, RetryAfter: seconds}
	}
	return &qerrors.PermanentError{Err: cause, StatusCode: status}
}

// mergeSampling overlays a worker's sampling parameters on backend defaults.
func mergeSampling(defaults, overrides map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(defaults)+len(overrides))
	maps.Copy(out, defaults)
	maps.Copy(out, overrides)
	return out
}

func paramPtr(params map[string]float64, name string) *float64 {
	if v, ok := params[name]; ok {
		return &v
	}
	return nil
}
