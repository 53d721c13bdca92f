package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"quill/internal/agent"
	qerrors "quill/internal/errors"
	"quill/internal/shared/logging"
)

type geminiBackend struct {
	client   *genai.Client
	model    string
	defaults map[string]float64
	logger   logging.Logger
}

// NewGeminiBackend returns a backend for Google's Gemini API.
func NewGeminiBackend(ctx context.Context, cfg Config) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: gemini backend requires an API key")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &geminiBackend{
		client:   client,
		model:    model,
		defaults: cfg.Defaults,
		logger:   logging.NewComponentLogger("llm-gemini"),
	}, nil
}

func (b *geminiBackend) Invoke(ctx context.Context, inv Invocation) (string, error) {
	params := mergeSampling(b.defaults, inv.Sampling)
	config := &genai.GenerateContentConfig{
		Temperature:      float32Ptr(params, agent.ParamTemperature),
		TopP:             float32Ptr(params, agent.ParamTopP),
		PresencePenalty:  float32Ptr(params, agent.ParamPresencePenalty),
		FrequencyPenalty: float32Ptr(params, agent.ParamFrequencyPenalty),
	}
	if system := SystemPrompt(inv); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	b.logger.Debug("generate model=%s role=%s", b.model, inv.Role)
	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(UserPrompt(inv)), config)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", qerrors.NewTransientError(errors.New("empty candidate"), "backend returned an empty response")
	}
	return text, nil
}

func classifyGeminiError(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code == 0 {
		code = qerrors.StatusCode(err)
	}

	switch {
	case code == 429 || code >= 500:
		return &qerrors.TransientError{Err: err, StatusCode: code}
	case code >= 400:
		return &qerrors.PermanentError{Err: err, StatusCode: code}
	case qerrors.IsTransient(err):
		return qerrors.NewTransientError(err, "")
	default:
		return err
	}
}

func float32Ptr(params map[string]float64, name string) *float32 {
	v, ok := params[name]
	if !ok {
		return nil
	}
	return genai.Ptr(float32(v))
}
