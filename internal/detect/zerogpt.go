package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	qerrors "quill/internal/errors"
	"quill/internal/shared/logging"
)

const (
	defaultZeroGPTURL = "https://api.zerogpt.com/api/detect/detectText"
	maxResponseBytes  = 1 << 20
)

// ZeroGPTConfig configures the HTTP classifier.
type ZeroGPTConfig struct {
	URL        string        `mapstructure:"url" yaml:"url"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	HTTPClient *http.Client  `mapstructure:"-" yaml:"-"`
}

type zeroGPT struct {
	url    string
	apiKey string
	client *http.Client
	retry  qerrors.RetryConfig
	logger logging.Logger
}

// NewZeroGPT returns a classifier for the ZeroGPT detection API.
func NewZeroGPT(cfg ZeroGPTConfig, logger logging.Logger) (Classifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("detect: zerogpt requires an api key")
	}
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = defaultZeroGPTURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	retry := qerrors.DefaultRetryConfig()
	retry.MaxRetries = 2
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}
	return &zeroGPT{url: url, apiKey: cfg.APIKey, client: client, retry: retry, logger: logging.OrNop(logger)}, nil
}

type zeroGPTResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		IsHuman        float64  `json:"isHuman"`
		FakePercentage float64  `json:"fakePercentage"`
		Sentences      []string `json:"h"`
		Feedback       string   `json:"feedback"`
	} `json:"data"`
}

func (z *zeroGPT) Classify(ctx context.Context, text string) (Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return Verdict{}, qerrors.NewPermanentError(errors.New("empty text"), "nothing to classify")
	}
	return qerrors.RetryWithResult(ctx, z.retry, func(ctx context.Context) (Verdict, error) {
		return z.classify(ctx, text)
	}, z.logger)
}

func (z *zeroGPT) classify(ctx context.Context, text string) (Verdict, error) {
	body, err := json.Marshal(map[string]string{"input_text": text})
	if err != nil {
		return Verdict{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, qerrors.NewPermanentError(err, "build detection request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ApiKey", z.apiKey)

	resp, err := z.client.Do(req)
	if err != nil {
		return Verdict{}, qerrors.NewTransientError(err, "detection request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Verdict{}, qerrors.NewTransientError(err, "read detection response")
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Verdict{}, &qerrors.TransientError{Err: fmt.Errorf("status %d", resp.StatusCode), StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Verdict{}, &qerrors.PermanentError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))), StatusCode: resp.StatusCode}
	}
	return parseZeroGPT(raw)
}

func parseZeroGPT(raw []byte) (Verdict, error) {
	var decoded zeroGPTResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Verdict{}, qerrors.NewPermanentError(err, "decode detection response")
	}
	if !decoded.Success {
		msg := decoded.Message
		if msg == "" {
			msg = "detection rejected"
		}
		return Verdict{}, qerrors.NewPermanentError(errors.New(msg), msg)
	}

	v := Verdict{
		AIPercentage: decoded.Data.FakePercentage,
		Feedback:     decoded.Data.Feedback,
		Raw:          json.RawMessage(raw),
	}
	// isHuman is the human share in percent.
	v.IsHumanWritten = decoded.Data.IsHuman >= 50 && decoded.Data.FakePercentage < 50
	for _, sentence := range decoded.Data.Sentences {
		if s := strings.TrimSpace(sentence); s != "" {
			v.Segments = append(v.Segments, SegmentScore{Text: s, AIScore: 1})
		}
	}
	return v, nil
}
