package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kjstillabower/forecast-enhancer/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

// RichConfig configures the remote text-generation backend.
type RichConfig struct {
	Endpoint       string
	Model          string
	RequestTimeout time.Duration
	// InitTimeout bounds the model check and warm-up generation together.
	InitTimeout time.Duration
	Seed        int
	MaxTokens   int
	Breaker     *circuitbreaker.CircuitBreaker
}

// RichBackend generates advisories with a remote language model exposing the
// Ollama HTTP API (/api/tags, /api/generate).
type RichBackend struct {
	cfg    RichConfig
	client *http.Client
	ready  atomic.Bool
}

// NewRichBackend creates the backend. Nothing is contacted until Initialize.
func NewRichBackend(cfg RichConfig) *RichBackend {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 120
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &RichBackend{cfg: cfg, client: &http.Client{Timeout: cfg.RequestTimeout}}
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	Seed        int     `json:"seed"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Initialize checks the model is installed and runs one warm-up generation so
// the first real request does not pay the model load.
func (b *RichBackend) Initialize(ctx context.Context) error {
	if b.cfg.Endpoint == "" || b.cfg.Model == "" {
		return fmt.Errorf("%w: endpoint and model are required", ErrBackendInit)
	}
	if b.cfg.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.InitTimeout)
		defer cancel()
	}
	if err := b.checkModel(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendInit, err)
	}
	if _, err := b.generate(ctx, "Reply with the single word: ready."); err != nil {
		return fmt.Errorf("%w: warm-up: %w", ErrBackendInit, err)
	}
	b.ready.Store(true)
	return nil
}

func (b *RichBackend) IsReady() bool { return b.ready.Load() }

// Analyze sends a deterministic prompt built from the forecast.
func (b *RichBackend) Analyze(ctx context.Context, f models.NormalizedForecast) (string, error) {
	prompt := BuildPrompt(f)
	var text string
	call := func() error {
		var err error
		text, err = b.generate(ctx, prompt)
		return err
	}

	var err error
	if b.cfg.Breaker != nil {
		err = b.cfg.Breaker.Call(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		if errors.Is(err, ErrBackendGone) {
			b.ready.Store(false)
		}
		return "", err
	}
	return text, nil
}

func (b *RichBackend) checkModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.Endpoint+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("list models: HTTP %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tags); err != nil {
		return fmt.Errorf("parse model list: %w", err)
	}
	for _, m := range tags.Models {
		if m.Name == b.cfg.Model || m.Name == b.cfg.Model+":latest" {
			return nil
		}
	}
	return fmt.Errorf("model %q not installed", b.cfg.Model)
}

func (b *RichBackend) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  b.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: 0,
			Seed:        b.cfg.Seed,
			NumPredict:  b.cfg.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: model %q not found", ErrBackendGone, b.cfg.Model)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("generate: HTTP %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("parse generate response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("generate: %s", out.Error)
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", errors.New("generate: empty response")
	}
	return text, nil
}

// BuildPrompt renders the forecast into a fixed prompt. Identical forecasts
// yield identical prompts.
func BuildPrompt(f models.NormalizedForecast) string {
	var sb strings.Builder
	sb.WriteString("You are a concise weather assistant. Write one or two sentences of practical advice ")
	sb.WriteString("for someone at this location today. Do not repeat the numbers verbatim.\n\n")
	c := f.Current
	fmt.Fprintf(&sb, "Location: %s\n", f.Location)
	fmt.Fprintf(&sb, "Now: %.1f C, wind %.1f m/s from %.0f deg, humidity %.0f%%, precipitation %.1f mm (%.0f%%), sky %s\n",
		c.Temperature, c.WindSpeed, c.WindDirection, c.Humidity, c.PrecipitationAmount, c.PrecipitationProbability, c.Symbol)
	for i, d := range f.Daily {
		if i == 3 {
			break
		}
		fmt.Fprintf(&sb, "%s: %.1f..%.1f C, %.1f mm, max wind %.1f m/s, %s\n",
			d.Date, d.MinTemperature, d.MaxTemperature, d.PrecipitationAmount, d.MaxWindSpeed, d.Symbol)
	}
	return sb.String()
}
