package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/forecast-enhancer/internal/circuitbreaker"
)

// fakeModelServer mimics the /api/tags and /api/generate endpoints.
type fakeModelServer struct {
	installed []string
	gone      atomic.Bool
	failing   atomic.Bool
	generates atomic.Int32
	lastReq   atomic.Value
}

func (s *fakeModelServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		var resp tagsResponse
		for _, name := range s.installed {
			resp.Models = append(resp.Models, struct {
				Name string `json:"name"`
			}{Name: name})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		s.generates.Add(1)
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode generate request: %v", err)
		}
		s.lastReq.Store(req)
		switch {
		case s.gone.Load():
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model not found"}`))
		case s.failing.Load():
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_ = json.NewEncoder(w).Encode(generateResponse{Response: "  Take a light jacket.  "})
		}
	})
	return mux
}

func TestRichBackend_InitializeAndAnalyze(t *testing.T) {
	fs := &fakeModelServer{installed: []string{"llama3.2:latest"}}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	b := NewRichBackend(RichConfig{Endpoint: srv.URL + "/", Model: "llama3.2", Seed: 7, RequestTimeout: time.Second})
	require.NoError(t, b.Initialize(context.Background()))
	assert.True(t, b.IsReady())
	assert.Equal(t, int32(1), fs.generates.Load(), "warm-up generation")

	got, err := b.Analyze(context.Background(), sampleForecast())
	require.NoError(t, err)
	assert.Equal(t, "Take a light jacket.", got)

	req := fs.lastReq.Load().(generateRequest)
	assert.Equal(t, 0.0, req.Options.Temperature)
	assert.Equal(t, 7, req.Options.Seed)
	assert.False(t, req.Stream)
	assert.Equal(t, BuildPrompt(sampleForecast()), req.Prompt)
}

func TestRichBackend_InitializeModelMissing(t *testing.T) {
	fs := &fakeModelServer{installed: []string{"mistral"}}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	b := NewRichBackend(RichConfig{Endpoint: srv.URL, Model: "llama3.2"})
	err := b.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendInit))
	assert.False(t, b.IsReady())
	assert.Equal(t, int32(0), fs.generates.Load())
}

func TestRichBackend_InitializeUnreachable(t *testing.T) {
	b := NewRichBackend(RichConfig{Endpoint: "http://127.0.0.1:1", Model: "llama3.2", RequestTimeout: 200 * time.Millisecond})
	err := b.Initialize(context.Background())
	assert.True(t, errors.Is(err, ErrBackendInit))
}

func TestRichBackend_ModelRemovedIsGone(t *testing.T) {
	fs := &fakeModelServer{installed: []string{"llama3.2"}}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	b := NewRichBackend(RichConfig{Endpoint: srv.URL, Model: "llama3.2"})
	require.NoError(t, b.Initialize(context.Background()))

	fs.gone.Store(true)
	_, err := b.Analyze(context.Background(), sampleForecast())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendGone))
	assert.False(t, b.IsReady())
}

func TestRichBackend_BreakerShortCircuits(t *testing.T) {
	fs := &fakeModelServer{installed: []string{"llama3.2"}}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Minute, Component: "rich"})
	b := NewRichBackend(RichConfig{Endpoint: srv.URL, Model: "llama3.2", Breaker: cb})
	require.NoError(t, b.Initialize(context.Background()))

	fs.failing.Store(true)
	for i := 0; i < 2; i++ {
		_, err := b.Analyze(context.Background(), sampleForecast())
		require.Error(t, err)
	}
	before := fs.generates.Load()
	_, err := b.Analyze(context.Background(), sampleForecast())
	assert.True(t, errors.Is(err, circuitbreaker.ErrOpen))
	assert.Equal(t, before, fs.generates.Load())
	assert.True(t, b.IsReady(), "transient failures do not unready the backend")
}
