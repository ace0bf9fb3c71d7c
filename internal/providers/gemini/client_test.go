package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velra-app/velra/internal/config"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, apiKey, baseURL string) *Client {
	t.Helper()
	cfg := config.Config{}
	cfg.Gemini.APIKey = apiKey
	cfg.Gemini.Model = "gemini-2.0-flash"
	c := NewClient(cfg, zaptest.NewLogger(t))
	if baseURL != "" {
		c.baseURL = baseURL
	}
	return c
}

func TestGenerateJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.Contains(r.URL.Path, "gemini-2.0-flash:generateContent"))
		require.Equal(t, "sk-test", r.URL.Query().Get("key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.GenerationConfig)
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)

		json.NewEncoder(w).Encode(generateResponse{
			Candidates: []struct {
				Content content `json:"content"`
			}{
				{Content: content{Parts: []part{{Text: `{"summary":"markets steady","sentiment":"neutral"}`}}}},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, "sk-test", srv.URL)

	var out struct {
		Summary   string `json:"summary"`
		Sentiment string `json:"sentiment"`
	}
	require.NoError(t, c.GenerateJSON(context.Background(), "summarize the market", &out))
	assert.Equal(t, "markets steady", out.Summary)
	assert.Equal(t, "neutral", out.Sentiment)
}

func TestGenerateJSONMalformedOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{
			Candidates: []struct {
				Content content `json:"content"`
			}{
				{Content: content{Parts: []part{{Text: "not json at all"}}}},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, "sk-test", srv.URL)

	var out map[string]any
	err := c.GenerateJSON(context.Background(), "prompt", &out)
	require.ErrorIs(t, err, ErrUpstream)
}

func TestGenerateEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{})
	}))
	defer srv.Close()

	c := newTestClient(t, "sk-test", srv.URL)

	var out map[string]any
	err := c.GenerateJSON(context.Background(), "prompt", &out)
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGenerateUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, "sk-test", srv.URL)

	var out map[string]any
	err := c.GenerateJSON(context.Background(), "prompt", &out)
	require.ErrorIs(t, err, ErrUpstream)
}

func TestGenerateNotConfigured(t *testing.T) {
	c := newTestClient(t, "", "")

	var out map[string]any
	err := c.GenerateJSON(context.Background(), "prompt", &out)
	require.ErrorIs(t, err, ErrNotConfigured)
}
