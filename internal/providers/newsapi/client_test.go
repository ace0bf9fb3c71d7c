package newsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velra-app/velra/internal/config"
	"go.uber.org/zap"
)

func newTestClient(baseURL string) *Client {
	cfg := config.Config{}
	cfg.News.RapidAPIKey = "key"
	cfg.News.RapidAPIHost = "real-time-news-data.p.rapidapi.com"
	c := NewClient(cfg, zap.NewNop())
	c.baseURL = baseURL
	return c
}

func TestTopHeadlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/top-headlines", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-rapidapi-key"))
		assert.Equal(t, "real-time-news-data.p.rapidapi.com", r.Header.Get("x-rapidapi-host"))
		assert.Equal(t, "US", r.URL.Query().Get("country"))
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))

		json.NewEncoder(w).Encode(headlinesResponse{
			Status: "OK",
			Data: []Article{
				{Title: "Markets rally", Link: "https://example.com/a", SourceName: "Example"},
			},
		})
	}))
	defer srv.Close()

	articles, err := newTestClient(srv.URL).TopHeadlines(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "Markets rally", articles[0].Title)
}

func TestTopHeadlinesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).TopHeadlines(context.Background(), 10)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestTopHeadlinesUnconfigured(t *testing.T) {
	_, err := NewClient(config.Config{}, zap.NewNop()).TopHeadlines(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
