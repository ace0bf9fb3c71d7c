package fashn

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
	"go.uber.org/zap"
)

func newTestClient(baseURL string) *Client {
	cfg := config.Config{}
	cfg.Fashn.APIKey = "key"
	cfg.Fashn.BaseURL = baseURL
	return NewClient(cfg, zap.NewNop())
}

func TestRunMultipartSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/run", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "tops", r.FormValue("category"))

		json.NewEncoder(w).Encode(RunResponse{ID: "pred-1"})
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Run(context.Background(), RunRequest{
		ModelImage:   []byte("model"),
		GarmentImage: []byte("garment"),
		Category:     "tops",
	})
	require.NoError(t, err)
	assert.Equal(t, "pred-1", res.ID)
}

func TestRunFallsBackToBase64On400(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.True(t, strings.HasPrefix(payload["model_image"].(string), "data:image/jpeg;base64,"))
		assert.Equal(t, "auto", payload["category"])

		json.NewEncoder(w).Encode(RunResponse{ID: "pred-2"})
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Run(context.Background(), RunRequest{
		ModelImage:   []byte("model"),
		GarmentImage: []byte("garment"),
	})
	require.NoError(t, err)
	assert.Equal(t, "pred-2", res.ID)
	assert.Equal(t, 2, calls)
}

func TestRunUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Run(context.Background(), RunRequest{
		ModelImage:   []byte("m"),
		GarmentImage: []byte("g"),
	})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status/pred-1", r.URL.Path)
		json.NewEncoder(w).Encode(StatusResponse{
			ID:     "pred-1",
			Status: StatusCompleted,
			Output: []string{"https://cdn.fashn.ai/out.jpg"},
		})
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Status(context.Background(), "pred-1")
	require.NoError(t, err)
	assert.True(t, res.Terminal())
	assert.Equal(t, []string{"https://cdn.fashn.ai/out.jpg"}, res.Output)
}

func TestStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnconfiguredClient(t *testing.T) {
	client := NewClient(config.Config{}, zap.NewNop())

	_, err := client.Run(context.Background(), RunRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = client.Status(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
