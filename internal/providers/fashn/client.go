// Package fashn wraps the FASHN virtual try-on API.
package fashn

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/velra-app/velra/internal/config"
	"go.uber.org/zap"
)

// Prediction statuses reported by the API.
const (
	StatusStarting   = "starting"
	StatusInQueue    = "in_queue"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var (
	ErrNotConfigured = errors.New("fashn_not_configured")
	ErrUpstream      = errors.New("fashn_upstream_error")
	ErrNotFound      = errors.New("fashn_prediction_not_found")
)

// RunRequest starts one try-on prediction.
type RunRequest struct {
	ModelImage   []byte
	GarmentImage []byte
	Category     string
}

// RunResponse carries the prediction id to poll.
type RunResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// StatusResponse is the polled prediction state.
type StatusResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Terminal reports whether the prediction will not change again.
func (s StatusResponse) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.Fashn.BaseURL,
		apiKey:  cfg.Fashn.APIKey,
		http:    &http.Client{Timeout: 90 * time.Second},
		log:     log.Named("providers.fashn"),
	}
}

// Run submits a try-on. It tries multipart form upload first, and on a
// 400 retries with a base64 data-URI JSON payload, which some gateway
// configurations require.
func (c *Client) Run(ctx context.Context, req RunRequest) (*RunResponse, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	category := req.Category
	if category == "" {
		category = "auto"
	}

	res, err := c.runMultipart(ctx, req, category)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusBadRequest {
		c.log.Info("multipart submit rejected, retrying with base64 payload")
		if err := res.Body.Close(); err != nil {
			c.log.Debug("close response body", zap.Error(err))
		}
		res, err = c.runBase64(ctx, req, category)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		c.log.Warn("run request failed",
			zap.Int("status", res.StatusCode),
			zap.ByteString("body", truncate(body, 500)),
		)
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, res.StatusCode)
	}

	var out RunResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: missing prediction id", ErrUpstream)
	}
	return &out, nil
}

// Status fetches the current state of a prediction.
func (c *Client) Status(ctx context.Context, predictionID string) (*StatusResponse, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/status/%s", c.baseURL, predictionID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, res.StatusCode)
	}

	var out StatusResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return &out, nil
}

func (c *Client) runMultipart(ctx context.Context, req RunRequest, category string) (*http.Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	modelPart, err := writer.CreateFormFile("model_image", "model.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := modelPart.Write(req.ModelImage); err != nil {
		return nil, err
	}

	garmentPart, err := writer.CreateFormFile("garment_image", "garment.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := garmentPart.Write(req.GarmentImage); err != nil {
		return nil, err
	}

	if err := writer.WriteField("category", category); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	return c.http.Do(httpReq)
}

func (c *Client) runBase64(ctx context.Context, req RunRequest, category string) (*http.Response, error) {
	payload := map[string]any{
		"model_image":   "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(req.ModelImage),
		"garment_image": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(req.GarmentImage),
		"category":      category,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	return c.http.Do(httpReq)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
