// Package gemini calls the Google Generative Language API for
// JSON-structured market insights.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/velra-app/velra/internal/config"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("gemini_not_configured")
	ErrUpstream      = errors.New("gemini_upstream_error")
	ErrEmptyResponse = errors.New("gemini_empty_response")
)

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type Client struct {
	apiKey string
	model  string
	http   *http.Client
	log    *zap.Logger

	baseURL string // test override
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		apiKey:  cfg.Gemini.APIKey,
		model:   cfg.Gemini.Model,
		http:    &http.Client{Timeout: 60 * time.Second},
		log:     log.Named("providers.gemini"),
		baseURL: "https://generativelanguage.googleapis.com",
	}
}

// GenerateJSON sends a prompt requesting a JSON reply and unmarshals
// the model's text into out.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, out any) error {
	text, err := c.generate(ctx, prompt, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: malformed model output: %v", ErrUpstream, err)
	}
	return nil
}

func (c *Client) generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	}
	if jsonMode {
		reqBody.GenerationConfig = &generationConfig{ResponseMimeType: "application/json"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		c.log.Warn("generate failed", zap.Int("status", res.StatusCode))
		return "", fmt.Errorf("%w: status %d", ErrUpstream, res.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}
