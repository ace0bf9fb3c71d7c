// Package newsapi fetches top headlines from the RapidAPI real-time
// news service.
package newsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/velra-app/velra/internal/config"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("newsapi_not_configured")
	ErrUpstream      = errors.New("newsapi_upstream_error")
)

// Article is a normalized headline.
type Article struct {
	Title            string `json:"title"`
	Link             string `json:"link"`
	SourceName       string `json:"source_name"`
	PhotoURL         string `json:"photo_url"`
	PublishedDateUTC string `json:"published_datetime_utc"`
}

type headlinesResponse struct {
	Status string    `json:"status"`
	Data   []Article `json:"data"`
}

type Client struct {
	host   string
	apiKey string
	http   *http.Client
	log    *zap.Logger

	baseURL string // test override
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		host:   cfg.News.RapidAPIHost,
		apiKey: cfg.News.RapidAPIKey,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log.Named("providers.newsapi"),
	}
}

// TopHeadlines fetches up to limit US English headlines.
func (c *Client) TopHeadlines(ctx context.Context, limit int) ([]Article, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 50
	}

	base := c.baseURL
	if base == "" {
		base = "https://" + c.host
	}

	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", limit))
	query.Set("country", "US")
	query.Set("lang", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/top-headlines?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-rapidapi-host", c.host)
	req.Header.Set("x-rapidapi-key", c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		c.log.Warn("headlines fetch failed", zap.Int("status", res.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, res.StatusCode)
	}

	var out headlinesResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return out.Data, nil
}
