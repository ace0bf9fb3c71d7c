// Package asos fetches product listings from the ASOS RapidAPI.
package asos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/velra-app/velra/internal/config"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("asos_not_configured")
	ErrUpstream      = errors.New("asos_upstream_error")
)

// Product is the normalized listing shape returned to clients.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Brand    string `json:"brand,omitempty"`
	Price    string `json:"price,omitempty"`
	Currency string `json:"currency,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	URL      string `json:"url,omitempty"`
}

type rawProduct struct {
	ID       json.Number `json:"id"`
	Name     string      `json:"name"`
	Brand    string      `json:"brandName"`
	ImageURL string      `json:"imageUrl"`
	URL      string      `json:"url"`
	Price    struct {
		Current struct {
			Text string `json:"text"`
		} `json:"current"`
		Currency string `json:"currency"`
	} `json:"price"`
}

type byCategoryResponse struct {
	Products []rawProduct `json:"products"`
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
		host:   cfg.Asos.Host,
		apiKey: cfg.Asos.APIKey,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log.Named("providers.asos"),
	}
}

// ByCategory lists products in an ASOS category. Image hosts come back
// protocol-relative from the API, so URLs are normalized to https.
func (c *Client) ByCategory(ctx context.Context, categoryID, currency, country string, limit int) ([]Product, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if currency == "" {
		currency = "USD"
	}
	if country == "" {
		country = "US"
	}
	if limit <= 0 {
		limit = 48
	}

	base := c.baseURL
	if base == "" {
		base = "https://" + c.host
	}

	query := url.Values{}
	query.Set("categoryId", categoryID)
	query.Set("currency", currency)
	query.Set("country", country)
	query.Set("limit", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/product/bycategory?"+query.Encode(), nil)
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
		c.log.Warn("product fetch failed",
			zap.String("category_id", categoryID),
			zap.Int("status", res.StatusCode),
		)
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, res.StatusCode)
	}

	var out byCategoryResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	products := make([]Product, 0, len(out.Products))
	for _, raw := range out.Products {
		products = append(products, Product{
			ID:       raw.ID.String(),
			Name:     raw.Name,
			Brand:    raw.Brand,
			Price:    raw.Price.Current.Text,
			Currency: raw.Price.Currency,
			ImageURL: ensureHTTPS(raw.ImageURL),
			URL:      ensureHTTPS(raw.URL),
		})
	}
	return products, nil
}

func ensureHTTPS(u string) string {
	if u == "" {
		return u
	}
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return "https://" + strings.TrimPrefix(u, "//")
}
