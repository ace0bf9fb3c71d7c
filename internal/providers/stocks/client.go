// Package stocks fetches quotes from Alpha Vantage with a deterministic
// mock fallback when the upstream quota is exhausted.
package stocks

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"time"

	"github.com/velra-app/velra/internal/config"
	"go.uber.org/zap"
)

// Quote is one symbol's current price snapshot.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name,omitempty"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Mock          bool    `json:"mock,omitempty"`
}

type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol        string `json:"01. symbol"`
		Price         string `json:"05. price"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
}

type Client struct {
	apiKey string
	http   *http.Client
	log    *zap.Logger

	baseURL string // test override
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		apiKey:  cfg.Stocks.AlphaVantageKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log.Named("providers.stocks"),
		baseURL: "https://www.alphavantage.co",
	}
}

// GlobalQuote fetches one symbol. Alpha Vantage signals quota
// exhaustion with an empty quote object, in which case a deterministic
// mock is returned so the feed stays populated.
func (c *Client) GlobalQuote(ctx context.Context, symbol string) (*Quote, error) {
	if c.apiKey == "" {
		return mockQuote(symbol), nil
	}

	u := fmt.Sprintf("%s/query?function=GLOBAL_QUOTE&symbol=%s&apikey=%s", c.baseURL, symbol, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stocks upstream status %d for %s", res.StatusCode, symbol)
	}

	var out globalQuoteResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.GlobalQuote.Symbol == "" {
		c.log.Info("quota exhausted or unknown symbol, serving mock quote", zap.String("symbol", symbol))
		return mockQuote(symbol), nil
	}

	price, _ := strconv.ParseFloat(out.GlobalQuote.Price, 64)
	change, _ := strconv.ParseFloat(out.GlobalQuote.Change, 64)
	percentText := out.GlobalQuote.ChangePercent
	if n := len(percentText); n > 0 && percentText[n-1] == '%' {
		percentText = percentText[:n-1]
	}
	percent, _ := strconv.ParseFloat(percentText, 64)

	return &Quote{
		Symbol:        out.GlobalQuote.Symbol,
		Price:         price,
		Change:        change,
		ChangePercent: percent,
	}, nil
}

func mockQuote(symbol string) *Quote {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	seed := h.Sum32()

	return &Quote{
		Symbol:        symbol,
		Price:         float64(100 + seed%900),
		Change:        float64(int(seed%10) - 5),
		ChangePercent: float64(int(seed%10)-5) / 100,
		Mock:          true,
	}
}
