// Package service serves stock quotes for the tracked symbols with a
// short in-memory cache over the quote provider.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/velra-app/velra/internal/clock"
	"github.com/velra-app/velra/internal/providers/stocks"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const quoteTTL = 60 * time.Second

var ErrUnknownSymbol = errors.New("unknown_symbol")

// tracked is the fixed watchlist served by the quotes endpoints.
var tracked = []struct {
	Symbol string
	Name   string
}{
	{"AAPL", "Apple Inc."},
	{"MSFT", "Microsoft Corporation"},
	{"GOOGL", "Alphabet Inc."},
	{"AMZN", "Amazon.com Inc."},
	{"META", "Meta Platforms Inc."},
	{"TSLA", "Tesla Inc."},
	{"NVDA", "NVIDIA Corporation"},
	{"JPM", "JPMorgan Chase & Co."},
	{"V", "Visa Inc."},
	{"DIS", "The Walt Disney Company"},
}

type quoteProvider interface {
	GlobalQuote(ctx context.Context, symbol string) (*stocks.Quote, error)
}

type cachedQuote struct {
	quote     stocks.Quote
	fetchedAt time.Time
}

type ServiceParam struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Provider *stocks.Client
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	provider quoteProvider

	mu    sync.Mutex
	cache map[string]cachedQuote
}

func NewService(p ServiceParam) *Service {
	return &Service{
		log:      p.Log.Named("stocks.service"),
		clock:    p.Clock,
		provider: p.Provider,
		cache:    make(map[string]cachedQuote),
	}
}

// Quote returns the quote for one tracked symbol.
func (s *Service) Quote(ctx context.Context, symbol string) (*stocks.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	name, ok := trackedName(symbol)
	if !ok {
		return nil, ErrUnknownSymbol
	}
	return s.quote(ctx, symbol, name)
}

// Quotes returns the full watchlist. A failing symbol does not fail
// the whole list.
func (s *Service) Quotes(ctx context.Context) ([]stocks.Quote, error) {
	out := make([]stocks.Quote, 0, len(tracked))
	for _, t := range tracked {
		q, err := s.quote(ctx, t.Symbol, t.Name)
		if err != nil {
			s.log.Warn("quote fetch failed", zap.String("symbol", t.Symbol), zap.Error(err))
			continue
		}
		out = append(out, *q)
	}
	return out, nil
}

func (s *Service) quote(ctx context.Context, symbol, name string) (*stocks.Quote, error) {
	now := s.clock.Now()

	s.mu.Lock()
	if c, ok := s.cache[symbol]; ok && now.Sub(c.fetchedAt) < quoteTTL {
		q := c.quote
		s.mu.Unlock()
		return &q, nil
	}
	s.mu.Unlock()

	q, err := s.provider.GlobalQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	q.Name = name

	s.mu.Lock()
	s.cache[symbol] = cachedQuote{quote: *q, fetchedAt: now}
	s.mu.Unlock()
	return q, nil
}

func trackedName(symbol string) (string, bool) {
	for _, t := range tracked {
		if t.Symbol == symbol {
			return t.Name, true
		}
	}
	return "", false
}
