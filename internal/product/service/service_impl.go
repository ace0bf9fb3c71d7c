// Package service serves catalog searches with a short-lived redis
// cache in front of the upstream provider.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/velra-app/velra/internal/providers/asos"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const cacheTTL = 15 * time.Minute

var ErrMissingCategory = errors.New("category_required")

type catalog interface {
	ByCategory(ctx context.Context, categoryID, currency, country string, limit int) ([]asos.Product, error)
}

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	Catalog *asos.Client
	Redis   *redis.Client `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	catalog catalog
	redis   *redis.Client
}

func NewService(p ServiceParam) *Service {
	return &Service{
		log:     p.Log.Named("product.service"),
		catalog: p.Catalog,
		redis:   p.Redis,
	}
}

// ByCategory lists products for a category, serving repeated lookups
// from cache. Without redis every call goes upstream.
func (s *Service) ByCategory(ctx context.Context, categoryID, currency, country string, limit int) ([]asos.Product, error) {
	if categoryID == "" {
		return nil, ErrMissingCategory
	}

	key := cacheKey(categoryID, currency, country, limit)
	if cached := s.fromCache(ctx, key); cached != nil {
		return cached, nil
	}

	products, err := s.catalog.ByCategory(ctx, categoryID, currency, country, limit)
	if err != nil {
		return nil, err
	}

	s.toCache(ctx, key, products)
	return products, nil
}

func (s *Service) fromCache(ctx context.Context, key string) []asos.Product {
	if s.redis == nil {
		return nil
	}
	raw, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	var products []asos.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil
	}
	return products
}

func (s *Service) toCache(ctx context.Context, key string, products []asos.Product) {
	if s.redis == nil || len(products) == 0 {
		return
	}
	raw, err := json.Marshal(products)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func cacheKey(categoryID, currency, country string, limit int) string {
	return fmt.Sprintf("products:bycategory:%s:%s:%s:%d", categoryID, currency, country, limit)
}
