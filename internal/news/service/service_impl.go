// Package service implements the news headline cache, saved articles,
// and Gemini-backed market insights.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/velra-app/velra/internal/clock"
	newsdomain "github.com/velra-app/velra/internal/news/domain"
	"github.com/velra-app/velra/internal/providers/gemini"
	"github.com/velra-app/velra/internal/providers/newsapi"
	userdomain "github.com/velra-app/velra/internal/user/domain"
	"github.com/velra-app/velra/pkg/db"
	"github.com/velra-app/velra/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultHeadlineLimit = 50
	refreshFetchSize     = 50
	weeklyPickWindow     = 7 * 24 * time.Hour
	savedArticlePageSize = 20
	savedArticlePageMax  = 100
)

type newsFeed interface {
	TopHeadlines(ctx context.Context, limit int) ([]newsapi.Article, error)
}

type insightModel interface {
	GenerateJSON(ctx context.Context, prompt string, out any) error
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Feed  *newsapi.Client
	Model *gemini.Client
	Users userdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	feed  newsFeed
	model insightModel
	users userdomain.Service
}

func NewService(p ServiceParam) newsdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("news.service"),
		genID: p.GenID,
		clock: p.Clock,
		feed:  p.Feed,
		model: p.Model,
		users: p.Users,
	}
}

func (s *Service) RefreshHeadlines(ctx context.Context) (int, error) {
	articles, err := s.feed.TopHeadlines(ctx, refreshFetchSize)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now().UTC()
	stored := 0
	for _, a := range articles {
		if strings.TrimSpace(a.Link) == "" || strings.TrimSpace(a.Title) == "" {
			continue
		}
		raw, err := json.Marshal(a)
		if err != nil {
			continue
		}
		h := newsdomain.Headline{
			ID:        s.genID.Generate(),
			Title:     a.Title,
			Source:    a.SourceName,
			URL:       a.Link,
			ImageURL:  a.PhotoURL,
			Category:  "general",
			FetchedAt: now,
			Raw:       raw,
		}
		if ts, err := time.Parse(time.RFC3339, a.PublishedDateUTC); err == nil {
			h.PublishedAt = &ts
		}

		err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "url"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "source", "image_url", "fetched_at", "raw",
			}),
		}).Create(&h).Error
		if err != nil {
			s.log.Warn("store headline", zap.String("url", a.Link), zap.Error(err))
			continue
		}
		stored++
	}

	s.log.Info("headlines refreshed",
		zap.Int("fetched", len(articles)),
		zap.Int("stored", stored),
	)
	return stored, nil
}

func (s *Service) Headlines(ctx context.Context, category string, limit int) ([]newsdomain.Headline, error) {
	limit = clampLimit(limit)

	q := s.db.WithContext(ctx).Model(&newsdomain.Headline{})
	if category != "" && category != "all" {
		q = q.Where("category = ?", category)
	}

	var out []newsdomain.Headline
	if err := q.Order("fetched_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) HotHeadlines(ctx context.Context, limit int) ([]newsdomain.Headline, error) {
	limit = clampLimit(limit)

	var out []newsdomain.Headline
	err := s.db.WithContext(ctx).
		Where("is_hot = ?", true).
		Order("fetched_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) MarkHot(ctx context.Context, url string, hot bool) error {
	res := s.db.WithContext(ctx).
		Model(&newsdomain.Headline{}).
		Where("url = ?", url).
		Update("is_hot", hot)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return newsdomain.ErrHeadlineNotFound
	}
	return nil
}

func (s *Service) WeeklyPicks(ctx context.Context, limit int) ([]newsdomain.Headline, error) {
	limit = clampLimit(limit)
	since := s.clock.Now().UTC().Add(-weeklyPickWindow)

	var out []newsdomain.Headline
	err := s.db.WithContext(ctx).
		Where("is_hot = ? AND fetched_at >= ?", true, since).
		Order("fetched_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out, nil
	}

	// Nothing flagged this week, fall back to the freshest articles.
	err = s.db.WithContext(ctx).
		Where("fetched_at >= ?", since).
		Order("fetched_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) SaveArticle(ctx context.Context, req newsdomain.SaveArticleRequest) (*newsdomain.SavedArticle, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return nil, newsdomain.ErrEmptyArticle
	}

	saved := &newsdomain.SavedArticle{
		ID:        s.genID.Generate(),
		UserID:    req.UserID,
		URL:       url,
		Title:     strings.TrimSpace(req.Title),
		Raw:       req.Raw,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(saved).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, newsdomain.ErrArticleAlreadySaved
		}
		return nil, err
	}
	return saved, nil
}

func (s *Service) SavedArticles(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*newsdomain.SavedArticle, *pagination.PageInfo, error) {
	limit := page.PageSize
	if limit <= 0 {
		limit = savedArticlePageSize
	}
	if limit > savedArticlePageMax {
		limit = savedArticlePageMax
	}

	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)

	if page.PageToken != "" {
		after, afterID, err := decodeSavedCursor(page.PageToken)
		if err != nil {
			return nil, nil, newsdomain.ErrInvalidPageToken
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", after, after, afterID)
	}

	var rows []*newsdomain.SavedArticle
	if err := q.Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	rows, info := pagination.BuildCursorPageInfo(rows, limit, func(a *newsdomain.SavedArticle) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        a.ID.String(),
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	return rows, info, nil
}

func decodeSavedCursor(token string) (time.Time, snowflake.ID, error) {
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return time.Time{}, 0, err
	}
	after, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
	if err != nil {
		return time.Time{}, 0, err
	}
	id, err := snowflake.ParseString(cursor.ID)
	if err != nil {
		return time.Time{}, 0, err
	}
	return after, id, nil
}

func (s *Service) DeleteSavedArticle(ctx context.Context, userID snowflake.ID, id snowflake.ID) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		Delete(&newsdomain.SavedArticle{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return newsdomain.ErrSavedArticleNotFound
	}
	return nil
}

func (s *Service) ArticleInsight(ctx context.Context, userID snowflake.ID, title, description string) (*newsdomain.MarketInsight, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, newsdomain.ErrEmptyArticle
	}

	// Quota first so a denied request never reaches the model.
	if _, err := s.users.ConsumeInsightsRequest(ctx, userID); err != nil {
		return nil, err
	}

	var insight newsdomain.MarketInsight
	if err := s.model.GenerateJSON(ctx, insightPrompt(title, description), &insight); err != nil {
		return nil, err
	}

	content, err := json.Marshal(insight)
	if err != nil {
		return nil, err
	}
	row := &newsdomain.Insight{
		ID:          s.genID.Generate(),
		Topic:       title,
		Content:     content,
		GeneratedAt: s.clock.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		// The analysis was produced, losing the cache row is not fatal.
		s.log.Warn("store insight", zap.Error(err))
	}
	return &insight, nil
}

func (s *Service) Insights(ctx context.Context, limit int) ([]newsdomain.Insight, error) {
	limit = clampLimit(limit)

	var out []newsdomain.Insight
	err := s.db.WithContext(ctx).
		Order("generated_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func insightPrompt(title, description string) string {
	return fmt.Sprintf(`Analyze the stock market impact of this news article.
Title: %s
Description: %s

Respond with a JSON object with keys "summary" (one sentence),
"sentiment" (one of "bullish", "bearish", "neutral"),
"affected_stocks" (array of ticker symbols) and "rationale".`, title, description)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return defaultHeadlineLimit
	}
	return limit
}
