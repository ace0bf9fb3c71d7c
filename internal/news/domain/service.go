package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/velra-app/velra/pkg/db/pagination"
)

// SaveArticleRequest bookmarks one article for a user.
type SaveArticleRequest struct {
	UserID snowflake.ID
	URL    string
	Title  string
	Raw    []byte
}

// Service manages the headline cache, per-user saved articles, and
// generated market insights.
type Service interface {
	// RefreshHeadlines pulls the latest feed and upserts it into the
	// store by article URL. Returns how many articles were stored.
	RefreshHeadlines(ctx context.Context) (int, error)

	// Headlines lists cached headlines, newest first.
	Headlines(ctx context.Context, category string, limit int) ([]Headline, error)

	// HotHeadlines lists headlines flagged as hot.
	HotHeadlines(ctx context.Context, limit int) ([]Headline, error)

	// MarkHot flags or unflags a headline by URL.
	MarkHot(ctx context.Context, url string, hot bool) error

	// WeeklyPicks returns the most recent hot headlines of the past
	// seven days, falling back to the newest articles when none are
	// flagged.
	WeeklyPicks(ctx context.Context, limit int) ([]Headline, error)

	SaveArticle(ctx context.Context, req SaveArticleRequest) (*SavedArticle, error)

	// SavedArticles pages through a user's bookmarks, newest first,
	// using an opaque cursor token.
	SavedArticles(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*SavedArticle, *pagination.PageInfo, error)
	DeleteSavedArticle(ctx context.Context, userID snowflake.ID, id snowflake.ID) error

	// ArticleInsight generates a market analysis for one article,
	// spending one insights request for free users.
	ArticleInsight(ctx context.Context, userID snowflake.ID, title, description string) (*MarketInsight, error)

	// Insights lists recently generated analyses.
	Insights(ctx context.Context, limit int) ([]Insight, error)
}

var (
	ErrHeadlineNotFound     = errors.New("headline_not_found")
	ErrSavedArticleNotFound = errors.New("saved_article_not_found")
	ErrArticleAlreadySaved  = errors.New("article_already_saved")
	ErrEmptyArticle         = errors.New("article_empty")
	ErrInvalidPageToken     = errors.New("invalid_page_token")
)
