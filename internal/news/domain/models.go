// Package domain holds the news headline store models and the service
// boundary for headlines, saved articles, and market insights.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Headline is one cached article from the upstream news feed.
type Headline struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"-"`
	Title       string         `gorm:"type:text;not null" json:"title"`
	Source      string         `gorm:"type:text;not null;default:''" json:"source"`
	URL         string         `gorm:"type:text;not null;uniqueIndex" json:"url"`
	ImageURL    string         `gorm:"type:text;not null;default:''" json:"image_url,omitempty"`
	Category    string         `gorm:"type:text;not null;default:general;index:idx_news_headlines_category_fetched" json:"category"`
	IsHot       bool           `gorm:"not null;default:false" json:"is_hot"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	FetchedAt   time.Time      `gorm:"not null;index:idx_news_headlines_category_fetched" json:"fetched_at"`
	Raw         datatypes.JSON `gorm:"type:jsonb" json:"-"`
}

func (Headline) TableName() string { return "news_headlines" }

// SavedArticle is an article a user bookmarked. The raw payload is
// kept so the client can render it without refetching.
type SavedArticle struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID   `gorm:"not null;uniqueIndex:uq_saved_articles_user_url" json:"-"`
	URL       string         `gorm:"type:text;not null;uniqueIndex:uq_saved_articles_user_url" json:"url"`
	Title     string         `gorm:"type:text;not null;default:''" json:"title"`
	Raw       datatypes.JSON `gorm:"type:jsonb" json:"raw,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (SavedArticle) TableName() string { return "saved_articles" }

// Insight is a generated market analysis stored for reuse.
type Insight struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"-"`
	Topic       string         `gorm:"type:text;not null" json:"topic"`
	Content     datatypes.JSON `gorm:"type:jsonb;not null" json:"content"`
	GeneratedAt time.Time      `gorm:"not null" json:"generated_at"`
}

func (Insight) TableName() string { return "news_insights" }

// MarketInsight is the structured analysis the model returns for one
// article.
type MarketInsight struct {
	Summary        string   `json:"summary"`
	Sentiment      string   `json:"sentiment"`
	AffectedStocks []string `json:"affected_stocks,omitempty"`
	Rationale      string   `json:"rationale,omitempty"`
}
