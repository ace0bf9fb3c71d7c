package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	newsdomain "github.com/velra-app/velra/internal/news/domain"
	"github.com/velra-app/velra/pkg/db/pagination"
)

func (s *Server) registerNewsRoutes() {
	api := s.engine.Group("/api")

	api.GET("/news", s.ListHeadlines)
	api.GET("/rapidapi-headlines", s.ListHeadlines)
	api.POST("/rapidapi-headlines/fetch", s.FetchHeadlines)
	api.GET("/headlines/hot", s.HotHeadlines)
	api.POST("/headlines/mark-hot", s.MarkHeadlineHot)
	api.GET("/weekly-picks", s.WeeklyPicks)
	api.GET("/insights", s.ListInsights)

	authed := api.Group("", s.AuthRequired())
	authed.POST("/market-insights/article", s.ArticleInsight)
	authed.GET("/saved-articles", s.ListSavedArticles)
	authed.POST("/saved-articles", s.SaveArticle)
	authed.DELETE("/saved-articles/:id", s.DeleteSavedArticle)
}

func (s *Server) ListHeadlines(c *gin.Context) {
	heads, err := s.newsSvc.Headlines(c.Request.Context(), c.Query("category"), queryLimit(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"headlines": heads})
}

func (s *Server) FetchHeadlines(c *gin.Context) {
	stored, err := s.newsSvc.RefreshHeadlines(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stored": stored})
}

func (s *Server) HotHeadlines(c *gin.Context) {
	heads, err := s.newsSvc.HotHeadlines(c.Request.Context(), queryLimit(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"headlines": heads})
}

func (s *Server) MarkHeadlineHot(c *gin.Context) {
	var req struct {
		URL string `json:"url"`
		Hot *bool  `json:"hot"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	hot := true
	if req.Hot != nil {
		hot = *req.Hot
	}

	if err := s.newsSvc.MarkHot(c.Request.Context(), req.URL, hot); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) WeeklyPicks(c *gin.Context) {
	heads, err := s.newsSvc.WeeklyPicks(c.Request.Context(), queryLimit(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"headlines": heads})
}

func (s *Server) ListInsights(c *gin.Context) {
	insights, err := s.newsSvc.Insights(c.Request.Context(), queryLimit(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": insights})
}

func (s *Server) ArticleInsight(c *gin.Context) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	insight, err := s.newsSvc.ArticleInsight(c.Request.Context(), id, req.Title, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, insight)
}

func (s *Server) ListSavedArticles(c *gin.Context) {
	id, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	articles, info, err := s.newsSvc.SavedArticles(c.Request.Context(), id, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"articles": articles, "page_info": info})
}

func (s *Server) SaveArticle(c *gin.Context) {
	var req struct {
		URL   string          `json:"url"`
		Title string          `json:"title"`
		Raw   json.RawMessage `json:"raw"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	saved, err := s.newsSvc.SaveArticle(c.Request.Context(), newsdomain.SaveArticleRequest{
		UserID: id,
		URL:    req.URL,
		Title:  req.Title,
		Raw:    req.Raw,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) DeleteSavedArticle(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	articleID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.newsSvc.DeleteSavedArticle(c.Request.Context(), userID, articleID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		return 0
	}
	return limit
}
