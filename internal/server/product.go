package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerCatalogRoutes() {
	s.engine.GET("/products/by_category", s.ProductsByCategory)

	api := s.engine.Group("/api")
	api.GET("/stocks", s.ListStocks)
	api.GET("/stocks/:symbol", s.StockQuote)
}

func (s *Server) ProductsByCategory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	products, err := s.productSvc.ByCategory(
		c.Request.Context(),
		c.Query("categoryId"),
		c.Query("currency"),
		c.Query("country"),
		limit,
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (s *Server) ListStocks(c *gin.Context) {
	quotes, err := s.stocksSvc.Quotes(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stocks": quotes})
}

func (s *Server) StockQuote(c *gin.Context) {
	quote, err := s.stocksSvc.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}
