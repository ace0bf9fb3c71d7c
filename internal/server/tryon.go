package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	tryondomain "github.com/velra-app/velra/internal/tryon/domain"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
)

const maxImageBytes = 10 << 20

func (s *Server) registerTryonRoutes() {
	vt := s.engine.Group("/virtual-tryon", s.OptionalAuth())
	vt.POST("/try-async", s.TryAsync)
	vt.GET("/status/:id", s.TryonStatus)
	vt.GET("/usage", s.TryonUsage)

	// Metering endpoints used by older clients. All of them resolve to
	// the same usage service.
	usage := s.engine.Group("/tryon", s.OptionalAuth())
	usage.POST("/device-usage", s.ConsumeUsage)
	usage.POST("/usage-check", s.CheckUsage)
	usage.POST("/check-only", s.CheckUsage)
	usage.POST("/sync-stats", s.SyncStats)
}

func (s *Server) TryAsync(c *gin.Context) {
	modelImage, err := formImage(c, "model_image")
	if err != nil {
		AbortWithError(c, tryondomain.ErrMissingImages)
		return
	}
	garmentImage, err := formImage(c, "garment_image")
	if err != nil {
		AbortWithError(c, tryondomain.ErrMissingImages)
		return
	}

	subject, tier, err := s.resolveSubject(c, c.PostForm("device_id"), c.PostForm("is_premium") == "true")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.tryonSvc.Start(c.Request.Context(), tryondomain.StartRequest{
		Subject:        subject,
		Tier:           tier,
		ModelImage:     modelImage,
		GarmentImage:   garmentImage,
		Category:       c.PostForm("category"),
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		var denied *tryondomain.DeniedError
		if errors.As(err, &denied) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":  gin.H{"type": "limit_reached", "message": string(denied.Reason)},
				"reason": denied.Reason,
				"usage":  denied.Stats,
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordTryonStarted(c.Request.Context(), string(subject.Kind))
	}
	c.JSON(http.StatusAccepted, res)
}

func (s *Server) TryonStatus(c *gin.Context) {
	pred, err := s.tryonSvc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pred)
}

func (s *Server) TryonUsage(c *gin.Context) {
	subject, tier, err := s.resolveSubject(c, c.Query("device_id"), c.Query("is_premium") == "true")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.tryonSvc.Usage(c.Request.Context(), subject, tier)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type meterRequest struct {
	DeviceID  string `json:"device_id"`
	IsPremium bool   `json:"is_premium"`
}

func (s *Server) ConsumeUsage(c *gin.Context) {
	var req meterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	subject, tier, err := s.resolveSubject(c, req.DeviceID, req.IsPremium)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.usageSvc.Consume(c.Request.Context(), usagedomain.ConsumeRequest{
		Subject:        subject,
		Tier:           tier,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	// Denials are a 200 here, the body carries allowed=false.
	c.JSON(http.StatusOK, res)
}

func (s *Server) CheckUsage(c *gin.Context) {
	var req meterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	subject, tier, err := s.resolveSubject(c, req.DeviceID, req.IsPremium)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.usageSvc.Check(c.Request.Context(), subject, tier)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) SyncStats(c *gin.Context) {
	var req struct {
		meterRequest
		DailyCount   int   `json:"daily_count"`
		MonthlyCount int   `json:"monthly_count"`
		TotalCount   int64 `json:"total_count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	subject, tier, err := s.resolveSubject(c, req.DeviceID, req.IsPremium)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.usageSvc.Reconcile(c.Request.Context(), usagedomain.ReconcileRequest{
		Subject:      subject,
		Tier:         tier,
		DailyCount:   req.DailyCount,
		MonthlyCount: req.MonthlyCount,
		TotalCount:   req.TotalCount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func formImage(c *gin.Context, field string) ([]byte, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		return nil, err
	}
	if fileHeader.Size > maxImageBytes {
		return nil, ErrInvalidRequest
	}
	return readAll(fileHeader)
}

func readAll(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
