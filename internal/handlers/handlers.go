package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sightline-forensics/sightline/internal/auth"
	"github.com/sightline-forensics/sightline/internal/gallery"
	"github.com/sightline-forensics/sightline/internal/imaging"
	"github.com/sightline-forensics/sightline/internal/repository"
	"github.com/sightline-forensics/sightline/internal/usecase"
)

// DefaultMaxUploadSize bounds multipart uploads when no explicit limit is
// configured.
const DefaultMaxUploadSize = 10 << 20

const (
	serviceName    = "image-detection-backend"
	serviceVersion = "1.0.0"
)

// GalleryReloader swaps in a freshly-loaded reference gallery.
type GalleryReloader interface {
	Reload() (gallery.Stats, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. The banner and
// health endpoints stay open; everything else sits behind authMiddleware.
func RegisterRoutes(router *gin.Engine, uc *usecase.AnalysisUseCase, reloader GalleryReloader, authMiddleware gin.HandlerFunc, logger *zap.Logger, maxUploadSize int64) {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	logger = logger.Named("handlers")

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": serviceName,
			"version": serviceVersion,
			"endpoints": gin.H{
				"health":     "/health",
				"detect":     "/detect",
				"result":     "/result/:id",
				"duplicates": "/result/:id/duplicates",
				"metrics":    "/metrics",
				"reload":     "/gallery/reload",
			},
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName, "version": serviceVersion})
	})

	protected := router.Group("", authMiddleware)

	protected.POST("/detect", func(c *gin.Context) {
		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > maxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		if contentType := file.Header.Get("Content-Type"); contentType != "" && !strings.HasPrefix(contentType, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
			return
		}

		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		started := time.Now()
		requestID, report, err := uc.AnalyzeImage(c.Request.Context(), userID, data)
		if err != nil {
			var decodeErr *imaging.DecodeError
			if errors.As(err, &decodeErr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image"})
				return
			}
			logger.Error("analysis request failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":         requestID,
			"status":             "ok",
			"processing_time_ms": time.Since(started).Milliseconds(),
			"image":              report.Image,
			"tampering":          report.Tampering,
			"faces":              report.Faces,
		})
	})

	protected.GET("/result/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		log, err := uc.GetResult(c.Request.Context(), userID, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrAuditDisabled) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result lookup requires a database"})
				return
			}
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}

		c.JSON(http.StatusOK, analysisLogResponse(log))
	})

	protected.GET("/result/:id/duplicates", func(c *gin.Context) {
		requestID := c.Param("id")
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		report, err := uc.GetDuplicateReport(c.Request.Context(), userID, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrAuditDisabled) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "duplicate lookup requires a database"})
				return
			}
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}

		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, duplicate := range report.Duplicates {
			duplicates = append(duplicates, analysisLogResponse(duplicate))
		}
		c.JSON(http.StatusOK, gin.H{
			"request":    analysisLogResponse(report.Request),
			"duplicates": duplicates,
		})
	})

	protected.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			if errors.Is(err, repository.ErrAuditDisabled) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics require a database"})
				return
			}
			logger.Error("metrics aggregation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	protected.POST("/gallery/reload", func(c *gin.Context) {
		stats, err := reloader.Reload()
		if err != nil {
			logger.Error("gallery reload failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "gallery reload failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "gallery": stats})
	})
}

func analysisLogResponse(log *repository.AnalysisLog) gin.H {
	return gin.H{
		"request_id":     log.RequestID,
		"user_id":        log.UserID,
		"classification": log.Classification,
		"confidence":     log.Confidence,
		"fused_score":    log.FusedScore,
		"faces_detected": log.FacesDetected,
		"faces_matched":  log.FacesMatched,
		"sha1_hash":      log.SHA1Hash,
		"latency_ms":     log.LatencyMS,
		"details":        log.Details,
		"created_at":     log.CreatedAt,
	}
}
