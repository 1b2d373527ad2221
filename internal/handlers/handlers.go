package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/skinsight/internal/acquisition"
	"github.com/example/skinsight/internal/session"
	"github.com/example/skinsight/internal/usecase"
)

// MaxUploadSize caps request bodies to protect the server. It is a transport
// limit, looser than the size guideline shown to users.
const MaxUploadSize = 32 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.AnalysisUseCase, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("handlers")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/", session.Middleware())

	api.GET("/ping", func(c *gin.Context) {
		status, err := uc.Ping(c.Request.Context())
		if err != nil {
			logger.Warn("classifier ping failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":        status.Status,
			"filter_loaded": status.FilterLoaded,
			"fusion_loaded": status.FusionLoaded,
			"device":        status.Device,
			"ready":         status.Ready(),
		})
	})

	api.POST("/analyze", func(c *gin.Context) {
		sessionID, _ := session.GetSessionID(c.Request.Context())

		if c.Request.ContentLength > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image is too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

		file, err := formImage(c)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image is too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
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

		img, err := acquisition.FromUpload(file.Filename, declaredType(file, data), data)
		if err != nil {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image files are supported"})
			return
		}

		result, err := uc.Analyze(c.Request.Context(), sessionID, img)
		if err != nil {
			logger.Error("analysis failed", zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": usecase.FailureMessage})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":  result.RequestID,
			"session_id":  sessionID,
			"predictions": result.Predictions,
			"superseded":  result.Superseded,
		})
	})

	api.GET("/result", func(c *gin.Context) {
		sessionID, _ := session.GetSessionID(c.Request.Context())

		slot, err := uc.GetResult(c.Request.Context(), sessionID)
		if errors.Is(err, usecase.ErrNoResult) {
			c.JSON(http.StatusNotFound, gin.H{"session_id": sessionID, "status": usecase.StatusIdle})
			return
		}
		if err != nil {
			logger.Error("failed to load result", zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
			return
		}
		c.JSON(http.StatusOK, slot)
	})

	api.DELETE("/result", func(c *gin.Context) {
		sessionID, _ := session.GetSessionID(c.Request.Context())
		if err := uc.Reset(c.Request.Context(), sessionID); err != nil {
			logger.Error("failed to reset result", zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset result"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, uc.GetMetricsSummary())
	})

	api.GET("/camera", newCameraHandler(uc, logger).serve)
}

// formImage accepts the part under "image", or "file" as the classifier names it.
func formImage(c *gin.Context) (*multipart.FileHeader, error) {
	file, err := c.FormFile("image")
	if err == nil {
		return file, nil
	}
	if errors.Is(err, http.ErrMissingFile) {
		return c.FormFile("file")
	}
	return nil, err
}

// declaredType trusts the part's Content-Type unless the client left it
// generic, in which case the payload is sniffed.
func declaredType(file *multipart.FileHeader, data []byte) string {
	declared := file.Header.Get("Content-Type")
	if declared == "" || declared == "application/octet-stream" {
		return mimetype.Detect(data).String()
	}
	return declared
}
