// Package api exposes the variant pipeline over HTTP.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mahirjain10/image-variants/config"
	"github.com/mahirjain10/image-variants/internal/types"
)

type Processor interface {
	Run(ctx context.Context, source string, variants map[string]types.VariantConfig, tags map[string]string) (map[string]*types.VariantResult, error)
}

type Handler struct {
	processor Processor
	catalog   config.Variants
	config    *config.Config
	log       *zap.Logger
}

func NewHandler(processor Processor, catalog config.Variants, cfg *config.Config, log *zap.Logger) *Handler {
	return &Handler{processor: processor, catalog: catalog, config: cfg, log: log.Named("api")}
}

// NewRouter builds the gin engine with recovery and request logging.
func NewRouter(h *Handler) *gin.Engine {
	if h.config.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(h.log))
	// multipart parts beyond this spill to disk
	engine.MaxMultipartMemory = h.config.MaxUploadBytes

	engine.GET("/healthz", h.Health)
	api := engine.Group("/api")
	api.POST("/optimize", h.Optimize)
	api.POST("/variants", h.Variants)
	return engine
}

func loggingMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", c.ClientIP()))
	}
}
