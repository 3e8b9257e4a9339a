package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/catalogsync/internal/api/handler"
	"github.com/timmy/catalogsync/internal/api/middleware"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/metrics"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	admin *handler.AdminHandler,
	quotes *handler.PricingHandler,
	health *handler.HealthHandler,
	m *metrics.Metrics,
	log *logger.Logger,
	mode string,
) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.Metrics(m))

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	v1 := r.Group("/api/v1")
	{
		// Collection
		v1.POST("/collect", admin.TriggerCollect)
		v1.GET("/batches", admin.ListBatches)
		v1.GET("/batches/:id", admin.GetBatch)

		// Normalization
		v1.POST("/normalize", admin.TriggerNormalize)

		// Pricing
		v1.POST("/pricing/quote", quotes.Quote)
		v1.POST("/pricing/reprice", admin.TriggerReprice)
	}

	return r
}
