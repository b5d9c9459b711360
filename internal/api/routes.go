package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"bytovka/internal/metrics"
)

// metricsMiddleware records request counts and latency per route template
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// NewRouter builds the gin engine with CORS and all routes
func NewRouter(handler *Handler, corsOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), metricsMiddleware())

	corsConfig := cors.DefaultConfig()
	if len(corsOrigins) == 0 || (len(corsOrigins) == 1 && corsOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = corsOrigins
	}
	router.Use(cors.New(corsConfig))

	SetupRoutes(router, handler)
	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api")
	{
		api.GET("/offers", handler.GetOffers)
		api.GET("/offers-map", handler.GetOffersMap)
		api.GET("/districts", handler.GetDistricts)
		api.GET("/status", handler.GetStatus)
		api.GET("/settings", handler.GetSettings)
		api.GET("/stream", handler.Stream)
	}

	router.GET("/healthz", handler.Healthz)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}
