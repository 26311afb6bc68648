// Package handler exposes the guardrail pipeline over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"therapy-guardrails/internal/metrics"
	"therapy-guardrails/internal/pipeline"
)

// RouterConfig controls optional routes and timeouts
type RouterConfig struct {
	RequestTimeout time.Duration
	MetricsEnabled bool
	MetricsPath    string
}

// NewRouter builds the gin engine with every guardrail route registered
func NewRouter(p *pipeline.Pipeline, collector *metrics.MetricsCollector, logger *logrus.Logger, cfg RouterConfig) *gin.Engine {
	guardrails := NewGuardrailHandler(p, logger, cfg.RequestTimeout)
	escalations := NewEscalationHandler(p, logger)

	router := gin.New()
	router.Use(requestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", guardrails.HealthCheck)

	v1 := router.Group("/v1")
	{
		v1.POST("/analyze/input", guardrails.AnalyzeInput)
		v1.POST("/analyze/response", guardrails.AnalyzeResponse)
		v1.POST("/analyze/turn", guardrails.AnalyzeTurn)
		v1.GET("/resources/:region", guardrails.GetResources)
		v1.GET("/metrics", guardrails.GetMetrics)
		v1.GET("/escalation/channels", escalations.GetChannels)
		v1.POST("/escalation/channels/:name/reset", escalations.ResetChannel)
		v1.POST("/escalation/channels/:name/enable", escalations.EnableChannel)
		v1.POST("/escalation/channels/:name/disable", escalations.DisableChannel)
		v1.PUT("/escalation/channels/:name/priority", escalations.UpdatePriority)
	}

	if cfg.MetricsEnabled && collector != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(collector.Handler()))
	}

	return router
}

// requestLogger tags each request with an ID and logs method, path, status and latency
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		c.Next()

		logger.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}).Info("Request handled")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
