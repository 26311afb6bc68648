package handler

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"therapy-guardrails/internal/guardrail"
	"therapy-guardrails/internal/pipeline"
)

// GuardrailHandler handles HTTP requests for guardrail analysis
type GuardrailHandler struct {
	pipeline       *pipeline.Pipeline
	logger         *logrus.Logger
	requestTimeout time.Duration
}

// NewGuardrailHandler creates a new guardrail handler
func NewGuardrailHandler(p *pipeline.Pipeline, logger *logrus.Logger, requestTimeout time.Duration) *GuardrailHandler {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &GuardrailHandler{
		pipeline:       p,
		logger:         logger,
		requestTimeout: requestTimeout,
	}
}

// AnalyzeInput handles POST /v1/analyze/input requests
func (h *GuardrailHandler) AnalyzeInput(c *gin.Context) {
	h.analyze(c, pipeline.DirectionUserInput, h.pipeline.AnalyzeInput)
}

// AnalyzeResponse handles POST /v1/analyze/response requests
func (h *GuardrailHandler) AnalyzeResponse(c *gin.Context) {
	h.analyze(c, pipeline.DirectionAIResponse, h.pipeline.AnalyzeResponse)
}

type analyzeFunc func(context.Context, *pipeline.AnalyzeRequest) (*pipeline.AnalysisResponse, error)

func (h *GuardrailHandler) analyze(c *gin.Context, direction pipeline.Direction, fn analyzeFunc) {
	var req pipeline.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()

	// never log the text itself
	h.logger.WithFields(logrus.Fields{
		"direction":   direction,
		"text_length": utf8.RuneCountInString(req.Text),
		"session_id":  req.SessionID,
		"client_ip":   c.ClientIP(),
	}).Debug("Processing guardrail request")

	response, err := fn(ctx, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// AnalyzeTurn handles POST /v1/analyze/turn requests
func (h *GuardrailHandler) AnalyzeTurn(c *gin.Context) {
	var req pipeline.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()

	response, err := h.pipeline.AnalyzeTurn(ctx, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (h *GuardrailHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipeline.ErrTextTooLong):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "Text too long",
			"details": err.Error(),
		})
	case errors.Is(err, guardrail.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid input",
			"details": err.Error(),
		})
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.WithError(err).Error("Guardrail analysis timed out")
		c.JSON(http.StatusRequestTimeout, gin.H{
			"error":   "Guardrail analysis timed out",
			"details": err.Error(),
		})
	default:
		h.logger.WithError(err).Error("Guardrail analysis failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Guardrail analysis failed",
			"details": err.Error(),
		})
	}
}

// GetResources handles GET /v1/resources/:region requests
func (h *GuardrailHandler) GetResources(c *gin.Context) {
	region := c.Param("region")

	resources, err := h.pipeline.Resources(region)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Region not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resources)
}

// HealthCheck handles GET /health requests
func (h *GuardrailHandler) HealthCheck(c *gin.Context) {
	health := h.pipeline.GetHealth()

	statusCode := http.StatusOK
	if health.IsCritical() {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// GetMetrics handles GET /v1/metrics requests
func (h *GuardrailHandler) GetMetrics(c *gin.Context) {
	metrics := h.pipeline.GetMetrics()

	successRate := float64(0)
	if metrics.RequestsTotal > 0 {
		successRate = float64(metrics.RequestsSuccessful) / float64(metrics.RequestsTotal)
	}

	c.JSON(http.StatusOK, gin.H{
		"requests_total":      metrics.RequestsTotal,
		"requests_successful": metrics.RequestsSuccessful,
		"requests_failed":     metrics.RequestsFailed,
		"success_rate":        successRate,
		"average_latency_ms":  metrics.AverageLatency.Milliseconds(),
		"by_risk_level":       metrics.ByRiskLevel,
		"by_intervention":     metrics.ByIntervention,
		"escalations_total":   metrics.EscalationsTotal,
		"dispatch_failures":   metrics.DispatchFailures,
	})
}
