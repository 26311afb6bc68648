package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"therapy-guardrails/internal/escalation"
	"therapy-guardrails/internal/pipeline"
)

// PriorityRequest is the body of PUT /v1/escalation/channels/:name/priority
type PriorityRequest struct {
	Priority *int `json:"priority" binding:"required"`
}

// EscalationHandler exposes escalation channel circuit breakers
type EscalationHandler struct {
	pipeline *pipeline.Pipeline
	logger   *logrus.Logger
}

// NewEscalationHandler creates a new escalation handler
func NewEscalationHandler(p *pipeline.Pipeline, logger *logrus.Logger) *EscalationHandler {
	return &EscalationHandler{
		pipeline: p,
		logger:   logger,
	}
}

// GetChannels handles GET /v1/escalation/channels requests
func (h *EscalationHandler) GetChannels(c *gin.Context) {
	stats, err := h.pipeline.GetCircuitBreakerStats()
	if errors.Is(err, pipeline.ErrNoDispatcher) {
		c.JSON(http.StatusOK, gin.H{
			"circuit_breakers": gin.H{},
			"total_channels":   0,
			"timestamp":        time.Now().Unix(),
		})
		return
	}

	openCount := 0
	closedCount := 0
	halfOpenCount := 0

	for _, stat := range stats {
		switch stat.State {
		case "OPEN":
			openCount++
		case "CLOSED":
			closedCount++
		case "HALF_OPEN":
			halfOpenCount++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"circuit_breakers": stats,
		"total_channels":   len(stats),
		"timestamp":        time.Now().Unix(),
		"summary": gin.H{
			"open":      openCount,
			"closed":    closedCount,
			"half_open": halfOpenCount,
			"healthy":   closedCount + halfOpenCount,
		},
	})
}

// ResetChannel handles POST /v1/escalation/channels/:name/reset requests
func (h *EscalationHandler) ResetChannel(c *gin.Context) {
	name := c.Param("name")

	if err := h.pipeline.ResetCircuitBreaker(name); err != nil {
		h.logger.WithFields(logrus.Fields{
			"channel": name,
			"error":   err.Error(),
		}).Warn("Failed to reset circuit breaker")

		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Circuit breaker not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"channel": name,
	})
}

// EnableChannel handles POST /v1/escalation/channels/:name/enable requests
func (h *EscalationHandler) EnableChannel(c *gin.Context) {
	h.setEnabled(c, true)
}

// DisableChannel handles POST /v1/escalation/channels/:name/disable requests
func (h *EscalationHandler) DisableChannel(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *EscalationHandler) setEnabled(c *gin.Context, enabled bool) {
	name := c.Param("name")

	channel, err := h.pipeline.SetChannelEnabled(name, enabled)
	if err != nil {
		h.respondChannelError(c, name, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"channel": channel,
	})
}

// UpdatePriority handles PUT /v1/escalation/channels/:name/priority requests
func (h *EscalationHandler) UpdatePriority(c *gin.Context) {
	name := c.Param("name")

	var req PriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return
	}

	channel, err := h.pipeline.UpdateChannelPriority(name, *req.Priority)
	if err != nil {
		h.respondChannelError(c, name, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"channel": channel,
	})
}

func (h *EscalationHandler) respondChannelError(c *gin.Context, name string, err error) {
	h.logger.WithFields(logrus.Fields{
		"channel": name,
		"error":   err.Error(),
	}).Warn("Escalation channel update failed")

	switch {
	case errors.Is(err, escalation.ErrChannelNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Channel not found",
			"details": err.Error(),
		})
	case errors.Is(err, pipeline.ErrNoDispatcher):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Escalation not configured",
			"details": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Channel update failed",
			"details": err.Error(),
		})
	}
}
