package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const statusOK = "ok"

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Event stream stats
// @Description  Open subscriptions and lifetime published/dropped counters of the log event stream.
// @Tags         events
// @Produce      json
// @Success      200  {object}  service.BroadcastStats
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/stats [get]
// @Security     BearerAuth
func (h *Handler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Stats())
}
