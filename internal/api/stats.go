package api

import (
	"net/http"

	"whatsapp-platform/internal/stats"

	"github.com/gin-gonic/gin"
)

// StatsHandler exposes the per-day delivery counters.
type StatsHandler struct {
	svc *stats.Service
}

func NewStatsHandler(svc *stats.Service) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// Daily returns one day's counters, defaulting to today.
func (h *StatsHandler) Daily(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = h.svc.Today()
	}

	row, err := h.svc.Get(c.Request.Context(), c.Param("tenantId"), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, row)
}
