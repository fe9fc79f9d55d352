package api

import (
	"net/http"

	"whatsapp-platform/internal/broadcast"

	"github.com/gin-gonic/gin"
)

// BroadcastHandler exposes the campaign lifecycle over HTTP.
type BroadcastHandler struct {
	svc *broadcast.Service
}

func NewBroadcastHandler(svc *broadcast.Service) *BroadcastHandler {
	return &BroadcastHandler{svc: svc}
}

// Create prepares a Draft broadcast and debits the wallet.
func (h *BroadcastHandler) Create(c *gin.Context) {
	var req broadcast.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	broadcastID, err := h.svc.Create(c.Request.Context(), c.Param("tenantId"), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"broadcastId": broadcastID, "status": "Draft"})
}

// Start launches the dispatch worker for a prepared broadcast.
func (h *BroadcastHandler) Start(c *gin.Context) {
	err := h.svc.Start(c.Request.Context(), c.Param("tenantId"), c.Param("broadcastId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Sending"})
}

// List returns the tenant's broadcasts with their aggregate counters.
func (h *BroadcastHandler) List(c *gin.Context) {
	broadcasts, err := h.svc.List(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, broadcasts)
}

// Detail returns one broadcast with its per-recipient rows.
func (h *BroadcastHandler) Detail(c *gin.Context) {
	b, messages, err := h.svc.Detail(c.Request.Context(), c.Param("tenantId"), c.Param("broadcastId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcast": b, "messages": messages})
}
