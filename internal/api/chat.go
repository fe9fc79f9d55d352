package api

import (
	"net/http"

	"whatsapp-platform/internal/chat"

	"github.com/gin-gonic/gin"
)

// ChatHandler exposes conversations and operator sends.
type ChatHandler struct {
	svc *chat.Service
}

func NewChatHandler(svc *chat.Service) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// Send dispatches an operator message to a contact.
func (h *ChatHandler) Send(c *gin.Context) {
	var req chat.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.svc.SendOperatorMessage(c.Request.Context(), c.Param("tenantId"), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Chats lists the tenant's conversations.
func (h *ChatHandler) Chats(c *gin.Context) {
	chats, err := h.svc.Chats(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, chats)
}

// Messages lists one chat's log.
func (h *ChatHandler) Messages(c *gin.Context) {
	messages, err := h.svc.Messages(c.Request.Context(), c.Param("tenantId"), c.Param("chatId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, messages)
}
