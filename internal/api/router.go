package api

import (
	"net/http"

	"whatsapp-platform/internal/webhook"
	"whatsapp-platform/internal/ws"

	"github.com/gin-gonic/gin"
)

// Router bundles every HTTP surface of the platform.
type Router struct {
	Webhook   *webhook.Handler
	Broadcast *BroadcastHandler
	Chat      *ChatHandler
	Wallet    *WalletHandler
	Stats     *StatsHandler
	Hub       *ws.Hub
}

// Setup registers all routes on a fresh gin engine.
func (r *Router) Setup() *gin.Engine {
	router := gin.Default()
	router.Use(corsMiddleware())

	router.GET("/webhook", r.Webhook.VerifyWebhook)
	router.POST("/webhook", r.Webhook.HandleEvent)

	router.GET("/ws/:tenantId", r.Hub.ServeWs)

	api := router.Group("/api/:tenantId")
	{
		api.GET("/chats", r.Chat.Chats)
		api.GET("/chats/:chatId/messages", r.Chat.Messages)
		api.POST("/chat/send", r.Chat.Send)

		api.POST("/broadcasts", r.Broadcast.Create)
		api.POST("/broadcasts/:broadcastId/start", r.Broadcast.Start)
		api.GET("/broadcasts", r.Broadcast.List)
		api.GET("/broadcasts/:broadcastId", r.Broadcast.Detail)

		api.GET("/wallet", r.Wallet.Balance)
		api.GET("/wallet/entries", r.Wallet.Entries)

		api.GET("/stats/daily", r.Stats.Daily)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
