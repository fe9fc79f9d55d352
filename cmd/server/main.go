package main

import (
	"whatsapp-platform/internal/api"
	"whatsapp-platform/internal/broadcast"
	"whatsapp-platform/internal/chat"
	"whatsapp-platform/internal/config"
	"whatsapp-platform/internal/database"
	"whatsapp-platform/internal/logging"
	"whatsapp-platform/internal/media"
	"whatsapp-platform/internal/stats"
	"whatsapp-platform/internal/status"
	"whatsapp-platform/internal/tenants"
	"whatsapp-platform/internal/wallet"
	"whatsapp-platform/internal/webhook"
	"whatsapp-platform/internal/whatsapp"
	"whatsapp-platform/internal/ws"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	logger := logging.NewLogger()
	defer logger.Sync()

	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatal("Database connection failed", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	hub := ws.NewHub(logger)

	tenantSvc := tenants.NewService(db, rdb, cfg.TenantCacheTTL, logger)
	walletSvc := wallet.NewService(db, logger)
	statsSvc := stats.NewService(db, cfg.Location)

	graph := whatsapp.NewClient(cfg, logger)
	downloader := media.NewDownloader(graph, cfg.MediaDir, cfg.ServerURL, cfg.Location, logger)

	broadcastSvc := broadcast.NewService(db, walletSvc, statsSvc, tenantSvc, graph,
		cfg.BroadcastPace, cfg.Location, cfg.ServerURL, logger)
	chatSvc := chat.NewService(db, tenantSvc, downloader, broadcastSvc, graph,
		statsSvc, hub, cfg.Location, logger)
	reconciler := status.NewReconciler(db, walletSvc, statsSvc, hub, cfg.Location, logger)

	webhookHandler := webhook.NewHandler(db, tenantSvc, chatSvc, reconciler, cfg.VerifyToken, logger)

	router := api.Router{
		Webhook:   webhookHandler,
		Broadcast: api.NewBroadcastHandler(broadcastSvc),
		Chat:      api.NewChatHandler(chatSvc),
		Wallet:    api.NewWalletHandler(walletSvc),
		Stats:     api.NewStatsHandler(statsSvc),
		Hub:       hub,
	}
	engine := router.Setup()

	logger.Info("Server starting", zap.String("port", cfg.Port))
	if err := engine.Run(":" + cfg.Port); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
