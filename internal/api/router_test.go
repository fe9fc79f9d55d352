package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whatsapp-platform/internal/database"
	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/stats"
	"whatsapp-platform/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestRouter(t *testing.T, db *gorm.DB) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	walletSvc := wallet.NewService(db, zap.NewNop())
	statsSvc := stats.NewService(db, time.UTC)

	router := gin.New()
	w := NewWalletHandler(walletSvc)
	s := NewStatsHandler(statsSvc)

	api := router.Group("/api/:tenantId")
	api.GET("/wallet", w.Balance)
	api.GET("/wallet/entries", w.Entries)
	api.GET("/stats/daily", s.Daily)
	return router
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWalletBalanceEndpoint(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Wallet{TenantID: "t1", Balance: 42.5}).Error)
	router := newTestRouter(t, db)

	rec := get(t, router, "/api/t1/wallet")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 42.5, body["balance"])
}

func TestWalletBalanceDefaultsToZero(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db)

	rec := get(t, router, "/api/ghost/wallet")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body["balance"])
}

func TestWalletEntriesEndpoint(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.WalletEntry{
		ID: "e1", TenantID: "t1", BroadcastID: "b1",
		Kind: models.EntryDebit, Amount: 1.5, MessageCount: 3,
	}).Error)
	router := newTestRouter(t, db)

	rec := get(t, router, "/api/t1/wallet/entries")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []models.WalletEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntryDebit, entries[0].Kind)
}

func TestDailyStatsEndpoint(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.DailyStat{
		TenantID: "t1", Date: "2026-08-30", TotalSent: 7, TotalDelivered: 5,
	}).Error)
	router := newTestRouter(t, db)

	rec := get(t, router, "/api/t1/stats/daily?date=2026-08-30")
	require.Equal(t, http.StatusOK, rec.Code)

	var row models.DailyStat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &row))
	assert.Equal(t, 7, row.TotalSent)
	assert.Equal(t, 5, row.TotalDelivered)
}
