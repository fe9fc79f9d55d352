package wallet

import (
	"context"
	"testing"

	"whatsapp-platform/internal/database"
	"whatsapp-platform/internal/models"

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

func TestDebitCreatesWalletAndEntry(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, zap.NewNop())

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Debit(tx, "t1", 5.0, "b1", 10)
	})
	require.NoError(t, err)

	balance, err := svc.Balance(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, -5.0, balance)

	var entries []models.WalletEntry
	require.NoError(t, db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntryDebit, entries[0].Kind)
	assert.Equal(t, 5.0, entries[0].Amount)
	assert.Equal(t, 10, entries[0].MessageCount)
	assert.Equal(t, "b1", entries[0].BroadcastID)
}

func TestDebitExistingWallet(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, zap.NewNop())
	require.NoError(t, db.Create(&models.Wallet{TenantID: "t1", Balance: 100}).Error)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Debit(tx, "t1", 30, "b1", 60)
	})
	require.NoError(t, err)

	balance, err := svc.Balance(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 70.0, balance)
}

func TestCreditRestoresBalance(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, zap.NewNop())
	require.NoError(t, db.Create(&models.Wallet{TenantID: "t1", Balance: 10}).Error)

	require.NoError(t, svc.Credit(context.Background(), "t1", "b1", "bm1", 0.5))

	balance, err := svc.Balance(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 10.5, balance)

	var entries []models.WalletEntry
	require.NoError(t, db.Where("kind = ?", models.EntryCredit).Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, "bm1", entries[0].BroadcastMessageID)
}

func TestCreditAppliesOncePerMessage(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, zap.NewNop())
	require.NoError(t, db.Create(&models.Wallet{TenantID: "t1", Balance: 10}).Error)

	require.NoError(t, svc.Credit(context.Background(), "t1", "b1", "bm1", 0.5))
	require.NoError(t, svc.Credit(context.Background(), "t1", "b1", "bm1", 0.5))

	balance, err := svc.Balance(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 10.5, balance)

	var count int64
	require.NoError(t, db.Model(&models.WalletEntry{}).
		Where("kind = ?", models.EntryCredit).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreditEntryUniquePerMessage(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.WalletEntry{
		ID: "e1", TenantID: "t1", BroadcastID: "b1",
		BroadcastMessageID: "bm1", Kind: models.EntryCredit, Amount: 0.5,
	}).Error)

	// A second credit row for the same message violates the partial unique
	// index, which is what stops two racing receipt handlers from both
	// committing a refund.
	err := db.Create(&models.WalletEntry{
		ID: "e2", TenantID: "t1", BroadcastID: "b1",
		BroadcastMessageID: "bm1", Kind: models.EntryCredit, Amount: 0.5,
	}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// Debit rows carry no message id and are not constrained by it.
	require.NoError(t, db.Create(&models.WalletEntry{
		ID: "e3", TenantID: "t1", BroadcastID: "b1",
		Kind: models.EntryDebit, Amount: 1.5, MessageCount: 3,
	}).Error)
	require.NoError(t, db.Create(&models.WalletEntry{
		ID: "e4", TenantID: "t1", BroadcastID: "b2",
		Kind: models.EntryDebit, Amount: 2.0, MessageCount: 4,
	}).Error)
}

func TestCreditZeroAmountIsNoop(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, zap.NewNop())

	require.NoError(t, svc.Credit(context.Background(), "t1", "b1", "bm1", 0))

	var count int64
	require.NoError(t, db.Model(&models.WalletEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestBalanceWithoutWallet(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, zap.NewNop())

	balance, err := svc.Balance(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, balance)
}
