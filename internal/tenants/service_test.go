package tenants

import (
	"context"
	"testing"
	"time"

	"whatsapp-platform/internal/database"
	"whatsapp-platform/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
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

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestByPhoneNumberID(t *testing.T) {
	db := newTestDB(t)
	_, rdb := newRedis(t)
	svc := NewService(db, rdb, time.Minute, zap.NewNop())
	require.NoError(t, db.Create(&models.Tenant{ID: "t1", PhoneNumberID: "pn1"}).Error)

	tenant, err := svc.ByPhoneNumberID(context.Background(), "pn1")
	require.NoError(t, err)
	assert.Equal(t, "t1", tenant.ID)
}

func TestByPhoneNumberIDServesFromCache(t *testing.T) {
	db := newTestDB(t)
	mr, rdb := newRedis(t)
	svc := NewService(db, rdb, time.Minute, zap.NewNop())
	require.NoError(t, db.Create(&models.Tenant{ID: "t1", PhoneNumberID: "pn1"}).Error)
	ctx := context.Background()

	_, err := svc.ByPhoneNumberID(ctx, "pn1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("tenant:pnid:pn1"))

	// The row is gone but the cache still answers within the TTL.
	require.NoError(t, db.Delete(&models.Tenant{}, "id = ?", "t1").Error)
	tenant, err := svc.ByPhoneNumberID(ctx, "pn1")
	require.NoError(t, err)
	assert.Equal(t, "t1", tenant.ID)
}

func TestByPhoneNumberIDCacheExpires(t *testing.T) {
	db := newTestDB(t)
	mr, rdb := newRedis(t)
	svc := NewService(db, rdb, time.Minute, zap.NewNop())
	require.NoError(t, db.Create(&models.Tenant{ID: "t1", PhoneNumberID: "pn1"}).Error)
	ctx := context.Background()

	_, err := svc.ByPhoneNumberID(ctx, "pn1")
	require.NoError(t, err)

	require.NoError(t, db.Delete(&models.Tenant{}, "id = ?", "t1").Error)
	mr.FastForward(2 * time.Minute)

	_, err = svc.ByPhoneNumberID(ctx, "pn1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestByPhoneNumberIDNotFound(t *testing.T) {
	db := newTestDB(t)
	_, rdb := newRedis(t)
	svc := NewService(db, rdb, time.Minute, zap.NewNop())

	_, err := svc.ByPhoneNumberID(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmptyIdentifierRejected(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil, time.Minute, zap.NewNop())

	_, err := svc.ByPhoneNumberID(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ByID(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNilRedisDisablesCaching(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil, time.Minute, zap.NewNop())
	require.NoError(t, db.Create(&models.Tenant{ID: "t1", PhoneNumberID: "pn1"}).Error)
	ctx := context.Background()

	tenant, err := svc.ByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "pn1", tenant.PhoneNumberID)

	require.NoError(t, db.Delete(&models.Tenant{}, "id = ?", "t1").Error)
	_, err = svc.ByID(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}
