package database

import (
	"fmt"

	"whatsapp-platform/internal/config"
	"whatsapp-platform/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL and runs auto-migration. TranslateError is on
// so unique-constraint violations surface as gorm.ErrDuplicatedKey, which the
// contact upsert relies on.
func Open(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Tenant{},
		&models.Contact{},
		&models.Chat{},
		&models.Message{},
		&models.Template{},
		&models.Broadcast{},
		&models.BroadcastMessage{},
		&models.Wallet{},
		&models.WalletEntry{},
		&models.DailyStat{},
		&models.WebhookLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to run auto-migration: %w", err)
	}
	return nil
}
