package db

import (
	"fmt"

	"bridge-backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the postgres database and migrates the schema. The handle
// is returned to the caller for injection; nothing here is global.
func Connect(dsn string, log *logrus.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	database, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := database.AutoMigrate(
		&models.WebhookEvent{},
		&models.MintReceipt{},
		&models.RedeemRequest{},
		&models.RateWindow{},
		&models.ReserveSnapshot{},
	); err != nil {
		return nil, fmt.Errorf("auto-migrate failed: %w", err)
	}

	log.Info("database connected and schema migrated")
	return database, nil
}
