package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"futures-signal-bot-go/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the sqlite database at dsn and migrates the schema.
func NewDatabase(dsn string) (*gorm.DB, error) {
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates the tables and seeds the bot_control row as running.
// Existing rows are kept.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Position{}, &models.BotControl{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	ctrl := models.BotControl{ID: models.BotControlID, IsRunning: true}
	if err := db.FirstOrCreate(&ctrl, models.BotControl{ID: models.BotControlID}).Error; err != nil {
		return fmt.Errorf("failed to seed bot_control: %w", err)
	}
	return nil
}
