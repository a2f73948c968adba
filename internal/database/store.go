package database

import (
	"context"
	"errors"
	"fmt"

	"futures-signal-bot-go/internal/models"
	"futures-signal-bot-go/internal/trade"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is the position store and run/pause flag.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a migrated database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RecordPosition inserts p, assigning a PositionID when it has none.
func (s *Store) RecordPosition(ctx context.Context, p *models.Position) error {
	if p.PositionID == "" {
		p.PositionID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.StatusOpen
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to save position %s: %w", p.PositionID, err)
	}
	return nil
}

// CountOpenPositions counts live positions on venue. Simulated and closed ones are excluded.
func (s *Store) CountOpenPositions(ctx context.Context, venue trade.Venue) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Position{}).
		Where("venue = ? AND status IN ? AND is_simulation = ?", string(venue), []string{models.StatusOpen, models.StatusUnprotected}, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count open positions: %w", err)
	}
	return n, nil
}

// ListPositions returns up to limit positions, most recent first. An empty venue lists all.
func (s *Store) ListPositions(ctx context.Context, venue string, limit int) ([]models.Position, error) {
	q := s.db.WithContext(ctx).Order("created_at desc, id desc")
	if venue != "" {
		q = q.Where("venue = ?", venue)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Position
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return out, nil
}

// ClosePosition marks the position closed.
func (s *Store) ClosePosition(ctx context.Context, positionID string) error {
	res := s.db.WithContext(ctx).Model(&models.Position{}).
		Where("position_id = ?", positionID).
		Update("status", models.StatusClosed)
	if res.Error != nil {
		return fmt.Errorf("failed to close position %s: %w", positionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IsRunning reads the run/pause flag. A missing row reads as paused.
func (s *Store) IsRunning(ctx context.Context) (bool, error) {
	var ctrl models.BotControl
	err := s.db.WithContext(ctx).First(&ctrl, models.BotControlID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read bot_control: %w", err)
	}
	return ctrl.IsRunning, nil
}

// SetRunning writes the run/pause flag.
func (s *Store) SetRunning(ctx context.Context, running bool) error {
	ctrl := models.BotControl{ID: models.BotControlID}
	err := s.db.WithContext(ctx).
		Where(models.BotControl{ID: models.BotControlID}).
		Assign(map[string]any{"is_running": running}).
		FirstOrCreate(&ctrl).Error
	if err != nil {
		return fmt.Errorf("failed to update bot_control: %w", err)
	}
	return nil
}
