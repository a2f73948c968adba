package models

import "gorm.io/gorm"

// Position statuses.
const (
	StatusOpen = "OPEN"
	// StatusUnprotected marks an accepted entry whose exit legs were not all placed.
	StatusUnprotected = "UNPROTECTED"
	StatusClosed      = "CLOSED"
)

// Position is a bracket the venue accepted.
type Position struct {
	gorm.Model
	PositionID        string  `gorm:"uniqueIndex;not null" json:"position_id"`
	SignalID          string  `gorm:"index" json:"signal_id"`
	Venue             string  `gorm:"index;not null" json:"venue"`
	Symbol            string  `gorm:"not null" json:"symbol"`
	Side              string  `gorm:"not null" json:"side"` // "BUY" or "SELL"
	EntryPrice        float64 `json:"entry_price"`
	LivePrice         float64 `json:"live_price"`
	StopLoss          float64 `json:"stop_loss"`
	TakeProfit        float64 `json:"take_profit"`
	Quantity          float64 `json:"quantity"`
	Notional          float64 `json:"notional"`
	Leverage          int     `json:"leverage"`
	EntryOrderID      string  `json:"entry_order_id"`
	TakeProfitOrderID string  `json:"take_profit_order_id"`
	StopLossOrderID   string  `json:"stop_loss_order_id"`
	Status            string  `gorm:"index;not null;default:OPEN" json:"status"`
	IsSimulation      bool    `json:"is_simulation"`
}
