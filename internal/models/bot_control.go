package models

import "time"

// BotControlID is the primary key of the only bot_control row.
const BotControlID = 1

// BotControl holds the run/pause flag shared by the executor and the control API.
// There should only ever be one row in this table.
type BotControl struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	IsRunning bool      `gorm:"not null" json:"is_running"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (BotControl) TableName() string { return "bot_control" }
