package models

import "time"

// TableToken is the local record of the token this deployment last issued for
// a table. Superseded rows are kept for the audit trail.
type TableToken struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	RestaurantID string     `gorm:"type:varchar(64);not null;index:idx_table_token_table" json:"restaurant_id"`
	TableNumber  int        `gorm:"not null;index:idx_table_token_table" json:"table_number"`
	Token        string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"token"`
	Status       string     `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}

// Ledger statuses. "superseded" exists only locally.
const (
	LedgerStatusActive     = "active"
	LedgerStatusCompleted  = "completed"
	LedgerStatusSuperseded = "superseded"
)
