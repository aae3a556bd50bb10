package models

import "time"

// Transaction is a single expense record belonging to a user.
// Date defaults to creation time when the client omits it.
type Transaction struct {
	ID        uint      `gorm:"primaryKey" json:"_id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	UserID    uint      `gorm:"not null;index:idx_tx_user_date,priority:1;index:idx_tx_user_category,priority:1" json:"userId"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Amount    float64   `gorm:"not null" json:"amount"`
	Category  string    `gorm:"size:128;not null;index:idx_tx_user_category,priority:2" json:"category"`
	Date      time.Time `gorm:"not null;index:idx_tx_user_date,priority:2" json:"date"`
	Notes     string    `gorm:"size:1024" json:"notes"`
}
