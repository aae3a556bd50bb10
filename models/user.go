package models

import "time"

// User is an account owner. Every transaction references exactly one user.
type User struct {
	ID             uint          `gorm:"primaryKey" json:"_id"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	Name           string        `gorm:"size:255;not null" json:"name"`
	Email          string        `gorm:"size:255;not null;unique" json:"email"`
	HashedPassword []byte        `gorm:"not null" json:"-"`
	Transactions   []Transaction `json:"-"`
}
