package models

import (
	"time"

	"github.com/google/uuid"
)

// License is a purchased API license. It is reached through a LicenseKey
// row; ActiveKey mirrors the key that currently points at it.
type License struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;" json:"id"`
	Type      string    `gorm:"type:varchar(16)" json:"type"` // "annual" or "genesis"
	Email     string    `json:"email"`
	ActiveKey string    `gorm:"type:varchar(64)" json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LicenseKey is the indirection from an API key to its license.
type LicenseKey struct {
	Key       string    `gorm:"column:api_key;type:varchar(64);primary_key"`
	LicenseID uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt time.Time
}
