package models

import "time"

// Room is the persisted form of one room's state. Data is the room actor's
// own JSON encoding; the store never looks inside it.
type Room struct {
	ID        string    `gorm:"type:varchar(64);primary_key" json:"id"`
	Data      []byte    `json:"-"`
	ExpiresAt time.Time `gorm:"index" json:"expiresAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
