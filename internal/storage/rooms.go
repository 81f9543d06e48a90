package storage

import (
	"context"
	"time"

	"github.com/scarlin90/signingroom/internal/storage/models"

	"gorm.io/gorm/clause"
)

// SaveRoom writes the full snapshot of a room, replacing any previous one.
func (s *Store) SaveRoom(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	rec := models.Room{ID: id, Data: data, ExpiresAt: expiresAt.UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

// LoadRoom returns the stored snapshot of a room.
func (s *Store) LoadRoom(ctx context.Context, id string) (*models.Room, error) {
	var rec models.Room
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "room "+id)
	}
	return &rec, nil
}

// DeleteRoom removes every stored trace of a room. Deleting a missing room is
// not an error.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&models.Room{}, "id = ?", id).Error
}

// ListRooms returns all stored rooms, used to re-arm alarms after a restart.
func (s *Store) ListRooms(ctx context.Context) ([]models.Room, error) {
	var recs []models.Room
	if err := s.db.WithContext(ctx).Order("expires_at").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
