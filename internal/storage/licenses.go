package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/scarlin90/signingroom/internal/storage/models"
)

// CreateLicense stores a license together with the key that points at it.
func (s *Store) CreateLicense(ctx context.Context, lic *models.License) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Create(lic).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save license: %w", err)
	}
	key := models.LicenseKey{Key: lic.ActiveKey, LicenseID: lic.ID}
	if err := tx.Create(&key).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save license key: %w", err)
	}
	return tx.Commit().Error
}

// LicenseIDForKey resolves an API key to the license it points at.
func (s *Store) LicenseIDForKey(ctx context.Context, key string) (uuid.UUID, error) {
	var rec models.LicenseKey
	if err := s.db.WithContext(ctx).First(&rec, "api_key = ?", key).Error; err != nil {
		return uuid.Nil, notFound(err, "license key")
	}
	return rec.LicenseID, nil
}

// GetLicense loads a license by id.
func (s *Store) GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error) {
	var lic models.License
	if err := s.db.WithContext(ctx).First(&lic, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "license "+id.String())
	}
	return &lic, nil
}

// SaveLicense updates every column of an existing license.
func (s *Store) SaveLicense(ctx context.Context, lic *models.License) error {
	return s.db.WithContext(ctx).Save(lic).Error
}

// PutLicenseKey points key at the license id.
func (s *Store) PutLicenseKey(ctx context.Context, key string, id uuid.UUID) error {
	return s.db.WithContext(ctx).Create(&models.LicenseKey{Key: key, LicenseID: id}).Error
}

// DeleteLicenseKey removes the key's pointer. The license itself stays.
func (s *Store) DeleteLicenseKey(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&models.LicenseKey{}, "api_key = ?", key).Error
}
