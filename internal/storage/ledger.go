package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/storage/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Counter returns the named counter, zero when it was never written.
func (s *Store) Counter(ctx context.Context, name string) (int, error) {
	var c models.Counter
	err := s.db.WithContext(ctx).First(&c, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c.Value, nil
}

// SetCounter overwrites the named counter.
func (s *Store) SetCounter(ctx context.Context, name string, value int) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&models.Counter{Name: name, Value: value}).Error
}

// PutClaim parks a minted key under its payment hash until expiresAt.
func (s *Store) PutClaim(ctx context.Context, paymentHash, apiKey string, expiresAt time.Time) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&models.PendingClaim{PaymentHash: paymentHash, APIKey: apiKey, ExpiresAt: expiresAt.UTC()}).Error
}

// Claim returns the parked key for a payment hash. Expired claims are
// reported as missing and removed.
func (s *Store) Claim(ctx context.Context, paymentHash string, now time.Time) (string, error) {
	var c models.PendingClaim
	if err := s.db.WithContext(ctx).First(&c, "payment_hash = ?", paymentHash).Error; err != nil {
		return "", notFound(err, "claim")
	}
	if !now.Before(c.ExpiresAt) {
		s.db.WithContext(ctx).Delete(&models.PendingClaim{}, "payment_hash = ?", paymentHash)
		return "", fmt.Errorf("claim: %w", apperr.ErrNotFound)
	}
	return c.APIKey, nil
}

// ConsumePayment records that paymentHash has been applied. It reports false
// when the hash was already consumed, in which case the caller must not apply
// it again.
func (s *Store) ConsumePayment(ctx context.Context, paymentHash, purpose, reference string) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.PaymentReceipt{PaymentHash: paymentHash, Purpose: purpose, Reference: reference})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleasePayment forgets a receipt whose payment could not be applied, so a
// later confirmation may try again.
func (s *Store) ReleasePayment(ctx context.Context, paymentHash string) error {
	return s.db.WithContext(ctx).Delete(&models.PaymentReceipt{}, "payment_hash = ?", paymentHash).Error
}

// PaymentOutcome returns the recorded outcome of a consumed payment.
func (s *Store) PaymentOutcome(ctx context.Context, paymentHash string) (string, error) {
	var r models.PaymentReceipt
	if err := s.db.WithContext(ctx).First(&r, "payment_hash = ?", paymentHash).Error; err != nil {
		return "", notFound(err, "payment receipt")
	}
	return r.Outcome, nil
}

// TransitionPayment moves a receipt from one outcome to another and reports
// whether this caller made the move.
func (s *Store) TransitionPayment(ctx context.Context, paymentHash, from, to string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.PaymentReceipt{}).
		Where("payment_hash = ? AND outcome = ?", paymentHash, from).
		Update("outcome", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
