// Package license issues, validates and rotates API license keys. A key
// never names its license directly: it points at a license id, so rotation
// swaps the pointer and the old key stops resolving.
package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/logger"
	"github.com/scarlin90/signingroom/internal/storage"
	"github.com/scarlin90/signingroom/internal/storage/models"
)

// Type is the kind of license sold.
type Type string

const (
	Annual  Type = "annual"
	Genesis Type = "genesis"
)

const annualTerm = 365 * 24 * time.Hour

// GenesisExpiry is the fixed expiry of lifetime licenses, the last second of
// year 9999.
var GenesisExpiry = time.Unix(253402300799, 0).UTC()

// ParseType accepts the license type names used on the wire.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case Annual, Genesis:
		return Type(s), nil
	}
	return "", fmt.Errorf("license type %q: %w", s, apperr.ErrBadRequest)
}

// Manager owns license records in the store.
type Manager struct {
	store *storage.Store
	clock clockwork.Clock
}

// NewManager creates a Manager. A nil clock means the real clock.
func NewManager(store *storage.Store, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{store: store, clock: clock}
}

func newKey(t Type) string {
	a := strings.Split(uuid.NewString(), "-")
	b := strings.Split(uuid.NewString(), "-")
	return fmt.Sprintf("sk_%s_%s%s", t, a[0], b[1])
}

// Create mints a license and its first key.
func (m *Manager) Create(ctx context.Context, t Type, email string) (*models.License, error) {
	if email == "" {
		email = "anon"
	}
	now := m.clock.Now().UTC()
	expires := now.Add(annualTerm)
	if t == Genesis {
		expires = GenesisExpiry
	}

	lic := &models.License{
		ID:        uuid.New(),
		Type:      string(t),
		Email:     email,
		ActiveKey: newKey(t),
		CreatedAt: now,
		ExpiresAt: expires,
		UpdatedAt: now,
	}
	if err := m.store.CreateLicense(ctx, lic); err != nil {
		return nil, err
	}
	logger.Log.WithField("license", lic.ID).Infof("Minted %s license", t)
	return lic, nil
}

// Validate resolves a key to its license. Unknown keys, rotated-out keys and
// expired licenses all fail with ErrInvalidLicense.
func (m *Manager) Validate(ctx context.Context, key string) (*models.License, error) {
	if key == "" {
		return nil, apperr.ErrInvalidLicense
	}
	lic, err := m.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if !m.clock.Now().Before(lic.ExpiresAt) {
		return nil, fmt.Errorf("license expired: %w", apperr.ErrInvalidLicense)
	}
	return lic, nil
}

// Rotate issues a new key for the license behind oldKey and retires
// oldKey. The license record is saved first, then the new pointer written,
// then the old pointer deleted; a failure part way leaves both keys valid,
// never neither.
func (m *Manager) Rotate(ctx context.Context, oldKey string) (string, error) {
	lic, err := m.resolve(ctx, oldKey)
	if err != nil {
		return "", err
	}

	key := newKey(Type(lic.Type))
	lic.ActiveKey = key
	lic.UpdatedAt = m.clock.Now().UTC()

	if err := m.store.SaveLicense(ctx, lic); err != nil {
		return "", fmt.Errorf("failed to save license: %w", err)
	}
	if err := m.store.PutLicenseKey(ctx, key, lic.ID); err != nil {
		return "", fmt.Errorf("failed to write new key: %w", err)
	}
	if err := m.store.DeleteLicenseKey(ctx, oldKey); err != nil {
		return "", fmt.Errorf("failed to retire old key: %w", err)
	}
	logger.Log.WithField("license", lic.ID).Info("Rotated license key")
	return key, nil
}

func (m *Manager) resolve(ctx context.Context, key string) (*models.License, error) {
	id, err := m.store.LicenseIDForKey(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrInvalidLicense
	}
	if err != nil {
		return nil, err
	}
	lic, err := m.store.GetLicense(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("license record missing: %w", apperr.ErrInvalidLicense)
	}
	return lic, err
}
