package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/storage/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoomLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := time.Now().Add(20 * time.Minute).Truncate(time.Second)

	_, err := s.LoadRoom(ctx, "r1")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, s.SaveRoom(ctx, "r1", []byte(`{"v":1}`), exp))
	require.NoError(t, s.SaveRoom(ctx, "r1", []byte(`{"v":2}`), exp.Add(time.Hour)))

	rec, err := s.LoadRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(rec.Data))
	assert.True(t, rec.ExpiresAt.Equal(exp.Add(time.Hour)))

	require.NoError(t, s.SaveRoom(ctx, "r0", []byte(`{}`), exp))
	all, err := s.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r0", all[0].ID)

	require.NoError(t, s.DeleteRoom(ctx, "r1"))
	require.NoError(t, s.DeleteRoom(ctx, "r1"))
	_, err = s.LoadRoom(ctx, "r1")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLicenseKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lic := &models.License{
		ID:        uuid.New(),
		Type:      "annual",
		ActiveKey: "sk_annual_0123456789ab",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, s.CreateLicense(ctx, lic))

	id, err := s.LicenseIDForKey(ctx, lic.ActiveKey)
	require.NoError(t, err)
	assert.Equal(t, lic.ID, id)

	got, err := s.GetLicense(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "annual", got.Type)

	require.NoError(t, s.PutLicenseKey(ctx, "sk_annual_new", lic.ID))
	require.NoError(t, s.DeleteLicenseKey(ctx, lic.ActiveKey))
	_, err = s.LicenseIDForKey(ctx, lic.ActiveKey)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	// A duplicate key aborts the whole transaction.
	dup := &models.License{ID: uuid.New(), Type: "annual", ActiveKey: "sk_annual_new"}
	require.Error(t, s.CreateLicense(ctx, dup))
	_, err = s.GetLicense(ctx, dup.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCountersAndClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Counter(ctx, "genesis_sold")
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, s.SetCounter(ctx, "genesis_sold", 3))
	require.NoError(t, s.SetCounter(ctx, "genesis_sold", 4))
	n, err = s.Counter(ctx, "genesis_sold")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	now := time.Now()
	require.NoError(t, s.PutClaim(ctx, "hash1", "sk_genesis_x", now.Add(time.Hour)))
	key, err := s.Claim(ctx, "hash1", now)
	require.NoError(t, err)
	assert.Equal(t, "sk_genesis_x", key)

	_, err = s.Claim(ctx, "hash1", now.Add(2*time.Hour))
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.Claim(ctx, "hash1", now)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConsumePaymentOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.ConsumePayment(ctx, "h", "extend", "room1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.ConsumePayment(ctx, "h", "extend", "room1")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestPaymentOutcomes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PaymentOutcome(ctx, "h")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	first, err := s.ConsumePayment(ctx, "h", "license", "genesis")
	require.NoError(t, err)
	require.True(t, first)
	outcome, err := s.PaymentOutcome(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplying, outcome)

	moved, err := s.TransitionPayment(ctx, "h", models.OutcomeApplying, models.OutcomeConfirmed)
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = s.TransitionPayment(ctx, "h", models.OutcomeApplying, models.OutcomeMinted)
	require.NoError(t, err)
	assert.False(t, moved)

	outcome, err = s.PaymentOutcome(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeConfirmed, outcome)

	require.NoError(t, s.ReleasePayment(ctx, "h"))
	again, err := s.ConsumePayment(ctx, "h", "license", "genesis")
	require.NoError(t, err)
	assert.True(t, again)
}
