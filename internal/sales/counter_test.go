package sales

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newCounter(t *testing.T) (*Counter, *storage.Store) {
	t.Helper()
	store, err := storage.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	c, err := NewCounter(context.Background(), store)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		store.Close()
	})
	return c, store
}

func TestConfirmUpToCap(t *testing.T) {
	c, store := newCounter(t)
	ctx := context.Background()

	for i := 1; i <= Cap; i++ {
		sold, err := c.Confirm(ctx)
		require.NoError(t, err)
		require.Equal(t, i, sold)
	}

	_, err := c.Confirm(ctx)
	require.ErrorIs(t, err, apperr.ErrSoldOut)
	require.ErrorIs(t, c.Reserve(ctx), apperr.ErrSoldOut)

	s, err := c.Stock(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stock{Sold: 21, Remaining: 0}, s)

	persisted, err := store.Counter(ctx, counterName)
	require.NoError(t, err)
	assert.Equal(t, 21, persisted)
}

func TestConcurrentConfirmsNeverOversell(t *testing.T) {
	c, _ := newCounter(t)
	ctx := context.Background()

	var g errgroup.Group
	results := make([]error, 40)
	for i := range results {
		i := i
		g.Go(func() error {
			_, results[i] = c.Confirm(ctx)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, apperr.ErrSoldOut)
		}
	}
	assert.Equal(t, Cap, ok)
}

// Reserve only peeks, so two buyers of the last unit both get an invoice
// and the second payment cannot be honoured.
func TestReserveDoesNotHoldStock(t *testing.T) {
	c, _ := newCounter(t)
	ctx := context.Background()
	for i := 0; i < Cap-1; i++ {
		_, err := c.Confirm(ctx)
		require.NoError(t, err)
	}

	require.NoError(t, c.Reserve(ctx))
	require.NoError(t, c.Reserve(ctx))

	_, err := c.Confirm(ctx)
	require.NoError(t, err)
	_, err = c.Confirm(ctx)
	require.ErrorIs(t, err, apperr.ErrSoldOut)
}

func TestCountSurvivesRestart(t *testing.T) {
	c, store := newCounter(t)
	ctx := context.Background()
	_, err := c.Confirm(ctx)
	require.NoError(t, err)
	c.Close()

	again, err := NewCounter(ctx, store)
	require.NoError(t, err)
	defer again.Close()
	s, err := again.Stock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Sold)

	_, err = c.Stock(ctx)
	require.ErrorIs(t, err, ErrClosed)
}
