package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/scarlin90/signingroom/internal/payment"
	"github.com/scarlin90/signingroom/internal/room"
	"github.com/scarlin90/signingroom/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestPaymentSurvivesRoomVanishing(t *testing.T) {
	ctx := context.Background()
	store, err := storage.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	hub := room.NewHub(store, nil, clock)
	t.Cleanup(hub.Shutdown)
	oracle := payment.NewMemory()

	created, err := hub.Create(ctx, room.CreateParams{EncryptedPsbt: "ciphertext"})
	require.NoError(t, err)
	stale, ok := hub.Lookup(created.RoomID)
	require.True(t, ok)

	inv, err := oracle.CreateInvoice(ctx, payment.InvoiceRequest{AmountSat: 5000, Memo: payment.ExtendMemo})
	require.NoError(t, err)
	require.NoError(t, oracle.Settle(inv.PaymentHash, payment.ExtendPriceMsat))

	// The room expires after the handler found it.
	clock.Advance(21 * time.Minute)
	require.Eventually(t, func() bool {
		_, ok := hub.Lookup(created.RoomID)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	h := NewRoomHandler(hub, nil, oracle, store, "https://api.signingroom.test")
	h.lookup = func(string) (*room.Room, bool) { return stale, true }

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/room/"+created.RoomID+"/extend",
		strings.NewReader(`{"paymentHash":"`+inv.PaymentHash+`"}`))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: created.RoomID}}
	h.Extend(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	unspent, err := store.ConsumePayment(ctx, inv.PaymentHash, PurposeExtend, created.RoomID)
	require.NoError(t, err)
	assert.True(t, unspent)
}
