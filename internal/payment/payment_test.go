package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLNbitsClient(t *testing.T) {
	var created createPaymentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			http.Error(w, "bad key", http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/payments":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			json.NewEncoder(w).Encode(map[string]string{
				"payment_hash":    "abc",
				"payment_request": "lnbc50u1...",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/payments/abc":
			w.Write([]byte(`{"paid":true,"details":{"amount":5000000,"memo":"Extend Room (+24h)"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	ln := NewLNbits(srv.URL+"/", "secret")

	inv, err := ln.CreateInvoice(ctx, InvoiceRequest{AmountSat: 5000, Memo: ExtendMemo, Webhook: "https://x/hook"})
	require.NoError(t, err)
	assert.Equal(t, "abc", inv.PaymentHash)
	assert.False(t, created.Out)
	assert.EqualValues(t, 5000, created.Amount)
	assert.Equal(t, "https://x/hook", created.Webhook)

	st, err := Verify(ctx, ln, "abc", ExtendPriceMsat)
	require.NoError(t, err)
	assert.Equal(t, ExtendMemo, st.Memo)

	_, err = Verify(ctx, ln, "abc", UnlockPriceMsat)
	require.ErrorIs(t, err, apperr.ErrInsufficientAmount)

	_, err = ln.Lookup(ctx, "missing")
	require.Error(t, err)

	_, err = NewLNbits(srv.URL, "wrong").Lookup(ctx, "abc")
	require.Error(t, err)
}

func TestVerifyWithMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	inv, err := m.CreateInvoice(ctx, InvoiceRequest{AmountSat: MsatToSat(UnlockPriceMsat), Memo: UnlockMemo})
	require.NoError(t, err)

	_, err = Verify(ctx, m, inv.PaymentHash, UnlockPriceMsat)
	require.ErrorIs(t, err, apperr.ErrPaymentUnverified)

	require.NoError(t, m.Settle(inv.PaymentHash, UnlockPriceMsat))
	_, err = Verify(ctx, m, inv.PaymentHash, UnlockPriceMsat)
	require.NoError(t, err)

	_, err = Verify(ctx, m, "", UnlockPriceMsat)
	require.ErrorIs(t, err, apperr.ErrBadRequest)

	_, err = Verify(ctx, nil, inv.PaymentHash, UnlockPriceMsat)
	require.ErrorIs(t, err, apperr.ErrPaymentBackend)
}

func TestFromConfig(t *testing.T) {
	assert.Nil(t, FromConfig(config.PaymentConfig{}))
	assert.NotNil(t, FromConfig(config.PaymentConfig{LNbitsURL: "https://ln", LNbitsKey: "k"}))
	assert.True(t, IsGenesisMemo(GenesisMemo))
	assert.False(t, IsGenesisMemo(AnnualMemo))
}
