// Package payment is the boundary to the Lightning payment oracle. The rest
// of the server only ever asks two things of it: issue an invoice, and say
// whether a payment hash has been paid and for how much.
package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/scarlin90/signingroom/internal/apperr"
)

// Prices in millisatoshis.
const (
	UnlockPriceMsat  int64 = 21_000_000
	ExtendPriceMsat  int64 = 5_000_000
	AnnualPriceMsat  int64 = 300_000_000
	GenesisPriceMsat int64 = 2_100_000_000
)

// Invoice memos. The genesis memo is how a polled payment is recognised as
// a genesis purchase.
const (
	AnnualMemo  = "SigningRoom Annual License"
	GenesisMemo = "SigningRoom GENESIS License (Lifetime)"
	ExtendMemo  = "Extend Room (+24h)"
	UnlockMemo  = "Unlock Room"
)

// InvoiceRequest describes an incoming invoice to create.
type InvoiceRequest struct {
	AmountSat int64
	Memo      string
	Webhook   string
}

// Invoice is a BOLT11 request and the hash that identifies its payment.
type Invoice struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
}

// Status is what the oracle knows about a payment hash.
type Status struct {
	Paid       bool
	AmountMsat int64
	Memo       string
}

// Oracle issues invoices and reports on payments.
type Oracle interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
	Lookup(ctx context.Context, paymentHash string) (*Status, error)
}

// MsatToSat converts a price to the whole satoshis invoices are made out in.
func MsatToSat(msat int64) int64 {
	return msat / 1000
}

// IsGenesisMemo reports whether an invoice memo marks a genesis purchase.
func IsGenesisMemo(memo string) bool {
	return strings.Contains(memo, "GENESIS")
}

// Verify asks the oracle about paymentHash and succeeds only if it is paid
// with at least requiredMsat. The amount always comes from the oracle.
func Verify(ctx context.Context, o Oracle, paymentHash string, requiredMsat int64) (*Status, error) {
	if o == nil {
		return nil, apperr.ErrPaymentBackend
	}
	if paymentHash == "" {
		return nil, fmt.Errorf("missing payment hash: %w", apperr.ErrBadRequest)
	}
	st, err := o.Lookup(ctx, paymentHash)
	if err != nil {
		return nil, err
	}
	if !st.Paid {
		return st, fmt.Errorf("payment %s: %w", paymentHash, apperr.ErrPaymentUnverified)
	}
	if st.AmountMsat < requiredMsat {
		return st, fmt.Errorf("payment %s paid %d msat, need %d: %w",
			paymentHash, st.AmountMsat, requiredMsat, apperr.ErrInsufficientAmount)
	}
	return st, nil
}
