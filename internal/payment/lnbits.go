package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scarlin90/signingroom/internal/config"
	"github.com/scarlin90/signingroom/internal/logger"
)

// LNbits talks to an LNbits wallet over its REST API.
type LNbits struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewLNbits returns a client for the wallet at baseURL.
func NewLNbits(baseURL, apiKey string) *LNbits {
	return &LNbits{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// FromConfig returns the configured oracle, or nil when no payment backend
// is configured.
func FromConfig(cfg config.PaymentConfig) Oracle {
	if cfg.LNbitsURL == "" || cfg.LNbitsKey == "" {
		return nil
	}
	return NewLNbits(cfg.LNbitsURL, cfg.LNbitsKey)
}

type createPaymentRequest struct {
	Out     bool   `json:"out"`
	Amount  int64  `json:"amount"`
	Memo    string `json:"memo"`
	Webhook string `json:"webhook,omitempty"`
}

type paymentResponse struct {
	Paid    bool `json:"paid"`
	Details struct {
		Amount int64  `json:"amount"`
		Memo   string `json:"memo"`
	} `json:"details"`
}

// CreateInvoice creates an incoming invoice.
func (l *LNbits) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	body, err := json.Marshal(createPaymentRequest{
		Amount:  req.AmountSat,
		Memo:    req.Memo,
		Webhook: req.Webhook,
	})
	if err != nil {
		return nil, err
	}

	var inv Invoice
	if err := l.do(ctx, http.MethodPost, "/api/v1/payments", bytes.NewReader(body), &inv); err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	logger.ForPayment(inv.PaymentHash).Debugf("Created invoice for %d sats", req.AmountSat)
	return &inv, nil
}

// Lookup reports on a payment hash.
func (l *LNbits) Lookup(ctx context.Context, paymentHash string) (*Status, error) {
	var resp paymentResponse
	path := "/api/v1/payments/" + url.PathEscape(paymentHash)
	if err := l.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to look up payment: %w", err)
	}
	return &Status{
		Paid:       resp.Paid,
		AmountMsat: resp.Details.Amount,
		Memo:       resp.Details.Memo,
	}, nil
}

func (l *LNbits) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", l.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("lnbits %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
