package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process oracle. Invoices start unpaid; Settle marks them
// paid. It backs local runs without a wallet and the test suites.
type Memory struct {
	mu       sync.Mutex
	invoices map[string]*memoryInvoice
}

type memoryInvoice struct {
	req    InvoiceRequest
	status Status
}

// NewMemory returns an empty in-process oracle.
func NewMemory() *Memory {
	return &Memory{invoices: make(map[string]*memoryInvoice)}
}

// CreateInvoice records an unpaid invoice.
func (m *Memory) CreateInvoice(_ context.Context, req InvoiceRequest) (*Invoice, error) {
	sum := sha256.Sum256([]byte(uuid.NewString()))
	hash := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[hash] = &memoryInvoice{req: req, status: Status{Memo: req.Memo}}
	return &Invoice{PaymentHash: hash, PaymentRequest: "lnbcrt" + hash[:20]}, nil
}

// Lookup reports on a payment hash. Unknown hashes are unpaid.
func (m *Memory) Lookup(_ context.Context, paymentHash string) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[paymentHash]
	if !ok {
		return &Status{}, nil
	}
	st := inv.status
	return &st, nil
}

// Settle marks an invoice paid with amountMsat.
func (m *Memory) Settle(paymentHash string, amountMsat int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[paymentHash]
	if !ok {
		return fmt.Errorf("unknown invoice %s", paymentHash)
	}
	inv.status.Paid = true
	inv.status.AmountMsat = amountMsat
	return nil
}

// Webhook returns the webhook URL the invoice was created with.
func (m *Memory) Webhook(paymentHash string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.invoices[paymentHash]; ok {
		return inv.req.Webhook
	}
	return ""
}
