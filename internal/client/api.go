// Package client is the participant side of a signing room: it prepares and
// encrypts the PSBT, talks to the HTTP API, and keeps a decrypted, merged
// view of the room over its WebSocket session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/encryption"
	"github.com/scarlin90/signingroom/internal/psbtkit"
)

const (
	pollAttempts = 40
	pollInterval = 3 * time.Second
)

// API talks to a signingroom server over HTTP.
type API struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
}

// NewAPI creates a client for the server at baseURL, e.g.
// "https://api.signingroom.io".
func NewAPI(baseURL string) *API {
	return &API{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		pollInterval: pollInterval,
	}
}

// CreateOptions describes a room to open.
type CreateOptions struct {
	Psbt       string // hex or base64
	Tier       string
	Network    string
	LicenseKey string
	// OneOff marks a room that will be unlocked by a single payment, which
	// lifts the free signer cap like a license does.
	OneOff bool
}

// CreatedRoom is everything the creator needs afterwards. ShareLink carries
// the key in its fragment, which browsers never send to the server.
type CreatedRoom struct {
	RoomID          string
	AdminToken      string
	Key             string
	SocketURL       string
	ShareLink       string
	Analysis        *psbtkit.Analysis
	NetworkMismatch bool
	HighFee         bool
}

// CreateRoom validates the PSBT locally, encrypts it under a fresh key and
// registers the ciphertext with the server.
func (a *API) CreateRoom(ctx context.Context, opts CreateOptions) (*CreatedRoom, error) {
	normalized, err := psbtkit.Decode(opts.Psbt)
	if err != nil {
		return nil, err
	}
	p, err := psbtkit.Parse(normalized)
	if err != nil {
		return nil, err
	}
	analysis, err := psbtkit.Analyze(p)
	if err != nil {
		return nil, err
	}
	if err := psbtkit.CheckSignerLimit(analysis, opts.Tier, opts.LicenseKey != "" || opts.OneOff); err != nil {
		return nil, err
	}

	key, err := encryption.GenerateKey()
	if err != nil {
		return nil, err
	}
	ciphertext, err := encryption.Encrypt([]byte(normalized), key)
	if err != nil {
		return nil, err
	}

	var resp struct {
		RoomID     string `json:"roomId"`
		AdminToken string `json:"adminToken"`
		SocketURL  string `json:"socketUrl"`
	}
	err = a.post(ctx, "/api/room", map[string]string{
		"encryptedPsbt": ciphertext,
		"tier":          opts.Tier,
		"network":       opts.Network,
		"licenseKey":    opts.LicenseKey,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &CreatedRoom{
		RoomID:          resp.RoomID,
		AdminToken:      resp.AdminToken,
		Key:             key,
		SocketURL:       a.socketURL(resp.SocketURL),
		ShareLink:       fmt.Sprintf("%s/room/%s#%s", a.baseURL, resp.RoomID, key),
		Analysis:        analysis,
		NetworkMismatch: analysis.NetworkMismatch(opts.Network),
		HighFee:         analysis.IsHighFee(),
	}, nil
}

// SocketURL returns the WebSocket address of a room.
func (a *API) SocketURL(roomID string) string {
	return a.socketURL(fmt.Sprintf("/api/room/%s/websocket", roomID))
}

func (a *API) socketURL(path string) string {
	base := a.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}

// ParseShareLink splits a share link into the room id and the key.
func ParseShareLink(link string) (roomID, key string, err error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", "", fmt.Errorf("share link: %w", apperr.ErrBadRequest)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] != "room" || parts[len(parts)-1] == "" {
		return "", "", fmt.Errorf("share link has no room: %w", apperr.ErrBadRequest)
	}
	return parts[len(parts)-1], u.Fragment, nil
}

// Invoice is a Lightning invoice issued by the server.
type Invoice struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
	Amount         int64  `json:"amount"`
}

// RoomInvoice requests an invoice to "extend" or "unlock" a room.
func (a *API) RoomInvoice(ctx context.Context, roomID, purpose string) (*Invoice, error) {
	var inv Invoice
	err := a.post(ctx, fmt.Sprintf("/api/room/%s/invoice", roomID), map[string]string{"purpose": purpose}, &inv)
	return &inv, err
}

// ConfirmRoomPayment asks the server to apply a paid room invoice. It
// returns apperr.ErrPaymentUnverified while the invoice is unpaid.
func (a *API) ConfirmRoomPayment(ctx context.Context, roomID, purpose, paymentHash string) error {
	return a.post(ctx, fmt.Sprintf("/api/room/%s/%s", roomID, purpose), map[string]string{"paymentHash": paymentHash}, nil)
}

// BuyLicense requests an invoice for a license type.
func (a *API) BuyLicense(ctx context.Context, licenseType string) (*Invoice, error) {
	var inv Invoice
	err := a.post(ctx, "/api/license/buy", map[string]string{"type": licenseType}, &inv)
	return &inv, err
}

// ClaimLicense returns the key minted for a payment, or "" while it is not
// ready.
func (a *API) ClaimLicense(ctx context.Context, paymentHash string) (string, error) {
	var resp struct {
		Ready  bool   `json:"ready"`
		APIKey string `json:"apiKey"`
	}
	if err := a.get(ctx, "/api/license/claim/"+url.PathEscape(paymentHash), &resp); err != nil {
		return "", err
	}
	if !resp.Ready {
		return "", nil
	}
	return resp.APIKey, nil
}

// RotateLicense swaps a license key for a new one.
func (a *API) RotateLicense(ctx context.Context, oldKey string) (string, error) {
	var resp struct {
		NewKey string `json:"newKey"`
	}
	err := a.post(ctx, "/api/license/rotate", map[string]string{"oldKey": oldKey}, &resp)
	return resp.NewKey, err
}

// Stock is the genesis sale counter.
type Stock struct {
	Sold      int `json:"sold"`
	Remaining int `json:"remaining"`
	Total     int `json:"total"`
}

func (a *API) LicenseStock(ctx context.Context) (*Stock, error) {
	var s Stock
	err := a.get(ctx, "/api/license/stock", &s)
	return &s, err
}

// PollPayment calls check up to 40 times, 3 seconds apart, until it reports
// done or fails with something other than an unpaid invoice.
func (a *API) PollPayment(ctx context.Context, check func(ctx context.Context) (bool, error)) error {
	for i := 0; i < pollAttempts; i++ {
		done, err := check(ctx)
		if err != nil && !errors.Is(err, apperr.ErrPaymentUnverified) {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
	return apperr.ErrPaymentUnverified
}

// apiError is the error body every endpoint answers with.
type apiError struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

func (a *API) get(ctx context.Context, path string, out any) error {
	return a.do(ctx, http.MethodGet, path, nil, out)
}

func (a *API) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return a.do(ctx, http.MethodPost, path, bytes.NewReader(raw), out)
}

func (a *API) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e apiError
		_ = json.Unmarshal(data, &e)
		return statusError(resp.StatusCode, e)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// statusError maps an HTTP failure back onto the error taxonomy.
func statusError(code int, e apiError) error {
	var kind error
	switch code {
	case http.StatusNotFound:
		kind = apperr.ErrNotFound
	case http.StatusPaymentRequired:
		kind = apperr.ErrPaymentUnverified
		if e.Error == "Insufficient amount" {
			kind = apperr.ErrInsufficientAmount
		}
	case http.StatusTooManyRequests:
		kind = apperr.ErrRateLimited
	case http.StatusRequestEntityTooLarge:
		kind = apperr.ErrPayloadTooLarge
	case http.StatusGone:
		kind = apperr.ErrSoldOut
	case http.StatusForbidden:
		kind = apperr.ErrInvalidLicense
	case http.StatusBadRequest:
		kind = apperr.ErrBadRequest
	default:
		kind = fmt.Errorf("server answered %d", code)
	}
	if e.Error != "" {
		return fmt.Errorf("%w: %s", kind, e.Error)
	}
	return kind
}
