package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/logger"
	"github.com/scarlin90/signingroom/internal/network"
	"github.com/scarlin90/signingroom/internal/payment"
	"github.com/scarlin90/signingroom/internal/room"
	"github.com/scarlin90/signingroom/internal/storage"
)

// Room payment purposes.
const (
	PurposeExtend = "extend"
	PurposeUnlock = "unlock"
)

// RoomHandler serves room creation, sessions and room payments.
type RoomHandler struct {
	hub       *room.Hub
	sockets   *network.Server
	oracle    payment.Oracle
	store     *storage.Store
	publicURL string
	lookup    func(roomID string) (*room.Room, bool)
}

func NewRoomHandler(hub *room.Hub, sockets *network.Server, oracle payment.Oracle, store *storage.Store, publicURL string) *RoomHandler {
	return &RoomHandler{
		hub:       hub,
		sockets:   sockets,
		oracle:    oracle,
		store:     store,
		publicURL: publicURL,
		lookup:    hub.Lookup,
	}
}

// Create handles POST /api/room.
func (h *RoomHandler) Create(c *gin.Context) {
	var req room.CreateParams
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	created, err := h.hub.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"roomId":     created.RoomID,
		"adminToken": created.AdminToken,
		"socketUrl":  fmt.Sprintf("/api/room/%s/websocket", created.RoomID),
		"expiresAt":  created.ExpiresAt.UnixMilli(),
	})
}

// Socket handles GET /api/room/:id/websocket.
func (h *RoomHandler) Socket(c *gin.Context) {
	h.sockets.ServeRoom(c.Writer, c.Request, c.Param("id"))
}

type invoiceRequest struct {
	Purpose string `json:"purpose"`
}

func roomPrice(purpose string) (int64, string, error) {
	switch purpose {
	case "", PurposeExtend:
		return payment.ExtendPriceMsat, payment.ExtendMemo, nil
	case PurposeUnlock:
		return payment.UnlockPriceMsat, payment.UnlockMemo, nil
	}
	return 0, "", fmt.Errorf("purpose %q: %w", purpose, apperr.ErrBadRequest)
}

// Invoice handles POST /api/room/:id/invoice. The price follows from the
// purpose; clients never name an amount.
func (h *RoomHandler) Invoice(c *gin.Context) {
	roomID := c.Param("id")
	var req invoiceRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			respondError(c, err)
			return
		}
	}
	price, memo, err := roomPrice(req.Purpose)
	if err != nil {
		respondError(c, err)
		return
	}
	if _, ok := h.lookup(roomID); !ok {
		respondError(c, fmt.Errorf("room %s: %w", roomID, apperr.ErrNotFound))
		return
	}
	if h.oracle == nil {
		respondError(c, apperr.ErrPaymentBackend)
		return
	}
	if req.Purpose == "" {
		req.Purpose = PurposeExtend
	}

	q := url.Values{"roomId": {roomID}, "purpose": {req.Purpose}}
	inv, err := h.oracle.CreateInvoice(c.Request.Context(), payment.InvoiceRequest{
		AmountSat: payment.MsatToSat(price),
		Memo:      fmt.Sprintf("%s %s", memo, roomID),
		Webhook:   h.publicURL + "/api/webhook/lnbits?" + q.Encode(),
	})
	if err != nil {
		respondError(c, fmt.Errorf("failed to create invoice: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment_hash":    inv.PaymentHash,
		"payment_request": inv.PaymentRequest,
		"amount":          payment.MsatToSat(price),
	})
}

// Extend handles POST /api/room/:id/extend.
func (h *RoomHandler) Extend(c *gin.Context) {
	h.confirm(c, c.Param("id"), PurposeExtend)
}

// Unlock handles POST /api/room/:id/unlock.
func (h *RoomHandler) Unlock(c *gin.Context) {
	h.confirm(c, c.Param("id"), PurposeUnlock)
}

// Webhook handles POST /api/webhook/lnbits?roomId=&purpose=, called by the
// oracle once an invoice settles. The payment is verified again rather than
// trusting the call.
func (h *RoomHandler) Webhook(c *gin.Context) {
	roomID := c.Query("roomId")
	if roomID == "" {
		respondError(c, fmt.Errorf("missing roomId: %w", apperr.ErrBadRequest))
		return
	}
	purpose := c.DefaultQuery("purpose", PurposeExtend)
	h.confirm(c, roomID, purpose)
}

func (h *RoomHandler) confirm(c *gin.Context, roomID, purpose string) {
	var body paymentBody
	if err := bindJSON(c, &body); err != nil {
		respondError(c, err)
		return
	}
	price, _, err := roomPrice(purpose)
	if err != nil {
		respondError(c, err)
		return
	}
	r, ok := h.lookup(roomID)
	if !ok {
		respondError(c, fmt.Errorf("room %s: %w", roomID, apperr.ErrNotFound))
		return
	}

	ctx := c.Request.Context()
	if _, err := payment.Verify(ctx, h.oracle, body.hash(), price); err != nil {
		switch {
		case errors.Is(err, apperr.ErrPaymentUnverified):
			c.JSON(http.StatusPaymentRequired, gin.H{"success": false, "status": "unpaid"})
		case errors.Is(err, apperr.ErrInsufficientAmount):
			c.JSON(http.StatusPaymentRequired, gin.H{"success": false, "error": "Insufficient amount"})
		default:
			respondError(c, err)
		}
		return
	}

	first, err := h.store.ConsumePayment(ctx, body.hash(), purpose, roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !first {
		c.JSON(http.StatusOK, gin.H{"success": true, "duplicate": true})
		return
	}

	if err := h.apply(ctx, r, purpose); err != nil {
		// The room may have gone since the lookup; the payment stays unspent.
		if rerr := h.store.ReleasePayment(ctx, body.hash()); rerr != nil {
			logger.ForRoom(roomID).WithError(rerr).Error("Failed to release payment receipt")
		}
		respondError(c, err)
		return
	}
	logger.ForRoom(roomID).WithField("purpose", purpose).Info("Room payment applied")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *RoomHandler) apply(ctx context.Context, r *room.Room, purpose string) error {
	if purpose == PurposeUnlock {
		return r.Unlock(ctx)
	}
	_, err := r.Extend(ctx)
	return err
}
