package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/license"
	"github.com/scarlin90/signingroom/internal/logger"
	"github.com/scarlin90/signingroom/internal/payment"
	"github.com/scarlin90/signingroom/internal/sales"
	"github.com/scarlin90/signingroom/internal/storage"
	"github.com/scarlin90/signingroom/internal/storage/models"
)

const claimTTL = time.Hour

// errClaimPending means another request is minting the key for a payment.
var errClaimPending = errors.New("claim pending")

// LicenseHandler serves license sales, claims and rotation.
type LicenseHandler struct {
	licenses  *license.Manager
	sales     *sales.Counter
	oracle    payment.Oracle
	store     *storage.Store
	clock     clockwork.Clock
	publicURL string
}

func NewLicenseHandler(licenses *license.Manager, counter *sales.Counter, oracle payment.Oracle, store *storage.Store, clock clockwork.Clock, publicURL string) *LicenseHandler {
	return &LicenseHandler{
		licenses:  licenses,
		sales:     counter,
		oracle:    oracle,
		store:     store,
		clock:     clock,
		publicURL: publicURL,
	}
}

func licensePrice(t license.Type) (int64, string) {
	if t == license.Genesis {
		return payment.GenesisPriceMsat, payment.GenesisMemo
	}
	return payment.AnnualPriceMsat, payment.AnnualMemo
}

// Stock handles GET /api/license/stock.
func (h *LicenseHandler) Stock(c *gin.Context) {
	stock, err := h.sales.Stock(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sold":      stock.Sold,
		"remaining": stock.Remaining,
		"total":     sales.Cap,
	})
}

type buyRequest struct {
	Type string `json:"type"`
}

// Buy handles POST /api/license/buy.
func (h *LicenseHandler) Buy(c *gin.Context) {
	var req buyRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	t, err := license.ParseType(req.Type)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	if t == license.Genesis {
		if err := h.sales.Reserve(ctx); err != nil {
			if errors.Is(err, apperr.ErrSoldOut) {
				c.JSON(http.StatusGone, gin.H{"error": "Sold Out"})
				return
			}
			respondError(c, err)
			return
		}
	}
	if h.oracle == nil {
		respondError(c, apperr.ErrPaymentBackend)
		return
	}

	price, memo := licensePrice(t)
	inv, err := h.oracle.CreateInvoice(ctx, payment.InvoiceRequest{
		AmountSat: payment.MsatToSat(price),
		Memo:      memo,
		Webhook:   h.publicURL + "/api/webhook/license?" + url.Values{"type": {string(t)}}.Encode(),
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

// Webhook handles POST /api/webhook/license?type=, called by the oracle
// once a license invoice settles.
func (h *LicenseHandler) Webhook(c *gin.Context) {
	var body paymentBody
	if err := bindJSON(c, &body); err != nil {
		respondError(c, err)
		return
	}
	t, err := license.ParseType(c.Query("type"))
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := h.mint(c.Request.Context(), body.hash(), t); err != nil && !errors.Is(err, errClaimPending) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Claim handles GET /api/license/claim/:hash. Buyers poll it until the key
// for their payment is ready.
func (h *LicenseHandler) Claim(c *gin.Context) {
	ctx := c.Request.Context()
	hash := c.Param("hash")

	if key, err := h.store.Claim(ctx, hash, h.clock.Now()); err == nil {
		c.JSON(http.StatusOK, gin.H{"ready": true, "apiKey": key})
		return
	} else if !errors.Is(err, apperr.ErrNotFound) {
		respondError(c, err)
		return
	}

	if h.oracle == nil {
		respondError(c, apperr.ErrPaymentBackend)
		return
	}
	status, err := h.oracle.Lookup(ctx, hash)
	if err != nil {
		respondError(c, fmt.Errorf("failed to look up payment: %w", err))
		return
	}
	if !status.Paid {
		c.JSON(http.StatusOK, gin.H{"ready": false})
		return
	}

	t := license.Annual
	if payment.IsGenesisMemo(status.Memo) {
		t = license.Genesis
	}
	key, err := h.mint(ctx, hash, t)
	switch {
	case errors.Is(err, errClaimPending):
		c.JSON(http.StatusOK, gin.H{"ready": false})
	case errors.Is(err, apperr.ErrSoldOut):
		c.JSON(http.StatusGone, gin.H{"ready": false, "error": "Sold Out"})
	case err != nil:
		respondError(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"ready": true, "apiKey": key})
	}
}

// mint turns one verified payment into one license. The receipt makes the
// webhook and the polling claim agree on who mints, and its outcome tells
// later callers how the purchase ended.
func (h *LicenseHandler) mint(ctx context.Context, hash string, t license.Type) (string, error) {
	price, _ := licensePrice(t)
	if _, err := payment.Verify(ctx, h.oracle, hash, price); err != nil {
		return "", err
	}
	first, err := h.store.ConsumePayment(ctx, hash, "license", string(t))
	if err != nil {
		return "", err
	}
	if !first {
		return h.resume(ctx, hash, t)
	}

	if t == license.Genesis {
		if _, err := h.sales.Confirm(ctx); err != nil {
			log := logger.ForPayment(hash).WithError(err)
			if errors.Is(err, apperr.ErrSoldOut) {
				log.Error("Paid genesis purchase lost the last unit")
				if _, terr := h.store.TransitionPayment(ctx, hash, models.OutcomeApplying, models.OutcomeSoldOut); terr != nil {
					return "", terr
				}
				return "", err
			}
			log.Error("Paid genesis purchase could not be confirmed")
			if rerr := h.store.ReleasePayment(ctx, hash); rerr != nil {
				logger.ForPayment(hash).WithError(rerr).Error("Failed to release payment receipt")
			}
			return "", err
		}
	}
	return h.issue(ctx, hash, t)
}

// resume answers for a payment another caller already took up: the parked
// key, the sold-out verdict, or a retry of a mint that failed after the
// unit was counted.
func (h *LicenseHandler) resume(ctx context.Context, hash string, t license.Type) (string, error) {
	if key, err := h.store.Claim(ctx, hash, h.clock.Now()); err == nil {
		return key, nil
	}
	outcome, err := h.store.PaymentOutcome(ctx, hash)
	if err != nil {
		return "", err
	}
	switch outcome {
	case models.OutcomeSoldOut:
		return "", fmt.Errorf("payment %s: %w", hash, apperr.ErrSoldOut)
	case models.OutcomeConfirmed:
		retry, err := h.store.TransitionPayment(ctx, hash, models.OutcomeConfirmed, models.OutcomeApplying)
		if err != nil {
			return "", err
		}
		if retry {
			return h.issue(ctx, hash, t)
		}
	}
	return "", errClaimPending
}

// issue mints the license and parks its key. On failure the receipt is
// left confirmed so the next claim retries without counting the unit again.
func (h *LicenseHandler) issue(ctx context.Context, hash string, t license.Type) (string, error) {
	key, err := h.createAndPark(ctx, hash, t)
	if err != nil {
		if _, terr := h.store.TransitionPayment(ctx, hash, models.OutcomeApplying, models.OutcomeConfirmed); terr != nil {
			logger.ForPayment(hash).WithError(terr).Error("Failed to mark payment for retry")
		}
		return "", err
	}
	if _, err := h.store.TransitionPayment(ctx, hash, models.OutcomeApplying, models.OutcomeMinted); err != nil {
		logger.ForPayment(hash).WithError(err).Warn("Failed to record minted license")
	}
	return key, nil
}

func (h *LicenseHandler) createAndPark(ctx context.Context, hash string, t license.Type) (string, error) {
	lic, err := h.licenses.Create(ctx, t, "")
	if err != nil {
		return "", err
	}
	if err := h.store.PutClaim(ctx, hash, lic.ActiveKey, h.clock.Now().Add(claimTTL)); err != nil {
		return "", err
	}
	return lic.ActiveKey, nil
}

type rotateRequest struct {
	OldKey string `json:"oldKey"`
}

// Rotate handles POST /api/license/rotate.
func (h *LicenseHandler) Rotate(c *gin.Context) {
	var req rotateRequest
	if err := bindJSON(c, &req); err != nil || req.OldKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing key"})
		return
	}
	newKey, err := h.licenses.Rotate(c.Request.Context(), req.OldKey)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"newKey": newKey})
}
