// Package apperr holds the error taxonomy shared by the room actor, the
// client side of the protocol and the HTTP surface.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrRoomFull               = errors.New("room is full")
	ErrLocked                 = errors.New("room is locked")
	ErrRoomClosed             = errors.New("room was closed")
	ErrDecryptionFailure      = errors.New("decryption failed")
	ErrPaymentUnverified      = errors.New("payment not verified")
	ErrInsufficientAmount     = errors.New("insufficient amount")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrPayloadTooLarge        = errors.New("payload too large")
	ErrSignatureLimitExceeded = errors.New("signature limit reached")
	ErrParseFailure           = errors.New("malformed transaction data")
	ErrSoldOut                = errors.New("sold out")
	ErrInvalidLicense         = errors.New("invalid license key")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrSignerLimitExceeded    = errors.New("signer limit exceeded for tier")
	ErrThresholdUnknown       = errors.New("signature threshold unknown")
	ErrNotEnoughSignatures    = errors.New("not enough signatures")
	ErrPaymentBackend         = errors.New("no payment backend configured")
	ErrBadRequest             = errors.New("bad request")
)

// HTTPStatus maps an error from the taxonomy to the status code the API
// answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRoomFull):
		return http.StatusConflict
	case errors.Is(err, ErrLocked):
		return http.StatusLocked
	case errors.Is(err, ErrRoomClosed), errors.Is(err, ErrSoldOut):
		return http.StatusGone
	case errors.Is(err, ErrPaymentUnverified), errors.Is(err, ErrInsufficientAmount):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidLicense), errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrParseFailure),
		errors.Is(err, ErrDecryptionFailure), errors.Is(err, ErrSignerLimitExceeded),
		errors.Is(err, ErrSignatureLimitExceeded):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
