package psbtkit

import (
	"errors"
	"fmt"

	"github.com/scarlin90/signingroom/internal/apperr"
)

var (
	// ErrRawTransaction is returned when the input is a plain serialized
	// transaction rather than a PSBT.
	ErrRawTransaction = fmt.Errorf("raw transaction given, a PSBT is required: %w",
		apperr.ErrParseFailure)

	// ErrInvalidPsbt is returned when the input cannot be parsed as a PSBT
	// in either hex or base64 form.
	ErrInvalidPsbt = fmt.Errorf("invalid psbt: %w", apperr.ErrParseFailure)

	// ErrDifferentTransactions is returned when two PSBTs do not spend
	// and create exactly the same unsigned transaction.
	ErrDifferentTransactions = errors.New(
		"psbts do not refer to the same transaction",
	)

	// ErrMergeConflict is returned when two PSBTs carry different values
	// for a field that cannot be merged, such as a witness script.
	ErrMergeConflict = errors.New("psbt merge conflict")

	// ErrDustOutput is returned by Analyze when a spend output is below
	// the dust limit.
	ErrDustOutput = errors.New("output below dust limit")

	ErrThresholdUnknown    = apperr.ErrThresholdUnknown
	ErrNotEnoughSignatures = apperr.ErrNotEnoughSignatures
	ErrSignerLimitExceeded = apperr.ErrSignerLimitExceeded
)
