// Package psbtkit is the client-side PSBT toolkit: input normalization, the
// BIP174 combiner used to fold partial signatures together, signer and
// threshold inspection, pre-flight analysis and finalization.
package psbtkit

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

const (
	psbtMagicHex = "70736274"
	psbtMagic    = "psbt\xff"
)

var rawTxPrefixes = []string{"01000000", "02000000"}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return s != ""
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// Parse reads a PSBT given as hex or base64 text. Whitespace anywhere in the
// input is ignored. Text is treated as hex only when it is entirely hex and
// starts with the PSBT magic.
func Parse(raw string) (*psbt.Packet, error) {
	clean := stripSpace(raw)
	if clean == "" {
		return nil, fmt.Errorf("empty input: %w", ErrInvalidPsbt)
	}

	if isHex(clean) {
		lower := strings.ToLower(clean)
		for _, prefix := range rawTxPrefixes {
			if strings.HasPrefix(lower, prefix) {
				return nil, ErrRawTransaction
			}
		}
		if strings.HasPrefix(lower, psbtMagicHex) {
			b, err := hex.DecodeString(clean)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", err, ErrInvalidPsbt)
			}
			return parseBinary(b)
		}
	}

	p, err := psbt.NewFromRawBytes(strings.NewReader(clean), true)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidPsbt)
	}
	return p, nil
}

// ParseBytes reads a PSBT from file contents, which may be the binary
// encoding or either text form.
func ParseBytes(b []byte) (*psbt.Packet, error) {
	if bytes.HasPrefix(b, []byte(psbtMagic)) {
		return parseBinary(b)
	}
	return Parse(string(b))
}

func parseBinary(b []byte) (*psbt.Packet, error) {
	p, err := psbt.NewFromRawBytes(bytes.NewReader(b), false)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidPsbt)
	}
	return p, nil
}

// Encode returns the base64 form of p.
func Encode(p *psbt.Packet) (string, error) {
	return p.B64Encode()
}

// Decode normalizes a hex or base64 PSBT to base64.
func Decode(raw string) (string, error) {
	p, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return Encode(p)
}

// DecodeBytes normalizes PSBT file contents to base64.
func DecodeBytes(b []byte) (string, error) {
	p, err := ParseBytes(b)
	if err != nil {
		return "", err
	}
	return Encode(p)
}
