package psbtkit

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

const (
	// DustLimit is the smallest output value, in satoshis, that standard
	// relay policy accepts.
	DustLimit = 546

	// MaxFreeSigners is how many distinct signers an unlicensed free room
	// may involve.
	MaxFreeSigners = 3

	highFeeRate    = 100  // sat/vB
	highFeePercent = 0.05 // of the value sent

	hardened      = 0x80000000
	coinMainnet   = hardened + 0
	coinTestnet   = hardened + 1
	changeBranch  = 1
	networkUnsure = "unknown"
)

// Analysis is the pre-flight summary shown before a room is created.
type Analysis struct {
	InputCount      int    `json:"inputCount"`
	OutputCount     int    `json:"outputCount"`
	SignerCount     int    `json:"signerCount"`
	TotalInput      int64  `json:"totalInput"`
	TotalOutput     int64  `json:"totalOutput"`
	Fee             int64  `json:"fee"`
	DetectedNetwork string `json:"detectedNetwork"` // mainnet, testnet or unknown
}

// Analyze totals the transaction, rejects dust and guesses the network from
// derivation coin types. Fees are only known when every input value is
// known through its witness UTXO.
func Analyze(p *psbt.Packet) (*Analysis, error) {
	a := &Analysis{
		InputCount:  len(p.Inputs),
		OutputCount: len(p.UnsignedTx.TxOut),
	}

	fingerprints := make(map[uint32]struct{})
	score := 0
	for i := range p.Inputs {
		in := &p.Inputs[i]
		if in.WitnessUtxo != nil {
			a.TotalInput += in.WitnessUtxo.Value
		}
		for _, d := range in.Bip32Derivation {
			if d.MasterKeyFingerprint != 0 {
				fingerprints[d.MasterKeyFingerprint] = struct{}{}
			}
			score += coinTypeScore(d.Bip32Path)
		}
		for _, d := range in.TaprootBip32Derivation {
			if d.MasterKeyFingerprint != 0 {
				fingerprints[d.MasterKeyFingerprint] = struct{}{}
			}
			score += coinTypeScore(d.Bip32Path)
		}
	}

	for i, out := range p.UnsignedTx.TxOut {
		a.TotalOutput += out.Value
		if out.Value < DustLimit {
			return nil, fmt.Errorf("%w: output #%d is %d sats", ErrDustOutput, i, out.Value)
		}
	}

	if a.TotalInput > 0 {
		a.Fee = max(0, a.TotalInput-a.TotalOutput)
	}
	a.SignerCount = max(1, len(fingerprints))

	switch {
	case score > 0:
		a.DetectedNetwork = "testnet"
	case score < 0:
		a.DetectedNetwork = "mainnet"
	default:
		a.DetectedNetwork = networkUnsure
	}
	return a, nil
}

func coinTypeScore(path []uint32) int {
	if len(path) < 2 {
		return 0
	}
	switch path[1] {
	case coinMainnet:
		return -1
	case coinTestnet:
		return 1
	}
	return 0
}

// isChangeOutput reports whether the wallet marked output i as change: a
// derivation on the internal branch, i.e. .../1/n.
func isChangeOutput(p *psbt.Packet, i int) bool {
	if i >= len(p.Outputs) {
		return false
	}
	out := &p.Outputs[i]
	for _, d := range out.Bip32Derivation {
		if isChangePath(d.Bip32Path) {
			return true
		}
	}
	for _, d := range out.TaprootBip32Derivation {
		if isChangePath(d.Bip32Path) {
			return true
		}
	}
	return false
}

func isChangePath(path []uint32) bool {
	return len(path) >= 2 && path[len(path)-2] == changeBranch
}

// EstimatedVBytes approximates the signed size from the signer and output
// counts.
func (a *Analysis) EstimatedVBytes() int64 {
	return int64(a.SignerCount)*68 + int64(a.OutputCount)*31 + 10
}

// IsHighFee flags a fee rate above 100 sat/vB or a fee above 5% of the
// value sent.
func (a *Analysis) IsHighFee() bool {
	if a.Fee == 0 {
		return false
	}
	if float64(a.Fee)/float64(a.EstimatedVBytes()) > highFeeRate {
		return true
	}
	return a.TotalOutput > 0 && float64(a.Fee)/float64(a.TotalOutput) > highFeePercent
}

// NetworkMismatch reports whether the detected network contradicts the one
// the room is being created for. Signet counts as a test network.
func (a *Analysis) NetworkMismatch(selected string) bool {
	switch a.DetectedNetwork {
	case "mainnet":
		return selected == "testnet" || selected == "signet"
	case "testnet":
		return selected == "mainnet" || selected == "bitcoin"
	}
	return false
}

// CheckSignerLimit enforces the free tier's signer cap. Paid tiers and
// license holders are not limited.
func CheckSignerLimit(a *Analysis, tier string, hasLicense bool) error {
	if hasLicense || (tier != "" && tier != "free") {
		return nil
	}
	if a.SignerCount > MaxFreeSigners {
		return fmt.Errorf("%w: %d signers, free rooms allow %d",
			ErrSignerLimitExceeded, a.SignerCount, MaxFreeSigners)
	}
	return nil
}
