package psbtkit

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
)

// SignerStatus reports whether the key holder behind a master fingerprint
// has contributed a signature yet.
type SignerStatus struct {
	Fingerprint string `json:"fingerprint"`
	Signed      bool   `json:"signed"`
}

// FormatFingerprint renders a master key fingerprint the way wallets print
// it: the four fingerprint bytes as eight hex characters.
func FormatFingerprint(fp uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], fp)
	return hex.EncodeToString(b[:])
}

// ExtractSigners lists every master fingerprint named in the input
// derivations, in first-seen order, with its signed state.
func ExtractSigners(p *psbt.Packet) []SignerStatus {
	var order []string
	signed := make(map[string]bool)

	note := func(fp uint32, isSigned bool) {
		if fp == 0 {
			return
		}
		key := FormatFingerprint(fp)
		if _, seen := signed[key]; !seen {
			order = append(order, key)
		}
		signed[key] = signed[key] || isSigned
	}

	for i := range p.Inputs {
		in := &p.Inputs[i]
		for _, d := range in.Bip32Derivation {
			note(d.MasterKeyFingerprint, hasSignatureFor(in, d.PubKey))
		}
		for _, d := range in.TaprootBip32Derivation {
			isSigned := hasSignatureFor(in, d.XOnlyPubKey) ||
				(len(d.LeafHashes) == 0 && len(in.TaprootKeySpendSig) > 0)
			note(d.MasterKeyFingerprint, isSigned)
		}
	}

	out := make([]SignerStatus, 0, len(order))
	for _, fp := range order {
		out = append(out, SignerStatus{Fingerprint: fp, Signed: signed[fp]})
	}
	return out
}

func hasSignatureFor(in *psbt.PInput, pubKey []byte) bool {
	for _, s := range in.PartialSigs {
		if KeysEqual(s.PubKey, pubKey) {
			return true
		}
	}
	for _, s := range in.TaprootScriptSpendSig {
		if KeysEqual(s.XOnlyPubKey, pubKey) {
			return true
		}
	}
	return false
}

// KeysEqual compares two public keys in any of the compressed, uncompressed
// or x-only forms by their x coordinate.
func KeysEqual(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	return bytes.Equal(xOnly(a), xOnly(b))
}

func xOnly(k []byte) []byte {
	switch len(k) {
	case 33:
		return k[1:]
	case 65:
		return k[1:33]
	default:
		return k
	}
}

// Fingerprint returns the first master fingerprint found in the input
// derivations, used to attribute an uploaded partial to its signer.
func Fingerprint(p *psbt.Packet) (string, bool) {
	for i := range p.Inputs {
		for _, d := range p.Inputs[i].Bip32Derivation {
			if d.MasterKeyFingerprint != 0 {
				return FormatFingerprint(d.MasterKeyFingerprint), true
			}
		}
		for _, d := range p.Inputs[i].TaprootBip32Derivation {
			if d.MasterKeyFingerprint != 0 {
				return FormatFingerprint(d.MasterKeyFingerprint), true
			}
		}
	}
	return "", false
}

// Threshold reads M from a bare M-of-N script on the first input, taking the
// witness script over the redeem script. Zero means unknown.
func Threshold(p *psbt.Packet) int {
	if len(p.Inputs) == 0 {
		return 0
	}
	script := p.Inputs[0].WitnessScript
	if len(script) == 0 {
		script = p.Inputs[0].RedeemScript
	}
	if len(script) == 0 {
		return 0
	}
	if op := script[0]; op >= txscript.OP_1 && op <= txscript.OP_16 {
		return int(op-txscript.OP_1) + 1
	}
	return 0
}

// SignedCount is the number of distinct signers that have signed.
func SignedCount(signers []SignerStatus) int {
	n := 0
	for _, s := range signers {
		if s.Signed {
			n++
		}
	}
	return n
}
