package psbtkit

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// Combine merges two PSBTs for the same transaction and returns the result
// in base64. Either argument may be hex or base64.
//
// Every repeated field is merged as a set and written in a fixed order, and
// two values for the same key resolve to the byte-wise smaller one. The
// result therefore does not depend on the order partial contributions
// arrive in, nor on how often the same one is applied.
func Combine(base, next string) (string, error) {
	a, err := Parse(base)
	if err != nil {
		return "", fmt.Errorf("base: %w", err)
	}
	b, err := Parse(next)
	if err != nil {
		return "", fmt.Errorf("next: %w", err)
	}
	combined, err := CombinePackets(a, b)
	if err != nil {
		return "", err
	}
	return Encode(combined)
}

// CombinePackets is the BIP174 combiner over parsed packets. The inputs are
// not modified.
func CombinePackets(packets ...*psbt.Packet) (*psbt.Packet, error) {
	combined, err := validateMerge(packets)
	if err != nil {
		return nil, err
	}

	for _, p := range packets {
		combined.Unknowns = unionUnknowns(combined.Unknowns, p.Unknowns)

		for j := range combined.Inputs {
			if err := mergeInputs(&combined.Inputs[j], &p.Inputs[j]); err != nil {
				return nil, fmt.Errorf("input %d merge failed: %w", j, err)
			}
		}
		for j := range combined.Outputs {
			if err := mergeOutputs(&combined.Outputs[j], &p.Outputs[j]); err != nil {
				return nil, fmt.Errorf("output %d merge failed: %w", j, err)
			}
		}
	}

	return combined, nil
}

// validateMerge checks that the packets describe one transaction and returns
// an empty packet shaped like it.
func validateMerge(packets []*psbt.Packet) (*psbt.Packet, error) {
	if len(packets) == 0 {
		return nil, fmt.Errorf("no psbts to combine: %w", ErrInvalidPsbt)
	}

	base := packets[0]
	baseHash := base.UnsignedTx.TxHash()
	for i, p := range packets[1:] {
		if p.UnsignedTx.TxHash() != baseHash {
			return nil, fmt.Errorf("%w: packet index %d", ErrDifferentTransactions, i+1)
		}
		if len(p.Inputs) != len(base.Inputs) || len(p.Outputs) != len(base.Outputs) {
			return nil, fmt.Errorf("%w: packet index %d has a different shape",
				ErrDifferentTransactions, i+1)
		}
	}

	return &psbt.Packet{
		UnsignedTx: base.UnsignedTx.Copy(),
		Inputs:     make([]psbt.PInput, len(base.Inputs)),
		Outputs:    make([]psbt.POutput, len(base.Outputs)),
	}, nil
}

func mergeInputs(dest, src *psbt.PInput) error {
	var err error

	if dest.SighashType != 0 && src.SighashType != 0 && dest.SighashType != src.SighashType {
		return fmt.Errorf("%w: sighash type mismatch %v vs %v",
			ErrMergeConflict, dest.SighashType, src.SighashType)
	}
	if dest.SighashType == 0 {
		dest.SighashType = src.SighashType
	}

	if dest.RedeemScript, err = mergeField("redeem script", dest.RedeemScript, src.RedeemScript); err != nil {
		return err
	}
	if dest.WitnessScript, err = mergeField("witness script", dest.WitnessScript, src.WitnessScript); err != nil {
		return err
	}
	if dest.FinalScriptSig, err = mergeField("final script sig", dest.FinalScriptSig, src.FinalScriptSig); err != nil {
		return err
	}
	if dest.FinalScriptWitness, err = mergeField("final script witness", dest.FinalScriptWitness, src.FinalScriptWitness); err != nil {
		return err
	}
	if dest.TaprootKeySpendSig, err = mergeField("taproot key spend sig", dest.TaprootKeySpendSig, src.TaprootKeySpendSig); err != nil {
		return err
	}
	if dest.TaprootInternalKey, err = mergeField("taproot internal key", dest.TaprootInternalKey, src.TaprootInternalKey); err != nil {
		return err
	}
	if dest.TaprootMerkleRoot, err = mergeField("taproot merkle root", dest.TaprootMerkleRoot, src.TaprootMerkleRoot); err != nil {
		return err
	}

	if err := mergeWitnessUtxo(dest, src); err != nil {
		return err
	}
	if err := mergeNonWitnessUtxo(dest, src); err != nil {
		return err
	}

	dest.PartialSigs = union(dest.PartialSigs, src.PartialSigs,
		func(s *psbt.PartialSig) []byte { return s.PubKey },
		func(x, y *psbt.PartialSig) int { return bytes.Compare(x.Signature, y.Signature) },
	)
	dest.Bip32Derivation = unionDerivations(dest.Bip32Derivation, src.Bip32Derivation)
	dest.TaprootBip32Derivation = unionTaprootDerivations(
		dest.TaprootBip32Derivation, src.TaprootBip32Derivation,
	)
	dest.TaprootScriptSpendSig = union(dest.TaprootScriptSpendSig, src.TaprootScriptSpendSig,
		func(s *psbt.TaprootScriptSpendSig) []byte {
			return append(slices.Clip(s.XOnlyPubKey), s.LeafHash...)
		},
		func(x, y *psbt.TaprootScriptSpendSig) int {
			if c := bytes.Compare(x.Signature, y.Signature); c != 0 {
				return c
			}
			return cmp.Compare(x.SigHash, y.SigHash)
		},
	)
	dest.TaprootLeafScript = union(dest.TaprootLeafScript, src.TaprootLeafScript,
		func(s *psbt.TaprootTapLeafScript) []byte { return s.ControlBlock },
		func(x, y *psbt.TaprootTapLeafScript) int {
			if c := bytes.Compare(x.Script, y.Script); c != 0 {
				return c
			}
			return cmp.Compare(x.LeafVersion, y.LeafVersion)
		},
	)
	dest.Unknowns = unionUnknowns(dest.Unknowns, src.Unknowns)

	return nil
}

func mergeOutputs(dest, src *psbt.POutput) error {
	var err error

	if dest.RedeemScript, err = mergeField("redeem script", dest.RedeemScript, src.RedeemScript); err != nil {
		return err
	}
	if dest.WitnessScript, err = mergeField("witness script", dest.WitnessScript, src.WitnessScript); err != nil {
		return err
	}
	if dest.TaprootInternalKey, err = mergeField("taproot internal key", dest.TaprootInternalKey, src.TaprootInternalKey); err != nil {
		return err
	}
	if dest.TaprootTapTree, err = mergeField("taproot tap tree", dest.TaprootTapTree, src.TaprootTapTree); err != nil {
		return err
	}

	dest.Bip32Derivation = unionDerivations(dest.Bip32Derivation, src.Bip32Derivation)
	dest.TaprootBip32Derivation = unionTaprootDerivations(
		dest.TaprootBip32Derivation, src.TaprootBip32Derivation,
	)
	dest.Unknowns = unionUnknowns(dest.Unknowns, src.Unknowns)

	return nil
}

// mergeField keeps whichever side is set and fails when both are set to
// different values.
func mergeField(name string, dest, src []byte) ([]byte, error) {
	if len(dest) > 0 && len(src) > 0 && !bytes.Equal(dest, src) {
		return nil, fmt.Errorf("%w: %s mismatch", ErrMergeConflict, name)
	}
	if len(dest) == 0 {
		return src, nil
	}
	return dest, nil
}

func mergeWitnessUtxo(dest, src *psbt.PInput) error {
	if dest.WitnessUtxo != nil && src.WitnessUtxo != nil {
		if dest.WitnessUtxo.Value != src.WitnessUtxo.Value ||
			!bytes.Equal(dest.WitnessUtxo.PkScript, src.WitnessUtxo.PkScript) {

			return fmt.Errorf("%w: witness utxo mismatch", ErrMergeConflict)
		}
	}
	if dest.WitnessUtxo == nil {
		dest.WitnessUtxo = src.WitnessUtxo
	}
	return nil
}

func mergeNonWitnessUtxo(dest, src *psbt.PInput) error {
	switch {
	case src.NonWitnessUtxo == nil:
		return nil
	case dest.NonWitnessUtxo == nil:
		dest.NonWitnessUtxo = src.NonWitnessUtxo
		return nil
	case dest.NonWitnessUtxo.TxHash() != src.NonWitnessUtxo.TxHash():
		return fmt.Errorf("%w: non-witness utxo mismatch", ErrMergeConflict)
	}
	// Same txid, possibly different witness data: keep one deterministically.
	if bytes.Compare(txBytes(src.NonWitnessUtxo), txBytes(dest.NonWitnessUtxo)) < 0 {
		dest.NonWitnessUtxo = src.NonWitnessUtxo
	}
	return nil
}

func txBytes(tx *wire.MsgTx) []byte {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	return buf.Bytes()
}

func unionDerivations(a, b []*psbt.Bip32Derivation) []*psbt.Bip32Derivation {
	return union(a, b,
		func(d *psbt.Bip32Derivation) []byte { return d.PubKey },
		func(x, y *psbt.Bip32Derivation) int {
			if c := cmp.Compare(x.MasterKeyFingerprint, y.MasterKeyFingerprint); c != 0 {
				return c
			}
			return slices.Compare(x.Bip32Path, y.Bip32Path)
		},
	)
}

func unionTaprootDerivations(a, b []*psbt.TaprootBip32Derivation) []*psbt.TaprootBip32Derivation {
	return union(a, b,
		func(d *psbt.TaprootBip32Derivation) []byte { return d.XOnlyPubKey },
		func(x, y *psbt.TaprootBip32Derivation) int {
			if c := cmp.Compare(x.MasterKeyFingerprint, y.MasterKeyFingerprint); c != 0 {
				return c
			}
			if c := slices.Compare(x.Bip32Path, y.Bip32Path); c != 0 {
				return c
			}
			return slices.CompareFunc(x.LeafHashes, y.LeafHashes, bytes.Compare)
		},
	)
}

func unionUnknowns(a, b []*psbt.Unknown) []*psbt.Unknown {
	return union(a, b,
		func(u *psbt.Unknown) []byte { return u.Key },
		func(x, y *psbt.Unknown) int { return bytes.Compare(x.Value, y.Value) },
	)
}

// union merges two keyed sets. Entries sharing a key collapse to the one
// that orders first under pick; the result is sorted by key.
func union[T any](a, b []T, key func(T) []byte, pick func(x, y T) int) []T {
	byKey := make(map[string]T, len(a)+len(b))
	for _, set := range [][]T{a, b} {
		for _, v := range set {
			k := string(key(v))
			if cur, ok := byKey[k]; !ok || pick(v, cur) < 0 {
				byKey[k] = v
			}
		}
	}
	if len(byKey) == 0 {
		return nil
	}

	out := make([]T, 0, len(byKey))
	for _, v := range byKey {
		out = append(out, v)
	}
	slices.SortFunc(out, func(x, y T) int {
		return bytes.Compare(key(x), key(y))
	})
	return out
}
