package psbtkit

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
)

// Finalized is a fully signed transaction ready for broadcast.
type Finalized struct {
	TxID  string `json:"txid"`
	RawTx string `json:"rawTx"` // hex
}

// Finalize builds the final scripts for every input of a copy of p and
// extracts the network transaction.
func Finalize(p *psbt.Packet) (*Finalized, error) {
	work, err := clonePacket(p)
	if err != nil {
		return nil, err
	}

	for i := range work.Inputs {
		if err := prepareMultisig(&work.Inputs[i]); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}
	if err := psbt.MaybeFinalizeAll(work); err != nil {
		return nil, fmt.Errorf("finalize: %v: %w", err, ErrNotEnoughSignatures)
	}

	tx, err := psbt.Extract(work)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return &Finalized{
		TxID:  tx.TxHash().String(),
		RawTx: hex.EncodeToString(buf.Bytes()),
	}, nil
}

// prepareMultisig checks an M-of-N input has at least M signatures and drops
// any beyond M. The finalizer only accepts exactly M, while a room may
// collect more.
func prepareMultisig(in *psbt.PInput) error {
	if len(in.FinalScriptWitness) > 0 || len(in.FinalScriptSig) > 0 {
		return nil
	}
	script := in.WitnessScript
	if len(script) == 0 {
		script = in.RedeemScript
	}
	if txscript.GetScriptClass(script) != txscript.MultiSigTy {
		return nil
	}
	_, m, err := txscript.CalcMultiSigStats(script)
	if err != nil {
		return err
	}
	if len(in.PartialSigs) < m {
		return fmt.Errorf("%w: have %d of %d", ErrNotEnoughSignatures, len(in.PartialSigs), m)
	}
	in.PartialSigs = in.PartialSigs[:m]
	return nil
}

func clonePacket(p *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return nil, err
	}
	return parseBinary(buf.Bytes())
}
