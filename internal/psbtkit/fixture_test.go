package psbtkit

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

const (
	fixtureAmount = 100_000
	firstFP       = 0xa1b2c3d0
)

// multisig is an M-of-N P2WSH spend of a single 100k sat coin, paying the
// given outputs. The second output, if any, goes back to the multisig and
// carries a change derivation.
type multisig struct {
	keys     []*btcec.PrivateKey
	script   []byte
	pkScript []byte
	base     *psbt.Packet
}

func bip48Path(branch, index uint32) []uint32 {
	return []uint32{hardened + 48, hardened + 1, hardened + 0, hardened + 2, branch, index}
}

func newMultisig(t *testing.T, m, n int, outputs ...int64) *multisig {
	t.Helper()
	f := &multisig{}

	b := txscript.NewScriptBuilder().AddInt64(int64(m))
	for i := 0; i < n; i++ {
		seed := sha256.Sum256([]byte(fmt.Sprintf("signer-%d", i)))
		priv, _ := btcec.PrivKeyFromBytes(seed[:])
		f.keys = append(f.keys, priv)
		b.AddData(priv.PubKey().SerializeCompressed())
	}
	b.AddInt64(int64(n)).AddOp(txscript.OP_CHECKMULTISIG)

	var err error
	f.script, err = b.Script()
	require.NoError(t, err)
	h := sha256.Sum256(f.script)
	f.pkScript, err = txscript.NewScriptBuilder().AddOp(txscript.OP_0).AddData(h[:]).Script()
	require.NoError(t, err)

	payTo, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(bytes.Repeat([]byte{0x02}, 20)).Script()
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 1}, nil, nil))
	for i, amt := range outputs {
		script := payTo
		if i == 1 {
			script = f.pkScript
		}
		tx.AddTxOut(wire.NewTxOut(amt, script))
	}

	f.base, err = psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	in := &f.base.Inputs[0]
	in.WitnessUtxo = wire.NewTxOut(fixtureAmount, f.pkScript)
	in.WitnessScript = f.script
	for i, k := range f.keys {
		in.Bip32Derivation = append(in.Bip32Derivation, &psbt.Bip32Derivation{
			PubKey:               k.PubKey().SerializeCompressed(),
			MasterKeyFingerprint: firstFP + uint32(i),
			Bip32Path:            bip48Path(0, 0),
		})
	}
	if len(outputs) > 1 {
		f.base.Outputs[1].Bip32Derivation = []*psbt.Bip32Derivation{{
			PubKey:               f.keys[0].PubKey().SerializeCompressed(),
			MasterKeyFingerprint: firstFP,
			Bip32Path:            bip48Path(1, 0),
		}}
	}
	return f
}

func (f *multisig) b64(t *testing.T) string {
	t.Helper()
	s, err := f.base.B64Encode()
	require.NoError(t, err)
	return s
}

// signed returns the base PSBT carrying the signatures of the given signers.
func (f *multisig) signed(t *testing.T, signers ...int) string {
	t.Helper()
	p, err := clonePacket(f.base)
	require.NoError(t, err)

	fetcher := txscript.NewCannedPrevOutputFetcher(f.pkScript, fixtureAmount)
	hashes := txscript.NewTxSigHashes(p.UnsignedTx, fetcher)
	for _, i := range signers {
		sig, err := txscript.RawTxInWitnessSignature(
			p.UnsignedTx, hashes, 0, fixtureAmount, f.script, txscript.SigHashAll, f.keys[i],
		)
		require.NoError(t, err)
		p.Inputs[0].PartialSigs = append(p.Inputs[0].PartialSigs, &psbt.PartialSig{
			PubKey:    f.keys[i].PubKey().SerializeCompressed(),
			Signature: sig,
		})
	}

	s, err := p.B64Encode()
	require.NoError(t, err)
	return s
}

func mustParse(t *testing.T, s string) *psbt.Packet {
	t.Helper()
	p, err := Parse(s)
	require.NoError(t, err)
	return p
}
