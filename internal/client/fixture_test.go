package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/scarlin90/signingroom/api"
	"github.com/scarlin90/signingroom/internal/config"
	"github.com/scarlin90/signingroom/internal/license"
	"github.com/scarlin90/signingroom/internal/payment"
	"github.com/scarlin90/signingroom/internal/room"
	"github.com/scarlin90/signingroom/internal/sales"
	"github.com/scarlin90/signingroom/internal/storage"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	api    *API
	hub    *room.Hub
	oracle *payment.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	licenses := license.NewManager(store, clock)
	counter, err := sales.NewCounter(context.Background(), store)
	require.NoError(t, err)
	t.Cleanup(counter.Close)
	hub := room.NewHub(store, licenses, clock)
	oracle := payment.NewMemory()

	srv := httptest.NewServer(api.SetupRouter(api.Deps{
		Server:   config.ServerConfig{PublicURL: "https://api.signingroom.test"},
		Store:    store,
		Hub:      hub,
		Licenses: licenses,
		Sales:    counter,
		Oracle:   oracle,
		Clock:    clock,
	}))
	// The hub closes sessions before the listener goes away.
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Shutdown)

	a := NewAPI(srv.URL)
	a.pollInterval = 5 * time.Millisecond
	return &testServer{api: a, hub: hub, oracle: oracle}
}

// session starts a Session and waits for its first state sync.
func (s *testServer) session(t *testing.T, cfg SessionConfig) (*Session, <-chan error) {
	t.Helper()
	sess, done := start(t, cfg)
	require.Eventually(t, sess.Synced, 2*time.Second, 5*time.Millisecond)
	return sess, done
}

// start runs a Session until the test ends and returns it with a channel
// carrying Run's result.
func start(t *testing.T, cfg SessionConfig) (*Session, <-chan error) {
	t.Helper()
	cfg.ReconnectDelay = 20 * time.Millisecond
	sess := NewSession(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- sess.Run(ctx)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return sess, done
}

const (
	hardened      = 0x80000000
	fixtureAmount = 100_000
	firstFP       = 0xa1b2c3d0
)

// multisig is an M-of-N P2WSH testnet spend of one 100k sat coin. The
// second output, if any, is change back to the multisig.
type multisig struct {
	keys     []*btcec.PrivateKey
	script   []byte
	pkScript []byte
	base     *psbt.Packet
}

func newMultisig(t *testing.T, m, n int, outputs ...int64) *multisig {
	t.Helper()
	f := &multisig{}

	b := txscript.NewScriptBuilder().AddInt64(int64(m))
	for i := 0; i < n; i++ {
		seed := sha256.Sum256([]byte(fmt.Sprintf("cosigner-%d", i)))
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
		AddOp(txscript.OP_0).AddData(bytes.Repeat([]byte{0x03}, 20)).Script()
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 0}, nil, nil))
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
	path := []uint32{hardened + 48, hardened + 1, hardened + 0, hardened + 2, 0, 0}
	for i, k := range f.keys {
		in.Bip32Derivation = append(in.Bip32Derivation, &psbt.Bip32Derivation{
			PubKey:               k.PubKey().SerializeCompressed(),
			MasterKeyFingerprint: firstFP + uint32(i),
			Bip32Path:            path,
		})
	}
	if len(outputs) > 1 {
		change := []uint32{hardened + 48, hardened + 1, hardened + 0, hardened + 2, 1, 0}
		f.base.Outputs[1].Bip32Derivation = []*psbt.Bip32Derivation{{
			PubKey:               f.keys[0].PubKey().SerializeCompressed(),
			MasterKeyFingerprint: firstFP,
			Bip32Path:            change,
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
	var buf bytes.Buffer
	require.NoError(t, f.base.Serialize(&buf))
	p, err := psbt.NewFromRawBytes(&buf, false)
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
