package psbtkit

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// InputDetail describes one spent outpoint.
type InputDetail struct {
	TxID    string `json:"txId"`
	Vout    uint32 `json:"vout"`
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// OutputDetail describes one created output.
type OutputDetail struct {
	Address  string `json:"address"`
	Amount   int64  `json:"amount"`
	IsChange bool   `json:"isChange"`
}

// TxDetails is the human-readable view of a PSBT that signers verify
// before signing.
type TxDetails struct {
	Inputs      []InputDetail  `json:"inputs"`
	Outputs     []OutputDetail `json:"outputs"`
	TotalInput  int64          `json:"totalInput"`
	TotalOutput int64          `json:"totalOutput"`
	Fee         int64          `json:"fee"`
	VBytes      int64          `json:"vBytes"`
	FeeRate     float64        `json:"feeRate"`
}

// ParamsFor maps a room network name to chain parameters.
func ParamsFor(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "bitcoin", "":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	}
	return nil, fmt.Errorf("unknown network %q", network)
}

// Details renders inputs and outputs with addresses for the given network.
func Details(p *psbt.Packet, network string) (*TxDetails, error) {
	params, err := ParamsFor(network)
	if err != nil {
		return nil, err
	}

	d := &TxDetails{}
	allKnown := true
	for i, txIn := range p.UnsignedTx.TxIn {
		in := InputDetail{
			TxID: txIn.PreviousOutPoint.Hash.String(),
			Vout: txIn.PreviousOutPoint.Index,
		}
		if prev := prevOutput(p, i); prev != nil {
			in.Amount = prev.Value
			in.Address = scriptAddress(prev.PkScript, params)
			d.TotalInput += prev.Value
		} else {
			allKnown = false
		}
		d.Inputs = append(d.Inputs, in)
	}

	for i, txOut := range p.UnsignedTx.TxOut {
		d.Outputs = append(d.Outputs, OutputDetail{
			Address:  scriptAddress(txOut.PkScript, params),
			Amount:   txOut.Value,
			IsChange: isChangeOutput(p, i),
		})
		d.TotalOutput += txOut.Value
	}

	if allKnown {
		d.Fee = max(0, d.TotalInput-d.TotalOutput)
	}
	d.VBytes = 10 + int64(len(d.Inputs))*100 + int64(len(d.Outputs))*31
	d.FeeRate = math.Round(float64(d.Fee)/float64(d.VBytes)*100) / 100
	return d, nil
}

// prevOutput finds the output spent by input i from whichever UTXO record
// the PSBT carries.
func prevOutput(p *psbt.Packet, i int) *wire.TxOut {
	if i >= len(p.Inputs) {
		return nil
	}
	in := &p.Inputs[i]
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo
	}
	if in.NonWitnessUtxo != nil {
		idx := p.UnsignedTx.TxIn[i].PreviousOutPoint.Index
		if int(idx) < len(in.NonWitnessUtxo.TxOut) {
			return in.NonWitnessUtxo.TxOut[idx]
		}
	}
	return nil
}

func scriptAddress(pkScript []byte, params *chaincfg.Params) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return hex.EncodeToString(pkScript)
	}
	return addrs[0].EncodeAddress()
}
