// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrMissingPrevOut is returned when an input spends an output index
	// its previous transaction doesn't have.
	ErrMissingPrevOut = errors.New("previous output does not exist")

	// ErrNegativeFee is returned when a transaction spends more than its
	// inputs are worth.
	ErrNegativeFee = errors.New("outputs exceed inputs")
)

// ResolveTxFee resolves a transaction and the fee it pays, computed from the
// previous outputs of its inputs. Coinbase transactions pay no fee and yield
// fn.None.
func ResolveTxFee(ctx context.Context, r TxResolver,
	txid chainhash.Hash) (*wire.MsgTx, fn.Option[btcutil.Amount], error) {

	none := fn.None[btcutil.Amount]()

	tx, err := r.ResolveTx(ctx, txid)
	if err != nil {
		return nil, none, err
	}

	if blockchain.IsCoinBaseTx(tx) {
		return tx, none, nil
	}

	prevTxs := make(map[chainhash.Hash]*wire.MsgTx)

	var inputs btcutil.Amount
	for _, txIn := range tx.TxIn {
		prevOut := txIn.PreviousOutPoint

		prevTx, ok := prevTxs[prevOut.Hash]
		if !ok {
			prevTx, err = r.ResolveTx(ctx, prevOut.Hash)
			if err != nil {
				return nil, none, err
			}
			prevTxs[prevOut.Hash] = prevTx
		}

		if prevOut.Index >= uint32(len(prevTx.TxOut)) {
			return nil, none, fmt.Errorf("%w: %v", ErrMissingPrevOut,
				prevOut)
		}

		inputs += btcutil.Amount(prevTx.TxOut[prevOut.Index].Value)
	}

	var outputs btcutil.Amount
	for _, txOut := range tx.TxOut {
		outputs += btcutil.Amount(txOut.Value)
	}

	if outputs > inputs {
		return nil, none, fmt.Errorf("%w: %v in, %v out", ErrNegativeFee,
			inputs, outputs)
	}

	return tx, fn.Some(inputs - outputs), nil
}
