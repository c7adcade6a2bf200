// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain defines the chain data collaborators the wallet resolves
// scripts and transactions against, and the batch algorithm that turns a
// window of descriptor indexes into resolved unspent outputs.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/hdpath"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrTxNotFound is returned by transaction resolvers for unknown
	// transactions.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrResolverMismatch is returned when a UTXO resolver answers with a
	// different number of sets than scripts it was asked for.
	ErrResolverMismatch = errors.New("utxo resolver returned wrong " +
		"number of sets")
)

// Utxo is an unspent output paying to a resolved script.
type Utxo struct {
	// OutPoint locates the output.
	OutPoint wire.OutPoint

	// Height is the confirmation height, or -1 when unconfirmed.
	Height int32

	// Amount is the output value.
	Amount btcutil.Amount
}

// UtxoResolver looks up the unspent outputs of output scripts.
type UtxoResolver interface {
	// ResolveUtxo returns one UTXO set per script, in script order.
	ResolveUtxo(ctx context.Context,
		scripts [][]byte) ([]fn.Set[Utxo], error)
}

// TxResolver looks up transactions by id.
type TxResolver interface {
	// ResolveTx returns the transaction with the given id. Unknown
	// transactions fail with a TxResolverError.
	ResolveTx(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx,
		error)
}

// TxResolverError is returned when a transaction can't be located.
type TxResolverError struct {
	// Txid is the transaction that was queried.
	Txid chainhash.Hash

	// Err is the underlying error, ErrTxNotFound if the resolver simply
	// doesn't know the transaction.
	Err error
}

// Error implements the error interface.
func (e *TxResolverError) Error() string {
	return fmt.Sprintf("unable to locate transaction %v: %v", e.Txid,
		e.Err)
}

// Unwrap returns the underlying error.
func (e *TxResolverError) Unwrap() error {
	return e.Err
}

// IndexOutOfRangeError is returned when a derivation window reaches past the
// last unhardened index.
type IndexOutOfRangeError struct {
	// From is the first index of the window.
	From hdpath.UnhardenedIndex

	// Offset is the first offset from From that is not an unhardened
	// index.
	Offset uint32
}

// Error implements the error interface.
func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("unable to derive index %v+%d which is out of "+
		"range for unhardened derivation", e.From, e.Offset)
}
