// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// MemResolver is an in-memory transaction graph implementing both
// UtxoResolver and TxResolver. It is safe for concurrent use.
type MemResolver struct {
	mu sync.RWMutex

	txs     map[chainhash.Hash]*wire.MsgTx
	heights map[chainhash.Hash]int32

	// outputs indexes the outpoints paying to each script.
	outputs map[string][]wire.OutPoint

	// spent maps spent outpoints to the spending transaction.
	spent map[wire.OutPoint]chainhash.Hash
}

// A compile-time assertion to ensure MemResolver implements both resolvers.
var (
	_ UtxoResolver = (*MemResolver)(nil)
	_ TxResolver   = (*MemResolver)(nil)
)

// NewMemResolver returns an empty in-memory resolver.
func NewMemResolver() *MemResolver {
	return &MemResolver{
		txs:     make(map[chainhash.Hash]*wire.MsgTx),
		heights: make(map[chainhash.Hash]int32),
		outputs: make(map[string][]wire.OutPoint),
		spent:   make(map[wire.OutPoint]chainhash.Hash),
	}
}

// AddTx records a transaction confirmed at height, or unconfirmed for a
// height of -1. Its outputs become unspent and the outputs it spends are
// marked spent. Adding a known transaction only updates its height.
func (m *MemResolver) AddTx(tx *wire.MsgTx, height int32) {
	txid := tx.TxHash()

	log.Tracef("Adding transaction %v at height %d: %v", txid, height,
		newLogClosure(func() string {
			return spew.Sdump(tx)
		}))

	m.mu.Lock()
	defer m.mu.Unlock()

	m.heights[txid] = height
	if _, ok := m.txs[txid]; ok {
		return
	}

	m.txs[txid] = tx.Copy()
	for i, txOut := range tx.TxOut {
		op := wire.OutPoint{Hash: txid, Index: uint32(i)}
		key := string(txOut.PkScript)
		m.outputs[key] = append(m.outputs[key], op)
	}

	for _, txIn := range tx.TxIn {
		m.spent[txIn.PreviousOutPoint] = txid
	}
}

// ResolveTx returns a copy of the transaction with the given id.
func (m *MemResolver) ResolveTx(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	if err := ctx.Err(); err != nil {
		return nil, &TxResolverError{Txid: txid, Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txs[txid]
	if !ok {
		return nil, &TxResolverError{Txid: txid, Err: ErrTxNotFound}
	}

	return tx.Copy(), nil
}

// ResolveUtxo returns the unspent outputs paying to each script.
func (m *MemResolver) ResolveUtxo(ctx context.Context,
	scripts [][]byte) ([]fn.Set[Utxo], error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sets := make([]fn.Set[Utxo], len(scripts))
	for i, script := range scripts {
		set := fn.NewSet[Utxo]()
		for _, op := range m.outputs[string(script)] {
			if _, spent := m.spent[op]; spent {
				continue
			}

			tx := m.txs[op.Hash]
			set.Add(Utxo{
				OutPoint: op,
				Height:   m.heights[op.Hash],
				Amount:   btcutil.Amount(tx.TxOut[op.Index].Value),
			})
		}

		sets[i] = set
	}

	return sets, nil
}
