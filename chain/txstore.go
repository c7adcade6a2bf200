// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// txStoreNamespaceKey is the top-level bucket holding the transaction store.
var txStoreNamespaceKey = []byte("wtxmgr")

// TxStoreResolver resolves scripts and transactions against a wtxmgr
// transaction store kept in a walletdb namespace. Every output of a recorded
// transaction is tracked as a credit, so the store answers for any script.
type TxStoreResolver struct {
	db    walletdb.DB
	store *wtxmgr.Store
}

// A compile-time assertion to ensure TxStoreResolver implements both
// resolvers.
var (
	_ UtxoResolver = (*TxStoreResolver)(nil)
	_ TxResolver   = (*TxStoreResolver)(nil)
)

// NewTxStoreResolver opens the transaction store in db, creating it on first
// use.
func NewTxStoreResolver(db walletdb.DB,
	chainParams *chaincfg.Params) (*TxStoreResolver, error) {

	var store *wtxmgr.Store
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(txStoreNamespaceKey)
		if ns == nil {
			var err error
			ns, err = tx.CreateTopLevelBucket(txStoreNamespaceKey)
			if err != nil {
				return err
			}

			if err := wtxmgr.Create(ns); err != nil {
				return err
			}
		}

		var err error
		store, err = wtxmgr.Open(ns, chainParams)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open transaction store: %w", err)
	}

	return &TxStoreResolver{db: db, store: store}, nil
}

// AddTx records a transaction confirmed at height, or unconfirmed for a
// negative height, and tracks all of its outputs. Outputs of recorded
// transactions spent by tx are marked spent, so transactions must be added
// in dependency order.
func (r *TxStoreResolver) AddTx(tx *wire.MsgTx, height int32) error {
	rec, err := wtxmgr.NewTxRecordFromMsgTx(tx, time.Now())
	if err != nil {
		return err
	}

	log.Tracef("Recording transaction %v at height %d: %v", rec.Hash,
		height, newLogClosure(func() string {
			return spew.Sdump(tx)
		}))

	var block *wtxmgr.BlockMeta
	if height >= 0 {
		block = &wtxmgr.BlockMeta{
			Block: wtxmgr.Block{Height: height},
			Time:  rec.Received,
		}
	}

	return walletdb.Update(r.db, func(dbTx walletdb.ReadWriteTx) error {
		ns := dbTx.ReadWriteBucket(txStoreNamespaceKey)

		if err := r.store.InsertTx(ns, rec, block); err != nil {
			return fmt.Errorf("insert tx %v: %w", rec.Hash, err)
		}

		for i := range rec.MsgTx.TxOut {
			err := r.store.AddCredit(ns, rec, block, uint32(i), false)
			if err != nil {
				return fmt.Errorf("add credit %v:%d: %w",
					rec.Hash, i, err)
			}
		}

		return nil
	})
}

// ResolveTx returns the recorded transaction with the given id.
func (r *TxStoreResolver) ResolveTx(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	if err := ctx.Err(); err != nil {
		return nil, &TxResolverError{Txid: txid, Err: err}
	}

	var details *wtxmgr.TxDetails
	err := walletdb.View(r.db, func(dbTx walletdb.ReadTx) error {
		ns := dbTx.ReadBucket(txStoreNamespaceKey)

		var err error
		details, err = r.store.TxDetails(ns, &txid)

		return err
	})
	if err != nil {
		return nil, &TxResolverError{Txid: txid, Err: err}
	}
	if details == nil {
		return nil, &TxResolverError{Txid: txid, Err: ErrTxNotFound}
	}

	return details.MsgTx.Copy(), nil
}

// ResolveUtxo returns the unspent outputs paying to each script.
func (r *TxStoreResolver) ResolveUtxo(ctx context.Context,
	scripts [][]byte) ([]fn.Set[Utxo], error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var credits []wtxmgr.Credit
	err := walletdb.View(r.db, func(dbTx walletdb.ReadTx) error {
		ns := dbTx.ReadBucket(txStoreNamespaceKey)

		var err error
		credits, err = r.store.UnspentOutputs(ns)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch unspent outputs: %w", err)
	}

	// The same script may be asked for at several positions.
	positions := make(map[string][]int, len(scripts))
	sets := make([]fn.Set[Utxo], len(scripts))
	for i, script := range scripts {
		positions[string(script)] = append(
			positions[string(script)], i,
		)
		sets[i] = fn.NewSet[Utxo]()
	}

	for _, credit := range credits {
		for _, i := range positions[string(credit.PkScript)] {
			sets[i].Add(Utxo{
				OutPoint: credit.OutPoint,
				Height:   credit.Height,
				Amount:   credit.Amount,
			})
		}
	}

	log.Debugf("Checked %d unspent outputs against %d scripts",
		len(credits), len(scripts))

	return sets, nil
}
