// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/hdpath"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockUtxoResolver is a mock implementation of UtxoResolver.
type mockUtxoResolver struct {
	mock.Mock
}

// A compile-time assertion to ensure mockUtxoResolver implements
// UtxoResolver.
var _ UtxoResolver = (*mockUtxoResolver)(nil)

// ResolveUtxo records the scripts and returns the configured sets.
func (m *mockUtxoResolver) ResolveUtxo(_ context.Context,
	scripts [][]byte) ([]fn.Set[Utxo], error) {

	args := m.Called(scripts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]fn.Set[Utxo]), args.Error(1)
}

// testDescriptor returns a wpkh descriptor over account 0 of a BIP0084
// wallet generated from a fixed seed.
func testDescriptor(t *testing.T) descriptor.Descriptor {
	t.Helper()

	seed := bytes.Repeat([]byte{0x42}, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	fingerprint, err := waddrmgr.MasterFingerprint(master)
	require.NoError(t, err)

	params := waddrmgr.ParamsForNet(&chaincfg.RegressionNetParams)
	path, err := waddrmgr.SchemeBIP0084.DeriveAccountPath(0, params)
	require.NoError(t, err)

	key := master
	for _, child := range path.Raw() {
		key, err = key.Derive(child)
		require.NoError(t, err)
	}

	acct, err := waddrmgr.NewTrackingAccount(
		fingerprint, key, waddrmgr.SchemeBIP0084, 0, params,
	)
	require.NoError(t, err)

	return &descriptor.Wpkh{Account: acct}
}

// unhardened returns the unhardened index v.
func unhardened(t *testing.T, v uint32) hdpath.UnhardenedIndex {
	t.Helper()

	idx, err := hdpath.NewUnhardenedIndex(v)
	require.NoError(t, err)

	return idx
}

// scriptAt derives the script of d at branch/index.
func scriptAt(t *testing.T, d descriptor.Descriptor, branch,
	index uint32) []byte {

	t.Helper()

	script, err := descriptor.ScriptPubKey(d, []hdpath.TerminalStep{
		unhardened(t, branch), unhardened(t, index),
	})
	require.NoError(t, err)

	return script
}

// testOutPoint returns a distinct outpoint for n.
func testOutPoint(n uint32) wire.OutPoint {
	return wire.OutPoint{
		Hash:  chainhash.DoubleHashH([]byte{byte(n), byte(n >> 8)}),
		Index: n,
	}
}
