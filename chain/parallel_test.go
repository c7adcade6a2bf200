// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/hdpath"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestParallelResolver checks that chunked resolution matches resolving all
// scripts at once.
func TestParallelResolver(t *testing.T) {
	t.Parallel()

	desc := testDescriptor(t)
	mem := NewMemResolver()

	// Fund every third of the first 20 external scripts.
	for i := uint32(0); i < 20; i += 3 {
		mem.AddTx(newTestTx(
			[]wire.OutPoint{testOutPoint(1000 + i)},
			scriptAt(t, desc, 0, i), int64(i+1)*1000,
		), int32(i))
	}

	branch := []hdpath.TerminalStep{unhardened(t, 0)}
	ctx := context.Background()

	direct, err := ResolveDescriptorUtxo(
		ctx, mem, desc, branch, unhardened(t, 0), 23,
	)
	require.NoError(t, err)

	for _, chunkSize := range []int{1, 2, 7, 100} {
		parallel := NewParallelResolver(mem, chunkSize, 3)

		got, err := ResolveDescriptorUtxo(
			ctx, parallel, desc, branch, unhardened(t, 0), 23,
		)
		require.NoError(t, err)
		require.Equal(t, direct, got, "chunk size %d", chunkSize)
	}

	require.Equal(t, []hdpath.UnhardenedIndex{
		unhardened(t, 0), unhardened(t, 3), unhardened(t, 6),
		unhardened(t, 9), unhardened(t, 12), unhardened(t, 15),
		unhardened(t, 18),
	}, direct.Used())
}

// TestParallelResolverFailure checks that a failing chunk fails the query.
func TestParallelResolverFailure(t *testing.T) {
	t.Parallel()

	errChunk := errors.New("chunk failed")

	resolver := &mockUtxoResolver{}
	resolver.On("ResolveUtxo", mock.MatchedBy(func(s [][]byte) bool {
		return len(s) == 2 && s[0][0] == 2
	})).Return(nil, errChunk)
	resolver.On("ResolveUtxo", mock.Anything).Return(
		[]fn.Set[Utxo]{fn.NewSet[Utxo](), fn.NewSet[Utxo]()}, nil,
	)

	parallel := NewParallelResolver(resolver, 2, 0)
	scripts := [][]byte{{0}, {1}, {2}, {3}, {4}, {5}}

	sets, err := parallel.ResolveUtxo(context.Background(), scripts)
	require.ErrorIs(t, err, errChunk)
	require.Nil(t, sets)

	// The defaults apply to non-positive sizes.
	p := NewParallelResolver(resolver, 0, -1)
	require.Equal(t, DefaultChunkSize, p.chunkSize)
	require.Equal(t, DefaultMaxConcurrency, p.maxConcurrency)
}
