// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/descwallet/hdpath"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestResolveDescriptorUtxo checks that a window of three indexes is derived,
// resolved in one call and zipped back to its indexes.
func TestResolveDescriptorUtxo(t *testing.T) {
	t.Parallel()

	desc := testDescriptor(t)
	branch := []hdpath.TerminalStep{unhardened(t, 0)}

	wantScripts := [][]byte{
		scriptAt(t, desc, 0, 0),
		scriptAt(t, desc, 0, 1),
		scriptAt(t, desc, 0, 2),
	}
	sets := []fn.Set[Utxo]{
		fn.NewSet(Utxo{OutPoint: testOutPoint(0), Amount: 1000}),
		fn.NewSet[Utxo](),
		fn.NewSet(
			Utxo{OutPoint: testOutPoint(1), Amount: 2000},
			Utxo{OutPoint: testOutPoint(2), Amount: 3000},
		),
	}

	resolver := &mockUtxoResolver{}
	resolver.On("ResolveUtxo", wantScripts).Return(sets, nil).Once()

	result, err := ResolveDescriptorUtxo(
		context.Background(), resolver, desc, branch,
		unhardened(t, 0), 3,
	)
	require.NoError(t, err)
	resolver.AssertExpectations(t)

	require.Equal(t, []hdpath.UnhardenedIndex{
		unhardened(t, 0), unhardened(t, 1), unhardened(t, 2),
	}, result.Indexes())

	for i := range uint32(3) {
		entry, ok := result.Get(unhardened(t, i))
		require.True(t, ok)
		require.Equal(t, wantScripts[i], entry.Script)
		require.Equal(t, sets[i], entry.Utxos)
	}

	_, ok := result.Get(unhardened(t, 3))
	require.False(t, ok)

	require.Equal(t, []hdpath.UnhardenedIndex{
		unhardened(t, 0), unhardened(t, 2),
	}, result.Used())
	require.Equal(t, btcutil.Amount(6000), result.Balance())

	// The caller's branch is never written to.
	require.Equal(t, []hdpath.TerminalStep{unhardened(t, 0)}, branch)
}

// TestResolveDescriptorUtxoOutOfRange checks that windows crossing the
// hardened boundary fail before anything is resolved.
func TestResolveDescriptorUtxoOutOfRange(t *testing.T) {
	t.Parallel()

	desc := testDescriptor(t)
	branch := []hdpath.TerminalStep{unhardened(t, 1)}
	resolver := &mockUtxoResolver{}

	// Offsets 0 and 1 reach the last unhardened index, offset 2 is the
	// first one past it.
	from := unhardened(t, hdkeychain.HardenedKeyStart-2)
	_, err := ResolveDescriptorUtxo(
		context.Background(), resolver, desc, branch, from, 5,
	)

	var rangeErr *IndexOutOfRangeError
	require.True(t, errors.As(err, &rangeErr))
	require.Equal(t, uint32(2), rangeErr.Offset)
	require.Equal(t, from, rangeErr.From)
	resolver.AssertNotCalled(t, "ResolveUtxo", mock.Anything)

	// The same window shortened to end on the last index succeeds.
	resolver.On("ResolveUtxo", mock.Anything).Return(
		[]fn.Set[Utxo]{fn.NewSet[Utxo](), fn.NewSet[Utxo]()}, nil,
	).Once()

	result, err := ResolveDescriptorUtxo(
		context.Background(), resolver, desc, branch, from, 2,
	)
	require.NoError(t, err)
	require.Equal(t, []hdpath.UnhardenedIndex{
		from, unhardened(t, hdkeychain.HardenedKeyStart-1),
	}, result.Indexes())
}

// TestResolveDescriptorUtxoErrors checks the all-or-nothing behavior on
// resolver failures.
func TestResolveDescriptorUtxoErrors(t *testing.T) {
	t.Parallel()

	desc := testDescriptor(t)
	branch := []hdpath.TerminalStep{unhardened(t, 0)}
	errBackend := errors.New("backend down")

	resolver := &mockUtxoResolver{}
	resolver.On("ResolveUtxo", mock.Anything).Return(nil, errBackend).Once()

	result, err := ResolveDescriptorUtxo(
		context.Background(), resolver, desc, branch,
		unhardened(t, 0), 4,
	)
	require.ErrorIs(t, err, errBackend)
	require.Nil(t, result)

	// A resolver answering for fewer scripts than asked is an error too.
	resolver.On("ResolveUtxo", mock.Anything).Return(
		[]fn.Set[Utxo]{fn.NewSet[Utxo]()}, nil,
	).Once()

	_, err = ResolveDescriptorUtxo(
		context.Background(), resolver, desc, branch,
		unhardened(t, 0), 2,
	)
	require.ErrorIs(t, err, ErrResolverMismatch)

	// An empty window resolves nothing.
	result, err = ResolveDescriptorUtxo(
		context.Background(), resolver, desc, branch,
		unhardened(t, 9), 0,
	)
	require.NoError(t, err)
	require.Zero(t, result.Len())
	resolver.AssertExpectations(t)
}

// TestResolveRangesUtxo checks resolution of a sparse range list.
func TestResolveRangesUtxo(t *testing.T) {
	t.Parallel()

	desc := testDescriptor(t)
	branch := []hdpath.TerminalStep{unhardened(t, 1)}

	ranges, err := hdpath.ParseIndexRangeList("5,0-1")
	require.NoError(t, err)

	wantScripts := [][]byte{
		scriptAt(t, desc, 1, 0),
		scriptAt(t, desc, 1, 1),
		scriptAt(t, desc, 1, 5),
	}

	resolver := &mockUtxoResolver{}
	resolver.On("ResolveUtxo", wantScripts).Return(
		[]fn.Set[Utxo]{nil, nil, nil}, nil,
	).Once()

	result, err := ResolveRangesUtxo(
		context.Background(), resolver, desc, branch, ranges,
	)
	require.NoError(t, err)
	resolver.AssertExpectations(t)

	require.Equal(t, []hdpath.UnhardenedIndex{
		unhardened(t, 0), unhardened(t, 1), unhardened(t, 5),
	}, result.Indexes())

	// Missing sets are reported as empty ones.
	entry, ok := result.Get(unhardened(t, 5))
	require.True(t, ok)
	require.NotNil(t, entry.Utxos)
	require.Empty(t, entry.Utxos)
}

// TestUtxoMapMerge checks that merged maps stay ordered.
func TestUtxoMapMerge(t *testing.T) {
	t.Parallel()

	var m UtxoMap
	for _, i := range []uint32{7, 2, 9} {
		m.Put(ScriptUtxos{Index: unhardened(t, i)})
	}

	var other UtxoMap
	other.Put(ScriptUtxos{Index: unhardened(t, 3)})
	other.Put(ScriptUtxos{
		Index: unhardened(t, 7),
		Utxos: fn.NewSet(Utxo{OutPoint: testOutPoint(7), Amount: 5}),
	})

	m.Merge(&other)
	require.Equal(t, []hdpath.UnhardenedIndex{
		unhardened(t, 2), unhardened(t, 3), unhardened(t, 7),
		unhardened(t, 9),
	}, m.Indexes())
	require.Equal(t, btcutil.Amount(5), m.Balance())

	var visited []uint32
	for idx := range m.All() {
		visited = append(visited, idx.Index())
		if idx.Index() == 7 {
			break
		}
	}
	require.Equal(t, []uint32{2, 3, 7}, visited)
}
