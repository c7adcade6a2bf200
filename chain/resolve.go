// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/hdpath"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ScriptUtxos is the script derived at one index and its unspent outputs.
type ScriptUtxos struct {
	Index  hdpath.UnhardenedIndex
	Script []byte
	Utxos  fn.Set[Utxo]
}

// UtxoMap holds resolved scripts ordered by ascending index.
type UtxoMap struct {
	entries []ScriptUtxos
}

// search returns the position of idx in the map and whether it is present.
func (m *UtxoMap) search(idx hdpath.UnhardenedIndex) (int, bool) {
	return slices.BinarySearchFunc(m.entries, idx,
		func(e ScriptUtxos, target hdpath.UnhardenedIndex) int {
			return cmp.Compare(e.Index.FirstIndex(),
				target.FirstIndex())
		},
	)
}

// Len returns the number of indexes in the map.
func (m *UtxoMap) Len() int {
	return len(m.entries)
}

// Get returns the entry for idx.
func (m *UtxoMap) Get(idx hdpath.UnhardenedIndex) (ScriptUtxos, bool) {
	i, ok := m.search(idx)
	if !ok {
		return ScriptUtxos{}, false
	}

	return m.entries[i], true
}

// Indexes returns the indexes of the map in ascending order.
func (m *UtxoMap) Indexes() []hdpath.UnhardenedIndex {
	indexes := make([]hdpath.UnhardenedIndex, len(m.entries))
	for i, e := range m.entries {
		indexes[i] = e.Index
	}

	return indexes
}

// All iterates the entries in ascending index order.
func (m *UtxoMap) All() iter.Seq2[hdpath.UnhardenedIndex, ScriptUtxos] {
	return func(yield func(hdpath.UnhardenedIndex, ScriptUtxos) bool) {
		for _, e := range m.entries {
			if !yield(e.Index, e) {
				return
			}
		}
	}
}

// Used returns the indexes holding at least one unspent output.
func (m *UtxoMap) Used() []hdpath.UnhardenedIndex {
	var used []hdpath.UnhardenedIndex
	for _, e := range m.entries {
		if len(e.Utxos) > 0 {
			used = append(used, e.Index)
		}
	}

	return used
}

// Balance returns the total value of all unspent outputs in the map.
func (m *UtxoMap) Balance() btcutil.Amount {
	var total btcutil.Amount
	for _, e := range m.entries {
		for utxo := range e.Utxos {
			total += utxo.Amount
		}
	}

	return total
}

// Put adds or replaces the entry for e.Index, keeping the map ordered.
func (m *UtxoMap) Put(e ScriptUtxos) {
	i, ok := m.search(e.Index)
	if ok {
		m.entries[i] = e
		return
	}

	m.entries = slices.Insert(m.entries, i, e)
}

// Merge adds every entry of other to the map.
func (m *UtxoMap) Merge(other *UtxoMap) {
	for _, e := range other.entries {
		m.Put(e)
	}
}

// windowIndexes returns from, from+1, ..., from+count-1, failing with an
// IndexOutOfRangeError naming the first offset that is not an unhardened
// index.
func windowIndexes(from hdpath.UnhardenedIndex,
	count uint32) ([]hdpath.UnhardenedIndex, error) {

	// Offsets up to the last unhardened index are valid, so the first
	// invalid one is the distance from from to the boundary.
	available := uint64(hdpath.HardenedIndexBoundary) -
		uint64(from.FirstIndex())
	if uint64(count) > available {
		return nil, &IndexOutOfRangeError{
			From:   from,
			Offset: uint32(available),
		}
	}

	indexes := make([]hdpath.UnhardenedIndex, 0, count)
	for offset := range count {
		idx, err := from.CheckedAdd(offset)
		if err != nil {
			return nil, &IndexOutOfRangeError{
				From:   from,
				Offset: offset,
			}
		}

		indexes = append(indexes, idx)
	}

	return indexes, nil
}

// ResolveDescriptorUtxo derives the scripts of the descriptor at
// branch/from, branch/from+1, ..., branch/from+count-1 and resolves all of
// them with a single call to the resolver. The result is ordered by index.
// Either every script is resolved or an error is returned.
func ResolveDescriptorUtxo(ctx context.Context, r UtxoResolver,
	d descriptor.Descriptor, branch []hdpath.TerminalStep,
	from hdpath.UnhardenedIndex, count uint32) (*UtxoMap, error) {

	indexes, err := windowIndexes(from, count)
	if err != nil {
		return nil, err
	}

	return resolveIndexes(ctx, r, d, branch, indexes)
}

// ResolveRangesUtxo is ResolveDescriptorUtxo for every index covered by the
// range list.
func ResolveRangesUtxo(ctx context.Context, r UtxoResolver,
	d descriptor.Descriptor, branch []hdpath.TerminalStep,
	ranges hdpath.IndexRangeList) (*UtxoMap, error) {

	indexes := slices.Collect(ranges.Indexes())

	return resolveIndexes(ctx, r, d, branch, indexes)
}

// resolveIndexes derives the script at branch/idx for each of the ascending
// indexes and resolves them in one batch.
func resolveIndexes(ctx context.Context, r UtxoResolver,
	d descriptor.Descriptor, branch []hdpath.TerminalStep,
	indexes []hdpath.UnhardenedIndex) (*UtxoMap, error) {

	if len(indexes) == 0 {
		return &UtxoMap{}, nil
	}

	// The derivation path is owned by this call, only its last element
	// changes between indexes.
	path := make([]hdpath.TerminalStep, len(branch)+1)
	copy(path, branch)
	last := len(path) - 1

	scripts := make([][]byte, len(indexes))
	for i, idx := range indexes {
		path[last] = idx

		script, err := descriptor.ScriptPubKey(d, path)
		if err != nil {
			return nil, fmt.Errorf("derive script at index %v: %w",
				idx, err)
		}

		scripts[i] = script
	}

	log.Debugf("Resolving %d scripts for indexes %v-%v", len(scripts),
		indexes[0], indexes[len(indexes)-1])

	sets, err := r.ResolveUtxo(ctx, scripts)
	if err != nil {
		return nil, fmt.Errorf("resolve utxos: %w", err)
	}

	if len(sets) != len(scripts) {
		return nil, fmt.Errorf("%w: got %d, want %d",
			ErrResolverMismatch, len(sets), len(scripts))
	}

	entries := make([]ScriptUtxos, len(indexes))
	for i, idx := range indexes {
		utxos := sets[i]
		if utxos == nil {
			utxos = fn.NewSet[Utxo]()
		}

		entries[i] = ScriptUtxos{
			Index:  idx,
			Script: scripts[i],
			Utxos:  utxos,
		}
	}

	return &UtxoMap{entries: entries}, nil
}
