// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/hdpath"
)

const (
	// DefaultGapLimit is the number of consecutive unused indexes after
	// which a branch scan stops when no gap limit is configured.
	DefaultGapLimit = 20

	// ExternalBranch is the terminal branch of receiving scripts.
	ExternalBranch = 0

	// InternalBranch is the terminal branch of change scripts.
	InternalBranch = 1
)

// RecoveryConfig holds the parameters of a descriptor recovery scan.
type RecoveryConfig struct {
	// GapLimit is the number of consecutive unused indexes that ends the
	// scan of a branch. Zero selects DefaultGapLimit.
	GapLimit uint32
}

// gapLimit returns the configured gap limit or its default.
func (c RecoveryConfig) gapLimit() uint32 {
	if c.GapLimit == 0 {
		return DefaultGapLimit
	}

	return c.GapLimit
}

// BranchRecoveryState maintains the required state in-order to properly
// recover the scripts derived on one terminal branch of a descriptor.
//
// A branch recovery state supports operations for:
//   - Expanding the look-ahead horizon based on which indexes have been found.
//   - Reporting an invalid child index that falls into the horizon.
//   - Reporting that an index has been found.
//   - Building the window of indexes still to be resolved.
type BranchRecoveryState struct {
	// recoveryWindow defines the key-derivation lookahead used when
	// attempting to recover the set of scripts on this branch.
	recoveryWindow uint32

	// horizon records the highest child index watched by this branch.
	horizon uint32

	// nextUnfound maintains the child index of the successor to the highest
	// index that has been found during recovery of this branch.
	nextUnfound uint32

	// invalidChildren records the set of child indexes that derive to
	// invalid keys.
	invalidChildren map[uint32]struct{}
}

// NewBranchRecoveryState creates a new BranchRecoveryState that can be used to
// track one terminal branch of a descriptor.
func NewBranchRecoveryState(recoveryWindow uint32) *BranchRecoveryState {
	return &BranchRecoveryState{
		recoveryWindow:  recoveryWindow,
		invalidChildren: make(map[uint32]struct{}),
	}
}

// ExtendHorizon returns the current horizon and the number of indexes that
// must be derived in order to maintain the desired recovery window.
func (brs *BranchRecoveryState) ExtendHorizon() (uint32, uint32) {
	// Compute the new horizon, which should surpass our last found index
	// by the recovery window.
	curHorizon := brs.horizon

	// The horizon never passes the last unhardened index, whatever the
	// size of the recovery window.
	nInvalid := brs.NumInvalidInHorizon()
	minValidHorizon := uint32(min(
		uint64(brs.nextUnfound)+uint64(brs.recoveryWindow)+
			uint64(nInvalid),
		hdpath.HardenedIndexBoundary,
	))

	// If the current horizon is sufficient, we will not have to derive any
	// new keys.
	if curHorizon >= minValidHorizon {
		return curHorizon, 0
	}

	// Otherwise, the number of indexes we should derive corresponds to
	// the delta of the two horizons, and we update our new horizon.
	delta := minValidHorizon - curHorizon
	brs.horizon = minValidHorizon

	return curHorizon, delta
}

// Horizon returns the index following the highest watched index.
func (brs *BranchRecoveryState) Horizon() uint32 {
	return brs.horizon
}

// ReportFound updates the last found index if the reported index exceeds the
// current value.
func (brs *BranchRecoveryState) ReportFound(index uint32) {
	if index >= brs.nextUnfound {
		brs.nextUnfound = index + 1

		// Prune all invalid child indexes that fall below our last
		// found index. We don't need to keep these entries any longer,
		// since they will not affect our required look-ahead.
		for childIndex := range brs.invalidChildren {
			if childIndex < index {
				delete(brs.invalidChildren, childIndex)
			}
		}
	}
}

// MarkInvalidChild records that a particular child index derives an invalid
// key. In addition, the branch's horizon is incremented, as we expect the
// caller to resolve one more index to replace the invalid child.
func (brs *BranchRecoveryState) MarkInvalidChild(index uint32) {
	brs.invalidChildren[index] = struct{}{}
	brs.horizon++
}

// NextUnfound returns the child index of the successor to the highest found
// child index.
func (brs *BranchRecoveryState) NextUnfound() uint32 {
	return brs.nextUnfound
}

// NumInvalidInHorizon computes the number of invalid child indexes that lie
// between the last found and current horizon. This informs how many additional
// indexes to derive in order to maintain the proper number of valid keys
// within our horizon.
func (brs *BranchRecoveryState) NumInvalidInHorizon() uint32 {
	var nInvalid uint32
	for childIndex := range brs.invalidChildren {
		if brs.nextUnfound <= childIndex && childIndex < brs.horizon {
			nInvalid++
		}
	}

	return nInvalid
}

// pendingWindow returns the indexes in [start, horizon) that aren't known to
// be invalid, capped at the last unhardened index.
func (brs *BranchRecoveryState) pendingWindow(
	start uint32) hdpath.IndexRangeList {

	end := uint64(brs.horizon)
	if end > hdpath.HardenedIndexBoundary {
		end = hdpath.HardenedIndexBoundary
	}

	var (
		window  hdpath.IndexRangeList
		invalid []uint32
	)
	for childIndex := range brs.invalidChildren {
		invalid = append(invalid, childIndex)
	}
	slices.Sort(invalid)

	// Each run of valid indexes between two invalid ones becomes a range.
	next := uint64(start)
	addRun := func(stop uint64) {
		if next < stop {
			r, err := hdpath.NewIndexRangeRaw(
				uint32(next), uint32(stop-1),
			)
			if err == nil {
				window.Insert(r)
			}
		}
	}
	for _, childIndex := range invalid {
		if uint64(childIndex) < next || uint64(childIndex) >= end {
			continue
		}

		addRun(uint64(childIndex))
		next = uint64(childIndex) + 1
	}
	addRun(end)

	return window
}

// BranchRecovery is the outcome of scanning one terminal branch.
type BranchRecovery struct {
	// Branch is the terminal branch that was scanned.
	Branch hdpath.TerminalStep

	// Used holds the indexes found with unspent outputs.
	Used *chain.UtxoMap

	// NextUnused is the index following the highest used index.
	NextUnused uint32

	// Scanned is the number of indexes that were resolved.
	Scanned uint32
}

// AccountRecovery is the outcome of scanning both branches of a descriptor.
type AccountRecovery struct {
	External *BranchRecovery
	Internal *BranchRecovery
}

// invalidChildIndex returns the branch index whose derivation hit an invalid
// child key, if that is what err reports.
func invalidChildIndex(err error) (uint32, bool) {
	var deriveErr *descriptor.DeriveError
	if !errors.As(err, &deriveErr) ||
		!errors.Is(err, hdkeychain.ErrInvalidChild) ||
		len(deriveErr.Terminal) == 0 {

		return 0, false
	}

	return deriveErr.Terminal[len(deriveErr.Terminal)-1], true
}

// RecoverBranch scans branch/0, branch/1, ... of the descriptor until the gap
// limit of consecutive indexes without unspent outputs is reached. Each
// extension of the look-ahead window is resolved in one batch. Indexes that
// derive invalid keys are skipped and replaced by the next index.
func RecoverBranch(ctx context.Context, r chain.UtxoResolver,
	d descriptor.Descriptor, branch hdpath.TerminalStep,
	cfg RecoveryConfig) (*BranchRecovery, error) {

	state := NewBranchRecoveryState(cfg.gapLimit())
	prefix := []hdpath.TerminalStep{branch}
	result := &BranchRecovery{
		Branch: branch,
		Used:   &chain.UtxoMap{},
	}

	var start uint32
	for {
		curHorizon, delta := state.ExtendHorizon()

		window := state.pendingWindow(start)
		if window.IsEmpty() {
			break
		}

		log.Debugf("Scanning branch %v window %v (horizon %d, +%d)",
			branch, window, curHorizon, delta)

		batch, err := chain.ResolveRangesUtxo(
			ctx, r, d, prefix, window,
		)
		if idx, ok := invalidChildIndex(err); ok {
			log.Infof("Skipping invalid child %v/%d", branch, idx)
			state.MarkInvalidChild(idx)

			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan branch %v: %w", branch, err)
		}

		for idx, entry := range batch.All() {
			if len(entry.Utxos) == 0 {
				continue
			}

			state.ReportFound(idx.Index())
			result.Used.Put(entry)
		}

		result.Scanned += uint32(window.Count())
		start = state.Horizon()
	}

	result.NextUnused = state.NextUnfound()

	log.Infof("Recovered branch %v: %d used indexes, next unused %d, "+
		"%d scanned", branch, result.Used.Len(), result.NextUnused,
		result.Scanned)

	return result, nil
}

// RecoverAccount scans the external and internal branches of the
// descriptor.
func RecoverAccount(ctx context.Context, r chain.UtxoResolver,
	d descriptor.Descriptor, cfg RecoveryConfig) (*AccountRecovery,
	error) {

	var (
		recovery AccountRecovery
		branches = []struct {
			index  uint32
			result **BranchRecovery
		}{
			{ExternalBranch, &recovery.External},
			{InternalBranch, &recovery.Internal},
		}
	)

	for _, b := range branches {
		branch, err := hdpath.NewUnhardenedIndex(b.index)
		if err != nil {
			return nil, err
		}

		*b.result, err = RecoverBranch(ctx, r, d, branch, cfg)
		if err != nil {
			return nil, err
		}
	}

	return &recovery, nil
}
