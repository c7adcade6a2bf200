// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/hdpath"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// Harness holds the BranchRecoveryState being tested, the recovery window being
// used, provides access to the test object, and tracks the expected horizon
// and next unfound values.
type Harness struct {
	t              *testing.T
	brs            *BranchRecoveryState
	recoveryWindow uint32
	expHorizon     uint32
	expNextUnfound uint32
}

type (
	// Stepper is a generic interface that performs an action or assertion
	// against a test Harness.
	Stepper interface {
		// Apply performs an action or assertion against branch recovery
		// state held by the Harness.  The step index is provided so
		// that any failures can report which Step failed.
		Apply(step int, harness *Harness)
	}

	// InitialDelta is a Step that verifies our first attempt to expand the
	// branch recovery state's horizons tells us to derive a number of
	// addresses equal to the recovery window.
	InitialDelta struct{}

	// CheckDelta is a Step that expands the branch recovery state's
	// horizon, and checks that the returned delta meets our expected
	// `delta`.
	CheckDelta struct {
		delta uint32
	}

	// CheckNumInvalid is a Step that asserts that the branch recovery
	// state reports `total` invalid children with the current horizon.
	CheckNumInvalid struct {
		total uint32
	}

	// MarkInvalid is a Step that marks the `child` as invalid in the branch
	// recovery state.
	MarkInvalid struct {
		child uint32
	}

	// ReportFound is a Step that reports `child` as being found to the
	// branch recovery state.
	ReportFound struct {
		child uint32
	}
)

// Apply extends the current horizon of the branch recovery state, and checks
// that the returned delta is equal to the test's recovery window. If the
// assertions pass, the harness's expected horizon is increased by the returned
// delta.
//
// NOTE: This should be used before applying any CheckDelta steps.
func (InitialDelta) Apply(i int, h *Harness) {
	curHorizon, delta := h.brs.ExtendHorizon()
	assertHorizon(h.t, i, curHorizon, h.expHorizon)
	assertDelta(h.t, i, delta, h.recoveryWindow)
	h.expHorizon += delta
}

// Apply extends the current horizon of the branch recovery state, and checks
// that the returned delta is equal to the CheckDelta's child value.
func (d CheckDelta) Apply(i int, h *Harness) {
	curHorizon, delta := h.brs.ExtendHorizon()
	assertHorizon(h.t, i, curHorizon, h.expHorizon)
	assertDelta(h.t, i, delta, d.delta)
	h.expHorizon += delta
}

// Apply queries the branch recovery state for the number of invalid children
// that lie between the last found address and the current horizon, and compares
// that to the CheckNumInvalid's total.
func (m CheckNumInvalid) Apply(i int, h *Harness) {
	assertNumInvalid(h.t, i, h.brs.NumInvalidInHorizon(), m.total)
}

// Apply marks the MarkInvalid's child index as invalid in the branch recovery
// state, and increments the harness's expected horizon.
func (m MarkInvalid) Apply(i int, h *Harness) {
	h.brs.MarkInvalidChild(m.child)
	h.expHorizon++
}

// Apply reports the ReportFound's child index as found in the branch recovery
// state. If the child index meets or exceeds our expected next unfound value,
// the expected value will be modified to be the child index + 1. Afterwards,
// this step asserts that the branch recovery state's next reported unfound
// value matches our potentially-updated value.
func (r ReportFound) Apply(i int, h *Harness) {
	h.brs.ReportFound(r.child)
	if r.child >= h.expNextUnfound {
		h.expNextUnfound = r.child + 1
	}
	assertNextUnfound(h.t, i, h.brs.NextUnfound(), h.expNextUnfound)
}

// Compile-time checks to ensure our steps implement the Step interface.
var _ Stepper = InitialDelta{}
var _ Stepper = CheckDelta{}
var _ Stepper = CheckNumInvalid{}
var _ Stepper = MarkInvalid{}
var _ Stepper = ReportFound{}

// TestBranchRecoveryState walks the BranchRecoveryState through a sequence of
// steps, verifying that:
//   - the horizon is properly expanded in response to found addrs
//   - report found children below or equal to previously found causes no change
//   - marking invalid children expands the horizon
func TestBranchRecoveryState(t *testing.T) {
	t.Parallel()

	const recoveryWindow = 10

	recoverySteps := []Stepper{
		// First, check that expanding our horizon returns exactly the
		// recovery window (10).
		InitialDelta{},

		// Expected horizon: 10.

		// Report finding the 2nd addr, this should cause our horizon
		// to expand by 2.
		ReportFound{1},
		CheckDelta{2},

		// Expected horizon: 12.

		// Sanity check that expanding again reports zero delta, as
		// nothing has changed.
		CheckDelta{0},

		// Now, report finding the 6th addr, which should expand our
		// horizon to 16 with a delta of 4.
		ReportFound{5},
		CheckDelta{4},

		// Expected horizon: 16.

		// Sanity check that expanding again reports zero delta, as
		// nothing has changed.
		CheckDelta{0},

		// Report finding child index 5 again, nothing should change.
		ReportFound{5},
		CheckDelta{0},

		// Report finding a lower index that what was last found,
		// nothing should change.
		ReportFound{4},
		CheckDelta{0},

		// Moving on, report finding the 11th addr, which should extend
		// our horizon to 21.
		ReportFound{10},
		CheckDelta{5},

		// Expected horizon: 21.

		// Before testing the lookahead expansion when encountering
		// invalid child keys, check that we are correctly starting with
		// no invalid keys.
		CheckNumInvalid{0},

		// Now that the window has been expanded, simulate deriving
		// invalid keys in range of addrs that are being derived for the
		// first time. The horizon will be incremented by one, as the
		// recovery manager is expected to try and derive at least the
		// next address.
		MarkInvalid{17},
		CheckNumInvalid{1},
		CheckDelta{0},

		// Expected horizon: 22.

		// Check that deriving a second invalid key shows both invalid
		// indexes currently within the horizon.
		MarkInvalid{18},
		CheckNumInvalid{2},
		CheckDelta{0},

		// Expected horizon: 23.

		// Lastly, report finding the addr immediately after our two
		// invalid keys. This should return our number of invalid keys
		// within the horizon back to 0.
		ReportFound{19},
		CheckNumInvalid{0},

		// As the 20-th key was just marked found, our horizon will need
		// to expand to 30. With the horizon at 23, the delta returned
		// should be 7.
		CheckDelta{7},
		CheckDelta{0},

		// Expected horizon: 30.
	}

	brs := NewBranchRecoveryState(recoveryWindow)
	harness := &Harness{
		t:              t,
		brs:            brs,
		recoveryWindow: recoveryWindow,
	}

	for i, step := range recoverySteps {
		step.Apply(i, harness)
	}
}

func assertHorizon(t *testing.T, i int, have, want uint32) {
	assertHaveWant(t, i, "incorrect horizon", have, want)
}

func assertDelta(t *testing.T, i int, have, want uint32) {
	assertHaveWant(t, i, "incorrect delta", have, want)
}

func assertNextUnfound(t *testing.T, i int, have, want uint32) {
	assertHaveWant(t, i, "incorrect next unfound", have, want)
}

func assertNumInvalid(t *testing.T, i int, have, want uint32) {
	assertHaveWant(t, i, "incorrect num invalid children", have, want)
}

func assertHaveWant(t *testing.T, i int, msg string, have, want uint32) {
	t.Helper()
	require.Equal(t, want, have, "[step: %d] %s", i, msg)
}

// TestBranchRecoveryStateHorizon verifies horizon expansion logic.
func TestBranchRecoveryStateHorizon(t *testing.T) {
	t.Parallel()

	// Arrange: Window 10.
	brs := NewBranchRecoveryState(10)

	// Act: Initial horizon extend.
	// Horizon is 0. NextUnfound is 0. MinValid = 0 + 10 = 10.
	// Delta = 10 - 0 = 10.
	horizon, delta := brs.ExtendHorizon()
	require.Equal(t, uint32(0), horizon)
	require.Equal(t, uint32(10), delta)
	require.Equal(t, uint32(10), brs.Horizon())

	// Act: Report found at 5.
	brs.ReportFound(5)
	require.Equal(t, uint32(6), brs.NextUnfound())

	// Act: Extend again.
	// MinValid = 6 + 10 = 16. Current Horizon = 10. Delta = 6.
	horizon, delta = brs.ExtendHorizon()
	require.Equal(t, uint32(10), horizon)
	require.Equal(t, uint32(6), delta)
}

// TestBranchRecoveryStateHugeWindow checks that the horizon saturates at the
// last unhardened index instead of wrapping.
func TestBranchRecoveryStateHugeWindow(t *testing.T) {
	t.Parallel()

	brs := NewBranchRecoveryState(math.MaxUint32)

	horizon, delta := brs.ExtendHorizon()
	require.Equal(t, uint32(0), horizon)
	require.Equal(t, uint32(hdpath.HardenedIndexBoundary), delta)
	require.Equal(t, uint32(hdpath.HardenedIndexBoundary), brs.Horizon())

	// A find deep into the branch keeps the horizon at the boundary.
	brs.ReportFound(1 << 30)
	horizon, delta = brs.ExtendHorizon()
	require.Equal(t, uint32(hdpath.HardenedIndexBoundary), horizon)
	require.Zero(t, delta)

	// Nothing past the boundary is ever pending.
	last, ok := brs.pendingWindow(1<<31 - 2).Last()
	require.True(t, ok)
	require.Equal(t, uint32(1<<31-1), last.Index())
}

// TestBranchRecoveryStateInvalidChild verifies handling of invalid keys.
func TestBranchRecoveryStateInvalidChild(t *testing.T) {
	t.Parallel()

	brs := NewBranchRecoveryState(5)
	brs.ExtendHorizon()

	// Act: Mark index 2 as invalid.
	brs.MarkInvalidChild(2)
	require.Equal(t, uint32(1), brs.NumInvalidInHorizon())

	// NextUnfound = 0. Window = 5. Invalid = 1.
	// MinValid = 0 + 5 + 1 = 6, which is the current horizon.
	horizon, delta := brs.ExtendHorizon()
	require.Equal(t, uint32(6), horizon)
	require.Equal(t, uint32(0), delta)

	// Invalid child 2 is < 3, so it should be pruned.
	brs.ReportFound(3)
	require.Equal(t, uint32(0), brs.NumInvalidInHorizon())
}

// collect flattens a range list into raw indexes.
func collect(l hdpath.IndexRangeList) []uint32 {
	var raw []uint32
	for idx := range l.Indexes() {
		raw = append(raw, idx.Index())
	}

	return raw
}

// TestPendingWindow checks that invalid children are cut out of the window
// still to be resolved.
func TestPendingWindow(t *testing.T) {
	t.Parallel()

	brs := NewBranchRecoveryState(5)
	brs.ExtendHorizon()
	require.Equal(t, []uint32{0, 1, 2, 3, 4}, collect(brs.pendingWindow(0)))

	brs.MarkInvalidChild(2)
	brs.MarkInvalidChild(5)
	require.Equal(
		t, []uint32{0, 1, 3, 4, 6}, collect(brs.pendingWindow(0)),
	)
	require.Equal(t, []uint32{3, 4, 6}, collect(brs.pendingWindow(3)))

	// Nothing is pending once the scan has caught up with the horizon.
	require.True(t, brs.pendingWindow(brs.Horizon()).IsEmpty())
}

// testDescriptor returns a wpkh descriptor over account 0 of a BIP0084
// wallet generated from a fixed seed.
func testDescriptor(t *testing.T) descriptor.Descriptor {
	t.Helper()

	net := &chaincfg.RegressionNetParams
	seed := bytes.Repeat([]byte{0x17}, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, net)
	require.NoError(t, err)

	fingerprint, err := waddrmgr.MasterFingerprint(master)
	require.NoError(t, err)

	params := waddrmgr.ParamsForNet(net)
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

// step returns the unhardened index v.
func step(t *testing.T, v uint32) hdpath.TerminalStep {
	t.Helper()

	idx, err := hdpath.NewUnhardenedIndex(v)
	require.NoError(t, err)

	return idx
}

// scriptAt derives the script of d at branch/index.
func scriptAt(t *testing.T, d descriptor.Descriptor, branch,
	index uint32) []byte {

	t.Helper()

	script, err := descriptor.ScriptPubKey(
		d, []hdpath.TerminalStep{step(t, branch), step(t, index)},
	)
	require.NoError(t, err)

	return script
}

// fund adds a confirmed transaction paying value to script.
func fund(r *chain.MemResolver, script []byte, value int64,
	height int32) {

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Index: uint32(height)}, nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(value, script))
	r.AddTx(tx, height)
}

// TestRecoverBranch checks that the scan follows used indexes until the gap
// limit is exhausted.
func TestRecoverBranch(t *testing.T) {
	t.Parallel()

	desc := testDescriptor(t)
	resolver := chain.NewMemResolver()
	fund(resolver, scriptAt(t, desc, ExternalBranch, 3), 1000, 10)
	fund(resolver, scriptAt(t, desc, ExternalBranch, 12), 2000, 11)

	// Index 30 lies beyond the gap after index 12 and stays unseen.
	fund(resolver, scriptAt(t, desc, ExternalBranch, 30), 4000, 12)

	result, err := RecoverBranch(
		context.Background(), resolver, desc,
		step(t, ExternalBranch), RecoveryConfig{GapLimit: 10},
	)
	require.NoError(t, err)

	// Window 0-9 finds 3, window 10-13 finds 12 and window 14-22 is
	// empty, ending the scan.
	require.Equal(t, []hdpath.UnhardenedIndex{
		step(t, 3), step(t, 12),
	}, result.Used.Used())
	require.EqualValues(t, 3000, result.Used.Balance())
	require.Equal(t, uint32(13), result.NextUnused)
	require.Equal(t, uint32(23), result.Scanned)
}

// TestRecoverAccount checks that both branches are scanned independently.
func TestRecoverAccount(t *testing.T) {
	t.Parallel()

	desc := testDescriptor(t)
	resolver := chain.NewMemResolver()
	fund(resolver, scriptAt(t, desc, ExternalBranch, 0), 1000, 10)
	fund(resolver, scriptAt(t, desc, InternalBranch, 4), 2000, 11)

	result, err := RecoverAccount(
		context.Background(), resolver, desc, RecoveryConfig{},
	)
	require.NoError(t, err)

	require.Equal(t, uint32(1), result.External.NextUnused)
	require.Equal(t, uint32(DefaultGapLimit+1), result.External.Scanned)
	require.EqualValues(t, 1000, result.External.Used.Balance())

	require.Equal(t, uint32(5), result.Internal.NextUnused)
	require.Equal(t, uint32(DefaultGapLimit+5), result.Internal.Scanned)
	require.EqualValues(t, 2000, result.Internal.Used.Balance())
}

// scriptedResolver answers each batch with empty sets after consulting an
// optional per-call error hook.
type scriptedResolver struct {
	calls   [][][]byte
	failure func(call int) error
}

// ResolveUtxo records the batch and answers it.
func (s *scriptedResolver) ResolveUtxo(_ context.Context,
	scripts [][]byte) ([]fn.Set[chain.Utxo], error) {

	s.calls = append(s.calls, scripts)
	if s.failure != nil {
		if err := s.failure(len(s.calls) - 1); err != nil {
			return nil, err
		}
	}

	sets := make([]fn.Set[chain.Utxo], len(scripts))
	for i := range sets {
		sets[i] = fn.NewSet[chain.Utxo]()
	}

	return sets, nil
}

// TestRecoverBranchInvalidChild checks that an index reported as an invalid
// child is skipped and replaced by the next index.
func TestRecoverBranchInvalidChild(t *testing.T) {
	t.Parallel()

	desc := testDescriptor(t)
	resolver := &scriptedResolver{
		failure: func(call int) error {
			if call != 0 {
				return nil
			}

			return &descriptor.DeriveError{
				Terminal: []uint32{ExternalBranch, 4},
				Err:      hdkeychain.ErrInvalidChild,
			}
		},
	}

	result, err := RecoverBranch(
		context.Background(), resolver, desc,
		step(t, ExternalBranch), RecoveryConfig{GapLimit: 10},
	)
	require.NoError(t, err)
	require.Len(t, resolver.calls, 2)

	// The retry covers 0-3 and 5-10 so that the gap still holds ten
	// valid indexes.
	var want [][]byte
	for _, idx := range []uint32{0, 1, 2, 3, 5, 6, 7, 8, 9, 10} {
		want = append(want, scriptAt(t, desc, ExternalBranch, idx))
	}
	require.Equal(t, want, resolver.calls[1])
	require.Equal(t, uint32(10), result.Scanned)
	require.Zero(t, result.NextUnused)
	require.Zero(t, result.Used.Len())
}

// TestRecoverBranchResolverError checks that resolver failures abort the
// scan.
func TestRecoverBranchResolverError(t *testing.T) {
	t.Parallel()

	errBackend := errors.New("backend down")
	resolver := &scriptedResolver{
		failure: func(int) error { return errBackend },
	}

	_, err := RecoverBranch(
		context.Background(), resolver, testDescriptor(t),
		step(t, InternalBranch), RecoveryConfig{},
	)
	require.ErrorIs(t, err, errBackend)
	require.Len(t, resolver.calls, 1)
}

// TestInvalidChildIndex checks which errors are treated as skippable.
func TestInvalidChildIndex(t *testing.T) {
	t.Parallel()

	idx, ok := invalidChildIndex(&descriptor.DeriveError{
		Terminal: []uint32{1, 9},
		Err:      hdkeychain.ErrInvalidChild,
	})
	require.True(t, ok)
	require.Equal(t, uint32(9), idx)

	_, ok = invalidChildIndex(&descriptor.DeriveError{
		Terminal: []uint32{1, 9},
		Err:      descriptor.ErrHardenedDerivation,
	})
	require.False(t, ok)

	_, ok = invalidChildIndex(hdkeychain.ErrInvalidChild)
	require.False(t, ok)
}
