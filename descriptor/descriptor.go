// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package descriptor implements output script descriptors whose keys are
// watch-only tracking accounts, and the derivation of concrete output scripts
// from them without any private key material.
package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/descwallet/waddrmgr"
)

const (
	// MaxMultiKeysP2SH is the most keys a multisig script can hold under
	// bare P2SH, where the redeem script is capped at 520 bytes.
	MaxMultiKeysP2SH = 15

	// MaxMultiKeys is the most keys a multisig script can hold under
	// P2WSH.
	MaxMultiKeys = 20
)

var (
	// ErrKeyCount is returned when a descriptor is given a different
	// number of keys than it has accounts.
	ErrKeyCount = errors.New("wrong number of keys for descriptor")

	// ErrBadThreshold is returned for a multisig threshold outside
	// [1, number of keys], or too many keys for the script type.
	ErrBadThreshold = errors.New("invalid multisig threshold")
)

// Descriptor is an output script template whose keys are tracking accounts.
// The set of templates is closed to the types of this package.
type Descriptor interface {
	// Accounts returns the key placeholders in template order.
	Accounts() []*waddrmgr.TrackingAccount

	// Script builds the output script from one concrete key per account,
	// given in Accounts order.
	Script(keys []*btcec.PublicKey) ([]byte, error)

	// IsTaproot reports whether the template produces taproot outputs.
	IsTaproot() bool

	// String returns the descriptor text with its checksum.
	String() string

	// body returns the descriptor text without checksum.
	body() string
}

// Pkh is the pkh(KEY) template paying to a P2PKH output.
type Pkh struct {
	Account *waddrmgr.TrackingAccount
}

// Wpkh is the wpkh(KEY) template paying to a P2WPKH output.
type Wpkh struct {
	Account *waddrmgr.TrackingAccount
}

// ShWpkh is the sh(wpkh(KEY)) template paying to a P2WPKH output nested in
// P2SH.
type ShWpkh struct {
	Account *waddrmgr.TrackingAccount
}

// Tr is the tr(KEY) template paying to a BIP0086 key path only taproot
// output.
type Tr struct {
	Account *waddrmgr.TrackingAccount
}

// MultiWrapper selects the script hash wrapping of a multisig template.
type MultiWrapper uint8

const (
	// WrapSh is sh(multi(...)).
	WrapSh MultiWrapper = iota

	// WrapWsh is wsh(multi(...)).
	WrapWsh

	// WrapShWsh is sh(wsh(multi(...))).
	WrapShWsh
)

// Multi is a threshold multisig template, either multi or the BIP0067
// sortedmulti variant, under one of the script hash wrappers.
type Multi struct {
	Wrapper   MultiWrapper
	Threshold int
	Sorted    bool
	Keys      []*waddrmgr.TrackingAccount
}

// NewMulti validates the threshold and key count of a multisig template.
func NewMulti(wrapper MultiWrapper, threshold int, sorted bool,
	keys ...*waddrmgr.TrackingAccount) (*Multi, error) {

	maxKeys := MaxMultiKeys
	if wrapper == WrapSh {
		maxKeys = MaxMultiKeysP2SH
	}

	switch {
	case wrapper > WrapShWsh:
		return nil, fmt.Errorf("unknown multisig wrapper %d", wrapper)

	case len(keys) == 0 || len(keys) > maxKeys:
		return nil, fmt.Errorf("%w: %d keys, max %d", ErrBadThreshold,
			len(keys), maxKeys)

	case threshold < 1 || threshold > len(keys):
		return nil, fmt.Errorf("%w: %d of %d", ErrBadThreshold,
			threshold, len(keys))
	}

	return &Multi{
		Wrapper:   wrapper,
		Threshold: threshold,
		Sorted:    sorted,
		Keys:      slices.Clone(keys),
	}, nil
}

// Accounts returns the single account of the template.
func (d *Pkh) Accounts() []*waddrmgr.TrackingAccount {
	return []*waddrmgr.TrackingAccount{d.Account}
}

// Script returns OP_DUP OP_HASH160 <hash160(key)> OP_EQUALVERIFY OP_CHECKSIG.
func (d *Pkh) Script(keys []*btcec.PublicKey) ([]byte, error) {
	key, err := singleKey(keys)
	if err != nil {
		return nil, err
	}

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(key.SerializeCompressed())).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// IsTaproot returns false.
func (d *Pkh) IsTaproot() bool { return false }

func (d *Pkh) body() string { return "pkh(" + d.Account.String() + ")" }

// String returns the descriptor text with checksum.
func (d *Pkh) String() string { return withChecksum(d.body()) }

// Accounts returns the single account of the template.
func (d *Wpkh) Accounts() []*waddrmgr.TrackingAccount {
	return []*waddrmgr.TrackingAccount{d.Account}
}

// Script returns OP_0 <hash160(key)>.
func (d *Wpkh) Script(keys []*btcec.PublicKey) ([]byte, error) {
	key, err := singleKey(keys)
	if err != nil {
		return nil, err
	}

	return p2wpkhScript(key)
}

// IsTaproot returns false.
func (d *Wpkh) IsTaproot() bool { return false }

func (d *Wpkh) body() string { return "wpkh(" + d.Account.String() + ")" }

// String returns the descriptor text with checksum.
func (d *Wpkh) String() string { return withChecksum(d.body()) }

// Accounts returns the single account of the template.
func (d *ShWpkh) Accounts() []*waddrmgr.TrackingAccount {
	return []*waddrmgr.TrackingAccount{d.Account}
}

// Script returns the P2SH script of the P2WPKH redeem script.
func (d *ShWpkh) Script(keys []*btcec.PublicKey) ([]byte, error) {
	key, err := singleKey(keys)
	if err != nil {
		return nil, err
	}

	redeem, err := p2wpkhScript(key)
	if err != nil {
		return nil, err
	}

	return p2shScript(redeem)
}

// IsTaproot returns false.
func (d *ShWpkh) IsTaproot() bool { return false }

func (d *ShWpkh) body() string {
	return "sh(wpkh(" + d.Account.String() + "))"
}

// String returns the descriptor text with checksum.
func (d *ShWpkh) String() string { return withChecksum(d.body()) }

// Accounts returns the single account of the template.
func (d *Tr) Accounts() []*waddrmgr.TrackingAccount {
	return []*waddrmgr.TrackingAccount{d.Account}
}

// Script returns OP_1 <output key>, the output key being the internal key
// tweaked with an empty script tree.
func (d *Tr) Script(keys []*btcec.PublicKey) ([]byte, error) {
	key, err := singleKey(keys)
	if err != nil {
		return nil, err
	}

	return txscript.PayToTaprootScript(
		txscript.ComputeTaprootKeyNoScript(key),
	)
}

// IsTaproot returns true.
func (d *Tr) IsTaproot() bool { return true }

func (d *Tr) body() string { return "tr(" + d.Account.String() + ")" }

// String returns the descriptor text with checksum.
func (d *Tr) String() string { return withChecksum(d.body()) }

// Accounts returns the cosigner accounts in template order.
func (d *Multi) Accounts() []*waddrmgr.TrackingAccount {
	return slices.Clone(d.Keys)
}

// WitnessScript returns the bare multisig script for the keys. For sorted
// templates the keys are ordered by their compressed encoding.
func (d *Multi) WitnessScript(keys []*btcec.PublicKey) ([]byte, error) {
	if len(keys) != len(d.Keys) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrKeyCount,
			len(keys), len(d.Keys))
	}

	serialized := make([][]byte, len(keys))
	for i, key := range keys {
		serialized[i] = key.SerializeCompressed()
	}

	if d.Sorted {
		slices.SortFunc(serialized, bytes.Compare)
	}

	builder := txscript.NewScriptBuilder().AddInt64(int64(d.Threshold))
	for _, key := range serialized {
		builder.AddData(key)
	}

	return builder.AddInt64(int64(len(serialized))).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
}

// Script returns the output script wrapping the multisig script.
func (d *Multi) Script(keys []*btcec.PublicKey) ([]byte, error) {
	witnessScript, err := d.WitnessScript(keys)
	if err != nil {
		return nil, err
	}

	switch d.Wrapper {
	case WrapSh:
		return p2shScript(witnessScript)

	case WrapWsh:
		return p2wshScript(witnessScript)

	case WrapShWsh:
		redeem, err := p2wshScript(witnessScript)
		if err != nil {
			return nil, err
		}

		return p2shScript(redeem)

	default:
		return nil, fmt.Errorf("unknown multisig wrapper %d", d.Wrapper)
	}
}

// IsTaproot returns false.
func (d *Multi) IsTaproot() bool { return false }

func (d *Multi) body() string {
	var b strings.Builder
	if d.Sorted {
		b.WriteString("sortedmulti(")
	} else {
		b.WriteString("multi(")
	}

	fmt.Fprintf(&b, "%d", d.Threshold)
	for _, key := range d.Keys {
		b.WriteString(",")
		b.WriteString(key.String())
	}
	b.WriteString(")")

	switch d.Wrapper {
	case WrapWsh:
		return "wsh(" + b.String() + ")"

	case WrapShWsh:
		return "sh(wsh(" + b.String() + "))"

	default:
		return "sh(" + b.String() + ")"
	}
}

// String returns the descriptor text with checksum.
func (d *Multi) String() string { return withChecksum(d.body()) }

// singleKey returns the only key of a single key template.
func singleKey(keys []*btcec.PublicKey) (*btcec.PublicKey, error) {
	if len(keys) != 1 {
		return nil, fmt.Errorf("%w: got %d, want 1", ErrKeyCount,
			len(keys))
	}

	return keys[0], nil
}

// p2wpkhScript returns OP_0 <hash160(key)>.
func p2wpkhScript(key *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(key.SerializeCompressed())).
		Script()
}

// p2shScript returns OP_HASH160 <hash160(redeem)> OP_EQUAL.
func p2shScript(redeem []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(redeem)).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// p2wshScript returns OP_0 <sha256(witnessScript)>.
func p2wshScript(witnessScript []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(chainhash.HashB(witnessScript)).
		Script()
}
