// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/descwallet/hdpath"
	"github.com/btcsuite/descwallet/waddrmgr"
)

var (
	// ErrHardenedDerivation is returned when a terminal path holds a
	// hardened segment, which can't be derived from a public key.
	ErrHardenedDerivation = errors.New("hardened derivation requires " +
		"private key")

	// ErrEmptyTerminal is returned when no terminal path is given.
	ErrEmptyTerminal = errors.New("empty terminal path")

	// ErrNotTaproot is returned when asking a non-taproot descriptor for
	// taproot key origins.
	ErrNotTaproot = errors.New("descriptor is not taproot")

	// ErrNoDefaultDescriptor is returned when a scheme has no single key
	// descriptor convention.
	ErrNoDefaultDescriptor = errors.New("no default descriptor for scheme")

	// ErrNonStandardScript is returned when a derived script has no
	// address form.
	ErrNonStandardScript = errors.New("script has no address")
)

// DeriveError is returned when the key of one account can't be derived along
// a terminal path. Err is ErrHardenedDerivation, ErrEmptyTerminal or
// hdkeychain.ErrInvalidChild for the BIP0032 case of an invalid child key.
type DeriveError struct {
	// Fingerprint is the master key fingerprint of the account.
	Fingerprint uint32

	// AccountPath is the account level path of the account.
	AccountPath string

	// Terminal holds the raw terminal child numbers.
	Terminal []uint32

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DeriveError) Error() string {
	return fmt.Sprintf("derive [%s%s]%s: %v",
		waddrmgr.FormatFingerprint(e.Fingerprint), e.AccountPath,
		formatRaw(e.Terminal), e.Err)
}

// Unwrap returns the underlying error.
func (e *DeriveError) Unwrap() error {
	return e.Err
}

// formatRaw renders raw child numbers as "/a/b'" with hardened markers.
func formatRaw(raw []uint32) string {
	var b strings.Builder
	for _, child := range raw {
		b.WriteString(hdpath.PathSeparator)
		if child >= hdpath.HardenedIndexBoundary {
			b.WriteString(strconv.FormatUint(
				uint64(child-hdpath.HardenedIndexBoundary), 10,
			))
			b.WriteString("'")

			continue
		}

		b.WriteString(strconv.FormatUint(uint64(child), 10))
	}

	return b.String()
}

// deriveKeys derives the key of every account of the descriptor along the
// terminal path.
func deriveKeys(d Descriptor,
	terminal []hdpath.TerminalStep) ([]*btcec.PublicKey, error) {

	accounts := d.Accounts()
	keys := make([]*btcec.PublicKey, len(accounts))
	for i, acct := range accounts {
		deriveErr := func(err error) error {
			raw := make([]uint32, len(terminal))
			for j, step := range terminal {
				raw[j] = step.FirstIndex()
			}

			return &DeriveError{
				Fingerprint: acct.MasterFingerprint(),
				AccountPath: acct.AccountPath().String(),
				Terminal:    raw,
				Err:         err,
			}
		}

		if len(terminal) == 0 {
			return nil, deriveErr(ErrEmptyTerminal)
		}

		key, err := acct.DerivePublicKey(terminal)
		if err != nil {
			return nil, deriveErr(err)
		}

		keys[i] = key
	}

	return keys, nil
}

// ScriptPubKey derives the output script of the descriptor at the terminal
// path below every account key. Only public keys are used.
func ScriptPubKey(d Descriptor, terminal []hdpath.TerminalStep) ([]byte,
	error) {

	keys, err := deriveKeys(d, terminal)
	if err != nil {
		return nil, err
	}

	script, err := d.Script(keys)
	if err != nil {
		return nil, err
	}

	log.Tracef("Derived script %v at %v", newLogClosure(func() string {
		return hex.EncodeToString(script)
	}), newLogClosure(func() string {
		return d.body() + formatTerminal(terminal)
	}))

	return script, nil
}

// formatTerminal renders terminal steps as "/a/b".
func formatTerminal(terminal []hdpath.TerminalStep) string {
	raw := make([]uint32, len(terminal))
	for i, step := range terminal {
		raw[i] = step.FirstIndex()
	}

	return formatRaw(raw)
}

// ScriptPubKeyRaw is ScriptPubKey for raw BIP0032 child numbers. A hardened
// child number fails with a DeriveError wrapping ErrHardenedDerivation.
func ScriptPubKeyRaw(d Descriptor, raw []uint32) ([]byte, error) {
	terminal := make([]hdpath.TerminalStep, len(raw))
	for i, child := range raw {
		step, err := hdpath.NewUnhardenedIndex(child)
		if err != nil {
			var fingerprint uint32
			var accountPath string
			if accounts := d.Accounts(); len(accounts) > 0 {
				fingerprint = accounts[0].MasterFingerprint()
				accountPath = accounts[0].AccountPath().String()
			}

			return nil, &DeriveError{
				Fingerprint: fingerprint,
				AccountPath: accountPath,
				Terminal:    slices.Clone(raw),
				Err:         ErrHardenedDerivation,
			}
		}

		terminal[i] = step
	}

	return ScriptPubKey(d, terminal)
}

// Address returns the address of the script derived at the terminal path.
func Address(d Descriptor, terminal []hdpath.TerminalStep,
	net *chaincfg.Params) (string, error) {

	script, err := ScriptPubKey(d, terminal)
	if err != nil {
		return "", err
	}

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, net)
	if err != nil {
		return "", err
	}

	if len(addrs) != 1 {
		return "", fmt.Errorf("%w: %x", ErrNonStandardScript, script)
	}

	return addrs[0].EncodeAddress(), nil
}

// Bip32Derivations returns the PSBT key origins of every key the descriptor
// derives at the terminal path, in account order.
func Bip32Derivations(d Descriptor,
	terminal hdpath.DerivationSubpath[hdpath.TerminalStep]) (
	[]*psbt.Bip32Derivation, error) {

	accounts := d.Accounts()
	derivations := make([]*psbt.Bip32Derivation, 0, len(accounts))
	for _, acct := range accounts {
		deriv, err := acct.Bip32Derivation(terminal)
		if err != nil {
			return nil, &DeriveError{
				Fingerprint: acct.MasterFingerprint(),
				AccountPath: acct.AccountPath().String(),
				Terminal:    terminal.Raw(),
				Err:         err,
			}
		}

		derivations = append(derivations, deriv)
	}

	return derivations, nil
}

// TaprootBip32Derivations returns the PSBT taproot key origins of the
// internal keys a taproot descriptor derives at the terminal path.
func TaprootBip32Derivations(d Descriptor,
	terminal hdpath.DerivationSubpath[hdpath.TerminalStep]) (
	[]*psbt.TaprootBip32Derivation, error) {

	if !d.IsTaproot() {
		return nil, ErrNotTaproot
	}

	accounts := d.Accounts()
	derivations := make([]*psbt.TaprootBip32Derivation, 0, len(accounts))
	for _, acct := range accounts {
		deriv, err := acct.TaprootBip32Derivation(terminal)
		if err != nil {
			return nil, &DeriveError{
				Fingerprint: acct.MasterFingerprint(),
				AccountPath: acct.AccountPath().String(),
				Terminal:    terminal.Raw(),
				Err:         err,
			}
		}

		derivations = append(derivations, deriv)
	}

	return derivations, nil
}

// ForAccount returns the single key descriptor conventionally used with the
// account's scheme: pkh for BIP0044, sh(wpkh) for BIP0049, wpkh for BIP0084
// and tr for BIP0086.
func ForAccount(acct *waddrmgr.TrackingAccount) (Descriptor, error) {
	scheme := acct.Scheme()
	switch {
	case scheme.Equal(waddrmgr.SchemeBIP0044):
		return &Pkh{Account: acct}, nil

	case scheme.Equal(waddrmgr.SchemeBIP0049):
		return &ShWpkh{Account: acct}, nil

	case scheme.Equal(waddrmgr.SchemeBIP0084):
		return &Wpkh{Account: acct}, nil

	case scheme.Equal(waddrmgr.SchemeBIP0086):
		return &Tr{Account: acct}, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrNoDefaultDescriptor, scheme)
	}
}
