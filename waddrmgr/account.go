// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/hdpath"
)

var (
	// ErrNilAccountKey is returned when no account key is given.
	ErrNilAccountKey = errors.New("account key is nil")

	// ErrAccountKeyMismatch is returned when the depth or child number of
	// an account key does not match the account path it claims to sit at.
	ErrAccountKeyMismatch = errors.New("account key does not match " +
		"account path")

	// ErrMalformedAccount is returned when the text form of a tracking
	// account can't be parsed.
	ErrMalformedAccount = errors.New("malformed tracking account")
)

// MasterFingerprint returns the BIP0032 fingerprint of a master key, encoded
// the way PSBT key origins carry it.
func MasterFingerprint(master *hdkeychain.ExtendedKey) (uint32, error) {
	pubKey, err := master.ECPubKey()
	if err != nil {
		return 0, err
	}

	hash := btcutil.Hash160(pubKey.SerializeCompressed())

	return binary.LittleEndian.Uint32(hash[:4]), nil
}

// FormatFingerprint returns the 8 character hex form of a fingerprint.
func FormatFingerprint(fingerprint uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], fingerprint)

	return hex.EncodeToString(b[:])
}

// ParseFingerprint parses the 8 character hex form of a fingerprint.
func ParseFingerprint(s string) (uint32, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 4 {
		return 0, fmt.Errorf("%w: bad fingerprint %q",
			ErrMalformedAccount, s)
	}

	return binary.LittleEndian.Uint32(b), nil
}

// TrackingAccount is a watch-only account: the extended public key found at
// the hardened account path of a derivation scheme, plus the fingerprint of
// the master key it descends from. It never holds private key material, so
// it can be shared freely between goroutines.
type TrackingAccount struct {
	masterFingerprint uint32
	accountKey        *hdkeychain.ExtendedKey
	scheme            DerivationScheme
	accountNumber     uint32
	params            SchemeParams
	accountPath       hdpath.DerivationSubpath[hdpath.AccountStep]
}

// NewTrackingAccount creates a tracking account for the given account of a
// scheme. A private account key is neutered. The key's depth and child number
// must match the account path the scheme yields.
func NewTrackingAccount(fingerprint uint32, accountKey *hdkeychain.ExtendedKey,
	scheme DerivationScheme, account uint32,
	params SchemeParams) (*TrackingAccount, error) {

	if accountKey == nil {
		return nil, ErrNilAccountKey
	}

	path, err := scheme.DeriveAccountPath(account, params)
	if err != nil {
		return nil, err
	}

	if int(accountKey.Depth()) != path.Len() {
		return nil, fmt.Errorf("%w: key depth %d, path %v",
			ErrAccountKeyMismatch, accountKey.Depth(), path)
	}

	if accountKey.ChildIndex() != path.Last().FirstIndex() {
		return nil, fmt.Errorf("%w: key child %d, path %v",
			ErrAccountKeyMismatch, accountKey.ChildIndex(), path)
	}

	if accountKey.IsPrivate() {
		accountKey, err = accountKey.Neuter()
		if err != nil {
			return nil, fmt.Errorf("neuter account key: %w", err)
		}
	}

	return &TrackingAccount{
		masterFingerprint: fingerprint,
		accountKey:        accountKey,
		scheme:            scheme,
		accountNumber:     account,
		params:            params,
		accountPath:       path,
	}, nil
}

// MasterFingerprint returns the fingerprint of the master key.
func (a *TrackingAccount) MasterFingerprint() uint32 {
	return a.masterFingerprint
}

// AccountKey returns the extended public key of the account.
func (a *TrackingAccount) AccountKey() *hdkeychain.ExtendedKey {
	return a.accountKey
}

// Scheme returns the derivation scheme of the account.
func (a *TrackingAccount) Scheme() DerivationScheme {
	return a.scheme
}

// AccountNumber returns the account number within the scheme.
func (a *TrackingAccount) AccountNumber() uint32 {
	return a.accountNumber
}

// Params returns the scheme parameters the account path was built with.
func (a *TrackingAccount) Params() SchemeParams {
	return a.params
}

// AccountPath returns the hardened path from the master key to the account
// key.
func (a *TrackingAccount) AccountPath() hdpath.DerivationSubpath[
	hdpath.AccountStep] {

	return a.accountPath
}

// IsForNet reports whether the account key belongs to the given network.
func (a *TrackingAccount) IsForNet(net *chaincfg.Params) bool {
	return a.accountKey.IsForNet(net)
}

// FullPath returns the path from the master key through the account key and
// the terminal path.
func (a *TrackingAccount) FullPath(
	terminal hdpath.DerivationSubpath[hdpath.TerminalStep]) (
	hdpath.FullPath, error) {

	return hdpath.NewFullPath(a.accountPath, terminal)
}

// DerivePublicKey derives the public key at the terminal path below the
// account key. It fails with hdkeychain.ErrInvalidChild in the astronomically
// rare case that one of the steps yields an invalid key.
func (a *TrackingAccount) DerivePublicKey(
	terminal []hdpath.TerminalStep) (*btcec.PublicKey, error) {

	key := a.accountKey
	for _, step := range terminal {
		var err error
		key, err = key.Derive(step.FirstIndex())
		if err != nil {
			return nil, err
		}
	}

	return key.ECPubKey()
}

// Bip32Derivation returns the PSBT key origin of the public key at the
// terminal path.
func (a *TrackingAccount) Bip32Derivation(
	terminal hdpath.DerivationSubpath[hdpath.TerminalStep]) (
	*psbt.Bip32Derivation, error) {

	fullPath, err := a.FullPath(terminal)
	if err != nil {
		return nil, err
	}

	pubKey, err := a.DerivePublicKey(terminal.Segments())
	if err != nil {
		return nil, err
	}

	return &psbt.Bip32Derivation{
		PubKey:               pubKey.SerializeCompressed(),
		MasterKeyFingerprint: a.masterFingerprint,
		Bip32Path:            fullPath.Raw(),
	}, nil
}

// TaprootBip32Derivation returns the PSBT taproot key origin of the x-only
// internal key at the terminal path.
func (a *TrackingAccount) TaprootBip32Derivation(
	terminal hdpath.DerivationSubpath[hdpath.TerminalStep]) (
	*psbt.TaprootBip32Derivation, error) {

	fullPath, err := a.FullPath(terminal)
	if err != nil {
		return nil, err
	}

	pubKey, err := a.DerivePublicKey(terminal.Segments())
	if err != nil {
		return nil, err
	}

	return &psbt.TaprootBip32Derivation{
		XOnlyPubKey:          schnorr.SerializePubKey(pubKey),
		MasterKeyFingerprint: a.masterFingerprint,
		Bip32Path:            fullPath.Raw(),
	}, nil
}

// Equal reports whether both accounts track the same key at the same path.
func (a *TrackingAccount) Equal(other *TrackingAccount) bool {
	return a.masterFingerprint == other.masterFingerprint &&
		a.scheme.Equal(other.scheme) &&
		a.accountNumber == other.accountNumber &&
		a.accountPath.Equal(other.accountPath) &&
		a.accountKey.String() == other.accountKey.String()
}

// String returns the account in key origin form, [fingerprint/path]xpub.
func (a *TrackingAccount) String() string {
	return fmt.Sprintf("[%s%v]%s", FormatFingerprint(a.masterFingerprint),
		a.accountPath, a.accountKey)
}

// ParseTrackingAccount parses an account in key origin form. The scheme is
// inferred from the path with SchemeFromPath.
func ParseTrackingAccount(s string) (*TrackingAccount, error) {
	origin, ok := strings.CutPrefix(s, "[")
	if !ok {
		return nil, fmt.Errorf("%w: missing key origin", ErrMalformedAccount)
	}

	origin, xpub, ok := strings.Cut(origin, "]")
	if !ok {
		return nil, fmt.Errorf("%w: unterminated key origin",
			ErrMalformedAccount)
	}

	fpText, pathText, ok := strings.Cut(origin, hdpath.PathSeparator)
	if !ok {
		return nil, fmt.Errorf("%w: missing account path",
			ErrMalformedAccount)
	}

	fingerprint, err := ParseFingerprint(fpText)
	if err != nil {
		return nil, err
	}

	path, err := hdpath.ParseDerivationSubpath[hdpath.AccountStep](
		hdpath.PathSeparator + pathText,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAccount, err)
	}

	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAccount, err)
	}

	scheme, account, params, err := SchemeFromPath(path)
	if err != nil {
		return nil, err
	}

	return NewTrackingAccount(fingerprint, key, scheme, account, params)
}
