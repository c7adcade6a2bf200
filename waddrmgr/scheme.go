// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/hdpath"
)

var (
	// ErrDerivePattern is returned when a derivation scheme can't produce
	// an account path for the given account number and parameters.
	ErrDerivePattern = errors.New("derivation scheme cannot produce " +
		"account path")

	// ErrUnknownScheme is returned when parsing an unknown scheme name.
	ErrUnknownScheme = errors.New("unknown derivation scheme")
)

// schemeKind enumerates the supported derivation conventions.
type schemeKind uint8

const (
	kindBIP0044 schemeKind = iota + 1
	kindBIP0045
	kindBIP0048
	kindBIP0049
	kindBIP0084
	kindBIP0086
	kindBIP0087
	kindExplicit
)

// BIP0048ScriptType is the script type level of a BIP0048 multisig account.
type BIP0048ScriptType uint32

const (
	// ScriptTypeNestedSegwit selects P2SH-P2WSH multisig, m/48'/c'/a'/1'.
	ScriptTypeNestedSegwit BIP0048ScriptType = 1

	// ScriptTypeNativeSegwit selects P2WSH multisig, m/48'/c'/a'/2'.
	ScriptTypeNativeSegwit BIP0048ScriptType = 2
)

// SchemeParams holds the inputs besides the account number that a scheme may
// need to produce an account path.
type SchemeParams struct {
	// CoinType is the BIP0044 coin type, e.g. 0 for mainnet and 1 for
	// every test network.
	CoinType uint32

	// ScriptType is only used by BIP0048.
	ScriptType BIP0048ScriptType
}

// ParamsForNet returns the scheme parameters for the given network, with the
// BIP0048 script type set to native segwit.
func ParamsForNet(net *chaincfg.Params) SchemeParams {
	return SchemeParams{
		CoinType:   net.HDCoinType,
		ScriptType: ScriptTypeNativeSegwit,
	}
}

// DerivationScheme is a template turning an account number into the hardened
// account level of a derivation path. The set of schemes is closed: the
// standard conventions below, plus explicit schemes built with
// NewExplicitScheme.
type DerivationScheme struct {
	kind schemeKind

	// prefix is the fixed part of an explicit scheme, placed before the
	// hardened account number.
	prefix []hdpath.AccountStep
}

var (
	// SchemeBIP0044 derives legacy single key accounts,
	// m/44'/coin'/account'.
	SchemeBIP0044 = DerivationScheme{kind: kindBIP0044}

	// SchemeBIP0045 derives the legacy P2SH multisig root m/45'. It has a
	// single account, the cosigner index being part of the unhardened
	// terminal path.
	SchemeBIP0045 = DerivationScheme{kind: kindBIP0045}

	// SchemeBIP0048 derives segwit multisig accounts,
	// m/48'/coin'/account'/script_type'.
	SchemeBIP0048 = DerivationScheme{kind: kindBIP0048}

	// SchemeBIP0049 derives P2WPKH-nested-in-P2SH accounts,
	// m/49'/coin'/account'.
	SchemeBIP0049 = DerivationScheme{kind: kindBIP0049}

	// SchemeBIP0084 derives P2WPKH accounts, m/84'/coin'/account'.
	SchemeBIP0084 = DerivationScheme{kind: kindBIP0084}

	// SchemeBIP0086 derives single key P2TR accounts,
	// m/86'/coin'/account'.
	SchemeBIP0086 = DerivationScheme{kind: kindBIP0086}

	// SchemeBIP0087 derives multisig accounts of any script type,
	// m/87'/coin'/account'.
	SchemeBIP0087 = DerivationScheme{kind: kindBIP0087}
)

// schemeNames maps standard schemes to their textual names.
var schemeNames = map[schemeKind]string{
	kindBIP0044: "bip44",
	kindBIP0045: "bip45",
	kindBIP0048: "bip48",
	kindBIP0049: "bip49",
	kindBIP0084: "bip84",
	kindBIP0086: "bip86",
	kindBIP0087: "bip87",
}

// schemePurposes maps standard schemes to their purpose field.
var schemePurposes = map[schemeKind]uint32{
	kindBIP0044: 44,
	kindBIP0045: 45,
	kindBIP0048: 48,
	kindBIP0049: 49,
	kindBIP0084: 84,
	kindBIP0086: 86,
	kindBIP0087: 87,
}

// StandardSchemes returns every standard derivation scheme.
func StandardSchemes() []DerivationScheme {
	return []DerivationScheme{
		SchemeBIP0044, SchemeBIP0045, SchemeBIP0048, SchemeBIP0049,
		SchemeBIP0084, SchemeBIP0086, SchemeBIP0087,
	}
}

// NewExplicitScheme returns a scheme producing prefix/account'. An empty
// prefix places the account directly below the master key.
func NewExplicitScheme(prefix ...hdpath.AccountStep) DerivationScheme {
	return DerivationScheme{
		kind:   kindExplicit,
		prefix: slices.Clone(prefix),
	}
}

// IsExplicit reports whether the scheme was built with NewExplicitScheme.
func (s DerivationScheme) IsExplicit() bool {
	return s.kind == kindExplicit
}

// Prefix returns the fixed prefix of an explicit scheme.
func (s DerivationScheme) Prefix() []hdpath.AccountStep {
	return slices.Clone(s.prefix)
}

// Purpose returns the BIP0043 purpose of a standard scheme.
func (s DerivationScheme) Purpose() (hdpath.HardenedIndex, bool) {
	purpose, ok := schemePurposes[s.kind]
	if !ok {
		return hdpath.HardenedIndex{}, false
	}

	// Purposes are small constants, this can't fail.
	idx, _ := hdpath.HardenedIndexFromIndex(purpose)

	return idx, true
}

// Equal reports whether both schemes produce the same paths.
func (s DerivationScheme) Equal(other DerivationScheme) bool {
	return s.kind == other.kind && slices.Equal(s.prefix, other.prefix)
}

// DeriveAccountPath returns the hardened account level path for the account
// number. It fails with ErrDerivePattern when the scheme has no path for the
// inputs.
func (s DerivationScheme) DeriveAccountPath(account uint32,
	params SchemeParams) (hdpath.DerivationSubpath[hdpath.AccountStep],
	error) {

	var empty hdpath.DerivationSubpath[hdpath.AccountStep]

	accountStep, err := hdpath.HardenedIndexFromIndex(account)
	if err != nil {
		return empty, fmt.Errorf("%w: %v account %d: %w",
			ErrDerivePattern, s, account, err)
	}

	if s.kind == kindExplicit {
		path := append(slices.Clone(s.prefix), accountStep)
		accountPath, err := hdpath.NewDerivationSubpath(path...)
		if err != nil {
			return empty, fmt.Errorf("%w: %v: %w", ErrDerivePattern,
				s, err)
		}

		return accountPath, nil
	}

	purpose, ok := s.Purpose()
	if !ok {
		return empty, fmt.Errorf("%w: uninitialized scheme",
			ErrDerivePattern)
	}

	if s.kind == kindBIP0045 {
		if account != 0 {
			return empty, fmt.Errorf("%w: %v has no account %d",
				ErrDerivePattern, s, account)
		}

		return hdpath.NewDerivationSubpath(purpose)
	}

	coin, err := hdpath.HardenedIndexFromIndex(params.CoinType)
	if err != nil {
		return empty, fmt.Errorf("%w: %v coin type %d: %w",
			ErrDerivePattern, s, params.CoinType, err)
	}

	path := []hdpath.AccountStep{purpose, coin, accountStep}

	if s.kind == kindBIP0048 {
		switch params.ScriptType {
		case ScriptTypeNestedSegwit, ScriptTypeNativeSegwit:
		default:
			return empty, fmt.Errorf("%w: %v script type %d",
				ErrDerivePattern, s, params.ScriptType)
		}

		scriptType, _ := hdpath.HardenedIndexFromIndex(
			uint32(params.ScriptType),
		)
		path = append(path, scriptType)
	}

	return hdpath.NewDerivationSubpath(path...)
}

// String returns the scheme name, or "m" followed by the prefix for explicit
// schemes.
func (s DerivationScheme) String() string {
	if s.kind == kindExplicit {
		var b strings.Builder
		b.WriteString("m")
		for _, step := range s.prefix {
			b.WriteString(hdpath.PathSeparator)
			b.WriteString(step.String())
		}

		return b.String()
	}

	if name, ok := schemeNames[s.kind]; ok {
		return name
	}

	return "unknown"
}

// ParseDerivationScheme parses a scheme name as returned by String.
func ParseDerivationScheme(s string) (DerivationScheme, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	for kind, name := range schemeNames {
		if s == name {
			return DerivationScheme{kind: kind}, nil
		}
	}

	rest, ok := strings.CutPrefix(s, "m")
	if !ok {
		return DerivationScheme{}, fmt.Errorf("%w: %q", ErrUnknownScheme,
			s)
	}

	if rest == "" {
		return NewExplicitScheme(), nil
	}

	prefix, err := hdpath.ParseDerivationSubpath[hdpath.AccountStep](rest)
	if err != nil {
		return DerivationScheme{}, fmt.Errorf("%w: %q: %w",
			ErrUnknownScheme, s, err)
	}

	return NewExplicitScheme(prefix.Segments()...), nil
}

// SchemeFromPath infers the scheme, account number and parameters that
// produce the given account path. Paths that match no standard scheme are
// mapped to an explicit scheme holding all but the last segment.
func SchemeFromPath(path hdpath.DerivationSubpath[hdpath.AccountStep]) (
	DerivationScheme, uint32, SchemeParams, error) {

	segments := path.Segments()
	if len(segments) == 0 {
		return DerivationScheme{}, 0, SchemeParams{},
			fmt.Errorf("%w: empty account path", ErrDerivePattern)
	}

	explicit := func() (DerivationScheme, uint32, SchemeParams, error) {
		last := segments[len(segments)-1]
		scheme := NewExplicitScheme(segments[:len(segments)-1]...)

		return scheme, last.Index(), SchemeParams{}, nil
	}

	var kind schemeKind
	for k, purpose := range schemePurposes {
		if segments[0].Index() == purpose {
			kind = k
		}
	}

	switch {
	case kind == kindBIP0045 && len(segments) == 1:
		return SchemeBIP0045, 0, SchemeParams{}, nil

	case kind == kindBIP0048 && len(segments) == 4:
		scriptType := BIP0048ScriptType(segments[3].Index())
		if scriptType != ScriptTypeNestedSegwit &&
			scriptType != ScriptTypeNativeSegwit {

			return explicit()
		}

		params := SchemeParams{
			CoinType:   segments[1].Index(),
			ScriptType: scriptType,
		}

		return SchemeBIP0048, segments[2].Index(), params, nil

	case kind != 0 && kind != kindBIP0045 && kind != kindBIP0048 &&
		len(segments) == 3:

		params := SchemeParams{CoinType: segments[1].Index()}

		return DerivationScheme{kind: kind}, segments[2].Index(),
			params, nil

	default:
		return explicit()
	}
}
