// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdpath

import (
	"fmt"
	"strings"
)

// masterPrefix is the textual prefix of a path rooted at the master key.
const masterPrefix = "m"

// SplitHardenedNormal splits a raw BIP32 path at its last hardened segment.
// The prefix holds every segment up to and including the last hardened one,
// the suffix the unhardened segments after it.
//
// Only the suffix can be derived from an extended public key, so the split
// marks where watch-only derivation may begin.
func SplitHardenedNormal(raw []uint32) ([]uint32, []UnhardenedIndex) {
	split := 0
	for i, v := range raw {
		if v >= HardenedIndexBoundary {
			split = i + 1
		}
	}

	prefix := make([]uint32, split)
	copy(prefix, raw[:split])

	suffix := make([]UnhardenedIndex, 0, len(raw)-split)
	for _, v := range raw[split:] {
		suffix = append(suffix, UnhardenedIndex{index: v})
	}

	return prefix, suffix
}

// FullPath is a path from the master key down to a single key: the hardened
// account level followed by the unhardened terminal level.
type FullPath struct {
	account  DerivationSubpath[AccountStep]
	terminal DerivationSubpath[TerminalStep]
}

// NewFullPath joins an account subpath and a terminal subpath.
func NewFullPath(account DerivationSubpath[AccountStep],
	terminal DerivationSubpath[TerminalStep]) (FullPath, error) {

	switch {
	case account.Len() == 0 || terminal.Len() == 0:
		return FullPath{}, newError(
			ErrEmptyPath, "full path needs account and terminal "+
				"segments", nil,
		)

	case account.Len()+terminal.Len() > MaxDepth:
		str := fmt.Sprintf("full path has %d segments, max is %d",
			account.Len()+terminal.Len(), MaxDepth)
		return FullPath{}, newError(ErrPathTooDeep, str, nil)
	}

	return FullPath{account: account, terminal: terminal}, nil
}

// ParseFullPath parses a path such as "m/84'/0'/0'/0/7". The path must hold a
// hardened account level followed by at least one unhardened segment.
func ParseFullPath(s string) (FullPath, error) {
	rest, ok := strings.CutPrefix(s, masterPrefix+PathSeparator)
	if !ok {
		str := fmt.Sprintf("full path %q must start with %q", s,
			masterPrefix+PathSeparator)
		return FullPath{}, newError(ErrMalformedPath, str, nil)
	}

	// Locate the last hardened segment textually, the remainder must be
	// the unhardened terminal part.
	tokens := strings.Split(rest, PathSeparator)
	split := 0
	for i, token := range tokens {
		if _, hardened := trimHardenedMarker(token); hardened {
			split = i + 1
		}
	}

	accountStr := PathSeparator + strings.Join(tokens[:split], PathSeparator)
	account, err := ParseDerivationSubpath[AccountStep](accountStr)
	if err != nil {
		return FullPath{}, err
	}

	terminalStr := PathSeparator + strings.Join(tokens[split:],
		PathSeparator)
	terminal, err := ParseDerivationSubpath[TerminalStep](terminalStr)
	if err != nil {
		return FullPath{}, err
	}

	return NewFullPath(account, terminal)
}

// Account returns the hardened account level of the path.
func (p FullPath) Account() DerivationSubpath[AccountStep] {
	return p.account
}

// Terminal returns the unhardened terminal level of the path.
func (p FullPath) Terminal() DerivationSubpath[TerminalStep] {
	return p.terminal
}

// Raw returns the BIP32 child numbers of the whole path.
func (p FullPath) Raw() []uint32 {
	return append(p.account.Raw(), p.terminal.Raw()...)
}

// String returns the path in "m/84'/0'/0'/0/7" form.
func (p FullPath) String() string {
	return masterPrefix + p.account.String() + p.terminal.String()
}
