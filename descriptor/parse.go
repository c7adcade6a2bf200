// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/descwallet/waddrmgr"
)

var (
	// ErrMalformedDescriptor is returned when descriptor text can't be
	// parsed.
	ErrMalformedDescriptor = errors.New("malformed descriptor")

	// ErrBadChecksum is returned when a descriptor checksum doesn't match
	// its text.
	ErrBadChecksum = errors.New("descriptor checksum mismatch")
)

const (
	// checksumLen is the length of a descriptor checksum.
	checksumLen = 8

	// inputCharset lists the characters a descriptor may contain, grouped
	// so that case errors and common typos stay detectable.
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// checksumCharset is the bech32 character set.
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

// polyMod feeds one 5-bit value into the checksum state.
func polyMod(c uint64, val int) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ uint64(val)

	if c0&1 != 0 {
		c ^= 0xf5dee51989
	}
	if c0&2 != 0 {
		c ^= 0xa9fdca3312
	}
	if c0&4 != 0 {
		c ^= 0x1bab10e32d
	}
	if c0&8 != 0 {
		c ^= 0x3706b1677a
	}
	if c0&16 != 0 {
		c ^= 0x644d626ffd
	}

	return c
}

// Checksum returns the 8 character checksum of descriptor text.
func Checksum(s string) (string, error) {
	c := uint64(1)
	cls, clsCount := 0, 0
	for _, ch := range s {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", fmt.Errorf("%w: invalid character %q",
				ErrMalformedDescriptor, ch)
		}

		c = polyMod(c, pos&31)
		cls = cls*3 + pos>>5
		clsCount++

		if clsCount == 3 {
			c = polyMod(c, cls)
			cls, clsCount = 0, 0
		}
	}

	if clsCount > 0 {
		c = polyMod(c, cls)
	}
	for range checksumLen {
		c = polyMod(c, 0)
	}
	c ^= 1

	var sum [checksumLen]byte
	for j := range checksumLen {
		sum[j] = checksumCharset[(c>>(5*(7-j)))&31]
	}

	return string(sum[:]), nil
}

// withChecksum appends "#checksum" to descriptor text.
func withChecksum(body string) string {
	sum, err := Checksum(body)
	if err != nil {
		return body
	}

	return body + "#" + sum
}

// Parse parses descriptor text. The checksum is optional, but verified when
// present. Keys must be account keys in [fingerprint/path]xpub form, the
// terminal path being supplied at derivation time.
func Parse(s string) (Descriptor, error) {
	body, sum, hasSum := strings.Cut(strings.TrimSpace(s), "#")
	if hasSum {
		want, err := Checksum(body)
		if err != nil {
			return nil, err
		}

		if sum != want {
			return nil, fmt.Errorf("%w: got %q, want %q",
				ErrBadChecksum, sum, want)
		}
	}

	d, err := parseBody(body)
	if err != nil {
		return nil, err
	}

	log.Debugf("Parsed descriptor %v", d)

	return d, nil
}

// unwrapCall returns the argument text of name(...).
func unwrapCall(s, name string) (string, bool) {
	if !strings.HasPrefix(s, name+"(") || !strings.HasSuffix(s, ")") {
		return "", false
	}

	return s[len(name)+1 : len(s)-1], true
}

func parseBody(s string) (Descriptor, error) {
	if inner, ok := unwrapCall(s, "pkh"); ok {
		acct, err := parseKey(inner)
		if err != nil {
			return nil, err
		}

		return &Pkh{Account: acct}, nil
	}

	if inner, ok := unwrapCall(s, "wpkh"); ok {
		acct, err := parseKey(inner)
		if err != nil {
			return nil, err
		}

		return &Wpkh{Account: acct}, nil
	}

	if inner, ok := unwrapCall(s, "tr"); ok {
		acct, err := parseKey(inner)
		if err != nil {
			return nil, err
		}

		return &Tr{Account: acct}, nil
	}

	if inner, ok := unwrapCall(s, "wsh"); ok {
		return parseMulti(inner, WrapWsh)
	}

	inner, ok := unwrapCall(s, "sh")
	if !ok {
		return nil, fmt.Errorf("%w: unsupported descriptor %q",
			ErrMalformedDescriptor, s)
	}

	if key, ok := unwrapCall(inner, "wpkh"); ok {
		acct, err := parseKey(key)
		if err != nil {
			return nil, err
		}

		return &ShWpkh{Account: acct}, nil
	}

	if multi, ok := unwrapCall(inner, "wsh"); ok {
		return parseMulti(multi, WrapShWsh)
	}

	return parseMulti(inner, WrapSh)
}

func parseMulti(s string, wrapper MultiWrapper) (Descriptor, error) {
	sorted := true
	inner, ok := unwrapCall(s, "sortedmulti")
	if !ok {
		sorted = false
		inner, ok = unwrapCall(s, "multi")
	}
	if !ok {
		return nil, fmt.Errorf("%w: expected multi or sortedmulti in %q",
			ErrMalformedDescriptor, s)
	}

	args := strings.Split(inner, ",")
	if len(args) < 2 {
		return nil, fmt.Errorf("%w: multisig needs a threshold and keys",
			ErrMalformedDescriptor)
	}

	threshold, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: threshold %q",
			ErrMalformedDescriptor, args[0])
	}

	keys := make([]*waddrmgr.TrackingAccount, 0, len(args)-1)
	for _, arg := range args[1:] {
		acct, err := parseKey(arg)
		if err != nil {
			return nil, err
		}

		keys = append(keys, acct)
	}

	return NewMulti(wrapper, threshold, sorted, keys...)
}

func parseKey(s string) (*waddrmgr.TrackingAccount, error) {
	acct, err := waddrmgr.ParseTrackingAccount(s)
	if err != nil {
		return nil, fmt.Errorf("%w: key %q: %w", ErrMalformedDescriptor,
			s, err)
	}

	return acct, nil
}
