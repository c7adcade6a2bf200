// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// HardenedIndexBoundary is the BIP32 boundary at and above which a raw child
// number denotes a hardened derivation.
const HardenedIndexBoundary = hdkeychain.HardenedKeyStart

// SegmentIndex is the set of index kinds a DerivationSubpath may be built
// from. The kind of a segment is carried by its type, so a subpath can never
// mix hardened and unhardened segments.
type SegmentIndex interface {
	UnhardenedIndex | HardenedIndex

	// FirstIndex returns the raw BIP32 child number of the segment,
	// including the hardened bit for hardened segments.
	FirstIndex() uint32

	// Index returns the logical index of the segment, i.e. the child
	// number with the hardened bit cleared.
	Index() uint32

	// IsHardened reports whether the segment is a hardened derivation.
	IsHardened() bool

	// String returns the textual form of the segment.
	String() string
}

// UnhardenedIndex is a child number in [0, 2^31). Unhardened children can be
// derived from an extended public key alone.
//
// The zero value is the valid index 0.
type UnhardenedIndex struct {
	index uint32
}

// HardenedIndex is a child number in [2^31, 2^32). Deriving a hardened child
// requires the extended private key.
//
// The zero value is the valid index 0'.
type HardenedIndex struct {
	// index is the logical index with the hardened bit cleared.
	index uint32
}

// AccountStep is a segment used at the account level of a derivation path,
// which is always hardened.
type AccountStep = HardenedIndex

// TerminalStep is a segment used below the account level, i.e. the branch and
// address index, which is always unhardened so watch-only derivation works.
type TerminalStep = UnhardenedIndex

// NewUnhardenedIndex returns the unhardened index for the raw child number v.
// It fails if v has the hardened bit set.
func NewUnhardenedIndex(v uint32) (UnhardenedIndex, error) {
	if v >= HardenedIndexBoundary {
		str := fmt.Sprintf("child number %d is not an unhardened index",
			v)
		return UnhardenedIndex{}, newError(ErrIndexRange, str, nil)
	}

	return UnhardenedIndex{index: v}, nil
}

// NewHardenedIndex returns the hardened index for the raw child number v. It
// fails unless v has the hardened bit set.
func NewHardenedIndex(v uint32) (HardenedIndex, error) {
	if v < HardenedIndexBoundary {
		str := fmt.Sprintf("child number %d is not a hardened index", v)
		return HardenedIndex{}, newError(ErrIndexRange, str, nil)
	}

	return HardenedIndex{index: v - HardenedIndexBoundary}, nil
}

// HardenedIndexFromIndex returns the hardened index i', for a logical index
// i below 2^31. This is how scheme constants such as 84' are written.
func HardenedIndexFromIndex(i uint32) (HardenedIndex, error) {
	if i >= HardenedIndexBoundary {
		str := fmt.Sprintf("index %d cannot be hardened", i)
		return HardenedIndex{}, newError(ErrIndexRange, str, nil)
	}

	return HardenedIndex{index: i}, nil
}

// FirstIndex returns the raw BIP32 child number.
func (u UnhardenedIndex) FirstIndex() uint32 {
	return u.index
}

// Index returns the logical index, which is the raw child number for
// unhardened indexes.
func (u UnhardenedIndex) Index() uint32 {
	return u.index
}

// IsHardened always returns false.
func (u UnhardenedIndex) IsHardened() bool {
	return false
}

// CheckedAdd returns u+offset, failing if the result would reach the
// hardened boundary.
func (u UnhardenedIndex) CheckedAdd(offset uint32) (UnhardenedIndex, error) {
	sum := uint64(u.index) + uint64(offset)
	if sum >= uint64(HardenedIndexBoundary) {
		str := fmt.Sprintf("%d+%d crosses the hardened boundary",
			u.index, offset)
		return UnhardenedIndex{}, newError(ErrIndexRange, str, nil)
	}

	return UnhardenedIndex{index: uint32(sum)}, nil
}

// String returns the decimal form of the index.
func (u UnhardenedIndex) String() string {
	return strconv.FormatUint(uint64(u.index), 10)
}

// FirstIndex returns the raw BIP32 child number, with the hardened bit set.
func (h HardenedIndex) FirstIndex() uint32 {
	return h.index + HardenedIndexBoundary
}

// Index returns the logical index with the hardened bit cleared.
func (h HardenedIndex) Index() uint32 {
	return h.index
}

// IsHardened always returns true.
func (h HardenedIndex) IsHardened() bool {
	return true
}

// CheckedAdd returns h+offset, failing if the result would overflow 32 bits.
func (h HardenedIndex) CheckedAdd(offset uint32) (HardenedIndex, error) {
	sum := uint64(h.index) + uint64(offset)
	if sum >= uint64(HardenedIndexBoundary) {
		str := fmt.Sprintf("%d'+%d overflows the hardened range",
			h.index, offset)
		return HardenedIndex{}, newError(ErrIndexRange, str, nil)
	}

	return HardenedIndex{index: uint32(sum)}, nil
}

// String returns the index in the "n'" notation.
func (h HardenedIndex) String() string {
	return strconv.FormatUint(uint64(h.index), 10) + "'"
}

// ParseUnhardenedIndex parses the decimal form of an unhardened index.
func ParseUnhardenedIndex(s string) (UnhardenedIndex, error) {
	v, err := parseIndexNumber(s)
	if err != nil {
		return UnhardenedIndex{}, err
	}

	return NewUnhardenedIndex(v)
}

// ParseHardenedIndex parses a hardened index written as "n'" or "nh". The
// hardened marker is required.
func ParseHardenedIndex(s string) (HardenedIndex, error) {
	trimmed, ok := trimHardenedMarker(s)
	if !ok {
		str := fmt.Sprintf("segment %q has no hardened marker", s)
		return HardenedIndex{}, newError(ErrIndexRange, str, nil)
	}

	v, err := parseIndexNumber(trimmed)
	if err != nil {
		return HardenedIndex{}, err
	}

	return HardenedIndexFromIndex(v)
}

// trimHardenedMarker strips a trailing hardened marker, reporting whether one
// was found.
func trimHardenedMarker(s string) (string, bool) {
	for _, marker := range []string{"'", "h", "H"} {
		if strings.HasSuffix(s, marker) {
			return strings.TrimSuffix(s, marker), true
		}
	}

	return s, false
}

// parseIndexNumber parses a plain decimal child number.
func parseIndexNumber(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		str := fmt.Sprintf("invalid index %q", s)
		return 0, newError(ErrMalformedPath, str, err)
	}

	return uint32(v), nil
}

// parseSegment parses a single segment through the parser of its kind.
func parseSegment[S SegmentIndex](s string) (S, error) {
	var seg S

	switch p := any(&seg).(type) {
	case *UnhardenedIndex:
		idx, err := ParseUnhardenedIndex(s)
		if err != nil {
			return seg, err
		}
		*p = idx

	case *HardenedIndex:
		idx, err := ParseHardenedIndex(s)
		if err != nil {
			return seg, err
		}
		*p = idx
	}

	return seg, nil
}

// segmentFromRaw builds a segment of kind S from a raw child number,
// rejecting numbers that belong to the other kind.
func segmentFromRaw[S SegmentIndex](v uint32) (S, error) {
	var seg S

	switch p := any(&seg).(type) {
	case *UnhardenedIndex:
		idx, err := NewUnhardenedIndex(v)
		if err != nil {
			return seg, err
		}
		*p = idx

	case *HardenedIndex:
		idx, err := NewHardenedIndex(v)
		if err != nil {
			return seg, err
		}
		*p = idx
	}

	return seg, nil
}
