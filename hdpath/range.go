// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdpath

import (
	"bytes"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"

	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// rangeSeparator separates the bounds of an IndexRange.
	rangeSeparator = "-"

	// listSeparator separates the ranges of an IndexRangeList.
	listSeparator = ","
)

// IndexRange is an inclusive interval [start, end] of unhardened indexes.
type IndexRange struct {
	start UnhardenedIndex
	end   UnhardenedIndex
}

// NewIndexRange returns the range [start, end]. It fails if start > end.
func NewIndexRange(start, end UnhardenedIndex) (IndexRange, error) {
	if start.index > end.index {
		str := fmt.Sprintf("range start %v is past its end %v", start,
			end)
		return IndexRange{}, newError(ErrInvalidRange, str, nil)
	}

	return IndexRange{start: start, end: end}, nil
}

// NewIndexRangeRaw returns the range [start, end] from raw child numbers,
// both of which must be unhardened.
func NewIndexRangeRaw(start, end uint32) (IndexRange, error) {
	s, err := NewUnhardenedIndex(start)
	if err != nil {
		return IndexRange{}, err
	}

	e, err := NewUnhardenedIndex(end)
	if err != nil {
		return IndexRange{}, err
	}

	return NewIndexRange(s, e)
}

// SingleIndexRange returns the range holding only idx.
func SingleIndexRange(idx UnhardenedIndex) IndexRange {
	return IndexRange{start: idx, end: idx}
}

// Start returns the first index of the range.
func (r IndexRange) Start() UnhardenedIndex {
	return r.start
}

// End returns the last index of the range.
func (r IndexRange) End() UnhardenedIndex {
	return r.end
}

// Count returns the number of indexes in the range.
func (r IndexRange) Count() uint32 {
	return r.end.index - r.start.index + 1
}

// Contains reports whether idx lies within the range.
func (r IndexRange) Contains(idx UnhardenedIndex) bool {
	return r.start.index <= idx.index && idx.index <= r.end.index
}

// Indexes yields every index of the range in ascending order.
func (r IndexRange) Indexes() iter.Seq[UnhardenedIndex] {
	return func(yield func(UnhardenedIndex) bool) {
		for i := r.start.index; ; i++ {
			if !yield(UnhardenedIndex{index: i}) || i == r.end.index {
				return
			}
		}
	}
}

// touches reports whether r and other overlap or are adjacent, in which case
// they can be merged into a single range.
func (r IndexRange) touches(other IndexRange) bool {
	// Indexes are below 2^31 so the +1 can't overflow.
	return r.start.index <= other.end.index+1 &&
		other.start.index <= r.end.index+1
}

// String returns "start-end", or just "start" for a single index range.
func (r IndexRange) String() string {
	if r.start == r.end {
		return r.start.String()
	}

	return r.start.String() + rangeSeparator + r.end.String()
}

// ParseIndexRange parses a range written as "start-end" or as a single index.
func ParseIndexRange(s string) (IndexRange, error) {
	startStr, endStr, found := strings.Cut(s, rangeSeparator)
	if !found {
		endStr = startStr
	}

	start, err := ParseUnhardenedIndex(startStr)
	if err != nil {
		str := fmt.Sprintf("invalid range %q", s)
		return IndexRange{}, newError(ErrInvalidRange, str, err)
	}

	end, err := ParseUnhardenedIndex(endStr)
	if err != nil {
		str := fmt.Sprintf("invalid range %q", s)
		return IndexRange{}, newError(ErrInvalidRange, str, err)
	}

	return NewIndexRange(start, end)
}

// IndexRangeList is a set of unhardened indexes stored as ranges. The ranges
// are kept sorted, with overlapping and adjacent ranges merged, so each index
// is represented exactly once.
//
// The zero value is an empty list ready for use.
type IndexRangeList struct {
	ranges []IndexRange
}

// NewIndexRangeList returns a list holding the union of the given ranges.
func NewIndexRangeList(ranges ...IndexRange) IndexRangeList {
	var l IndexRangeList
	for _, r := range ranges {
		l.Insert(r)
	}

	return l
}

// Insert adds the range to the list, merging it with any range it overlaps
// or is adjacent to.
func (l *IndexRangeList) Insert(r IndexRange) {
	// Find the first stored range that may touch r. Everything before it
	// ends more than one index before r starts.
	i, _ := slices.BinarySearchFunc(l.ranges, r,
		func(stored, target IndexRange) int {
			if stored.end.index+1 < target.start.index {
				return -1
			}

			return 1
		},
	)

	// Absorb every following range touching the one being inserted.
	j := i
	for j < len(l.ranges) && l.ranges[j].touches(r) {
		if l.ranges[j].start.index < r.start.index {
			r.start = l.ranges[j].start
		}
		if l.ranges[j].end.index > r.end.index {
			r.end = l.ranges[j].end
		}
		j++
	}

	l.ranges = slices.Replace(l.ranges, i, j, r)
}

// Contains reports whether idx is covered by any range of the list.
func (l IndexRangeList) Contains(idx UnhardenedIndex) bool {
	i, found := slices.BinarySearchFunc(l.ranges, idx,
		func(r IndexRange, target UnhardenedIndex) int {
			switch {
			case r.end.index < target.index:
				return -1
			case r.start.index > target.index:
				return 1
			default:
				return 0
			}
		},
	)

	return found && l.ranges[i].Contains(idx)
}

// Ranges returns a copy of the canonical ranges in ascending order.
func (l IndexRangeList) Ranges() []IndexRange {
	return slices.Clone(l.ranges)
}

// IsEmpty reports whether the list covers no index.
func (l IndexRangeList) IsEmpty() bool {
	return len(l.ranges) == 0
}

// Count returns the number of indexes covered by the list.
func (l IndexRangeList) Count() uint64 {
	var n uint64
	for _, r := range l.ranges {
		n += uint64(r.Count())
	}

	return n
}

// First returns the lowest index of the list, if any.
func (l IndexRangeList) First() (UnhardenedIndex, bool) {
	if len(l.ranges) == 0 {
		return UnhardenedIndex{}, false
	}

	return l.ranges[0].start, true
}

// Last returns the highest index of the list, if any.
func (l IndexRangeList) Last() (UnhardenedIndex, bool) {
	if len(l.ranges) == 0 {
		return UnhardenedIndex{}, false
	}

	return l.ranges[len(l.ranges)-1].end, true
}

// Indexes yields every covered index once, in ascending order. Each call
// returns a fresh sequence, so iteration can be restarted.
func (l IndexRangeList) Indexes() iter.Seq[UnhardenedIndex] {
	ranges := slices.Clone(l.ranges)

	return func(yield func(UnhardenedIndex) bool) {
		for _, r := range ranges {
			for idx := range r.Indexes() {
				if !yield(idx) {
					return
				}
			}
		}
	}
}

// String returns the comma separated ranges of the list.
func (l IndexRangeList) String() string {
	parts := make([]string, len(l.ranges))
	for i, r := range l.ranges {
		parts[i] = r.String()
	}

	return strings.Join(parts, listSeparator)
}

// ParseIndexRangeList parses a comma separated list of ranges such as
// "0-4,7,9-12". Ranges may be given in any order and may overlap.
func ParseIndexRangeList(s string) (IndexRangeList, error) {
	var l IndexRangeList
	for _, part := range strings.Split(s, listSeparator) {
		r, err := ParseIndexRange(strings.TrimSpace(part))
		if err != nil {
			return IndexRangeList{}, err
		}

		l.Insert(r)
	}

	return l, nil
}

// Encode writes the canonical binary form of the list: a varint range count
// followed by the start and end of each range as big-endian uint32s.
func (l IndexRangeList) Encode(w io.Writer) error {
	var buf [8]byte
	if err := tlv.WriteVarInt(w, uint64(len(l.ranges)), &buf); err != nil {
		return err
	}

	for _, r := range l.ranges {
		if err := tlv.EUint32T(w, r.start.index, &buf); err != nil {
			return err
		}
		if err := tlv.EUint32T(w, r.end.index, &buf); err != nil {
			return err
		}
	}

	return nil
}

// DecodeIndexRangeList reads a list written by Encode. Encodings that are not
// canonical, i.e. with unsorted, overlapping or adjacent ranges, are rejected
// rather than merged.
func DecodeIndexRangeList(r io.Reader) (IndexRangeList, error) {
	var buf [8]byte
	count, err := tlv.ReadVarInt(r, &buf)
	if err != nil {
		return IndexRangeList{}, newError(
			ErrEncoding, "unable to read range count", err,
		)
	}

	// Each range spans at least one index, so there can't be more ranges
	// than unhardened indexes.
	if count > uint64(HardenedIndexBoundary) {
		str := fmt.Sprintf("encoded list has %d ranges", count)
		return IndexRangeList{}, newError(ErrEncoding, str, nil)
	}

	var l IndexRangeList
	for i := uint64(0); i < count; i++ {
		var start, end uint32
		if err := tlv.DUint32(r, &start, &buf, 4); err != nil {
			return IndexRangeList{}, newError(
				ErrEncoding, "unable to read range start", err,
			)
		}
		if err := tlv.DUint32(r, &end, &buf, 4); err != nil {
			return IndexRangeList{}, newError(
				ErrEncoding, "unable to read range end", err,
			)
		}

		rng, err := NewIndexRangeRaw(start, end)
		if err != nil {
			return IndexRangeList{}, err
		}

		if n := len(l.ranges); n > 0 &&
			l.ranges[n-1].end.index+1 >= rng.start.index {

			str := fmt.Sprintf("range %v is not canonical after %v",
				rng, l.ranges[n-1])
			return IndexRangeList{}, newError(ErrEncoding, str, nil)
		}

		l.ranges = append(l.ranges, rng)
	}

	return l, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (l IndexRangeList) MarshalBinary() ([]byte, error) {
	var b bytes.Buffer
	if err := l.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (l *IndexRangeList) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	decoded, err := DecodeIndexRangeList(r)
	if err != nil {
		return err
	}

	if r.Len() != 0 {
		str := fmt.Sprintf("%d trailing bytes after range list", r.Len())
		return newError(ErrEncoding, str, nil)
	}

	*l = decoded

	return nil
}
