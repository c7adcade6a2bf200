// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdpath

import (
	"bytes"
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// MaxDepth is the maximum number of segments of a subpath. The depth
	// of a BIP32 extended key is serialized as a single byte.
	MaxDepth = 255

	// PathSeparator separates segments in the textual form of a path.
	PathSeparator = "/"
)

// DerivationSubpath is a non-empty sequence of segments of a single kind. It
// is used to express derivation relative to an extended key, e.g. the
// unhardened "/0/7" below a watch-only account key.
//
// The zero value holds no segments and is not a valid subpath. Use
// NewDerivationSubpath or ParseDerivationSubpath to build one.
type DerivationSubpath[S SegmentIndex] struct {
	segments []S
}

// NewDerivationSubpath builds a subpath from the given segments. The segments
// are copied. It fails if no segments are given.
func NewDerivationSubpath[S SegmentIndex](segments ...S) (DerivationSubpath[S],
	error) {

	switch {
	case len(segments) == 0:
		return DerivationSubpath[S]{}, newError(
			ErrEmptyPath, "derivation subpath must not be empty",
			nil,
		)

	case len(segments) > MaxDepth:
		str := fmt.Sprintf("derivation subpath has %d segments, "+
			"max is %d", len(segments), MaxDepth)
		return DerivationSubpath[S]{}, newError(ErrPathTooDeep, str, nil)
	}

	return DerivationSubpath[S]{segments: slices.Clone(segments)}, nil
}

// ParseDerivationSubpath parses a subpath of the form "/seg/seg/...". Each
// segment is parsed by its kind, so "/0/7" is a valid unhardened subpath and
// "/84'/0'" a valid hardened one.
func ParseDerivationSubpath[S SegmentIndex](s string) (DerivationSubpath[S],
	error) {

	if !strings.HasPrefix(s, PathSeparator) {
		str := fmt.Sprintf("derivation subpath %q must start with %q",
			s, PathSeparator)
		return DerivationSubpath[S]{}, newError(ErrMalformedPath, str, nil)
	}

	tokens := strings.Split(s[len(PathSeparator):], PathSeparator)
	segments := make([]S, 0, len(tokens))
	for _, token := range tokens {
		seg, err := parseSegment[S](token)
		if err != nil {
			str := fmt.Sprintf("malformed derivation subpath %q", s)
			return DerivationSubpath[S]{}, newError(
				ErrMalformedPath, str, err,
			)
		}

		segments = append(segments, seg)
	}

	return NewDerivationSubpath(segments...)
}

// Len returns the number of segments.
func (p DerivationSubpath[S]) Len() int {
	return len(p.segments)
}

// Segments returns a copy of the segments.
func (p DerivationSubpath[S]) Segments() []S {
	return slices.Clone(p.segments)
}

// Last returns the final segment of the subpath.
func (p DerivationSubpath[S]) Last() S {
	return p.segments[len(p.segments)-1]
}

// Raw returns the BIP32 child numbers of the subpath.
func (p DerivationSubpath[S]) Raw() []uint32 {
	raw := make([]uint32, len(p.segments))
	for i, seg := range p.segments {
		raw[i] = seg.FirstIndex()
	}

	return raw
}

// Append returns a new subpath with the given segments added to the end.
func (p DerivationSubpath[S]) Append(segments ...S) (DerivationSubpath[S],
	error) {

	combined := make([]S, 0, len(p.segments)+len(segments))
	combined = append(combined, p.segments...)
	combined = append(combined, segments...)

	return NewDerivationSubpath(combined...)
}

// Compare orders subpaths lexicographically by their child numbers.
func (p DerivationSubpath[S]) Compare(other DerivationSubpath[S]) int {
	return slices.CompareFunc(p.segments, other.segments,
		func(a, b S) int {
			return cmp.Compare(a.FirstIndex(), b.FirstIndex())
		},
	)
}

// Equal reports whether both subpaths hold the same segments.
func (p DerivationSubpath[S]) Equal(other DerivationSubpath[S]) bool {
	return slices.Equal(p.segments, other.segments)
}

// String returns the "/seg/seg" form of the subpath.
func (p DerivationSubpath[S]) String() string {
	var b strings.Builder
	for _, seg := range p.segments {
		b.WriteString(PathSeparator)
		b.WriteString(seg.String())
	}

	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (p DerivationSubpath[S]) MarshalText() ([]byte, error) {
	if len(p.segments) == 0 {
		return nil, newError(
			ErrEmptyPath, "cannot marshal empty subpath", nil,
		)
	}

	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *DerivationSubpath[S]) UnmarshalText(text []byte) error {
	parsed, err := ParseDerivationSubpath[S](string(text))
	if err != nil {
		return err
	}

	*p = parsed

	return nil
}

// Encode writes the canonical binary form of the subpath: a varint segment
// count followed by each raw child number as a big-endian uint32.
func (p DerivationSubpath[S]) Encode(w io.Writer) error {
	if len(p.segments) == 0 {
		return newError(ErrEmptyPath, "cannot encode empty subpath", nil)
	}

	var buf [8]byte
	if err := tlv.WriteVarInt(w, uint64(len(p.segments)), &buf); err != nil {
		return err
	}

	for _, seg := range p.segments {
		if err := tlv.EUint32T(w, seg.FirstIndex(), &buf); err != nil {
			return err
		}
	}

	return nil
}

// DecodeDerivationSubpath reads a subpath written by Encode. Empty subpaths,
// over-deep subpaths and segments of the wrong kind are rejected.
func DecodeDerivationSubpath[S SegmentIndex](r io.Reader) (
	DerivationSubpath[S], error) {

	var buf [8]byte
	count, err := tlv.ReadVarInt(r, &buf)
	if err != nil {
		return DerivationSubpath[S]{}, newError(
			ErrEncoding, "unable to read segment count", err,
		)
	}

	switch {
	case count == 0:
		return DerivationSubpath[S]{}, newError(
			ErrEmptyPath, "encoded subpath has no segments", nil,
		)

	case count > MaxDepth:
		str := fmt.Sprintf("encoded subpath has %d segments", count)
		return DerivationSubpath[S]{}, newError(ErrPathTooDeep, str, nil)
	}

	segments := make([]S, 0, count)
	for i := uint64(0); i < count; i++ {
		var raw uint32
		if err := tlv.DUint32(r, &raw, &buf, 4); err != nil {
			str := fmt.Sprintf("unable to read segment %d", i)
			return DerivationSubpath[S]{}, newError(
				ErrEncoding, str, err,
			)
		}

		seg, err := segmentFromRaw[S](raw)
		if err != nil {
			return DerivationSubpath[S]{}, err
		}

		segments = append(segments, seg)
	}

	return NewDerivationSubpath(segments...)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p DerivationSubpath[S]) MarshalBinary() ([]byte, error) {
	var b bytes.Buffer
	if err := p.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Trailing bytes are
// rejected.
func (p *DerivationSubpath[S]) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	decoded, err := DecodeDerivationSubpath[S](r)
	if err != nil {
		return err
	}

	if r.Len() != 0 {
		str := fmt.Sprintf("%d trailing bytes after subpath", r.Len())
		return newError(ErrEncoding, str, nil)
	}

	*p = decoded

	return nil
}
