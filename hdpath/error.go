// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdpath

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of validation error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrIndexRange indicates a derivation index outside of the range of
	// its kind.
	ErrIndexRange ErrorCode = iota

	// ErrEmptyPath indicates an attempt to build a subpath without any
	// segments.
	ErrEmptyPath

	// ErrMalformedPath indicates a derivation path string that does not
	// follow the "/seg/seg" grammar.
	ErrMalformedPath

	// ErrPathTooDeep indicates a path with more segments than a BIP32
	// key can carry.
	ErrPathTooDeep

	// ErrInvalidRange indicates an index range whose start is past its
	// end, or a malformed range string.
	ErrInvalidRange

	// ErrEncoding indicates a binary encoding that fails to decode or
	// violates a structural invariant.
	ErrEncoding
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrIndexRange:    "ErrIndexRange",
	ErrEmptyPath:     "ErrEmptyPath",
	ErrMalformedPath: "ErrMalformedPath",
	ErrPathTooDeep:   "ErrPathTooDeep",
	ErrInvalidRange:  "ErrInvalidRange",
	ErrEncoding:      "ErrEncoding",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}

	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error is returned whenever a value would violate the range or structure
// invariants of a derivation type. A value is never returned alongside it.
type Error struct {
	Code ErrorCode
	Desc string
	Err  error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}

	return e.Desc
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// newError creates an Error given a set of arguments.
func newError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsError returns whether the error is an Error with a matching error code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}

	return e.Code == code
}
