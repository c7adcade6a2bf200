// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"errors"
	"fmt"
)

// MaxAccountNameLen is the maximum length in bytes of an account name.
const MaxAccountNameLen = 255

var (
	// ErrEmptyAccountName is returned for an empty account name.
	ErrEmptyAccountName = errors.New("account name cannot be empty")

	// ErrAccountNameTooLong is returned when an account name exceeds
	// MaxAccountNameLen.
	ErrAccountNameTooLong = errors.New("account name too long")
)

// AccountName returns the default name of the given account of a scheme.
func AccountName(scheme DerivationScheme, account uint32) string {
	return fmt.Sprintf("%v-account-%d", scheme, account)
}

// ValidateAccountName checks that a name can be used to store an account.
func ValidateAccountName(name string) error {
	if name == "" {
		return ErrEmptyAccountName
	}

	if len(name) > MaxAccountNameLen {
		return fmt.Errorf("%w: %d bytes", ErrAccountNameTooLong,
			len(name))
	}

	return nil
}
