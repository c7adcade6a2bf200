// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
)

var (
	// ErrAccountNotFound is returned when no account is stored under a
	// name.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateAccount is returned when adding an account under a name
	// that is already taken.
	ErrDuplicateAccount = errors.New("account already exists")
)

// trackingAccountsBucketKey is the top-level bucket holding the serialized
// tracking accounts keyed by name.
var trackingAccountsBucketKey = []byte("tracking-accounts")

// AccountStore persists named tracking accounts in a walletdb database.
type AccountStore struct {
	db walletdb.DB
}

// NewAccountStore returns a store backed by db, creating its bucket if
// needed.
func NewAccountStore(db walletdb.DB) (*AccountStore, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(trackingAccountsBucketKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create accounts bucket: %w", err)
	}

	return &AccountStore{db: db}, nil
}

// AddAccount stores the account under name. The name must not be taken.
func (s *AccountStore) AddAccount(name string, a *TrackingAccount) error {
	if err := ValidateAccountName(name); err != nil {
		return err
	}

	value, err := serializeTrackingAccount(a)
	if err != nil {
		return err
	}

	err = walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(trackingAccountsBucketKey)
		if bucket.Get([]byte(name)) != nil {
			return fmt.Errorf("%w: %q", ErrDuplicateAccount, name)
		}

		return bucket.Put([]byte(name), value)
	})
	if err != nil {
		return err
	}

	log.Infof("Added tracking account %q at %v", name, a.AccountPath())

	return nil
}

// FetchAccount returns the account stored under name.
func (s *AccountStore) FetchAccount(name string) (*TrackingAccount, error) {
	var account *TrackingAccount
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(trackingAccountsBucketKey)

		value := bucket.Get([]byte(name))
		if value == nil {
			return fmt.Errorf("%w: %q", ErrAccountNotFound, name)
		}

		var err error
		account, err = DecodeTrackingAccount(bytes.NewReader(value))

		return err
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

// DeleteAccount removes the account stored under name.
func (s *AccountStore) DeleteAccount(name string) error {
	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(trackingAccountsBucketKey)
		if bucket.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %q", ErrAccountNotFound, name)
		}

		return bucket.Delete([]byte(name))
	})
	if err != nil {
		return err
	}

	log.Infof("Deleted tracking account %q", name)

	return nil
}

// ForEachAccount calls fn for every stored account in name order. An error
// returned by fn stops the iteration and is returned.
func (s *AccountStore) ForEachAccount(
	fn func(name string, a *TrackingAccount) error) error {

	return walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(trackingAccountsBucketKey)

		return bucket.ForEach(func(k, v []byte) error {
			account, err := DecodeTrackingAccount(bytes.NewReader(v))
			if err != nil {
				return fmt.Errorf("account %q: %w", k, err)
			}

			return fn(string(k), account)
		})
	})
}
