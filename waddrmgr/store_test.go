// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/stretchr/testify/require"
)

const defaultDBTimeout = 10 * time.Second

// newTestStore creates an account store on a temporary bdb database.
func newTestStore(t *testing.T) *AccountStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "accounts.db")
	db, err := walletdb.Create("bdb", dbPath, true, defaultDBTimeout, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewAccountStore(db)
	require.NoError(t, err)

	return store
}

// TestAccountStore checks adding, fetching, listing and deleting accounts.
func TestAccountStore(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	wpkh := testAccount(t, SchemeBIP0084, 0, SchemeParams{})
	tr := testAccount(t, SchemeBIP0086, 1, SchemeParams{})

	require.NoError(t, store.AddAccount("savings", wpkh))
	require.NoError(t, store.AddAccount("daily", tr))

	err := store.AddAccount("savings", tr)
	require.ErrorIs(t, err, ErrDuplicateAccount)

	got, err := store.FetchAccount("savings")
	require.NoError(t, err)
	require.True(t, got.Equal(wpkh))

	_, err = store.FetchAccount("missing")
	require.ErrorIs(t, err, ErrAccountNotFound)

	var names []string
	err = store.ForEachAccount(func(name string, a *TrackingAccount) error {
		names = append(names, name)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"daily", "savings"}, names)

	require.NoError(t, store.DeleteAccount("daily"))
	require.ErrorIs(t, store.DeleteAccount("daily"), ErrAccountNotFound)

	_, err = store.FetchAccount("daily")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

// TestAccountStoreNames checks that invalid names are rejected.
func TestAccountStoreNames(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	acct := testAccount(t, SchemeBIP0044, 0, SchemeParams{})

	err := store.AddAccount("", acct)
	require.ErrorIs(t, err, ErrEmptyAccountName)

	long := strings.Repeat("a", MaxAccountNameLen+1)
	err = store.AddAccount(long, acct)
	require.ErrorIs(t, err, ErrAccountNameTooLong)

	name := AccountName(acct.Scheme(), acct.AccountNumber())
	require.Equal(t, "bip44-account-0", name)
	require.NoError(t, store.AddAccount(name, acct))
}

// TestAccountStoreReopen checks that accounts survive reopening the store.
func TestAccountStoreReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "accounts.db")
	db, err := walletdb.Create("bdb", dbPath, true, defaultDBTimeout, false)
	require.NoError(t, err)

	store, err := NewAccountStore(db)
	require.NoError(t, err)

	acct := testAccount(t, SchemeBIP0049, 4, SchemeParams{CoinType: 1})
	require.NoError(t, store.AddAccount("nested", acct))
	require.NoError(t, db.Close())

	db, err = walletdb.Open("bdb", dbPath, true, defaultDBTimeout, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err = NewAccountStore(db)
	require.NoError(t, err)

	got, err := store.FetchAccount("nested")
	require.NoError(t, err)
	require.True(t, got.Equal(acct))
}
