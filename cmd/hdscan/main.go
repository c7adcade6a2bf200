// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// hdscan derives the scripts of an output descriptor and, given a set of
// known transactions, finds the unspent outputs paying to them.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/hdpath"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wallet"
	flags "github.com/jessevdk/go-flags"
)

const defaultDBTimeout = 10 * time.Second

func main() {
	if err := hdscanMain(); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func hdscanMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	err = initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err != nil {
		return err
	}
	defer logRotator.Close()

	if err := setLogLevels(cfg.DebugLevel); err != nil {
		return err
	}

	desc, err := cfg.buildDescriptor()
	if err != nil {
		return err
	}
	log.Infof("Scanning %v on %s", desc, cfg.netParams.Name)

	db, err := openWalletDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.DBPath != "" {
		if err := recordAccounts(db, desc); err != nil {
			return err
		}
	}

	resolver, err := chain.NewTxStoreResolver(db, cfg.netParams)
	if err != nil {
		return err
	}
	if cfg.TxFile != "" {
		if err := loadTransactions(cfg.TxFile, resolver); err != nil {
			return err
		}
	}

	ctx := context.Background()
	if cfg.Recover {
		return runRecovery(ctx, os.Stdout, resolver, desc, cfg)
	}

	return printWindow(ctx, os.Stdout, resolver, desc, cfg)
}

// printWindow writes one line per index of the configured window.
func printWindow(ctx context.Context, w io.Writer, r chain.UtxoResolver,
	desc descriptor.Descriptor, cfg *config) error {

	branch, err := hdpath.NewUnhardenedIndex(cfg.Branch)
	if err != nil {
		return err
	}
	from, err := hdpath.NewUnhardenedIndex(cfg.From)
	if err != nil {
		return err
	}

	utxos, err := chain.ResolveDescriptorUtxo(
		ctx, r, desc, []hdpath.TerminalStep{branch}, from, cfg.Count,
	)
	if err != nil {
		return err
	}

	for idx, entry := range utxos.All() {
		terminal := []hdpath.TerminalStep{branch, idx}
		if err := writeEntry(w, desc, cfg, terminal, entry); err != nil {
			return err
		}
	}

	return nil
}

// runRecovery scans both branches and writes the used indexes.
func runRecovery(ctx context.Context, w io.Writer, r chain.UtxoResolver,
	desc descriptor.Descriptor, cfg *config) error {

	result, err := wallet.RecoverAccount(
		ctx, r, desc, wallet.RecoveryConfig{GapLimit: cfg.GapLimit},
	)
	if err != nil {
		return err
	}

	for _, b := range []*wallet.BranchRecovery{
		result.External, result.Internal,
	} {
		for idx, entry := range b.Used.All() {
			terminal := []hdpath.TerminalStep{b.Branch, idx}
			err := writeEntry(w, desc, cfg, terminal, entry)
			if err != nil {
				return err
			}
		}

		fmt.Fprintf(w, "# branch %v: next unused %d, balance %v\n",
			b.Branch, b.NextUnused, b.Used.Balance())
	}

	return nil
}

// writeEntry writes the path, address, script and unspent amount of one
// derived script.
func writeEntry(w io.Writer, desc descriptor.Descriptor, cfg *config,
	terminal []hdpath.TerminalStep, entry chain.ScriptUtxos) error {

	path, err := entryPath(desc, terminal)
	if err != nil {
		return err
	}

	addr, err := descriptor.Address(desc, terminal, cfg.netParams)
	if err != nil {
		return err
	}

	var amount int64
	for utxo := range entry.Utxos {
		amount += int64(utxo.Amount)
	}

	_, err = fmt.Fprintf(w, "%v %s %s %x %d\n", entry.Index, path, addr,
		entry.Script, amount)

	return err
}

// entryPath returns the full derivation path of a single key descriptor, or
// the terminal path for descriptors over several accounts.
func entryPath(desc descriptor.Descriptor,
	terminal []hdpath.TerminalStep) (string, error) {

	sub, err := hdpath.NewDerivationSubpath(terminal...)
	if err != nil {
		return "", err
	}

	accounts := desc.Accounts()
	if len(accounts) != 1 {
		return sub.String(), nil
	}

	full, err := accounts[0].FullPath(sub)
	if err != nil {
		return "", err
	}

	return full.String(), nil
}

// recordAccounts stores every account of the descriptor in the wallet
// database. Accounts already stored under the same name must match.
func recordAccounts(db walletdb.DB, desc descriptor.Descriptor) error {
	store, err := waddrmgr.NewAccountStore(db)
	if err != nil {
		return err
	}

	for _, acct := range desc.Accounts() {
		name := fmt.Sprintf("%s-%s",
			waddrmgr.FormatFingerprint(acct.MasterFingerprint()),
			waddrmgr.AccountName(acct.Scheme(), acct.AccountNumber()))

		err := store.AddAccount(name, acct)
		if errors.Is(err, waddrmgr.ErrDuplicateAccount) {
			stored, fetchErr := store.FetchAccount(name)
			if fetchErr != nil {
				return fetchErr
			}
			if !stored.Equal(acct) {
				return fmt.Errorf("account %q is stored with a "+
					"different key", name)
			}

			continue
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// openWalletDB opens the wallet database at dbPath. Without a path the
// transactions are kept in a throwaway database that is removed on close.
func openWalletDB(dbPath string) (walletdb.DB, error) {
	if dbPath != "" {
		return openOrCreateDB(dbPath)
	}

	tempDir, err := os.MkdirTemp("", "hdscan")
	if err != nil {
		return nil, err
	}

	db, err := openOrCreateDB(filepath.Join(tempDir, "wallet.db"))
	if err != nil {
		_ = os.RemoveAll(tempDir)
		return nil, err
	}

	return &tempDB{DB: db, dir: tempDir}, nil
}

// tempDB is a wallet database whose directory is removed on close.
type tempDB struct {
	walletdb.DB
	dir string
}

// Close closes the database and removes its directory.
func (d *tempDB) Close() error {
	err := d.DB.Close()
	if rmErr := os.RemoveAll(d.dir); err == nil {
		err = rmErr
	}

	return err
}

// openOrCreateDB opens the bdb wallet database at dbPath, creating it if it
// does not exist yet.
func openOrCreateDB(dbPath string) (walletdb.DB, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		err := os.MkdirAll(filepath.Dir(dbPath), 0700)
		if err != nil {
			return nil, err
		}

		return walletdb.Create(
			"bdb", dbPath, true, defaultDBTimeout, false,
		)
	}

	return walletdb.Open("bdb", dbPath, true, defaultDBTimeout, false)
}

// loadTransactions records the 'height rawtxhex' lines of path in the
// transaction store. Blank lines and lines starting with '#' are skipped.
func loadTransactions(path string, r *chain.TxStoreResolver) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(nil, wire.MaxMessagePayload*2)

	var lineNum int
	for scanner.Scan() {
		lineNum++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tx, height, err := parseTxLine(line)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNum, err)
		}

		if err := r.AddTx(tx, height); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNum, err)
		}
	}

	return scanner.Err()
}

// parseTxLine parses a 'height rawtxhex' line.
func parseTxLine(line string) (*wire.MsgTx, int32, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return nil, 0, errors.New("expected 'height rawtxhex'")
	}

	height, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid height: %w", err)
	}

	raw, err := hex.DecodeString(fields[1])
	if err != nil {
		return nil, 0, fmt.Errorf("invalid transaction hex: %w", err)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, 0, fmt.Errorf("invalid transaction: %w", err)
	}

	return &tx, int32(height), nil
}
