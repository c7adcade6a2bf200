// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/hdpath"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wallet"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultLogLevel    = "info"
	defaultLogDirname  = "logs"
	defaultLogFilename = "hdscan.log"
	defaultCount       = 20
)

var (
	defaultAppDataDir = btcutil.AppDataDir("hdscan", false)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

type config struct {
	// Network selection.
	TestNet3 bool `long:"testnet" description:"Use the test Bitcoin network (version 3)"`
	SimNet   bool `long:"simnet" description:"Use the simulation test network"`
	SigNet   bool `long:"signet" description:"Use the signet test network"`
	RegTest  bool `long:"regtest" description:"Use the regression test network"`

	// Account selection. Either a full descriptor, a key-origin account
	// or an xpub with its origin is required.
	Descriptor  string `short:"d" long:"descriptor" description:"Output descriptor, e.g. wpkh([d34db33f/84'/0'/0']xpub...)"`
	Account     string `short:"a" long:"account" description:"Key-origin account [fingerprint/path]xpub"`
	XPub        string `long:"xpub" description:"Account level extended public key"`
	Fingerprint string `long:"fingerprint" description:"Master key fingerprint (8 hex characters) of --xpub"`
	Scheme      string `long:"scheme" description:"Derivation scheme of --xpub {bip44, bip45, bip48, bip49, bip84, bip86, bip87}" default:"bip84"`
	AccountNum  uint32 `long:"accountnum" description:"Account number of --xpub"`

	// Window selection.
	Branch   uint32 `short:"b" long:"branch" description:"Terminal branch (0 external, 1 change)"`
	From     uint32 `short:"f" long:"from" description:"First index of the window"`
	Count    uint32 `short:"n" long:"count" description:"Number of indexes in the window"`
	Recover  bool   `long:"recover" description:"Run a gap-limit recovery scan of both branches instead of printing a window"`
	GapLimit uint32 `long:"gaplimit" description:"Consecutive unused indexes that end a recovery scan"`
	TxFile   string `long:"txfile" description:"File of known transactions, one 'height rawtxhex' per line"`

	// Persistence.
	DBPath string `long:"db" description:"Wallet database recording the tracked accounts and the transactions of --txfile"`

	DebugLevel string `long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical, off}"`
	LogDir     string `long:"logdir" description:"Directory to log output"`

	netParams *chaincfg.Params
}

// loadConfig parses the command line and validates the result.
func loadConfig() (*config, error) {
	cfg := config{
		Count:      defaultCount,
		GapLimit:   wallet.DefaultGapLimit,
		DebugLevel: defaultLogLevel,
		LogDir:     defaultLogDir,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	numNets := 0
	cfg.netParams = &chaincfg.MainNetParams
	if cfg.TestNet3 {
		numNets++
		cfg.netParams = &chaincfg.TestNet3Params
	}
	if cfg.SimNet {
		numNets++
		cfg.netParams = &chaincfg.SimNetParams
	}
	if cfg.SigNet {
		numNets++
		cfg.netParams = &chaincfg.SigNetParams
	}
	if cfg.RegTest {
		numNets++
		cfg.netParams = &chaincfg.RegressionNetParams
	}
	if numNets > 1 {
		return nil, errors.New("the testnet, simnet, signet and regtest " +
			"params can't be used together -- choose one")
	}

	sources := 0
	for _, s := range []string{cfg.Descriptor, cfg.Account, cfg.XPub} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return nil, errors.New("exactly one of --descriptor, --account " +
			"or --xpub is required")
	}
	if cfg.XPub != "" && cfg.Fingerprint == "" {
		return nil, errors.New("--xpub requires --fingerprint")
	}

	if _, err := hdpath.NewUnhardenedIndex(cfg.Branch); err != nil {
		return nil, fmt.Errorf("invalid --branch: %w", err)
	}
	if _, err := hdpath.NewUnhardenedIndex(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid --from: %w", err)
	}
	if cfg.Count == 0 {
		return nil, errors.New("--count must be positive")
	}
	if cfg.GapLimit == 0 {
		return nil, errors.New("--gaplimit must be positive")
	}

	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.DBPath = cleanAndExpandPath(cfg.DBPath)
	cfg.TxFile = cleanAndExpandPath(cfg.TxFile)

	return &cfg, nil
}

// buildDescriptor assembles the descriptor selected on the command line and
// checks that all of its keys belong to the selected network.
func (c *config) buildDescriptor() (descriptor.Descriptor, error) {
	var (
		desc descriptor.Descriptor
		err  error
	)
	switch {
	case c.Descriptor != "":
		desc, err = descriptor.Parse(c.Descriptor)

	case c.Account != "":
		var acct *waddrmgr.TrackingAccount
		acct, err = waddrmgr.ParseTrackingAccount(c.Account)
		if err == nil {
			desc, err = descriptor.ForAccount(acct)
		}

	default:
		desc, err = c.xpubDescriptor()
	}
	if err != nil {
		return nil, err
	}

	for _, acct := range desc.Accounts() {
		if !acct.IsForNet(c.netParams) {
			return nil, fmt.Errorf("account %v is not for network %s",
				acct, c.netParams.Name)
		}
	}

	return desc, nil
}

// xpubDescriptor builds the default descriptor of an account given as an
// xpub plus its origin.
func (c *config) xpubDescriptor() (descriptor.Descriptor, error) {
	key, err := hdkeychain.NewKeyFromString(c.XPub)
	if err != nil {
		return nil, fmt.Errorf("invalid --xpub: %w", err)
	}

	fingerprint, err := waddrmgr.ParseFingerprint(c.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("invalid --fingerprint: %w", err)
	}

	scheme, err := waddrmgr.ParseDerivationScheme(c.Scheme)
	if err != nil {
		return nil, fmt.Errorf("invalid --scheme: %w", err)
	}

	acct, err := waddrmgr.NewTrackingAccount(
		fingerprint, key, scheme, c.AccountNum,
		waddrmgr.ParamsForNet(c.netParams),
	)
	if err != nil {
		return nil, err
	}

	return descriptor.ForAccount(acct)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", homeDir, 1)
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}
