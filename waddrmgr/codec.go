// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/descwallet/hdpath"
	"github.com/lightningnetwork/lnd/tlv"
)

// ErrCorruptAccount is returned when a serialized tracking account can't be
// decoded.
var ErrCorruptAccount = errors.New("corrupt tracking account")

// TLV record types of a serialized tracking account.
const (
	typeFingerprint tlv.Type = 0
	typeAccountKey  tlv.Type = 2
	typeScheme      tlv.Type = 4
	typeAccountNum  tlv.Type = 6
	typeCoinType    tlv.Type = 8
	typeScriptType  tlv.Type = 10
)

// requiredAccountTypes lists the records a serialized account must carry.
var requiredAccountTypes = []tlv.Type{
	typeFingerprint, typeAccountKey, typeScheme, typeAccountNum,
	typeCoinType, typeScriptType,
}

// MarshalBinary encodes the scheme as its kind byte, followed for explicit
// schemes by the prefix length and each raw big-endian child number.
func (s DerivationScheme) MarshalBinary() ([]byte, error) {
	if s.kind == 0 {
		return nil, fmt.Errorf("%w: uninitialized scheme",
			ErrDerivePattern)
	}

	if len(s.prefix) > hdpath.MaxDepth {
		return nil, fmt.Errorf("%w: prefix too long", ErrDerivePattern)
	}

	buf := make([]byte, 0, 2+4*len(s.prefix))
	buf = append(buf, byte(s.kind))
	if s.kind != kindExplicit {
		return buf, nil
	}

	buf = append(buf, byte(len(s.prefix)))
	for _, step := range s.prefix {
		buf = binary.BigEndian.AppendUint32(buf, step.FirstIndex())
	}

	return buf, nil
}

// UnmarshalBinary decodes a scheme written by MarshalBinary.
func (s *DerivationScheme) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty scheme", ErrCorruptAccount)
	}

	kind := schemeKind(data[0])
	if _, ok := schemeNames[kind]; ok {
		if len(data) != 1 {
			return fmt.Errorf("%w: trailing scheme bytes",
				ErrCorruptAccount)
		}

		*s = DerivationScheme{kind: kind}

		return nil
	}

	if kind != kindExplicit {
		return fmt.Errorf("%w: unknown scheme kind %d",
			ErrCorruptAccount, kind)
	}

	if len(data) < 2 || len(data) != 2+4*int(data[1]) {
		return fmt.Errorf("%w: bad explicit scheme length",
			ErrCorruptAccount)
	}

	prefix := make([]hdpath.AccountStep, 0, data[1])
	for raw := data[2:]; len(raw) > 0; raw = raw[4:] {
		step, err := hdpath.NewHardenedIndex(
			binary.BigEndian.Uint32(raw[:4]),
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptAccount, err)
		}

		prefix = append(prefix, step)
	}

	*s = DerivationScheme{kind: kindExplicit, prefix: prefix}

	return nil
}

// EncodeTrackingAccount writes the account as a TLV stream.
func EncodeTrackingAccount(w io.Writer, a *TrackingAccount) error {
	schemeBytes, err := a.scheme.MarshalBinary()
	if err != nil {
		return err
	}

	var (
		fingerprint = a.masterFingerprint
		accountKey  = []byte(a.accountKey.String())
		accountNum  = a.accountNumber
		coinType    = a.params.CoinType
		scriptType  = uint32(a.params.ScriptType)
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeFingerprint, &fingerprint),
		tlv.MakePrimitiveRecord(typeAccountKey, &accountKey),
		tlv.MakePrimitiveRecord(typeScheme, &schemeBytes),
		tlv.MakePrimitiveRecord(typeAccountNum, &accountNum),
		tlv.MakePrimitiveRecord(typeCoinType, &coinType),
		tlv.MakePrimitiveRecord(typeScriptType, &scriptType),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// DecodeTrackingAccount reads an account written by EncodeTrackingAccount.
// The decoded account goes through NewTrackingAccount, so a stored key that
// does not match its path is reported as corrupt.
func DecodeTrackingAccount(r io.Reader) (*TrackingAccount, error) {
	var (
		fingerprint uint32
		accountKey  []byte
		schemeBytes []byte
		accountNum  uint32
		coinType    uint32
		scriptType  uint32
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeFingerprint, &fingerprint),
		tlv.MakePrimitiveRecord(typeAccountKey, &accountKey),
		tlv.MakePrimitiveRecord(typeScheme, &schemeBytes),
		tlv.MakePrimitiveRecord(typeAccountNum, &accountNum),
		tlv.MakePrimitiveRecord(typeCoinType, &coinType),
		tlv.MakePrimitiveRecord(typeScriptType, &scriptType),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptAccount, err)
	}

	for _, typ := range requiredAccountTypes {
		if _, ok := parsed[typ]; !ok {
			return nil, fmt.Errorf("%w: missing record %d",
				ErrCorruptAccount, typ)
		}
	}

	var scheme DerivationScheme
	if err := scheme.UnmarshalBinary(schemeBytes); err != nil {
		return nil, err
	}

	key, err := hdkeychain.NewKeyFromString(string(accountKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptAccount, err)
	}

	params := SchemeParams{
		CoinType:   coinType,
		ScriptType: BIP0048ScriptType(scriptType),
	}

	account, err := NewTrackingAccount(
		fingerprint, key, scheme, accountNum, params,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptAccount, err)
	}

	return account, nil
}

// serializeTrackingAccount returns the TLV bytes of the account.
func serializeTrackingAccount(a *TrackingAccount) ([]byte, error) {
	var b bytes.Buffer
	if err := EncodeTrackingAccount(&b, a); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}
