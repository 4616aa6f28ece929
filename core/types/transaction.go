// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidSignature = errors.New("invalid transaction signature")
	ErrValueTooLarge    = errors.New("transaction value exceeds 128 bits")
)

// Transaction is a signed value transfer or contract interaction. The chain
// id leads the signing preimage so a signature is only ever valid on one
// network.
type Transaction struct {
	ChainID  uint64
	Nonce    uint64
	From     common.Address
	To       *common.Address // nil means contract creation
	Value    *uint256.Int    // 128-bit by protocol rule
	GasPrice uint64
	GasLimit uint64
	Data     []byte

	// Signature values
	V byte
	R [32]byte
	S [32]byte

	// hash caches the canonical hash, computed lazily.
	hash atomic.Pointer[common.Hash]
}

// NewTransaction creates an unsigned transaction.
func NewTransaction(chainID, nonce uint64, from common.Address, to *common.Address, value *uint256.Int, gasPrice, gasLimit uint64, data []byte) *Transaction {
	if value == nil {
		value = new(uint256.Int)
	}
	return &Transaction{
		ChainID:  chainID,
		Nonce:    nonce,
		From:     from,
		To:       to,
		Value:    value.Clone(),
		GasPrice: gasPrice,
		GasLimit: gasLimit,
		Data:     data,
	}
}

// IsContractCreation reports whether the transaction deploys a contract.
func (tx *Transaction) IsContractCreation() bool {
	return tx.To == nil
}

// SigningBytes returns the preimage that is hashed and signed: the raw field
// concatenation chain_id || nonce || from || to? || value || gas_price ||
// gas_limit || data, all integers little-endian.
func (tx *Transaction) SigningBytes() []byte {
	buf := make([]byte, 0, 96+len(tx.Data))
	buf = appendUint64LE(buf, tx.ChainID)
	buf = appendUint64LE(buf, tx.Nonce)
	buf = append(buf, tx.From.Bytes()...)
	if tx.To != nil {
		buf = append(buf, tx.To.Bytes()...)
	}
	buf = appendUint128LE(buf, tx.Value)
	buf = appendUint64LE(buf, tx.GasPrice)
	buf = appendUint64LE(buf, tx.GasLimit)
	buf = append(buf, tx.Data...)
	return buf
}

// SigningHash returns the Keccak-256 digest of the signing preimage.
func (tx *Transaction) SigningHash() common.Hash {
	return crypto.Keccak256Hash(tx.SigningBytes())
}

// Sign signs the transaction in place with the given key and asserts the key
// matches the declared sender.
func (tx *Transaction) Sign(key *ecdsa.PrivateKey) error {
	if addr := crypto.PubkeyToAddress(key.PublicKey); addr != tx.From {
		return fmt.Errorf("%w: key address %s does not match sender %s", ErrInvalidSignature, addr, tx.From)
	}
	hash := tx.SigningHash()
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return err
	}
	copy(tx.R[:], sig[:32])
	copy(tx.S[:], sig[32:64])
	tx.V = sig[64]
	tx.hash.Store(nil)
	return nil
}

// Sender recovers the signer address from the signature.
func (tx *Transaction) Sender() (common.Address, error) {
	sig := make([]byte, 65)
	copy(sig[:32], tx.R[:])
	copy(sig[32:64], tx.S[:])
	sig[64] = tx.V

	hash := tx.SigningHash()
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that the signature recovers to the declared sender.
func (tx *Transaction) VerifySignature() error {
	recovered, err := tx.Sender()
	if err != nil {
		return err
	}
	if recovered != tx.From {
		return fmt.Errorf("%w: recovered %s, declared %s", ErrInvalidSignature, recovered, tx.From)
	}
	return nil
}

// EncodeBinary returns the canonical encoding of the full transaction
// including the signature. Optional fields carry a one-byte presence tag;
// variable sections are length-prefixed.
func (tx *Transaction) EncodeBinary() []byte {
	buf := make([]byte, 0, 160+len(tx.Data))
	buf = appendUint64LE(buf, tx.ChainID)
	buf = appendUint64LE(buf, tx.Nonce)
	buf = append(buf, tx.From.Bytes()...)
	if tx.To != nil {
		buf = append(buf, 1)
		buf = append(buf, tx.To.Bytes()...)
	} else {
		buf = append(buf, 0)
	}
	buf = appendUint128LE(buf, tx.Value)
	buf = appendUint64LE(buf, tx.GasPrice)
	buf = appendUint64LE(buf, tx.GasLimit)
	buf = appendBytesWithLen(buf, tx.Data)
	buf = append(buf, tx.V)
	buf = append(buf, tx.R[:]...)
	buf = append(buf, tx.S[:]...)
	return buf
}

// DecodeTransaction parses a canonical transaction encoding.
func DecodeTransaction(data []byte) (*Transaction, error) {
	d := &decoder{data: data}
	tx, err := decodeTransactionFrom(d)
	if err != nil {
		return nil, err
	}
	if d.remaining() != 0 {
		return nil, fmt.Errorf("types: %d trailing bytes after transaction", d.remaining())
	}
	return tx, nil
}

func decodeTransactionFrom(d *decoder) (*Transaction, error) {
	var (
		tx  Transaction
		err error
	)
	if tx.ChainID, err = d.uint64(); err != nil {
		return nil, err
	}
	if tx.Nonce, err = d.uint64(); err != nil {
		return nil, err
	}
	if tx.From, err = d.address(); err != nil {
		return nil, err
	}
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
	case 1:
		to, err := d.address()
		if err != nil {
			return nil, err
		}
		tx.To = &to
	default:
		return nil, fmt.Errorf("types: bad optional tag %d", tag)
	}
	if tx.Value, err = d.uint128(); err != nil {
		return nil, err
	}
	if tx.GasPrice, err = d.uint64(); err != nil {
		return nil, err
	}
	if tx.GasLimit, err = d.uint64(); err != nil {
		return nil, err
	}
	if tx.Data, err = d.bytesWithLen(); err != nil {
		return nil, err
	}
	if tx.V, err = d.byte(); err != nil {
		return nil, err
	}
	r, err := d.take(32)
	if err != nil {
		return nil, err
	}
	copy(tx.R[:], r)
	s, err := d.take(32)
	if err != nil {
		return nil, err
	}
	copy(tx.S[:], s)
	return &tx, nil
}

// Hash returns the Keccak-256 digest of the canonical encoding, cached after
// the first call.
func (tx *Transaction) Hash() common.Hash {
	if cached := tx.hash.Load(); cached != nil {
		return *cached
	}
	h := crypto.Keccak256Hash(tx.EncodeBinary())
	tx.hash.Store(&h)
	return h
}

// Cost returns value + gasLimit*gasPrice, with an overflow flag. The caller
// rejects the transaction when overflow is reported.
func (tx *Transaction) Cost() (*uint256.Int, bool) {
	fee := new(uint256.Int).Mul(uint256.NewInt(tx.GasLimit), uint256.NewInt(tx.GasPrice))
	total, overflow := new(uint256.Int).AddOverflow(fee, tx.Value)
	if overflow || total.Gt(maxUint128) {
		return nil, true
	}
	return total, false
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// TxsRoot computes the domain-separated Merkle root over the transaction
// hashes in block order.
func TxsRoot(txs []*Transaction) common.Hash {
	if len(txs) == 0 {
		return common.Hash{}
	}
	leaves := make([]common.Hash, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.Hash()
	}
	return merkleRoot(leaves)
}
