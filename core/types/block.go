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

	"github.com/luxtensor/go-luxtensor/crypto/merkle"
)

// HeaderVersion is the current block header format version.
const HeaderVersion uint32 = 1

var ErrInvalidHeaderSignature = errors.New("invalid header signature")

// Header is the sealed block header. The canonical encoding is the
// little-endian concatenation of the fields in declaration order; the seal
// preimage is the same encoding with the signature and VRF proof omitted.
type Header struct {
	Version      uint32
	Height       uint64
	Timestamp    uint64
	ParentHash   common.Hash
	StateRoot    common.Hash
	TxsRoot      common.Hash
	ReceiptsRoot common.Hash
	Validator    common.Address
	Signature    [65]byte // r || s || v over the seal preimage
	GasUsed      uint64
	GasLimit     uint64
	ExtraData    []byte
	VrfProof     []byte // RFC 9381 proof over the slot seed; nil pre-registration
}

// SealBytes returns the signing preimage: every header field except the
// signature itself and the VRF proof, which are produced over this digest.
func (h *Header) SealBytes() []byte {
	buf := make([]byte, 0, 256+len(h.ExtraData))
	buf = appendUint32LE(buf, h.Version)
	buf = appendUint64LE(buf, h.Height)
	buf = appendUint64LE(buf, h.Timestamp)
	buf = append(buf, h.ParentHash.Bytes()...)
	buf = append(buf, h.StateRoot.Bytes()...)
	buf = append(buf, h.TxsRoot.Bytes()...)
	buf = append(buf, h.ReceiptsRoot.Bytes()...)
	buf = append(buf, h.Validator.Bytes()...)
	buf = appendUint64LE(buf, h.GasUsed)
	buf = appendUint64LE(buf, h.GasLimit)
	buf = appendBytesWithLen(buf, h.ExtraData)
	return buf
}

// SealHash returns the digest the validator signs.
func (h *Header) SealHash() common.Hash {
	return crypto.Keccak256Hash(h.SealBytes())
}

// EncodeBinary returns the full canonical header encoding, signature and
// optional VRF proof included.
func (h *Header) EncodeBinary() []byte {
	buf := make([]byte, 0, 384+len(h.ExtraData)+len(h.VrfProof))
	buf = appendUint32LE(buf, h.Version)
	buf = appendUint64LE(buf, h.Height)
	buf = appendUint64LE(buf, h.Timestamp)
	buf = append(buf, h.ParentHash.Bytes()...)
	buf = append(buf, h.StateRoot.Bytes()...)
	buf = append(buf, h.TxsRoot.Bytes()...)
	buf = append(buf, h.ReceiptsRoot.Bytes()...)
	buf = append(buf, h.Validator.Bytes()...)
	buf = append(buf, h.Signature[:]...)
	buf = appendUint64LE(buf, h.GasUsed)
	buf = appendUint64LE(buf, h.GasLimit)
	buf = appendBytesWithLen(buf, h.ExtraData)
	if h.VrfProof != nil {
		buf = append(buf, 1)
		buf = appendBytesWithLen(buf, h.VrfProof)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// DecodeHeader parses a canonical header encoding.
func DecodeHeader(data []byte) (*Header, error) {
	d := &decoder{data: data}
	h, err := decodeHeaderFrom(d)
	if err != nil {
		return nil, err
	}
	if d.remaining() != 0 {
		return nil, fmt.Errorf("types: %d trailing bytes after header", d.remaining())
	}
	return h, nil
}

func decodeHeaderFrom(d *decoder) (*Header, error) {
	var (
		h   Header
		err error
	)
	if h.Version, err = d.uint32(); err != nil {
		return nil, err
	}
	if h.Height, err = d.uint64(); err != nil {
		return nil, err
	}
	if h.Timestamp, err = d.uint64(); err != nil {
		return nil, err
	}
	if h.ParentHash, err = d.hash(); err != nil {
		return nil, err
	}
	if h.StateRoot, err = d.hash(); err != nil {
		return nil, err
	}
	if h.TxsRoot, err = d.hash(); err != nil {
		return nil, err
	}
	if h.ReceiptsRoot, err = d.hash(); err != nil {
		return nil, err
	}
	if h.Validator, err = d.address(); err != nil {
		return nil, err
	}
	sig, err := d.take(65)
	if err != nil {
		return nil, err
	}
	copy(h.Signature[:], sig)
	if h.GasUsed, err = d.uint64(); err != nil {
		return nil, err
	}
	if h.GasLimit, err = d.uint64(); err != nil {
		return nil, err
	}
	if h.ExtraData, err = d.bytesWithLen(); err != nil {
		return nil, err
	}
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
	case 1:
		if h.VrfProof, err = d.bytesWithLen(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("types: bad optional tag %d", tag)
	}
	return &h, nil
}

// Sign seals the header with the validator key.
func (h *Header) Sign(key *ecdsa.PrivateKey) error {
	if addr := crypto.PubkeyToAddress(key.PublicKey); addr != h.Validator {
		return fmt.Errorf("%w: key address %s does not match validator %s", ErrInvalidHeaderSignature, addr, h.Validator)
	}
	sig, err := crypto.Sign(h.SealHash().Bytes(), key)
	if err != nil {
		return err
	}
	copy(h.Signature[:], sig)
	return nil
}

// VerifySignature checks the seal recovers to the declared validator.
func (h *Header) VerifySignature() error {
	pub, err := crypto.SigToPub(h.SealHash().Bytes(), h.Signature[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeaderSignature, err)
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != h.Validator {
		return fmt.Errorf("%w: recovered %s, declared %s", ErrInvalidHeaderSignature, recovered, h.Validator)
	}
	return nil
}

// Copy returns a deep copy of the header.
func (h *Header) Copy() *Header {
	cp := *h
	cp.ExtraData = append([]byte(nil), h.ExtraData...)
	if h.VrfProof != nil {
		cp.VrfProof = append([]byte(nil), h.VrfProof...)
	}
	return &cp
}

// Block bundles a header with its transactions.
type Block struct {
	Header       *Header
	Transactions []*Transaction

	hash atomic.Pointer[common.Hash]
}

// NewBlock creates a block from a header and transaction list.
func NewBlock(header *Header, txs []*Transaction) *Block {
	return &Block{Header: header, Transactions: txs}
}

// Hash returns the Keccak-256 digest of the canonical header encoding.
func (b *Block) Hash() common.Hash {
	if cached := b.hash.Load(); cached != nil {
		return *cached
	}
	h := crypto.Keccak256Hash(b.Header.EncodeBinary())
	b.hash.Store(&h)
	return h
}

// Height returns the block height.
func (b *Block) Height() uint64 {
	return b.Header.Height
}

// ParentHash returns the parent block hash.
func (b *Block) ParentHash() common.Hash {
	return b.Header.ParentHash
}

// EncodeBinary returns the canonical block encoding: header followed by the
// length-prefixed transaction list.
func (b *Block) EncodeBinary() []byte {
	buf := b.Header.EncodeBinary()
	buf = appendUint64LE(buf, uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		buf = appendBytesWithLen(buf, tx.EncodeBinary())
	}
	return buf
}

// DecodeBlock parses a canonical block encoding.
func DecodeBlock(data []byte) (*Block, error) {
	d := &decoder{data: data}
	header, err := decodeHeaderFrom(d)
	if err != nil {
		return nil, err
	}
	count, err := d.uint64()
	if err != nil {
		return nil, err
	}
	if count > uint64(d.remaining()) {
		return nil, errTruncated
	}
	txs := make([]*Transaction, 0, count)
	for i := uint64(0); i < count; i++ {
		raw, err := d.bytesWithLen()
		if err != nil {
			return nil, err
		}
		tx, err := DecodeTransaction(raw)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if d.remaining() != 0 {
		return nil, fmt.Errorf("types: %d trailing bytes after block", d.remaining())
	}
	return &Block{Header: header, Transactions: txs}, nil
}

func appendUint32LE(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func merkleRoot(leaves []common.Hash) common.Hash {
	return merkle.New(leaves).Root()
}
