// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

// Package types contains the chain's fundamental data types: transactions,
// block headers, blocks and receipts, together with their canonical binary
// encodings. The encodings are little-endian field concatenations (variable
// sections length-prefixed, optionals tagged) and form the chain's
// compatibility surface: changing them is a hard fork.
package types

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var errTruncated = errors.New("types: truncated encoding")

// maxUint128 guards the u128 value range at the encoding boundary.
var maxUint128 = func() *uint256.Int {
	v := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	return v.SubUint64(v, 1)
}()

func appendUint128LE(buf []byte, v *uint256.Int) []byte {
	be := v.Bytes32()
	// Lower 16 bytes, reversed into little-endian.
	for i := 31; i >= 16; i-- {
		buf = append(buf, be[i])
	}
	return buf
}

func appendBytesWithLen(buf, data []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(data)))
	return append(buf, data...)
}

type decoder struct {
	data []byte
	off  int
}

func (d *decoder) remaining() int { return len(d.data) - d.off }

func (d *decoder) byte() (byte, error) {
	if d.remaining() < 1 {
		return 0, errTruncated
	}
	b := d.data[d.off]
	d.off++
	return b, nil
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, errTruncated
	}
	out := d.data[d.off : d.off+n]
	d.off += n
	return out, nil
}

func (d *decoder) uint32() (uint32, error) {
	raw, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

func (d *decoder) uint64() (uint64, error) {
	raw, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

func (d *decoder) uint128() (*uint256.Int, error) {
	raw, err := d.take(16)
	if err != nil {
		return nil, err
	}
	var be [16]byte
	for i := 0; i < 16; i++ {
		be[i] = raw[15-i]
	}
	return new(uint256.Int).SetBytes(be[:]), nil
}

func (d *decoder) address() (common.Address, error) {
	raw, err := d.take(common.AddressLength)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(raw), nil
}

func (d *decoder) hash() (common.Hash, error) {
	raw, err := d.take(common.HashLength)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(raw), nil
}

func (d *decoder) bytesWithLen() ([]byte, error) {
	n, err := d.uint64()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.remaining()) {
		return nil, errTruncated
	}
	raw, err := d.take(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), raw...), nil
}
