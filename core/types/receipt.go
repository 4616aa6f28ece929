// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Receipt execution statuses.
const (
	ReceiptStatusFailed     uint8 = 0
	ReceiptStatusSuccessful uint8 = 1
)

// Log is an event emitted during execution.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Receipt records the outcome of one transaction inside a block.
type Receipt struct {
	TxHash      common.Hash
	BlockHeight uint64
	BlockHash   common.Hash
	TxIndex     uint32
	From        common.Address
	To          *common.Address
	GasUsed     uint64
	Status      uint8
	Logs        []Log
}

// EncodeBinary returns the canonical receipt encoding used for the receipts
// Merkle commitment and for persistence.
func (r *Receipt) EncodeBinary() []byte {
	buf := make([]byte, 0, 160)
	buf = append(buf, r.TxHash.Bytes()...)
	buf = appendUint64LE(buf, r.BlockHeight)
	buf = append(buf, r.BlockHash.Bytes()...)
	buf = appendUint32LE(buf, r.TxIndex)
	buf = append(buf, r.From.Bytes()...)
	if r.To != nil {
		buf = append(buf, 1)
		buf = append(buf, r.To.Bytes()...)
	} else {
		buf = append(buf, 0)
	}
	buf = appendUint64LE(buf, r.GasUsed)
	buf = append(buf, r.Status)
	buf = appendUint64LE(buf, uint64(len(r.Logs)))
	for _, l := range r.Logs {
		buf = append(buf, l.Address.Bytes()...)
		buf = appendUint64LE(buf, uint64(len(l.Topics)))
		for _, topic := range l.Topics {
			buf = append(buf, topic.Bytes()...)
		}
		buf = appendBytesWithLen(buf, l.Data)
	}
	return buf
}

// DecodeReceipt parses a canonical receipt encoding.
func DecodeReceipt(data []byte) (*Receipt, error) {
	d := &decoder{data: data}
	var (
		r   Receipt
		err error
	)
	if r.TxHash, err = d.hash(); err != nil {
		return nil, err
	}
	if r.BlockHeight, err = d.uint64(); err != nil {
		return nil, err
	}
	if r.BlockHash, err = d.hash(); err != nil {
		return nil, err
	}
	if r.TxIndex, err = d.uint32(); err != nil {
		return nil, err
	}
	if r.From, err = d.address(); err != nil {
		return nil, err
	}
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	if tag == 1 {
		to, err := d.address()
		if err != nil {
			return nil, err
		}
		r.To = &to
	}
	if r.GasUsed, err = d.uint64(); err != nil {
		return nil, err
	}
	if r.Status, err = d.byte(); err != nil {
		return nil, err
	}
	logCount, err := d.uint64()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < logCount; i++ {
		var l Log
		if l.Address, err = d.address(); err != nil {
			return nil, err
		}
		topicCount, err := d.uint64()
		if err != nil {
			return nil, err
		}
		for j := uint64(0); j < topicCount; j++ {
			topic, err := d.hash()
			if err != nil {
				return nil, err
			}
			l.Topics = append(l.Topics, topic)
		}
		if l.Data, err = d.bytesWithLen(); err != nil {
			return nil, err
		}
		r.Logs = append(r.Logs, l)
	}
	return &r, nil
}

// ReceiptsRoot computes the Merkle root over the Keccak hashes of the
// canonical receipt encodings, in block order. Empty receipt sets commit to
// the zero hash.
func ReceiptsRoot(receipts []*Receipt) common.Hash {
	if len(receipts) == 0 {
		return common.Hash{}
	}
	leaves := make([]common.Hash, len(receipts))
	for i, r := range receipts {
		leaves[i] = crypto.Keccak256Hash(r.EncodeBinary())
	}
	return merkleRoot(leaves)
}
