// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

// Package state implements the unified state database: account balances and
// nonces, deployed contracts and their storage, and the on-chain vector
// store, all committed under a single composite root.
package state

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/luxtensor/go-luxtensor/crypto/merkle"
	"github.com/luxtensor/go-luxtensor/hnsw"
	"github.com/luxtensor/go-luxtensor/params"
)

var (
	ErrBalanceOverflow     = errors.New("state: balance overflow")
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	ErrNonceOverflow       = errors.New("state: nonce overflow")
)

// maxBalance bounds balances to 128 bits, the protocol's value range.
var maxBalance = func() *uint256.Int {
	v := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	return v.SubUint64(v, 1)
}()

// ContractInfo describes a deployed contract.
type ContractInfo struct {
	Code        []byte
	Deployer    common.Address
	DeployBlock uint64
}

// Account is the externally visible account view.
type Account struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash common.Hash
	Code     []byte
}

type storageKey struct {
	addr common.Address
	slot common.Hash
}

// StateDB is the unified state. All access goes through the embedded
// reader-writer lock; readers interleave, writers are exclusive. The vector
// store carries its own internal locking so searches can run concurrently
// with account reads.
type StateDB struct {
	mu sync.RWMutex

	balances  map[common.Address]*uint256.Int
	nonces    map[common.Address]uint64
	contracts map[common.Address]*ContractInfo
	storage   map[storageKey]common.Hash

	vectors *hnsw.Graph

	blockNumber uint64
	chainID     uint64
	dirty       bool
}

// New creates an empty state for the given chain.
func New(chainID uint64, hnswCfg *params.HnswConfig) *StateDB {
	if hnswCfg == nil {
		hnswCfg = params.DefaultHnswConfig()
	}
	cfg := hnsw.DefaultConfig(hnswCfg.Dimension)
	cfg.M = hnswCfg.M
	cfg.EfConstruction = hnswCfg.EfConstruction
	cfg.MaxLevel = hnswCfg.MaxLevel
	return &StateDB{
		balances:  make(map[common.Address]*uint256.Int),
		nonces:    make(map[common.Address]uint64),
		contracts: make(map[common.Address]*ContractInfo),
		storage:   make(map[storageKey]common.Hash),
		vectors:   hnsw.NewGraph(cfg),
		chainID:   chainID,
		dirty:     true,
	}
}

// GetBalance returns the balance, zero for unknown accounts.
func (s *StateDB) GetBalance(addr common.Address) *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.balances[addr]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// SetBalance overwrites the balance. Genesis initialisation only.
func (s *StateDB) SetBalance(addr common.Address, balance *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[addr] = balance.Clone()
	s.dirty = true
}

// Credit adds amount to the account, creating it lazily. Fails when the
// result would exceed the 128-bit balance range.
func (s *StateDB) Credit(addr common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[addr]
	if !ok {
		balance = new(uint256.Int)
	}
	sum, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow || sum.Gt(maxBalance) {
		return ErrBalanceOverflow
	}
	s.balances[addr] = sum
	s.dirty = true
	return nil
}

// Debit subtracts amount from the account, failing on underflow.
func (s *StateDB) Debit(addr common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[addr]
	if !ok || balance.Lt(amount) {
		return ErrInsufficientBalance
	}
	s.balances[addr] = new(uint256.Int).Sub(balance, amount)
	s.dirty = true
	return nil
}

// GetNonce returns the account nonce, zero for unknown accounts.
func (s *StateDB) GetNonce(addr common.Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[addr]
}

// IncrementNonce bumps the nonce, failing on overflow.
func (s *StateDB) IncrementNonce(addr common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce := s.nonces[addr]
	if nonce == ^uint64(0) {
		return ErrNonceOverflow
	}
	s.nonces[addr] = nonce + 1
	s.dirty = true
	return nil
}

// GetAccount returns the full account view, or nil for nonexistent accounts
// (no balance, no nonce, no code).
func (s *StateDB) GetAccount(addr common.Address) *Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	balance, hasBalance := s.balances[addr]
	nonce := s.nonces[addr]
	info, hasCode := s.contracts[addr]
	if !hasBalance && nonce == 0 && !hasCode {
		return nil
	}
	acct := &Account{Nonce: nonce, Balance: new(uint256.Int)}
	if hasBalance {
		acct.Balance = balance.Clone()
	}
	if hasCode {
		acct.Code = append([]byte(nil), info.Code...)
		acct.CodeHash = crypto.Keccak256Hash(info.Code)
	}
	return acct
}

// DeployContract registers contract code at an address.
func (s *StateDB) DeployContract(addr common.Address, code []byte, deployer common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[addr] = &ContractInfo{
		Code:        append([]byte(nil), code...),
		Deployer:    deployer,
		DeployBlock: s.blockNumber,
	}
	s.dirty = true
}

// GetCode returns the contract bytecode, nil when absent.
func (s *StateDB) GetCode(addr common.Address) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if info, ok := s.contracts[addr]; ok {
		return append([]byte(nil), info.Code...)
	}
	return nil
}

// HasCode reports whether the address hosts a contract.
func (s *StateDB) HasCode(addr common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.contracts[addr]
	return ok
}

// GetContract returns the full deployment record.
func (s *StateDB) GetContract(addr common.Address) (*ContractInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.contracts[addr]
	if !ok {
		return nil, false
	}
	cp := *info
	cp.Code = append([]byte(nil), info.Code...)
	return &cp, true
}

// GetStorage returns the storage slot value, zero when unset.
func (s *StateDB) GetStorage(addr common.Address, slot common.Hash) common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage[storageKey{addr, slot}]
}

// SetStorage writes a storage slot; the zero value deletes the slot.
func (s *StateDB) SetStorage(addr common.Address, slot, value common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storageKey{addr, slot}
	if value == (common.Hash{}) {
		delete(s.storage, key)
	} else {
		s.storage[key] = value
	}
	s.dirty = true
}

// VectorStore exposes the HNSW index. Mutations through it mark the state
// dirty via InsertVector; direct use is read-only search.
func (s *StateDB) VectorStore() *hnsw.Graph {
	return s.vectors
}

// InsertVector adds a vector to the on-chain index using the deterministic
// RNG derived from the originating transaction.
func (s *StateDB) InsertVector(vec hnsw.Vector, rng *hnsw.Rng) (uint64, error) {
	id, err := s.vectors.Insert(vec, rng)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	return id, nil
}

// BlockNumber returns the current block number.
func (s *StateDB) BlockNumber() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockNumber
}

// SetBlockNumber positions the state at a block (sync path).
func (s *StateDB) SetBlockNumber(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockNumber = n
	s.dirty = true
}

// AdvanceBlock moves to the next block number.
func (s *StateDB) AdvanceBlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockNumber++
	s.dirty = true
}

// ChainID returns the chain id the state was initialised with.
func (s *StateDB) ChainID() uint64 {
	return s.chainID
}

// RootHash computes the composite commitment
// Keccak256(accountRoot || contractRoot || vectorRoot) without clearing the
// dirty flag.
func (s *StateDB) RootHash() common.Hash {
	s.mu.RLock()
	accountRoot := s.accountRoot()
	contractRoot := s.contractRoot()
	s.mu.RUnlock()
	vectorRoot := s.vectors.RootHash()

	combined := make([]byte, 0, 96)
	combined = append(combined, accountRoot.Bytes()...)
	combined = append(combined, contractRoot.Bytes()...)
	combined = append(combined, vectorRoot.Bytes()...)
	return crypto.Keccak256Hash(combined)
}

// accountRoot hashes every account that holds a balance or nonce, in
// lexicographic address order. Caller holds at least the read lock.
func (s *StateDB) accountRoot() common.Hash {
	if len(s.balances) == 0 && len(s.nonces) == 0 {
		return common.Hash{}
	}
	seen := make(map[common.Address]struct{}, len(s.balances)+len(s.nonces))
	addrs := make([]common.Address, 0, len(s.balances)+len(s.nonces))
	for addr := range s.balances {
		seen[addr] = struct{}{}
		addrs = append(addrs, addr)
	}
	for addr := range s.nonces {
		if _, ok := seen[addr]; !ok {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})

	leaves := make([]common.Hash, 0, len(addrs))
	for _, addr := range addrs {
		balance := s.balances[addr]
		if balance == nil {
			balance = new(uint256.Int)
		}
		data := make([]byte, 0, 44)
		data = append(data, addr.Bytes()...)
		data = appendUint128LE(data, balance)
		data = appendUint64LE(data, s.nonces[addr])
		leaves = append(leaves, crypto.Keccak256Hash(data))
	}
	return merkle.New(leaves).Root()
}

// contractRoot hashes every deployed contract as H(addr || codeHash), in
// lexicographic address order. Caller holds at least the read lock.
func (s *StateDB) contractRoot() common.Hash {
	if len(s.contracts) == 0 {
		return common.Hash{}
	}
	addrs := make([]common.Address, 0, len(s.contracts))
	for addr := range s.contracts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})

	leaves := make([]common.Hash, 0, len(addrs))
	for _, addr := range addrs {
		codeHash := crypto.Keccak256Hash(s.contracts[addr].Code)
		data := make([]byte, 0, 52)
		data = append(data, addr.Bytes()...)
		data = append(data, codeHash.Bytes()...)
		leaves = append(leaves, crypto.Keccak256Hash(data))
	}
	return merkle.New(leaves).Root()
}

// Commit returns the current root and clears the dirty flag.
func (s *StateDB) Commit() common.Hash {
	root := s.RootHash()
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return root
}

// IsDirty reports whether the state mutated since the last commit.
func (s *StateDB) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Stats summarises the state for observability callbacks.
type Stats struct {
	AccountCount     int
	ContractCount    int
	StorageSlotCount int
	VectorCount      int
	BlockNumber      uint64
}

// GetStats returns a consistent snapshot of the state sizes.
func (s *StateDB) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := len(s.balances)
	if len(s.nonces) > accounts {
		accounts = len(s.nonces)
	}
	return Stats{
		AccountCount:     accounts,
		ContractCount:    len(s.contracts),
		StorageSlotCount: len(s.storage),
		VectorCount:      s.vectors.Len(),
		BlockNumber:      s.blockNumber,
	}
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func appendUint128LE(buf []byte, v *uint256.Int) []byte {
	be := v.Bytes32()
	for i := 31; i >= 16; i-- {
		buf = append(buf, be[i])
	}
	return buf
}
