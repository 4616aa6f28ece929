// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

// Package multisig implements N-of-M wallets used for treasury management
// and governance operations: a wallet is a signer set with a threshold, and
// spending goes through a propose/approve flow with expiry.
package multisig

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	ErrWalletNotFound   = errors.New("multisig: wallet not found")
	ErrInvalidThreshold = errors.New("multisig: invalid threshold")
	ErrDuplicateSigner  = errors.New("multisig: duplicate signer")
	ErrTxNotFound       = errors.New("multisig: transaction not found")
	ErrAlreadySigned    = errors.New("multisig: already signed by this signer")
	ErrNotAuthorized    = errors.New("multisig: not an authorized signer")
	ErrAlreadyExecuted  = errors.New("multisig: transaction already executed")
	ErrExpired          = errors.New("multisig: transaction expired")
	ErrTooFewApprovals  = errors.New("multisig: insufficient approvals")
)

// DefaultTxTTL is how long a proposal stays approvable.
const DefaultTxTTL = 7 * 24 * time.Hour

// Wallet is an N-of-M signer set. The id is derived from the signers and
// threshold so identical configurations collide intentionally.
type Wallet struct {
	ID        string
	Threshold uint8
	Signers   []common.Address
	CreatedAt uint64
	Name      string
}

// NewWallet validates the configuration and derives the wallet id:
// hex(Keccak256(signers || threshold)[:8]).
func NewWallet(signers []common.Address, threshold uint8, name string, now uint64) (*Wallet, error) {
	if threshold == 0 || int(threshold) > len(signers) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, threshold, len(signers))
	}
	seen := make(map[common.Address]struct{}, len(signers))
	for _, signer := range signers {
		if _, dup := seen[signer]; dup {
			return nil, ErrDuplicateSigner
		}
		seen[signer] = struct{}{}
	}

	input := make([]byte, 0, len(signers)*common.AddressLength+1)
	for _, signer := range signers {
		input = append(input, signer.Bytes()...)
	}
	input = append(input, threshold)

	return &Wallet{
		ID:        hex.EncodeToString(crypto.Keccak256(input)[:8]),
		Threshold: threshold,
		Signers:   append([]common.Address(nil), signers...),
		CreatedAt: now,
		Name:      name,
	}, nil
}

// IsSigner reports signer membership.
func (w *Wallet) IsSigner(addr common.Address) bool {
	for _, signer := range w.Signers {
		if signer == addr {
			return true
		}
	}
	return false
}

// Address derives the wallet's receiving address: the last 20 bytes of
// Keccak256(id).
func (w *Wallet) Address() common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(w.ID))[12:])
}

// PendingTx is a proposed spend awaiting approvals.
type PendingTx struct {
	ID         string
	WalletID   string
	To         common.Address
	Value      *uint256.Int
	Data       []byte
	Approvals  []common.Address
	ProposedAt uint64
	ExpiresAt  uint64 // zero means never
	Executed   bool
	ExecutedAt uint64
	TxHash     *common.Hash
}

// newPendingTx derives the proposal id from
// hex(Keccak256(walletID || to || value_be || now_be)[:12]) and records the
// proposer's implicit approval.
func newPendingTx(walletID string, to common.Address, value *uint256.Int, data []byte, proposer common.Address, now, ttl uint64) *PendingTx {
	input := make([]byte, 0, len(walletID)+common.AddressLength+40)
	input = append(input, []byte(walletID)...)
	input = append(input, to.Bytes()...)
	valueBytes := value.Bytes32()
	input = append(input, valueBytes[16:]...)
	input = binary.BigEndian.AppendUint64(input, now)

	expires := uint64(0)
	if ttl > 0 {
		expires = now + ttl
	}
	return &PendingTx{
		ID:         hex.EncodeToString(crypto.Keccak256(input)[:12]),
		WalletID:   walletID,
		To:         to,
		Value:      value.Clone(),
		Data:       append([]byte(nil), data...),
		Approvals:  []common.Address{proposer},
		ProposedAt: now,
		ExpiresAt:  expires,
	}
}

// IsExpired reports whether the proposal passed its deadline at now.
func (tx *PendingTx) IsExpired(now uint64) bool {
	return tx.ExpiresAt != 0 && now > tx.ExpiresAt
}

// HasApproved reports whether the signer already approved.
func (tx *PendingTx) HasApproved(signer common.Address) bool {
	for _, a := range tx.Approvals {
		if a == signer {
			return true
		}
	}
	return false
}

// ApprovalCount returns the number of distinct approvals.
func (tx *PendingTx) ApprovalCount() int {
	return len(tx.Approvals)
}

// Manager tracks wallets and their pending transactions.
type Manager struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
	pending map[string]*PendingTx
	ttl     uint64

	now func() uint64 // injectable clock
}

// NewManager creates a manager with the default proposal TTL.
func NewManager() *Manager {
	return &Manager{
		wallets: make(map[string]*Wallet),
		pending: make(map[string]*PendingTx),
		ttl:     uint64(DefaultTxTTL / time.Second),
		now:     func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// CreateWallet registers a new wallet.
func (m *Manager) CreateWallet(signers []common.Address, threshold uint8, name string) (*Wallet, error) {
	wallet, err := NewWallet(signers, threshold, name, m.now())
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[wallet.ID] = wallet
	return wallet, nil
}

// GetWallet returns a wallet by id.
func (m *Manager) GetWallet(id string) (*Wallet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wallet, ok := m.wallets[id]
	return wallet, ok
}

// Propose creates a pending transaction; the proposer auto-approves.
func (m *Manager) Propose(walletID string, proposer, to common.Address, value *uint256.Int, data []byte) (*PendingTx, error) {
	wallet, ok := m.GetWallet(walletID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
	}
	if !wallet.IsSigner(proposer) {
		return nil, fmt.Errorf("%w: %s", ErrNotAuthorized, proposer)
	}
	tx := newPendingTx(walletID, to, value, data, proposer, m.now(), m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[tx.ID] = tx
	return tx.clone(), nil
}

// Approve adds a signer's approval to a pending transaction.
func (m *Manager) Approve(txID string, signer common.Address) (*PendingTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.pending[txID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txID)
	}
	if tx.Executed {
		return nil, ErrAlreadyExecuted
	}
	if tx.IsExpired(m.now()) {
		return nil, ErrExpired
	}
	wallet, ok := m.wallets[tx.WalletID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, tx.WalletID)
	}
	if !wallet.IsSigner(signer) {
		return nil, fmt.Errorf("%w: %s", ErrNotAuthorized, signer)
	}
	if tx.HasApproved(signer) {
		return nil, ErrAlreadySigned
	}
	tx.Approvals = append(tx.Approvals, signer)
	return tx.clone(), nil
}

// CanExecute reports whether a proposal reached its threshold, is alive, and
// has not run yet.
func (m *Manager) CanExecute(txID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.pending[txID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTxNotFound, txID)
	}
	if tx.Executed {
		return false, nil
	}
	if tx.IsExpired(m.now()) {
		return false, ErrExpired
	}
	wallet, ok := m.wallets[tx.WalletID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrWalletNotFound, tx.WalletID)
	}
	return tx.ApprovalCount() >= int(wallet.Threshold), nil
}

// MarkExecuted records the realized on-chain hash after the executor ran the
// spend. Requires the threshold to be met.
func (m *Manager) MarkExecuted(txID string, txHash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.pending[txID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTxNotFound, txID)
	}
	wallet, ok := m.wallets[tx.WalletID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWalletNotFound, tx.WalletID)
	}
	if tx.ApprovalCount() < int(wallet.Threshold) {
		return fmt.Errorf("%w: have %d, need %d", ErrTooFewApprovals, tx.ApprovalCount(), wallet.Threshold)
	}
	tx.Executed = true
	tx.ExecutedAt = m.now()
	tx.TxHash = &txHash
	return nil
}

// GetTransaction returns a pending transaction by id.
func (m *Manager) GetTransaction(txID string) (*PendingTx, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.pending[txID]
	if !ok {
		return nil, false
	}
	return tx.clone(), true
}

// PendingForWallet lists live, unexecuted proposals for one wallet.
func (m *Manager) PendingForWallet(walletID string) []*PendingTx {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var out []*PendingTx
	for _, tx := range m.pending {
		if tx.WalletID == walletID && !tx.Executed && !tx.IsExpired(now) {
			out = append(out, tx.clone())
		}
	}
	return out
}

// CleanupExpired drops expired unexecuted proposals and returns how many.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, tx := range m.pending {
		if tx.IsExpired(now) && !tx.Executed {
			delete(m.pending, id)
			removed++
		}
	}
	return removed
}

func (tx *PendingTx) clone() *PendingTx {
	cp := *tx
	cp.Value = tx.Value.Clone()
	cp.Data = append([]byte(nil), tx.Data...)
	cp.Approvals = append([]common.Address(nil), tx.Approvals...)
	if tx.TxHash != nil {
		hash := *tx.TxHash
		cp.TxHash = &hash
	}
	return &cp
}
