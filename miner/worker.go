// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.
//
// The go-luxtensor library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-luxtensor library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-luxtensor library. If not, see <http://www.gnu.org/licenses/>.

// Package miner drives block production: each slot tick asks the consensus
// engine who leads; when it is the local validator, the worker drains the
// mempool, executes transactions against the unified state, seals the header
// over the resulting roots and hands the block to fork choice.
package miner

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/luxtensor/go-luxtensor/consensus/pos"
	"github.com/luxtensor/go-luxtensor/core"
	"github.com/luxtensor/go-luxtensor/core/forkchoice"
	"github.com/luxtensor/go-luxtensor/core/state"
	"github.com/luxtensor/go-luxtensor/core/txpool"
	"github.com/luxtensor/go-luxtensor/core/types"
	"github.com/luxtensor/go-luxtensor/internal/workpool"
	"github.com/luxtensor/go-luxtensor/metrics"
	"github.com/luxtensor/go-luxtensor/storage"
)

var (
	ErrNotOurSlot        = errors.New("miner: not this node's slot")
	ErrNoSigningKey      = errors.New("miner: no signing key configured")
	ErrStructuralInvalid = errors.New("miner: structurally invalid block")
	ErrCheckpointClash   = errors.New("miner: block conflicts with checkpoint")
	ErrStopped           = errors.New("miner: worker stopped")
)

// maxBlockTxs bounds how many transactions one block drains from the pool.
const maxBlockTxs = 2000

// Worker assembles blocks and ingests peer blocks. Every collaborator is
// injected; the worker owns only the slot loop goroutine.
type Worker struct {
	engine    *pos.Engine
	statedb   *state.StateDB
	pool      *txpool.Pool
	fc        *forkchoice.ForkChoice
	resolver  *forkchoice.Resolver
	guard     *forkchoice.LongRangeProtection
	processor *core.StateProcessor
	store     storage.BlockStore // optional
	offload   *workpool.Pool
	metrics   *metrics.Metrics // optional

	signKey *ecdsa.PrivateKey

	// broadcast hands sealed blocks to the network collaborator.
	broadcast func(*types.Block)

	mu      sync.Mutex
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// Config bundles the worker's collaborators.
type Config struct {
	Engine     *pos.Engine
	State      *state.StateDB
	Pool       *txpool.Pool
	ForkChoice *forkchoice.ForkChoice
	Resolver   *forkchoice.Resolver
	Guard      *forkchoice.LongRangeProtection
	Processor  *core.StateProcessor
	Store      storage.BlockStore
	Offload    *workpool.Pool
	Metrics    *metrics.Metrics
	SignKey    *ecdsa.PrivateKey
	Broadcast  func(*types.Block)
}

// New creates a worker.
func New(cfg Config) *Worker {
	w := &Worker{
		engine:    cfg.Engine,
		statedb:   cfg.State,
		pool:      cfg.Pool,
		fc:        cfg.ForkChoice,
		resolver:  cfg.Resolver,
		guard:     cfg.Guard,
		processor: cfg.Processor,
		store:     cfg.Store,
		offload:   cfg.Offload,
		metrics:   cfg.Metrics,
		signKey:   cfg.SignKey,
		broadcast: cfg.Broadcast,
		quit:      make(chan struct{}),
	}
	if w.offload == nil {
		w.offload = workpool.New(4, workpool.DefaultDeadline)
	}
	return w
}

// Start launches the slot loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.slotLoop()
	log.Info("Block production started",
		"validator", w.engine.LocalValidator(),
		"slotDuration", w.engine.Config().SlotDuration)
}

// Stop terminates the slot loop; an in-flight block finishes sealing.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.quit)
	w.mu.Unlock()

	w.wg.Wait()
	log.Info("Block production stopped")
}

func (w *Worker) slotLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(time.Duration(w.engine.Config().SlotDuration) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			slot := w.engine.SlotOf(uint64(time.Now().Unix()))
			if !w.engine.IsLocalTurn(slot) {
				continue
			}
			block, err := w.ProduceBlock(slot)
			if err != nil {
				log.Warn("Block production failed", "slot", slot, "err", err)
				continue
			}
			if w.broadcast != nil {
				w.broadcast(block)
			}
		}
	}
}

// ProduceBlock assembles, executes, seals and commits the block for a slot
// this node leads.
func (w *Worker) ProduceBlock(slot uint64) (*types.Block, error) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil, ErrStopped
	}
	w.mu.Unlock()

	if !w.engine.IsLocalTurn(slot) {
		return nil, fmt.Errorf("%w: slot %d", ErrNotOurSlot, slot)
	}
	if w.signKey == nil {
		return nil, ErrNoSigningKey
	}

	parent, err := w.fc.Head()
	if err != nil {
		return nil, err
	}
	height := parent.Height() + 1
	timestamp := w.engine.SlotStart(slot)
	if timestamp <= parent.Header.Timestamp {
		timestamp = parent.Header.Timestamp + 1
	}

	baseFee := w.engine.FeeMarket().BaseFee()
	gasLimit := w.engine.FeeMarket().BlockGasLimit()

	w.statedb.SetBlockNumber(height)

	var (
		included []*types.Transaction
		receipts []*types.Receipt
		gasUsed  uint64
		fees     = new(uint256.Int)
		dropped  []*types.Transaction
	)
	for _, tx := range w.pool.TransactionsForBlock(maxBlockTxs) {
		if gasUsed+core.IntrinsicGas(tx.Data, tx.IsContractCreation()) > gasLimit {
			continue
		}
		receipt, err := w.processor.ApplyTransaction(w.statedb, tx, baseFee, height, common.Hash{}, len(included))
		if err != nil {
			// Unincludable right now; drop it from the pool and move on.
			dropped = append(dropped, tx)
			log.Debug("Dropped unincludable transaction", "tx", tx.Hash(), "err", err)
			continue
		}
		included = append(included, tx)
		receipts = append(receipts, receipt)
		gasUsed += receipt.GasUsed
		fees.Add(fees, new(uint256.Int).Mul(uint256.NewInt(receipt.GasUsed), uint256.NewInt(tx.GasPrice)))
	}

	stateRoot := w.statedb.Commit()

	header := &types.Header{
		Version:      types.HeaderVersion,
		Height:       height,
		Timestamp:    timestamp,
		ParentHash:   parent.Hash(),
		StateRoot:    stateRoot,
		TxsRoot:      types.TxsRoot(included),
		ReceiptsRoot: types.ReceiptsRoot(receipts),
		Validator:    w.engine.LocalValidator(),
		GasUsed:      gasUsed,
		GasLimit:     gasLimit,
	}
	if proof, err := w.engine.ProveLeadership(slot); err == nil {
		header.VrfProof = proof
	} else if !errors.Is(err, pos.ErrNoLocalVrfKey) {
		return nil, err
	}
	if err := header.Sign(w.signKey); err != nil {
		return nil, err
	}

	block := types.NewBlock(header, included)

	if err := w.fc.AddBlock(block); err != nil {
		return nil, err
	}

	// Included txs are marked consumed; dropped ones are simply forgotten.
	w.pool.Remove(hashList(included))
	w.pool.Forget(hashList(dropped))

	if err := w.commitBlock(block, receipts, fees); err != nil {
		return nil, err
	}

	log.Info("Produced block",
		"height", height,
		"hash", block.Hash(),
		"slot", slot,
		"txs", len(included),
		"gasUsed", gasUsed)
	if w.metrics != nil {
		w.metrics.BlocksProduced.Inc()
		w.metrics.TxsExecuted.Add(float64(len(included)))
	}
	return block, nil
}

func hashList(txs []*types.Transaction) []common.Hash {
	out := make([]common.Hash, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.Hash())
	}
	return out
}

// commitBlock finalizes bookkeeping after a block joins fork choice:
// finality marks, checkpoint pins, rewards, fee-market advance and durable
// writes (offloaded).
func (w *Worker) commitBlock(block *types.Block, receipts []*types.Receipt, fees *uint256.Int) error {
	chain := w.fc.CanonicalChain()
	newlyFinal := w.resolver.ProcessFinalization(chain)
	for _, hash := range newlyFinal {
		final, err := w.fc.GetBlock(hash)
		if err != nil {
			continue
		}
		epoch := w.engine.EpochOf(w.engine.SlotOf(final.Header.Timestamp))
		w.guard.UpdateFinalized(hash, final.Height(), epoch, final.Header.StateRoot, final.Header.Timestamp)
		w.engine.UpdateLastFinalized(hash)
		if w.metrics != nil {
			w.metrics.FinalizedHeight.Set(float64(final.Height()))
		}
	}

	utility := pos.UtilityMetrics{
		ActiveValidators: uint64(len(w.engine.Validators().ActiveValidators())),
		EpochTxs:         uint64(len(block.Transactions)),
		BlockUtilization: blockUtilization(block.Header),
	}
	if _, err := w.engine.OnBlockCommit(block.Header, fees, utility); err != nil {
		return err
	}

	if w.store != nil {
		score, _ := w.fc.Score(block.Hash())
		err := w.offload.Submit(context.Background(), func() error {
			if err := w.store.PutBlock(block); err != nil {
				return err
			}
			if err := w.store.PutReceipts(block.Hash(), receipts); err != nil {
				return err
			}
			if err := w.store.PutBlockScore(block.Hash(), score); err != nil {
				return err
			}
			return w.store.PutStateRoot(block.Height(), block.Header.StateRoot)
		})
		if err != nil {
			log.Error("Durable block write failed", "height", block.Height(), "err", err)
		}
	}

	if w.metrics != nil {
		w.metrics.HeadHeight.Set(float64(chain[len(chain)-1].Height()))
		w.metrics.BaseFeeWei.Set(float64(w.engine.FeeMarket().BaseFee().Uint64()))
		w.metrics.MempoolSize.Set(float64(w.pool.Len()))
		w.metrics.ValidatorCount.Set(float64(len(w.engine.Validators().ActiveValidators())))
	}
	return nil
}

func blockUtilization(header *types.Header) uint8 {
	if header.GasLimit == 0 {
		return 0
	}
	return uint8(header.GasUsed * 100 / header.GasLimit)
}

// ImportBlock ingests a peer block: structural validation, checkpoint and
// producer checks, then fork-choice insertion. Blocks extending the current
// head are executed against the state immediately; deeper forks join the DAG
// and state replay is resolved through the reorg plan.
func (w *Worker) ImportBlock(block *types.Block) error {
	header := block.Header
	if header == nil || header.GasUsed > header.GasLimit {
		w.rejected()
		return fmt.Errorf("%w: gas used exceeds limit", ErrStructuralInvalid)
	}
	parent, err := w.fc.GetBlock(header.ParentHash)
	if err != nil {
		w.rejected()
		return fmt.Errorf("%w: %v", forkchoice.ErrOrphanBlock, err)
	}
	if header.Height != parent.Height()+1 {
		w.rejected()
		return fmt.Errorf("%w: height %d under parent %d", ErrStructuralInvalid, header.Height, parent.Height())
	}
	if header.Timestamp <= parent.Header.Timestamp {
		w.rejected()
		return fmt.Errorf("%w: timestamp %d not after parent %d", ErrStructuralInvalid, header.Timestamp, parent.Header.Timestamp)
	}
	if got, want := types.TxsRoot(block.Transactions), header.TxsRoot; got != want {
		w.rejected()
		return fmt.Errorf("%w: txs root mismatch", ErrStructuralInvalid)
	}
	if !w.guard.ValidateAgainstCheckpoints(block.Hash(), header.Height) {
		w.rejected()
		return fmt.Errorf("%w: height %d", ErrCheckpointClash, header.Height)
	}
	if err := w.engine.VerifyProducer(header); err != nil {
		w.rejected()
		return err
	}

	oldHead := w.fc.HeadHash()
	extendsHead := header.ParentHash == oldHead

	// Fork blocks are vetted against the reorg limits and finality before
	// they may join the DAG.
	if !extendsHead {
		candidate := w.forkChainOf(block)
		info, err := w.resolver.DetectReorg(w.fc.CanonicalChain(), candidate)
		if err != nil {
			w.rejected()
			return err
		}
		if info != nil && !w.guard.IsReorgAllowed(info.ReorgDepth) {
			w.rejected()
			return fmt.Errorf("%w: depth %d beyond long-range limit", forkchoice.ErrReorgTooDeep, info.ReorgDepth)
		}
	}

	var (
		receipts []*types.Receipt
		fees     = new(uint256.Int)
	)
	if extendsHead {
		w.statedb.SetBlockNumber(header.Height)
		result, err := w.processor.Process(w.statedb, block, nil)
		if err != nil {
			w.rejected()
			return err
		}
		if result.ReceiptsRoot != header.ReceiptsRoot {
			w.rejected()
			return fmt.Errorf("%w: receipts root mismatch", ErrStructuralInvalid)
		}
		if result.GasUsed != header.GasUsed {
			w.rejected()
			return fmt.Errorf("%w: gas used %d, header claims %d", ErrStructuralInvalid, result.GasUsed, header.GasUsed)
		}
		if root := w.statedb.Commit(); root != header.StateRoot {
			w.rejected()
			return fmt.Errorf("%w: state root mismatch: computed %s, header %s", ErrStructuralInvalid, root, header.StateRoot)
		}
		receipts = result.Receipts
		fees = result.FeesPaid
	}

	if err := w.fc.AddBlock(block); err != nil {
		w.rejected()
		return err
	}

	if !extendsHead && w.fc.HeadHash() != oldHead {
		// The fork overtook the old head; count the reorganisation and log
		// the old and new heads so the sync layer can replay state from the
		// last snapshot.
		if w.metrics != nil {
			w.metrics.ReorgsTotal.Inc()
		}
		log.Warn("Chain reorganisation", "oldHead", oldHead, "newHead", w.fc.HeadHash())
	}

	w.pool.Remove(hashList(block.Transactions))
	if err := w.commitBlock(block, receipts, fees); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.BlocksImported.Inc()
	}
	log.Info("Imported block", "height", header.Height, "hash", block.Hash(), "txs", len(block.Transactions))
	return nil
}

// forkChainOf walks the candidate block's ancestry through fork choice and
// returns the genesis-to-candidate chain.
func (w *Worker) forkChainOf(block *types.Block) []*types.Block {
	chain := []*types.Block{block}
	current := block.ParentHash()
	for current != (common.Hash{}) {
		parent, err := w.fc.GetBlock(current)
		if err != nil {
			break
		}
		chain = append(chain, parent)
		current = parent.ParentHash()
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func (w *Worker) rejected() {
	if w.metrics != nil {
		w.metrics.BlocksRejected.Inc()
	}
}

// SubmitTransaction validates and pools a transaction arriving from RPC or
// gossip.
func (w *Worker) SubmitTransaction(tx *types.Transaction) error {
	if uint256.NewInt(tx.GasPrice).Lt(w.engine.FeeMarket().BaseFee()) {
		return core.ErrGasPriceBelowBase
	}
	return w.pool.Add(tx)
}
