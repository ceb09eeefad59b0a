// Package miner produces blocks on a fixed interval by finalizing a fresh
// queue per block. It is the standalone stand-in for the host node's
// consensus, which normally owns queue creation and finalization.
package miner

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/metachain-labs/evmcore/core"
	"github.com/metachain-labs/evmcore/core/transaction"
)

// Config holds the block production settings.
type Config struct {
	Coinbase   common.Address
	Interval   time.Duration
	Difficulty uint64
	// MaxBlocks stops the producer after this many blocks, 0 for no limit.
	MaxBlocks uint64
}

// DefaultConfig produces a block every three seconds.
var DefaultConfig = Config{
	Interval:   3 * time.Second,
	Difficulty: 1,
}

// Backend is the part of the EVM services the producer drives.
type Backend interface {
	QueueTx(queueID uint64, tx transaction.QueueTx, hash common.Hash, gasUsed uint64) error
	FinalizeBlock(queueID uint64, updateState bool, difficulty *big.Int, beneficiary common.Address, timestamp uint64) (*core.FinalizedBlockInfo, error)
	PruneFilters() int
}

// Queues creates and disposes candidate queues.
type Queues interface {
	Create() uint64
	Remove(id uint64)
}

// Pending is a queue item waiting for the next block.
type Pending struct {
	Tx      transaction.QueueTx
	Hash    common.Hash
	GasUsed uint64
}

// Miner seals blocks out of the items submitted between two ticks.
type Miner struct {
	config  Config
	backend Backend
	queues  Queues
	now     func() time.Time

	mu      sync.Mutex
	pending []Pending
	mined   uint64
}

// New creates a miner. It does nothing until Run is called.
func New(config Config, backend Backend, queues Queues) *Miner {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig.Interval
	}
	return &Miner{
		config:  config,
		backend: backend,
		queues:  queues,
		now:     time.Now,
	}
}

// Submit schedules an item for the next block.
func (m *Miner) Submit(item Pending) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, item)
}

// Mined returns the number of blocks sealed so far.
func (m *Miner) Mined() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mined
}

// Run seals a block every interval until ctx is cancelled or MaxBlocks is
// reached.
func (m *Miner) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	log.Info("Starting block production", "coinbase", m.config.Coinbase, "interval", m.config.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := m.Seal()
			if err != nil {
				log.Error("Failed to seal block", "err", err)
				continue
			}
			log.Info("Sealed block", "number", info.BlockNumber, "hash", info.BlockHash, "failed", len(info.FailedTransactions))
			if m.config.MaxBlocks > 0 && m.Mined() >= m.config.MaxBlocks {
				return nil
			}
		}
	}
}

// Seal finalizes one block out of the pending items. Items rejected at
// admission are dropped. A block rejected for a bad nonce or fee estimate
// drops its items too, any other rejection keeps them for the next attempt.
func (m *Miner) Seal() (*core.FinalizedBlockInfo, error) {
	m.mu.Lock()
	items := m.pending
	m.pending = nil
	m.mu.Unlock()

	id := m.queues.Create()
	for _, item := range items {
		if err := m.backend.QueueTx(id, item.Tx, item.Hash, item.GasUsed); err != nil {
			log.Warn("Dropping queue item", "hash", item.Hash, "kind", transaction.Kind(item.Tx), "err", err)
		}
	}
	difficulty := new(big.Int).SetUint64(m.config.Difficulty)
	info, err := m.backend.FinalizeBlock(id, true, difficulty, m.config.Coinbase, uint64(m.now().Unix()))
	if err != nil {
		m.queues.Remove(id)
		if errors.Is(err, core.ErrInvalidNonce) || errors.Is(err, core.ErrFeeMismatch) {
			return nil, err
		}
		m.mu.Lock()
		m.pending = append(items, m.pending...)
		m.mu.Unlock()
		return nil, err
	}
	m.backend.PruneFilters()

	m.mu.Lock()
	m.mined++
	m.mu.Unlock()
	return info, nil
}
