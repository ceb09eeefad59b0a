// Package txqueue keeps the candidate block queues. Each queue is an ordered
// list of admitted transactions together with the fees promised at admission.
// Queues are independent: every queue has its own lock and the registry lock
// is only held to look queues up.
package txqueue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/metachain-labs/evmcore/core/fee"
	"github.com/metachain-labs/evmcore/core/transaction"
)

var (
	// ErrNoSuchQueue is returned for operations on an unknown queue id.
	ErrNoSuchQueue = errors.New("no such queue")

	// ErrQueueExists is returned by Open when the id is already in use.
	ErrQueueExists = errors.New("queue already exists")

	// ErrBaseFeeMismatch is returned when a signed transaction is admitted
	// under a different base fee than earlier transactions of the queue.
	ErrBaseFeeMismatch = errors.New("base fee differs from queue base fee")
)

// Item is an admitted queue entry. Items are never modified once queued.
type Item struct {
	Tx      transaction.QueueTx
	Hash    common.Hash
	GasUsed uint64       // gas used estimate supplied at admission
	Fee     *uint256.Int // fee promised at admission, zero for system txs
}

// Snapshot is a consistent copy of a queue's contents.
type Snapshot struct {
	Items        []Item
	TotalFees    *uint256.Int
	TotalGasUsed uint64
	// BaseFee is the base fee signed transactions were admitted under, nil
	// if the queue holds no signed transaction.
	BaseFee *uint256.Int
}

type queue struct {
	mu           sync.Mutex
	items        []Item
	totalFees    *uint256.Int
	totalGasUsed uint64
	baseFee      *uint256.Int
}

func newQueue() *queue {
	return &queue{totalFees: new(uint256.Int)}
}

// Queues is the registry of candidate block queues keyed by queue id.
type Queues struct {
	mu     sync.RWMutex
	queues map[uint64]*queue
	seq    atomic.Uint64
}

// New creates an empty registry.
func New() *Queues {
	return &Queues{queues: make(map[uint64]*queue)}
}

// Create registers an empty queue under a fresh non-zero id.
func (q *Queues) Create() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		id := q.seq.Add(1)
		if _, ok := q.queues[id]; ok {
			continue
		}
		q.queues[id] = newQueue()
		return id
	}
}

// Open registers an empty queue under a caller chosen id.
func (q *Queues) Open(id uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queues[id]; ok {
		return fmt.Errorf("%w: %d", ErrQueueExists, id)
	}
	q.queues[id] = newQueue()
	return nil
}

// Remove disposes a queue. Removing an unknown id is a no-op.
func (q *Queues) Remove(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.queues, id)
}

// Clear empties a queue but keeps its id registered.
func (q *Queues) Clear(id uint64) error {
	tq, err := q.lookup(id)
	if err != nil {
		return err
	}
	tq.mu.Lock()
	defer tq.mu.Unlock()

	tq.items = nil
	tq.totalFees = new(uint256.Int)
	tq.totalGasUsed = 0
	tq.baseFee = nil
	return nil
}

func (q *Queues) lookup(id uint64) (*queue, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	tq, ok := q.queues[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchQueue, id)
	}
	return tq, nil
}

// QueueTx appends tx to the queue and adds its admission fee to the running
// total. Signed transactions are charged gasUsed at their effective price
// under baseFee; system transactions are free.
func (q *Queues) QueueTx(id uint64, tx transaction.QueueTx, hash common.Hash, gasUsed uint64, baseFee *uint256.Int) error {
	tq, err := q.lookup(id)
	if err != nil {
		return err
	}
	itemFee := new(uint256.Int)
	if signed, ok := tx.(*transaction.SignedTx); ok {
		if itemFee, err = fee.CalculateGasFee(signed.Transaction, gasUsed, baseFee); err != nil {
			return err
		}
	}

	tq.mu.Lock()
	defer tq.mu.Unlock()

	if _, ok := tx.(*transaction.SignedTx); ok {
		if tq.baseFee != nil && baseFee != nil && !tq.baseFee.Eq(baseFee) {
			return fmt.Errorf("%w: queue %d admitted at %s, got %s", ErrBaseFeeMismatch, id, tq.baseFee, baseFee)
		}
		if tq.baseFee == nil && baseFee != nil {
			tq.baseFee = baseFee.Clone()
		}
	}
	total, overflow := new(uint256.Int).AddOverflow(tq.totalFees, itemFee)
	if overflow {
		return fmt.Errorf("%w: queue %d total fees", fee.ErrFeeOverflow, id)
	}
	tq.items = append(tq.items, Item{Tx: tx, Hash: hash, GasUsed: gasUsed, Fee: itemFee})
	tq.totalFees = total
	tq.totalGasUsed += gasUsed

	queueAdmitMeter.Mark(1)
	log.Trace("Queued transaction", "queue", id, "kind", transaction.Kind(tx), "hash", hash, "fee", itemFee)
	return nil
}

// Len returns the number of queued items, 0 for an unknown id.
func (q *Queues) Len(id uint64) int {
	tq, err := q.lookup(id)
	if err != nil {
		return 0
	}
	tq.mu.Lock()
	defer tq.mu.Unlock()

	return len(tq.items)
}

// GetClonedVec returns the queued items in admission order.
func (q *Queues) GetClonedVec(id uint64) []Item {
	snap, err := q.Snapshot(id)
	if err != nil {
		return nil
	}
	return snap.Items
}

// GetTotalFees returns the fees promised by all queued items, or
// ErrNoSuchQueue if the id is unknown.
func (q *Queues) GetTotalFees(id uint64) (*uint256.Int, error) {
	snap, err := q.Snapshot(id)
	if err != nil {
		return nil, err
	}
	return snap.TotalFees, nil
}

// GetTotalGasUsed returns the sum of the admission gas estimates.
func (q *Queues) GetTotalGasUsed(id uint64) (uint64, error) {
	snap, err := q.Snapshot(id)
	if err != nil {
		return 0, err
	}
	return snap.TotalGasUsed, nil
}

// BaseFee returns the base fee the queue's signed transactions were admitted
// under, nil if there are none.
func (q *Queues) BaseFee(id uint64) (*uint256.Int, error) {
	snap, err := q.Snapshot(id)
	if err != nil {
		return nil, err
	}
	return snap.BaseFee, nil
}

// Snapshot copies the items and totals of a queue under a single lock so the
// totals always match the items.
func (q *Queues) Snapshot(id uint64) (*Snapshot, error) {
	tq, err := q.lookup(id)
	if err != nil {
		return nil, err
	}
	tq.mu.Lock()
	defer tq.mu.Unlock()

	snap := &Snapshot{
		Items:        make([]Item, len(tq.items)),
		TotalFees:    tq.totalFees.Clone(),
		TotalGasUsed: tq.totalGasUsed,
	}
	copy(snap.Items, tq.items)
	if tq.baseFee != nil {
		snap.BaseFee = tq.baseFee.Clone()
	}
	return snap, nil
}
