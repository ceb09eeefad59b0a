package core

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/metachain-labs/evmcore/core/backend"
	"github.com/metachain-labs/evmcore/core/fee"
	"github.com/metachain-labs/evmcore/core/receipt"
	"github.com/metachain-labs/evmcore/core/transaction"
	"github.com/metachain-labs/evmcore/params"
)

// FinalizedBlockInfo is the outcome of a successful finalize call.
type FinalizedBlockInfo struct {
	BlockHash          common.Hash
	BlockNumber        uint64
	StateRoot          common.Hash
	FailedTransactions []common.Hash
	TotalBurntFees     *uint256.Int
	TotalPriorityFees  *uint256.Int
	TotalGasUsed       uint64
	Block              *types.Block
	Receipts           types.Receipts
}

// FinalizeBlock builds the next block from the queue queueID.
//
// Queue items are executed in admission order against a backend opened at
// the head's state root. Item failures are recorded in FailedTransactions and
// their state effects kept; a nonce mismatch, an inapplicable transaction or
// a fee invariant violation aborts the call without persisting anything.
//
// With updateState the block is committed: the state is written to the trie
// store, the block becomes the new head, receipts and logs are indexed,
// filters are notified and the queue is removed. Without it the state is
// discarded and the queue left intact.
func (s *EVMServices) FinalizeBlock(queueID uint64, updateState bool, difficulty *big.Int, beneficiary common.Address, timestamp uint64) (*FinalizedBlockInfo, error) {
	if updateState {
		s.finalizeMu.Lock()
		defer s.finalizeMu.Unlock()
	}
	start := time.Now()
	info, err := s.finalizeBlock(queueID, updateState, difficulty, beneficiary, timestamp)
	if err != nil {
		rejectedBlockMeter.Mark(1)
		log.Debug("Finalize block failed", "queue", queueID, "update", updateState, "err", err)
		return nil, err
	}
	finalizeTimer.UpdateSince(start)
	return info, nil
}

func (s *EVMServices) finalizeBlock(queueID uint64, updateState bool, difficulty *big.Int, beneficiary common.Address, timestamp uint64) (*FinalizedBlockInfo, error) {
	snap, err := s.Queues.Snapshot(queueID)
	if err != nil {
		return nil, fmt.Errorf("EVM block rejected because failed to get total fees from queue %d: %w", queueID, err)
	}

	// Hash, number and root come from one read of the head so a concurrent
	// commit cannot mix two parents.
	var (
		parentHash common.Hash
		parentRoot = params.GenesisStateRoot
		number     = params.GenesisBlockNumber
	)
	if parent := s.Block.GetLatestBlock(); parent != nil {
		parentHash, parentRoot, number = parent.Hash(), parent.Root(), parent.NumberU64()+1
	}
	baseFee, err := s.Block.CalculateBaseFee(parentHash)
	if err != nil {
		return nil, err
	}
	if snap.BaseFee != nil && !snap.BaseFee.Eq(baseFee) {
		return nil, fmt.Errorf("%w: queue %d admitted at %s, block %d has %s", ErrBaseFeeMismatch, queueID, snap.BaseFee, number, baseFee)
	}
	if difficulty == nil {
		difficulty = new(big.Int)
	}
	vicinity := backend.Vicinity{
		Coinbase:    beneficiary,
		BlockNumber: number,
		Timestamp:   timestamp,
		Difficulty:  difficulty,
		GasLimit:    params.MaxGasPerBlock,
		BaseFee:     baseFee,
		GetHash:     s.Block.GetBlockHash,
	}
	log.Debug("Finalizing block", "queue", queueID, "number", number, "fork", params.ForkName(s.chainConfig, number, timestamp), "parent", parentHash, "root", parentRoot, "baseFee", baseFee, "items", len(snap.Items))

	be, err := backend.Open(s.trieStore, parentRoot, vicinity)
	if err != nil {
		return nil, err
	}
	// Any early return leaves the backend for this deferred discard.
	defer func() {
		if !be.Closed() {
			be.Discard()
		}
	}()
	exec := NewExecutor(be, s.chainConfig, s.vmConfig)

	if err := applyCounter(exec, number); err != nil {
		return nil, err
	}
	exec.Commit()

	var (
		txs          types.Transactions
		receipts     types.Receipts
		failed       = []common.Hash{}
		totalGasUsed uint64
		totalGasFees = new(uint256.Int)
		unpaid       = new(uint256.Int) // admitted fees of refused transactions
		bloom        types.Bloom
	)
	for _, item := range snap.Items {
		switch tx := item.Tx.(type) {
		case *transaction.SignedTx:
			if nonce := exec.GetNonce(tx.Sender); nonce != tx.Nonce() {
				return nil, fmt.Errorf("%w. Address %s nonce %d, signed_tx nonce: %d", ErrInvalidNonce, tx.Sender, nonce, tx.Nonce())
			}
			prepay, err := fee.CalculatePrepayGasFee(tx.Transaction)
			if err != nil {
				return nil, err
			}
			resp, rcpt, err := exec.Exec(tx, prepay)
			if cannotPay(err) {
				log.Debug("Sender cannot pay for transaction", "tx", tx.Hash(), "err", err)
				failed = append(failed, item.Hash)
				unpaid.Add(unpaid, item.Fee)
				continue
			}
			if err != nil {
				return nil, err
			}
			if resp.Failed {
				log.Debug("Transaction execution failed", "tx", tx.Hash(), "err", resp.Err)
				failed = append(failed, item.Hash)
			}
			gasFee, err := fee.CalculateGasFee(tx.Transaction, resp.UsedGas, baseFee)
			if err != nil {
				return nil, err
			}
			var overflow bool
			if totalGasFees, overflow = new(uint256.Int).AddOverflow(totalGasFees, gasFee); overflow {
				return nil, fmt.Errorf("%w: block total gas fees", fee.ErrFeeOverflow)
			}
			totalGasUsed += resp.UsedGas
			txs = append(txs, tx.Transaction)
			receipts = append(receipts, rcpt)
			receipt.MergeBloom(&bloom, resp.Logs)

		case *transaction.EvmIn:
			log.Debug("EvmIn", "address", tx.Address, "amount", tx.Amount, "queue", queueID)
			if err := exec.AddBalance(tx.Address, tx.Amount); err != nil {
				log.Debug("EvmIn failed", "hash", item.Hash, "err", err)
				failed = append(failed, item.Hash)
			}

		case *transaction.EvmOut:
			log.Debug("EvmOut", "address", tx.Address, "amount", tx.Amount, "queue", queueID)
			if err := exec.SubBalance(tx.Address, tx.Amount); err != nil {
				log.Debug("EvmOut failed", "hash", item.Hash, "err", err)
				failed = append(failed, item.Hash)
			}

		case *transaction.DeployContract:
			log.Debug("DeployContract", "address", tx.Address, "name", tx.Name, "symbol", tx.Symbol)
			if err := deployDST20(exec, tx); err != nil {
				log.Debug("DeployContract failed", "hash", item.Hash, "err", err)
				failed = append(failed, item.Hash)
			}

		case *transaction.DST20Bridge:
			log.Debug("DST20Bridge", "contract", tx.Contract, "to", tx.To, "amount", tx.Amount, "out", tx.Out)
			if err := bridgeDST20(exec, tx); err != nil {
				log.Debug("DST20Bridge failed", "hash", item.Hash, "err", err)
				failed = append(failed, item.Hash)
			}

		default:
			return nil, fmt.Errorf("unsupported queue item %T", item.Tx)
		}
		exec.Commit()
	}

	root := be.Root()
	header := &types.Header{
		ParentHash: parentHash,
		Coinbase:   beneficiary,
		Root:       root,
		Bloom:      bloom,
		Difficulty: new(big.Int).Set(difficulty),
		Number:     new(big.Int).SetUint64(number),
		GasLimit:   params.MaxGasPerBlock,
		GasUsed:    totalGasUsed,
		Time:       timestamp,
		BaseFee:    baseFee.ToBig(),
	}
	block := types.NewBlock(header, &types.Body{Transactions: txs}, receipts, trie.NewStackTrie(nil))
	if got := receipt.GetReceiptsRoot(receipts); block.ReceiptHash() != got {
		return nil, fmt.Errorf("receipts root mismatch: header %x, receipts %x", block.ReceiptHash(), got)
	}

	burnt, err := fee.Burnt(totalGasUsed, baseFee)
	if err != nil {
		return nil, err
	}
	priority, underflow := new(uint256.Int).SubOverflow(totalGasFees, burnt)
	if underflow {
		return nil, fmt.Errorf("%w. Burnt fees: %s, total gas fees: %s", ErrFeeMismatch, burnt, totalGasFees)
	}
	expected, underflow := new(uint256.Int).SubOverflow(snap.TotalFees, unpaid)
	if underflow {
		return nil, fmt.Errorf("%w. Unpaid fees: %s, total fees: %s", ErrFeeMismatch, unpaid, snap.TotalFees)
	}
	if sum := new(uint256.Int).Add(burnt, priority); !sum.Eq(expected) {
		return nil, fmt.Errorf("%w. Burnt fees: %s, priority fees: %s, total fees: %s", ErrFeeMismatch, burnt, priority, expected)
	}

	info := &FinalizedBlockInfo{
		BlockHash:          block.Hash(),
		BlockNumber:        number,
		StateRoot:          root,
		FailedTransactions: failed,
		TotalBurntFees:     burnt,
		TotalPriorityFees:  priority,
		TotalGasUsed:       totalGasUsed,
		Block:              block,
		Receipts:           receipts,
	}
	receipt.GenerateReceipts(receipts, block.Hash(), number)

	if !updateState {
		be.Discard()
		dryRunCounter.Inc(1)
		log.Debug("Discarded dry-run block", "number", number, "hash", block.Hash(), "root", root, "txs", len(txs), "failed", len(failed))
		return info, nil
	}
	if err := s.commitBlock(be, block, receipts, root); err != nil {
		return nil, err
	}
	s.Queues.Remove(queueID)

	finalizedBlockMeter.Mark(1)
	finalizedTxMeter.Mark(int64(len(snap.Items)))
	failedTxMeter.Mark(int64(len(failed)))
	log.Info("Finalized block", "number", number, "hash", block.Hash(), "root", root, "txs", len(txs), "items", len(snap.Items), "failed", len(failed), "gas", totalGasUsed, "burnt", burnt, "priority", priority)
	return info, nil
}

// commitBlock persists the state and the block with its indexes.
func (s *EVMServices) commitBlock(be *backend.EVMBackend, block *types.Block, receipts types.Receipts, root common.Hash) error {
	committed, err := be.Commit(block.NumberU64())
	if err != nil {
		return err
	}
	if committed != root {
		return fmt.Errorf("%w: header %x, committed %x", ErrStateRootMismatch, root, committed)
	}
	var blockLogs []*types.Log
	indexLogs := func(w ethdb.KeyValueWriter) (err error) {
		blockLogs, err = s.Logs.WriteLogs(w, receipts, block.Hash(), block.NumberU64())
		return err
	}
	if err := s.Block.ConnectBlock(block, receipts, indexLogs); err != nil {
		return err
	}
	s.Filters.AddBlockToFilters(block.Hash())
	s.Filters.AddLogsToFilters(blockLogs)
	return nil
}
