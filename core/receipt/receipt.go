// Package receipt builds, stores and looks up transaction receipts.
package receipt

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/metachain-labs/evmcore/core/storage"
)

// ErrReceiptNotFound is returned when no receipt is stored for a hash.
var ErrReceiptNotFound = errors.New("receipt not found")

// Service stores the receipts of finalized blocks.
type Service struct {
	storage *storage.Storage
}

// NewService creates a receipt service.
func NewService(storage *storage.Storage) *Service {
	return &Service{storage: storage}
}

// GetReceiptsRoot returns the receipts trie root of a block.
func GetReceiptsRoot(receipts types.Receipts) common.Hash {
	if len(receipts) == 0 {
		return types.EmptyReceiptsHash
	}
	return types.DeriveSha(receipts, trie.NewStackTrie(nil))
}

// CreateBloom returns the bloom filter over the logs of the receipts.
func CreateBloom(receipts types.Receipts) types.Bloom {
	var bloom types.Bloom
	for _, r := range receipts {
		MergeBloom(&bloom, r.Logs)
	}
	return bloom
}

// MergeBloom adds the addresses and topics of logs to bloom.
func MergeBloom(bloom *types.Bloom, logs []*types.Log) {
	for _, l := range logs {
		bloom.Add(l.Address.Bytes())
		for _, topic := range l.Topics {
			bloom.Add(topic[:])
		}
	}
}

// GenerateReceipts stamps the block position into receipts and their logs
// once the block hash is known. Log indexes are numbered across the block.
func GenerateReceipts(receipts types.Receipts, blockHash common.Hash, blockNumber uint64) {
	number := new(big.Int).SetUint64(blockNumber)
	var logIndex uint
	for i, r := range receipts {
		r.BlockHash = blockHash
		r.BlockNumber = number
		r.TransactionIndex = uint(i)
		for _, l := range r.Logs {
			l.BlockHash = blockHash
			l.BlockNumber = blockNumber
			l.TxHash = r.TxHash
			l.TxIndex = uint(i)
			l.Index = logIndex
			logIndex++
		}
	}
}

// PutReceipts stores the receipts of a connected block.
func (s *Service) PutReceipts(block *types.Block, receipts types.Receipts) error {
	return s.storage.PutReceipts(block, receipts)
}

// GetReceipt returns the receipt of a finalized transaction.
func (s *Service) GetReceipt(txHash common.Hash) (*types.Receipt, error) {
	block, index, ok := s.storage.GetTransactionLocation(txHash)
	if !ok {
		return nil, ErrReceiptNotFound
	}
	receipts := s.storage.GetReceipts(block.Hash())
	if index >= len(receipts) {
		return nil, ErrReceiptNotFound
	}
	return receipts[index], nil
}

// GetBlockReceipts returns all receipts of a finalized block.
func (s *Service) GetBlockReceipts(blockHash common.Hash) types.Receipts {
	return s.storage.GetReceipts(blockHash)
}
