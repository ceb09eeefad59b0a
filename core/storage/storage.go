// Package storage persists finalized blocks, the canonical index and receipts
// in the chain database and fronts them with in-memory caches.
package storage

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	blockCacheLimit   = 256
	receiptCacheLimit = 256
)

var txLookupPrefix = []byte("evm-txlookup-")

// Storage is the block store of the chain. Writes of a block and its indexes
// go through a single batch, so a block is either fully stored or not at all.
type Storage struct {
	db     ethdb.Database
	config *params.ChainConfig

	blockCache   *lru.Cache[common.Hash, *types.Block]
	receiptCache *lru.Cache[common.Hash, types.Receipts]

	mu     sync.RWMutex
	latest *types.Block
}

// New wraps db and restores the latest block from the head pointer, if any.
func New(db ethdb.Database, config *params.ChainConfig) *Storage {
	blocks, _ := lru.New[common.Hash, *types.Block](blockCacheLimit)
	receipts, _ := lru.New[common.Hash, types.Receipts](receiptCacheLimit)
	s := &Storage{
		db:           db,
		config:       config,
		blockCache:   blocks,
		receiptCache: receipts,
	}
	if head := rawdb.ReadHeadBlockHash(db); head != (common.Hash{}) {
		s.latest = s.GetBlockByHash(head)
		if s.latest != nil {
			log.Info("Loaded most recent local block", "number", s.latest.NumberU64(), "hash", s.latest.Hash(), "root", s.latest.Root())
		} else {
			log.Warn("Head block missing, starting from genesis", "hash", head)
		}
	}
	return s
}

// Database returns the underlying chain database.
func (s *Storage) Database() ethdb.Database {
	return s.db
}

// GetLatestBlock returns the head of the chain, nil before the first block.
func (s *Storage) GetLatestBlock() *types.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latest
}

// GetBlockByHash retrieves a stored block.
func (s *Storage) GetBlockByHash(hash common.Hash) *types.Block {
	if block, ok := s.blockCache.Get(hash); ok {
		return block
	}
	number := rawdb.ReadHeaderNumber(s.db, hash)
	if number == nil {
		return nil
	}
	block := rawdb.ReadBlock(s.db, hash, *number)
	if block == nil {
		return nil
	}
	s.blockCache.Add(hash, block)
	return block
}

// GetBlockByNumber retrieves the canonical block at number.
func (s *Storage) GetBlockByNumber(number uint64) *types.Block {
	hash := rawdb.ReadCanonicalHash(s.db, number)
	if hash == (common.Hash{}) {
		return nil
	}
	return s.GetBlockByHash(hash)
}

// GetCanonicalHash returns the hash of the canonical block at number, or the
// zero hash if there is none.
func (s *Storage) GetCanonicalHash(number uint64) common.Hash {
	return rawdb.ReadCanonicalHash(s.db, number)
}

// BatchWriter adds entries to the batch a block is stored with.
type BatchWriter func(ethdb.KeyValueWriter) error

// PutLatestBlock stores block with its canonical and transaction indexes and
// makes it the new head.
func (s *Storage) PutLatestBlock(block *types.Block) error {
	return s.WriteBlock(block, nil)
}

// WriteBlock stores block, its canonical and transaction indexes, its
// receipts when non-nil and whatever extra writes, then makes it the new
// head. Everything goes through a single batch.
func (s *Storage) WriteBlock(block *types.Block, receipts types.Receipts, extra ...BatchWriter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	rawdb.WriteBlock(batch, block)
	rawdb.WriteCanonicalHash(batch, block.Hash(), block.NumberU64())
	if err := writeTxLookups(batch, block); err != nil {
		return err
	}
	if receipts != nil {
		rawdb.WriteReceipts(batch, block.Hash(), block.NumberU64(), receipts)
	}
	for _, write := range extra {
		if err := write(batch); err != nil {
			return err
		}
	}
	rawdb.WriteHeadHeaderHash(batch, block.Hash())
	rawdb.WriteHeadBlockHash(batch, block.Hash())
	if err := batch.Write(); err != nil {
		return err
	}
	s.blockCache.Add(block.Hash(), block)
	if receipts != nil {
		s.receiptCache.Add(block.Hash(), receipts)
	}
	s.latest = block
	return nil
}

// PutReceipts stores the receipts of a stored block.
func (s *Storage) PutReceipts(block *types.Block, receipts types.Receipts) error {
	batch := s.db.NewBatch()
	rawdb.WriteReceipts(batch, block.Hash(), block.NumberU64(), receipts)
	if err := batch.Write(); err != nil {
		return err
	}
	s.receiptCache.Add(block.Hash(), receipts)
	return nil
}

// GetReceipts returns the receipts of a stored block with all derived fields
// filled in.
func (s *Storage) GetReceipts(hash common.Hash) types.Receipts {
	if receipts, ok := s.receiptCache.Get(hash); ok {
		return receipts
	}
	block := s.GetBlockByHash(hash)
	if block == nil {
		return nil
	}
	receipts := rawdb.ReadReceipts(s.db, hash, block.NumberU64(), block.Time(), s.config)
	if receipts == nil {
		return nil
	}
	s.receiptCache.Add(hash, receipts)
	return receipts
}

// GetTransactionLocation resolves a transaction hash to the canonical block
// containing it and its index in that block.
func (s *Storage) GetTransactionLocation(txHash common.Hash) (*types.Block, int, bool) {
	number, ok := readTxLookup(s.db, txHash)
	if !ok {
		return nil, 0, false
	}
	block := s.GetBlockByNumber(number)
	if block == nil {
		return nil, 0, false
	}
	for i, tx := range block.Transactions() {
		if tx.Hash() == txHash {
			return block, i, true
		}
	}
	return nil, 0, false
}

func txLookupKey(hash common.Hash) []byte {
	return append(append([]byte{}, txLookupPrefix...), hash.Bytes()...)
}

// writeTxLookups maps every transaction of block to the block number. The
// number is always stored as 8 bytes so block 0 has a non-empty entry.
func writeTxLookups(w ethdb.KeyValueWriter, block *types.Block) error {
	var enc [8]byte
	binary.BigEndian.PutUint64(enc[:], block.NumberU64())
	for _, tx := range block.Transactions() {
		if err := w.Put(txLookupKey(tx.Hash()), enc[:]); err != nil {
			return err
		}
	}
	return nil
}

func readTxLookup(db ethdb.KeyValueReader, hash common.Hash) (uint64, bool) {
	enc, err := db.Get(txLookupKey(hash))
	if err != nil || len(enc) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(enc), true
}
