// Package logs keeps a per-block index of emitted logs and answers range
// queries over it.
package logs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	logCacheLimit = 128
	// maxQueryRange bounds the number of blocks a single query may scan.
	maxQueryRange = 10_000
)

var logIndexPrefix = []byte("evm-logs-")

// ErrInvalidRange is returned for queries with from > to or an oversized range.
var ErrInvalidRange = errors.New("invalid block range")

// storedLog is the on-disk form of a log. types.Log only encodes its
// consensus fields, so the position fields are carried alongside.
type storedLog struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
	TxHash  common.Hash
	TxIndex uint64
	Index   uint64
}

type storedBlockLogs struct {
	BlockHash common.Hash
	Logs      []storedLog
}

// Index stores the logs of every finalized block under its number.
type Index struct {
	db    ethdb.KeyValueStore
	cache *lru.Cache[uint64, []*types.Log]
}

// NewIndex creates a log index backed by db.
func NewIndex(db ethdb.KeyValueStore) *Index {
	cache, _ := lru.New[uint64, []*types.Log](logCacheLimit)
	return &Index{db: db, cache: cache}
}

func indexKey(number uint64) []byte {
	key := make([]byte, len(logIndexPrefix)+8)
	copy(key, logIndexPrefix)
	binary.BigEndian.PutUint64(key[len(logIndexPrefix):], number)
	return key
}

// GenerateLogsFromReceipts indexes the logs of the receipts of a block. The
// receipts must already carry their block position.
func (idx *Index) GenerateLogsFromReceipts(receipts types.Receipts, blockHash common.Hash, blockNumber uint64) error {
	all, err := idx.WriteLogs(idx.db, receipts, blockHash, blockNumber)
	if err != nil {
		return err
	}
	if len(all) > 0 {
		idx.cache.Add(blockNumber, all)
	}
	return nil
}

// WriteLogs encodes the logs of the receipts of a block into w and returns
// them. It leaves the cache alone so w may be a batch that is never written.
func (idx *Index) WriteLogs(w ethdb.KeyValueWriter, receipts types.Receipts, blockHash common.Hash, blockNumber uint64) ([]*types.Log, error) {
	var (
		entry = storedBlockLogs{BlockHash: blockHash}
		all   []*types.Log
	)
	for _, r := range receipts {
		for _, l := range r.Logs {
			entry.Logs = append(entry.Logs, storedLog{
				Address: l.Address,
				Topics:  l.Topics,
				Data:    l.Data,
				TxHash:  l.TxHash,
				TxIndex: uint64(l.TxIndex),
				Index:   uint64(l.Index),
			})
			all = append(all, l)
		}
	}
	if len(entry.Logs) == 0 {
		return nil, nil
	}
	enc, err := rlp.EncodeToBytes(&entry)
	if err != nil {
		return nil, fmt.Errorf("encode logs of block %d: %w", blockNumber, err)
	}
	if err := w.Put(indexKey(blockNumber), enc); err != nil {
		return nil, err
	}
	log.Debug("Indexed block logs", "number", blockNumber, "logs", len(all))
	return all, nil
}

// GetLogs returns the logs emitted in a block, nil if there are none.
func (idx *Index) GetLogs(blockNumber uint64) ([]*types.Log, error) {
	if logs, ok := idx.cache.Get(blockNumber); ok {
		return logs, nil
	}
	key := indexKey(blockNumber)
	if ok, err := idx.db.Has(key); err != nil || !ok {
		return nil, err
	}
	enc, err := idx.db.Get(key)
	if err != nil {
		return nil, err
	}
	var entry storedBlockLogs
	if err := rlp.DecodeBytes(enc, &entry); err != nil {
		return nil, fmt.Errorf("decode logs of block %d: %w", blockNumber, err)
	}
	logs := make([]*types.Log, len(entry.Logs))
	for i, l := range entry.Logs {
		logs[i] = &types.Log{
			Address:     l.Address,
			Topics:      l.Topics,
			Data:        l.Data,
			BlockNumber: blockNumber,
			BlockHash:   entry.BlockHash,
			TxHash:      l.TxHash,
			TxIndex:     uint(l.TxIndex),
			Index:       uint(l.Index),
		}
	}
	idx.cache.Add(blockNumber, logs)
	return logs, nil
}

// Query returns the logs matching c in the inclusive block range. Missing
// bounds default to head.
func (idx *Index) Query(c Criteria, head uint64) ([]*types.Log, error) {
	from, to := head, head
	if c.FromBlock != nil {
		from = *c.FromBlock
	}
	if c.ToBlock != nil {
		to = *c.ToBlock
	}
	if to > head {
		to = head
	}
	if from > to {
		return nil, fmt.Errorf("%w: from %d to %d", ErrInvalidRange, from, to)
	}
	if to-from >= maxQueryRange {
		return nil, fmt.Errorf("%w: more than %d blocks", ErrInvalidRange, maxQueryRange)
	}
	var (
		matcher = NewMatcher(c)
		out     = []*types.Log{}
	)
	for n := from; n <= to; n++ {
		logs, err := idx.GetLogs(n)
		if err != nil {
			return nil, err
		}
		out = append(out, matcher.Filter(logs)...)
	}
	return out, nil
}
