package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/metachain-labs/evmcore/core/logs"
)

// GetLogs returns the logs matching c between its bounds and the head.
func (s *EVMServices) GetLogs(c logs.Criteria) ([]*types.Log, error) {
	_, head, ok := s.Block.GetLatestBlockHashAndNumber()
	if !ok {
		return []*types.Log{}, nil
	}
	return s.Logs.Query(c, head)
}

// GetFilterLogs runs the criteria of an installed log filter over the whole
// index instead of returning only the changes since the last poll.
func (s *EVMServices) GetFilterLogs(id uint64) ([]*types.Log, error) {
	c, err := s.Filters.Criteria(id)
	if err != nil {
		return nil, err
	}
	return s.GetLogs(c)
}

// GetBlockByNumber returns the canonical block at number.
func (s *EVMServices) GetBlockByNumber(number uint64) *types.Block {
	return s.storage.GetBlockByNumber(number)
}

// GetBlockByHash returns a stored block.
func (s *EVMServices) GetBlockByHash(hash common.Hash) *types.Block {
	return s.storage.GetBlockByHash(hash)
}

// GetTransaction returns a finalized transaction with its block and index.
func (s *EVMServices) GetTransaction(hash common.Hash) (*types.Transaction, *types.Block, int, bool) {
	block, index, ok := s.storage.GetTransactionLocation(hash)
	if !ok {
		return nil, nil, 0, false
	}
	return block.Transactions()[index], block, index, true
}
