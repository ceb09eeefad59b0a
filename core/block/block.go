// Package block tracks the chain head and the EIP-1559 base fee schedule.
package block

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc/eip1559"
	"github.com/ethereum/go-ethereum/core/types"
	gethparams "github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/metachain-labs/evmcore/core/storage"
	"github.com/metachain-labs/evmcore/params"
)

// ErrUnknownParent is returned when the base fee is requested for a parent
// that is not stored.
var ErrUnknownParent = errors.New("unknown parent block")

// Service answers head and base fee queries and appends finalized blocks.
type Service struct {
	storage *storage.Storage
	config  *gethparams.ChainConfig
}

// NewService creates a block service over the given store.
func NewService(storage *storage.Storage, config *gethparams.ChainConfig) *Service {
	return &Service{storage: storage, config: config}
}

// GetLatestBlock returns the head block, nil before the first block.
func (s *Service) GetLatestBlock() *types.Block {
	return s.storage.GetLatestBlock()
}

// GetLatestBlockHashAndNumber returns the head's hash and number. ok is false
// before the first block.
func (s *Service) GetLatestBlockHashAndNumber() (hash common.Hash, number uint64, ok bool) {
	latest := s.storage.GetLatestBlock()
	if latest == nil {
		return common.Hash{}, 0, false
	}
	return latest.Hash(), latest.NumberU64(), true
}

// GetLatestStateRoot returns the head's state root, or the genesis root if no
// block has been finalized yet.
func (s *Service) GetLatestStateRoot() common.Hash {
	if latest := s.storage.GetLatestBlock(); latest != nil {
		return latest.Root()
	}
	return params.GenesisStateRoot
}

// CalculateBaseFee returns the base fee of a child of parentHash. The zero
// hash stands for "no parent" and yields the initial base fee. The result
// never drops below the initial base fee.
func (s *Service) CalculateBaseFee(parentHash common.Hash) (*uint256.Int, error) {
	if parentHash == (common.Hash{}) {
		return uint256.NewInt(params.InitialBaseFee), nil
	}
	parent := s.storage.GetBlockByHash(parentHash)
	if parent == nil {
		return nil, fmt.Errorf("%w: %x", ErrUnknownParent, parentHash)
	}
	return s.nextBaseFee(parent.Header())
}

// CalculateNextBlockBaseFee returns the base fee of the block following the
// current head.
func (s *Service) CalculateNextBlockBaseFee() (*uint256.Int, error) {
	hash, _, ok := s.GetLatestBlockHashAndNumber()
	if !ok {
		return uint256.NewInt(params.InitialBaseFee), nil
	}
	return s.CalculateBaseFee(hash)
}

func (s *Service) nextBaseFee(parent *types.Header) (*uint256.Int, error) {
	if parent.BaseFee == nil {
		return uint256.NewInt(params.InitialBaseFee), nil
	}
	next, overflow := uint256.FromBig(eip1559.CalcBaseFee(s.config, parent))
	if overflow {
		return nil, fmt.Errorf("base fee overflow after block %d", parent.Number)
	}
	if floor := uint256.NewInt(params.InitialBaseFee); next.Lt(floor) {
		return floor, nil
	}
	return next, nil
}

// ConnectBlock appends block as the new head. The receipts and any extra
// writes are stored in the same batch as the block.
func (s *Service) ConnectBlock(block *types.Block, receipts types.Receipts, extra ...storage.BatchWriter) error {
	if latest := s.storage.GetLatestBlock(); latest != nil {
		if block.ParentHash() != latest.Hash() || block.NumberU64() != latest.NumberU64()+1 {
			return fmt.Errorf("block %d (%x) does not extend head %d (%x)", block.NumberU64(), block.Hash(), latest.NumberU64(), latest.Hash())
		}
	}
	return s.storage.WriteBlock(block, receipts, extra...)
}

// GetBlockHash returns the canonical hash at number for the BLOCKHASH opcode.
func (s *Service) GetBlockHash(number uint64) common.Hash {
	return s.storage.GetCanonicalHash(number)
}
