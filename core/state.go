package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/metachain-labs/evmcore/core/backend"
)

// withLatestState runs fn against a backend at the head's state root and
// discards it afterwards.
func (s *EVMServices) withLatestState(fn func(*backend.EVMBackend)) error {
	be, err := backend.Open(s.trieStore, s.Block.GetLatestStateRoot(), backend.Vicinity{})
	if err != nil {
		return err
	}
	defer be.Discard()
	fn(be)
	return nil
}

// GetLatestContractStorage reads a storage slot from the latest state.
func (s *EVMServices) GetLatestContractStorage(addr common.Address, slot common.Hash) (common.Hash, error) {
	var value common.Hash
	err := s.withLatestState(func(be *backend.EVMBackend) {
		value = be.GetStorage(addr, slot)
	})
	return value, err
}

// GetNonce returns the nonce of addr in the latest state.
func (s *EVMServices) GetNonce(addr common.Address) (uint64, error) {
	var nonce uint64
	err := s.withLatestState(func(be *backend.EVMBackend) {
		nonce = be.GetNonce(addr)
	})
	return nonce, err
}

// GetBalance returns the balance of addr in the latest state.
func (s *EVMServices) GetBalance(addr common.Address) (*uint256.Int, error) {
	balance := new(uint256.Int)
	err := s.withLatestState(func(be *backend.EVMBackend) {
		balance = be.GetBalance(addr)
	})
	return balance, err
}

// GetCode returns the code of addr in the latest state.
func (s *EVMServices) GetCode(addr common.Address) ([]byte, error) {
	var code []byte
	err := s.withLatestState(func(be *backend.EVMBackend) {
		code = be.GetCode(addr)
	})
	return code, err
}
