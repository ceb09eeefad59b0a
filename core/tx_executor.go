package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/metachain-labs/evmcore/core/transaction"
)

// TxExecutor executes the items of a candidate block against one backend.
// The finalization pipeline only talks to this interface so the block loop
// does not depend on how state or the EVM are wired.
type TxExecutor interface {
	// Engine returns a short human identifier of the execution engine.
	Engine() string

	// GetNonce returns the current nonce of addr.
	GetNonce(addr common.Address) uint64

	// Exec runs a signed transaction whose sender can afford prepay and
	// returns the execution outcome and its receipt. An error means the
	// transaction could not be applied at all.
	Exec(tx *transaction.SignedTx, prepay *uint256.Int) (*TxResponse, *types.Receipt, error)

	// AddBalance and SubBalance stage privileged balance changes.
	AddBalance(addr common.Address, amount *uint256.Int) error
	SubBalance(addr common.Address, amount *uint256.Int) error

	// DeployContract stages code and initial storage at addr.
	DeployContract(addr common.Address, code []byte, storage []StorageEntry) error

	// UpdateStorage stages storage writes of an existing contract.
	UpdateStorage(addr common.Address, storage []StorageEntry) error

	// GetStorage, GetCodeHash and HasCode read through staged changes.
	GetStorage(addr common.Address, slot common.Hash) common.Hash
	GetCodeHash(addr common.Address) common.Hash
	HasCode(addr common.Address) bool

	// Commit applies the staged changes of the current item to the working
	// state. It must be called after every queue item.
	Commit()
}

// StorageEntry is a single storage slot write.
type StorageEntry struct {
	Slot  common.Hash
	Value common.Hash
}

// TxResponse is the outcome of executing a signed transaction.
type TxResponse struct {
	Failed     bool
	Err        error // EVM error of a failed execution, e.g. a revert
	ReturnData []byte
	UsedGas    uint64
	Logs       []*types.Log
}
