package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/metachain-labs/evmcore/contracts"
	"github.com/metachain-labs/evmcore/core/transaction"
)

// applyCounter bumps the counter contract so that every block changes the
// state root. Block 0 deploys it with the counter at 1.
func applyCounter(exec TxExecutor, blockNumber uint64) error {
	addr := contracts.Address(contracts.CounterContract)
	if blockNumber == 0 || !exec.HasCode(addr) {
		code, err := contracts.Bytecode(contracts.CounterContract)
		if err != nil {
			return err
		}
		log.Debug("Deploying counter contract", "address", addr, "number", blockNumber)
		return exec.DeployContract(addr, code, []StorageEntry{
			{Slot: contracts.CounterSlot, Value: contracts.U256ToHash(uint256.NewInt(1))},
		})
	}
	count := contracts.HashToU256(exec.GetStorage(addr, contracts.CounterSlot))
	next, overflow := new(uint256.Int).AddOverflow(count, uint256.NewInt(1))
	if overflow {
		return fmt.Errorf("counter contract overflow at block %d", blockNumber)
	}
	log.Trace("Incrementing counter contract", "count", next, "number", blockNumber)
	return exec.UpdateStorage(addr, []StorageEntry{
		{Slot: contracts.CounterSlot, Value: contracts.U256ToHash(next)},
	})
}

// deployDST20 installs the token template at the requested address.
func deployDST20(exec TxExecutor, op *transaction.DeployContract) error {
	if exec.HasCode(op.Address) {
		return fmt.Errorf("%w: %s", ErrContractExists, op.Address)
	}
	name, err := contracts.AbiEncodedString(op.Name)
	if err != nil {
		return fmt.Errorf("token name: %w", err)
	}
	symbol, err := contracts.AbiEncodedString(op.Symbol)
	if err != nil {
		return fmt.Errorf("token symbol: %w", err)
	}
	code, err := contracts.Bytecode(contracts.DST20Contract)
	if err != nil {
		return err
	}
	return exec.DeployContract(op.Address, code, []StorageEntry{
		{Slot: contracts.NameSlot, Value: name},
		{Slot: contracts.SymbolSlot, Value: symbol},
	})
}

// bridgeDST20 moves a token balance across the bridge by writing the
// holder's balance slot directly.
func bridgeDST20(exec TxExecutor, op *transaction.DST20Bridge) error {
	want, err := contracts.CodeHash(contracts.DST20Contract)
	if err != nil {
		return err
	}
	if !exec.HasCode(op.Contract) || exec.GetCodeHash(op.Contract) != want {
		return fmt.Errorf("%w: %s", ErrNotDST20Contract, op.Contract)
	}
	slot := contracts.AddressStorageIndex(op.To)
	balance := contracts.HashToU256(exec.GetStorage(op.Contract, slot))

	var (
		next     = new(uint256.Int)
		overflow bool
	)
	if op.Out {
		if balance.Lt(op.Amount) {
			return fmt.Errorf("%w: balance %s, amount %s", ErrDST20Balance, balance, op.Amount)
		}
		next.Sub(balance, op.Amount)
	} else if next, overflow = next.AddOverflow(balance, op.Amount); overflow {
		return fmt.Errorf("%w: balance %s, amount %s", ErrDST20Balance, balance, op.Amount)
	}
	return exec.UpdateStorage(op.Contract, []StorageEntry{{Slot: slot, Value: contracts.U256ToHash(next)}})
}
