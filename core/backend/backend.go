// Package backend provides the exclusively owned state context a block is
// executed against. A backend is opened at an immutable parent root, mutated
// by EVM execution and by privileged system operations, and ended by exactly
// one of Commit or Discard.
package backend

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/metachain-labs/evmcore/tracing"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBalanceOverflow is returned when a credit overflows 256 bits.
	ErrBalanceOverflow = errors.New("balance overflow")

	// ErrNoCode is returned when storage is staged for an account without
	// code. Such accounts are empty and would be removed on apply.
	ErrNoCode = errors.New("storage write to account without code")

	// ErrBackendClosed is returned when a backend is used after Commit or
	// Discard.
	ErrBackendClosed = errors.New("backend already committed or discarded")
)

// Vicinity is the block environment transactions execute in.
type Vicinity struct {
	Coinbase    common.Address
	BlockNumber uint64
	Timestamp   uint64
	Difficulty  *big.Int
	GasLimit    uint64
	BaseFee     *uint256.Int
	// GetHash resolves ancestor block hashes for the BLOCKHASH opcode.
	GetHash func(uint64) common.Hash
}

// EVMBackend is a state context rooted at a parent state root. Privileged
// writes are staged in a pending overlay and only reach the state when
// ApplyPending is called; EVM execution writes the state directly.
type EVMBackend struct {
	store    *TrieStore
	state    *state.StateDB
	root     common.Hash
	vicinity Vicinity

	// pending balances are absolute values, not deltas
	pendingBalance map[common.Address]*uint256.Int
	pendingReason  map[common.Address]tracing.BalanceChangeReason
	pendingCode    map[common.Address][]byte
	pendingStorage map[common.Address]map[common.Hash]common.Hash

	closed bool
}

// Open creates a backend reading from the state at root.
func Open(store *TrieStore, root common.Hash, vicinity Vicinity) (*EVMBackend, error) {
	statedb, err := state.New(root, store.db)
	if err != nil {
		return nil, fmt.Errorf("open state at %x: %w", root, err)
	}
	return &EVMBackend{
		store:    store,
		state:    statedb,
		root:     root,
		vicinity: vicinity,
	}, nil
}

// Vicinity returns the block environment of the backend.
func (b *EVMBackend) Vicinity() Vicinity { return b.vicinity }

// ParentRoot returns the root the backend was opened at.
func (b *EVMBackend) ParentRoot() common.Hash { return b.root }

// StateDB exposes the working state to the EVM. Callers must ApplyPending
// before executing against it so overlay writes are visible.
func (b *EVMBackend) StateDB() *state.StateDB { return b.state }

func (b *EVMBackend) ensurePending() {
	if b.pendingBalance == nil {
		b.pendingBalance = make(map[common.Address]*uint256.Int)
		b.pendingReason = make(map[common.Address]tracing.BalanceChangeReason)
		b.pendingCode = make(map[common.Address][]byte)
		b.pendingStorage = make(map[common.Address]map[common.Hash]common.Hash)
	}
}

// HasPending reports whether the overlay holds unapplied writes.
func (b *EVMBackend) HasPending() bool {
	return len(b.pendingBalance) > 0 || len(b.pendingCode) > 0 || len(b.pendingStorage) > 0
}

// GetNonce returns the nonce of addr.
func (b *EVMBackend) GetNonce(addr common.Address) uint64 {
	return b.state.GetNonce(addr)
}

// GetBalance returns the balance of addr including pending writes.
func (b *EVMBackend) GetBalance(addr common.Address) *uint256.Int {
	if bal, ok := b.pendingBalance[addr]; ok {
		return bal.Clone()
	}
	return b.state.GetBalance(addr).Clone()
}

// GetCode returns the code of addr including pending writes.
func (b *EVMBackend) GetCode(addr common.Address) []byte {
	if code, ok := b.pendingCode[addr]; ok {
		return code
	}
	return b.state.GetCode(addr)
}

// GetCodeHash returns the code hash of addr including pending writes. It is
// the zero hash for accounts that do not exist.
func (b *EVMBackend) GetCodeHash(addr common.Address) common.Hash {
	if code, ok := b.pendingCode[addr]; ok {
		return crypto.Keccak256Hash(code)
	}
	return b.state.GetCodeHash(addr)
}

// HasCode reports whether addr has non-empty code, pending or applied.
func (b *EVMBackend) HasCode(addr common.Address) bool {
	if code, ok := b.pendingCode[addr]; ok {
		return len(code) > 0
	}
	return b.state.GetCodeSize(addr) > 0
}

// GetStorage returns a storage slot of addr including pending writes.
func (b *EVMBackend) GetStorage(addr common.Address, slot common.Hash) common.Hash {
	if slots, ok := b.pendingStorage[addr]; ok {
		if val, ok := slots[slot]; ok {
			return val
		}
	}
	return b.state.GetState(addr, slot)
}

// AddBalance stages a credit of amount to addr.
func (b *EVMBackend) AddBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) error {
	if b.closed {
		return ErrBackendClosed
	}
	bal, overflow := new(uint256.Int).AddOverflow(b.GetBalance(addr), amount)
	if overflow {
		return fmt.Errorf("%w: %s + %s", ErrBalanceOverflow, addr, amount)
	}
	b.ensurePending()
	b.pendingBalance[addr] = bal
	b.pendingReason[addr] = reason
	return nil
}

// SubBalance stages a debit of amount from addr.
func (b *EVMBackend) SubBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) error {
	if b.closed {
		return ErrBackendClosed
	}
	cur := b.GetBalance(addr)
	if cur.Lt(amount) {
		return fmt.Errorf("%w: address %s have %s want %s", ErrInsufficientBalance, addr, cur, amount)
	}
	b.ensurePending()
	b.pendingBalance[addr] = new(uint256.Int).Sub(cur, amount)
	b.pendingReason[addr] = reason
	return nil
}

// SetCode stages the code of addr.
func (b *EVMBackend) SetCode(addr common.Address, code []byte) error {
	if b.closed {
		return ErrBackendClosed
	}
	b.ensurePending()
	b.pendingCode[addr] = common.CopyBytes(code)
	return nil
}

// SetStorage stages a storage write. addr must have code, pending or applied.
func (b *EVMBackend) SetStorage(addr common.Address, slot, value common.Hash) error {
	if b.closed {
		return ErrBackendClosed
	}
	if !b.HasCode(addr) {
		return fmt.Errorf("%w: %s", ErrNoCode, addr)
	}
	b.ensurePending()
	slots, ok := b.pendingStorage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		b.pendingStorage[addr] = slots
	}
	slots[slot] = value
	return nil
}

// ApplyPending writes the overlay into the working state and finalises the
// state so that the next transaction starts from a clean journal.
func (b *EVMBackend) ApplyPending() {
	if b.closed {
		return
	}
	for addr, bal := range b.pendingBalance {
		prev := b.state.GetBalance(addr)
		reason := b.pendingReason[addr].Geth()
		switch {
		case bal.Gt(prev):
			b.state.AddBalance(addr, new(uint256.Int).Sub(bal, prev), reason)
		case bal.Lt(prev):
			b.state.SubBalance(addr, new(uint256.Int).Sub(prev, bal), reason)
		}
	}
	for addr, code := range b.pendingCode {
		b.state.SetCode(addr, code)
	}
	for addr, slots := range b.pendingStorage {
		for slot, val := range slots {
			b.state.SetState(addr, slot, val)
		}
	}
	if b.HasPending() {
		log.Trace("Applied pending backend changes", "balances", len(b.pendingBalance), "code", len(b.pendingCode), "storage", len(b.pendingStorage))
	}
	b.pendingBalance, b.pendingReason, b.pendingCode, b.pendingStorage = nil, nil, nil, nil
	b.state.Finalise(true)
}

// Root computes the state root of the working state without writing it to
// the trie store.
func (b *EVMBackend) Root() common.Hash {
	b.ApplyPending()
	return b.state.IntermediateRoot(true)
}

// Commit persists the working state into the trie store and returns its root.
// The backend cannot be used afterwards.
func (b *EVMBackend) Commit(blockNumber uint64) (common.Hash, error) {
	if b.closed {
		return common.Hash{}, ErrBackendClosed
	}
	b.ApplyPending()
	b.closed = true

	root, err := b.state.Commit(blockNumber, true, false)
	if err != nil {
		return common.Hash{}, fmt.Errorf("commit state: %w", err)
	}
	if err := b.store.triedb.Commit(root, false); err != nil {
		return common.Hash{}, fmt.Errorf("commit trie %x: %w", root, err)
	}
	return root, nil
}

// Discard ends the backend without writing anything to the trie store and
// returns the root the state would have had.
func (b *EVMBackend) Discard() common.Hash {
	if b.closed {
		return common.Hash{}
	}
	root := b.Root()
	b.closed = true
	b.state = nil
	return root
}

// Closed reports whether Commit or Discard has been called.
func (b *EVMBackend) Closed() bool { return b.closed }
