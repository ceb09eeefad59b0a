// Package contracts is the registry of built-in system contracts: their fixed
// addresses, runtime bytecode and the storage layout helpers used when the
// node writes their state directly instead of executing a transaction.
package contracts

import (
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Contract names a built-in contract.
type Contract int

const (
	// CounterContract is bumped once per block so that the state root of an
	// empty block still differs from its parent's.
	CounterContract Contract = iota
	// DST20Contract is the token template deployed for every bridged token.
	DST20Contract
)

func (c Contract) String() string {
	switch c {
	case CounterContract:
		return "counter"
	case DST20Contract:
		return "dst20"
	}
	return fmt.Sprintf("contract(%d)", int(c))
}

// Storage slots of the built-in contracts.
var (
	BalancesSlot = common.HexToHash("0x00")
	CounterSlot  = common.HexToHash("0x01")
	NameSlot     = common.HexToHash("0x03")
	SymbolSlot   = common.HexToHash("0x04")
)

// ErrStringTooLong is returned when a string does not fit the short-string
// storage layout.
var ErrStringTooLong = errors.New("string longer than 31 bytes")

var (
	//go:embed bytecode/counter.hex
	counterHex string
	//go:embed bytecode/dst20.hex
	dst20Hex string

	addresses = map[Contract]common.Address{
		CounterContract: common.HexToAddress("0x0000000000000000000000000000000000000301"),
		DST20Contract:   common.HexToAddress("0xff00000000000000000000000000000000000000"),
	}
	bytecodes = map[Contract]*string{
		CounterContract: &counterHex,
		DST20Contract:   &dst20Hex,
	}
)

// Address returns the fixed address of a built-in contract. For DST20 this is
// the base address tokens are offset from, see DST20Address.
func Address(c Contract) common.Address {
	return addresses[c]
}

// Bytecode returns the runtime bytecode of a built-in contract.
func Bytecode(c Contract) ([]byte, error) {
	src, ok := bytecodes[c]
	if !ok {
		return nil, fmt.Errorf("no bytecode for %v", c)
	}
	code, err := hex.DecodeString(strings.TrimSpace(*src))
	if err != nil {
		return nil, fmt.Errorf("invalid %v bytecode: %w", c, err)
	}
	return code, nil
}

// CodeHash returns the keccak256 hash of a built-in contract's runtime code.
func CodeHash(c Contract) (common.Hash, error) {
	code, err := Bytecode(c)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(code), nil
}

// DST20Address derives the deterministic address of the token with the given
// id: the DST20 base address with the id in the low-order bytes.
func DST20Address(tokenID uint64) common.Address {
	addr := addresses[DST20Contract]
	id := new(uint256.Int).SetUint64(tokenID).Bytes20()
	for i := 0; i < common.AddressLength; i++ {
		addr[i] |= id[i]
	}
	return addr
}

// AbiEncodedString packs a string of at most 31 bytes into a single storage
// word using the solidity short-string layout: data left aligned, length*2 in
// the lowest byte.
func AbiEncodedString(s string) (common.Hash, error) {
	var word common.Hash
	if len(s) > common.HashLength-1 {
		return word, fmt.Errorf("%w: %d", ErrStringTooLong, len(s))
	}
	copy(word[:], s)
	word[common.HashLength-1] = byte(len(s) * 2)
	return word, nil
}

// AddressStorageIndex returns the storage slot holding addr's entry in the
// balances mapping of a DST20 contract.
func AddressStorageIndex(addr common.Address) common.Hash {
	return crypto.Keccak256Hash(common.LeftPadBytes(addr.Bytes(), common.HashLength), BalancesSlot.Bytes())
}

// U256ToHash converts a 256-bit integer into a big-endian storage word.
func U256ToHash(v *uint256.Int) common.Hash {
	return common.Hash(v.Bytes32())
}

// HashToU256 converts a big-endian storage word into a 256-bit integer.
func HashToU256(h common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes32(h[:])
}
