// Package transaction defines the items a candidate block can be built from:
// signature-verified user transactions and privileged system operations.
package transaction

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

var (
	// ErrInvalidRawTx is returned when a raw transaction is not valid hex or
	// not a valid transaction envelope.
	ErrInvalidRawTx = errors.New("invalid raw transaction")

	// ErrInvalidSender is returned when the sender cannot be recovered from
	// the transaction signature.
	ErrInvalidSender = errors.New("invalid transaction sender")
)

// QueueTx is an item of a transaction queue. It is implemented by *SignedTx
// and the SystemTx variants only.
type QueueTx interface {
	queueTx()
}

// SignedTx is a decoded transaction whose signature has been verified.
type SignedTx struct {
	*types.Transaction
	Sender common.Address
}

func (*SignedTx) queueTx() {}

// NewSignedTx recovers the sender of tx using the signer of the given chain.
func NewSignedTx(tx *types.Transaction, chainID *big.Int) (*SignedTx, error) {
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}
	return &SignedTx{Transaction: tx, Sender: sender}, nil
}

// DecodeRawTx decodes a hex encoded transaction envelope, with or without
// 0x prefix, and verifies its signature.
func DecodeRawTx(raw string, chainID *big.Int) (*SignedTx, error) {
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	data, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRawTx, err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRawTx, err)
	}
	return NewSignedTx(tx, chainID)
}

// SystemTx is a privileged state mutation issued by the host node rather than
// signed by a user. It carries no nonce, gas or fee.
type SystemTx interface {
	QueueTx
	systemTx()
}

// EvmIn credits Amount to Address.
type EvmIn struct {
	Address common.Address
	Amount  *uint256.Int
}

// EvmOut debits Amount from Address. It fails if the balance is insufficient.
type EvmOut struct {
	Address common.Address
	Amount  *uint256.Int
}

// DeployContract installs the DST20 token template at Address with the given
// name and symbol.
type DeployContract struct {
	Name    string
	Symbol  string
	Address common.Address
}

// DST20Bridge moves Amount of the token at Contract into (Out=false) or out of
// (Out=true) the balance of To.
type DST20Bridge struct {
	To       common.Address
	Contract common.Address
	Amount   *uint256.Int
	Out      bool
}

func (*EvmIn) queueTx()          {}
func (*EvmOut) queueTx()         {}
func (*DeployContract) queueTx() {}
func (*DST20Bridge) queueTx()    {}

func (*EvmIn) systemTx()          {}
func (*EvmOut) systemTx()         {}
func (*DeployContract) systemTx() {}
func (*DST20Bridge) systemTx()    {}

// Kind returns a short name of the queue item variant for logging.
func Kind(tx QueueTx) string {
	switch tx.(type) {
	case *SignedTx:
		return "signed"
	case *EvmIn:
		return "evm_in"
	case *EvmOut:
		return "evm_out"
	case *DeployContract:
		return "deploy_contract"
	case *DST20Bridge:
		return "dst20_bridge"
	}
	return "unknown"
}
