package tracing

import gethtracing "github.com/ethereum/go-ethereum/core/tracing"

// BalanceChangeReason describes why a system operation changed a balance.
type BalanceChangeReason int

const (
	BalanceChangeUnspecified BalanceChangeReason = iota
	BalanceChangeEvmIn                           // native deposit into the EVM
	BalanceChangeEvmOut                          // native withdrawal out of the EVM
	BalanceChangeDST20BridgeIn
	BalanceChangeDST20BridgeOut
)

// String returns a human-readable string for the reason.
func (r BalanceChangeReason) String() string {
	switch r {
	case BalanceChangeUnspecified:
		return "unspecified"
	case BalanceChangeEvmIn:
		return "evm_in"
	case BalanceChangeEvmOut:
		return "evm_out"
	case BalanceChangeDST20BridgeIn:
		return "dst20_bridge_in"
	case BalanceChangeDST20BridgeOut:
		return "dst20_bridge_out"
	}
	return "unknown"
}

// Geth maps the reason onto the go-ethereum tracing reason reported to
// StateDB hooks. Bridge movements are transfers across the chain boundary.
func (r BalanceChangeReason) Geth() gethtracing.BalanceChangeReason {
	switch r {
	case BalanceChangeEvmIn, BalanceChangeEvmOut:
		return gethtracing.BalanceChangeTransfer
	}
	return gethtracing.BalanceChangeUnspecified
}
