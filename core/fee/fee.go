// Package fee implements the gas fee arithmetic shared by transaction
// admission and block finalization. All values are 256-bit unsigned integers
// and every operation fails instead of wrapping on overflow.
package fee

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

var (
	// ErrFeeOverflow is returned when a fee computation exceeds 256 bits.
	ErrFeeOverflow = errors.New("fee overflows uint256")

	// ErrPriceOverflow is returned when a transaction carries a gas price or
	// fee cap that does not fit in 256 bits.
	ErrPriceOverflow = errors.New("gas price overflows uint256")
)

// GetTxMaxGasPrice returns the highest price per gas the sender could ever be
// charged: the fee cap of a dynamic fee transaction or the flat gas price of
// a legacy or access list transaction.
func GetTxMaxGasPrice(tx *types.Transaction) (*uint256.Int, error) {
	// GasFeeCap equals GasPrice for transactions without a fee cap.
	price, overflow := uint256.FromBig(tx.GasFeeCap())
	if overflow {
		return nil, fmt.Errorf("%w: tx %s", ErrPriceOverflow, tx.Hash())
	}
	return price, nil
}

// EffectiveGasPrice returns the price per gas a transaction pays in a block
// with the given base fee: min(feeCap, baseFee+tipCap) for dynamic fee
// transactions, the gas price otherwise.
func EffectiveGasPrice(tx *types.Transaction, baseFee *uint256.Int) (*uint256.Int, error) {
	if tx.Type() != types.DynamicFeeTxType {
		price, overflow := uint256.FromBig(tx.GasPrice())
		if overflow {
			return nil, fmt.Errorf("%w: tx %s", ErrPriceOverflow, tx.Hash())
		}
		return price, nil
	}
	feeCap, overflow := uint256.FromBig(tx.GasFeeCap())
	if overflow {
		return nil, fmt.Errorf("%w: tx %s", ErrPriceOverflow, tx.Hash())
	}
	tipCap, overflow := uint256.FromBig(tx.GasTipCap())
	if overflow {
		return nil, fmt.Errorf("%w: tx %s", ErrPriceOverflow, tx.Hash())
	}
	if baseFee == nil {
		baseFee = new(uint256.Int)
	}
	price, overflow := new(uint256.Int).AddOverflow(baseFee, tipCap)
	if overflow || price.Gt(feeCap) {
		return feeCap, nil
	}
	return price, nil
}

// CalculatePrepayGasFee returns the upper bound a sender must be able to pay
// before execution: gas limit × max gas price.
func CalculatePrepayGasFee(tx *types.Transaction) (*uint256.Int, error) {
	price, err := GetTxMaxGasPrice(tx)
	if err != nil {
		return nil, err
	}
	return mulGas(price, tx.Gas())
}

// CalculateGasFee returns the fee actually charged for gasUsed units of gas
// in a block with the given base fee.
func CalculateGasFee(tx *types.Transaction, gasUsed uint64, baseFee *uint256.Int) (*uint256.Int, error) {
	price, err := EffectiveGasPrice(tx, baseFee)
	if err != nil {
		return nil, err
	}
	return mulGas(price, gasUsed)
}

// Burnt returns gasUsed × baseFee, the part of the block fees that is burnt.
func Burnt(gasUsed uint64, baseFee *uint256.Int) (*uint256.Int, error) {
	return mulGas(baseFee, gasUsed)
}

func mulGas(price *uint256.Int, gas uint64) (*uint256.Int, error) {
	fee, overflow := new(uint256.Int).MulOverflow(price, new(uint256.Int).SetUint64(gas))
	if overflow {
		return nil, fmt.Errorf("%w: %d gas at %s", ErrFeeOverflow, gas, price)
	}
	return fee, nil
}
