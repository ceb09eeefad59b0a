package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/metachain-labs/evmcore/core/backend"
	"github.com/metachain-labs/evmcore/core/fee"
	"github.com/metachain-labs/evmcore/core/transaction"
	"github.com/metachain-labs/evmcore/params"
)

// VerifyTxFees decodes a raw transaction and rejects it if its maximum gas
// price is below the base fee. With useContext the base fee of the next block
// is used, otherwise the initial base fee.
func (s *EVMServices) VerifyTxFees(rawTx string, useContext bool) error {
	tx, err := transaction.DecodeRawTx(rawTx, s.chainConfig.ChainID)
	if err != nil {
		admissionRejectMeter.Mark(1)
		return err
	}
	var baseFee *uint256.Int
	if useContext {
		baseFee, err = s.Block.CalculateNextBlockBaseFee()
	} else {
		baseFee, err = s.Block.CalculateBaseFee(common.Hash{})
	}
	if err != nil {
		return err
	}
	price, err := fee.GetTxMaxGasPrice(tx.Transaction)
	if err != nil {
		admissionRejectMeter.Mark(1)
		return err
	}
	if price.Lt(baseFee) {
		admissionRejectMeter.Mark(1)
		log.Debug("Tx gas price is lower than block base fee", "tx", tx.Hash(), "price", price, "baseFee", baseFee)
		return fmt.Errorf("%w: price %s, base fee %s", ErrGasPriceTooLow, price, baseFee)
	}
	return nil
}

// QueueTx admits tx to the queue queueID under the base fee of the next
// block. Signed transactions are announced to pending transaction filters.
func (s *EVMServices) QueueTx(queueID uint64, tx transaction.QueueTx, hash common.Hash, gasUsed uint64) error {
	baseFee, err := s.Block.CalculateNextBlockBaseFee()
	if err != nil {
		return err
	}
	if err := s.Queues.QueueTx(queueID, tx, hash, gasUsed, baseFee); err != nil {
		return err
	}
	if signed, ok := tx.(*transaction.SignedTx); ok {
		s.Filters.AddTxToFilters(signed.Hash())
	}
	return nil
}

// ValidateTxInfo is the result of validating a raw transaction.
type ValidateTxInfo struct {
	SignedTx  *transaction.SignedTx
	PrepayFee *uint256.Int
	UsedGas   uint64
}

// ValidateRawTx checks a raw transaction against the latest state and
// estimates its gas by executing it on a discarded backend. The estimate is
// what QueueTx expects as gasUsed.
func (s *EVMServices) ValidateRawTx(rawTx string) (*ValidateTxInfo, error) {
	tx, err := transaction.DecodeRawTx(rawTx, s.chainConfig.ChainID)
	if err != nil {
		admissionRejectMeter.Mark(1)
		return nil, err
	}
	info, err := s.validateTx(tx)
	if err != nil {
		admissionRejectMeter.Mark(1)
		return nil, err
	}
	return info, nil
}

func (s *EVMServices) validateTx(tx *transaction.SignedTx) (*ValidateTxInfo, error) {
	if tx.Gas() > params.MaxGasPerBlock {
		return nil, fmt.Errorf("%w: %d > %d", ErrGasLimitTooHigh, tx.Gas(), params.MaxGasPerBlock)
	}
	var (
		parentHash common.Hash
		parentRoot = params.GenesisStateRoot
		number     = params.GenesisBlockNumber
	)
	if parent := s.Block.GetLatestBlock(); parent != nil {
		parentHash, parentRoot, number = parent.Hash(), parent.Root(), parent.NumberU64()+1
	}
	rules := s.chainConfig.Rules(new(big.Int).SetUint64(number), false, 0)
	intrinsic, err := gethcore.IntrinsicGas(tx.Data(), tx.AccessList(), tx.SetCodeAuthorizations(), tx.To() == nil, rules.IsHomestead, rules.IsIstanbul, rules.IsShanghai)
	if err != nil {
		return nil, err
	}
	if tx.Gas() < intrinsic {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, tx.Gas(), intrinsic)
	}
	prepay, err := fee.CalculatePrepayGasFee(tx.Transaction)
	if err != nil {
		return nil, err
	}
	value, overflow := uint256.FromBig(tx.Value())
	if overflow {
		return nil, fmt.Errorf("%w: tx %s value", fee.ErrFeeOverflow, tx.Hash())
	}
	cost, overflow := new(uint256.Int).AddOverflow(prepay, value)
	if overflow {
		return nil, fmt.Errorf("%w: tx %s cost", fee.ErrFeeOverflow, tx.Hash())
	}

	baseFee, err := s.Block.CalculateBaseFee(parentHash)
	if err != nil {
		return nil, err
	}
	be, err := backend.Open(s.trieStore, parentRoot, backend.Vicinity{
		BlockNumber: number,
		GasLimit:    params.MaxGasPerBlock,
		BaseFee:     baseFee,
		GetHash:     s.Block.GetBlockHash,
	})
	if err != nil {
		return nil, err
	}
	defer be.Discard()

	if nonce := be.GetNonce(tx.Sender); tx.Nonce() < nonce {
		return nil, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooLow, tx.Sender, tx.Nonce(), nonce)
	}
	if balance := be.GetBalance(tx.Sender); balance.Lt(cost) {
		return nil, fmt.Errorf("%w: address %s have %s want %s", ErrInsufficientFunds, tx.Sender, balance, cost)
	}
	used, err := NewExecutor(be, s.chainConfig, s.vmConfig).Estimate(tx)
	if err != nil {
		return nil, err
	}
	return &ValidateTxInfo{SignedTx: tx, PrepayFee: prepay, UsedGas: used}, nil
}
