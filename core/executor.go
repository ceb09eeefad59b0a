package core

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	gethparams "github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/metachain-labs/evmcore/core/backend"
	"github.com/metachain-labs/evmcore/core/fee"
	"github.com/metachain-labs/evmcore/core/receipt"
	"github.com/metachain-labs/evmcore/core/transaction"
	"github.com/metachain-labs/evmcore/tracing"
)

const largeTxGasLimit = 10_000_000 // transactions above this are timed

var _ TxExecutor = (*Executor)(nil)

// Executor is the go-ethereum EVM implementation of TxExecutor. It keeps the
// block gas pool and the cumulative gas of the block being built.
type Executor struct {
	backend  *backend.EVMBackend
	config   *gethparams.ChainConfig
	vmConfig vm.Config
	blockCtx vm.BlockContext
	signer   types.Signer

	gasPool *gethcore.GasPool
	usedGas uint64
	txIndex int
}

// NewExecutor creates an executor over b with a fresh block gas pool.
func NewExecutor(b *backend.EVMBackend, config *gethparams.ChainConfig, vmConfig vm.Config) *Executor {
	v := b.Vicinity()
	number := new(big.Int).SetUint64(v.BlockNumber)
	difficulty := v.Difficulty
	if difficulty == nil {
		difficulty = new(big.Int)
	}
	var baseFee *big.Int
	if v.BaseFee != nil {
		baseFee = v.BaseFee.ToBig()
	}
	getHash := v.GetHash
	if getHash == nil {
		getHash = func(uint64) common.Hash { return common.Hash{} }
	}
	return &Executor{
		backend:  b,
		config:   config,
		vmConfig: vmConfig,
		blockCtx: vm.BlockContext{
			CanTransfer: gethcore.CanTransfer,
			Transfer:    gethcore.Transfer,
			GetHash:     getHash,
			Coinbase:    v.Coinbase,
			GasLimit:    v.GasLimit,
			BlockNumber: number,
			Time:        v.Timestamp,
			Difficulty:  difficulty,
			BaseFee:     baseFee,
		},
		signer:  types.MakeSigner(config, number, v.Timestamp),
		gasPool: new(gethcore.GasPool).AddGas(v.GasLimit),
	}
}

// cannotPay reports whether err is the refusal of a transaction whose sender
// no longer holds the funds it was admitted with.
func cannotPay(err error) bool {
	return errors.Is(err, gethcore.ErrInsufficientFunds) || errors.Is(err, gethcore.ErrInsufficientFundsForTransfer)
}

func (e *Executor) Engine() string { return "go-evm" }

// UsedGas returns the gas used by all transactions executed so far.
func (e *Executor) UsedGas() uint64 { return e.usedGas }

func (e *Executor) GetNonce(addr common.Address) uint64 {
	return e.backend.GetNonce(addr)
}

func (e *Executor) Exec(tx *transaction.SignedTx, prepay *uint256.Int) (*TxResponse, *types.Receipt, error) {
	return e.apply(tx, prepay, false)
}

// Estimate executes tx ignoring its nonce and returns the gas it used. It is
// meant for backends that are discarded afterwards.
func (e *Executor) Estimate(tx *transaction.SignedTx) (uint64, error) {
	prepay, err := fee.CalculatePrepayGasFee(tx.Transaction)
	if err != nil {
		return 0, err
	}
	resp, _, err := e.apply(tx, prepay, true)
	if err != nil {
		return 0, err
	}
	return resp.UsedGas, nil
}

func (e *Executor) apply(tx *transaction.SignedTx, prepay *uint256.Int, skipNonce bool) (*TxResponse, *types.Receipt, error) {
	if e.backend.HasPending() {
		e.Commit()
	}
	msg, err := gethcore.TransactionToMessage(tx.Transaction, e.signer, e.blockCtx.BaseFee)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTxNotApplicable, err)
	}
	msg.SkipNonceChecks = skipNonce
	statedb := e.backend.StateDB()
	if balance := statedb.GetBalance(tx.Sender); balance.Lt(prepay) {
		log.Debug("Sender cannot cover prepay", "tx", tx.Hash(), "sender", tx.Sender, "balance", balance, "prepay", prepay)
	}
	statedb.SetTxContext(tx.Hash(), e.txIndex)

	evm := vm.NewEVM(e.blockCtx, statedb, e.config, e.vmConfig)
	evm.SetTxContext(gethcore.NewEVMTxContext(msg))

	start := time.Now()
	snapshot, gas := statedb.Snapshot(), e.gasPool.Gas()
	result, err := gethcore.ApplyMessage(evm, msg, e.gasPool)
	if err != nil {
		// a refused message may already have bought its gas
		statedb.RevertToSnapshot(snapshot)
		e.gasPool.SetGas(gas)
		return nil, nil, fmt.Errorf("%w: tx %s: %w", ErrTxNotApplicable, tx.Hash(), err)
	}
	if tx.Gas() > largeTxGasLimit {
		log.Debug("Large transaction executed", "tx", tx.Hash(), "gasUsed", result.UsedGas, "elapsed", time.Since(start))
	}
	statedb.Finalise(true)
	e.usedGas += result.UsedGas

	rcpt, err := e.makeReceipt(evm, tx, msg, result)
	if err != nil {
		return nil, nil, err
	}
	e.txIndex++

	return &TxResponse{
		Failed:     result.Failed(),
		Err:        result.Err,
		ReturnData: result.Return(),
		UsedGas:    result.UsedGas,
		Logs:       rcpt.Logs,
	}, rcpt, nil
}

// makeReceipt builds the receipt of an applied transaction. The block hash is
// unknown at this point and is stamped later by receipt.GenerateReceipts.
func (e *Executor) makeReceipt(evm *vm.EVM, tx *transaction.SignedTx, msg *gethcore.Message, result *gethcore.ExecutionResult) (*types.Receipt, error) {
	price, err := fee.EffectiveGasPrice(tx.Transaction, e.backend.Vicinity().BaseFee)
	if err != nil {
		return nil, err
	}
	rcpt := &types.Receipt{
		Type:              tx.Type(),
		CumulativeGasUsed: e.usedGas,
		TxHash:            tx.Hash(),
		GasUsed:           result.UsedGas,
		EffectiveGasPrice: price.ToBig(),
		BlockNumber:       new(big.Int).Set(e.blockCtx.BlockNumber),
		TransactionIndex:  uint(e.txIndex),
	}
	if result.Failed() {
		rcpt.Status = types.ReceiptStatusFailed
	} else {
		rcpt.Status = types.ReceiptStatusSuccessful
	}
	if msg.To == nil {
		rcpt.ContractAddress = crypto.CreateAddress(msg.From, tx.Nonce())
	}
	rcpt.Logs = e.backend.StateDB().GetLogs(tx.Hash(), e.blockCtx.BlockNumber.Uint64(), common.Hash{})
	if rcpt.Logs == nil {
		rcpt.Logs = []*types.Log{}
	}
	receipt.MergeBloom(&rcpt.Bloom, rcpt.Logs)
	return rcpt, nil
}

func (e *Executor) AddBalance(addr common.Address, amount *uint256.Int) error {
	return e.backend.AddBalance(addr, amount, tracing.BalanceChangeEvmIn)
}

func (e *Executor) SubBalance(addr common.Address, amount *uint256.Int) error {
	return e.backend.SubBalance(addr, amount, tracing.BalanceChangeEvmOut)
}

func (e *Executor) DeployContract(addr common.Address, code []byte, storage []StorageEntry) error {
	if err := e.backend.SetCode(addr, code); err != nil {
		return err
	}
	return e.UpdateStorage(addr, storage)
}

func (e *Executor) UpdateStorage(addr common.Address, storage []StorageEntry) error {
	for _, entry := range storage {
		if err := e.backend.SetStorage(addr, entry.Slot, entry.Value); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) GetStorage(addr common.Address, slot common.Hash) common.Hash {
	return e.backend.GetStorage(addr, slot)
}

func (e *Executor) GetCodeHash(addr common.Address) common.Hash {
	return e.backend.GetCodeHash(addr)
}

func (e *Executor) HasCode(addr common.Address) bool {
	return e.backend.HasCode(addr)
}

func (e *Executor) Commit() {
	e.backend.ApplyPending()
}
