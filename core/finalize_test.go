package core

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/metachain-labs/evmcore/contracts"
	"github.com/metachain-labs/evmcore/core/backend"
	"github.com/metachain-labs/evmcore/core/fee"
	"github.com/metachain-labs/evmcore/core/logs"
	"github.com/metachain-labs/evmcore/core/receipt"
	"github.com/metachain-labs/evmcore/core/transaction"
	"github.com/metachain-labs/evmcore/params"
)

func counterValue(t *testing.T, s *EVMServices) uint64 {
	t.Helper()
	v, err := s.GetLatestContractStorage(contracts.Address(contracts.CounterContract), contracts.CounterSlot)
	require.NoError(t, err)
	return contracts.HashToU256(v).Uint64()
}

func TestFinalizeEmptyQueueOnFreshChain(t *testing.T) {
	s := newEmptyServices(t)
	require.NoError(t, s.Queues.Open(7))

	info, err := finalize(s, 7, true)
	require.NoError(t, err)
	require.Equal(t, uint64(0), info.BlockNumber)
	require.Empty(t, info.FailedTransactions)
	require.True(t, info.TotalBurntFees.IsZero())
	require.True(t, info.TotalPriorityFees.IsZero())
	require.Zero(t, info.TotalGasUsed)
	require.NotEqual(t, params.GenesisStateRoot, info.StateRoot)
	require.Equal(t, uint64(1), counterValue(t, s))
	require.Equal(t, params.InitialBaseFee, info.Block.BaseFee().Uint64())
	require.Equal(t, types.EmptyReceiptsHash, info.Block.ReceiptHash())

	hash, number, ok := s.Block.GetLatestBlockHashAndNumber()
	require.True(t, ok)
	require.Equal(t, info.BlockHash, hash)
	require.Zero(t, number)
	require.Zero(t, s.Queues.Len(7))

	// The queue was removed with the commit.
	_, err = finalize(s, 7, true)
	require.ErrorIs(t, err, ErrUnknownQueue)

	id := s.Queues.Create()
	next, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Equal(t, uint64(1), next.BlockNumber)
	require.Equal(t, info.BlockHash, next.Block.ParentHash())
	require.NotEqual(t, info.StateRoot, next.StateRoot)
	require.Equal(t, uint64(2), counterValue(t, s))
}

func TestFinalizeAfterGenesis(t *testing.T) {
	s := newTestServices(t)
	_, number, ok := s.Block.GetLatestBlockHashAndNumber()
	require.True(t, ok)
	require.Zero(t, number)
	parentRoot := s.Block.GetLatestStateRoot()

	id := s.Queues.Create()
	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Equal(t, uint64(1), info.BlockNumber)
	require.NotEqual(t, parentRoot, info.StateRoot)
	require.Equal(t, uint64(1), counterValue(t, s))
}

func TestFinalizeTransfer(t *testing.T) {
	s := newTestServices(t)
	blockFilter := s.Filters.NewBlockFilter()
	pendingFilter := s.Filters.NewPendingTransactionFilter()

	id := s.Queues.Create()
	tx := signedTransfer(t, 0)
	queueSigned(t, s, id, tx, transfer)

	pending, err := s.Filters.GetFilterChanges(pendingFilter)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{tx.Hash()}, pending.Hashes)

	before, err := s.GetBalance(testAddr)
	require.NoError(t, err)

	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Empty(t, info.FailedTransactions)
	require.Equal(t, transfer, info.TotalGasUsed)
	require.Len(t, info.Block.Transactions(), 1)
	require.Len(t, info.Receipts, 1)
	require.Equal(t, receipt.GetReceiptsRoot(info.Receipts), info.Block.ReceiptHash())

	burnt := new(uint256.Int).Mul(uint256.NewInt(transfer), uint256.NewInt(baseFee))
	priority := new(uint256.Int).Mul(uint256.NewInt(transfer), uint256.NewInt(2*gwei))
	require.Equal(t, burnt, info.TotalBurntFees)
	require.Equal(t, priority, info.TotalPriorityFees)

	after, err := s.GetBalance(testAddr)
	require.NoError(t, err)
	spent := new(uint256.Int).Sub(before, after)
	want := new(uint256.Int).Mul(uint256.NewInt(transfer), uint256.NewInt(12*gwei))
	want.Add(want, uint256.NewInt(1000))
	require.Equal(t, want, spent)

	got, err := s.GetBalance(recipient)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), got.Uint64())
	tip, err := s.GetBalance(coinbase)
	require.NoError(t, err)
	require.Equal(t, priority, tip)

	nonce, err := s.GetNonce(testAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)

	rcpt, err := s.Receipts.GetReceipt(tx.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, rcpt.Status)
	require.Equal(t, info.BlockHash, rcpt.BlockHash)

	blocks, err := s.Filters.GetFilterChanges(blockFilter)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{info.BlockHash}, blocks.Hashes)
}

func TestFinalizeNonceOrder(t *testing.T) {
	s := newTestServices(t)

	id := s.Queues.Create()
	queueSigned(t, s, id, signedTransfer(t, 0), transfer)
	queueSigned(t, s, id, signedTransfer(t, 1), transfer)
	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Len(t, info.Block.Transactions(), 2)
	require.Equal(t, 2*transfer, info.Receipts[1].CumulativeGasUsed)

	head, _, _ := s.Block.GetLatestBlockHashAndNumber()
	id = s.Queues.Create()
	queueSigned(t, s, id, signedTransfer(t, 3), transfer)
	queueSigned(t, s, id, signedTransfer(t, 2), transfer)
	_, err = finalize(s, id, true)
	require.ErrorIs(t, err, ErrInvalidNonce)

	require.Equal(t, 2, s.Queues.Len(id))
	after, _, _ := s.Block.GetLatestBlockHashAndNumber()
	require.Equal(t, head, after)
	nonce, err := s.GetNonce(testAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(2), nonce)
}

func TestFinalizeNonceAbortAfterAppliedItems(t *testing.T) {
	s := newTestServices(t)
	head := s.Block.GetLatestBlock()
	before, err := s.GetBalance(recipient)
	require.NoError(t, err)

	id := s.Queues.Create()
	require.NoError(t, s.QueueTx(id, &transaction.EvmIn{Address: recipient, Amount: uint256.NewInt(500)}, common.HexToHash("0x30"), 0))
	queueSigned(t, s, id, signedTransfer(t, 0), transfer)
	queueSigned(t, s, id, signedTransfer(t, 5), transfer)

	_, err = finalize(s, id, true)
	require.ErrorIs(t, err, ErrInvalidNonce)

	// the credit and the first transfer were applied in memory only
	require.Equal(t, 3, s.Queues.Len(id))
	latest := s.Block.GetLatestBlock()
	require.Equal(t, head.Hash(), latest.Hash())
	require.Equal(t, head.Root(), latest.Root())
	after, err := s.GetBalance(recipient)
	require.NoError(t, err)
	require.True(t, before.Eq(after))
	nonce, err := s.GetNonce(testAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(0), nonce)
}

func TestFinalizeEvmInOverflow(t *testing.T) {
	s := newTestServices(t)
	full := new(uint256.Int).SetAllOne()

	id := s.Queues.Create()
	require.NoError(t, s.QueueTx(id, &transaction.EvmIn{Address: recipient, Amount: full}, common.HexToHash("0x40"), 0))
	require.NoError(t, s.QueueTx(id, &transaction.EvmIn{Address: recipient, Amount: uint256.NewInt(1)}, common.HexToHash("0x41"), 0))

	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{common.HexToHash("0x41")}, info.FailedTransactions)
	balance, err := s.GetBalance(recipient)
	require.NoError(t, err)
	require.True(t, balance.Eq(full))
}

func TestFinalizeDST20BridgeInOverflow(t *testing.T) {
	s := newTestServices(t)
	token := contracts.DST20Address(3)
	holder := common.HexToAddress("0x2000000000000000000000000000000000000003")
	full := new(uint256.Int).SetAllOne()

	id := s.Queues.Create()
	require.NoError(t, s.QueueTx(id, &transaction.DeployContract{Name: "Token", Symbol: "TKN", Address: token}, common.HexToHash("0x50"), 0))
	require.NoError(t, s.QueueTx(id, &transaction.DST20Bridge{To: holder, Contract: token, Amount: full}, common.HexToHash("0x51"), 0))
	require.NoError(t, s.QueueTx(id, &transaction.DST20Bridge{To: holder, Contract: token, Amount: uint256.NewInt(1)}, common.HexToHash("0x52"), 0))

	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{common.HexToHash("0x52")}, info.FailedTransactions)
	balance, err := s.GetLatestContractStorage(token, contracts.AddressStorageIndex(holder))
	require.NoError(t, err)
	require.True(t, contracts.HashToU256(balance).Eq(full))
}

func TestFinalizeDryRun(t *testing.T) {
	s := newTestServices(t)
	head, _, _ := s.Block.GetLatestBlockHashAndNumber()
	root := s.Block.GetLatestStateRoot()

	id := s.Queues.Create()
	queueSigned(t, s, id, signedTransfer(t, 0), transfer)

	first, err := finalize(s, id, false)
	require.NoError(t, err)
	second, err := finalize(s, id, false)
	require.NoError(t, err)
	require.Equal(t, first.BlockHash, second.BlockHash)
	require.Equal(t, first.StateRoot, second.StateRoot)

	after, _, _ := s.Block.GetLatestBlockHashAndNumber()
	require.Equal(t, head, after)
	require.Equal(t, root, s.Block.GetLatestStateRoot())
	require.Equal(t, 1, s.Queues.Len(id))
	nonce, err := s.GetNonce(testAddr)
	require.NoError(t, err)
	require.Zero(t, nonce)

	committed, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Equal(t, first.BlockHash, committed.BlockHash)
	require.Equal(t, first.StateRoot, committed.StateRoot)
}

func TestFinalizeDrainedSender(t *testing.T) {
	s := newTestServices(t)
	all := uint256.MustFromBig(new(big.Int).Mul(big.NewInt(100), ether))

	id := s.Queues.Create()
	tx := signedTransfer(t, 0)
	require.NoError(t, s.QueueTx(id, &transaction.EvmOut{Address: testAddr, Amount: all}, common.HexToHash("0x70"), 0))
	queueSigned(t, s, id, tx, transfer)
	require.NoError(t, s.QueueTx(id, &transaction.EvmIn{Address: recipient, Amount: uint256.NewInt(5)}, common.HexToHash("0x71"), 0))

	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{tx.Hash()}, info.FailedTransactions)
	require.Empty(t, info.Block.Transactions())
	require.Empty(t, info.Receipts)
	require.Zero(t, info.TotalGasUsed)
	require.True(t, info.TotalBurntFees.IsZero())
	require.True(t, info.TotalPriorityFees.IsZero())

	nonce, err := s.GetNonce(testAddr)
	require.NoError(t, err)
	require.Zero(t, nonce)
	balance, err := s.GetBalance(recipient)
	require.NoError(t, err)
	require.Equal(t, uint64(5), balance.Uint64())
}

func TestFinalizeFeeMismatch(t *testing.T) {
	s := newTestServices(t)
	head, _, _ := s.Block.GetLatestBlockHashAndNumber()

	id := s.Queues.Create()
	queueSigned(t, s, id, signedTransfer(t, 0), 30000)
	_, err := finalize(s, id, true)
	require.ErrorIs(t, err, ErrFeeMismatch)

	after, _, _ := s.Block.GetLatestBlockHashAndNumber()
	require.Equal(t, head, after)
	require.Equal(t, 1, s.Queues.Len(id))
}

func TestFinalizeRevertedTx(t *testing.T) {
	s := newTestServices(t)
	tx := signTx(t, 0, &reverter, big.NewInt(0), 50000, nil)

	validated, err := s.ValidateRawTx(rawTx(t, tx))
	require.NoError(t, err)
	require.Greater(t, validated.UsedGas, transfer)

	id := s.Queues.Create()
	queueSigned(t, s, id, validated.SignedTx, validated.UsedGas)
	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{tx.Hash()}, info.FailedTransactions)
	require.Len(t, info.Block.Transactions(), 1)
	require.Equal(t, types.ReceiptStatusFailed, info.Receipts[0].Status)

	nonce, err := s.GetNonce(testAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
}

func TestFinalizeEvmInOut(t *testing.T) {
	s := newTestServices(t)
	user := common.HexToAddress("0x1000000000000000000000000000000000000001")

	id := s.Queues.Create()
	in := &transaction.EvmIn{Address: user, Amount: uint256.NewInt(500)}
	out := &transaction.EvmOut{Address: user, Amount: uint256.NewInt(200)}
	overdraw := &transaction.EvmOut{Address: user, Amount: uint256.NewInt(1000)}
	inHash, outHash, overdrawHash := common.HexToHash("0x01"), common.HexToHash("0x02"), common.HexToHash("0x03")
	require.NoError(t, s.QueueTx(id, in, inHash, 0))
	require.NoError(t, s.QueueTx(id, out, outHash, 0))
	require.NoError(t, s.QueueTx(id, overdraw, overdrawHash, 0))

	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{overdrawHash}, info.FailedTransactions)
	require.Empty(t, info.Block.Transactions())
	require.True(t, info.TotalBurntFees.IsZero())

	balance, err := s.GetBalance(user)
	require.NoError(t, err)
	require.Equal(t, uint64(300), balance.Uint64())
}

func TestFinalizeEvmInFundsSignedTx(t *testing.T) {
	s := newEmptyServices(t)

	id := s.Queues.Create()
	require.NoError(t, s.QueueTx(id, &transaction.EvmIn{Address: testAddr, Amount: uint256.MustFromBig(ether)}, common.HexToHash("0x01"), 0))
	tx := signedTransfer(t, 0)
	queueSigned(t, s, id, tx, transfer)

	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Empty(t, info.FailedTransactions)
	require.Len(t, info.Block.Transactions(), 1)
	require.Equal(t, uint64(0), info.BlockNumber)

	// transactions of block 0 are indexed like any other
	found, block, index, ok := s.GetTransaction(tx.Hash())
	require.True(t, ok)
	require.Equal(t, tx.Hash(), found.Hash())
	require.Equal(t, info.BlockHash, block.Hash())
	require.Equal(t, 0, index)

	rcpt, err := s.Receipts.GetReceipt(tx.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, rcpt.Status)
	require.Equal(t, uint64(0), rcpt.BlockNumber.Uint64())
}

func TestFinalizeDST20(t *testing.T) {
	s := newTestServices(t)
	token := contracts.DST20Address(1)
	holder := common.HexToAddress("0x2000000000000000000000000000000000000002")

	id := s.Queues.Create()
	require.NoError(t, s.QueueTx(id, &transaction.DeployContract{Name: "Token", Symbol: "TKN", Address: token}, common.HexToHash("0x10"), 0))
	require.NoError(t, s.QueueTx(id, &transaction.DeployContract{Name: "Again", Symbol: "AGN", Address: token}, common.HexToHash("0x11"), 0))
	require.NoError(t, s.QueueTx(id, &transaction.DST20Bridge{To: holder, Contract: token, Amount: uint256.NewInt(100)}, common.HexToHash("0x12"), 0))
	require.NoError(t, s.QueueTx(id, &transaction.DST20Bridge{To: holder, Contract: token, Amount: uint256.NewInt(30), Out: true}, common.HexToHash("0x13"), 0))
	require.NoError(t, s.QueueTx(id, &transaction.DST20Bridge{To: holder, Contract: token, Amount: uint256.NewInt(1000), Out: true}, common.HexToHash("0x14"), 0))
	counter := contracts.Address(contracts.CounterContract)
	require.NoError(t, s.QueueTx(id, &transaction.DST20Bridge{To: holder, Contract: counter, Amount: uint256.NewInt(1)}, common.HexToHash("0x15"), 0))

	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{
		common.HexToHash("0x11"),
		common.HexToHash("0x14"),
		common.HexToHash("0x15"),
	}, info.FailedTransactions)

	code, err := s.GetCode(token)
	require.NoError(t, err)
	want, err := contracts.Bytecode(contracts.DST20Contract)
	require.NoError(t, err)
	require.Equal(t, want, code)

	name, err := s.GetLatestContractStorage(token, contracts.NameSlot)
	require.NoError(t, err)
	wantName, err := contracts.AbiEncodedString("Token")
	require.NoError(t, err)
	require.Equal(t, wantName, name)

	balance, err := s.GetLatestContractStorage(token, contracts.AddressStorageIndex(holder))
	require.NoError(t, err)
	require.Equal(t, uint64(70), contracts.HashToU256(balance).Uint64())
}

// tokenCall packs an ABI call with static arguments.
func tokenCall(sig string, args ...[]byte) []byte {
	data := crypto.Keccak256([]byte(sig))[:4]
	for _, arg := range args {
		data = append(data, common.LeftPadBytes(arg, 32)...)
	}
	return data
}

// callContract runs data against to on a discarded copy of the latest state
// and returns the output.
func callContract(t *testing.T, s *EVMServices, to common.Address, data []byte) []byte {
	t.Helper()
	nonce, err := s.GetNonce(testAddr)
	require.NoError(t, err)
	stx, err := transaction.NewSignedTx(signTx(t, nonce, &to, big.NewInt(0), 100_000, data), params.RegtestChainConfig.ChainID)
	require.NoError(t, err)
	prepay, err := fee.CalculatePrepayGasFee(stx.Transaction)
	require.NoError(t, err)

	be, err := backend.Open(s.trieStore, s.Block.GetLatestStateRoot(), backend.Vicinity{
		GasLimit: params.MaxGasPerBlock,
		BaseFee:  uint256.NewInt(baseFee),
	})
	require.NoError(t, err)
	defer be.Discard()
	resp, _, err := NewExecutor(be, s.chainConfig, vm.Config{}).Exec(stx, prepay)
	require.NoError(t, err)
	require.False(t, resp.Failed, "call reverted: %v", resp.Err)
	return resp.ReturnData
}

func TestFinalizeDST20Transfer(t *testing.T) {
	s := newTestServices(t)
	token := contracts.DST20Address(4)

	id := s.Queues.Create()
	require.NoError(t, s.QueueTx(id, &transaction.DeployContract{Name: "Token", Symbol: "TKN", Address: token}, common.HexToHash("0x60"), 0))
	require.NoError(t, s.QueueTx(id, &transaction.DST20Bridge{To: testAddr, Contract: token, Amount: uint256.NewInt(1000)}, common.HexToHash("0x61"), 0))
	_, err := finalize(s, id, true)
	require.NoError(t, err)

	name := callContract(t, s, token, tokenCall("name()"))
	require.Len(t, name, 96)
	require.Equal(t, uint64(5), new(big.Int).SetBytes(name[32:64]).Uint64())
	require.Equal(t, "Token", string(name[64:69]))
	symbol := callContract(t, s, token, tokenCall("symbol()"))
	require.Equal(t, "TKN", string(symbol[64:67]))
	decimals := callContract(t, s, token, tokenCall("decimals()"))
	require.Equal(t, uint64(18), new(big.Int).SetBytes(decimals).Uint64())
	balance := callContract(t, s, token, tokenCall("balanceOf(address)", testAddr.Bytes()))
	require.Equal(t, uint64(1000), new(big.Int).SetBytes(balance).Uint64())

	send := func(nonce, amount uint64) (*types.Transaction, *FinalizedBlockInfo) {
		data := tokenCall("transfer(address,uint256)", recipient.Bytes(), new(big.Int).SetUint64(amount).Bytes())
		tx := signTx(t, nonce, &token, big.NewInt(0), 100_000, data)
		validated, err := s.ValidateRawTx(rawTx(t, tx))
		require.NoError(t, err)
		id := s.Queues.Create()
		queueSigned(t, s, id, validated.SignedTx, validated.UsedGas)
		info, err := finalize(s, id, true)
		require.NoError(t, err)
		return tx, info
	}

	_, info := send(0, 250)
	require.Empty(t, info.FailedTransactions)
	rcpt := info.Receipts[0]
	require.Equal(t, types.ReceiptStatusSuccessful, rcpt.Status)
	require.Len(t, rcpt.Logs, 1)
	require.Equal(t, crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")), rcpt.Logs[0].Topics[0])
	require.Equal(t, common.BytesToHash(testAddr.Bytes()), rcpt.Logs[0].Topics[1])
	require.Equal(t, common.BytesToHash(recipient.Bytes()), rcpt.Logs[0].Topics[2])
	require.Equal(t, uint64(250), new(big.Int).SetBytes(rcpt.Logs[0].Data).Uint64())

	held, err := s.GetLatestContractStorage(token, contracts.AddressStorageIndex(recipient))
	require.NoError(t, err)
	require.Equal(t, uint64(250), contracts.HashToU256(held).Uint64())
	balance = callContract(t, s, token, tokenCall("balanceOf(address)", testAddr.Bytes()))
	require.Equal(t, uint64(750), new(big.Int).SetBytes(balance).Uint64())

	// more than the holder owns
	tx, info := send(1, 751)
	require.Equal(t, []common.Hash{tx.Hash()}, info.FailedTransactions)
	require.Equal(t, types.ReceiptStatusFailed, info.Receipts[0].Status)
	balance = callContract(t, s, token, tokenCall("balanceOf(address)", testAddr.Bytes()))
	require.Equal(t, uint64(750), new(big.Int).SetBytes(balance).Uint64())
}

func TestFinalizeDeployRejectsLongName(t *testing.T) {
	s := newTestServices(t)
	token := contracts.DST20Address(2)

	id := s.Queues.Create()
	long := "a name that does not fit in one slot"
	require.NoError(t, s.QueueTx(id, &transaction.DeployContract{Name: long, Symbol: "X", Address: token}, common.HexToHash("0x20"), 0))

	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{common.HexToHash("0x20")}, info.FailedTransactions)
	code, err := s.GetCode(token)
	require.NoError(t, err)
	require.Empty(t, code)
}

func TestFinalizeBaseFeeMismatch(t *testing.T) {
	s := newTestServices(t)

	id := s.Queues.Create()
	tx := signedTransfer(t, 0)
	require.NoError(t, s.Queues.QueueTx(id, tx, tx.Hash(), transfer, uint256.NewInt(baseFee+1)))
	_, err := finalize(s, id, true)
	require.ErrorIs(t, err, ErrBaseFeeMismatch)
	require.Equal(t, 1, s.Queues.Len(id))
}

func TestFinalizeLogsIndexed(t *testing.T) {
	// PUSH1 0x2a PUSH1 0 MSTORE PUSH32 topic PUSH1 32 PUSH1 0 LOG1 STOP
	emitter := common.HexToAddress("0x0000000000000000000000000000000000e0e0e0")
	topic := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	code := append([]byte{0x60, 0x2a, 0x60, 0x00, 0x52, 0x7f}, topic.Bytes()...)
	code = append(code, 0x60, 0x20, 0x60, 0x00, 0xa1, 0x00)

	g := testGenesis()
	g.Alloc[emitter] = types.Account{Code: code, Balance: new(big.Int)}
	s, err := NewWithDatabase(Config{Network: params.RegtestNetwork}, rawdb.NewMemoryDatabase(), g)
	require.NoError(t, err)
	defer s.Close()

	tx := signTx(t, 0, &emitter, big.NewInt(0), 100000, nil)
	validated, err := s.ValidateRawTx(rawTx(t, tx))
	require.NoError(t, err)

	id := s.Queues.Create()
	queueSigned(t, s, id, validated.SignedTx, validated.UsedGas)
	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Empty(t, info.FailedTransactions)
	require.Len(t, info.Receipts[0].Logs, 1)
	require.True(t, info.Block.Bloom().Test(topic.Bytes()))
	require.True(t, info.Block.Bloom().Test(emitter.Bytes()))

	stored, err := s.Logs.GetLogs(info.BlockNumber)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, emitter, stored[0].Address)
	require.Equal(t, info.BlockHash, stored[0].BlockHash)

	from := uint64(0)
	filterID := s.Filters.NewLogFilter(logs.Criteria{FromBlock: &from, Topics: [][]common.Hash{{topic}}})
	matched, err := s.GetFilterLogs(filterID)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Equal(t, tx.Hash(), matched[0].TxHash)

	none, err := s.GetLogs(logs.Criteria{FromBlock: &from, Addresses: []common.Address{recipient}})
	require.NoError(t, err)
	require.Empty(t, none)

	found, block, index, ok := s.GetTransaction(tx.Hash())
	require.True(t, ok)
	require.Equal(t, tx.Hash(), found.Hash())
	require.Equal(t, info.BlockHash, block.Hash())
	require.Zero(t, index)
	require.Equal(t, block.Hash(), s.GetBlockByNumber(info.BlockNumber).Hash())
}
