package core

import (
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/metachain-labs/evmcore/core/transaction"
	"github.com/metachain-labs/evmcore/params"
)

var (
	testKey, _ = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	testAddr   = crypto.PubkeyToAddress(testKey.PublicKey)

	recipient = common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	coinbase  = common.HexToAddress("0x000000000000000000000000000000000c0ffee0")
	// reverter is a contract whose code is PUSH1 0 PUSH1 0 REVERT
	reverter = common.HexToAddress("0x00000000000000000000000000000000000bad00")

	ether    = big.NewInt(1_000_000_000_000_000_000)
	gwei     = uint64(1_000_000_000)
	txPrice  = big.NewInt(int64(12 * gwei))
	baseFee  = params.InitialBaseFee
	transfer = uint64(21000)
)

func init() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelWarn, false)))
}

func testGenesis() *Genesis {
	return &Genesis{
		Alloc: types.GenesisAlloc{
			testAddr: {Balance: new(big.Int).Mul(big.NewInt(100), ether)},
			reverter: {Code: []byte{0x60, 0x00, 0x60, 0x00, 0xfd}},
		},
	}
}

// newTestServices returns in-memory services started from testGenesis.
func newTestServices(t *testing.T) *EVMServices {
	t.Helper()
	s, err := NewWithDatabase(Config{Network: params.RegtestNetwork}, rawdb.NewMemoryDatabase(), testGenesis())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newEmptyServices returns in-memory services without any block.
func newEmptyServices(t *testing.T) *EVMServices {
	t.Helper()
	s, err := NewWithDatabase(Config{Network: params.RegtestNetwork}, rawdb.NewMemoryDatabase(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func signTx(t *testing.T, nonce uint64, to *common.Address, value *big.Int, gas uint64, data []byte) *types.Transaction {
	t.Helper()
	signer := types.LatestSignerForChainID(params.RegtestChainConfig.ChainID)
	tx, err := types.SignNewTx(testKey, signer, &types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gas,
		GasPrice: txPrice,
		Data:     data,
	})
	require.NoError(t, err)
	return tx
}

func signedTransfer(t *testing.T, nonce uint64) *transaction.SignedTx {
	t.Helper()
	stx, err := transaction.NewSignedTx(signTx(t, nonce, &recipient, big.NewInt(1000), transfer, nil), params.RegtestChainConfig.ChainID)
	require.NoError(t, err)
	return stx
}

func rawTx(t *testing.T, tx *types.Transaction) string {
	t.Helper()
	enc, err := tx.MarshalBinary()
	require.NoError(t, err)
	return hexutil.Encode(enc)
}

func queueSigned(t *testing.T, s *EVMServices, queueID uint64, tx *transaction.SignedTx, gasUsed uint64) {
	t.Helper()
	require.NoError(t, s.QueueTx(queueID, tx, tx.Hash(), gasUsed))
}

func finalize(s *EVMServices, queueID uint64, update bool) (*FinalizedBlockInfo, error) {
	return s.FinalizeBlock(queueID, update, big.NewInt(1), coinbase, 100)
}
