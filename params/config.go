package params

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethparams "github.com/ethereum/go-ethereum/params"
)

const (
	// MaxGasPerBlock is the gas limit written into every block header and the
	// size of the gas pool a block is executed with.
	MaxGasPerBlock uint64 = 30_000_000

	// InitialBaseFee is the base fee of a block without a parent. It is also the
	// floor below which the EIP-1559 adjustment never goes.
	InitialBaseFee uint64 = 10_000_000_000

	// GenesisBlockNumber is the number assigned to the first finalized block.
	GenesisBlockNumber uint64 = 0
)

// GenesisStateRoot is the state root a chain starts from when no block has
// been stored yet.
var GenesisStateRoot = types.EmptyRootHash

// Network names accepted by the node configuration.
const (
	MainnetNetwork = "mainnet"
	TestnetNetwork = "testnet"
	DevnetNetwork  = "devnet"
	RegtestNetwork = "regtest"
)

var chainIDs = map[string]uint64{
	MainnetNetwork: 1130,
	TestnetNetwork: 1131,
	DevnetNetwork:  1132,
	RegtestNetwork: 1133,
}

// ChainConfigFor returns the go-ethereum chain configuration of the named
// network. All pre-merge forks up to and including London are active from
// block 0; later timestamp-based forks are not scheduled.
func ChainConfigFor(network string) (*gethparams.ChainConfig, error) {
	id, ok := chainIDs[network]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", network)
	}
	return newChainConfig(id), nil
}

// RegtestChainConfig is the configuration used by regtest nodes and tests.
var RegtestChainConfig = newChainConfig(chainIDs[RegtestNetwork])

func newChainConfig(chainID uint64) *gethparams.ChainConfig {
	return &gethparams.ChainConfig{
		ChainID:             new(big.Int).SetUint64(chainID),
		HomesteadBlock:      common.Big0,
		EIP150Block:         common.Big0,
		EIP155Block:         common.Big0,
		EIP158Block:         common.Big0,
		ByzantiumBlock:      common.Big0,
		ConstantinopleBlock: common.Big0,
		PetersburgBlock:     common.Big0,
		IstanbulBlock:       common.Big0,
		MuirGlacierBlock:    common.Big0,
		BerlinBlock:         common.Big0,
		LondonBlock:         common.Big0,
		ArrowGlacierBlock:   common.Big0,
		GrayGlacierBlock:    common.Big0,
	}
}
