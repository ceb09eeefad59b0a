package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	gethparams "github.com/ethereum/go-ethereum/params"

	"github.com/metachain-labs/evmcore/core/backend"
	"github.com/metachain-labs/evmcore/params"
)

// Genesis is the one-time JSON state input a regtest chain can be started
// from. It becomes block 0.
type Genesis struct {
	Alloc      types.GenesisAlloc    `json:"alloc"`
	Timestamp  math.HexOrDecimal64   `json:"timestamp"`
	GasLimit   math.HexOrDecimal64   `json:"gasLimit"`
	BaseFee    *math.HexOrDecimal256 `json:"baseFee"`
	Difficulty *math.HexOrDecimal256 `json:"difficulty"`
	Coinbase   common.Address        `json:"coinbase"`
	ExtraData  hexutil.Bytes         `json:"extraData"`
}

// LoadGenesis reads a genesis JSON file.
func LoadGenesis(path string) (*Genesis, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	genesis := new(Genesis)
	if err := json.Unmarshal(blob, genesis); err != nil {
		return nil, fmt.Errorf("invalid genesis file %s: %w", path, err)
	}
	return genesis, nil
}

func (g *Genesis) toGeth(config *gethparams.ChainConfig) *gethcore.Genesis {
	gasLimit := uint64(g.GasLimit)
	if gasLimit == 0 {
		gasLimit = params.MaxGasPerBlock
	}
	baseFee := new(big.Int).SetUint64(params.InitialBaseFee)
	if g.BaseFee != nil {
		baseFee = (*big.Int)(g.BaseFee)
	}
	difficulty := big.NewInt(0)
	if g.Difficulty != nil {
		difficulty = (*big.Int)(g.Difficulty)
	}
	return &gethcore.Genesis{
		Config:     config,
		Timestamp:  uint64(g.Timestamp),
		ExtraData:  g.ExtraData,
		GasLimit:   gasLimit,
		Difficulty: difficulty,
		Coinbase:   g.Coinbase,
		Alloc:      g.Alloc,
		BaseFee:    baseFee,
	}
}

// commitGenesis writes the genesis state into the trie store and stores
// block 0 as the chain head.
func commitGenesis(g *Genesis, db ethdb.Database, store *backend.TrieStore, config *gethparams.ChainConfig) (*types.Block, error) {
	if g == nil {
		return nil, errors.New("nil genesis")
	}
	block, err := g.toGeth(config).Commit(db, store.TrieDB())
	if err != nil {
		return nil, fmt.Errorf("commit genesis: %w", err)
	}
	log.Info("Wrote genesis state", "hash", block.Hash(), "root", block.Root(), "accounts", len(g.Alloc))
	return block, nil
}
