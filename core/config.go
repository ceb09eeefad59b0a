package core

import (
	"github.com/metachain-labs/evmcore/core/storage"
	"github.com/metachain-labs/evmcore/params"
)

// Config configures the EVM services of a node.
type Config struct {
	// Network selects the chain parameters: mainnet, testnet, devnet or regtest.
	Network string

	// DataDir is the root of the node's data. An empty value keeps all data
	// in memory.
	DataDir string

	DatabaseEngine  string `toml:",omitempty"`
	DatabaseCache   int
	DatabaseHandles int `toml:"-"`

	// GenesisFile is a one-time JSON state input, only honoured on regtest.
	GenesisFile string `toml:",omitempty"`

	// FilterTimeout is how long an unpolled filter survives, in seconds.
	FilterTimeout uint64
}

// DefaultConfig contains the default settings for a regtest node.
var DefaultConfig = Config{
	Network:         params.RegtestNetwork,
	DatabaseEngine:  storage.EnginePebble,
	DatabaseCache:   512,
	DatabaseHandles: 256,
	FilterTimeout:   300,
}

func (c *Config) databaseConfig() storage.DatabaseConfig {
	return storage.DatabaseConfig{
		Engine:  c.DatabaseEngine,
		DataDir: c.DataDir,
		Cache:   c.DatabaseCache,
		Handles: c.DatabaseHandles,
	}
}
