package storage

import (
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/pebble"
	"github.com/ethereum/go-ethereum/log"
)

// Supported database engines.
const (
	EngineLevelDB = "leveldb"
	EnginePebble  = "pebble"
	EngineMemory  = "memory"
)

const (
	chainDataDir    = "chaindata"
	metricNamespace = "evm/db/chaindata/"
)

// DatabaseConfig selects and sizes the key-value engine backing the chain.
type DatabaseConfig struct {
	Engine   string
	DataDir  string
	Cache    int // MB
	Handles  int
	ReadOnly bool
}

// OpenDatabase opens the chain database described by cfg. An empty engine
// falls back to whatever engine already holds data in the directory, or
// pebble for a fresh directory.
func OpenDatabase(cfg DatabaseConfig) (ethdb.Database, error) {
	engine := cfg.Engine
	if engine == EngineMemory || cfg.DataDir == "" {
		return rawdb.NewMemoryDatabase(), nil
	}
	dir := filepath.Join(cfg.DataDir, chainDataDir)
	if existing := rawdb.PreexistingDatabase(dir); existing != "" {
		if engine != "" && engine != existing {
			return nil, fmt.Errorf("db.engine choice was %v but found pre-existing %v database in specified data directory", engine, existing)
		}
		engine = existing
	}
	if engine == "" {
		engine = EnginePebble
	}
	var (
		kvdb ethdb.KeyValueStore
		err  error
	)
	switch engine {
	case EngineLevelDB:
		log.Info("Using leveldb as the backing database", "dir", dir)
		kvdb, err = leveldb.New(dir, cfg.Cache, cfg.Handles, metricNamespace, cfg.ReadOnly)
	case EnginePebble:
		log.Info("Using pebble as the backing database", "dir", dir)
		kvdb, err = pebble.New(dir, cfg.Cache, cfg.Handles, metricNamespace, cfg.ReadOnly)
	default:
		return nil, fmt.Errorf("unknown db.engine %q", engine)
	}
	if err != nil {
		return nil, err
	}
	return rawdb.NewDatabase(kvdb), nil
}
