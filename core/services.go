// Package core wires the EVM services of a node: the candidate block queues,
// admission checks and the block finalization pipeline, on top of the block,
// receipt, log and filter services.
package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	gethparams "github.com/ethereum/go-ethereum/params"

	"github.com/metachain-labs/evmcore/core/backend"
	"github.com/metachain-labs/evmcore/core/block"
	"github.com/metachain-labs/evmcore/core/filters"
	"github.com/metachain-labs/evmcore/core/logs"
	"github.com/metachain-labs/evmcore/core/receipt"
	"github.com/metachain-labs/evmcore/core/storage"
	"github.com/metachain-labs/evmcore/core/txqueue"
	"github.com/metachain-labs/evmcore/params"
)

// EVMServices is the EVM side of a node.
type EVMServices struct {
	config      Config
	chainConfig *gethparams.ChainConfig
	vmConfig    vm.Config

	db        ethdb.Database
	storage   *storage.Storage
	trieStore *backend.TrieStore

	Block    *block.Service
	Receipts *receipt.Service
	Logs     *logs.Index
	Filters  *filters.Service
	Queues   *txqueue.Queues

	// finalizeMu serialises committing finalizations so two calls cannot
	// both extend the same head.
	finalizeMu sync.Mutex
	closeOnce  sync.Once
}

// New opens the chain database described by cfg and restores the services
// from it. If cfg names a genesis file the chain is initialised from it, which
// is only allowed on regtest.
func New(cfg Config) (*EVMServices, error) {
	var genesis *Genesis
	if cfg.GenesisFile != "" {
		if cfg.Network != params.RegtestNetwork {
			return nil, fmt.Errorf("%w: network %q", ErrGenesisNotAllowed, cfg.Network)
		}
		g, err := LoadGenesis(cfg.GenesisFile)
		if err != nil {
			return nil, err
		}
		genesis = g
	}
	db, err := storage.OpenDatabase(cfg.databaseConfig())
	if err != nil {
		return nil, err
	}
	s, err := NewWithDatabase(cfg, db, genesis)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDatabase builds the services over an already open database. A
// non-nil genesis overwrites the chain head with its block 0.
func NewWithDatabase(cfg Config, db ethdb.Database, genesis *Genesis) (*EVMServices, error) {
	if cfg.Network == "" {
		cfg.Network = params.RegtestNetwork
	}
	if genesis != nil && cfg.Network != params.RegtestNetwork {
		return nil, fmt.Errorf("%w: network %q", ErrGenesisNotAllowed, cfg.Network)
	}
	chainConfig, err := params.ChainConfigFor(cfg.Network)
	if err != nil {
		return nil, err
	}
	trieStore := backend.NewTrieStore(db)
	if genesis != nil {
		if _, err := commitGenesis(genesis, db, trieStore, chainConfig); err != nil {
			return nil, err
		}
	}
	store := storage.New(db, chainConfig)
	if latest := store.GetLatestBlock(); latest != nil && !trieStore.HasState(latest.Root()) {
		return nil, fmt.Errorf("missing state %x of head block %d", latest.Root(), latest.NumberU64())
	}
	s := &EVMServices{
		config:      cfg,
		chainConfig: chainConfig,
		db:          db,
		storage:     store,
		trieStore:   trieStore,
		Block:       block.NewService(store, chainConfig),
		Receipts:    receipt.NewService(store),
		Logs:        logs.NewIndex(db),
		Filters:     filters.NewService(),
		Queues:      txqueue.New(),
	}
	hash, number, ok := s.Block.GetLatestBlockHashAndNumber()
	log.Info("Initialised EVM services", "network", cfg.Network, "chainid", chainConfig.ChainID, "head", hash, "number", number, "fresh", !ok)
	return s, nil
}

// ChainConfig returns the chain parameters in use.
func (s *EVMServices) ChainConfig() *gethparams.ChainConfig { return s.chainConfig }

// PruneFilters uninstalls filters not polled within the configured timeout.
func (s *EVMServices) PruneFilters() int {
	if s.config.FilterTimeout == 0 {
		return 0
	}
	removed := s.Filters.Prune(time.Duration(s.config.FilterTimeout) * time.Second)
	if removed > 0 {
		log.Debug("Pruned idle filters", "count", removed)
	}
	return removed
}

// Close releases the trie store and the database.
func (s *EVMServices) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if err := s.trieStore.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
