package core

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/metachain-labs/evmcore/core/storage"
	"github.com/metachain-labs/evmcore/core/transaction"
	"github.com/metachain-labs/evmcore/params"
)

func TestGenesisRestrictedToRegtest(t *testing.T) {
	_, err := NewWithDatabase(Config{Network: params.MainnetNetwork}, rawdb.NewMemoryDatabase(), testGenesis())
	require.ErrorIs(t, err, ErrGenesisNotAllowed)

	_, err = New(Config{Network: params.TestnetNetwork, GenesisFile: "genesis.json"})
	require.ErrorIs(t, err, ErrGenesisNotAllowed)

	_, err = NewWithDatabase(Config{Network: "moonnet"}, rawdb.NewMemoryDatabase(), nil)
	require.Error(t, err)
}

func TestLoadGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	blob := `{
		"alloc": {"` + testAddr.Hex() + `": {"balance": "0xde0b6b3a7640000"}},
		"timestamp": "0x10",
		"gasLimit": 30000000,
		"extraData": "0x6576"
	}`
	require.NoError(t, os.WriteFile(path, []byte(blob), 0o600))

	g, err := LoadGenesis(path)
	require.NoError(t, err)
	require.Equal(t, uint64(16), uint64(g.Timestamp))
	require.Equal(t, []byte("ev"), []byte(g.ExtraData))
	require.Zero(t, ether.Cmp(g.Alloc[testAddr].Balance))

	s, err := New(Config{Network: params.RegtestNetwork, GenesisFile: path})
	require.NoError(t, err)
	defer s.Close()

	balance, err := s.GetBalance(testAddr)
	require.NoError(t, err)
	require.Equal(t, uint256.MustFromBig(ether), balance)
	latest := s.storage.GetLatestBlock()
	require.NotNil(t, latest)
	require.Equal(t, uint64(16), latest.Time())
	require.Equal(t, params.InitialBaseFee, latest.BaseFee().Uint64())
}

func TestLoadGenesisInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := LoadGenesis(path)
	require.Error(t, err)

	_, err = LoadGenesis(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestRestartRestoresHead(t *testing.T) {
	cfg := Config{
		Network:         params.RegtestNetwork,
		DataDir:         t.TempDir(),
		DatabaseEngine:  storage.EngineLevelDB,
		DatabaseCache:   16,
		DatabaseHandles: 16,
	}
	s, err := New(cfg)
	require.NoError(t, err)

	id := s.Queues.Create()
	require.NoError(t, s.QueueTx(id, &transaction.EvmIn{Address: recipient, Amount: uint256.NewInt(42)}, common.Hash{0xe1}, 0))
	info, err := finalize(s, id, true)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(cfg)
	require.NoError(t, err)
	defer s.Close()

	hash, number, ok := s.Block.GetLatestBlockHashAndNumber()
	require.True(t, ok)
	require.Equal(t, info.BlockHash, hash)
	require.Equal(t, info.BlockNumber, number)
	balance, err := s.GetBalance(recipient)
	require.NoError(t, err)
	require.Equal(t, uint64(42), balance.Uint64())

	id = s.Queues.Create()
	next, err := finalize(s, id, true)
	require.NoError(t, err)
	require.Equal(t, info.BlockNumber+1, next.BlockNumber)
	require.Equal(t, uint64(2), counterValue(t, s))
}

func TestConcurrentQueues(t *testing.T) {
	s := newTestServices(t)
	const queues = 8

	ids := make([]uint64, queues)
	for i := range ids {
		ids[i] = s.Queues.Create()
	}
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			op := &transaction.EvmIn{Address: recipient, Amount: uint256.NewInt(uint64(i + 1))}
			return s.QueueTx(id, op, common.Hash{0xe2, byte(i)}, 0)
		})
	}
	require.NoError(t, g.Wait())

	// Dry runs of different queues may run side by side.
	roots := make([][32]byte, queues)
	for i, id := range ids {
		g.Go(func() error {
			info, err := finalize(s, id, false)
			if err != nil {
				return err
			}
			roots[i] = info.StateRoot
			return nil
		})
	}
	require.NoError(t, g.Wait())
	for i := 1; i < queues; i++ {
		require.NotEqual(t, roots[0], roots[i])
	}

	for _, id := range ids {
		_, err := finalize(s, id, true)
		require.NoError(t, err)
	}
	_, number, _ := s.Block.GetLatestBlockHashAndNumber()
	require.Equal(t, uint64(queues), number)
	balance, err := s.GetBalance(recipient)
	require.NoError(t, err)
	require.Equal(t, uint64(queues*(queues+1)/2), balance.Uint64())
}

func TestDryRunsAlongsideCommits(t *testing.T) {
	s := newTestServices(t)
	const commits = 20

	dry := s.Queues.Create()
	var (
		g    errgroup.Group
		mu   sync.Mutex
		runs []*FinalizedBlockInfo
	)
	g.Go(func() error {
		for i := 0; i < commits; i++ {
			if _, err := finalize(s, s.Queues.Create(), true); err != nil {
				return err
			}
		}
		return nil
	})
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for i := 0; i < 25; i++ {
				info, err := finalize(s, dry, false)
				if err != nil {
					return err
				}
				mu.Lock()
				runs = append(runs, info)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// An empty dry run on a parent builds the very block an empty commit on
	// that parent stored, unless it mixed up two heads.
	for _, info := range runs {
		committed := s.GetBlockByNumber(info.BlockNumber)
		if committed == nil {
			continue
		}
		require.Equal(t, committed.Hash(), info.BlockHash, "dry run of block %d", info.BlockNumber)
	}
	require.Zero(t, s.Queues.Len(dry))
}

func TestPruneFilters(t *testing.T) {
	s := newTestServices(t)
	s.config.FilterTimeout = 300
	s.Filters.NewBlockFilter()
	require.Zero(t, s.PruneFilters())

	s.config.FilterTimeout = 0
	require.Zero(t, s.PruneFilters())
}
