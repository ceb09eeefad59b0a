package backend

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/triedb"
)

// TrieStore is the trie-addressed account and storage database shared by all
// backends. Each backend reads through it from an immutable root.
type TrieStore struct {
	diskdb ethdb.Database
	triedb *triedb.Database
	db     *state.CachingDB
}

// NewTrieStore opens a hash-scheme trie database on top of diskdb.
func NewTrieStore(diskdb ethdb.Database) *TrieStore {
	tdb := triedb.NewDatabase(diskdb, triedb.HashDefaults)
	return &TrieStore{
		diskdb: diskdb,
		triedb: tdb,
		db:     state.NewDatabase(tdb, nil),
	}
}

// TrieDB returns the underlying trie database.
func (t *TrieStore) TrieDB() *triedb.Database {
	return t.triedb
}

// HasState reports whether the state trie rooted at root is available.
func (t *TrieStore) HasState(root common.Hash) bool {
	_, err := state.New(root, t.db)
	return err == nil
}

// Close releases the trie database.
func (t *TrieStore) Close() error {
	return t.triedb.Close()
}
