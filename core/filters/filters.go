// Package filters implements polling filters over new blocks, pending
// transactions and logs.
package filters

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/metachain-labs/evmcore/core/logs"
)

// ErrFilterNotFound is returned for unknown or uninstalled filter ids.
var ErrFilterNotFound = errors.New("filter not found")

// Type is the kind of events a filter collects.
type Type byte

const (
	BlockFilter Type = iota
	PendingTransactionFilter
	LogFilter
)

func (t Type) String() string {
	switch t {
	case BlockFilter:
		return "block"
	case PendingTransactionFilter:
		return "pending_tx"
	case LogFilter:
		return "log"
	}
	return "unknown"
}

type filter struct {
	typ      Type
	hashes   []common.Hash
	logs     []*types.Log
	matcher  *logs.Matcher
	criteria logs.Criteria
	lastPoll time.Time
}

// Service keeps the installed filters and feeds them chain events.
type Service struct {
	mu      sync.Mutex
	filters map[uint64]*filter
	seq     atomic.Uint64
}

// NewService creates an empty filter service.
func NewService() *Service {
	return &Service{filters: make(map[uint64]*filter)}
}

func (s *Service) install(f *filter) uint64 {
	id := s.seq.Add(1)
	f.lastPoll = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters[id] = f
	log.Trace("Installed filter", "id", id, "type", f.typ)
	return id
}

// NewBlockFilter installs a filter collecting new block hashes.
func (s *Service) NewBlockFilter() uint64 {
	return s.install(&filter{typ: BlockFilter})
}

// NewPendingTransactionFilter installs a filter collecting queued signed
// transaction hashes.
func (s *Service) NewPendingTransactionFilter() uint64 {
	return s.install(&filter{typ: PendingTransactionFilter})
}

// NewLogFilter installs a filter collecting logs matching criteria.
func (s *Service) NewLogFilter(criteria logs.Criteria) uint64 {
	return s.install(&filter{typ: LogFilter, criteria: criteria, matcher: logs.NewMatcher(criteria)})
}

// Uninstall removes a filter. It reports whether the filter existed.
func (s *Service) Uninstall(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.filters[id]
	delete(s.filters, id)
	return ok
}

// Criteria returns the criteria of a log filter.
func (s *Service) Criteria(id uint64) (logs.Criteria, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.filters[id]
	if !ok || f.typ != LogFilter {
		return logs.Criteria{}, ErrFilterNotFound
	}
	return f.criteria, nil
}

// AddBlockToFilters records a new block hash in every block filter.
func (s *Service) AddBlockToFilters(hash common.Hash) {
	s.addHash(BlockFilter, hash)
}

// AddTxToFilters records a queued transaction hash in every pending
// transaction filter.
func (s *Service) AddTxToFilters(hash common.Hash) {
	s.addHash(PendingTransactionFilter, hash)
}

func (s *Service) addHash(typ Type, hash common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.filters {
		if f.typ == typ {
			f.hashes = append(f.hashes, hash)
		}
	}
}

// AddLogsToFilters records the logs of a new block in every log filter whose
// criteria they match.
func (s *Service) AddLogsToFilters(blockLogs []*types.Log) {
	if len(blockLogs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.filters {
		if f.typ != LogFilter {
			continue
		}
		for _, l := range f.matcher.Filter(blockLogs) {
			if f.criteria.FromBlock != nil && l.BlockNumber < *f.criteria.FromBlock {
				continue
			}
			if f.criteria.ToBlock != nil && l.BlockNumber > *f.criteria.ToBlock {
				continue
			}
			f.logs = append(f.logs, l)
		}
	}
}

// Changes is the result of polling a filter. Hashes is set for block and
// pending transaction filters, Logs for log filters.
type Changes struct {
	Type   Type
	Hashes []common.Hash
	Logs   []*types.Log
}

// GetFilterChanges returns and clears what a filter collected since the last
// poll.
func (s *Service) GetFilterChanges(id uint64) (*Changes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.filters[id]
	if !ok {
		return nil, ErrFilterNotFound
	}
	changes := &Changes{Type: f.typ, Hashes: f.hashes, Logs: f.logs}
	if changes.Hashes == nil {
		changes.Hashes = []common.Hash{}
	}
	if changes.Logs == nil {
		changes.Logs = []*types.Log{}
	}
	f.hashes, f.logs = nil, nil
	f.lastPoll = time.Now()
	return changes, nil
}

// Prune uninstalls filters that have not been polled within timeout and
// returns how many were removed.
func (s *Service) Prune(timeout time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, f := range s.filters {
		if time.Since(f.lastPoll) > timeout {
			delete(s.filters, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debug("Pruned idle filters", "count", removed)
	}
	return removed
}
