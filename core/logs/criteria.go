package logs

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Criteria selects logs by block range, emitting address and topics. An empty
// address list matches any address; an empty topic position matches any topic.
type Criteria struct {
	FromBlock *uint64
	ToBlock   *uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Matcher is a compiled Criteria.
type Matcher struct {
	addresses mapset.Set[common.Address]
	topics    []mapset.Set[common.Hash]
}

// NewMatcher compiles the address and topic part of c.
func NewMatcher(c Criteria) *Matcher {
	m := &Matcher{topics: make([]mapset.Set[common.Hash], len(c.Topics))}
	if len(c.Addresses) > 0 {
		m.addresses = mapset.NewThreadUnsafeSet(c.Addresses...)
	}
	for i, sub := range c.Topics {
		if len(sub) > 0 {
			m.topics[i] = mapset.NewThreadUnsafeSet(sub...)
		}
	}
	return m
}

// Match reports whether l satisfies the address and topic criteria.
func (m *Matcher) Match(l *types.Log) bool {
	if m.addresses != nil && !m.addresses.Contains(l.Address) {
		return false
	}
	if len(m.topics) > len(l.Topics) {
		return false
	}
	for i, set := range m.topics {
		if set != nil && !set.Contains(l.Topics[i]) {
			return false
		}
	}
	return true
}

// Filter returns the logs matching m.
func (m *Matcher) Filter(logs []*types.Log) []*types.Log {
	var out []*types.Log
	for _, l := range logs {
		if m.Match(l) {
			out = append(out, l)
		}
	}
	return out
}
