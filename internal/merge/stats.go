package merge

import (
	"sort"
	"sync"
)

// protoStats counts unique nodes per protocol. Advisory only: a few counters
// are enough for the run summary without external dependencies.
type protoStats struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func newProtoStats() *protoStats {
	return &protoStats{counts: make(map[string]uint64)}
}

func (s *protoStats) Inc(proto string) {
	if proto == "" {
		proto = "(unknown)"
	}
	s.mu.Lock()
	s.counts[proto]++
	s.mu.Unlock()
}

type ProtocolCount struct {
	Proto string
	N     uint64
}

func (s *protoStats) Snapshot() []ProtocolCount {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProtocolCount, 0, len(s.counts))
	for p, n := range s.counts {
		out = append(out, ProtocolCount{Proto: p, N: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Proto < out[j].Proto })
	return out
}
