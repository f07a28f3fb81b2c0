package merge

import (
	"sync"

	"github.com/John-Robertt/submerge-go/internal/identity"
)

// accumulator is the per-run dedup state shared by all fetch tasks. A link
// is kept only if its identity key has not been seen by any earlier fold in
// this run, so a source's internal duplicates and cross-source duplicates
// are eliminated by the same pass.
type accumulator struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	nodes []string
}

func newAccumulator() *accumulator {
	return &accumulator{seen: make(map[string]struct{})}
}

// Fold merges one source's links and returns the ones that were new. First
// seen wins: on an identity collision the already-stored link is kept.
func (a *accumulator) Fold(links []string) []string {
	var added []string

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, l := range links {
		k := identity.Key(l)
		if _, ok := a.seen[k]; ok {
			continue
		}
		a.seen[k] = struct{}{}
		a.nodes = append(a.nodes, l)
		added = append(added, l)
	}
	return added
}

func (a *accumulator) Nodes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.nodes))
	copy(out, a.nodes)
	return out
}
