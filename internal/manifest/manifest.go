// Package manifest holds the OutputManifest: the set of (target, decoy)
// result pairs produced by a search run and consumed by the scorer.
package manifest

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicate is returned when a pair is appended twice.
var ErrDuplicate = errors.New("duplicate manifest pair")

// Pair is one engine's result files for the target and decoy searches.
type Pair struct {
	Engine string
	Target string
	Decoy  string
}

func (p Pair) String() string {
	return fmt.Sprintf("%s(%s, %s)", p.Engine, p.Target, p.Decoy)
}

type pairKey struct{ target, decoy string }

// Manifest is an append-only, concurrency-safe sequence of pairs. The order
// of entries carries no meaning.
type Manifest struct {
	mu    sync.Mutex
	pairs []Pair
	seen  map[pairKey]struct{}
}

// New creates a manifest pre-populated with pairs. Duplicates are dropped.
func New(pairs ...Pair) *Manifest {
	m := &Manifest{seen: make(map[pairKey]struct{})}
	for _, p := range pairs {
		_ = m.Append(p)
	}
	return m
}

// Append records a completed engine's pair.
func (m *Manifest) Append(p Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen == nil {
		m.seen = make(map[pairKey]struct{})
	}
	k := pairKey{p.Target, p.Decoy}
	if _, ok := m.seen[k]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, p)
	}
	m.seen[k] = struct{}{}
	m.pairs = append(m.pairs, p)
	return nil
}

// Pairs returns a copy of the entries in append order.
func (m *Manifest) Pairs() []Pair {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Pair, len(m.pairs))
	copy(out, m.pairs)
	return out
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pairs)
}

// Set returns the entries as a set.
func (m *Manifest) Set() map[Pair]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[Pair]struct{}, len(m.pairs))
	for _, p := range m.pairs {
		set[p] = struct{}{}
	}
	return set
}

// Equal compares two manifests as sets.
func Equal(a, b *Manifest) bool {
	sa, sb := a.Set(), b.Set()
	if len(sa) != len(sb) {
		return false
	}
	for p := range sa {
		if _, ok := sb[p]; !ok {
			return false
		}
	}
	return true
}
