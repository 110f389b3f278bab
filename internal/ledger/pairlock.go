package ledger

import (
	"slices"
	"sync"
)

// pair is an unordered user pair, stored with the smaller id first.
type pair struct {
	lo, hi int64
}

func newPair(a, b int64) pair {
	if a > b {
		a, b = b, a
	}
	return pair{lo: a, hi: b}
}

func (p pair) less(o pair) bool {
	if p.lo != o.lo {
		return p.lo < o.lo
	}
	return p.hi < o.hi
}

// pairLocks is a keyed mutex over unordered user pairs. Entries are reference counted
// and dropped once nobody waits on them.
type pairLocks struct {
	mu      sync.Mutex
	entries map[pair]*pairEntry
}

type pairEntry struct {
	mu   sync.Mutex
	refs int
}

func newPairLocks() *pairLocks {
	return &pairLocks{entries: make(map[pair]*pairEntry)}
}

// lock acquires every given pair in a fixed order and returns the matching unlock.
func (l *pairLocks) lock(pairs ...pair) func() {
	slices.SortFunc(pairs, func(a, b pair) int {
		switch {
		case a.less(b):
			return -1
		case b.less(a):
			return 1
		default:
			return 0
		}
	})
	pairs = slices.Compact(pairs)

	held := make([]*pairEntry, 0, len(pairs))
	for _, p := range pairs {
		l.mu.Lock()
		e, ok := l.entries[p]
		if !ok {
			e = &pairEntry{}
			l.entries[p] = e
		}
		e.refs++
		l.mu.Unlock()

		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		l.mu.Lock()
		for i, p := range pairs {
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.entries, p)
			}
		}
		l.mu.Unlock()
	}
}

func (l *pairLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
