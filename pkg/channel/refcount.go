package channel

import (
	"sort"
	"sync"
)

// refCountTable counts, per channel name, how many times each subscription
// has been recorded against it. The same subscription may be counted more
// than once. A name is present only while its total is above zero.
type refCountTable struct {
	mu     sync.RWMutex
	counts map[string]map[string]int
	totals map[string]int
}

func newRefCountTable() *refCountTable {
	return &refCountTable{
		counts: make(map[string]map[string]int),
		totals: make(map[string]int),
	}
}

// increment records one occurrence of id against name and returns how many
// occurrences of id the name now holds.
func (t *refCountTable) increment(name, id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids, ok := t.counts[name]
	if !ok {
		ids = make(map[string]int)
		t.counts[name] = ids
	}
	ids[id]++
	t.totals[name]++
	return ids[id]
}

// decrement removes one occurrence of id from name. It returns the remaining
// total for name and whether an occurrence was found.
func (t *refCountTable) decrement(name, id string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids, ok := t.counts[name]
	if !ok || ids[id] == 0 {
		return t.totals[name], false
	}

	ids[id]--
	if ids[id] == 0 {
		delete(ids, id)
	}
	t.totals[name]--
	remaining := t.totals[name]
	if remaining == 0 {
		delete(t.counts, name)
		delete(t.totals, name)
	}
	return remaining, true
}

func (t *refCountTable) count(name string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totals[name]
}

func (t *refCountTable) contains(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.totals[name]
	return ok
}

// subscribers returns the distinct ids recorded against name, sorted.
func (t *refCountTable) subscribers(name string) []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.counts[name]))
	for id := range t.counts[name] {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (t *refCountTable) drop(name string) {
	t.mu.Lock()
	delete(t.counts, name)
	delete(t.totals, name)
	t.mu.Unlock()
}

func (t *refCountTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.totals)
}
