package subscription

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// idLocks serialises the store and registry updates for one subscription ID.
type idLocks struct {
	stripes []sync.Mutex
	mask    uint64
}

func newIDLocks(n int) *idLocks {
	size := 1
	for size < n {
		size <<= 1
	}
	return &idLocks{
		stripes: make([]sync.Mutex, size),
		mask:    uint64(size - 1),
	}
}

// lock locks the stripe for id and returns its unlock function.
func (l *idLocks) lock(id string) func() {
	m := &l.stripes[xxhash.Sum64String(id)&l.mask]
	m.Lock()
	return m.Unlock
}
