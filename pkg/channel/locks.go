package channel

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// stripedMutex hands out one of a fixed set of mutexes per key so that work
// on the same channel name is serialised while different names mostly are not.
type stripedMutex struct {
	stripes []sync.Mutex
	mask    uint64
}

func newStripedMutex(n int) *stripedMutex {
	size := 1
	for size < n {
		size <<= 1
	}
	return &stripedMutex{
		stripes: make([]sync.Mutex, size),
		mask:    uint64(size - 1),
	}
}

func (s *stripedMutex) index(key string) uint64 {
	return xxhash.Sum64String(key) & s.mask
}

// lock locks the stripe for key and returns its unlock function.
func (s *stripedMutex) lock(key string) func() {
	m := &s.stripes[s.index(key)]
	m.Lock()
	return m.Unlock
}
