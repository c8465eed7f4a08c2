package engine

import (
	"hash/fnv"
	"sync"
)

// keyLockStripes is the number of mutex stripes; a power of two so the hash
// maps with a mask.
const keyLockStripes = 64

// keyLock linearizes writes per (subject, predicate) key with striped
// mutexes. Distinct keys may share a stripe, which costs throughput but
// never correctness.
type keyLock struct {
	stripes [keyLockStripes]sync.Mutex
}

// lock acquires the stripe for the key and returns its unlock function.
func (k *keyLock) lock(subjectEntityID, predicate string) func() {
	h := fnv.New32a()
	h.Write([]byte(subjectEntityID))
	h.Write([]byte{0})
	h.Write([]byte(predicate))
	mu := &k.stripes[h.Sum32()&(keyLockStripes-1)]
	mu.Lock()
	return mu.Unlock
}
