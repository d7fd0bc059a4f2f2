package candystore

import "sync"

// lockTable is a fixed-size table of mutexes indexed by PH.Signature mod
// N, giving per-list mutual exclusion: mutations touch up to three rows
// (the item, a neighbor, the descriptor) that must all move together, so
// locking is done per list rather than per item. The table is sized to
// the next power of two so the modulo can be a mask instead.
type lockTable struct {
	mus  []sync.Mutex
	mask uint32
}

const defaultLockShards = 256

func newLockTable(shards int) *lockTable {
	if shards <= 0 {
		shards = defaultLockShards
	}
	mask := maskOfNextPowOf2(uint32(shards))
	return &lockTable{
		mus:  make([]sync.Mutex, mask+1),
		mask: mask,
	}
}

// lock acquires the mutex owning listPH and returns an unlock function.
func (t *lockTable) lock(listPH PH) func() {
	m := &t.mus[listPH.Signature&t.mask]
	m.Lock()
	return m.Unlock
}

// maskOfNextPowOf2 rounds cap up to the next power of two (or leaves it
// unchanged if it already is one) and returns cap-1, a usable bitmask.
func maskOfNextPowOf2(cap uint32) uint32 {
	if cap > 0 && cap&(cap-1) == 0 {
		return cap - 1
	}
	cap |= cap >> 1
	cap |= cap >> 2
	cap |= cap >> 4
	cap |= cap >> 8
	cap |= cap >> 16
	return cap
}
