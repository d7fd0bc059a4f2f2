package candystore

import (
	"bytes"
	"sync"
)

// MemorySubstrate is the default, in-process Substrate implementation: a
// fixed array of mutex-guarded shards, each holding a plain map plus a
// reverse PH index, backing the full get/set/replace/modify-in-place/
// remove/get-by-hash primitive set the list engine depends on.
//
// Shard selection uses PH.Partition rather than PH.Signature so that the
// same two independent halves of the fingerprint serve two independent
// purposes: Signature drives the caller-visible per-list lock table
// (locks.go), Partition drives this substrate's internal storage sharding
// — mirroring how a real hash-addressed substrate would route storage
// independently of how a caller locks a logical list.
type MemorySubstrate struct {
	shards []memShard
	mask   uint32
}

type memShard struct {
	mu   sync.RWMutex
	rows map[string][]byte
	byPH map[PH]map[string]struct{}
}

// NewMemorySubstrate creates an in-process Substrate with the given
// number of internal shards (rounded up to a power of two; 0 uses a
// sensible default).
func NewMemorySubstrate(shards int) *MemorySubstrate {
	if shards <= 0 {
		shards = defaultLockShards
	}
	mask := maskOfNextPowOf2(uint32(shards))
	m := &MemorySubstrate{
		shards: make([]memShard, mask+1),
		mask:   mask,
	}
	for i := range m.shards {
		m.shards[i].rows = make(map[string][]byte)
		m.shards[i].byPH = make(map[PH]map[string]struct{})
	}
	return m
}

func (m *MemorySubstrate) shardFor(ph PH) *memShard {
	return &m.shards[ph.Partition&m.mask]
}

func (m *MemorySubstrate) GetRaw(k []byte) ([]byte, bool, error) {
	ph := HashPH(k)
	s := m.shardFor(ph)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rows[string(k)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemorySubstrate) SetRaw(k, v []byte) ([]byte, bool, error) {
	ph := HashPH(k)
	s := m.shardFor(ph)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.rows[string(k)]
	s.rows[string(k)] = append([]byte(nil), v...)
	if !existed {
		s.index(ph, k)
	}
	if !existed {
		return nil, true, nil
	}
	return prev, false, nil
}

func (m *MemorySubstrate) GetOrCreateRaw(k, vDefault []byte) ([]byte, bool, error) {
	ph := HashPH(k)
	s := m.shardFor(ph)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.rows[string(k)]; ok {
		return v, false, nil
	}
	s.rows[string(k)] = append([]byte(nil), vDefault...)
	s.index(ph, k)
	return vDefault, true, nil
}

func (m *MemorySubstrate) ReplaceRaw(k, v []byte) ([]byte, bool, error) {
	ph := HashPH(k)
	s := m.shardFor(ph)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.rows[string(k)]
	if !existed {
		return nil, false, nil
	}
	s.rows[string(k)] = append([]byte(nil), v...)
	return prev, true, nil
}

func (m *MemorySubstrate) ModifyInPlaceRaw(k, patch []byte, offset int, expectedOld []byte) (bool, bool, error) {
	ph := HashPH(k)
	s := m.shardFor(ph)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, existed := s.rows[string(k)]
	if !existed {
		return false, false, nil
	}
	if offset < 0 || offset+len(expectedOld) > len(cur) {
		return false, true, nil
	}
	if !bytes.Equal(cur[offset:offset+len(expectedOld)], expectedOld) {
		return false, true, nil
	}
	next := append([]byte(nil), cur...)
	copy(next[offset:offset+len(patch)], patch)
	s.rows[string(k)] = next
	return true, true, nil
}

func (m *MemorySubstrate) RemoveRaw(k []byte) ([]byte, bool, error) {
	ph := HashPH(k)
	s := m.shardFor(ph)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.rows[string(k)]
	if !existed {
		return nil, false, nil
	}
	delete(s.rows, string(k))
	s.unindex(ph, k)
	return prev, true, nil
}

func (m *MemorySubstrate) GetByHash(ph PH) ([]KV, error) {
	s := m.shardFor(ph)
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byPH[ph]
	if len(keys) == 0 {
		return nil, nil
	}
	out := make([]KV, 0, len(keys))
	for k := range keys {
		out = append(out, KV{
			Key:   []byte(k),
			Value: append([]byte(nil), s.rows[k]...),
		})
	}
	return out, nil
}

func (s *memShard) index(ph PH, k []byte) {
	set, ok := s.byPH[ph]
	if !ok {
		set = make(map[string]struct{}, 1)
		s.byPH[ph] = set
	}
	set[string(k)] = struct{}{}
}

func (s *memShard) unindex(ph PH, k []byte) {
	set, ok := s.byPH[ph]
	if !ok {
		return
	}
	delete(set, string(k))
	if len(set) == 0 {
		delete(s.byPH, ph)
	}
}
