package candystore

// BIterResult is one step of a Variant B iteration. Unlike Variant A, a
// vanished slot is an ordinary hole: the iterator silently skips it and
// continues, since removing an item from the middle of the span leaves a
// hole as routine state rather than a crash artifact.
type BIterResult struct {
	Key   []byte
	Value []byte
}

// bIterator walks a Variant B list head-to-tail or tail-to-head. It
// snapshots [head_idx, tail_idx) under the list mutex once, then resolves
// each index lock-free — a concurrent append past the snapshotted tail is
// not seen, and an index removed within it is skipped like a hole.
type bIterator struct {
	e         *EngineB
	listKey   []byte
	listPH    PH
	fwd       bool
	started   bool
	cur       uint64
	remaining uint64
}

// Iter returns a forward (fwd=true) or backward iterator over list_key.
func (e *EngineB) Iter(listKey []byte, fwd bool) *bIterator {
	return &bIterator{e: e, listKey: listKey, fwd: fwd}
}

// Next advances the iterator, skipping holes. ok=false means the
// snapshotted range is exhausted.
func (it *bIterator) Next() (BIterResult, bool, error) {
	if !it.started {
		it.started = true
		listPH, listKeyFull := makeListKey(ListNSB, it.listKey)
		it.listPH = listPH

		unlock := it.e.locks.lock(listPH)
		descRaw, ok, err := it.e.sub.GetRaw(listKeyFull)
		unlock()
		if err != nil {
			it.remaining = 0
			return BIterResult{}, false, wrapSubstrateErr("iter_list", err)
		}
		if !ok {
			return BIterResult{}, false, nil
		}
		desc := listHeadBFromBytes(descRaw)
		it.remaining = desc.spanLen()
		if it.fwd {
			it.cur = desc.HeadIdx
		} else {
			it.cur = desc.TailIdx - 1
		}
	}

	for it.remaining > 0 {
		idx := it.cur
		it.remaining--
		if it.fwd {
			it.cur++
		} else {
			it.cur--
		}

		fullKey, val, _, err := it.e.getAtIndex(it.listPH, idx)
		if err != nil {
			it.remaining = 0
			return BIterResult{}, false, err
		}
		if fullKey == nil {
			continue
		}
		userVal, _ := splitItemValueB(val)
		itemKey := fullKey[:len(fullKey)-itemKeySuffixLen]
		return BIterResult{
			Key:   append([]byte(nil), itemKey...),
			Value: append([]byte(nil), userVal...),
		}, true, nil
	}
	return BIterResult{}, false, nil
}

// peekEnd delegates to the first element yielded by the corresponding
// iterator, so a hole sitting at head_idx/tail_idx-1 is skipped the same
// way iteration skips it, rather than reporting a hole as an empty list.
func (e *EngineB) peekEnd(listKey []byte, fwd bool) (itemKey, value []byte, ok bool, err error) {
	it := e.Iter(listKey, fwd)
	res, ok, err := it.Next()
	if err != nil || !ok {
		return nil, nil, false, err
	}
	return res.Key, res.Value, true, nil
}

// PeekListHead returns the first element without removing it.
func (e *EngineB) PeekListHead(listKey []byte) ([]byte, []byte, bool, error) {
	return e.peekEnd(listKey, true)
}

// PeekListTail returns the last element without removing it.
func (e *EngineB) PeekListTail(listKey []byte) ([]byte, []byte, bool, error) {
	return e.peekEnd(listKey, false)
}

// popEnd walks from the relevant end, skipping holes, until an index with
// a live chain row is found, then removes it and advances the boundary
// past it. Removing an item only ever advances head_idx/tail_idx by one
// position, so a hole left behind by an earlier middle removal can end up
// sitting exactly at the new boundary once enough head/tail pops have run
// past it — the walk-and-skip loop below is what keeps that hole from
// being mistaken for a live element or for an empty list.
func (e *EngineB) popEnd(listKey []byte, fwd bool) (itemKey, value []byte, ok bool, err error) {
	listPH, listKeyFull := makeListKey(ListNSB, listKey)
	unlock := e.locks.lock(listPH)
	defer unlock()

	descRaw, exists, gerr := e.sub.GetRaw(listKeyFull)
	if gerr != nil {
		return nil, nil, false, wrapSubstrateErr("pop", gerr)
	}
	if !exists {
		return nil, nil, false, nil
	}
	desc := listHeadBFromBytes(descRaw)
	if desc.isEmpty() {
		return nil, nil, false, nil
	}

	var idx uint64
	var fullKey, val []byte
	skipped := uint64(0)
	for {
		if fwd {
			idx = desc.HeadIdx + skipped
			if idx >= desc.TailIdx {
				return nil, nil, false, nil
			}
		} else {
			idx = desc.TailIdx - 1 - skipped
			if idx < desc.HeadIdx {
				return nil, nil, false, nil
			}
		}
		fk, v, _, rerr := e.getAtIndex(listPH, idx)
		if rerr != nil {
			return nil, nil, false, rerr
		}
		if fk != nil {
			fullKey, val = fk, v
			break
		}
		skipped++
	}
	userVal, _ := splitItemValueB(val)

	if fwd {
		desc.HeadIdx = idx + 1
	} else {
		desc.TailIdx = idx
	}
	desc.NumItems--
	if desc.isEmpty() {
		if _, _, err := e.sub.RemoveRaw(listKeyFull); err != nil {
			return nil, nil, false, wrapSubstrateErr("pop", err)
		}
	} else {
		if _, _, err := e.sub.SetRaw(listKeyFull, desc.Bytes()); err != nil {
			return nil, nil, false, wrapSubstrateErr("pop", err)
		}
	}
	if _, _, err := e.sub.RemoveRaw(chainKey(listPH, idx)); err != nil {
		return nil, nil, false, wrapSubstrateErr("pop", err)
	}
	if _, _, err := e.sub.RemoveRaw(fullKey); err != nil {
		return nil, nil, false, wrapSubstrateErr("pop", err)
	}

	stripped := fullKey[:len(fullKey)-itemKeySuffixLen]
	return append([]byte(nil), stripped...), append([]byte(nil), userVal...), true, nil
}

// PopListHead removes and returns the first element of the list.
func (e *EngineB) PopListHead(listKey []byte) ([]byte, []byte, bool, error) {
	return e.popEnd(listKey, true)
}

// PopListTail removes and returns the last element of the list.
func (e *EngineB) PopListTail(listKey []byte) ([]byte, []byte, bool, error) {
	return e.popEnd(listKey, false)
}
