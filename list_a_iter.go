package candystore

// AIterResult is one step of a Variant A iteration.
type AIterResult struct {
	Key     []byte
	Value   []byte
	// Missing indicates the next row in the chain vanished mid-iteration
	// (a concurrent remove raced the reader) — distinct from a clean
	// end-of-list. The caller may restart iteration with a fresh Iter
	// call.
	Missing bool
}

// aIterator walks a Variant A list head-to-tail or tail-to-head without
// holding the list mutex. Every step re-reads an item row, so a concurrent
// removal can race any step; a row that vanished is what Missing surfaces.
type aIterator struct {
	e       *EngineA
	listKey []byte
	listPH  PH
	fwd     bool
	started bool
	done    bool
	cur     PH
}

// Iter returns a forward (fwd=true) or backward iterator over list_key.
func (e *EngineA) Iter(listKey []byte, fwd bool) *aIterator {
	return &aIterator{e: e, listKey: listKey, fwd: fwd}
}

// Next advances the iterator. ok=false means the list is exhausted (or
// never existed); err stops iteration immediately.
func (it *aIterator) Next() (AIterResult, bool, error) {
	if it.done {
		return AIterResult{}, false, nil
	}
	if !it.started {
		it.started = true
		listPH, listKeyFull := makeListKey(ListNS, it.listKey)
		it.listPH = listPH
		descRaw, ok, err := it.e.sub.GetRaw(listKeyFull)
		if err != nil {
			it.done = true
			return AIterResult{}, false, wrapSubstrateErr("iter_list", err)
		}
		if !ok {
			it.done = true
			return AIterResult{}, false, nil
		}
		desc := listHeadAFromBytes(descRaw)
		if it.fwd {
			it.cur = desc.Head
		} else {
			it.cur = desc.Tail
		}
	}

	if !it.cur.IsValid() {
		it.done = true
		return AIterResult{}, false, nil
	}

	fullKey, val, err := it.e.resolveByPH(it.listPH, it.cur)
	if err != nil {
		it.done = true
		return AIterResult{}, false, err
	}
	if fullKey == nil {
		it.done = true
		return AIterResult{Missing: true}, true, nil
	}

	userVal, suffix := splitItemValueA(val)
	itemKey := fullKey[:len(fullKey)-itemKeySuffixLen]
	if it.fwd {
		it.cur = suffix.Next
	} else {
		it.cur = suffix.Prev
	}
	return AIterResult{
		Key:   append([]byte(nil), itemKey...),
		Value: append([]byte(nil), userVal...),
	}, true, nil
}

// popEnd removes and returns the head (fwd=true) or tail (fwd=false)
// element of list_key, or ok=false if the list is empty/absent.
func (e *EngineA) popEnd(listKey []byte, fwd bool) (itemKey, value []byte, ok bool, err error) {
	listPH, listKeyFull := makeListKey(ListNS, listKey)
	unlock := e.locks.lock(listPH)
	defer unlock()

	descRaw, exists, gerr := e.sub.GetRaw(listKeyFull)
	if gerr != nil {
		return nil, nil, false, wrapSubstrateErr("pop", gerr)
	}
	if !exists {
		return nil, nil, false, nil
	}
	desc := listHeadAFromBytes(descRaw)

	var targetPH PH
	var fullKey, val []byte
	var suffix linkSuffixA
	if fwd {
		targetPH = desc.Head
		fk, v, rerr := e.resolveByPH(listPH, targetPH)
		if rerr != nil {
			return nil, nil, false, rerr
		}
		if fk == nil {
			return nil, nil, false, e.corruption("pop", "head hint %+v resolves to a missing row", targetPH)
		}
		fullKey, val = fk, v
		_, suffix = splitItemValueA(val)
	} else {
		// The descriptor's tail is a hint that may lag by one step after
		// a crash; walk to the true tail the same way insert does.
		tPH, fk, v, s, ferr := e.findTrueTail(listPH, desc.Tail)
		if ferr != nil {
			return nil, nil, false, ferr
		}
		targetPH, fullKey, val, suffix = tPH, fk, v, s
	}
	userVal, _ := splitItemValueA(val)
	if err := e.removeLocked(listPH, listKeyFull, targetPH, fullKey, desc, suffix); err != nil {
		return nil, nil, false, err
	}
	stripped := fullKey[:len(fullKey)-itemKeySuffixLen]
	return append([]byte(nil), stripped...), append([]byte(nil), userVal...), true, nil
}

// PopListHead removes and returns the first element of the list.
func (e *EngineA) PopListHead(listKey []byte) ([]byte, []byte, bool, error) {
	return e.popEnd(listKey, true)
}

// PopListTail removes and returns the last element of the list.
func (e *EngineA) PopListTail(listKey []byte) ([]byte, []byte, bool, error) {
	return e.popEnd(listKey, false)
}
