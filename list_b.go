package candystore

import (
	"bytes"

	"go.uber.org/zap"
)

// EngineB is the index-chained list engine: a list is a contiguous range
// of monotonically increasing indices, each backed by a chain row mapping
// (list_ph, idx) to the owning item's PH.
type EngineB struct {
	sub   Substrate
	locks *lockTable
	log   *zap.Logger
}

func newEngineB(sub Substrate, locks *lockTable, log *zap.Logger) *EngineB {
	return &EngineB{sub: sub, locks: locks, log: log}
}

func (e *EngineB) corruption(op, format string, args ...interface{}) error {
	err := newCorruption(op, format, args...)
	e.log.Warn("list corruption detected", zap.String("op", op), zap.Error(err))
	return err
}

// getAtIndex resolves the live item stored at position idx of list_ph via
// its chain row, then disambiguates PH collisions with a suffix/index
// check. A missing chain row or an item row that vanished underneath it
// is reported as "absent" (a hole), not an error — holes are expected,
// ordinary state in Variant B.
func (e *EngineB) getAtIndex(listPH PH, idx uint64) (fullKey, value []byte, itemPH PH, err error) {
	chainRaw, ok, gerr := e.sub.GetRaw(chainKey(listPH, idx))
	if gerr != nil {
		return nil, nil, PH{}, wrapSubstrateErr("get_at_index", gerr)
	}
	if !ok {
		return nil, nil, PH{}, nil
	}
	itemPH = PHFromBytes(chainRaw)

	rows, gerr := e.sub.GetByHash(itemPH)
	if gerr != nil {
		return nil, nil, PH{}, wrapSubstrateErr("get_at_index", gerr)
	}
	suffix := listPH.AppendBytes(make([]byte, 0, itemKeySuffixLen))
	suffix = append(suffix, ItemNS)
	idxBytes := appendUint64LE(nil, idx)
	for _, row := range rows {
		if !bytesHasSuffix(row.Key, suffix) {
			continue
		}
		if !bytesHasSuffix(row.Value, idxBytes) {
			continue
		}
		return row.Key, row.Value, itemPH, nil
	}
	return nil, nil, PH{}, nil
}

const (
	insertCreated = iota
	insertDoesNotExist
	insertWrongValue
	insertExistingValue
	insertReplaced
)

func (e *EngineB) insertToList(listKey, itemKey, value []byte, mode InsertMode, expectedVal []byte, hasExpected bool) (kind int, val []byte, err error) {
	listPH, listKeyFull := makeListKey(ListNSB, listKey)
	itemPH, itemKeyFull := makeItemKey(listPH, itemKey)

	unlock := e.locks.lock(listPH)
	defer unlock()

	existingRaw, ok, gerr := e.sub.GetRaw(itemKeyFull)
	if gerr != nil {
		return 0, nil, wrapSubstrateErr("insert", gerr)
	}
	if ok {
		existingUser, idx := splitItemValueB(existingRaw)
		switch mode {
		case ModeGetOrCreate:
			return insertExistingValue, append([]byte(nil), existingUser...), nil
		case ModeReplace:
			if hasExpected && !bytes.Equal(expectedVal, existingUser) {
				return insertWrongValue, append([]byte(nil), existingUser...), nil
			}
		case ModeSet:
		}
		newRaw := append(append([]byte(nil), value...), appendUint64LE(nil, idx)...)
		prev, replaced, rerr := e.sub.ReplaceRaw(itemKeyFull, newRaw)
		if rerr != nil {
			return 0, nil, wrapSubstrateErr("insert", rerr)
		}
		if !replaced {
			return 0, nil, e.corruption("insert", "item %x vanished between read and replace", itemKeyFull)
		}
		prevUser, _ := splitItemValueB(prev)
		return insertReplaced, append([]byte(nil), prevUser...), nil
	}

	if mode == ModeReplace {
		return insertDoesNotExist, nil, nil
	}

	descDefault := listHeadB{HeadIdx: firstListIdx, TailIdx: firstListIdx + 1, NumItems: 1}.Bytes()
	observed, created, gerr := e.sub.GetOrCreateRaw(listKeyFull, descDefault)
	if gerr != nil {
		return 0, nil, wrapSubstrateErr("insert", gerr)
	}

	var idx uint64
	if created {
		idx = firstListIdx
	} else {
		desc := listHeadBFromBytes(observed)
		idx = desc.TailIdx
		desc.TailIdx++
		desc.NumItems++
		if _, _, err := e.sub.SetRaw(listKeyFull, desc.Bytes()); err != nil {
			return 0, nil, wrapSubstrateErr("insert", err)
		}
	}

	if _, _, err := e.sub.SetRaw(chainKey(listPH, idx), itemPH.AppendBytes(nil)); err != nil {
		return 0, nil, wrapSubstrateErr("insert", err)
	}

	newItemRaw := append(append([]byte(nil), value...), appendUint64LE(nil, idx)...)
	if _, _, err := e.sub.SetRaw(itemKeyFull, newItemRaw); err != nil {
		return 0, nil, wrapSubstrateErr("insert", err)
	}

	return insertCreated, append([]byte(nil), value...), nil
}

// SetInList inserts or updates item_key in list_key at its existing
// position.
func (e *EngineB) SetInList(listKey, itemKey, value []byte) (SetStatus, error) {
	kind, val, err := e.insertToList(listKey, itemKey, value, ModeSet, nil, false)
	if err != nil {
		return SetStatus{}, err
	}
	if kind == insertCreated {
		return SetStatus{CreatedNew: true}, nil
	}
	return SetStatus{CreatedNew: false, Prev: val}, nil
}

// SetInListPromoting is remove(list, item) followed by insert(list, item,
// value): LRU semantics, least-recently-set at head, most-recent at tail.
// Not atomic, not crash-safe.
func (e *EngineB) SetInListPromoting(listKey, itemKey, value []byte) (SetStatus, error) {
	if _, _, err := e.RemoveFromList(listKey, itemKey); err != nil {
		return SetStatus{}, err
	}
	return e.SetInList(listKey, itemKey, value)
}

// ReplaceInList updates item_key only if present, optionally guarded by
// an expected current value.
func (e *EngineB) ReplaceInList(listKey, itemKey, value []byte, expected []byte, hasExpected bool) (ReplaceStatus, error) {
	kind, val, err := e.insertToList(listKey, itemKey, value, ModeReplace, expected, hasExpected)
	if err != nil {
		return ReplaceStatus{}, err
	}
	switch kind {
	case insertDoesNotExist:
		return ReplaceStatus{Existed: false}, nil
	case insertWrongValue:
		return ReplaceStatus{Existed: true, WrongVal: true, Current: val}, nil
	case insertReplaced:
		return ReplaceStatus{Existed: true, Prev: val}, nil
	default:
		return ReplaceStatus{}, e.corruption("replace_in_list", "unexpected insert outcome %d", kind)
	}
}

// GetOrCreateInList creates item_key with defaultVal iff absent.
func (e *EngineB) GetOrCreateInList(listKey, itemKey, defaultVal []byte) (GetOrCreateStatus, error) {
	kind, val, err := e.insertToList(listKey, itemKey, defaultVal, ModeGetOrCreate, nil, false)
	if err != nil {
		return GetOrCreateStatus{}, err
	}
	return GetOrCreateStatus{CreatedNew: kind == insertCreated, Value: val}, nil
}

// GetFromList is an O(1) lookup that runs without the list mutex.
func (e *EngineB) GetFromList(listKey, itemKey []byte) ([]byte, bool, error) {
	listPH, _ := makeListKey(ListNSB, listKey)
	_, itemKeyFull := makeItemKey(listPH, itemKey)
	raw, ok, err := e.sub.GetRaw(itemKeyFull)
	if err != nil {
		return nil, false, wrapSubstrateErr("get_from_list", err)
	}
	if !ok {
		return nil, false, nil
	}
	userVal, _ := splitItemValueB(raw)
	return append([]byte(nil), userVal...), true, nil
}

// RemoveFromList removes item_key, leaving a hole if it was not at the
// head or tail of the span.
func (e *EngineB) RemoveFromList(listKey, itemKey []byte) ([]byte, bool, error) {
	listPH, listKeyFull := makeListKey(ListNSB, listKey)
	_, itemKeyFull := makeItemKey(listPH, itemKey)

	unlock := e.locks.lock(listPH)
	defer unlock()

	raw, ok, err := e.sub.GetRaw(itemKeyFull)
	if err != nil {
		return nil, false, wrapSubstrateErr("remove_from_list", err)
	}
	if !ok {
		return nil, false, nil
	}
	userVal, idx := splitItemValueB(raw)

	descRaw, descOK, err := e.sub.GetRaw(listKeyFull)
	if err != nil {
		return nil, false, wrapSubstrateErr("remove_from_list", err)
	}
	if descOK {
		desc := listHeadBFromBytes(descRaw)
		desc.NumItems--
		switch {
		case desc.HeadIdx == idx:
			desc.HeadIdx++
		case desc.TailIdx == idx+1:
			desc.TailIdx--
		}
		if desc.isEmpty() {
			if _, _, err := e.sub.RemoveRaw(listKeyFull); err != nil {
				return nil, false, wrapSubstrateErr("remove_from_list", err)
			}
		} else {
			if _, _, err := e.sub.SetRaw(listKeyFull, desc.Bytes()); err != nil {
				return nil, false, wrapSubstrateErr("remove_from_list", err)
			}
		}
	}

	if _, _, err := e.sub.RemoveRaw(chainKey(listPH, idx)); err != nil {
		return nil, false, wrapSubstrateErr("remove_from_list", err)
	}
	if _, _, err := e.sub.RemoveRaw(itemKeyFull); err != nil {
		return nil, false, wrapSubstrateErr("remove_from_list", err)
	}
	return append([]byte(nil), userVal...), true, nil
}

// ListLen returns the estimated list length.
func (e *EngineB) ListLen(listKey []byte) (int, error) {
	_, listKeyFull := makeListKey(ListNSB, listKey)
	raw, ok, err := e.sub.GetRaw(listKeyFull)
	if err != nil {
		return 0, wrapSubstrateErr("list_len", err)
	}
	if !ok {
		return 0, nil
	}
	return int(listHeadBFromBytes(raw).NumItems), nil
}

// DiscardList removes every item in list_key and the descriptor itself.
func (e *EngineB) DiscardList(listKey []byte) (bool, error) {
	listPH, listKeyFull := makeListKey(ListNSB, listKey)
	unlock := e.locks.lock(listPH)
	defer unlock()

	descRaw, ok, err := e.sub.GetRaw(listKeyFull)
	if err != nil {
		return false, wrapSubstrateErr("discard_list", err)
	}
	if !ok {
		return false, nil
	}
	desc := listHeadBFromBytes(descRaw)

	for idx := desc.HeadIdx; idx < desc.TailIdx; idx++ {
		fullKey, _, _, gerr := e.getAtIndex(listPH, idx)
		if gerr != nil {
			return false, gerr
		}
		if fullKey == nil {
			continue
		}
		if _, _, err := e.sub.RemoveRaw(chainKey(listPH, idx)); err != nil {
			return false, wrapSubstrateErr("discard_list", err)
		}
		if _, _, err := e.sub.RemoveRaw(fullKey); err != nil {
			return false, wrapSubstrateErr("discard_list", err)
		}
	}
	if _, _, err := e.sub.RemoveRaw(listKeyFull); err != nil {
		return false, wrapSubstrateErr("discard_list", err)
	}
	return true, nil
}

// CompactListIfNeeded rewrites the list to eliminate holes if the span is
// at least params.MinLength long and at least params.MinHolesRatio of it
// is holes. Returns whether compaction ran. Not crash-safe.
func (e *EngineB) CompactListIfNeeded(listKey []byte, params ListCompactionParams) (bool, error) {
	listPH, listKeyFull := makeListKey(ListNSB, listKey)
	unlock := e.locks.lock(listPH)
	defer unlock()

	descRaw, ok, err := e.sub.GetRaw(listKeyFull)
	if err != nil {
		return false, wrapSubstrateErr("compact_list_if_needed", err)
	}
	if !ok {
		return false, nil
	}
	desc := listHeadBFromBytes(descRaw)
	if desc.spanLen() < params.MinLength {
		return false, nil
	}
	if float64(desc.holes()) < float64(desc.spanLen())*params.MinHolesRatio {
		return false, nil
	}

	newIdx := desc.TailIdx
	for idx := desc.HeadIdx; idx < desc.TailIdx; idx++ {
		fullKey, fullVal, itemPH, gerr := e.getAtIndex(listPH, idx)
		if gerr != nil {
			return false, gerr
		}
		if fullKey == nil {
			continue
		}

		if _, _, err := e.sub.SetRaw(chainKey(listPH, newIdx), itemPH.AppendBytes(nil)); err != nil {
			return false, wrapSubstrateErr("compact_list_if_needed", err)
		}

		offset := len(fullVal) - linkSuffixBSize
		newVal := append([]byte(nil), fullVal...)
		copy(newVal[offset:], appendUint64LE(nil, newIdx))
		if _, _, err := e.sub.SetRaw(fullKey, newVal); err != nil {
			return false, wrapSubstrateErr("compact_list_if_needed", err)
		}

		if _, _, err := e.sub.RemoveRaw(chainKey(listPH, idx)); err != nil {
			return false, wrapSubstrateErr("compact_list_if_needed", err)
		}
		newIdx++
	}

	if desc.TailIdx == newIdx {
		if _, _, err := e.sub.RemoveRaw(listKeyFull); err != nil {
			return false, wrapSubstrateErr("compact_list_if_needed", err)
		}
	} else {
		newDesc := listHeadB{HeadIdx: desc.TailIdx, TailIdx: newIdx, NumItems: newIdx - desc.TailIdx}
		if _, _, err := e.sub.SetRaw(listKeyFull, newDesc.Bytes()); err != nil {
			return false, wrapSubstrateErr("compact_list_if_needed", err)
		}
	}
	return true, nil
}

// RetainInList keeps only the elements for which pred returns true,
// compacting away holes as a side effect. Holds the list lock for the
// whole walk; not crash-safe.
func (e *EngineB) RetainInList(listKey []byte, pred func(itemKey, value []byte) (bool, error)) error {
	listPH, listKeyFull := makeListKey(ListNSB, listKey)
	unlock := e.locks.lock(listPH)
	defer unlock()

	descRaw, ok, err := e.sub.GetRaw(listKeyFull)
	if err != nil {
		return wrapSubstrateErr("retain_in_list", err)
	}
	if !ok {
		return nil
	}
	desc := listHeadBFromBytes(descRaw)
	origHead, origTail := desc.HeadIdx, desc.TailIdx

	for idx := origHead; idx < origTail; idx++ {
		desc.HeadIdx = idx + 1
		fullKey, fullVal, itemPH, gerr := e.getAtIndex(listPH, idx)
		if gerr != nil {
			return gerr
		}
		if fullKey == nil {
			continue
		}
		userVal, _ := splitItemValueB(fullVal)
		itemKey := fullKey[:len(fullKey)-itemKeySuffixLen]

		if _, _, err := e.sub.RemoveRaw(chainKey(listPH, idx)); err != nil {
			return wrapSubstrateErr("retain_in_list", err)
		}

		keep, perr := pred(itemKey, userVal)
		if perr != nil {
			return perr
		}
		if keep {
			tailIdx := desc.TailIdx
			desc.TailIdx++
			if _, _, err := e.sub.SetRaw(chainKey(listPH, tailIdx), itemPH.AppendBytes(nil)); err != nil {
				return wrapSubstrateErr("retain_in_list", err)
			}
			newVal := append(append([]byte(nil), userVal...), appendUint64LE(nil, tailIdx)...)
			if _, _, err := e.sub.SetRaw(fullKey, newVal); err != nil {
				return wrapSubstrateErr("retain_in_list", err)
			}
		} else {
			desc.NumItems--
			if _, _, err := e.sub.RemoveRaw(fullKey); err != nil {
				return wrapSubstrateErr("retain_in_list", err)
			}
		}
	}

	if desc.isEmpty() {
		if _, _, err := e.sub.RemoveRaw(listKeyFull); err != nil {
			return wrapSubstrateErr("retain_in_list", err)
		}
	} else {
		if _, _, err := e.sub.SetRaw(listKeyFull, desc.Bytes()); err != nil {
			return wrapSubstrateErr("retain_in_list", err)
		}
	}
	return nil
}
