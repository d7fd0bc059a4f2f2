package candystore

import (
	"crypto/rand"
	"fmt"

	"go.uber.org/zap"
)

// EngineA is the pointer-chained list engine: a doubly linked list of
// items superimposed on the flat Substrate, using PH fingerprints instead
// of full keys inside the prev/next link suffixes.
type EngineA struct {
	sub   Substrate
	locks *lockTable
	log   *zap.Logger
}

func newEngineA(sub Substrate, locks *lockTable, log *zap.Logger) *EngineA {
	return &EngineA{sub: sub, locks: locks, log: log}
}

// corruption builds a CorruptionError and logs it at Warn before
// returning, so a host's centralized log sink observes structural
// violations even if the caller only inspects the returned error.
func (e *EngineA) corruption(op, format string, args ...interface{}) error {
	err := newCorruption(op, format, args...)
	e.log.Warn("list corruption detected", zap.String("op", op), zap.Error(err))
	return err
}

// resolveByPH looks up the single item row whose storage key fingerprints
// to itemPH and belongs to list listPH, via Substrate.GetByHash filtered
// by the list‖ITEM_NS suffix.
func (e *EngineA) resolveByPH(listPH, itemPH PH) (fullKey, value []byte, err error) {
	if !itemPH.IsValid() {
		return nil, nil, nil
	}
	rows, err := e.sub.GetByHash(itemPH)
	if err != nil {
		return nil, nil, wrapSubstrateErr("resolve_by_ph", err)
	}
	suffix := listPH.AppendBytes(make([]byte, 0, itemKeySuffixLen))
	suffix = append(suffix, ItemNS)
	for _, row := range rows {
		if len(row.Key) >= len(suffix) && bytesHasSuffix(row.Key, suffix) {
			return row.Key, row.Value, nil
		}
	}
	return nil, nil, nil
}

func bytesHasSuffix(b, suffix []byte) bool {
	if len(b) < len(suffix) {
		return false
	}
	off := len(b) - len(suffix)
	for i := range suffix {
		if b[off+i] != suffix[i] {
			return false
		}
	}
	return true
}

// findTrueTail walks forward from the descriptor's tail hint until it
// reaches the unique item with next=INVALID, absorbing up to one step of
// staleness left by a crash between linking the new tail and advancing
// the descriptor. A walk step that lands on a missing row means the
// crash happened between linking the old tail forward and writing the
// new item: the previous node is the true tail, with a dangling next
// that the caller's CAS overwrites. Only a missing row at the hint
// itself is a corruption.
func (e *EngineA) findTrueTail(listPH, tailHint PH) (tailPH PH, fullKey, value []byte, suffix linkSuffixA, err error) {
	cur := tailHint
	var prevPH PH
	var prevKey, prevVal []byte
	var prevSuffix linkSuffixA
	for {
		fk, v, rerr := e.resolveByPH(listPH, cur)
		if rerr != nil {
			return PH{}, nil, nil, linkSuffixA{}, rerr
		}
		if fk == nil {
			if prevKey == nil {
				return PH{}, nil, nil, linkSuffixA{}, e.corruption("find_true_tail", "tail hint %+v resolves to a missing row", cur)
			}
			return prevPH, prevKey, prevVal, prevSuffix, nil
		}
		_, s := splitItemValueA(v)
		if !s.Next.IsValid() {
			return cur, fk, v, s, nil
		}
		prevPH, prevKey, prevVal, prevSuffix = cur, fk, v, s
		cur = s.Next
	}
}

func (e *EngineA) insert(listKey, itemKey, value []byte, mode InsertMode) (created bool, resultVal []byte, existed bool, err error) {
	listPH, listKeyFull := makeListKey(ListNS, listKey)
	itemPH, itemKeyFull := makeItemKey(listPH, itemKey)

	unlock := e.locks.lock(listPH)
	defer unlock()

	existingRaw, ok, gerr := e.sub.GetRaw(itemKeyFull)
	if gerr != nil {
		return false, nil, false, wrapSubstrateErr("insert", gerr)
	}
	if ok {
		userVal, suffix := splitItemValueA(existingRaw)
		switch mode {
		case ModeGetOrCreate:
			return false, append([]byte(nil), userVal...), true, nil
		case ModeReplace, ModeSet:
			newRaw := append(append([]byte(nil), value...), suffix.Bytes()...)
			prev, replaced, rerr := e.sub.ReplaceRaw(itemKeyFull, newRaw)
			if rerr != nil {
				return false, nil, false, wrapSubstrateErr("insert", rerr)
			}
			if !replaced {
				return false, nil, false, e.corruption("insert", "item %x vanished between read and replace", itemKeyFull)
			}
			prevUser, _ := splitItemValueA(prev)
			return false, append([]byte(nil), prevUser...), true, nil
		}
	}

	if mode == ModeReplace {
		return false, nil, false, nil // DoesNotExist
	}

	descDefault := listHeadA{Tail: itemPH, Head: itemPH}.Bytes()
	observed, createdDesc, gerr := e.sub.GetOrCreateRaw(listKeyFull, descDefault)
	if gerr != nil {
		return false, nil, false, wrapSubstrateErr("insert", gerr)
	}

	if createdDesc {
		newItemRaw := append(append([]byte(nil), value...), (linkSuffixA{Prev: InvalidPH, Next: InvalidPH}).Bytes()...)
		_, itemCreated, serr := e.sub.SetRaw(itemKeyFull, newItemRaw)
		if serr != nil {
			return false, nil, false, wrapSubstrateErr("insert", serr)
		}
		if !itemCreated {
			return false, nil, false, e.corruption("insert", "item row %x already existed on first insert into list %x", itemKeyFull, listKeyFull)
		}
		return true, append([]byte(nil), value...), false, nil
	}

	desc := listHeadAFromBytes(observed)
	trueTailPH, trueTailFull, trueTailVal, trueTailSuffix, ferr := e.findTrueTail(listPH, desc.Tail)
	if ferr != nil {
		return false, nil, false, ferr
	}

	newTailSuffix := linkSuffixA{Prev: trueTailSuffix.Prev, Next: itemPH}
	offset := len(trueTailVal) - linkSuffixASize
	replaced, exists, merr := e.sub.ModifyInPlaceRaw(trueTailFull, newTailSuffix.Bytes(), offset, trueTailSuffix.Bytes())
	if merr != nil {
		return false, nil, false, wrapSubstrateErr("insert", merr)
	}
	if !exists || !replaced {
		return false, nil, false, e.corruption("insert", "failed to link true tail %+v forward to new item %+v", trueTailPH, itemPH)
	}

	newItemSuffix := linkSuffixA{Prev: trueTailPH, Next: InvalidPH}
	newItemRaw := append(append([]byte(nil), value...), newItemSuffix.Bytes()...)
	_, itemCreated, serr := e.sub.SetRaw(itemKeyFull, newItemRaw)
	if serr != nil {
		return false, nil, false, wrapSubstrateErr("insert", serr)
	}
	if !itemCreated {
		return false, nil, false, e.corruption("insert", "item row %x already existed on append into list %x", itemKeyFull, listKeyFull)
	}

	newDesc := listHeadA{Head: desc.Head, Tail: itemPH}
	replacedDesc, existsDesc, merr := e.sub.ModifyInPlaceRaw(listKeyFull, newDesc.Bytes(), 0, observed)
	if merr != nil {
		return false, nil, false, wrapSubstrateErr("insert", merr)
	}
	if !existsDesc || !replacedDesc {
		return false, nil, false, e.corruption("insert", "failed to advance descriptor tail for list %x to %+v", listKeyFull, itemPH)
	}

	return true, append([]byte(nil), value...), false, nil
}

// SetInList inserts or updates item_key in list_key, preserving position
// on overwrite.
func (e *EngineA) SetInList(listKey, itemKey, value []byte) (SetStatus, error) {
	created, val, existed, err := e.insert(listKey, itemKey, value, ModeSet)
	if err != nil {
		return SetStatus{}, err
	}
	if created {
		return SetStatus{CreatedNew: true}, nil
	}
	_ = existed
	return SetStatus{CreatedNew: false, Prev: val}, nil
}

// ReplaceInList updates item_key only if it already exists.
func (e *EngineA) ReplaceInList(listKey, itemKey, value []byte) (ReplaceStatus, error) {
	created, val, existed, err := e.insert(listKey, itemKey, value, ModeReplace)
	if err != nil {
		return ReplaceStatus{}, err
	}
	if created {
		// insert() never reports created=true for ModeReplace.
		return ReplaceStatus{}, e.corruption("replace_in_list", "unexpected creation during replace")
	}
	if !existed {
		return ReplaceStatus{Existed: false}, nil
	}
	return ReplaceStatus{Existed: true, Prev: val}, nil
}

// GetOrCreateInList creates item_key with defaultVal iff absent.
func (e *EngineA) GetOrCreateInList(listKey, itemKey, defaultVal []byte) (GetOrCreateStatus, error) {
	created, val, _, err := e.insert(listKey, itemKey, defaultVal, ModeGetOrCreate)
	if err != nil {
		return GetOrCreateStatus{}, err
	}
	return GetOrCreateStatus{CreatedNew: created, Value: val}, nil
}

// GetFromList is an O(1) lookup that runs without the list mutex.
func (e *EngineA) GetFromList(listKey, itemKey []byte) ([]byte, bool, error) {
	listPH, _ := makeListKey(ListNS, listKey)
	_, itemKeyFull := makeItemKey(listPH, itemKey)
	raw, ok, err := e.sub.GetRaw(itemKeyFull)
	if err != nil {
		return nil, false, wrapSubstrateErr("get_from_list", err)
	}
	if !ok {
		return nil, false, nil
	}
	userVal, _ := splitItemValueA(raw)
	return append([]byte(nil), userVal...), true, nil
}

// RemoveFromList removes item_key from list_key.
func (e *EngineA) RemoveFromList(listKey, itemKey []byte) ([]byte, bool, error) {
	listPH, listKeyFull := makeListKey(ListNS, listKey)
	itemPH, itemKeyFull := makeItemKey(listPH, itemKey)

	unlock := e.locks.lock(listPH)
	defer unlock()

	raw, ok, err := e.sub.GetRaw(itemKeyFull)
	if err != nil {
		return nil, false, wrapSubstrateErr("remove_from_list", err)
	}
	if !ok {
		return nil, false, nil
	}
	userVal, suffix := splitItemValueA(raw)

	descRaw, descOK, err := e.sub.GetRaw(listKeyFull)
	if err != nil {
		return nil, false, wrapSubstrateErr("remove_from_list", err)
	}
	if !descOK {
		// List was destroyed mid-removal; just clean up this row.
		if _, _, err := e.sub.RemoveRaw(itemKeyFull); err != nil {
			return nil, false, wrapSubstrateErr("remove_from_list", err)
		}
		return append([]byte(nil), userVal...), true, nil
	}
	desc := listHeadAFromBytes(descRaw)

	if err := e.removeLocked(listPH, listKeyFull, itemPH, itemKeyFull, desc, suffix); err != nil {
		return nil, false, err
	}
	return append([]byte(nil), userVal...), true, nil
}

// removeLocked performs the classify-and-splice removal of item (itemPH,
// at itemKeyFull with suffix already known) from a list whose descriptor
// (already confirmed present) is desc. Caller must hold the list lock.
func (e *EngineA) removeLocked(listPH PH, listKeyFull []byte, itemPH PH, itemKeyFull []byte, desc listHeadA, suffix linkSuffixA) error {
	switch {
	case desc.Head == itemPH && desc.Tail == itemPH:
		if _, _, err := e.sub.RemoveRaw(listKeyFull); err != nil {
			return wrapSubstrateErr("remove", err)
		}
		if _, _, err := e.sub.RemoveRaw(itemKeyFull); err != nil {
			return wrapSubstrateErr("remove", err)
		}
		return nil

	case desc.Head == itemPH || !suffix.Prev.IsValid():
		nextPH := suffix.Next
		nextFull, nextVal, err := e.resolveByPH(listPH, nextPH)
		if err != nil {
			return err
		}
		if nextFull == nil {
			return e.corruption("remove_head", "next %+v of head %+v is missing", nextPH, itemPH)
		}
		newDesc := listHeadA{Head: nextPH, Tail: desc.Tail}
		replaced, exists, merr := e.sub.ModifyInPlaceRaw(listKeyFull, newDesc.Bytes(), 0, desc.Bytes())
		if merr != nil {
			return wrapSubstrateErr("remove_head", merr)
		}
		if !exists || !replaced {
			return e.corruption("remove_head", "failed to advance descriptor head past %+v", itemPH)
		}
		_, nextSuffix := splitItemValueA(nextVal)
		newNextSuffix := linkSuffixA{Prev: InvalidPH, Next: nextSuffix.Next}
		offset := len(nextVal) - linkSuffixASize
		replaced2, exists2, merr2 := e.sub.ModifyInPlaceRaw(nextFull, newNextSuffix.Bytes(), offset, nextSuffix.Bytes())
		if merr2 != nil {
			return wrapSubstrateErr("remove_head", merr2)
		}
		if !exists2 || !replaced2 {
			return e.corruption("remove_head", "failed to clear prev of new head %+v", nextPH)
		}
		if _, _, err := e.sub.RemoveRaw(itemKeyFull); err != nil {
			return wrapSubstrateErr("remove_head", err)
		}
		return nil

	case desc.Tail == itemPH || !suffix.Next.IsValid():
		prevPH := suffix.Prev
		prevFull, prevVal, err := e.resolveByPH(listPH, prevPH)
		if err != nil {
			return err
		}
		if prevFull == nil {
			return e.corruption("remove_tail", "prev %+v of tail %+v is missing", prevPH, itemPH)
		}
		newDesc := listHeadA{Head: desc.Head, Tail: prevPH}
		replaced, exists, merr := e.sub.ModifyInPlaceRaw(listKeyFull, newDesc.Bytes(), 0, desc.Bytes())
		if merr != nil {
			return wrapSubstrateErr("remove_tail", merr)
		}
		if !exists || !replaced {
			return e.corruption("remove_tail", "failed to retreat descriptor tail past %+v", itemPH)
		}
		_, prevSuffix := splitItemValueA(prevVal)
		newPrevSuffix := linkSuffixA{Prev: prevSuffix.Prev, Next: InvalidPH}
		offset := len(prevVal) - linkSuffixASize
		replaced2, exists2, merr2 := e.sub.ModifyInPlaceRaw(prevFull, newPrevSuffix.Bytes(), offset, prevSuffix.Bytes())
		if merr2 != nil {
			return wrapSubstrateErr("remove_tail", merr2)
		}
		if !exists2 || !replaced2 {
			return e.corruption("remove_tail", "failed to clear next of new tail %+v", prevPH)
		}
		if _, _, err := e.sub.RemoveRaw(itemKeyFull); err != nil {
			return wrapSubstrateErr("remove_tail", err)
		}
		return nil

	default:
		prevFull, prevVal, err := e.resolveByPH(listPH, suffix.Prev)
		if err != nil {
			return err
		}
		nextFull, nextVal, err := e.resolveByPH(listPH, suffix.Next)
		if err != nil {
			return err
		}
		if prevFull != nil {
			_, prevSuffix := splitItemValueA(prevVal)
			if prevSuffix.Next == itemPH {
				newPrevSuffix := linkSuffixA{Prev: prevSuffix.Prev, Next: suffix.Next}
				offset := len(prevVal) - linkSuffixASize
				replaced, exists, merr := e.sub.ModifyInPlaceRaw(prevFull, newPrevSuffix.Bytes(), offset, prevSuffix.Bytes())
				if merr != nil {
					return wrapSubstrateErr("remove_middle", merr)
				}
				if !exists || !replaced {
					return e.corruption("remove_middle", "failed to splice prev neighbor of %+v", itemPH)
				}
			}
		}
		if nextFull != nil {
			_, nextSuffix := splitItemValueA(nextVal)
			if nextSuffix.Prev == itemPH {
				newNextSuffix := linkSuffixA{Prev: suffix.Prev, Next: nextSuffix.Next}
				offset := len(nextVal) - linkSuffixASize
				replaced, exists, merr := e.sub.ModifyInPlaceRaw(nextFull, newNextSuffix.Bytes(), offset, nextSuffix.Bytes())
				if merr != nil {
					return wrapSubstrateErr("remove_middle", merr)
				}
				if !exists || !replaced {
					return e.corruption("remove_middle", "failed to splice next neighbor of %+v", itemPH)
				}
			}
		}
		if _, _, err := e.sub.RemoveRaw(itemKeyFull); err != nil {
			return wrapSubstrateErr("remove_middle", err)
		}
		return nil
	}
}

// DiscardList removes every item in list_key and the descriptor itself.
// Safe to call on a structurally damaged list.
func (e *EngineA) DiscardList(listKey []byte) (bool, error) {
	listPH, listKeyFull := makeListKey(ListNS, listKey)
	unlock := e.locks.lock(listPH)
	defer unlock()

	descRaw, ok, err := e.sub.GetRaw(listKeyFull)
	if err != nil {
		return false, wrapSubstrateErr("discard_list", err)
	}
	if !ok {
		return false, nil
	}
	desc := listHeadAFromBytes(descRaw)

	cur := desc.Head
	seen := 0
	for cur.IsValid() {
		fullKey, val, rerr := e.resolveByPH(listPH, cur)
		if rerr != nil {
			return false, rerr
		}
		if fullKey == nil {
			break // tolerate a structurally damaged list
		}
		_, suffix := splitItemValueA(val)
		if _, _, err := e.sub.RemoveRaw(fullKey); err != nil {
			return false, wrapSubstrateErr("discard_list", err)
		}
		cur = suffix.Next
		seen++
		if seen > maxDiscardSteps {
			return false, e.corruption("discard_list", "cycle detected while discarding list %x", listKeyFull)
		}
	}
	if _, _, err := e.sub.RemoveRaw(listKeyFull); err != nil {
		return false, wrapSubstrateErr("discard_list", err)
	}
	return true, nil
}

// maxDiscardSteps bounds the forward walk in DiscardList so a corrupted
// cyclic chain cannot spin forever instead of surfacing as a corruption.
const maxDiscardSteps = 1 << 32

// PushToList appends value under a fresh, randomly generated 16-byte item
// key and returns that key.
func (e *EngineA) PushToList(listKey, value []byte) ([]byte, error) {
	itemKey := make([]byte, 16)
	if _, err := rand.Read(itemKey); err != nil {
		return nil, fmt.Errorf("candystore: generating push_to_list item key: %w", err)
	}
	if _, _, _, err := e.insert(listKey, itemKey, value, ModeSet); err != nil {
		return nil, err
	}
	return itemKey, nil
}

// PeekListHead returns the first element without taking the list lock; it
// may race with a concurrent pop.
func (e *EngineA) PeekListHead(listKey []byte) ([]byte, []byte, bool, error) {
	return e.peek(listKey, true)
}

// PeekListTail returns the last element without taking the list lock.
func (e *EngineA) PeekListTail(listKey []byte) ([]byte, []byte, bool, error) {
	return e.peek(listKey, false)
}

func (e *EngineA) peek(listKey []byte, fwd bool) ([]byte, []byte, bool, error) {
	it := e.Iter(listKey, fwd)
	res, ok, err := it.Next()
	if err != nil || !ok || res.Missing {
		return nil, nil, false, err
	}
	return res.Key, res.Value, true, nil
}

