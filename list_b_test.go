package candystore

import (
	"bytes"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func newTestEngineB() *EngineB {
	return newEngineB(NewMemorySubstrate(4), newLockTable(4), zap.NewNop())
}

func TestEngineBSetAndGet(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")

	status, err := e.SetInList(listKey, []byte("a"), []byte("1"))
	if err != nil || !status.CreatedNew {
		t.Fatalf("first SetInList: %+v err=%v", status, err)
	}

	v, ok, err := e.GetFromList(listKey, []byte("a"))
	if err != nil || !ok || !bytes.Equal(v, []byte("1")) {
		t.Fatalf("GetFromList: v=%q ok=%v err=%v", v, ok, err)
	}

	status, err = e.SetInList(listKey, []byte("a"), []byte("2"))
	if err != nil || status.CreatedNew || !bytes.Equal(status.Prev, []byte("1")) {
		t.Fatalf("overwrite: %+v err=%v", status, err)
	}

	n, err := e.ListLen(listKey)
	if err != nil || n != 1 {
		t.Fatalf("ListLen: n=%d err=%v", n, err)
	}
}

func TestEngineBReplaceInListWrongValueGuard(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")
	if _, err := e.SetInList(listKey, []byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}

	status, err := e.ReplaceInList(listKey, []byte("a"), []byte("2"), []byte("wrong"), true)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Existed || !status.WrongVal || !bytes.Equal(status.Current, []byte("1")) {
		t.Fatalf("expected WrongVal guard to reject, got %+v", status)
	}
	v, _, _ := e.GetFromList(listKey, []byte("a"))
	if !bytes.Equal(v, []byte("1")) {
		t.Fatalf("value should be unchanged after guard rejection, got %q", v)
	}

	status, err = e.ReplaceInList(listKey, []byte("a"), []byte("2"), []byte("1"), true)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Existed || status.WrongVal || !bytes.Equal(status.Prev, []byte("1")) {
		t.Fatalf("expected correctly-guarded replace to succeed, got %+v", status)
	}
	v, _, _ = e.GetFromList(listKey, []byte("a"))
	if !bytes.Equal(v, []byte("2")) {
		t.Fatalf("value should be updated after guarded replace, got %q", v)
	}
}

func TestEngineBReplaceInListDoesNotExist(t *testing.T) {
	e := newTestEngineB()
	status, err := e.ReplaceInList([]byte("mylist"), []byte("missing"), []byte("v"), nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if status.Existed {
		t.Fatalf("expected Existed=false, got %+v", status)
	}
}

func TestEngineBGetOrCreateInList(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")

	status, err := e.GetOrCreateInList(listKey, []byte("a"), []byte("default"))
	if err != nil || !status.CreatedNew || !bytes.Equal(status.Value, []byte("default")) {
		t.Fatalf("first GetOrCreateInList: %+v err=%v", status, err)
	}
	status, err = e.GetOrCreateInList(listKey, []byte("a"), []byte("ignored"))
	if err != nil || status.CreatedNew || !bytes.Equal(status.Value, []byte("default")) {
		t.Fatalf("second GetOrCreateInList: %+v err=%v", status, err)
	}
}

func TestEngineBRemoveLeavesHoleAndIterationSkipsIt(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")
	for _, k := range []string{"a", "b", "c", "d"} {
		if _, err := e.SetInList(listKey, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	if _, ok, err := e.RemoveFromList(listKey, []byte("b")); err != nil || !ok {
		t.Fatalf("remove middle: ok=%v err=%v", ok, err)
	}

	n, err := e.ListLen(listKey)
	if err != nil || n != 3 {
		t.Fatalf("ListLen after middle removal: n=%d err=%v", n, err)
	}

	var got []string
	it := e.Iter(listKey, true)
	for {
		res, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, string(res.Key))
	}
	want := []string{"a", "c", "d"}
	if !equalStrings(got, want) {
		t.Fatalf("iteration skipping hole = %v, want %v", got, want)
	}
}

func TestEngineBSingleElementThenEmptyIteration(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")
	if _, err := e.SetInList(listKey, []byte("only"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := e.RemoveFromList(listKey, []byte("only")); err != nil || !ok {
		t.Fatalf("remove only element: ok=%v err=%v", ok, err)
	}

	it := e.Iter(listKey, true)
	_, ok, err := it.Next()
	if err != nil || ok {
		t.Fatalf("iterating a list with no descriptor: ok=%v err=%v", ok, err)
	}

	n, err := e.ListLen(listKey)
	if err != nil || n != 0 {
		t.Fatalf("ListLen on discarded descriptor: n=%d err=%v", n, err)
	}
}

func TestEngineBCompactListIfNeeded(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")
	for i := 0; i < 8; i++ {
		k := []byte{byte('a' + i)}
		if _, err := e.SetInList(listKey, k, k); err != nil {
			t.Fatal(err)
		}
	}
	// Remove interior elements (neither the current head nor tail) so
	// they leave holes instead of simply retracting head_idx/tail_idx.
	for _, k := range []string{"b", "d", "f"} {
		if _, _, err := e.RemoveFromList(listKey, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	params := ListCompactionParams{MinLength: 4, MinHolesRatio: 0.1}
	compacted, err := e.CompactListIfNeeded(listKey, params)
	if err != nil || !compacted {
		t.Fatalf("expected compaction to run: compacted=%v err=%v", compacted, err)
	}

	n, err := e.ListLen(listKey)
	if err != nil || n != 5 {
		t.Fatalf("ListLen after compaction: n=%d err=%v", n, err)
	}

	var got []string
	it := e.Iter(listKey, true)
	for {
		res, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, string(res.Key))
	}
	want := []string{"a", "c", "e", "g", "h"}
	if !equalStrings(got, want) {
		t.Fatalf("post-compaction order = %v, want %v", got, want)
	}

	// A no-op compaction (nothing left to reclaim) should not shrink the
	// list further or change its reported length.
	compacted, err = e.CompactListIfNeeded(listKey, params)
	if err != nil || compacted {
		t.Fatalf("expected no-op (no holes left to reclaim): compacted=%v err=%v", compacted, err)
	}
	n, err = e.ListLen(listKey)
	if err != nil || n != 5 {
		t.Fatalf("ListLen after no-op compaction: n=%d err=%v", n, err)
	}
}

func TestEngineBRetainInList(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")
	for i := 0; i < 6; i++ {
		k := []byte{byte('a' + i)}
		if _, err := e.SetInList(listKey, k, k); err != nil {
			t.Fatal(err)
		}
	}

	err := e.RetainInList(listKey, func(itemKey, value []byte) (bool, error) {
		return (itemKey[0]-'a')%2 == 0, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	it := e.Iter(listKey, true)
	for {
		res, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, string(res.Key))
	}
	want := []string{"a", "c", "e"}
	if !equalStrings(got, want) {
		t.Fatalf("RetainInList result = %v, want %v", got, want)
	}
}

func TestEngineBRetainInListWithPreexistingHole(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")
	for _, k := range []string{"a", "b", "c", "d"} {
		if _, err := e.SetInList(listKey, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	// "b" is already a hole (not head, not tail) before RetainInList runs.
	if _, ok, err := e.RemoveFromList(listKey, []byte("b")); err != nil || !ok {
		t.Fatalf("remove b: ok=%v err=%v", ok, err)
	}

	err := e.RetainInList(listKey, func(itemKey, value []byte) (bool, error) {
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	it := e.Iter(listKey, true)
	for {
		res, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, string(res.Key))
	}
	// The hole must not resurrect as a retained element: only the three
	// live items survive, in order, with no gap in the rewritten span.
	want := []string{"a", "c", "d"}
	if !equalStrings(got, want) {
		t.Fatalf("retain over a preexisting hole = %v, want %v", got, want)
	}
	n, err := e.ListLen(listKey)
	if err != nil || n != 3 {
		t.Fatalf("ListLen after retain over a hole: n=%d err=%v", n, err)
	}
}

func TestEngineBListLenUnchangedAfterDeclinedCompaction(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")
	for _, k := range []string{"a", "b", "c"} {
		if _, err := e.SetInList(listKey, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := e.RemoveFromList(listKey, []byte("b")); err != nil {
		t.Fatal(err)
	}

	before, err := e.ListLen(listKey)
	if err != nil {
		t.Fatal(err)
	}

	// MinLength is far above this list's span, so compaction must decline.
	compacted, err := e.CompactListIfNeeded(listKey, ListCompactionParams{MinLength: 100, MinHolesRatio: 0.1})
	if err != nil || compacted {
		t.Fatalf("expected compaction to decline below MinLength: compacted=%v err=%v", compacted, err)
	}

	after, err := e.ListLen(listKey)
	if err != nil || after != before {
		t.Fatalf("ListLen changed across a declined compaction: before=%d after=%d err=%v", before, after, err)
	}
}

func TestEngineBPeekAndPop(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("queue")
	for _, k := range []string{"a", "b", "c"} {
		if _, err := e.SetInList(listKey, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	key, val, ok, err := e.PeekListHead(listKey)
	if err != nil || !ok || string(key) != "a" || !bytes.Equal(val, []byte("a")) {
		t.Fatalf("PeekListHead: key=%q val=%q ok=%v err=%v", key, val, ok, err)
	}

	key, val, ok, err = e.PopListHead(listKey)
	if err != nil || !ok || string(key) != "a" {
		t.Fatalf("PopListHead: key=%q val=%q ok=%v err=%v", key, val, ok, err)
	}
	key, val, ok, err = e.PopListTail(listKey)
	if err != nil || !ok || string(key) != "c" {
		t.Fatalf("PopListTail: key=%q val=%q ok=%v err=%v", key, val, ok, err)
	}

	n, err := e.ListLen(listKey)
	if err != nil || n != 1 {
		t.Fatalf("ListLen after popping both ends: n=%d err=%v", n, err)
	}
}

func TestEngineBSetInListPromoting(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("lru")
	for _, k := range []string{"a", "b", "c"} {
		if _, err := e.SetInList(listKey, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := e.SetInListPromoting(listKey, []byte("a"), []byte("a-promoted")); err != nil {
		t.Fatal(err)
	}

	var got []string
	it := e.Iter(listKey, true)
	for {
		res, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, string(res.Key))
	}
	want := []string{"b", "c", "a"}
	if !equalStrings(got, want) {
		t.Fatalf("order after promoting a = %v, want %v", got, want)
	}
	v, ok, err := e.GetFromList(listKey, []byte("a"))
	if err != nil || !ok || !bytes.Equal(v, []byte("a-promoted")) {
		t.Fatalf("promoted value: v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestEngineBDiscardList(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")
	for _, k := range []string{"a", "b", "c"} {
		if _, err := e.SetInList(listKey, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	existed, err := e.DiscardList(listKey)
	if err != nil || !existed {
		t.Fatalf("DiscardList: existed=%v err=%v", existed, err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if _, ok, err := e.GetFromList(listKey, []byte(k)); err != nil || ok {
			t.Fatalf("item %q should be gone after discard: ok=%v err=%v", k, ok, err)
		}
	}
	n, err := e.ListLen(listKey)
	if err != nil || n != 0 {
		t.Fatalf("ListLen on discarded list: n=%d err=%v", n, err)
	}
}

func TestEngineBPopSkipsHoleAtBoundary(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")
	for _, k := range []string{"a", "b", "c", "d"} {
		if _, err := e.SetInList(listKey, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	// "b" is a middle hole at removal time (neither head nor tail).
	if _, ok, err := e.RemoveFromList(listKey, []byte("b")); err != nil || !ok {
		t.Fatalf("remove middle: ok=%v err=%v", ok, err)
	}
	// Removing "a" (the head) only advances head_idx by one step, which
	// now lands exactly on "b"'s already-vacant slot: pop must walk past
	// it rather than treating it as live or as end-of-list.
	if _, ok, err := e.RemoveFromList(listKey, []byte("a")); err != nil || !ok {
		t.Fatalf("remove head: ok=%v err=%v", ok, err)
	}

	key, val, ok, err := e.PeekListHead(listKey)
	if err != nil || !ok || string(key) != "c" || !bytes.Equal(val, []byte("c")) {
		t.Fatalf("PeekListHead should skip the hole left at head_idx: key=%q val=%q ok=%v err=%v", key, val, ok, err)
	}

	key, val, ok, err = e.PopListHead(listKey)
	if err != nil || !ok || string(key) != "c" {
		t.Fatalf("PopListHead should skip the hole and return c: key=%q val=%q ok=%v err=%v", key, val, ok, err)
	}
	n, err := e.ListLen(listKey)
	if err != nil || n != 1 {
		t.Fatalf("ListLen after popping through a boundary hole: n=%d err=%v", n, err)
	}

	key, val, ok, err = e.PopListTail(listKey)
	if err != nil || !ok || string(key) != "d" {
		t.Fatalf("PopListTail should return the last remaining element d: key=%q val=%q ok=%v err=%v", key, val, ok, err)
	}
	if _, _, ok, err := e.PopListHead(listKey); err != nil || ok {
		t.Fatalf("list should be empty now: ok=%v err=%v", ok, err)
	}
}

func TestEngineBNamespaceIsolation(t *testing.T) {
	e := newTestEngineB()
	if _, err := e.SetInList([]byte("list-one"), []byte("shared"), []byte("from-one")); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SetInList([]byte("list-two"), []byte("shared"), []byte("from-two")); err != nil {
		t.Fatal(err)
	}
	v1, ok, err := e.GetFromList([]byte("list-one"), []byte("shared"))
	if err != nil || !ok || !bytes.Equal(v1, []byte("from-one")) {
		t.Fatalf("list-one: v=%q ok=%v err=%v", v1, ok, err)
	}
	v2, ok, err := e.GetFromList([]byte("list-two"), []byte("shared"))
	if err != nil || !ok || !bytes.Equal(v2, []byte("from-two")) {
		t.Fatalf("list-two: v=%q ok=%v err=%v", v2, ok, err)
	}
}

func TestEngineBBackwardIterationSkipsHoles(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")
	for _, k := range []string{"a", "b", "c", "d"} {
		if _, err := e.SetInList(listKey, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok, err := e.RemoveFromList(listKey, []byte("c")); err != nil || !ok {
		t.Fatalf("remove middle: ok=%v err=%v", ok, err)
	}

	var got []string
	it := e.Iter(listKey, false)
	for {
		res, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, string(res.Key))
	}
	want := []string{"d", "b", "a"}
	if !equalStrings(got, want) {
		t.Fatalf("backward iteration over a hole = %v, want %v", got, want)
	}
}

func TestEngineBOverwriteKeepsPosition(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")
	for _, k := range []string{"a", "b", "c"} {
		if _, err := e.SetInList(listKey, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.SetInList(listKey, []byte("b"), []byte("b2")); err != nil {
		t.Fatal(err)
	}

	var gotKeys, gotVals []string
	it := e.Iter(listKey, true)
	for {
		res, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		gotKeys = append(gotKeys, string(res.Key))
		gotVals = append(gotVals, string(res.Value))
	}
	if !equalStrings(gotKeys, []string{"a", "b", "c"}) || !equalStrings(gotVals, []string{"a", "b2", "c"}) {
		t.Fatalf("overwrite must not reorder: keys=%v vals=%v", gotKeys, gotVals)
	}
}

func TestEngineBConcurrentSetsSerialize(t *testing.T) {
	e := newTestEngineB()
	listKey := []byte("mylist")

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := []byte{byte(i)}
			if _, err := e.SetInList(listKey, k, k); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	count, err := e.ListLen(listKey)
	if err != nil || count != n {
		t.Fatalf("ListLen after %d concurrent inserts: n=%d err=%v", n, count, err)
	}
	seen := make(map[byte]bool, n)
	it := e.Iter(listKey, true)
	for {
		res, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		if len(res.Key) != 1 || seen[res.Key[0]] {
			t.Fatalf("duplicate or malformed key %x in iteration", res.Key)
		}
		seen[res.Key[0]] = true
	}
	if len(seen) != n {
		t.Fatalf("iteration found %d of %d concurrently inserted items", len(seen), n)
	}
}
