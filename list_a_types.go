package candystore

// InsertMode selects set_in_list/replace_in_list/get_or_create_in_list
// behavior for the shared insert primitive.
type InsertMode int

const (
	ModeSet InsertMode = iota
	ModeReplace
	ModeGetOrCreate
)

// SetStatus is the result of set_in_list / set_in_list_promoting.
type SetStatus struct {
	CreatedNew bool
	Prev       []byte // valid iff !CreatedNew
}

// ReplaceStatus is the result of replace_in_list.
type ReplaceStatus struct {
	Existed   bool // false => DoesNotExist
	WrongVal  bool // true => the expected-value guard rejected the call (Variant B only)
	Prev      []byte
	Current   []byte // populated alongside WrongVal: the value actually stored
}

// GetOrCreateStatus is the result of get_or_create_in_list.
type GetOrCreateStatus struct {
	CreatedNew bool
	Value      []byte // the newly created value, or the pre-existing one
}

// listHeadA is the Variant A list descriptor: tail ‖ head, each an 8-byte
// packed PH.
type listHeadA struct {
	Tail PH
	Head PH
}

func (h listHeadA) Bytes() []byte {
	b := make([]byte, 0, 16)
	b = h.Tail.AppendBytes(b)
	b = h.Head.AppendBytes(b)
	return b
}

func listHeadAFromBytes(b []byte) listHeadA {
	return listHeadA{
		Tail: PHFromBytes(b[0:8]),
		Head: PHFromBytes(b[8:16]),
	}
}

const listHeadASize = 16

// linkSuffixA is the Variant A per-item link suffix: prev ‖ next, each an
// 8-byte packed PH.
type linkSuffixA struct {
	Prev PH
	Next PH
}

func (s linkSuffixA) Bytes() []byte {
	b := make([]byte, 0, 16)
	b = s.Prev.AppendBytes(b)
	b = s.Next.AppendBytes(b)
	return b
}

func linkSuffixAFromBytes(b []byte) linkSuffixA {
	return linkSuffixA{
		Prev: PHFromBytes(b[0:8]),
		Next: PHFromBytes(b[8:16]),
	}
}

const linkSuffixASize = 16

func splitItemValueA(raw []byte) (userVal []byte, suffix linkSuffixA) {
	n := len(raw) - linkSuffixASize
	return raw[:n], linkSuffixAFromBytes(raw[n:])
}
