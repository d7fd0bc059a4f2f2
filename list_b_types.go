package candystore

// firstListIdx is the starting index for a freshly created Variant B
// list, chosen at mid-range (2^63) so compaction can always append toward
// higher indices without wraparound.
const firstListIdx uint64 = 1 << 63

// listHeadB is the Variant B list descriptor: head_idx ‖ tail_idx ‖
// num_items, three little-endian u64s.
type listHeadB struct {
	HeadIdx  uint64
	TailIdx  uint64
	NumItems uint64
}

const listHeadBSize = 24

func (h listHeadB) Bytes() []byte {
	b := make([]byte, 0, listHeadBSize)
	b = appendUint64LE(b, h.HeadIdx)
	b = appendUint64LE(b, h.TailIdx)
	b = appendUint64LE(b, h.NumItems)
	return b
}

func listHeadBFromBytes(b []byte) listHeadB {
	return listHeadB{
		HeadIdx:  uint64LE(b[0:8]),
		TailIdx:  uint64LE(b[8:16]),
		NumItems: uint64LE(b[16:24]),
	}
}

func (h listHeadB) spanLen() uint64 { return h.TailIdx - h.HeadIdx }
func (h listHeadB) holes() uint64   { return h.spanLen() - h.NumItems }
func (h listHeadB) isEmpty() bool   { return h.HeadIdx == h.TailIdx }

// linkSuffixB is the Variant B per-item link suffix: the item's current
// positional index, 8 bytes little-endian.
const linkSuffixBSize = 8

func splitItemValueB(raw []byte) (userVal []byte, idx uint64) {
	n := len(raw) - linkSuffixBSize
	return raw[:n], uint64LE(raw[n:])
}

// ListCompactionParams controls CompactListIfNeeded.
type ListCompactionParams struct {
	MinLength     uint64
	MinHolesRatio float64
}

// DefaultListCompactionParams compacts once a list reaches 100 slots with
// at least a quarter of them holes.
func DefaultListCompactionParams() ListCompactionParams {
	return ListCompactionParams{MinLength: 100, MinHolesRatio: 0.25}
}
