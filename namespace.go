package candystore

// Namespace tags partition the shared KV substrate's flat keyspace into
// list-descriptor, item, and chain-pointer rows. The values below (see
// DESIGN.md) are high, mutually distinct single bytes unlikely to collide
// with an application's own key suffixes.
const (
	ListNS  byte = 0xfd // Variant A list descriptor
	ItemNS  byte = 0xfe
	ChainNS byte = 0xff
	TypedNS byte = 0xfc // reserved for an external typed-wrapper collaborator; unused here.

	// ListNSB is the Variant B list descriptor's own namespace tag,
	// distinct from ListNS. A Store exposes both engines over the same
	// Substrate; without a separate tag here, EngineA and EngineB would
	// derive the identical descriptor storage key for the same list_key
	// and silently interpret each other's descriptor bytes.
	ListNSB byte = 0xfb
)

// makeListKey appends tag (ListNS for Variant A, ListNSB for Variant B)
// to a caller-supplied list key and returns both the storage key and its
// fingerprint.
func makeListKey(tag byte, listKey []byte) (PH, []byte) {
	k := append(append([]byte{}, listKey...), tag)
	return HashPH(k), k
}

// makeItemKey builds the storage key for an item row: item_key ‖ PH(list
// storage key) ‖ ITEM_NS. Embedding the list's PH lets the same item_key
// live independently in different lists.
func makeItemKey(listPH PH, itemKey []byte) (PH, []byte) {
	k := make([]byte, 0, len(itemKey)+phSize+1)
	k = append(k, itemKey...)
	k = listPH.AppendBytes(k)
	k = append(k, ItemNS)
	return HashPH(k), k
}

// itemKeySuffixLen is the length of the list_ph‖ITEM_NS suffix appended to
// every item's storage key, used to strip storage keys back down to the
// caller-facing item_key after a get_by_hash lookup.
const itemKeySuffixLen = phSize + 1

// chainKey packs {list_ph, idx, CHAIN_NS} into the 17-byte chain row key
// (Variant B only).
func chainKey(listPH PH, idx uint64) []byte {
	k := make([]byte, 0, phSize+8+1)
	k = listPH.AppendBytes(k)
	k = appendUint64LE(k, idx)
	k = append(k, ChainNS)
	return k
}

func appendUint64LE(dst []byte, v uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return append(dst, b[:]...)
}

func uint64LE(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
