package candystore

// Substrate is the KV substrate contract the list engine depends on. It
// is the only collaborator the engines talk to; the underlying
// shard/hash-addressed file format, compaction, and hashing-seed
// configuration live entirely behind this interface.
//
// All keys and values are opaque byte strings already carrying their
// namespace tag; Substrate never interprets them.
type Substrate interface {
	// GetRaw returns the current value for k, or ok=false if absent.
	GetRaw(k []byte) (value []byte, ok bool, err error)

	// SetRaw blindly stores v at k, returning the value that was there
	// before the write (if any).
	SetRaw(k, v []byte) (prev []byte, created bool, err error)

	// GetOrCreateRaw stores vDefault at k iff k is absent, otherwise
	// leaves the existing value untouched. The observed value (freshly
	// created or pre-existing) is always returned.
	GetOrCreateRaw(k, vDefault []byte) (value []byte, created bool, err error)

	// ReplaceRaw stores v at k iff k is already present; it never
	// creates. existed reports whether the row was present (and thus
	// replaced).
	ReplaceRaw(k, v []byte) (prev []byte, existed bool, err error)

	// ModifyInPlaceRaw compare-and-sets the byte range [offset,
	// offset+len(expectedOld)) of the value stored at k: if that range
	// currently equals expectedOld, it is overwritten with patch and
	// replaced=true; otherwise the value is left untouched and
	// replaced=false. Returns exists=false if k does not exist at all.
	ModifyInPlaceRaw(k, patch []byte, offset int, expectedOld []byte) (replaced bool, exists bool, err error)

	// RemoveRaw deletes k, returning the value it held (if any).
	RemoveRaw(k []byte) (prev []byte, existed bool, err error)

	// GetByHash returns every row whose storage key fingerprints to ph.
	// Used to resolve a PH found in a link suffix or chain row back to
	// its owning row without knowing the row's full key.
	GetByHash(ph PH) ([]KV, error)
}

// KV is a single row as returned by Substrate.GetByHash.
type KV struct {
	Key   []byte
	Value []byte
}
