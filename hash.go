package candystore

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// PH is a 64-bit fingerprint of a byte key, split into a routing signature
// and a partition component. It is a fixed-size 8-byte stand-in for a
// variable-length key, used inside link suffixes and chain rows so those
// rows never have to store a full key.
type PH struct {
	Signature uint32
	Partition uint32
}

// InvalidPH is the PH zero value, used as the end-of-list sentinel in
// Variant A link suffixes.
var InvalidPH = PH{}

// IsValid reports whether h is not the end-of-list sentinel.
func (h PH) IsValid() bool { return h != InvalidPH }

// HashPH computes the fingerprint of a storage key (already namespaced,
// i.e. with its trailing namespace tag appended).
func HashPH(key []byte) PH {
	sum := xxhash.Sum64(key)
	return PH{
		Signature: uint32(sum),
		Partition: uint32(sum >> 32),
	}
}

// Bytes returns the 8-byte little-endian packed encoding of h: two
// little-endian u32 fields, signature followed by partition.
func (h PH) Bytes() [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:4], h.Signature)
	binary.LittleEndian.PutUint32(b[4:8], h.Partition)
	return b
}

// AppendBytes appends the packed encoding of h to dst and returns the
// extended slice.
func (h PH) AppendBytes(dst []byte) []byte {
	b := h.Bytes()
	return append(dst, b[:]...)
}

// PHFromBytes decodes a packed PH from its 8-byte little-endian encoding.
// It panics if b is shorter than 8 bytes, matching the corpus' "packed
// struct read" idiom where a short row is itself a corruption signal
// the caller is expected to have already ruled out.
func PHFromBytes(b []byte) PH {
	return PH{
		Signature: binary.LittleEndian.Uint32(b[0:4]),
		Partition: binary.LittleEndian.Uint32(b[4:8]),
	}
}

const phSize = 8
