// Package router implements candystore.Substrate as a rendezvous-hash
// router over several backend substrates, the way a production deployment
// would shard across multiple Redis instances instead of trusting one.
// Routing uses dgryski/go-rendezvous.
package router

import (
	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"github.com/whalevietnamese/candystore"
)

// nodeHash is the rendezvous.Hasher, applied to backend names and lookup
// keys alike: xxhash, the same hashing primitive used for PH fingerprints
// elsewhere in this module, rather than a second hash family.
func nodeHash(s string) uint64 {
	return xxhash.Sum64String(s)
}

// Backend pairs a named candystore.Substrate with the routing table.
type Backend struct {
	Name string
	Sub  candystore.Substrate
}

// Router is a candystore.Substrate that routes every key to exactly one
// backend by rendezvous hashing on the full storage key, and fans
// GetByHash out to every backend. The fan-out is what keeps fingerprint
// resolution correct: a PH is derived from a key the router never sees
// at GetByHash time, so the owning backend cannot be recomputed and
// every backend is a legitimate source.
type Router struct {
	names    []string
	backends map[string]candystore.Substrate
	rdv      *rendezvous.Rendezvous
}

// New builds a Router over backends. Panics if backends is empty or
// contains a duplicate name.
func New(backends []Backend) *Router {
	if len(backends) == 0 {
		panic("candystore/router: at least one backend is required")
	}
	names := make([]string, 0, len(backends))
	byName := make(map[string]candystore.Substrate, len(backends))
	for _, b := range backends {
		if _, dup := byName[b.Name]; dup {
			panic("candystore/router: duplicate backend name " + b.Name)
		}
		byName[b.Name] = b.Sub
		names = append(names, b.Name)
	}
	return &Router{
		names:    names,
		backends: byName,
		rdv:      rendezvous.New(names, nodeHash),
	}
}

func (r *Router) pick(k []byte) candystore.Substrate {
	name := r.rdv.Lookup(string(k))
	return r.backends[name]
}

func (r *Router) GetRaw(k []byte) ([]byte, bool, error) {
	return r.pick(k).GetRaw(k)
}

func (r *Router) SetRaw(k, v []byte) ([]byte, bool, error) {
	return r.pick(k).SetRaw(k, v)
}

func (r *Router) GetOrCreateRaw(k, vDefault []byte) ([]byte, bool, error) {
	return r.pick(k).GetOrCreateRaw(k, vDefault)
}

func (r *Router) ReplaceRaw(k, v []byte) ([]byte, bool, error) {
	return r.pick(k).ReplaceRaw(k, v)
}

func (r *Router) ModifyInPlaceRaw(k, patch []byte, offset int, expectedOld []byte) (bool, bool, error) {
	return r.pick(k).ModifyInPlaceRaw(k, patch, offset, expectedOld)
}

func (r *Router) RemoveRaw(k []byte) ([]byte, bool, error) {
	return r.pick(k).RemoveRaw(k)
}

// GetByHash fans out to every backend and merges the results: a
// fingerprint collision means any backend holding a row with that
// fingerprint is a legitimate source, regardless of which backend that
// row's own key would route to.
func (r *Router) GetByHash(ph candystore.PH) ([]candystore.KV, error) {
	var out []candystore.KV
	for _, name := range r.names {
		rows, err := r.backends[name].GetByHash(ph)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}
