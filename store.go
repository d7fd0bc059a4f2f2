package candystore

import "go.uber.org/zap"

// Store wires a Substrate and a per-list lock table into the two list
// engines. It owns no storage of its own — MemorySubstrate or a
// substrate/redis-backed implementation sits behind Substrate — and it is
// safe for concurrent use by multiple goroutines: mutations of one list
// are serialized by the per-list lock, while lookups and iteration run
// without it and can observe a mutation that is still in progress.
type Store struct {
	sub   Substrate
	locks *lockTable
	log   *zap.Logger
	engA  *EngineA
	engB  *EngineB
}

// Option configures a Store at construction time.
type Option func(*storeConfig)

type storeConfig struct {
	sub    Substrate
	shards int
	log    *zap.Logger
}

// WithSubstrate overrides the default in-process MemorySubstrate, e.g.
// with a substrate/redis or substrate/router backend.
func WithSubstrate(sub Substrate) Option {
	return func(c *storeConfig) { c.sub = sub }
}

// WithLockShards sets the per-list lock table size (rounded up to a power
// of two). Defaults to 256.
func WithLockShards(shards int) Option {
	return func(c *storeConfig) { c.shards = shards }
}

// WithLogger attaches a *zap.Logger for corruption warnings. Defaults to
// zap.NewNop(): an absent logger is a valid, silent choice, not a
// configuration error.
func WithLogger(log *zap.Logger) Option {
	return func(c *storeConfig) { c.log = log }
}

// New constructs a Store. With no options it uses an in-process
// MemorySubstrate, 256 lock shards, and a no-op logger.
func New(opts ...Option) *Store {
	cfg := storeConfig{shards: defaultLockShards}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sub == nil {
		cfg.sub = NewMemorySubstrate(cfg.shards)
	}
	if cfg.log == nil {
		cfg.log = zap.NewNop()
	}

	locks := newLockTable(cfg.shards)
	return &Store{
		sub:   cfg.sub,
		locks: locks,
		log:   cfg.log,
		engA:  newEngineA(cfg.sub, locks, cfg.log),
		engB:  newEngineB(cfg.sub, locks, cfg.log),
	}
}

// ListsA returns the pointer-chained (Variant A) list engine. Prefer it
// for lists with frequent head/tail churn and no need for positional
// access or compaction.
func (s *Store) ListsA() *EngineA { return s.engA }

// ListsB returns the index-chained (Variant B) list engine. Prefer it for
// lists needing retain/compaction or where holes left by removal are an
// acceptable tradeoff for simpler bookkeeping.
func (s *Store) ListsB() *EngineB { return s.engB }

// Substrate exposes the underlying KV substrate for callers that need
// direct raw access alongside the list engines (e.g. storing a list's own
// metadata row under the same keyspace).
func (s *Store) Substrate() Substrate { return s.sub }
