// Package cache implements the prefix-KV cache: a store of previously
// computed KV-cache snapshots keyed by request fingerprint, so a new
// request sharing a system prompt and message history with a prior one
// can skip recomputing the shared prefill.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/allaspectsdev/mlxd/internal/model"
)

// Snapshot is a reference-counted handle on a cached KV prefix. Callers
// that look one up via Manager.Lookup must call Release when done with
// it; the underlying cache state is only eligible for reuse-by-mutation
// once its refcount drops to zero, since a Clone() may still be
// structurally sharing tensors with it.
type Snapshot struct {
	Cache       model.KVCache
	Tokens      int // number of tokens represented by this cache
	Fingerprint string
	createdAt   time.Time
	expiresAt   time.Time
	refcount    int32
}

func (s *Snapshot) expired() bool { return time.Now().After(s.expiresAt) }

// Retain increments the snapshot's reference count and returns it, for
// callers that hand the same handle to more than one place.
func (s *Snapshot) Retain() *Snapshot {
	atomic.AddInt32(&s.refcount, 1)
	return s
}

// Release decrements the reference count. It is safe to call exactly
// once per Lookup/Retain call that returned this snapshot.
func (s *Snapshot) Release() {
	atomic.AddInt32(&s.refcount, -1)
}

func (s *Snapshot) inUse() bool { return atomic.LoadInt32(&s.refcount) > 0 }

// Store is the optional persistence interface for the fingerprint index
// (token counts and hit statistics), not for KV tensors themselves,
// which are never persisted (spec: no mandatory persisted state). A
// nil Store means the manager runs purely in memory.
type Store interface {
	UpsertFingerprint(hash string, tokenCount int) error
	GetFingerprint(hash string) (tokenCount int, hitCount int, err error)
}

// Manager owns the prefix-KV snapshot store and the single-writer
// generation slot that serializes access to the model.
type Manager struct {
	snapshots *ristretto.Cache[string, *Snapshot]
	store     Store
	ttl       time.Duration

	// genSlot bounds concurrent calls into the model's forward pass.
	// Capacity 1 unless the runtime configures batching; see
	// AcquireSlot.
	genSlot *semaphore.Weighted

	// inflight tracks fingerprints currently being prefilled, so that
	// at most one prefill runs per fingerprint even when two identical
	// requests race in before either has stored a snapshot: the second
	// waits on the first's channel instead of also running a full
	// prefill.
	inflightMu sync.Mutex
	inflight   map[string]chan struct{}
}

// Config controls Manager construction.
type Config struct {
	// MaxTokens bounds the total number of tokens retained across all
	// cached snapshots; Ristretto's cost-aware eviction uses token
	// count as the cost unit.
	MaxTokens int64
	TTL       time.Duration
	// GenerationSlots bounds concurrent forward-pass callers. 1 unless
	// the model runtime explicitly supports batched decoding.
	GenerationSlots int64
	Store           Store
}

// NewManager constructs a Manager. A zero Config.GenerationSlots is
// treated as 1.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.GenerationSlots <= 0 {
		cfg.GenerationSlots = 1
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}

	snapshots, err := ristretto.NewCache(&ristretto.Config[string, *Snapshot]{
		NumCounters: 1e5,
		MaxCost:     cfg.MaxTokens,
		BufferItems: 64,
		Metrics:     true,
		OnEvict: func(item *ristretto.Item[*Snapshot]) {
			if item.Value != nil {
				item.Value.Release()
			}
		},
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		snapshots: snapshots,
		store:     cfg.Store,
		ttl:       cfg.TTL,
		genSlot:   semaphore.NewWeighted(cfg.GenerationSlots),
		inflight:  make(map[string]chan struct{}),
	}, nil
}

// Lookup returns the cached snapshot for fingerprint, retaining a
// reference the caller must Release. Expired entries are treated as a
// miss and evicted.
func (m *Manager) Lookup(fingerprint string) (*Snapshot, bool) {
	snap, ok := m.snapshots.Get(fingerprint)
	if !ok {
		return nil, false
	}
	if snap.expired() {
		m.snapshots.Del(fingerprint)
		return nil, false
	}
	return snap.Retain(), true
}

// ClaimOrWait resolves the identical-concurrent-request race: if fingerprint is
// already cached it returns the snapshot directly (a retained reference
// the caller must Release). If another caller is currently prefilling
// the same fingerprint, it blocks until that prefill finishes and then
// re-checks the cache, so the waiter reports a hit with cached_tokens >
// 0 instead of redundantly running its own prefill. Otherwise it claims
// the fingerprint itself and returns a release function the caller must
// invoke exactly once, as soon as its own prefill (not full generation)
// completes, win or lose.
func (m *Manager) ClaimOrWait(ctx context.Context, fingerprint string) (*Snapshot, func(), error) {
	for {
		if snap, ok := m.Lookup(fingerprint); ok {
			return snap, nil, nil
		}

		m.inflightMu.Lock()
		if ch, busy := m.inflight[fingerprint]; busy {
			m.inflightMu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
		ch := make(chan struct{})
		m.inflight[fingerprint] = ch
		m.inflightMu.Unlock()

		var once sync.Once
		release := func() {
			once.Do(func() {
				m.inflightMu.Lock()
				delete(m.inflight, fingerprint)
				m.inflightMu.Unlock()
				close(ch)
			})
		}
		return nil, release, nil
	}
}

// Store inserts (or replaces) the snapshot for fingerprint. The cache
// produced by a live generation is cloned before being stored, so the
// caller's own in-flight cache object remains independently mutable.
func (m *Manager) Store(fingerprint string, kv model.KVCache, tokens int) {
	snap := &Snapshot{
		Cache:       kv.Clone(),
		Tokens:      tokens,
		Fingerprint: fingerprint,
		createdAt:   time.Now(),
		expiresAt:   time.Now().Add(m.ttl),
		refcount:    1,
	}
	m.snapshots.SetWithTTL(fingerprint, snap, int64(tokens), m.ttl)
	m.snapshots.Wait()

	if m.store != nil {
		if err := m.store.UpsertFingerprint(fingerprint, tokens); err != nil {
			log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("cache: persist fingerprint index failed")
		}
	}
}

// AcquireSlot blocks until a generation slot is free or ctx is
// cancelled, returning a release function that must be called exactly
// once.
func (m *Manager) AcquireSlot(ctx context.Context) (func(), error) {
	if err := m.genSlot.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { m.genSlot.Release(1) }, nil
}

// StartPurger starts a background goroutine that periodically reports
// cache occupancy. Ristretto evicts expired/over-cost entries lazily (at
// Get/Set time) rather than via a scan, so there is no explicit sweep of
// the in-memory tier here; this goroutine's job is observability, not
// eviction itself. It does not prune the persisted fingerprint index in
// the Store. It runs until ctx is cancelled; the returned channel closes
// when the goroutine exits.
func (m *Manager) StartPurger(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Error().Interface("panic", r).Msg("cache purger: recovered from panic")
						}
					}()
					m.reportMetrics()
				}()
			}
		}
	}()
	return done
}

// reportMetrics logs a snapshot of cache hit/miss/eviction counters,
// giving an operator visibility into prefix-cache effectiveness without
// needing the full /metrics scrape.
func (m *Manager) reportMetrics() {
	metrics := m.snapshots.Metrics
	if metrics == nil {
		return
	}
	log.Debug().
		Uint64("hits", metrics.Hits()).
		Uint64("misses", metrics.Misses()).
		Uint64("keys_evicted", metrics.KeysEvicted()).
		Msg("cache: prefix snapshot store stats")
}

// Close releases the underlying cache's background workers.
func (m *Manager) Close() {
	m.snapshots.Close()
}
