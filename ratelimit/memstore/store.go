package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/lexguard/ratelimit"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	defaultShards        = 32
	defaultMaxKeys       = 100_000
	defaultIdleTTL       = time.Minute
	defaultSweepInterval = 30 * time.Second
)

// Config tunes a [Store]. Zero fields take defaults.
type Config struct {
	// Shards is the number of independently locked partitions.
	Shards int
	// MaxKeys caps tracked identifiers across all shards. When a shard is
	// full its least recently used identifier is dropped only if none of its
	// timestamps fall inside the longest window seen. Otherwise the new
	// identifier is rejected until room frees up.
	MaxKeys int
	// IdleTTL is how long an identifier may go without activity before a
	// sweep removes it. The effective value is never below the longest
	// window the store has been asked about.
	IdleTTL time.Duration
	// SweepInterval is the janitor period used by [Store.Start].
	SweepInterval time.Duration
}

// Store is an in-process [ratelimit.Store].
type Store struct {
	cfg    Config
	shards []*shard

	maxWindow  atomic.Int64
	evictions  atomic.Uint64
	rejections atomic.Uint64

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type shard struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *window]
	capacity int
	// quiet is set while the shard removes entries on purpose so the
	// eviction callback only counts capacity evictions.
	quiet bool
}

type window struct {
	stamps   []int64
	lastSeen int64
}

var _ ratelimit.Store = (*Store)(nil)

// New creates a store. It panics only if cfg produces an invalid LRU size,
// which normalization prevents.
func New(cfg Config) *Store {
	cfg = normalize(cfg)

	s := &Store{
		cfg:    cfg,
		shards: make([]*shard, cfg.Shards),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	perShard := (cfg.MaxKeys + cfg.Shards - 1) / cfg.Shards
	for i := range s.shards {
		sh := &shard{capacity: perShard}
		lru, err := simplelru.NewLRU[string, *window](perShard, func(string, *window) {
			if !sh.quiet {
				s.evictions.Add(1)
			}
		})
		if err != nil {
			panic("memstore: " + err.Error())
		}
		sh.lru = lru
		s.shards[i] = sh
	}
	return s
}

func normalize(cfg Config) Config {
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxKeys
	}
	if cfg.MaxKeys < cfg.Shards {
		cfg.Shards = cfg.MaxKeys
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return cfg
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

func (s *Store) Admit(_ context.Context, key string, now time.Time, limit int, win time.Duration) (ratelimit.Window, error) {
	if limit <= 0 || win <= 0 {
		return ratelimit.Window{}, ratelimit.ErrInvalidPolicy
	}
	s.observeWindow(win)

	nowNano := now.UnixNano()
	cut := now.Add(-win).UnixNano()

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.lru.Get(key)
	if !ok {
		if !sh.makeRoom(nowNano - s.maxWindow.Load()) {
			s.rejections.Add(1)
			return ratelimit.Window{Count: limit, Oldest: now}, nil
		}
		w = &window{stamps: make([]int64, 0, min(limit, 16))}
		sh.lru.Add(key, w)
	}
	w.prune(cut)
	w.lastSeen = nowNano

	if len(w.stamps) >= limit {
		return w.snapshot(false), nil
	}

	w.stamps = append(w.stamps, nowNano)
	return w.snapshot(true), nil
}

// makeRoom evicts least recently used identifiers while the shard is full and
// the oldest one has nothing newer than cut. It reports whether a new
// identifier fits. The caller holds sh.mu.
func (sh *shard) makeRoom(cut int64) bool {
	for sh.lru.Len() >= sh.capacity {
		_, w, ok := sh.lru.GetOldest()
		if !ok {
			return true
		}
		if w.newest() > cut {
			return false
		}
		sh.lru.RemoveOldest()
	}
	return true
}

func (s *Store) Peek(_ context.Context, key string, now time.Time, win time.Duration) (ratelimit.Window, error) {
	if win <= 0 {
		return ratelimit.Window{}, ratelimit.ErrInvalidPolicy
	}
	cut := now.Add(-win).UnixNano()

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.lru.Peek(key)
	if !ok {
		return ratelimit.Window{}, nil
	}

	var out ratelimit.Window
	for _, ts := range w.stamps {
		if ts <= cut {
			continue
		}
		if out.Count == 0 || ts < out.Oldest.UnixNano() {
			out.Oldest = time.Unix(0, ts)
		}
		out.Count++
	}
	return out, nil
}

func (s *Store) Reset(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.quiet = true
	sh.lru.Remove(key)
	sh.quiet = false
	return nil
}

// Sweep removes identifiers idle for longer than the effective idle TTL and
// returns how many were removed. Removing them never changes a decision:
// all their timestamps are already outside every window seen so far.
func (s *Store) Sweep(now time.Time) int {
	cut := now.Add(-s.IdleTTL()).UnixNano()
	removed := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.quiet = true
		for {
			_, w, ok := sh.lru.GetOldest()
			if !ok || w.lastSeen > cut {
				break
			}
			sh.lru.RemoveOldest()
			removed++
		}
		sh.quiet = false
		sh.mu.Unlock()
	}

	return removed
}

// IdleTTL returns the effective idle TTL.
func (s *Store) IdleTTL() time.Duration {
	if longest := time.Duration(s.maxWindow.Load()); longest > s.cfg.IdleTTL {
		return longest
	}
	return s.cfg.IdleTTL
}

// Len returns the number of tracked identifiers.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += sh.lru.Len()
		sh.mu.Unlock()
	}
	return n
}

// Evictions returns how many identifiers were dropped for capacity.
func (s *Store) Evictions() uint64 {
	return s.evictions.Load()
}

// Rejections returns how many requests were refused because their shard was
// full of identifiers with live windows.
func (s *Store) Rejections() uint64 {
	return s.rejections.Load()
}

// Start launches the background sweeper. It stops when ctx is done or
// [Store.Close] is called. Calling Start more than once has no effect.
func (s *Store) Start(ctx context.Context, clock ratelimit.Clock) {
	if clock == nil {
		clock = ratelimit.SystemClock
	}
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep(clock.Now())
			}
		}
	}()
}

// Close stops the sweeper started by [Store.Start] and waits for it.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
	return nil
}

func (s *Store) observeWindow(win time.Duration) {
	for {
		cur := s.maxWindow.Load()
		if int64(win) <= cur || s.maxWindow.CompareAndSwap(cur, int64(win)) {
			return
		}
	}
}

func (w *window) prune(cut int64) {
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts > cut {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept
}

func (w *window) newest() int64 {
	var n int64
	for i, ts := range w.stamps {
		if i == 0 || ts > n {
			n = ts
		}
	}
	return n
}

func (w *window) snapshot(admitted bool) ratelimit.Window {
	out := ratelimit.Window{Admitted: admitted, Count: len(w.stamps)}
	if len(w.stamps) == 0 {
		return out
	}
	oldest := w.stamps[0]
	for _, ts := range w.stamps[1:] {
		if ts < oldest {
			oldest = ts
		}
	}
	out.Oldest = time.Unix(0, oldest)
	return out
}
