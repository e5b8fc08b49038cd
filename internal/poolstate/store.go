// Package poolstate implements the Pool State Store (component B, §4.B):
// a single-writer, many-reader cache of the latest known reserves per
// pool, with bounded memory via LRU eviction. Grounded on the teacher's
// blockhash cache (internal/blockchain/blockhash.go) for the
// atomic-pointer-swap-under-lock shape, and on stadam23-Eve-flipper's
// order cache (internal/esi/order_cache.go) for singleflight-coalesced
// cold rebuilds so a burst of readers for an evicted pool triggers one
// rebuild, not N.
package poolstate

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"dexabsorption/internal/domain"

	"golang.org/x/sync/singleflight"
)

// Rebuilder reconstructs a pool's latest snapshot when it has been
// evicted from the in-memory cache (e.g. after a long gap between
// swaps), backed by the chain client.
type Rebuilder interface {
	RebuildPoolState(ctx context.Context, poolAddress string) (domain.PoolStateSnapshot, error)
}

type entry struct {
	pool string
	ptr  atomic.Pointer[domain.PoolStateSnapshot]
}

// Store caches the latest PoolStateSnapshot per pool address.
// Readers call Get without blocking writers; Update is the only write
// path, called by the pipeline's event loop and by Get's rebuild path.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*list.Element // pool -> LRU element
	order    *list.List               // front = most recently used
	capacity int

	rebuilder Rebuilder
	group     singleflight.Group
}

// NewStore creates a store bounded to capacity distinct pools.
func NewStore(capacity int, rebuilder Rebuilder) *Store {
	if capacity <= 0 {
		capacity = 5000
	}
	return &Store{
		entries:   make(map[string]*list.Element),
		order:     list.New(),
		capacity:  capacity,
		rebuilder: rebuilder,
	}
}

// Update records a newly observed snapshot for a pool, rejecting one
// that is older (lower slot) than what's cached, and rejecting
// non-positive reserves per the constant-product invariant (§3).
func (s *Store) Update(snap domain.PoolStateSnapshot) error {
	if snap.ReserveBase <= 0 || snap.ReserveToken <= 0 {
		return domain.ErrZeroReserves
	}

	s.mu.Lock()
	el, ok := s.entries[snap.PoolAddress]
	if !ok {
		e := &entry{pool: snap.PoolAddress}
		el = s.order.PushFront(e)
		s.entries[snap.PoolAddress] = el
		s.evictLocked()
	} else {
		s.order.MoveToFront(el)
	}
	e := el.Value.(*entry)
	s.mu.Unlock()

	for {
		cur := e.ptr.Load()
		if cur != nil && cur.Slot > snap.Slot {
			return nil // stale update, ignore
		}
		if e.ptr.CompareAndSwap(cur, &snap) {
			return nil
		}
	}
}

func (s *Store) evictLocked() {
	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			return
		}
		e := oldest.Value.(*entry)
		delete(s.entries, e.pool)
		s.order.Remove(oldest)
	}
}

// Get returns the cached snapshot for pool, rebuilding (coalesced via
// singleflight) if it has been evicted or never seen. Returns
// domain.ErrZeroReserves if no rebuilder is configured and
// the pool is unknown (replay mode: always present from the dataset, no
// rebuilder needed).
func (s *Store) Get(ctx context.Context, poolAddress string) (domain.PoolStateSnapshot, error) {
	s.mu.Lock()
	el, ok := s.entries[poolAddress]
	if ok {
		s.order.MoveToFront(el)
	}
	s.mu.Unlock()

	if ok {
		e := el.Value.(*entry)
		if snap := e.ptr.Load(); snap != nil {
			return *snap, nil
		}
	}

	if s.rebuilder == nil {
		return domain.PoolStateSnapshot{}, domain.ErrZeroReserves
	}

	v, err, _ := s.group.Do(poolAddress, func() (interface{}, error) {
		snap, err := s.rebuilder.RebuildPoolState(ctx, poolAddress)
		if err != nil {
			return domain.PoolStateSnapshot{}, err
		}
		if updateErr := s.Update(snap); updateErr != nil {
			return domain.PoolStateSnapshot{}, updateErr
		}
		return snap, nil
	})
	if err != nil {
		return domain.PoolStateSnapshot{}, err
	}
	return v.(domain.PoolStateSnapshot), nil
}

// Len reports the number of distinct pools currently cached, for
// telemetry.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
