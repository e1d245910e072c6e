package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultEvictionGrace is how long a disconnected driver's location stays cached.
const DefaultEvictionGrace = 5 * time.Minute

var evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tracking_cache_evictions_total",
	Help: "Driver cache evictions by outcome.",
}, []string{"outcome"})

type pendingEviction struct {
	timer   *time.Timer
	gen     uint64
	version uint64
}

// Evictor runs one cancellable eviction timer per driver against a MemoryCache.
// A timer only deletes the entry it saw when it was armed; any later Set survives it.
type Evictor struct {
	cache  *MemoryCache
	grace  time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	gen     uint64
	pending map[uuid.UUID]pendingEviction
}

func NewEvictor(cache *MemoryCache, grace time.Duration, logger *zap.Logger) *Evictor {
	if grace <= 0 {
		grace = DefaultEvictionGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evictor{
		cache:   cache,
		grace:   grace,
		logger:  logger.Named("evictor"),
		pending: make(map[uuid.UUID]pendingEviction),
	}
}

// Schedule (re)arms the driver's eviction timer. A pending timer is replaced.
func (e *Evictor) Schedule(driverID uuid.UUID) {
	version := e.cache.version(driverID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.pending[driverID]; ok {
		prev.timer.Stop()
	}
	e.gen++
	gen := e.gen
	timer := time.AfterFunc(e.grace, func() { e.fire(driverID, gen) })
	e.pending[driverID] = pendingEviction{timer: timer, gen: gen, version: version}
}

// Cancel disarms a pending eviction. It is a no-op when none is pending.
func (e *Evictor) Cancel(driverID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.pending[driverID]
	if !ok {
		return
	}
	prev.timer.Stop()
	delete(e.pending, driverID)
	evictionsTotal.WithLabelValues("cancelled").Inc()
}

// Pending reports whether an eviction is armed for the driver.
func (e *Evictor) Pending(driverID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[driverID]
	return ok
}

// Stop disarms every pending timer.
func (e *Evictor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range e.pending {
		p.timer.Stop()
		delete(e.pending, id)
	}
}

func (e *Evictor) fire(driverID uuid.UUID, gen uint64) {
	e.mu.Lock()
	current, ok := e.pending[driverID]
	if !ok || current.gen != gen {
		e.mu.Unlock()
		return
	}
	delete(e.pending, driverID)
	e.mu.Unlock()

	if !e.cache.deleteIfVersion(driverID, current.version) {
		evictionsTotal.WithLabelValues("superseded").Inc()
		return
	}
	evictionsTotal.WithLabelValues("evicted").Inc()
	e.logger.Debug("driver location evicted", zap.String("driver_id", driverID.String()))
}
