// Package lock provides non-blocking, session-scoped mutual exclusion
// over (document, stage) pairs using Postgres advisory locks.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vitaliisemenov/docpipeline/internal/core"
)

// PoolProvider exposes the raw pgxpool so the manager can acquire a
// session-scoped connection. *postgres.PostgresPool satisfies this.
type PoolProvider interface {
	Pool() *pgxpool.Pool
}

// Metrics holds the Prometheus series for the lock manager.
type Metrics struct {
	AcquireAttempts *prometheus.CounterVec
	Contended       prometheus.Counter
	HeldGauge       prometheus.Gauge
}

// NewMetrics registers the lock manager's metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		AcquireAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lock", Name: "acquire_attempts_total",
			Help: "Advisory lock acquisition attempts by result",
		}, []string{"result"}),
		Contended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lock", Name: "contended_total",
			Help: "Advisory lock acquisitions that found the lock already held",
		}),
		HeldGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "lock", Name: "held_current",
			Help: "Number of advisory locks currently held by this process",
		}),
	}
}

// ErrNotHeld is returned by Release when the caller's connection does not
// currently hold the lock (already released, or never acquired).
var ErrNotHeld = errors.New("lock: not held by this session")

// Manager acquires and releases Postgres advisory locks keyed by
// core.AdvisoryLockID(documentID, stage). Each held lock pins one
// pgxpool.Conn for the lock's lifetime, since pg_advisory_unlock must run
// on the same backend connection that took the lock. One Manager is
// shared across concurrently running documents, so held is guarded by
// a mutex.
type Manager struct {
	pool    PoolProvider
	logger  *slog.Logger
	metrics *Metrics

	mu   sync.Mutex
	held map[int64]*pgxpool.Conn
}

// NewManager builds a lock manager backed by pool.
func NewManager(pool PoolProvider, logger *slog.Logger, metrics *Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{pool: pool, logger: logger, metrics: metrics, held: make(map[int64]*pgxpool.Conn)}
}

// TryAcquire attempts a non-blocking advisory lock for (documentID, stage).
// It returns false, nil if the lock is already held elsewhere. That is
// never an error: a contended lock is a normal outcome the scheduler
// reacts to by skipping the stage.
func (m *Manager) TryAcquire(ctx context.Context, documentID string, stage core.Stage) (bool, error) {
	id := core.AdvisoryLockID(documentID, stage)

	conn, err := m.pool.Pool().Acquire(ctx)
	if err != nil {
		m.recordAttempt("error")
		return false, err
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired); err != nil {
		conn.Release()
		m.recordAttempt("error")
		return false, err
	}

	if !acquired {
		conn.Release()
		m.recordAttempt("contended")
		if m.metrics != nil {
			m.metrics.Contended.Inc()
		}
		m.logger.Debug("advisory lock contended", "document_id", documentID, "stage", stage, "lock_id", id)
		return false, nil
	}

	m.mu.Lock()
	m.held[id] = conn
	heldCount := len(m.held)
	m.mu.Unlock()

	m.recordAttempt("acquired")
	if m.metrics != nil {
		m.metrics.HeldGauge.Set(float64(heldCount))
	}
	m.logger.Debug("advisory lock acquired", "document_id", documentID, "stage", stage, "lock_id", id)
	return true, nil
}

// Release releases a previously acquired lock and returns its connection
// to the pool. Calling Release for a lock never held by this manager
// returns ErrNotHeld without touching the database.
func (m *Manager) Release(ctx context.Context, documentID string, stage core.Stage) error {
	id := core.AdvisoryLockID(documentID, stage)

	m.mu.Lock()
	conn, ok := m.held[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotHeld
	}
	delete(m.held, id)
	heldCount := len(m.held)
	m.mu.Unlock()
	defer conn.Release()

	var released bool
	if err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", id).Scan(&released); err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.HeldGauge.Set(float64(heldCount))
	}
	m.logger.Debug("advisory lock released", "document_id", documentID, "stage", stage, "lock_id", id, "released", released)
	return nil
}

func (m *Manager) recordAttempt(result string) {
	if m.metrics != nil {
		m.metrics.AcquireAttempts.WithLabelValues(result).Inc()
	}
}

// WithLock runs fn while holding the (documentID, stage) lock, releasing
// it on every exit path including a panic inside fn. It returns
// (false, nil) without calling fn if the lock could not be acquired.
func (m *Manager) WithLock(ctx context.Context, documentID string, stage core.Stage, fn func(ctx context.Context) error) (ran bool, err error) {
	acquired, err := m.TryAcquire(ctx, documentID, stage)
	if err != nil || !acquired {
		return false, err
	}

	defer func() {
		if releaseErr := m.Release(ctx, documentID, stage); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	err = fn(ctx)
	return true, err
}
