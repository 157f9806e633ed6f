// Package policy resolves the RetryPolicy for a (component, stage) pair
// through a three-tier lookup: an in-process TTL cache, an optional
// Redis L1 cache for multi-process deployments, and Postgres as the
// system of record, falling back to the hard-coded default when no row
// exists.
package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/docpipeline/internal/core"
	"github.com/vitaliisemenov/docpipeline/internal/infrastructure/cache"
)

func cacheKey(component string, stage core.Stage) string {
	return component + "/" + string(stage)
}

// Store resolves RetryPolicy values, caching the result of every
// database read. The cache is write-through on read only: it never
// invalidates on writes made by another process, relying on CacheTTL to
// bound staleness.
type Store struct {
	pool     *pgxpool.Pool
	l1       cache.Cache // optional; nil disables the Redis tier
	l0       *expirable.LRU[string, core.RetryPolicy]
	logger   *slog.Logger
	cacheTTL time.Duration
}

// NewStore builds a policy store. l1 may be nil to disable the optional
// Redis tier.
func NewStore(pool *pgxpool.Pool, l1 cache.Cache, cacheTTL time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Store{
		pool:     pool,
		l1:       l1,
		l0:       expirable.NewLRU[string, core.RetryPolicy](1024, nil, cacheTTL),
		logger:   logger,
		cacheTTL: cacheTTL,
	}
}

// GetPolicy resolves the retry policy for (component, stage): in-memory
// cache, then Redis (if configured), then Postgres, then the hard-coded
// default. Every miss that reaches a lower tier back-fills every tier
// above it.
func (s *Store) GetPolicy(ctx context.Context, component string, stage core.Stage) (core.RetryPolicy, error) {
	key := cacheKey(component, stage)

	if p, ok := s.l0.Get(key); ok {
		return p, nil
	}

	if s.l1 != nil {
		var p core.RetryPolicy
		if err := s.l1.Get(ctx, key, &p); err == nil {
			s.l0.Add(key, p)
			return p, nil
		} else if !cache.IsNotFound(err) {
			s.logger.Warn("policy l1 cache read failed", "error", err, "key", key)
		}
	}

	p, found, err := s.fromDatabase(ctx, component, stage)
	if err != nil {
		return core.RetryPolicy{}, err
	}
	if !found {
		p = core.DefaultRetryPolicy(component, stage)
	}

	s.l0.Add(key, p)
	if s.l1 != nil {
		if err := s.l1.Set(ctx, key, p, s.cacheTTL); err != nil {
			s.logger.Warn("policy l1 cache write failed", "error", err, "key", key)
		}
	}

	return p, nil
}

func (s *Store) fromDatabase(ctx context.Context, component string, stage core.Stage) (core.RetryPolicy, bool, error) {
	const q = `
		SELECT max_retries, base_delay_seconds, max_delay_seconds,
		       backoff_multiplier, jitter_fraction, retry_on
		FROM retry_policies
		WHERE component = $1 AND stage_name = $2`

	var (
		p          core.RetryPolicy
		retryOnRaw []byte
	)
	p.Component = component
	p.StageName = stage

	row := s.pool.QueryRow(ctx, q, component, string(stage))
	err := row.Scan(&p.MaxRetries, &p.BaseDelaySeconds, &p.MaxDelaySeconds,
		&p.BackoffMultiplier, &p.JitterFraction, &retryOnRaw)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return core.RetryPolicy{}, false, nil
	}
	if err != nil {
		return core.RetryPolicy{}, false, fmt.Errorf("policy: read %s/%s: %w", component, stage, err)
	}

	retryOn := make(map[core.ErrorCategory]bool)
	if err := json.Unmarshal(retryOnRaw, &retryOn); err != nil {
		return core.RetryPolicy{}, false, fmt.Errorf("policy: decode retry_on for %s/%s: %w", component, stage, err)
	}
	p.RetryOn = retryOn

	return p, true, nil
}

// Invalidate drops the in-memory and L1 cache entries for (component,
// stage), forcing the next GetPolicy to re-read Postgres. Used after an
// operator updates a policy row out of band.
func (s *Store) Invalidate(ctx context.Context, component string, stage core.Stage) {
	key := cacheKey(component, stage)
	s.l0.Remove(key)
	if s.l1 != nil {
		if err := s.l1.Delete(ctx, key); err != nil && !cache.IsNotFound(err) {
			s.logger.Warn("policy l1 cache invalidate failed", "error", err, "key", key)
		}
	}
}
