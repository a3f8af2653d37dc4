// Package dataset serves the current Grist record set to the dashboard using a
// cache-aside read with stale fallback and coalesced upstream fetches.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/cache"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/degraded"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/grist"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/lifecycle"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/models"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/observability"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/reqctx"
)

// Config controls caching. With CacheEnabled false every read goes to Grist.
type Config struct {
	Key          string // cache key; one per (doc, table)
	CacheEnabled bool
	TTL          time.Duration // freshness of a cached dataset
	StaleTTL     time.Duration // max age served after an upstream failure (0 = disabled)
}

// Service loads datasets from Grist through the cache.
type Service struct {
	fetcher grist.RecordFetcher
	cache   cache.Cache
	cfg     Config
	clock   clockwork.Clock
	group   singleflight.Group
}

// NewService creates a Service. c may be nil when caching is disabled.
func NewService(fetcher grist.RecordFetcher, c cache.Cache, cfg Config) *Service {
	return NewServiceWithClock(fetcher, c, cfg, clockwork.NewRealClock())
}

// NewServiceWithClock is NewService with an explicit clock for FetchedAt stamps.
func NewServiceWithClock(fetcher grist.RecordFetcher, c cache.Cache, cfg Config, clock clockwork.Clock) *Service {
	if c == nil {
		cfg.CacheEnabled = false
	}
	return &Service{fetcher: fetcher, cache: c, cfg: cfg, clock: clock}
}

// Records returns the current dataset. Order of preference: fresh cache entry,
// a new fetch, then a stale cache entry (marked Stale). A malformed Grist payload
// yields an empty dataset, not an error.
func (s *Service) Records(ctx context.Context) (models.Dataset, error) {
	logger := reqctx.Logger(ctx)

	if s.cfg.CacheEnabled {
		if ds, ok := s.cacheGet(ctx); ok {
			observability.CacheHitsTotal.WithLabelValues("dataset").Inc()
			logger.Debug("dataset cache hit", zap.String("key", s.cfg.Key), zap.Int("records", len(ds.Records)))
			return ds, nil
		}
		observability.CacheMissesTotal.WithLabelValues("dataset").Inc()
		logger.Debug("dataset cache miss, fetching upstream", zap.String("key", s.cfg.Key))
	}

	ds, err := s.load(ctx)
	if err == nil {
		return ds, nil
	}

	if s.cfg.CacheEnabled && s.cfg.StaleTTL > 0 {
		stale, ok, staleErr := s.cache.GetStale(ctx, s.cfg.Key, s.cfg.StaleTTL)
		if staleErr == nil && ok {
			age := s.clock.Since(stale.FetchedAt)
			observability.StaleCacheServesTotal.Inc()
			logger.Info("serving stale dataset", zap.String("key", s.cfg.Key), zap.Duration("age", age), zap.Error(err))
			stale.Stale = true
			return stale, nil
		}
	}
	return models.Dataset{}, err
}

// Refresh fetches from Grist and replaces the cached dataset, ignoring any fresh entry.
func (s *Service) Refresh(ctx context.Context) error {
	_, err := s.load(ctx)
	return err
}

// Pathogens returns the sorted unique non-empty pathogen names of the current dataset.
func (s *Service) Pathogens(ctx context.Context) ([]string, error) {
	ds, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}
	return UniquePathogens(ds.Records), nil
}

// UniquePathogens returns the sorted distinct non-empty pathogen names in records.
func UniquePathogens(records []models.Record) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, r := range records {
		if r.Pathogen == "" {
			continue
		}
		if _, ok := seen[r.Pathogen]; ok {
			continue
		}
		seen[r.Pathogen] = struct{}{}
		out = append(out, r.Pathogen)
	}
	sort.Strings(out)
	return out
}

// load runs one coalesced fetch. Concurrent callers share the leader's result.
func (s *Service) load(ctx context.Context) (models.Dataset, error) {
	var leader bool
	v, err, _ := s.group.Do(s.cfg.Key, func() (interface{}, error) {
		leader = true
		// Followers share this fetch, so one caller's cancellation must not fail the others.
		return s.fetch(context.WithoutCancel(ctx))
	})
	if !leader {
		observability.FetchCoalescedTotal.Inc()
	}
	if err != nil {
		return models.Dataset{}, err
	}
	return v.(models.Dataset), nil
}

func (s *Service) fetch(ctx context.Context) (models.Dataset, error) {
	logger := reqctx.Logger(ctx)
	start := s.clock.Now()

	records, err := s.fetcher.FetchRecords(ctx)
	switch {
	case errors.Is(err, grist.ErrMalformedPayload):
		observability.MalformedPayloadsTotal.Inc()
		logger.Warn("malformed grist payload, treating as no records", zap.String("key", s.cfg.Key), zap.Error(err))
		records = []models.Record{}
	case err != nil:
		category := grist.CategorizeError(err)
		observability.GristAPIErrorsTotal.WithLabelValues(string(category)).Inc()
		degraded.RecordError()
		logger.Warn("grist fetch failed", zap.String("key", s.cfg.Key), zap.String("category", string(category)), zap.Error(err))
		return models.Dataset{}, fmt.Errorf("fetch records for %s: %w", s.cfg.Key, err)
	}

	ds := models.Dataset{Records: records, FetchedAt: s.clock.Now()}
	degraded.RecordSuccess()
	lifecycle.MarkReady()
	observability.DatasetRecords.Set(float64(len(records)))
	observability.SetTrackedPathogens(UniquePathogens(records))

	if s.cfg.CacheEnabled {
		s.cacheSet(ctx, ds)
	}
	logger.Debug("dataset loaded", zap.String("key", s.cfg.Key), zap.Int("records", len(records)), zap.Duration("duration", s.clock.Since(start)))
	return ds, nil
}

func (s *Service) cacheGet(ctx context.Context) (models.Dataset, bool) {
	start := time.Now()
	ds, ok, err := s.cache.Get(ctx, s.cfg.Key)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(duration)
		reqctx.Logger(ctx).Warn("cache get failed", zap.String("key", s.cfg.Key), zap.Error(err))
		return models.Dataset{}, false
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(duration)
	return ds, ok
}

func (s *Service) cacheSet(ctx context.Context, ds models.Dataset) {
	start := time.Now()
	err := s.cache.Set(ctx, s.cfg.Key, ds, s.cfg.TTL)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(duration)
		reqctx.Logger(ctx).Warn("cache set failed", zap.String("key", s.cfg.Key), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(duration)
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
