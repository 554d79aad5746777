package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/aviation-weather-service/internal/models"
	"github.com/kjstillabower/aviation-weather-service/internal/observability"
)

// ReportFetcher is implemented by the service layer to fetch a report through the cache.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type ReportFetcher interface {
	Fetch(ctx context.Context, station string, kind models.ReportKind) models.Result
}

// CacheWarmer warms the cache by prefetching reports for a list of stations.
type CacheWarmer struct {
	fetcher ReportFetcher
	kinds   []models.ReportKind
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer for the given report kinds. No kinds means METAR only.
func NewCacheWarmer(fetcher ReportFetcher, logger *zap.Logger, kinds ...models.ReportKind) *CacheWarmer {
	if len(kinds) == 0 {
		kinds = []models.ReportKind{models.KindMETAR}
	}
	return &CacheWarmer{fetcher: fetcher, kinds: kinds, logger: logger}
}

// Warm fetches every station × kind concurrently, populating the cache via the fetcher.
// Returns an aggregated error naming each pair that produced no fresh report.
func (w *CacheWarmer) Warm(ctx context.Context, stations []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("stations", len(stations)), zap.Int("kinds", len(w.kinds)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(stations)*len(w.kinds))
	for _, station := range stations {
		for _, kind := range w.kinds {
			wg.Add(1)
			go func(station string, kind models.ReportKind) {
				defer wg.Done()
				res := w.fetcher.Fetch(ctx, station, kind)
				if res.Outcome != models.OutcomeFresh {
					errCh <- fmt.Errorf("warm %s %s: %s", kind, station, describe(res))
				}
			}(station, kind)
		}
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("stations", len(stations)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, stations []string, interval time.Duration) error {
	if err := w.Warm(ctx, stations); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, stations); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}

func describe(res models.Result) string {
	if res.Outcome == models.OutcomeStale {
		return "served stale"
	}
	return "absent (" + string(res.Reason) + ")"
}
