package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/aviation-weather-service/internal/cache"
	"github.com/kjstillabower/aviation-weather-service/internal/client"
	"github.com/kjstillabower/aviation-weather-service/internal/events"
	"github.com/kjstillabower/aviation-weather-service/internal/models"
	"github.com/kjstillabower/aviation-weather-service/internal/observability"
)

const (
	// DefaultTTL is how long a cached report is served without contacting upstream.
	DefaultTTL = 30 * time.Minute
	// DefaultTimeout bounds one live retrieval, retries and coalesced waits included.
	DefaultTimeout = 5 * time.Second
	// DefaultPublishTimeout bounds one asynchronous report event publish.
	DefaultPublishTimeout = 5 * time.Second
)

// ReportService fetches METAR and TAF reports through a cache with stale fallback.
// Fetch never returns an error: every failure is resolved into a models.Result.
type ReportService struct {
	client         client.ReportClient
	store          cache.Store
	ttl            time.Duration
	timeout        time.Duration
	clock          clockwork.Clock
	coalescer      *requestCoalescer // nil if disabled
	publisher      events.Publisher
	publishTimeout time.Duration
	logger         *zap.Logger
	publishes      sync.WaitGroup
}

// Option configures a ReportService.
type Option func(*ReportService)

// WithClock sets the clock used for fetched_at stamps and freshness checks.
func WithClock(c clockwork.Clock) Option {
	return func(s *ReportService) { s.clock = c }
}

// WithLogger sets the fallback logger used when the request context carries none.
func WithLogger(l *zap.Logger) Option {
	return func(s *ReportService) { s.logger = l }
}

// WithPublisher hands every successful live fetch to p, bounded by timeout (0 = default).
func WithPublisher(p events.Publisher, timeout time.Duration) Option {
	return func(s *ReportService) {
		s.publisher = p
		if timeout > 0 {
			s.publishTimeout = timeout
		}
	}
}

// WithCoalescing enables or disables sharing one upstream call among concurrent misses
// for the same key. Enabled by default.
func WithCoalescing(enabled bool) Option {
	return func(s *ReportService) {
		if enabled {
			s.coalescer = newRequestCoalescer()
		} else {
			s.coalescer = nil
		}
	}
}

// NewReportService creates a ReportService. ttl and timeout fall back to DefaultTTL and
// DefaultTimeout when not positive.
func NewReportService(c client.ReportClient, store cache.Store, ttl, timeout time.Duration, opts ...Option) *ReportService {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &ReportService{
		client:         c,
		store:          store,
		ttl:            ttl,
		timeout:        timeout,
		clock:          clockwork.NewRealClock(),
		coalescer:      newRequestCoalescer(),
		publisher:      events.NopPublisher{},
		publishTimeout: DefaultPublishTimeout,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch returns the freshest available report for station:
//  1. a cached entry younger than the TTL, without contacting upstream;
//  2. otherwise a live retrieval bounded by the fetch timeout, which replaces the entry;
//  3. on a transient upstream failure, the cached entry of any age, marked stale;
//  4. otherwise an absent result with a reason.
func (s *ReportService) Fetch(ctx context.Context, station string, kind models.ReportKind) (res models.Result) {
	key := cache.NewKey(kind, station)
	logger := observability.LoggerFromContext(ctx, s.logger).With(
		zap.String("station", key.Station),
		zap.String("kind", kind.String()),
	)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("report fetch panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = models.Absent(models.ReasonUnexpected)
		}
		s.record(key, res)
		logger.Debug("report served",
			zap.String("outcome", res.Outcome.String()),
			zap.Bool("cached", res.FromCache),
			zap.Duration("duration", time.Since(start)))
	}()

	if key.Station == "" {
		return models.Absent(models.ReasonNotFound)
	}

	// One budget covers store reads, the upstream call and the store write.
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entry, found := s.lookup(fetchCtx, key, logger)
	if found && entry.Age(s.clock.Now()) < s.ttl {
		logger.Debug("cache hit")
		return models.Fresh(entry.Report(), true)
	}

	logger.Debug("cache miss or expired, fetching upstream", zap.Bool("have_entry", found))
	text, err := s.retrieve(fetchCtx, key)

	switch {
	case err == nil:
		if !mentionsStation(text, key.Station) {
			logger.Info("upstream response does not mention station, treating as not found",
				zap.Int("bytes", len(text)))
			return models.Absent(models.ReasonNotFound)
		}
		report := models.Report{
			Station:   key.Station,
			Kind:      kind,
			Text:      strings.TrimSpace(text),
			FetchedAt: s.clock.Now(),
		}
		s.save(fetchCtx, report, logger)
		s.publish(ctx, report)
		return models.Fresh(report, false)

	case client.IsTransient(err):
		if !found {
			logger.Warn("upstream unavailable and nothing cached", zap.Error(err),
				zap.String("error_category", string(client.CategorizeError(err))))
			return models.Absent(models.ReasonUnavailable)
		}
		age := entry.Age(s.clock.Now())
		logger.Info("serving stale report", zap.Duration("age", age), zap.Error(err))
		observability.StaleReportAgeSeconds.Observe(age.Seconds())
		return models.Stale(entry.Report(), age)

	default:
		logger.Error("unexpected report fetch failure", zap.Error(err))
		return models.Absent(models.ReasonUnexpected)
	}
}

// ClearCache empties the report store.
func (s *ReportService) ClearCache(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	observability.LoggerFromContext(ctx, s.logger).Info("report cache cleared")
	return nil
}

// Close waits for in-flight report publishes to finish or ctx to be done.
func (s *ReportService) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.publishes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lookup reads the store. A store error is logged and treated as a miss.
func (s *ReportService) lookup(ctx context.Context, key cache.Key, logger *zap.Logger) (cache.Entry, bool) {
	entry, ok, err := s.store.Get(ctx, key)
	if err != nil {
		logger.Warn("cache get failed", zap.Error(err))
		return cache.Entry{}, false
	}
	return entry, ok
}

func (s *ReportService) save(ctx context.Context, report models.Report, logger *zap.Logger) {
	err := s.store.Put(ctx, cache.Entry{
		Kind:      report.Kind,
		Station:   report.Station,
		Text:      report.Text,
		FetchedAt: report.FetchedAt,
	})
	if err != nil {
		logger.Warn("cache put failed", zap.Error(err))
	}
}

// retrieve calls upstream, sharing the call with concurrent callers for the same key
// when coalescing is enabled. The shared call is not cancelled by any one caller.
func (s *ReportService) retrieve(ctx context.Context, key cache.Key) (string, error) {
	if s.coalescer == nil {
		return s.client.FetchRaw(ctx, key.Station, key.Kind)
	}
	text, joined, err := s.coalescer.Do(ctx, key, func() (string, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.client.FetchRaw(callCtx, key.Station, key.Kind)
	})
	if joined {
		observability.RequestCoalescingJoinsTotal.WithLabelValues(key.Kind.String()).Inc()
	}
	return text, err
}

func (s *ReportService) publish(ctx context.Context, report models.Report) {
	s.publishes.Add(1)
	go func() {
		defer s.publishes.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
		defer cancel()
		if err := s.publisher.PublishReport(pubCtx, report); err != nil {
			observability.ReportEventsPublishedTotal.WithLabelValues("error").Inc()
			observability.LoggerFromContext(ctx, s.logger).Warn("report event publish failed",
				zap.String("station", report.Station), zap.Error(err))
			return
		}
		observability.ReportEventsPublishedTotal.WithLabelValues("success").Inc()
	}()
}

func (s *ReportService) record(key cache.Key, res models.Result) {
	source := "none"
	switch {
	case res.Outcome == models.OutcomeAbsent:
		observability.ReportAbsentTotal.WithLabelValues(key.Kind.String(), string(res.Reason)).Inc()
	case res.FromCache:
		source = "cache"
	default:
		source = "upstream"
	}
	observability.RecordReportFetch(key.Station, key.Kind.String(), res.Outcome.String(), source)
}

// mentionsStation reports whether station appears in text as a whole whitespace-separated
// token, case-insensitively. A three-character identifier also matches the last three
// characters of a four-character ICAO token ("AUS" in "KAUS"). Rejects empty bodies and
// error pages naming other stations.
func mentionsStation(text, station string) bool {
	for _, tok := range strings.Fields(text) {
		if strings.EqualFold(tok, station) {
			return true
		}
		if len(station) == 3 && len(tok) == 4 && strings.EqualFold(tok[1:], station) {
			return true
		}
	}
	return false
}
