package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/mr1hm/go-raid-alerts/internal/clock"
	"github.com/mr1hm/go-raid-alerts/internal/metrics"
	"github.com/mr1hm/go-raid-alerts/internal/models"
)

// ErrNoData means the upstream could not be read this cycle. Callers keep
// their previous state and skip the cycle.
var ErrNoData = errors.New("no alert data available")

type SourceOptions struct {
	TTL        time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	Clock      clock.Clock
}

// CachedSource fronts a Fetcher with a freshness window and retries.
// Concurrent callers share one upstream request.
type CachedSource struct {
	fetcher    Fetcher
	ttl        time.Duration
	maxRetries int
	baseDelay  time.Duration
	clock      clock.Clock

	mu        sync.Mutex
	alerts    []models.AlertRecord
	fetchedAt time.Time
	valid     bool
}

func NewCachedSource(fetcher Fetcher, opts SourceOptions) *CachedSource {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &CachedSource{
		fetcher:    fetcher,
		ttl:        opts.TTL,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		clock:      opts.Clock,
	}
}

// FetchActiveAlerts returns the current alert set. Within the freshness
// window the previously returned slice is handed back as is.
func (s *CachedSource) FetchActiveAlerts(ctx context.Context) ([]models.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.valid && s.clock.Now().Sub(s.fetchedAt) < s.ttl {
		metrics.AlertFetches.WithLabelValues("cached").Inc()
		return s.alerts, nil
	}

	alerts, err := s.fetchWithRetry(ctx)
	if err != nil {
		metrics.AlertFetches.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %w", ErrNoData, err)
	}

	s.alerts = alerts
	s.fetchedAt = s.clock.Now()
	s.valid = true

	metrics.AlertFetches.WithLabelValues("fetched").Inc()
	metrics.ActiveAlerts.Set(float64(len(alerts)))
	return alerts, nil
}

// Invalidate drops the cached set so the next call goes upstream.
func (s *CachedSource) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.alerts = nil
	s.mu.Unlock()
}

func (s *CachedSource) fetchWithRetry(ctx context.Context) ([]models.AlertRecord, error) {
	attempts := uint(s.maxRetries) + 1

	var alerts []models.AlertRecord
	err := retry.Do(
		func() error {
			a, err := s.fetcher.Fetch(ctx)
			if err != nil {
				return err
			}
			alerts = a
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(s.baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			if n+1 >= attempts {
				return
			}
			metrics.AlertFetchRetries.Inc()
			slog.Warn("retrying alert fetch",
				"attempt", n+1,
				"max_retries", s.maxRetries,
				"delay", s.baseDelay<<n,
				"error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// isTransient reports whether a failed request is worth repeating. Any
// upstream or network failure is; cancellation of the caller is not.
func isTransient(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
