// Package harvest runs paginated lead searches against a throttle-prone
// upstream. A session fetches pages sequentially with exactly one request in
// flight, paces itself between pages, retries throttled pages with backoff,
// and keeps whatever it has collected on every termination path. Hard
// pushback from the upstream opens a shared cooldown window that blocks
// further sessions until it expires.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/linkpellow/my-lead-engine-sub001/pkg/cooldown"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/logging"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/pacing"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/runlog"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/searchapi"
)

// Prometheus metrics for harvest sessions.
var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadharvest_sessions_total",
		Help: "Harvest sessions finished by termination reason",
	}, []string{"reason"})

	pagesHarvestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadharvest_pages_harvested_total",
		Help: "Pages fetched successfully across all sessions",
	})

	recordsHarvestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadharvest_records_harvested_total",
		Help: "Records kept across all sessions",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadharvest_retries_total",
		Help: "Page retries after upstream throttling",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "leadharvest_retry_backoff_seconds",
		Help:    "Backoff waits before page retries",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	circuitTripsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadharvest_circuit_trips_total",
		Help: "Sessions ended by the throttle circuit breaker",
	})
)

// ErrSessionActive is returned when Run is called while another session
// holds the single-flight slot.
var ErrSessionActive = errors.New("harvest session already active")

// CooldownActiveError rejects a run because an unexpired cooldown window is
// in effect.
type CooldownActiveError struct {
	Window cooldown.Window
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("harvest blocked by %s cooldown until %s",
		e.Window.Reason, e.Window.ExpiresAt.Format(time.RFC3339))
}

// PageFetcher fetches one page of search results.
type PageFetcher interface {
	FetchPage(ctx context.Context, query searchapi.Query, page, limit int) (*searchapi.PageResult, error)
}

// Default session limits.
const (
	DefaultMaxPages   = 100
	DefaultMaxResults = 1000
	DefaultPageLimit  = 100
)

// Config holds the orchestrator configuration.
type Config struct {
	// Fetcher performs the page requests. Required.
	Fetcher PageFetcher

	// Pacer spaces requests out. Defaults to pacing.DefaultConfig().
	Pacer *pacing.Controller

	// Policy controls retries and the circuit breaker. Zero value selects
	// DefaultRetryPolicy().
	Policy RetryPolicy

	// Cooldowns persists cooldown windows across sessions. Defaults to an
	// in-process store.
	Cooldowns cooldown.Store

	// Recorder writes finished runs to the run log. Optional.
	Recorder *runlog.Recorder

	// MaxPages, MaxResults and PageLimit are session defaults, overridable
	// per run.
	MaxPages   int
	MaxResults int
	PageLimit  int
}

// DefaultConfig returns the default orchestrator configuration. The caller
// must still provide a Fetcher.
func DefaultConfig() Config {
	return Config{
		Policy:     DefaultRetryPolicy(),
		MaxPages:   DefaultMaxPages,
		MaxResults: DefaultMaxResults,
		PageLimit:  DefaultPageLimit,
	}
}

// Options overrides session limits for a single run. Zero fields fall back
// to the orchestrator defaults.
type Options struct {
	// SessionID names the session. Empty generates a UUID.
	SessionID string

	// Target groups runs in the run log. Empty falls back to the query's
	// result type.
	Target string

	MaxPages   int
	MaxResults int
	PageLimit  int
}

// Result is the outcome of a finished session. Records holds everything
// collected before termination, whatever the reason.
type Result struct {
	SessionID string
	Records   []searchapi.Record
	Reason    TerminationReason
	Cooldown  *cooldown.Window
	Pages     int
	Message   string
	Elapsed   time.Duration
}

// Orchestrator drives harvest sessions one at a time.
type Orchestrator struct {
	fetcher    PageFetcher
	pacer      *pacing.Controller
	policy     RetryPolicy
	cooldowns  cooldown.Store
	recorder   *runlog.Recorder
	logger     zerolog.Logger
	maxPages   int
	maxResults int
	pageLimit  int

	active *semaphore.Weighted

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator from the given configuration.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("page fetcher is required")
	}

	pacer := cfg.Pacer
	if pacer == nil {
		var err error
		pacer, err = pacing.New(pacing.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("build default pacer: %w", err)
		}
	}

	policy := cfg.Policy
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy()
	}

	store := cfg.Cooldowns
	if store == nil {
		store = cooldown.NewMemoryStore()
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}

	return &Orchestrator{
		fetcher:    cfg.Fetcher,
		pacer:      pacer,
		policy:     policy,
		cooldowns:  store,
		recorder:   cfg.Recorder,
		logger:     logging.NewLogger("orchestrator"),
		maxPages:   maxPages,
		maxResults: maxResults,
		pageLimit:  pageLimit,
		active:     semaphore.NewWeighted(1),
		sleep:      sleepCtx,
	}, nil
}

// Cooldown returns the active cooldown window, or nil when none is in
// effect.
func (o *Orchestrator) Cooldown(ctx context.Context) (*cooldown.Window, error) {
	return o.cooldowns.Get(ctx)
}

// ClearCooldown drops the active cooldown window.
func (o *Orchestrator) ClearCooldown(ctx context.Context) error {
	return o.cooldowns.Clear(ctx)
}

// Run executes one harvest session to completion. It returns an error only
// for pre-flight rejection (active session or cooldown); every started
// session yields a non-nil Result carrying the accumulated records.
func (o *Orchestrator) Run(ctx context.Context, query searchapi.Query, opts Options, progress ProgressFunc) (*Result, error) {
	if !o.active.TryAcquire(1) {
		return nil, ErrSessionActive
	}
	defer o.active.Release(1)

	if win, err := o.cooldowns.Get(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("Cooldown lookup failed, continuing without it")
	} else if win != nil {
		return nil, &CooldownActiveError{Window: *win}
	}

	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = o.maxPages
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = o.maxResults
	}
	pageLimit := opts.PageLimit
	if pageLimit <= 0 {
		pageLimit = o.pageLimit
	}
	target := opts.Target
	if target == "" {
		target = query.ResultType
	}
	if target == "" {
		target = "person"
	}

	sess := newSession(id, query, maxPages, maxResults, pageLimit)
	logger := o.logger.With().Str("session_id", sess.ID).Logger()

	logger.Info().
		Str("target", target).
		Int("max_pages", maxPages).
		Int("max_results", maxResults).
		Int("page_limit", pageLimit).
		Msg("Harvest session started")

	emit := func(p Progress) {
		if progress != nil {
			progress(p)
		}
	}

	hasMore := true
	knownTotal := 0
	pagesFetched := 0

	finish := func(reason TerminationReason, message string, win *cooldown.Window) (*Result, error) {
		sess.State = StateCompleted
		elapsed := time.Since(sess.StartedAt)
		sessionsTotal.WithLabelValues(string(reason)).Inc()

		// Bookkeeping must outlive a cancelled session context.
		bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if win != nil {
			if err := o.cooldowns.Set(bookCtx, *win); err != nil {
				logger.Warn().Err(err).Msg("Failed to persist cooldown window")
			} else {
				logger.Warn().
					Str("reason", string(win.Reason)).
					Time("expires_at", win.ExpiresAt).
					Msg("Cooldown window opened")
			}
		}

		if o.recorder != nil {
			errMsg := ""
			if reason != ReasonCompleted {
				errMsg = message
			}
			rec := runlog.RunRecord{
				RunID:      sess.ID,
				Target:     target,
				Status:     string(reason),
				Pages:      pagesFetched,
				Records:    len(sess.Records),
				StartedAt:  sess.StartedAt,
				FinishedAt: time.Now(),
				Error:      errMsg,
			}
			if err := o.recorder.Record(bookCtx, rec); err != nil {
				logger.Warn().Err(err).Msg("Failed to record run")
			}
		}

		emit(sess.snapshot(0, knownTotal))

		logger.Info().
			Str("reason", string(reason)).
			Int("pages", pagesFetched).
			Int("records", len(sess.Records)).
			Dur("elapsed", elapsed).
			Msg("Harvest session finished")

		return &Result{
			SessionID: sess.ID,
			Records:   sess.Records,
			Reason:    reason,
			Cooldown:  win,
			Pages:     pagesFetched,
			Message:   message,
			Elapsed:   elapsed,
		}, nil
	}

	for {
		if !hasMore {
			return finish(ReasonCompleted, "no more results", nil)
		}
		if sess.CurrentPage > sess.MaxPages {
			return finish(ReasonCompleted, "page limit reached", nil)
		}
		if sess.full() {
			return finish(ReasonCompleted, "records target reached", nil)
		}

		// Pace between pages, not before the first.
		if pagesFetched > 0 {
			delay := o.pacer.NextDelay(sess.ThrottleStreak)
			logger.Debug().
				Dur("delay", delay).
				Int("streak", sess.ThrottleStreak).
				Int("page", sess.CurrentPage).
				Msg("Pacing before next page")
			if err := o.sleep(ctx, delay); err != nil {
				return finish(ReasonCancelled, "cancelled during pacing", nil)
			}
		}

		sess.State = StateFetching
		attempt := 0

		var pageResult *searchapi.PageResult
		for pageResult == nil {
			if err := o.pacer.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return finish(ReasonCancelled, "cancelled while awaiting quota", nil)
				}
				return finish(ReasonFailed, err.Error(), nil)
			}

			res, err := o.fetcher.FetchPage(ctx, sess.Query, sess.CurrentPage, sess.PageLimit)
			if err == nil {
				pageResult = res
				break
			}

			if ctx.Err() != nil {
				return finish(ReasonCancelled, "cancelled during page fetch", nil)
			}

			fe, ok := searchapi.AsFetchError(err)
			if !ok {
				return finish(ReasonFailed, err.Error(), nil)
			}

			switch fe.Kind {
			case searchapi.KindAccountFrozen:
				logger.Error().
					Int("page", sess.CurrentPage).
					Dur("frozen_for", fe.FrozenFor).
					Str("error_kind", "account_frozen").
					Msg("Upstream froze the account")
				return finish(ReasonFrozen, fe.Message, frozenWindow(fe.FrozenFor))

			case searchapi.KindRateLimited:
				sess.ThrottleStreak++
				sess.LastRetryAfter = fe.RetryAfter
				o.pacer.OnThrottled()

				logger.Warn().
					Int("page", sess.CurrentPage).
					Int("streak", sess.ThrottleStreak).
					Dur("retry_after", fe.RetryAfter).
					Str("error_kind", "rate_limited").
					Msg("Upstream throttled page fetch")

				if o.policy.Tripped(sess.ThrottleStreak) {
					circuitTripsTotal.Inc()
					return finish(ReasonCircuitTripped, "throttle circuit tripped",
						rateLimitWindow(sess.LastRetryAfter))
				}
				if !o.policy.ShouldRetry(fe, attempt) {
					circuitTripsTotal.Inc()
					return finish(ReasonCircuitTripped, "retry budget exhausted",
						rateLimitWindow(sess.LastRetryAfter))
				}

				backoff := o.policy.Backoff(fe.RetryAfter, attempt)
				attempt++
				retriesTotal.Inc()
				retryBackoffSeconds.Observe(backoff.Seconds())

				sess.State = StateRetrying
				logger.Info().
					Int("page", sess.CurrentPage).
					Int("attempt", attempt).
					Dur("backoff", backoff).
					Msg("Retrying page after backoff")
				if err := o.sleep(ctx, backoff); err != nil {
					return finish(ReasonCancelled, "cancelled during backoff", nil)
				}
				sess.State = StateFetching

			default:
				logger.Error().
					Int("page", sess.CurrentPage).
					Str("error_kind", "generic").
					Msg(fe.Message)
				return finish(ReasonFailed, fe.Message, nil)
			}
		}

		pagesFetched++
		pagesHarvestedTotal.Inc()
		sess.ThrottleStreak = 0
		o.pacer.OnSuccess()

		if pageResult.Pagination.Total > 0 {
			knownTotal = pageResult.Pagination.Total
		}
		gain := sess.appendRecords(pageResult.Records)
		recordsHarvestedTotal.Add(float64(gain))
		hasMore = pageResult.Pagination.HasMore

		logger.Debug().
			Int("page", sess.CurrentPage).
			Int("records", gain).
			Int("total_records", len(sess.Records)).
			Bool("has_more", hasMore).
			Msg("Page harvested")

		emit(sess.snapshot(gain, knownTotal))
		sess.CurrentPage++
	}
}

func rateLimitWindow(lastRetryAfter time.Duration) *cooldown.Window {
	d := lastRetryAfter
	if d < time.Minute {
		d = time.Minute
	}
	return &cooldown.Window{
		ExpiresAt: time.Now().Add(d),
		Reason:    cooldown.ReasonRateLimited,
	}
}

func frozenWindow(frozenFor time.Duration) *cooldown.Window {
	if frozenFor <= 0 {
		frozenFor = searchapi.DefaultFrozenFor
	}
	return &cooldown.Window{
		ExpiresAt: time.Now().Add(frozenFor),
		Reason:    cooldown.ReasonAccountFrozen,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
