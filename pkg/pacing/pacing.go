// Package pacing spaces page requests against a metered upstream. It keeps a
// hard floor derived from the per-minute quota and an adaptive base delay
// that widens under throttle pressure and snaps back on success.
package pacing

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// Prometheus metrics for pacing decisions.
var (
	pacingDelaySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "leadharvest_pacing_delay_seconds",
		Help:    "Applied inter-page delays in seconds",
		Buckets: []float64{0.5, 1, 2, 3, 5, 8, 10, 15},
	})

	pacingWidensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadharvest_pacing_widens_total",
		Help: "Base delay widenings after throttled responses",
	})
)

// Config holds pacing parameters.
type Config struct {
	// RequestsPerMinute is the upstream quota. The floor delay is derived
	// from it, so a session cannot exceed the quota even when the adaptive
	// state would allow it.
	RequestsPerMinute int

	// MinimumDelay is the configured lower bound for inter-page spacing.
	// The effective floor is the larger of this and the quota-derived gap.
	MinimumDelay time.Duration

	// MaxDelay caps adaptive widening. Defaults to 10s.
	MaxDelay time.Duration
}

// DefaultConfig returns pacing defaults for a typical metered endpoint.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 30,
		MinimumDelay:      time.Second,
		MaxDelay:          10 * time.Second,
	}
}

// Controller spaces page requests for one harvest session. The base delay
// widens by half on every throttled response and snaps back to the floor on
// a clean success; the floor itself never moves. A token bucket built from
// the quota backs the floor so bursts cannot sneak through between sleeps.
//
// A Controller belongs to a single session and is not safe for concurrent
// use.
type Controller struct {
	floor    time.Duration
	base     time.Duration
	maxDelay time.Duration
	limiter  *rate.Limiter
}

// New creates a pacing controller.
func New(cfg Config) (*Controller, error) {
	if cfg.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be > 0 (got %d)", cfg.RequestsPerMinute)
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}

	floor := quotaFloor(cfg.RequestsPerMinute)
	if cfg.MinimumDelay > floor {
		floor = cfg.MinimumDelay
	}

	return &Controller{
		floor:    floor,
		base:     floor,
		maxDelay: cfg.MaxDelay,
		limiter:  rate.NewLimiter(rate.Every(floor), 1),
	}, nil
}

// quotaFloor converts a per-minute quota into the smallest legal spacing,
// rounded up to the next millisecond so the quota holds for every window
// alignment.
func quotaFloor(perMinute int) time.Duration {
	ms := (60_000 + perMinute - 1) / perMinute
	return time.Duration(ms) * time.Millisecond
}

// FloorDelay returns the fixed lower bound for inter-page spacing.
func (c *Controller) FloorDelay() time.Duration {
	return c.floor
}

// BaseDelay returns the current adaptive base delay.
func (c *Controller) BaseDelay() time.Duration {
	return c.base
}

// NextDelay returns the spacing to apply before the next page: the adaptive
// base plus one extra second per consecutive throttled outcome.
func (c *Controller) NextDelay(throttleStreak int) time.Duration {
	if throttleStreak < 0 {
		throttleStreak = 0
	}
	d := c.base + time.Duration(throttleStreak)*time.Second
	pacingDelaySeconds.Observe(d.Seconds())
	return d
}

// OnThrottled widens the base delay by half, up to MaxDelay. The base never
// drops below the floor, even when the floor exceeds the cap.
func (c *Controller) OnThrottled() {
	widened := c.base * 3 / 2
	if widened > c.maxDelay {
		widened = c.maxDelay
	}
	if widened < c.floor {
		widened = c.floor
	}
	c.base = widened
	pacingWidensTotal.Inc()
}

// OnSuccess snaps the base delay back to the floor.
func (c *Controller) OnSuccess() {
	c.base = c.floor
}

// Wait blocks until the quota token bucket admits the next request or the
// context ends.
func (c *Controller) Wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}
