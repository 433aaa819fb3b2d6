package pacing

import (
	"context"
	"testing"
	"time"
)

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{RequestsPerMinute: 0}); err == nil {
		t.Error("Expected error for zero requests per minute")
	}
	if _, err := New(Config{RequestsPerMinute: -5}); err == nil {
		t.Error("Expected error for negative requests per minute")
	}
}

func TestFloorDelay(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected time.Duration
	}{
		{
			name:     "exact division",
			cfg:      Config{RequestsPerMinute: 30},
			expected: 2 * time.Second,
		},
		{
			name:     "one per second",
			cfg:      Config{RequestsPerMinute: 60},
			expected: time.Second,
		},
		{
			name:     "uneven division rounds up",
			cfg:      Config{RequestsPerMinute: 7},
			expected: 8572 * time.Millisecond, // ceil(60000/7)
		},
		{
			name:     "another uneven division",
			cfg:      Config{RequestsPerMinute: 45},
			expected: 1334 * time.Millisecond, // ceil(60000/45)
		},
		{
			name:     "configured minimum wins when larger",
			cfg:      Config{RequestsPerMinute: 60, MinimumDelay: 3 * time.Second},
			expected: 3 * time.Second,
		},
		{
			name:     "quota gap wins when larger",
			cfg:      Config{RequestsPerMinute: 20, MinimumDelay: time.Second},
			expected: 3 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, tt.cfg)
			if c.FloorDelay() != tt.expected {
				t.Errorf("FloorDelay() = %s, want %s", c.FloorDelay(), tt.expected)
			}
		})
	}
}

func TestNextDelay_AddsThrottleStreak(t *testing.T) {
	c := newTestController(t, Config{RequestsPerMinute: 30})

	if got := c.NextDelay(0); got != 2*time.Second {
		t.Errorf("NextDelay(0) = %s, want 2s", got)
	}
	if got := c.NextDelay(1); got != 3*time.Second {
		t.Errorf("NextDelay(1) = %s, want 3s", got)
	}
	if got := c.NextDelay(3); got != 5*time.Second {
		t.Errorf("NextDelay(3) = %s, want 5s", got)
	}
	if got := c.NextDelay(-1); got != 2*time.Second {
		t.Errorf("NextDelay(-1) = %s, want the bare base", got)
	}
}

func TestOnThrottled_WidensToCap(t *testing.T) {
	c := newTestController(t, Config{RequestsPerMinute: 30, MaxDelay: 10 * time.Second})

	want := []time.Duration{
		3 * time.Second,         // 2s * 1.5
		4500 * time.Millisecond, // 3s * 1.5
		6750 * time.Millisecond, // 4.5s * 1.5
		10 * time.Second,        // 6.75s * 1.5 = 10.125s, capped
		10 * time.Second,        // stays at the cap
	}

	for i, expected := range want {
		c.OnThrottled()
		if c.BaseDelay() != expected {
			t.Errorf("After %d widenings BaseDelay() = %s, want %s", i+1, c.BaseDelay(), expected)
		}
	}
}

func TestOnSuccess_ResetsToFloor(t *testing.T) {
	c := newTestController(t, Config{RequestsPerMinute: 30})

	c.OnThrottled()
	c.OnThrottled()
	if c.BaseDelay() <= c.FloorDelay() {
		t.Fatal("Base delay should have widened above the floor")
	}

	c.OnSuccess()
	if c.BaseDelay() != c.FloorDelay() {
		t.Errorf("BaseDelay() = %s after success, want the floor %s", c.BaseDelay(), c.FloorDelay())
	}
}

func TestBaseNeverDropsBelowFloor(t *testing.T) {
	// Floor above the widening cap: the floor still wins.
	c := newTestController(t, Config{
		RequestsPerMinute: 60,
		MinimumDelay:      12 * time.Second,
		MaxDelay:          10 * time.Second,
	})

	c.OnThrottled()
	if c.BaseDelay() < c.FloorDelay() {
		t.Errorf("BaseDelay() = %s, must never drop below the floor %s", c.BaseDelay(), c.FloorDelay())
	}

	c.OnSuccess()
	if c.BaseDelay() != c.FloorDelay() {
		t.Errorf("BaseDelay() = %s, want the floor %s", c.BaseDelay(), c.FloorDelay())
	}
}

func TestWait_EnforcesQuotaGap(t *testing.T) {
	c := newTestController(t, Config{RequestsPerMinute: 60, MinimumDelay: 300 * time.Millisecond})

	ctx := context.Background()

	// The bucket starts full, so the first wait is immediate.
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("First Wait() failed: %v", err)
	}

	start := time.Now()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Second Wait() failed: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 200*time.Millisecond {
		t.Errorf("Second Wait() returned after %s, want at least ~300ms spacing", elapsed)
	}
}

func TestWait_HonorsCancellation(t *testing.T) {
	c := newTestController(t, Config{RequestsPerMinute: 1, MinimumDelay: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())

	// Drain the initial token.
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("First Wait() failed: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := c.Wait(ctx)
	if err == nil {
		t.Fatal("Expected Wait() to fail after cancellation")
	}
	if time.Since(start) > time.Second {
		t.Errorf("Wait() took %s to notice cancellation", time.Since(start))
	}
}
