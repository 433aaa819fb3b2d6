// Package runlog keeps per-target harvest bookkeeping in Redis: rolling
// counters for the dashboard's stats panel and a bounded history of recent
// runs. Both survive process restarts and are shared by every harvester
// pointed at the same Redis.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for run bookkeeping.
var runsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "leadharvest_runs_recorded_total",
	Help: "Harvest runs written to the run log by final status",
}, []string{"status"})

// HistoryLimit bounds the per-target history list.
const HistoryLimit = 100

// RunRecord is one finished harvest run.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Target     string    `json:"target"`
	Status     string    `json:"status"`
	Pages      int       `json:"pages"`
	Records    int       `json:"records"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// Recorder writes run outcomes to Redis.
type Recorder struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewRecorder creates a run log recorder.
func NewRecorder(redisClient *redis.Client, logger zerolog.Logger) *Recorder {
	return &Recorder{
		redis:  redisClient,
		logger: logger,
	}
}

func statsKey(target string) string {
	return "leadharvest:stats:" + target
}

func historyKey(target string) string {
	return "leadharvest:history:" + target
}

// Record stores one finished run: the stats hash is updated in place and the
// full record is pushed onto the history list, trimmed to HistoryLimit.
func (r *Recorder) Record(ctx context.Context, rec RunRecord) error {
	if rec.Target == "" {
		return fmt.Errorf("run record target is required")
	}
	if rec.Status == "" {
		return fmt.Errorf("run record status is required")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}

	stats := statsKey(rec.Target)
	pipe := r.redis.Pipeline()
	pipe.HSet(ctx, stats,
		"last_run_id", rec.RunID,
		"last_status", rec.Status,
		"last_run_at", rec.FinishedAt.Format(time.RFC3339),
		"last_pages", rec.Pages,
		"last_records", rec.Records,
		"last_error", rec.Error,
	)
	pipe.HIncrBy(ctx, stats, "total_runs", 1)
	pipe.HIncrBy(ctx, stats, "total_pages", int64(rec.Pages))
	pipe.HIncrBy(ctx, stats, "total_records", int64(rec.Records))
	pipe.HIncrBy(ctx, stats, "runs_"+rec.Status, 1)
	pipe.LPush(ctx, historyKey(rec.Target), payload)
	pipe.LTrim(ctx, historyKey(rec.Target), 0, HistoryLimit-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store run record: %w", err)
	}

	runsRecordedTotal.WithLabelValues(rec.Status).Inc()

	r.logger.Info().
		Str("run_id", rec.RunID).
		Str("target", rec.Target).
		Str("status", rec.Status).
		Int("pages", rec.Pages).
		Int("records", rec.Records).
		Msg("Run recorded")

	return nil
}

// History returns the most recent runs for a target, newest first. A limit
// outside (0, HistoryLimit] reads the full retained history.
func (r *Recorder) History(ctx context.Context, target string, limit int) ([]RunRecord, error) {
	if target == "" {
		return nil, fmt.Errorf("target is required")
	}
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}

	raw, err := r.redis.LRange(ctx, historyKey(target), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read run history: %w", err)
	}

	records := make([]RunRecord, 0, len(raw))
	for _, item := range raw {
		var rec RunRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			r.logger.Warn().Err(err).Str("target", target).Msg("Skipping corrupt history entry")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Stats returns the raw stats hash for a target. The map is empty when the
// target has never run.
func (r *Recorder) Stats(ctx context.Context, target string) (map[string]string, error) {
	if target == "" {
		return nil, fmt.Errorf("target is required")
	}

	stats, err := r.redis.HGetAll(ctx, statsKey(target)).Result()
	if err != nil {
		return nil, fmt.Errorf("read run stats: %w", err)
	}
	return stats, nil
}
