// harvestd runs the lead harvesting daemon: an HTTP control plane over a
// single-flight harvest orchestrator with Redis-backed cooldown windows and
// run history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linkpellow/my-lead-engine-sub001/pkg/cooldown"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/harvest"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/logging"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/pacing"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/runlog"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/searchapi"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.LogLevel)
	logCfg.Pretty = cfg.LogPretty
	logging.Setup(logCfg)
	log := logging.NewLogger("harvestd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		redisClient *redis.Client
		store       cooldown.Store
		recorder    *runlog.Recorder
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
		}
		log.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("Connected to Redis")

		store = cooldown.NewRedisStore(redisClient, "")
		recorder = runlog.NewRecorder(redisClient, logging.NewLogger("runlog"))
	} else {
		log.Warn().Msg("REDIS_ADDR not set, cooldowns are in-process only and runs are not recorded")
		store = cooldown.NewMemoryStore()
	}

	searchClient, err := searchapi.New(searchapi.Config{
		BaseURL:        cfg.SearchBaseURL,
		APIKey:         cfg.SearchAPIKey,
		APIHost:        cfg.SearchAPIHost,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create search client")
	}

	pacer, err := pacing.New(pacing.Config{
		RequestsPerMinute: cfg.RequestsPerMinute,
		MinimumDelay:      cfg.MinimumDelay,
		MaxDelay:          cfg.MaxDelay,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pacer")
	}

	orch, err := harvest.New(harvest.Config{
		Fetcher:    searchClient,
		Pacer:      pacer,
		Policy:     harvest.DefaultRetryPolicy(),
		Cooldowns:  store,
		Recorder:   recorder,
		MaxPages:   cfg.MaxPages,
		MaxResults: cfg.MaxResults,
		PageLimit:  cfg.PageLimit,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create orchestrator")
	}
	manager := harvest.NewManager(orch)

	server := NewServer(cfg, log, manager, recorder, redisClient)
	if err := server.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
	log.Info().Msg("harvestd exited cleanly")
}
