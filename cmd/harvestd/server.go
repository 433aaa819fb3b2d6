package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/linkpellow/my-lead-engine-sub001/pkg/harvest"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/runlog"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/searchapi"
)

// Server wraps the gin engine with graceful shutdown helpers.
type Server struct {
	cfg      *Config
	engine   *gin.Engine
	log      zerolog.Logger
	manager  *harvest.Manager
	recorder *runlog.Recorder
	redis    *redis.Client
}

// NewServer wires the HTTP surface over a harvest manager. recorder and
// redisClient may be nil when Redis is not configured.
func NewServer(cfg *Config, log zerolog.Logger, manager *harvest.Manager, recorder *runlog.Recorder, redisClient *redis.Client) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		log:      log,
		manager:  manager,
		recorder: recorder,
		redis:    redisClient,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	s.engine.GET("/readyz", s.handleReady)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	v1.POST("/searches", s.handleStartSearch)
	v1.GET("/searches/:id", s.handleSearchStatus)
	v1.GET("/searches/:id/records", s.handleSearchRecords)
	v1.DELETE("/searches/:id", s.handleCancelSearch)
	v1.GET("/cooldown", s.handleCooldown)
	v1.GET("/targets/:target/runs", s.handleTargetRuns)
	v1.GET("/targets/:target/stats", s.handleTargetStats)
}

// Run starts the HTTP listener and handles graceful shutdown via context
// cancellation.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr()).Msg("harvestd HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("context cancelled, shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.manager.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("harvest session did not stop cleanly")
	}
	return server.Shutdown(shutdownCtx)
}

func (s *Server) handleReady(c *gin.Context) {
	if s.redis != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

type startSearchRequest struct {
	Type       string            `json:"type"`
	Params     map[string]string `json:"params"`
	DirectURL  string            `json:"directUrl"`
	Target     string            `json:"target"`
	MaxPages   int               `json:"maxPages"`
	MaxResults int               `json:"maxResults"`
	PageLimit  int               `json:"pageLimit"`
}

func (s *Server) handleStartSearch(c *gin.Context) {
	var req startSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	query := searchapi.Query{
		ResultType: req.Type,
		Params:     req.Params,
		DirectURL:  req.DirectURL,
	}
	opts := harvest.Options{
		Target:     req.Target,
		MaxPages:   req.MaxPages,
		MaxResults: req.MaxResults,
		PageLimit:  req.PageLimit,
	}

	id, err := s.manager.Start(query, opts)
	if err != nil {
		var ce *harvest.CooldownActiveError
		switch {
		case errors.As(err, &ce):
			c.JSON(http.StatusConflict, gin.H{
				"error":     "cooldown active",
				"reason":    string(ce.Window.Reason),
				"expiresAt": ce.Window.ExpiresUnixMilli(),
			})
		case errors.Is(err, harvest.ErrSessionActive):
			c.JSON(http.StatusConflict, gin.H{
				"error":     "search already running",
				"sessionId": s.manager.ActiveID(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"sessionId": id})
}

func (s *Server) handleSearchStatus(c *gin.Context) {
	st, ok := s.manager.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}

	resp := gin.H{
		"sessionId":     st.SessionID,
		"state":         string(st.State),
		"page":          st.Page,
		"maxPages":      st.MaxPages,
		"records":       st.Records,
		"recordsPerSec": st.RecordsPerSec,
		"remainingMs":   st.Remaining.Milliseconds(),
		"startedAt":     st.StartedAt.UnixMilli(),
	}
	if st.State == harvest.StateCompleted {
		resp["reason"] = string(st.Reason)
		resp["finishedAt"] = st.FinishedAt.UnixMilli()
		if st.Message != "" {
			resp["message"] = st.Message
		}
		if st.Cooldown != nil {
			resp["cooldown"] = gin.H{
				"reason":    string(st.Cooldown.Reason),
				"expiresAt": st.Cooldown.ExpiresUnixMilli(),
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSearchRecords(c *gin.Context) {
	res, err := s.manager.Result(c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, harvest.ErrUnknownSession):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		case errors.Is(err, harvest.ErrResultNotReady):
			c.JSON(http.StatusConflict, gin.H{"error": "search still running"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": res.SessionID,
		"reason":    string(res.Reason),
		"pages":     res.Pages,
		"count":     len(res.Records),
		"records":   res.Records,
	})
}

func (s *Server) handleCancelSearch(c *gin.Context) {
	id := c.Param("id")
	if s.manager.Cancel(id) {
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
		return
	}
	if _, ok := s.manager.Status(id); ok {
		c.JSON(http.StatusConflict, gin.H{"error": "search already finished"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
}

func (s *Server) handleCooldown(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	win, err := s.manager.Cooldown(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if win == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reason":      string(win.Reason),
		"expiresAt":   win.ExpiresUnixMilli(),
		"remainingMs": win.Remaining().Milliseconds(),
	})
}

func (s *Server) handleTargetRuns(c *gin.Context) {
	if s.recorder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run log requires redis"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	target := c.Param("target")
	runs, err := s.recorder.History(c.Request.Context(), target, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"target": target, "runs": runs})
}

func (s *Server) handleTargetStats(c *gin.Context) {
	if s.recorder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run log requires redis"})
		return
	}

	target := c.Param("target")
	stats, err := s.recorder.Stats(c.Request.Context(), target)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"target": target, "stats": stats})
}
