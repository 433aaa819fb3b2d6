package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/linkpellow/my-lead-engine-sub001/pkg/cooldown"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/logging"
	"github.com/linkpellow/my-lead-engine-sub001/pkg/searchapi"
)

// maxFinishedJobs bounds the finished-session history kept for polling.
const maxFinishedJobs = 20

var (
	// ErrUnknownSession is returned for session IDs the manager has never
	// seen or has already evicted.
	ErrUnknownSession = errors.New("unknown harvest session")

	// ErrResultNotReady is returned when records are requested before the
	// session finishes.
	ErrResultNotReady = errors.New("harvest session still running")
)

// JobStatus is a polling snapshot of a session for the HTTP surface.
type JobStatus struct {
	SessionID     string
	Target        string
	State         SessionState
	Page          int
	MaxPages      int
	Records       int
	RecordsPerSec float64
	Remaining     time.Duration
	Reason        TerminationReason
	Message       string
	Cooldown      *cooldown.Window
	StartedAt     time.Time
	FinishedAt    time.Time
}

type job struct {
	id     string
	cancel context.CancelFunc
	status JobStatus
	result *Result
	done   chan struct{}
}

// Manager runs sessions in the background so HTTP handlers can start, poll
// and cancel them without blocking.
type Manager struct {
	orch   *Orchestrator
	logger zerolog.Logger

	mu       sync.Mutex
	active   *job
	finished map[string]*job
	order    []string
}

// NewManager wraps an orchestrator for asynchronous use.
func NewManager(orch *Orchestrator) *Manager {
	return &Manager{
		orch:     orch,
		logger:   logging.NewLogger("harvest-manager"),
		finished: make(map[string]*job),
	}
}

// Start launches a session in the background and returns its ID. An active
// session or cooldown window rejects the start synchronously.
func (m *Manager) Start(query searchapi.Query, opts Options) (string, error) {
	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 2*time.Second)
	win, err := m.orch.Cooldown(checkCtx)
	cancelCheck()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Cooldown lookup failed, continuing without it")
	} else if win != nil {
		return "", &CooldownActiveError{Window: *win}
	}

	id := uuid.NewString()
	opts.SessionID = id

	runCtx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		status: JobStatus{
			SessionID: id,
			Target:    opts.Target,
			State:     StateIdle,
			StartedAt: time.Now(),
		},
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		cancel()
		return "", ErrSessionActive
	}
	m.active = j
	m.mu.Unlock()

	go m.run(runCtx, j, query, opts)

	return id, nil
}

func (m *Manager) run(ctx context.Context, j *job, query searchapi.Query, opts Options) {
	defer j.cancel()

	res, err := m.orch.Run(ctx, query, opts, func(p Progress) {
		m.mu.Lock()
		j.status.State = p.State
		j.status.Page = p.Page
		j.status.MaxPages = p.MaxPages
		j.status.Records = p.Records
		j.status.RecordsPerSec = p.RecordsPerSec
		j.status.Remaining = p.Remaining
		m.mu.Unlock()
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	j.status.State = StateCompleted
	j.status.FinishedAt = time.Now()
	if err != nil {
		// Pre-flight rejection lost a race with another writer.
		j.status.Reason = ReasonFailed
		j.status.Message = err.Error()
		m.logger.Error().Err(err).Str("session_id", j.id).Msg("Session rejected after start")
	} else {
		j.result = res
		j.status.Reason = res.Reason
		j.status.Message = res.Message
		j.status.Cooldown = res.Cooldown
		j.status.Records = len(res.Records)
	}
	close(j.done)

	m.active = nil
	m.finished[j.id] = j
	m.order = append(m.order, j.id)
	for len(m.order) > maxFinishedJobs {
		delete(m.finished, m.order[0])
		m.order = m.order[1:]
	}
}

// Status returns a snapshot of a running or recently finished session.
func (m *Manager) Status(id string) (*JobStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.id == id {
		st := m.active.status
		return &st, true
	}
	if j, ok := m.finished[id]; ok {
		st := j.status
		return &st, true
	}
	return nil, false
}

// Result returns the outcome of a finished session.
func (m *Manager) Result(id string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.id == id {
		return nil, ErrResultNotReady
	}
	j, ok := m.finished[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	if j.result == nil {
		return nil, fmt.Errorf("session %s: %s", id, j.status.Message)
	}
	return j.result, nil
}

// Cancel stops the active session. Returns false when the ID does not match
// the active session.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	j := m.active
	m.mu.Unlock()

	if j == nil || j.id != id {
		return false
	}
	j.cancel()
	return true
}

// ActiveID returns the running session's ID, or empty when idle.
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return ""
	}
	return m.active.id
}

// Cooldown returns the active cooldown window, or nil when none is in
// effect.
func (m *Manager) Cooldown(ctx context.Context) (*cooldown.Window, error) {
	return m.orch.Cooldown(ctx)
}

// Shutdown cancels the active session and waits for it to settle, bounded
// by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	j := m.active
	m.mu.Unlock()

	if j == nil {
		return nil
	}
	j.cancel()

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
