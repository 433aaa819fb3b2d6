package harvest

import (
	"time"

	"github.com/linkpellow/my-lead-engine-sub001/pkg/searchapi"
)

// SessionState describes where a session is in its lifecycle.
type SessionState string

const (
	// StateIdle means the session has been created but not started.
	StateIdle SessionState = "idle"

	// StateFetching means a page request is in flight or about to be.
	StateFetching SessionState = "fetching"

	// StateRetrying means the session is waiting out a backoff before
	// re-fetching the current page.
	StateRetrying SessionState = "retrying"

	// StateCompleted means the session has terminated, for any reason.
	StateCompleted SessionState = "completed"
)

// TerminationReason records why a session ended.
type TerminationReason string

const (
	// ReasonCompleted means the harvest ran out of pages, hit its page
	// ceiling, or collected enough records.
	ReasonCompleted TerminationReason = "completed"

	// ReasonCircuitTripped means consecutive throttling tripped the
	// circuit breaker or exhausted the retry budget.
	ReasonCircuitTripped TerminationReason = "circuit_tripped"

	// ReasonFrozen means the upstream suspended the account.
	ReasonFrozen TerminationReason = "account_frozen"

	// ReasonFailed means a non-retryable upstream or transport failure.
	ReasonFailed TerminationReason = "failed"

	// ReasonCancelled means the caller cancelled the context.
	ReasonCancelled TerminationReason = "cancelled"
)

// Session tracks the state of one harvest.
type Session struct {
	ID             string
	Query          searchapi.Query
	MaxPages       int
	MaxResults     int
	PageLimit      int
	Records        []searchapi.Record
	CurrentPage    int
	ThrottleStreak int
	State          SessionState
	StartedAt      time.Time
	LastRetryAfter time.Duration
}

func newSession(id string, query searchapi.Query, maxPages, maxResults, pageLimit int) *Session {
	return &Session{
		ID:          id,
		Query:       query,
		MaxPages:    maxPages,
		MaxResults:  maxResults,
		PageLimit:   pageLimit,
		CurrentPage: 1,
		State:       StateIdle,
		StartedAt:   time.Now(),
	}
}

// appendRecords folds one page of records into the session, truncating so the
// total never exceeds MaxResults. Returns the number actually kept.
func (s *Session) appendRecords(page []searchapi.Record) int {
	room := s.MaxResults - len(s.Records)
	if room <= 0 {
		return 0
	}
	if len(page) > room {
		page = page[:room]
	}
	s.Records = append(s.Records, page...)
	return len(page)
}

// full reports whether the session has reached its records target.
func (s *Session) full() bool {
	return len(s.Records) >= s.MaxResults
}

// Progress is a point-in-time snapshot delivered to ProgressFunc after every
// page transition and once at termination.
type Progress struct {
	SessionID     string
	Page          int
	MaxPages      int
	Records       int
	PageGain      int
	RecordsPerSec float64
	Remaining     time.Duration
	State         SessionState
}

// ProgressFunc receives progress snapshots. Callbacks run on the
// orchestrator's goroutine, so they must return quickly.
type ProgressFunc func(Progress)

// snapshot builds a progress report. knownTotal caps the remaining-time
// estimate when the upstream has reported how many records exist; zero means
// unknown.
func (s *Session) snapshot(pageGain, knownTotal int) Progress {
	records := len(s.Records)

	var perSec float64
	if elapsed := time.Since(s.StartedAt); elapsed > 0 && records > 0 {
		perSec = float64(records) / elapsed.Seconds()
	}

	target := s.MaxResults
	if knownTotal > 0 && knownTotal < target {
		target = knownTotal
	}
	var remaining time.Duration
	if perSec > 0 && target > records {
		remaining = time.Duration(float64(target-records) / perSec * float64(time.Second))
	}

	return Progress{
		SessionID:     s.ID,
		Page:          s.CurrentPage,
		MaxPages:      s.MaxPages,
		Records:       records,
		PageGain:      pageGain,
		RecordsPerSec: perSec,
		Remaining:     remaining,
		State:         s.State,
	}
}
