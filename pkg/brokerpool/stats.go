package brokerpool

import (
	"sync"
	"time"
)

// maxRecentErrors bounds the rolling error list.
const maxRecentErrors = 50

// ErrorRecord is one entry in the rolling list of recent connection errors.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
}

// StatsSnapshot is a read-only copy of the manager's connection statistics.
type StatsSnapshot struct {
	StartedAt          time.Time     `json:"started_at"`
	Uptime             time.Duration `json:"uptime"`
	ConnectionAttempts int64         `json:"connection_attempts"`
	FailedConnections  int64         `json:"failed_connections"`
	PingSuccesses      int64         `json:"ping_successes"`
	PingFailures       int64         `json:"ping_failures"`
	RecentErrors       []ErrorRecord `json:"recent_errors"`
}

// HealthStats tracks rolling connection statistics for one manager. All
// mutation happens under the mutex; readers get snapshots.
type HealthStats struct {
	mu                 sync.Mutex
	startedAt          time.Time
	connectionAttempts int64
	failedConnections  int64
	pingSuccesses      int64
	pingFailures       int64
	recentErrors       []ErrorRecord
}

func newHealthStats() *HealthStats {
	return &HealthStats{startedAt: time.Now().UTC()}
}

func (s *HealthStats) recordAttempt(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectionAttempts++
	if err != nil {
		s.failedConnections++
		s.appendErrorLocked(err)
		recordConnectAttempt("failure")
		return
	}
	recordConnectAttempt("success")
}

func (s *HealthStats) recordPing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.pingFailures++
		s.appendErrorLocked(err)
		recordPing("failure")
		return
	}
	s.pingSuccesses++
	recordPing("success")
}

func (s *HealthStats) appendErrorLocked(err error) {
	s.recentErrors = append(s.recentErrors, ErrorRecord{
		Timestamp: time.Now().UTC(),
		Error:     err.Error(),
	})
	if len(s.recentErrors) > maxRecentErrors {
		s.recentErrors = s.recentErrors[len(s.recentErrors)-maxRecentErrors:]
	}
}

func (s *HealthStats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	errorsCopy := make([]ErrorRecord, len(s.recentErrors))
	copy(errorsCopy, s.recentErrors)
	return StatsSnapshot{
		StartedAt:          s.startedAt,
		Uptime:             time.Since(s.startedAt),
		ConnectionAttempts: s.connectionAttempts,
		FailedConnections:  s.failedConnections,
		PingSuccesses:      s.pingSuccesses,
		PingFailures:       s.pingFailures,
		RecentErrors:       errorsCopy,
	}
}
