package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smontoya86/curatorq/pkg/observability/logger"
	"github.com/smontoya86/curatorq/pkg/resilience"
	"github.com/smontoya86/curatorq/pkg/retry"
)

const (
	// Status queries are bounded so one hot owner cannot drag whole-queue
	// scans into every poll.
	maxFailedInStatus   = 10
	maxFinishedInStatus = 5

	statusScanLimit = 200

	defaultStatusBreakerFailures = 5
	defaultStatusBreakerCooldown = 30 * time.Second
)

// JobSummary is a compact job view for status responses.
type JobSummary struct {
	JobID   string `json:"job_id"`
	Name    string `json:"name"`
	Queue   string `json:"queue"`
	State   string `json:"state"`
	Attempt int    `json:"attempt,omitempty"`
}

// FailedSummary describes one permanently failed job with its retry history.
type FailedSummary struct {
	JobID         string         `json:"job_id"`
	Name          string         `json:"name"`
	Queue         string         `json:"queue"`
	Error         string         `json:"error,omitempty"`
	ErrorCategory retry.Category `json:"error_category,omitempty"`
	FailedAt      time.Time      `json:"failed_at"`
	RetryStats    retry.Stats    `json:"retry_stats"`
}

// FinishedSummary describes one recently completed job.
type FinishedSummary struct {
	JobID      string    `json:"job_id"`
	Name       string    `json:"name"`
	Queue      string    `json:"queue"`
	FinishedAt time.Time `json:"finished_at"`
}

// OwnerStatus aggregates one owner's job activity. Error is populated instead
// of returning an error: status polling must never break the caller.
type OwnerStatus struct {
	OwnerKey          string            `json:"owner_key"`
	ActiveJobs        []JobSummary      `json:"active_jobs"`
	FailedJobs        []FailedSummary   `json:"failed_jobs"`
	FinishedJobs      []FinishedSummary `json:"finished_jobs"`
	ActiveCount       int               `json:"active_count"`
	FailedCount       int               `json:"failed_count"`
	FinishedCount     int               `json:"finished_count"`
	HasActive         bool              `json:"has_active"`
	HasRecentFailures bool              `json:"has_recent_failures"`
	CheckedAt         time.Time         `json:"checked_at"`
	Error             string            `json:"error,omitempty"`
}

// StatusService answers owner-scoped status queries over the job registries.
// Broker reads go through a circuit breaker so a dead broker degrades to fast
// errored responses instead of piling up timeouts.
type StatusService struct {
	inspector Inspector
	queues    []string
	log       logger.Logger
	breaker   *resilience.CircuitBreaker
}

// NewStatusService creates a status service scanning the given queues.
func NewStatusService(inspector Inspector, queues []string, log logger.Logger) (*StatusService, error) {
	if inspector == nil {
		return nil, errors.New("inspector is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	trimmed := make([]string, 0, len(queues))
	for _, queue := range queues {
		if q := strings.TrimSpace(queue); q != "" {
			trimmed = append(trimmed, q)
		}
	}
	if len(trimmed) == 0 {
		return nil, errors.New("at least one queue is required")
	}
	return &StatusService{
		inspector: inspector,
		queues:    trimmed,
		log:       log,
		breaker:   resilience.NewCircuitBreaker(defaultStatusBreakerFailures, defaultStatusBreakerCooldown),
	}, nil
}

// OwnerStatus reports the owner's active, failed and finished jobs. It never
// returns an error: lookup failures produce a zeroed result with Error set.
func (s *StatusService) OwnerStatus(ctx context.Context, ownerKey string) *OwnerStatus {
	status := &OwnerStatus{
		OwnerKey:     strings.TrimSpace(ownerKey),
		ActiveJobs:   []JobSummary{},
		FailedJobs:   []FailedSummary{},
		FinishedJobs: []FinishedSummary{},
		CheckedAt:    time.Now().UTC(),
	}
	if status.OwnerKey == "" {
		return status
	}

	err := s.breaker.Execute(func() error {
		return s.collect(ctx, status)
	})
	if err != nil {
		s.log.Warn("owner status lookup failed", "owner_key", status.OwnerKey, "error", err)
		*status = OwnerStatus{
			OwnerKey:     status.OwnerKey,
			ActiveJobs:   []JobSummary{},
			FailedJobs:   []FailedSummary{},
			FinishedJobs: []FinishedSummary{},
			CheckedAt:    status.CheckedAt,
			Error:        err.Error(),
		}
		return status
	}

	status.ActiveCount = len(status.ActiveJobs)
	status.FailedCount = len(status.FailedJobs)
	status.FinishedCount = len(status.FinishedJobs)
	status.HasActive = status.ActiveCount > 0
	status.HasRecentFailures = status.FailedCount > 0
	return status
}

func (s *StatusService) collect(ctx context.Context, status *OwnerStatus) error {
	for _, queue := range s.queues {
		queued, err := s.inspector.ListQueued(ctx, queue, statusScanLimit)
		if err != nil {
			return err
		}
		for _, job := range queued {
			if job.OwnedBy(status.OwnerKey) {
				status.ActiveJobs = append(status.ActiveJobs, summarize(job, "queued"))
			}
		}

		started, err := s.inspector.ListStarted(ctx, queue, statusScanLimit)
		if err != nil {
			return err
		}
		for _, job := range started {
			if job.OwnedBy(status.OwnerKey) {
				status.ActiveJobs = append(status.ActiveJobs, summarize(job, "started"))
			}
		}

		failed, err := s.inspector.ListFailed(ctx, queue, statusScanLimit)
		if err != nil {
			return err
		}
		for _, entry := range failed {
			if len(status.FailedJobs) >= maxFailedInStatus {
				break
			}
			if entry.Job == nil || !entry.Job.OwnedBy(status.OwnerKey) {
				continue
			}
			summary := FailedSummary{
				JobID:      entry.Job.ID,
				Name:       entry.Job.Name,
				Queue:      entry.Queue,
				FailedAt:   entry.FailedAt,
				RetryStats: retry.RetryStats(entry.Job.Meta),
			}
			if entry.Result != nil {
				summary.Error = entry.Result.Error
				summary.ErrorCategory = entry.Result.ErrorCategory
			}
			status.FailedJobs = append(status.FailedJobs, summary)
		}

		finished, err := s.inspector.ListFinished(ctx, queue, statusScanLimit)
		if err != nil {
			return err
		}
		for _, entry := range finished {
			if len(status.FinishedJobs) >= maxFinishedInStatus {
				break
			}
			if entry.Job == nil || !entry.Job.OwnedBy(status.OwnerKey) {
				continue
			}
			status.FinishedJobs = append(status.FinishedJobs, FinishedSummary{
				JobID:      entry.Job.ID,
				Name:       entry.Job.Name,
				Queue:      entry.Job.Queue,
				FinishedAt: entry.FinishedAt,
			})
		}
	}
	return nil
}

func summarize(job *Job, state string) JobSummary {
	summary := JobSummary{
		JobID: job.ID,
		Name:  job.Name,
		Queue: job.Queue,
		State: state,
	}
	if job.Meta != nil {
		summary.Attempt = job.Meta.RetryCount + 1
	}
	return summary
}
