// Package jobs implements the Redis-backed job lifecycle: enqueueing,
// leased reservation, policy-driven retries, failed/finished registries,
// owner status queries and queue health checks.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smontoya86/curatorq/pkg/retry"
)

// Job describes one logical background workload unit. Args and Kwargs are
// the handler payload; OwnerKey scopes status queries to one producer.
type Job struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Queue     string         `json:"queue"`
	Args      []any          `json:"args,omitempty"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
	OwnerKey  string         `json:"owner_key,omitempty"`
	Timeout   time.Duration  `json:"timeout,omitempty"`
	RunAt     time.Time      `json:"run_at"`
	CreatedAt time.Time      `json:"created_at"`
	Meta      *retry.JobMeta `json:"meta,omitempty"`
}

// Validate checks the required fields used by runtime behavior.
func (j *Job) Validate() error {
	if j == nil {
		return jobsError(ErrValidation, "job is nil")
	}
	if strings.TrimSpace(j.ID) == "" {
		return jobsError(ErrValidation, "job id is required")
	}
	if strings.TrimSpace(j.Name) == "" {
		return jobsError(ErrValidation, "job name is required")
	}
	if strings.TrimSpace(j.Queue) == "" {
		return jobsError(ErrValidation, "job queue is required")
	}
	if j.Timeout < 0 {
		return jobsError(ErrValidation, "job timeout must be >= 0")
	}
	return nil
}

// OwnedBy reports whether this job belongs to ownerKey, matching either the
// explicit owner field or the first positional argument.
func (j *Job) OwnedBy(ownerKey string) bool {
	ownerKey = strings.TrimSpace(ownerKey)
	if j == nil || ownerKey == "" {
		return false
	}
	if strings.TrimSpace(j.OwnerKey) == ownerKey {
		return true
	}
	if len(j.Args) > 0 {
		if first, ok := j.Args[0].(string); ok && strings.TrimSpace(first) == ownerKey {
			return true
		}
	}
	return false
}

// Result is the structured outcome persisted alongside a completed job.
type Result struct {
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	ErrorType     string         `json:"error_type,omitempty"`
	ErrorCategory retry.Category `json:"error_category,omitempty"`
}

// FailureResult builds a failure Result from an error, classifying it.
func FailureResult(err error) *Result {
	if err == nil {
		return &Result{Success: true}
	}
	return &Result{
		Success:       false,
		Error:         err.Error(),
		ErrorType:     errorTypeName(err),
		ErrorCategory: retry.Classify(err),
	}
}

// errorTypeName names the root cause type, so failed-job records stay
// meaningful after the error value itself is gone.
func errorTypeName(err error) string {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

// envelope is the JSON wire format for queued payloads.
type envelope struct {
	Job *Job `json:"job"`
}

func encodeJob(job *Job) (string, error) {
	data, err := json.Marshal(envelope{Job: job})
	if err != nil {
		return "", errors.Join(jobsError(ErrValidation, "marshal job envelope failed"), err)
	}
	return string(data), nil
}

func decodeJob(raw string) (*Job, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, errors.Join(jobsError(ErrValidation, "decode job envelope failed"), err)
	}
	if env.Job == nil {
		return nil, jobsError(ErrValidation, "job envelope is empty")
	}
	return env.Job, nil
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	out := *job
	if job.Args != nil {
		out.Args = make([]any, len(job.Args))
		copy(out.Args, job.Args)
	}
	if job.Kwargs != nil {
		out.Kwargs = make(map[string]any, len(job.Kwargs))
		for k, v := range job.Kwargs {
			out.Kwargs[k] = v
		}
	}
	if job.Meta != nil {
		out.Meta = job.Meta.Clone()
	}
	return &out
}

func cloneLease(lease *Lease) *Lease {
	if lease == nil {
		return nil
	}
	out := *lease
	return &out
}
