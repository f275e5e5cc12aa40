package retry

import "time"

// FailureRecord is one entry in a job's append-only failure history.
type FailureRecord struct {
	Attempt       int       `json:"attempt"`
	Timestamp     time.Time `json:"timestamp"`
	Error         string    `json:"error"`
	ErrorType     string    `json:"error_type"`
	ErrorCategory Category  `json:"error_category"`
}

// JobMeta carries per-job retry bookkeeping. It is created at enqueue time,
// mutated once per failed attempt by the worker that holds the job's lease,
// and persisted alongside the job in the broker so it survives process
// restarts. Once FinalFailure is set (or the job succeeds) it is no longer
// mutated.
type JobMeta struct {
	RetryCount         int             `json:"retry_count"`
	MaxAttempts        int             `json:"max_attempts"`
	CreatedAt          time.Time       `json:"created_at"`
	CurrentAttempt     int             `json:"current_attempt"`
	LastError          string          `json:"last_error,omitempty"`
	ErrorCategory      Category        `json:"error_category,omitempty"`
	FailureHistory     []FailureRecord `json:"failure_history"`
	FinalFailure       bool            `json:"final_failure"`
	FinalError         string          `json:"final_error,omitempty"`
	FinalErrorCategory Category        `json:"final_error_category,omitempty"`
	TotalAttempts      int             `json:"total_attempts,omitempty"`
	NextRetryTime      *time.Time      `json:"next_retry_time,omitempty"`
	OwnerKey           string          `json:"owner_key,omitempty"`
}

// NewJobMeta creates enqueue-time metadata for a job governed by the given
// policy: zero retries so far, an empty failure history, and the total
// attempt budget derived from the policy's retry limit.
func NewJobMeta(policy Policy, ownerKey string) *JobMeta {
	policy.normalize()
	return &JobMeta{
		RetryCount:     0,
		MaxAttempts:    policy.MaxRetries + 1,
		CreatedAt:      time.Now().UTC(),
		FailureHistory: []FailureRecord{},
		OwnerKey:       ownerKey,
	}
}

// Clone returns a deep copy so callers can mutate bookkeeping without
// aliasing persisted state.
func (m *JobMeta) Clone() *JobMeta {
	if m == nil {
		return nil
	}
	out := *m
	if m.NextRetryTime != nil {
		next := *m.NextRetryTime
		out.NextRetryTime = &next
	}
	out.FailureHistory = make([]FailureRecord, len(m.FailureHistory))
	copy(out.FailureHistory, m.FailureHistory)
	return &out
}
