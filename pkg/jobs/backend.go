package jobs

import (
	"context"
	"time"

	"github.com/smontoya86/curatorq/pkg/retry"
)

const (
	// DefaultLeaseTTL is the default lease duration when reserve does not provide one.
	DefaultLeaseTTL = 30 * time.Second
	// DefaultHeartbeatWindow bounds how stale a worker heartbeat may be and
	// still count the worker as live.
	DefaultHeartbeatWindow = 15 * time.Second
)

// Lease tracks temporary ownership over a reserved job.
type Lease struct {
	JobID    string
	Token    string
	Queue    string
	ExpireAt time.Time
}

// FailedEntry is one permanently failed job record.
type FailedEntry struct {
	ID       string    `json:"id"`
	Queue    string    `json:"queue"`
	Job      *Job      `json:"job"`
	Result   *Result   `json:"result"`
	FailedAt time.Time `json:"failed_at"`
}

// FinishedEntry is one successfully completed job record.
type FinishedEntry struct {
	Job        *Job      `json:"job"`
	Result     *Result   `json:"result"`
	FinishedAt time.Time `json:"finished_at"`
}

// Backend defines the reliable job lifecycle contract used by enqueuers and
// workers: reserve/ack/nack with leases, terminal failure recording,
// success recording and worker liveness heartbeats.
type Backend interface {
	Enqueue(ctx context.Context, job *Job) error
	Reserve(ctx context.Context, queue string, leaseFor time.Duration) (*Job, *Lease, error)
	Ack(ctx context.Context, lease *Lease) error
	Nack(ctx context.Context, lease *Lease, nextRunAt time.Time, meta *retry.JobMeta) error
	Renew(ctx context.Context, lease *Lease, leaseFor time.Duration) error
	MoveToFailed(ctx context.Context, lease *Lease, result *Result, meta *retry.JobMeta) error
	RecordFinished(ctx context.Context, job *Job, result *Result) error
	Heartbeat(ctx context.Context, queue, workerID string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// Inspector exposes read-side queue state for status queries and health
// monitoring, plus replay of permanently failed jobs.
type Inspector interface {
	ListQueued(ctx context.Context, queue string, limit int) ([]*Job, error)
	ListStarted(ctx context.Context, queue string, limit int) ([]*Job, error)
	ListFailed(ctx context.Context, queue string, limit int) ([]*FailedEntry, error)
	ListFinished(ctx context.Context, queue string, limit int) ([]*FinishedEntry, error)
	ReplayFailed(ctx context.Context, queue string, ids []string) (int, error)
	QueueDepth(ctx context.Context, queue string) (int64, error)
	FailedCount(ctx context.Context, queue string) (int64, error)
	WorkerCount(ctx context.Context, queue string, window time.Duration) (int64, error)
}
