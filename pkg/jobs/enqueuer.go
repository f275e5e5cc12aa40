package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smontoya86/curatorq/pkg/observability/logger"
	"github.com/smontoya86/curatorq/pkg/observability/tracing"
	"github.com/smontoya86/curatorq/pkg/retry"
)

// Precondition guards an enqueue request. A non-nil error aborts the enqueue
// before anything touches the broker.
type Precondition func(ctx context.Context, req *EnqueueRequest) error

// EnqueueRequest describes a job to enqueue.
type EnqueueRequest struct {
	Name     string
	Queue    string
	Args     []any
	Kwargs   map[string]any
	OwnerKey string
	Timeout  time.Duration
	RunAt    time.Time
	Policy   *retry.Policy
}

// JobHandle identifies an accepted job.
type JobHandle struct {
	JobID      string
	Queue      string
	OwnerKey   string
	EnqueuedAt time.Time
}

// EnqueuerConfig sets defaults applied to requests that omit them.
type EnqueuerConfig struct {
	DefaultQueue   string
	DefaultTimeout time.Duration
	Policy         retry.Policy
	Precondition   Precondition
}

func (c *EnqueuerConfig) normalize() {
	if strings.TrimSpace(c.DefaultQueue) == "" {
		c.DefaultQueue = "default"
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultWorkerAttemptTimeout
	}
	if c.Policy.Name == "" {
		c.Policy = retry.DefaultPolicy()
	}
}

// Enqueuer pushes job descriptors onto broker queues with fresh retry
// metadata. Failures never propagate as panics: callers get a nil handle and
// the error, already logged.
type Enqueuer struct {
	backend Backend
	log     logger.Logger
	config  EnqueuerConfig
}

// NewEnqueuer creates an enqueuer bound to a backend.
func NewEnqueuer(backend Backend, log logger.Logger, cfg EnqueuerConfig) (*Enqueuer, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	return &Enqueuer{backend: backend, log: log, config: cfg}, nil
}

// Enqueue validates the request, runs the precondition hook and pushes the
// job. On precondition or broker failure it returns a nil handle with the
// error; the caller decides whether that failure is fatal.
func (e *Enqueuer) Enqueue(ctx context.Context, req *EnqueueRequest) (*JobHandle, error) {
	if e == nil || e.backend == nil {
		return nil, jobsError(ErrNotInitialized, "enqueuer is not initialized")
	}
	if req == nil {
		return nil, jobsError(ErrValidation, "request is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, jobsError(ErrValidation, "job name is required")
	}

	if e.config.Precondition != nil {
		if err := e.config.Precondition(ctx, req); err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrPreconditionFailed, err)
			e.log.Warn("enqueue precondition rejected job",
				"job_name", req.Name, "owner_key", req.OwnerKey, "error", err)
			return nil, wrapped
		}
	}

	queue := strings.TrimSpace(req.Queue)
	if queue == "" {
		queue = e.config.DefaultQueue
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	policy := e.config.Policy
	if req.Policy != nil {
		policy = *req.Policy
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Queue:     queue,
		Args:      req.Args,
		Kwargs:    req.Kwargs,
		OwnerKey:  strings.TrimSpace(req.OwnerKey),
		Timeout:   timeout,
		RunAt:     req.RunAt.UTC(),
		CreatedAt: now,
		Meta:      retry.NewJobMeta(policy, strings.TrimSpace(req.OwnerKey)),
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}

	traceCtx, span := tracing.StartMessagingSpan(
		ctx,
		tracing.SpanOperationMsgPublish,
		tracing.WithMessagingSystem("curatorq"),
		tracing.WithMessagingDestination(job.Queue),
		tracing.WithMessagingMessageID(job.ID),
	)
	defer span.End()

	if err := e.backend.Enqueue(traceCtx, job); err != nil {
		tracing.RecordError(span, err)
		e.log.Error("enqueue failed",
			"job_name", job.Name, "queue", job.Queue, "owner_key", job.OwnerKey, "error", err)
		return nil, err
	}
	tracing.RecordSuccess(span)

	e.log.Info("job enqueued",
		"job_id", job.ID, "job_name", job.Name, "queue", job.Queue, "owner_key", job.OwnerKey)
	return &JobHandle{
		JobID:      job.ID,
		Queue:      job.Queue,
		OwnerKey:   job.OwnerKey,
		EnqueuedAt: now,
	}, nil
}
