package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/smontoya86/curatorq/pkg/observability/logger"
	"github.com/smontoya86/curatorq/pkg/observability/tracing"
	"github.com/smontoya86/curatorq/pkg/resilience"
	"github.com/smontoya86/curatorq/pkg/retry"
)

const (
	DefaultWorkerReserveTimeout    = time.Second
	DefaultWorkerStopTimeout       = 10 * time.Second
	DefaultWorkerAttemptTimeout    = 30 * time.Second
	DefaultWorkerHeartbeatInterval = 5 * time.Second

	minWorkerLeaseRenewInterval = 100 * time.Millisecond
)

// Handler executes one job attempt. The WorkContext is built fresh for every
// invocation and must not be retained across attempts.
type Handler func(ctx context.Context, wc *WorkContext) error

// WorkContext carries per-invocation state into a handler.
type WorkContext struct {
	Job     *Job
	Attempt int
	Log     logger.Logger
}

// Arg returns the positional argument at index i, or nil when absent.
func (wc *WorkContext) Arg(i int) any {
	if wc == nil || wc.Job == nil || i < 0 || i >= len(wc.Job.Args) {
		return nil
	}
	return wc.Job.Args[i]
}

// Kwarg returns the named keyword argument, or nil when absent.
func (wc *WorkContext) Kwarg(name string) any {
	if wc == nil || wc.Job == nil || wc.Job.Kwargs == nil {
		return nil
	}
	return wc.Job.Kwargs[name]
}

// WorkerConfig configures worker lifecycle, concurrency and retry defaults.
type WorkerConfig struct {
	Queues            []string
	Concurrency       int
	LeaseTTL          time.Duration
	ReserveTimeout    time.Duration
	StopTimeout       time.Duration
	AttemptTimeout    time.Duration
	HeartbeatInterval time.Duration
	Policy            retry.Policy
}

func (c *WorkerConfig) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	if c.ReserveTimeout <= 0 {
		c.ReserveTimeout = DefaultWorkerReserveTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultWorkerStopTimeout
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultWorkerAttemptTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultWorkerHeartbeatInterval
	}
	if c.Policy.Name == "" {
		c.Policy = retry.DefaultPolicy()
	}
}

type registration struct {
	handler Handler
	policy  retry.Policy
}

// Worker defines a background jobs worker lifecycle.
type Worker interface {
	Register(jobName string, handler Handler) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RuntimeWorker processes jobs from backend queues. Failed attempts run
// through the retry policy: retryable failures are requeued with backoff,
// terminal failures are recorded in the failed registry and never loop.
type RuntimeWorker struct {
	backend Backend
	log     logger.Logger
	config  WorkerConfig
	id      string

	mu       sync.RWMutex
	handlers map[string]registration

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewWorker creates a worker from backend + configuration.
func NewWorker(backend Backend, log logger.Logger, cfg WorkerConfig) (*RuntimeWorker, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	if len(cfg.Queues) == 0 {
		return nil, errors.New("at least one queue is required")
	}

	queues := make([]string, 0, len(cfg.Queues))
	for _, queue := range cfg.Queues {
		trimmed := strings.TrimSpace(queue)
		if trimmed != "" {
			queues = append(queues, trimmed)
		}
	}
	if len(queues) == 0 {
		return nil, errors.New("at least one non-empty queue is required")
	}
	cfg.Queues = queues

	return &RuntimeWorker{
		backend:  backend,
		log:      log,
		config:   cfg,
		id:       uuid.NewString(),
		handlers: map[string]registration{},
	}, nil
}

// ID returns the worker's heartbeat identity.
func (w *RuntimeWorker) ID() string {
	if w == nil {
		return ""
	}
	return w.id
}

// Register binds a handler to a logical job name under the worker's default
// retry policy.
func (w *RuntimeWorker) Register(jobName string, handler Handler) error {
	return w.RegisterWithPolicy(jobName, handler, w.config.Policy)
}

// RegisterWithPolicy binds a handler with a per-job retry policy.
func (w *RuntimeWorker) RegisterWithPolicy(jobName string, handler Handler, policy retry.Policy) error {
	if w == nil {
		return errors.New("worker is not initialized")
	}
	jobName = strings.TrimSpace(jobName)
	if jobName == "" {
		return errors.New("job name is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobName] = registration{handler: handler, policy: policy}
	return nil
}

// Start launches worker loops and blocks until context cancellation.
func (w *RuntimeWorker) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("worker is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	w.lifecycleMu.Lock()
	if w.running {
		w.lifecycleMu.Unlock()
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.lifecycleMu.Unlock()

	for _, queue := range w.config.Queues {
		for idx := 0; idx < w.config.Concurrency; idx++ {
			w.wg.Add(1)
			go w.runQueueLoop(runCtx, queue)
		}
	}

	<-runCtx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), w.config.StopTimeout)
	defer stopCancel()
	return w.Stop(stopCtx)
}

// Stop requests graceful shutdown and waits for active workers to finish.
func (w *RuntimeWorker) Stop(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w.lifecycleMu.Lock()
	if !w.running {
		w.lifecycleMu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.cancel = nil
	w.running = false
	w.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		return w.backend.Close()
	}
}

func (w *RuntimeWorker) runQueueLoop(ctx context.Context, queue string) {
	defer w.wg.Done()

	var lastBeat time.Time
	for {
		if ctx.Err() != nil {
			return
		}

		if time.Since(lastBeat) >= w.config.HeartbeatInterval {
			if err := w.backend.Heartbeat(ctx, queue, w.id); err != nil && ctx.Err() == nil {
				w.log.Warn("worker heartbeat failed", "queue", queue, "error", err)
			}
			lastBeat = time.Now()
		}

		reserveCtx, cancel := context.WithTimeout(ctx, w.config.ReserveTimeout)
		job, lease, err := w.backend.Reserve(reserveCtx, queue, w.config.LeaseTTL)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.log.Warn("jobs reserve failed", "queue", queue, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}
		if job == nil || lease == nil {
			continue
		}

		incrementJobInFlight(queue)
		if err := w.process(ctx, job, lease); err != nil {
			w.log.Warn("jobs processing failed", "queue", queue, "job_id", job.ID, "job_name", job.Name, "error", err)
			recordJobProcessed(queue, job.Name, "error")
		}
		decrementJobInFlight(queue)
	}
}

func (w *RuntimeWorker) process(ctx context.Context, job *Job, lease *Lease) error {
	traceCtx, span := tracing.StartMessagingSpan(
		ctx,
		tracing.SpanOperationMsgProcess,
		tracing.WithMessagingSystem("curatorq"),
		tracing.WithMessagingDestination(job.Queue),
		tracing.WithMessagingMessageID(job.ID),
	)
	attempt := 1
	if job.Meta != nil {
		attempt = job.Meta.RetryCount + 1
	}
	span.SetAttributes(
		attribute.String("jobs.job_name", strings.TrimSpace(job.Name)),
		attribute.Int("jobs.attempt", attempt),
	)
	defer span.End()

	reg, found := w.lookupHandler(job.Name)
	if !found {
		missingHandlerErr := fmt.Errorf("%w: %q", ErrHandlerNotRegistered, job.Name)
		tracing.RecordError(span, missingHandlerErr)
		return w.handleFailure(traceCtx, job, lease, w.config.Policy, missingHandlerErr)
	}

	stopRenew, renewDone := w.startLeaseRenewal(traceCtx, lease)
	execErr := w.executeHandler(traceCtx, job, attempt, reg.handler)
	stopRenew()
	renewErr := <-renewDone
	if renewErr != nil {
		if execErr != nil {
			execErr = errors.Join(execErr, renewErr)
		} else {
			execErr = renewErr
		}
	}

	if execErr != nil {
		tracing.RecordError(span, execErr)
		return w.handleFailure(traceCtx, job, lease, reg.policy, execErr)
	}

	if err := w.backend.Ack(traceCtx, lease); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("ack failed: %w", err)
	}
	if err := w.backend.RecordFinished(traceCtx, job, &Result{Success: true}); err != nil {
		w.log.Warn("record finished failed", "queue", job.Queue, "job_id", job.ID, "error", err)
	}
	recordJobProcessed(job.Queue, job.Name, "success")
	tracing.RecordSuccess(span)
	return nil
}

func (w *RuntimeWorker) executeHandler(ctx context.Context, job *Job, attempt int, handler Handler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while handling job: %v; stack=%s", rec, string(debug.Stack()))
		}
	}()

	timeout := w.config.AttemptTimeout
	if job.Timeout > 0 {
		timeout = job.Timeout
	}
	jobCtx := logger.ContextWithJob(ctx, job.ID, job.OwnerKey)

	return resilience.WithTimeout(jobCtx, timeout, func(runCtx context.Context) error {
		wc := &WorkContext{
			Job:     cloneJob(job),
			Attempt: attempt,
			Log:     w.log.WithContext(jobCtx),
		}
		return handler(runCtx, wc)
	})
}

func (w *RuntimeWorker) handleFailure(ctx context.Context, job *Job, lease *Lease, policy retry.Policy, failure error) error {
	meta := job.Meta
	if meta == nil {
		meta = retry.NewJobMeta(policy, job.OwnerKey)
	} else {
		meta = meta.Clone()
	}

	decision := policy.HandleFailure(meta, failure)
	category := string(retry.Classify(failure))

	if decision.Requeue() {
		if err := w.backend.Nack(ctx, lease, decision.NextRetryAt, meta); err != nil {
			return fmt.Errorf("nack failed: %w", err)
		}
		w.log.Info("job requeued for retry",
			"queue", job.Queue, "job_id", job.ID, "job_name", job.Name,
			"retry_count", meta.RetryCount, "delay", decision.Delay, "error_category", category)
		recordJobRetry(job.Queue, job.Name, category)
		recordJobProcessed(job.Queue, job.Name, "retry")
		return nil
	}

	result := FailureResult(failure)
	if err := w.backend.MoveToFailed(ctx, lease, result, meta); err != nil {
		return fmt.Errorf("record permanent failure failed: %w", err)
	}
	w.log.Warn("job permanently failed",
		"queue", job.Queue, "job_id", job.ID, "job_name", job.Name,
		"total_attempts", meta.TotalAttempts, "error_category", category, "error", failure)
	recordJobFailed(job.Queue, job.Name, category)
	recordJobProcessed(job.Queue, job.Name, "failed")
	return nil
}

func (w *RuntimeWorker) lookupHandler(jobName string) (registration, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	reg, ok := w.handlers[strings.TrimSpace(jobName)]
	return reg, ok
}

func (w *RuntimeWorker) startLeaseRenewal(ctx context.Context, lease *Lease) (func(), <-chan error) {
	done := make(chan error, 1)
	if lease == nil {
		done <- nil
		close(done)
		return func() {}, done
	}

	renewCtx, cancel := context.WithCancel(ctx)
	interval := w.config.LeaseTTL / 2
	if interval <= 0 {
		interval = w.config.LeaseTTL
	}
	if interval < minWorkerLeaseRenewInterval {
		interval = minWorkerLeaseRenewInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-renewCtx.Done():
				done <- nil
				close(done)
				return
			case <-ticker.C:
				if err := w.backend.Renew(renewCtx, lease, w.config.LeaseTTL); err != nil {
					done <- fmt.Errorf("renew lease failed: %w", err)
					close(done)
					return
				}
			}
		}
	}()

	return cancel, done
}
