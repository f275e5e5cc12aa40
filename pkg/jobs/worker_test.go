package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smontoya86/curatorq/pkg/observability/logger"
	"github.com/smontoya86/curatorq/pkg/retry"
)

type jobsTestLogger struct{}

func (l *jobsTestLogger) Debug(string, ...any) {}
func (l *jobsTestLogger) Info(string, ...any)  {}
func (l *jobsTestLogger) Warn(string, ...any)  {}
func (l *jobsTestLogger) Error(string, ...any) {}
func (l *jobsTestLogger) With(...any) logger.Logger {
	return l
}
func (l *jobsTestLogger) WithContext(context.Context) logger.Logger {
	return l
}

type fakeDelivery struct {
	job   *Job
	lease *Lease
}

type fakeNack struct {
	lease     *Lease
	nextRunAt time.Time
	meta      *retry.JobMeta
}

type fakeFailed struct {
	lease  *Lease
	result *Result
	meta   *retry.JobMeta
}

type fakeBackend struct {
	deliveries chan fakeDelivery

	mu         sync.Mutex
	enqueued   []*Job
	acks       []*Lease
	nacks      []fakeNack
	failed     []fakeFailed
	finished   []*Job
	heartbeats map[string]int
	renewCalls int
	closeCalls int
	enqueueErr error
}

func newFakeBackend(buffer int) *fakeBackend {
	return &fakeBackend{
		deliveries: make(chan fakeDelivery, buffer),
		heartbeats: map[string]int{},
	}
}

func (b *fakeBackend) Enqueue(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enqueueErr != nil {
		return b.enqueueErr
	}
	b.enqueued = append(b.enqueued, cloneJob(job))
	return nil
}

func (b *fakeBackend) Reserve(ctx context.Context, _ string, _ time.Duration) (*Job, *Lease, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case delivery := <-b.deliveries:
		return cloneJob(delivery.job), cloneLease(delivery.lease), nil
	}
}

func (b *fakeBackend) Ack(_ context.Context, lease *Lease) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acks = append(b.acks, cloneLease(lease))
	return nil
}

func (b *fakeBackend) Nack(_ context.Context, lease *Lease, nextRunAt time.Time, meta *retry.JobMeta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nacks = append(b.nacks, fakeNack{
		lease:     cloneLease(lease),
		nextRunAt: nextRunAt,
		meta:      meta.Clone(),
	})
	return nil
}

func (b *fakeBackend) Renew(context.Context, *Lease, time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renewCalls++
	return nil
}

func (b *fakeBackend) MoveToFailed(_ context.Context, lease *Lease, result *Result, meta *retry.JobMeta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = append(b.failed, fakeFailed{
		lease:  cloneLease(lease),
		result: result,
		meta:   meta.Clone(),
	})
	return nil
}

func (b *fakeBackend) RecordFinished(_ context.Context, job *Job, _ *Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished = append(b.finished, cloneJob(job))
	return nil
}

func (b *fakeBackend) Heartbeat(_ context.Context, queue, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heartbeats[queue]++
	return nil
}

func (b *fakeBackend) HealthCheck(context.Context) error { return nil }

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeCalls++
	return nil
}

func (b *fakeBackend) push(job *Job) {
	lease := &Lease{
		JobID:    job.ID,
		Token:    job.ID + "-lease",
		Queue:    job.Queue,
		ExpireAt: time.Now().UTC().Add(time.Minute),
	}
	b.deliveries <- fakeDelivery{job: cloneJob(job), lease: lease}
}

func (b *fakeBackend) snapshot() (acks, nacks, failed, finished int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acks), len(b.nacks), len(b.failed), len(b.finished)
}

func (b *fakeBackend) lastNack() (fakeNack, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.nacks) == 0 {
		return fakeNack{}, false
	}
	return b.nacks[len(b.nacks)-1], true
}

func (b *fakeBackend) lastFailed() (fakeFailed, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.failed) == 0 {
		return fakeFailed{}, false
	}
	return b.failed[len(b.failed)-1], true
}

func (b *fakeBackend) heartbeatCount(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.heartbeats[queue]
}

func (b *fakeBackend) renewCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.renewCalls
}

func startWorker(t *testing.T, worker *RuntimeWorker) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- worker.Start(ctx)
	}()
	return func() {
		cancelCtx()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("worker start returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWorker_AckAndRecordFinishedOnSuccess(t *testing.T) {
	backend := newFakeBackend(4)
	worker, err := NewWorker(backend, &jobsTestLogger{}, WorkerConfig{
		Queues:      []string{"playlists"},
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	processed := make(chan struct{}, 1)
	if err := worker.Register("playlist.sync", func(_ context.Context, wc *WorkContext) error {
		if wc.Job == nil {
			t.Error("expected job in work context")
		}
		processed <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	stop := startWorker(t, worker)
	backend.push(&Job{
		ID:       "job-1",
		Name:     "playlist.sync",
		Queue:    "playlists",
		OwnerKey: "user-42",
		Args:     []any{"user-42", "playlist-7"},
	})

	select {
	case <-processed:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected job to be processed")
	}
	waitFor(t, time.Second, func() bool {
		acks, _, _, finished := backend.snapshot()
		return acks > 0 && finished > 0
	})
	stop()

	acks, nacks, failed, finished := backend.snapshot()
	if acks == 0 {
		t.Fatal("expected at least one ack")
	}
	if finished == 0 {
		t.Fatal("expected a finished record")
	}
	if nacks != 0 || failed != 0 {
		t.Fatalf("expected no failure paths, got nacks=%d failed=%d", nacks, failed)
	}
}

func TestWorker_RetryableFailureRequeues(t *testing.T) {
	backend := newFakeBackend(4)
	policy := retry.Policy{
		Name:            "test",
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
		ExponentialBase: 2,
	}
	worker, err := NewWorker(backend, &jobsTestLogger{}, WorkerConfig{
		Queues:      []string{"playlists"},
		Concurrency: 1,
		Policy:      policy,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	if err := worker.Register("playlist.sync", func(context.Context, *WorkContext) error {
		return errors.New("connection refused by broker")
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	stop := startWorker(t, worker)
	backend.push(&Job{
		ID:    "job-retry",
		Name:  "playlist.sync",
		Queue: "playlists",
		Meta:  retry.NewJobMeta(policy, "user-42"),
	})

	waitFor(t, time.Second, func() bool {
		_, nacks, _, _ := backend.snapshot()
		return nacks > 0
	})
	stop()

	nack, ok := backend.lastNack()
	if !ok {
		t.Fatal("expected a nack")
	}
	if nack.meta == nil {
		t.Fatal("expected retry metadata on nack")
	}
	if nack.meta.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", nack.meta.RetryCount)
	}
	if len(nack.meta.FailureHistory) != 1 {
		t.Fatalf("expected one failure record, got %d", len(nack.meta.FailureHistory))
	}
	if nack.meta.FailureHistory[0].ErrorCategory != retry.CategoryNetwork {
		t.Fatalf("expected network category, got %s", nack.meta.FailureHistory[0].ErrorCategory)
	}
	if !nack.nextRunAt.After(time.Now().UTC()) {
		t.Fatal("expected next run time in the future")
	}
}

func TestWorker_NonRetryableFailureRecordsPermanent(t *testing.T) {
	backend := newFakeBackend(4)
	worker, err := NewWorker(backend, &jobsTestLogger{}, WorkerConfig{
		Queues:      []string{"playlists"},
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	if err := worker.Register("playlist.sync", func(context.Context, *WorkContext) error {
		return errors.New("invalid input: playlist name is empty")
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	stop := startWorker(t, worker)
	backend.push(&Job{ID: "job-perm", Name: "playlist.sync", Queue: "playlists"})

	waitFor(t, time.Second, func() bool {
		_, _, failed, _ := backend.snapshot()
		return failed > 0
	})
	stop()

	failed, ok := backend.lastFailed()
	if !ok {
		t.Fatal("expected a permanent failure record")
	}
	if failed.result == nil || failed.result.Success {
		t.Fatal("expected failure result")
	}
	if failed.result.ErrorCategory != retry.CategoryBusinessLogic {
		t.Fatalf("expected business_logic category, got %s", failed.result.ErrorCategory)
	}
	if failed.meta == nil || !failed.meta.FinalFailure {
		t.Fatal("expected final failure metadata")
	}
	if failed.meta.RetryCount != 0 {
		t.Fatalf("expected zero retries, got %d", failed.meta.RetryCount)
	}
	if failed.meta.TotalAttempts != 1 {
		t.Fatalf("expected total attempts 1, got %d", failed.meta.TotalAttempts)
	}
	_, nacks, _, _ := backend.snapshot()
	if nacks != 0 {
		t.Fatalf("expected zero nacks, got %d", nacks)
	}
}

func TestWorker_ExhaustedBudgetRecordsPermanent(t *testing.T) {
	backend := newFakeBackend(4)
	policy := retry.Policy{
		Name:            "tight",
		MaxRetries:      2,
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
		ExponentialBase: 2,
	}
	worker, err := NewWorker(backend, &jobsTestLogger{}, WorkerConfig{
		Queues:      []string{"playlists"},
		Concurrency: 1,
		Policy:      policy,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	if err := worker.Register("playlist.sync", func(context.Context, *WorkContext) error {
		return errors.New("connection reset by peer")
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	meta := retry.NewJobMeta(policy, "user-42")
	meta.RetryCount = 2

	stop := startWorker(t, worker)
	backend.push(&Job{ID: "job-spent", Name: "playlist.sync", Queue: "playlists", Meta: meta})

	waitFor(t, time.Second, func() bool {
		_, _, failed, _ := backend.snapshot()
		return failed > 0
	})
	stop()

	failed, _ := backend.lastFailed()
	if failed.meta == nil || !failed.meta.FinalFailure {
		t.Fatal("expected final failure after exhausted budget")
	}
	if failed.meta.TotalAttempts != 3 {
		t.Fatalf("expected total attempts 3, got %d", failed.meta.TotalAttempts)
	}
}

func TestWorker_PanicIsRecoveredAndHandled(t *testing.T) {
	backend := newFakeBackend(4)
	worker, err := NewWorker(backend, &jobsTestLogger{}, WorkerConfig{
		Queues:      []string{"playlists"},
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	if err := worker.Register("playlist.sync", func(context.Context, *WorkContext) error {
		panic("handler exploded")
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	stop := startWorker(t, worker)
	backend.push(&Job{ID: "job-panic", Name: "playlist.sync", Queue: "playlists"})

	waitFor(t, time.Second, func() bool {
		_, nacks, failed, _ := backend.snapshot()
		return nacks+failed > 0
	})
	stop()
}

func TestWorker_MissingHandlerRecordsFailure(t *testing.T) {
	backend := newFakeBackend(4)
	worker, err := NewWorker(backend, &jobsTestLogger{}, WorkerConfig{
		Queues:      []string{"playlists"},
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	stop := startWorker(t, worker)
	backend.push(&Job{ID: "job-unknown", Name: "no.such.handler", Queue: "playlists"})

	waitFor(t, time.Second, func() bool {
		_, _, failed, _ := backend.snapshot()
		return failed > 0
	})
	stop()

	failed, _ := backend.lastFailed()
	if failed.result == nil || failed.result.Success {
		t.Fatal("expected failure result for unregistered handler")
	}
}

func TestWorker_HeartbeatsQueue(t *testing.T) {
	backend := newFakeBackend(1)
	worker, err := NewWorker(backend, &jobsTestLogger{}, WorkerConfig{
		Queues:            []string{"playlists"},
		Concurrency:       1,
		HeartbeatInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	stop := startWorker(t, worker)
	waitFor(t, time.Second, func() bool {
		return backend.heartbeatCount("playlists") > 0
	})
	stop()
}

func TestWorker_RenewsLeaseDuringLongHandler(t *testing.T) {
	backend := newFakeBackend(1)
	worker, err := NewWorker(backend, &jobsTestLogger{}, WorkerConfig{
		Queues:      []string{"playlists"},
		Concurrency: 1,
		LeaseTTL:    200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	if err := worker.Register("playlist.sync", func(ctx context.Context, _ *WorkContext) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(400 * time.Millisecond):
			return nil
		}
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	stop := startWorker(t, worker)
	backend.push(&Job{ID: "job-slow", Name: "playlist.sync", Queue: "playlists"})

	waitFor(t, 2*time.Second, func() bool {
		acks, _, _, _ := backend.snapshot()
		return acks > 0
	})
	stop()

	if backend.renewCount() == 0 {
		t.Fatal("expected at least one lease renewal")
	}
}

func TestWorker_JobTimeoutOverridesDefault(t *testing.T) {
	backend := newFakeBackend(1)
	worker, err := NewWorker(backend, &jobsTestLogger{}, WorkerConfig{
		Queues:      []string{"playlists"},
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	if err := worker.Register("playlist.sync", func(ctx context.Context, _ *WorkContext) error {
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	stop := startWorker(t, worker)
	backend.push(&Job{
		ID:      "job-timeout",
		Name:    "playlist.sync",
		Queue:   "playlists",
		Timeout: 20 * time.Millisecond,
	})

	waitFor(t, 2*time.Second, func() bool {
		_, nacks, failed, _ := backend.snapshot()
		return nacks+failed > 0
	})
	stop()
}

func TestNewWorker_Validation(t *testing.T) {
	if _, err := NewWorker(nil, &jobsTestLogger{}, WorkerConfig{Queues: []string{"q"}}); err == nil {
		t.Fatal("expected error for nil backend")
	}
	if _, err := NewWorker(newFakeBackend(1), nil, WorkerConfig{Queues: []string{"q"}}); err == nil {
		t.Fatal("expected error for nil logger")
	}
	if _, err := NewWorker(newFakeBackend(1), &jobsTestLogger{}, WorkerConfig{}); err == nil {
		t.Fatal("expected error for missing queues")
	}
	if _, err := NewWorker(newFakeBackend(1), &jobsTestLogger{}, WorkerConfig{Queues: []string{"  "}}); err == nil {
		t.Fatal("expected error for blank queues")
	}
}
