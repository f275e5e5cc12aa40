package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/smontoya86/curatorq/pkg/retry"
)

type fakeInspector struct {
	queued   map[string][]*Job
	started  map[string][]*Job
	failed   map[string][]*FailedEntry
	finished map[string][]*FinishedEntry

	depth   map[string]int64
	failCnt map[string]int64
	workers map[string]int64

	err error
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{
		queued:   map[string][]*Job{},
		started:  map[string][]*Job{},
		failed:   map[string][]*FailedEntry{},
		finished: map[string][]*FinishedEntry{},
		depth:    map[string]int64{},
		failCnt:  map[string]int64{},
		workers:  map[string]int64{},
	}
}

func (f *fakeInspector) ListQueued(_ context.Context, queue string, _ int) ([]*Job, error) {
	return f.queued[queue], f.err
}

func (f *fakeInspector) ListStarted(_ context.Context, queue string, _ int) ([]*Job, error) {
	return f.started[queue], f.err
}

func (f *fakeInspector) ListFailed(_ context.Context, queue string, _ int) ([]*FailedEntry, error) {
	return f.failed[queue], f.err
}

func (f *fakeInspector) ListFinished(_ context.Context, queue string, _ int) ([]*FinishedEntry, error) {
	return f.finished[queue], f.err
}

func (f *fakeInspector) ReplayFailed(context.Context, string, []string) (int, error) {
	return 0, f.err
}

func (f *fakeInspector) QueueDepth(_ context.Context, queue string) (int64, error) {
	return f.depth[queue], f.err
}

func (f *fakeInspector) FailedCount(_ context.Context, queue string) (int64, error) {
	return f.failCnt[queue], f.err
}

func (f *fakeInspector) WorkerCount(_ context.Context, queue string, _ time.Duration) (int64, error) {
	return f.workers[queue], f.err
}

func ownedJob(id, owner string) *Job {
	return &Job{ID: id, Name: "playlist.sync", Queue: "playlists", OwnerKey: owner}
}

func TestOwnerStatus_AggregatesOwnerJobs(t *testing.T) {
	inspector := newFakeInspector()
	inspector.queued["playlists"] = []*Job{
		ownedJob("q1", "user-42"),
		ownedJob("q2", "user-99"),
	}
	inspector.started["playlists"] = []*Job{
		ownedJob("s1", "user-42"),
	}
	meta := retry.NewJobMeta(retry.DefaultPolicy(), "user-42")
	meta.FinalFailure = true
	meta.RetryCount = 3
	failedJob := ownedJob("f1", "user-42")
	failedJob.Meta = meta
	inspector.failed["playlists"] = []*FailedEntry{{
		ID:    "entry-1",
		Queue: "playlists",
		Job:   failedJob,
		Result: &Result{
			Success:       false,
			Error:         "connection refused",
			ErrorCategory: retry.CategoryNetwork,
		},
		FailedAt: time.Now().UTC(),
	}}
	inspector.finished["playlists"] = []*FinishedEntry{{
		Job:        ownedJob("d1", "user-42"),
		Result:     &Result{Success: true},
		FinishedAt: time.Now().UTC(),
	}}

	svc, err := NewStatusService(inspector, []string{"playlists"}, &jobsTestLogger{})
	if err != nil {
		t.Fatalf("new status service: %v", err)
	}

	status := svc.OwnerStatus(context.Background(), "user-42")
	if status.Error != "" {
		t.Fatalf("unexpected error field: %s", status.Error)
	}
	if status.ActiveCount != 2 {
		t.Fatalf("expected 2 active jobs, got %d", status.ActiveCount)
	}
	if !status.HasActive {
		t.Fatal("expected has_active")
	}
	if status.FailedCount != 1 || !status.HasRecentFailures {
		t.Fatalf("expected 1 failed job, got %d", status.FailedCount)
	}
	if status.FailedJobs[0].ErrorCategory != retry.CategoryNetwork {
		t.Fatalf("expected network category, got %s", status.FailedJobs[0].ErrorCategory)
	}
	if status.FailedJobs[0].RetryStats.RetryCount != 3 {
		t.Fatalf("expected retry stats with 3 retries, got %+v", status.FailedJobs[0].RetryStats)
	}
	if status.FinishedCount != 1 {
		t.Fatalf("expected 1 finished job, got %d", status.FinishedCount)
	}
}

func TestOwnerStatus_MatchesFirstPositionalArg(t *testing.T) {
	inspector := newFakeInspector()
	inspector.queued["playlists"] = []*Job{
		{ID: "q1", Name: "playlist.sync", Queue: "playlists", Args: []any{"user-42", "p-1"}},
	}

	svc, err := NewStatusService(inspector, []string{"playlists"}, &jobsTestLogger{})
	if err != nil {
		t.Fatalf("new status service: %v", err)
	}

	status := svc.OwnerStatus(context.Background(), "user-42")
	if status.ActiveCount != 1 {
		t.Fatalf("expected arg-matched active job, got %d", status.ActiveCount)
	}
}

func TestOwnerStatus_BoundsFailedAndFinished(t *testing.T) {
	inspector := newFakeInspector()
	for i := 0; i < 30; i++ {
		job := ownedJob(fmt.Sprintf("f%d", i), "user-42")
		inspector.failed["playlists"] = append(inspector.failed["playlists"], &FailedEntry{
			ID:       fmt.Sprintf("entry-%d", i),
			Queue:    "playlists",
			Job:      job,
			Result:   &Result{Success: false, Error: "boom"},
			FailedAt: time.Now().UTC(),
		})
		inspector.finished["playlists"] = append(inspector.finished["playlists"], &FinishedEntry{
			Job:        ownedJob(fmt.Sprintf("d%d", i), "user-42"),
			FinishedAt: time.Now().UTC(),
		})
	}

	svc, err := NewStatusService(inspector, []string{"playlists"}, &jobsTestLogger{})
	if err != nil {
		t.Fatalf("new status service: %v", err)
	}

	status := svc.OwnerStatus(context.Background(), "user-42")
	if status.FailedCount != maxFailedInStatus {
		t.Fatalf("expected failed bounded at %d, got %d", maxFailedInStatus, status.FailedCount)
	}
	if status.FinishedCount != maxFinishedInStatus {
		t.Fatalf("expected finished bounded at %d, got %d", maxFinishedInStatus, status.FinishedCount)
	}
}

func TestOwnerStatus_EmptyOwnerKey(t *testing.T) {
	svc, err := NewStatusService(newFakeInspector(), []string{"playlists"}, &jobsTestLogger{})
	if err != nil {
		t.Fatalf("new status service: %v", err)
	}

	status := svc.OwnerStatus(context.Background(), "  ")
	if status.Error != "" {
		t.Fatalf("empty owner must not error: %s", status.Error)
	}
	if status.ActiveCount != 0 || status.FailedCount != 0 || status.FinishedCount != 0 {
		t.Fatalf("expected zeroed counts: %+v", status)
	}
}

func TestOwnerStatus_NeverReturnsError(t *testing.T) {
	inspector := newFakeInspector()
	inspector.err = errors.New("broker unreachable")

	svc, err := NewStatusService(inspector, []string{"playlists"}, &jobsTestLogger{})
	if err != nil {
		t.Fatalf("new status service: %v", err)
	}

	status := svc.OwnerStatus(context.Background(), "user-42")
	if status.Error == "" {
		t.Fatal("expected error field to be populated")
	}
	if status.ActiveCount != 0 || status.HasActive {
		t.Fatalf("expected zeroed result on failure: %+v", status)
	}
	if status.ActiveJobs == nil || status.FailedJobs == nil || status.FinishedJobs == nil {
		t.Fatal("slices must be non-nil even on failure")
	}
}

func TestOwnerStatus_CircuitBreakerShortCircuits(t *testing.T) {
	inspector := newFakeInspector()
	inspector.err = errors.New("broker unreachable")

	svc, err := NewStatusService(inspector, []string{"playlists"}, &jobsTestLogger{})
	if err != nil {
		t.Fatalf("new status service: %v", err)
	}

	for i := 0; i < defaultStatusBreakerFailures; i++ {
		svc.OwnerStatus(context.Background(), "user-42")
	}

	// Breaker is open now; lookups fail fast without touching the inspector.
	inspector.err = nil
	status := svc.OwnerStatus(context.Background(), "user-42")
	if status.Error == "" {
		t.Fatal("expected open-circuit error")
	}
}

func TestNewStatusService_Validation(t *testing.T) {
	if _, err := NewStatusService(nil, []string{"q"}, &jobsTestLogger{}); err == nil {
		t.Fatal("expected error for nil inspector")
	}
	if _, err := NewStatusService(newFakeInspector(), []string{"q"}, nil); err == nil {
		t.Fatal("expected error for nil logger")
	}
	if _, err := NewStatusService(newFakeInspector(), []string{" "}, &jobsTestLogger{}); err == nil {
		t.Fatal("expected error for blank queues")
	}
}
