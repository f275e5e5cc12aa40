package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smontoya86/curatorq/pkg/retry"
)

func TestEnqueue_Success(t *testing.T) {
	backend := newFakeBackend(1)
	enqueuer, err := NewEnqueuer(backend, &jobsTestLogger{}, EnqueuerConfig{
		DefaultQueue: "playlists",
	})
	if err != nil {
		t.Fatalf("new enqueuer: %v", err)
	}

	handle, err := enqueuer.Enqueue(context.Background(), &EnqueueRequest{
		Name:     "playlist.sync",
		Args:     []any{"user-42", "playlist-7"},
		OwnerKey: "user-42",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if handle == nil {
		t.Fatal("expected handle")
	}
	if handle.Queue != "playlists" {
		t.Fatalf("expected default queue, got %q", handle.Queue)
	}
	if handle.JobID == "" {
		t.Fatal("expected job id")
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(backend.enqueued))
	}
	job := backend.enqueued[0]
	if job.Meta == nil {
		t.Fatal("expected fresh retry metadata")
	}
	if job.Meta.RetryCount != 0 {
		t.Fatalf("fresh meta must have zero retries, got %d", job.Meta.RetryCount)
	}
	if job.Meta.MaxAttempts != retry.DefaultMaxRetries+1 {
		t.Fatalf("expected default attempt budget, got %d", job.Meta.MaxAttempts)
	}
	if job.Meta.OwnerKey != "user-42" {
		t.Fatalf("expected owner key on meta, got %q", job.Meta.OwnerKey)
	}
	if job.Timeout <= 0 {
		t.Fatal("expected default timeout applied")
	}
}

func TestEnqueue_PreconditionRejects(t *testing.T) {
	backend := newFakeBackend(1)
	enqueuer, err := NewEnqueuer(backend, &jobsTestLogger{}, EnqueuerConfig{
		Precondition: func(_ context.Context, req *EnqueueRequest) error {
			return errors.New("owner has no linked account")
		},
	})
	if err != nil {
		t.Fatalf("new enqueuer: %v", err)
	}

	handle, err := enqueuer.Enqueue(context.Background(), &EnqueueRequest{
		Name:     "playlist.sync",
		OwnerKey: "user-42",
	})
	if handle != nil {
		t.Fatal("expected nil handle on precondition failure")
	}
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.enqueued) != 0 {
		t.Fatal("precondition failure must not touch the broker")
	}
}

func TestEnqueue_BrokerFailureReturnsNilHandle(t *testing.T) {
	backend := newFakeBackend(1)
	backend.enqueueErr = errors.New("connection refused")
	enqueuer, err := NewEnqueuer(backend, &jobsTestLogger{}, EnqueuerConfig{})
	if err != nil {
		t.Fatalf("new enqueuer: %v", err)
	}

	handle, err := enqueuer.Enqueue(context.Background(), &EnqueueRequest{Name: "playlist.sync"})
	if handle != nil {
		t.Fatal("expected nil handle on broker failure")
	}
	if err == nil {
		t.Fatal("expected error on broker failure")
	}
}

func TestEnqueue_PerRequestPolicyOverride(t *testing.T) {
	backend := newFakeBackend(1)
	enqueuer, err := NewEnqueuer(backend, &jobsTestLogger{}, EnqueuerConfig{})
	if err != nil {
		t.Fatalf("new enqueuer: %v", err)
	}

	tight := retry.Policy{Name: "tight", MaxRetries: 1, BaseDelay: time.Second, MaxDelay: time.Minute, ExponentialBase: 2}
	if _, err := enqueuer.Enqueue(context.Background(), &EnqueueRequest{
		Name:   "playlist.sync",
		Policy: &tight,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.enqueued[0].Meta.MaxAttempts != 2 {
		t.Fatalf("expected attempt budget 2 from override, got %d", backend.enqueued[0].Meta.MaxAttempts)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	enqueuer, err := NewEnqueuer(newFakeBackend(1), &jobsTestLogger{}, EnqueuerConfig{})
	if err != nil {
		t.Fatalf("new enqueuer: %v", err)
	}
	if _, err := enqueuer.Enqueue(context.Background(), nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for nil request, got %v", err)
	}
	if _, err := enqueuer.Enqueue(context.Background(), &EnqueueRequest{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing name, got %v", err)
	}
}
