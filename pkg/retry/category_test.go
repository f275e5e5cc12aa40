package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "operation stalled" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify_ByType(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"deadline exceeded", context.DeadlineExceeded, CategoryNetwork},
		{"net.Error timeout", timeoutErr{}, CategoryNetwork},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, CategoryNetwork},
		{"econnrefused", syscall.ECONNREFUSED, CategoryNetwork},
		{"econnreset wrapped", fmt.Errorf("push job: %w", syscall.ECONNRESET), CategoryNetwork},
		{"enomem", syscall.ENOMEM, CategoryResource},
		{"resource exhausted sentinel", fmt.Errorf("analysis pool: %w", ErrResourceExhausted), CategoryResource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassify_ByKeyword(t *testing.T) {
	cases := []struct {
		message string
		want    Category
	}{
		{"read tcp 10.0.0.1:6379: connection reset by peer", CategoryNetwork},
		{"upstream timed out while waiting", CategoryNetwork},
		{"out of memory allocating lyric buffer", CategoryResource},
		{"spotify: rate limit exceeded, retry later", CategoryExternalAPI},
		{"HTTP 502 bad gateway from lyrics provider", CategoryExternalAPI},
		{"gateway timeout calling audio features endpoint", CategoryExternalAPI},
		{"deadlock detected on playlists table", CategoryDatabase},
		{"could not serialize access due to concurrent transaction", CategoryDatabase},
		{"validation failed: missing playlist id", CategoryBusinessLogic},
		{"playlist not found", CategoryBusinessLogic},
		{"unauthorized: token revoked", CategoryBusinessLogic},
		{"something inexplicable happened", CategoryUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			if got := Classify(errors.New(tc.message)); got != tc.want {
				t.Fatalf("Classify(%q) = %s, want %s", tc.message, got, tc.want)
			}
		})
	}
}

func TestClassify_NilAndDeterministic(t *testing.T) {
	if got := Classify(nil); got != CategoryUnknown {
		t.Fatalf("Classify(nil) = %s, want %s", got, CategoryUnknown)
	}

	err := errors.New("connection reset during transaction")
	first := Classify(err)
	for i := 0; i < 100; i++ {
		if got := Classify(err); got != first {
			t.Fatalf("classification not deterministic: %s then %s", first, got)
		}
	}
	// Network keywords outrank database keywords when both match.
	if first != CategoryNetwork {
		t.Fatalf("Classify(%v) = %s, want %s", err, first, CategoryNetwork)
	}
}

func TestPolicy_IsRetryable(t *testing.T) {
	policy := DefaultPolicy()

	if !policy.IsRetryable(errors.New("connection refused")) {
		t.Fatal("network failure should be retryable by default")
	}
	if !policy.IsRetryable(errors.New("rate limit exceeded")) {
		t.Fatal("external api failure should be retryable by default")
	}
	if policy.IsRetryable(errors.New("validation failed")) {
		t.Fatal("business logic failure must not be retryable by default")
	}
	if policy.IsRetryable(errors.New("some novel failure")) {
		t.Fatal("unknown failure must not be retryable by default")
	}

	narrow := Policy{
		MaxRetries:          2,
		BaseDelay:           time.Second,
		RetryableCategories: map[Category]bool{CategoryDatabase: true},
	}
	if narrow.IsRetryable(errors.New("connection refused")) {
		t.Fatal("narrow policy should not retry network failures")
	}
	if !narrow.IsRetryable(errors.New("deadlock detected")) {
		t.Fatal("narrow policy should retry database failures")
	}
}
