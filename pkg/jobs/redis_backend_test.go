package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/smontoya86/curatorq/pkg/brokerpool"
)

func TestRedisBackendConfigNormalize(t *testing.T) {
	cfg := RedisBackendConfig{}
	cfg.normalize()

	if cfg.Prefix != defaultRedisPrefix {
		t.Fatalf("expected default prefix, got %q", cfg.Prefix)
	}
	if cfg.OperationTimeout != defaultRedisOperationTimeout {
		t.Fatalf("expected default operation timeout, got %v", cfg.OperationTimeout)
	}
	if cfg.PollInterval != defaultRedisPollInterval {
		t.Fatalf("expected default poll interval, got %v", cfg.PollInterval)
	}
	if cfg.TransferBatch != defaultRedisTransferBatch {
		t.Fatalf("expected default transfer batch, got %d", cfg.TransferBatch)
	}
	if cfg.FinishedLimit != defaultFinishedLimit {
		t.Fatalf("expected default finished limit, got %d", cfg.FinishedLimit)
	}

	custom := RedisBackendConfig{
		Prefix:           "app:jobs",
		OperationTimeout: time.Second,
		PollInterval:     10 * time.Millisecond,
		TransferBatch:    7,
		FinishedLimit:    3,
	}
	custom.normalize()
	if custom.Prefix != "app:jobs" || custom.TransferBatch != 7 || custom.FinishedLimit != 3 {
		t.Fatalf("normalize must keep explicit values: %+v", custom)
	}
}

func TestKeySpaceLayout(t *testing.T) {
	keys := newKeySpace("curatorq:jobs:")

	cases := map[string]string{
		keys.ready("playlists"):               "curatorq:jobs:queue:playlists:ready",
		keys.delayed("playlists"):             "curatorq:jobs:queue:playlists:delayed",
		keys.started("playlists"):             "curatorq:jobs:queue:playlists:started",
		keys.finished("playlists"):            "curatorq:jobs:queue:playlists:finished",
		keys.workers("playlists"):             "curatorq:jobs:queue:playlists:workers",
		keys.failedIndex("playlists"):         "curatorq:jobs:failed:index:playlists",
		keys.failedEntry("playlists", "e-1"):  "curatorq:jobs:failed:entry:playlists:e-1",
		keys.lease("token-1"):                 "curatorq:jobs:lease:token-1",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("key mismatch: got %q want %q", got, want)
		}
	}
	if keys.leasePrefix() != "curatorq:jobs:lease:" {
		t.Fatalf("unexpected lease prefix %q", keys.leasePrefix())
	}
}

func TestNewRedisBackend_Validation(t *testing.T) {
	log := &jobsTestLogger{}

	if _, err := NewRedisBackend(context.Background(), nil, RedisBackendConfig{}, log); err == nil {
		t.Fatal("expected error for nil pool manager")
	}

	pools, err := brokerpool.NewManager("redis://127.0.0.1:1/0", brokerpool.Config{DialTimeout: 50 * time.Millisecond}, log)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := NewRedisBackend(context.Background(), pools, RedisBackendConfig{}, nil); err == nil {
		t.Fatal("expected error for nil logger")
	}
}

func TestRedisBackend_ClosedRejectsOperations(t *testing.T) {
	backend := &RedisBackend{}
	if err := backend.ensureOpen(); err == nil {
		t.Fatal("uninitialized backend must reject operations")
	}
}
