package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/smontoya86/curatorq/pkg/brokerpool"
	"github.com/smontoya86/curatorq/pkg/observability/logger"
	"github.com/smontoya86/curatorq/pkg/retry"
)

const (
	defaultRedisPrefix           = "curatorq:jobs"
	defaultRedisOperationTimeout = 5 * time.Second
	defaultRedisPollInterval     = 100 * time.Millisecond
	defaultRedisTransferBatch    = 100
	defaultFinishedLimit         = 100
)

var (
	redisReserveScript = redis.NewScript(`
local delayed = KEYS[1]
local ready = KEYS[2]
local started = KEYS[3]
local leasePrefix = ARGV[1]
local nowMs = tonumber(ARGV[2])
local transferBatch = tonumber(ARGV[3])
local leaseMs = tonumber(ARGV[4])
local token = ARGV[5]

local due = redis.call("ZRANGEBYSCORE", delayed, "-inf", nowMs, "LIMIT", 0, transferBatch)
for _, payload in ipairs(due) do
  redis.call("RPUSH", ready, payload)
  redis.call("ZREM", delayed, payload)
end

local payload = redis.call("LPOP", ready)
if not payload then
  return nil
end

redis.call("SET", leasePrefix .. token, payload, "PX", leaseMs)
redis.call("ZADD", started, nowMs, payload)
return payload
`)

	redisAckScript = redis.NewScript(`
local payload = redis.call("GET", KEYS[1])
if not payload then
  return 0
end
redis.call("ZREM", KEYS[2], payload)
redis.call("DEL", KEYS[1])
return 1
`)

	redisTransitionLeaseScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return -1
end

redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[4], ARGV[1])

local encoded = ARGV[2]
local runAtMs = tonumber(ARGV[3])
local nowMs = tonumber(ARGV[4])
if runAtMs <= nowMs then
  redis.call("RPUSH", KEYS[2], encoded)
else
  redis.call("ZADD", KEYS[3], runAtMs, encoded)
end
return 1
`)

	redisDropLeaseScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return -1
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)
)

// RedisBackendConfig configures the Redis-backed jobs backend.
type RedisBackendConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	PollInterval     time.Duration
	TransferBatch    int
	FinishedLimit    int
}

func (c *RedisBackendConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultRedisPollInterval
	}
	if c.TransferBatch <= 0 {
		c.TransferBatch = defaultRedisTransferBatch
	}
	if c.FinishedLimit <= 0 {
		c.FinishedLimit = defaultFinishedLimit
	}
}

// RedisBackend implements Backend and Inspector with Redis lists/zsets and
// lease keys. Connections come from a shared pool manager so connection
// health stats stay accurate across the process.
type RedisBackend struct {
	client *redis.Client
	keys   keySpace
	log    logger.Logger
	config RedisBackendConfig

	mu     sync.RWMutex
	closed bool
}

// NewRedisBackend verifies broker connectivity through the pool manager and
// returns a backend bound to that manager's pool.
func NewRedisBackend(ctx context.Context, pools *brokerpool.Manager, cfg RedisBackendConfig, log logger.Logger) (*RedisBackend, error) {
	if pools == nil {
		return nil, errors.New("pool manager is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()

	conn, err := pools.GetConnection(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("verify broker connectivity failed: %w", err)
	}
	_ = conn.Close()

	client, err := pools.GetPool(cfg.URL)
	if err != nil {
		return nil, err
	}

	return &RedisBackend{
		client: client,
		keys:   newKeySpace(cfg.Prefix),
		log:    log,
		config: cfg,
	}, nil
}

// Enqueue schedules a job for immediate or delayed execution.
func (b *RedisBackend) Enqueue(ctx context.Context, job *Job) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if ctx == nil {
		return jobsError(ErrValidation, "context is required")
	}
	if job == nil {
		return jobsError(ErrValidation, "job is required")
	}
	jobCopy := cloneJob(job)
	if err := jobCopy.Validate(); err != nil {
		return err
	}
	if jobCopy.CreatedAt.IsZero() {
		jobCopy.CreatedAt = time.Now().UTC()
	}
	if jobCopy.RunAt.IsZero() {
		jobCopy.RunAt = jobCopy.CreatedAt
	}

	encoded, err := encodeJob(jobCopy)
	if err != nil {
		return err
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	var enqueueErr error
	if !jobCopy.RunAt.After(now) {
		enqueueErr = b.client.RPush(opCtx, b.keys.ready(jobCopy.Queue), encoded).Err()
	} else {
		enqueueErr = b.client.ZAdd(opCtx, b.keys.delayed(jobCopy.Queue), redis.Z{
			Score:  float64(jobCopy.RunAt.UnixMilli()),
			Member: encoded,
		}).Err()
	}
	if enqueueErr != nil {
		return enqueueErr
	}
	recordJobEnqueued(jobCopy.Queue, jobCopy.Name)
	return nil
}

// Reserve returns the next available job and a lease token, marking the job
// as started.
func (b *RedisBackend) Reserve(ctx context.Context, queue string, leaseFor time.Duration) (*Job, *Lease, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, nil, err
	}
	if ctx == nil {
		return nil, nil, jobsError(ErrValidation, "context is required")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, nil, jobsError(ErrValidation, "queue is required")
	}
	if leaseFor <= 0 {
		leaseFor = DefaultLeaseTTL
	}
	leaseMilliseconds := leaseFor.Milliseconds()
	if leaseMilliseconds <= 0 {
		leaseMilliseconds = 1
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		token := uuid.NewString()
		now := time.Now().UTC()
		opCtx, cancel := b.operationContext(ctx)
		result, reserveErr := redisReserveScript.Run(
			opCtx,
			b.client,
			[]string{b.keys.delayed(queue), b.keys.ready(queue), b.keys.started(queue)},
			b.keys.leasePrefix(),
			now.UnixMilli(),
			b.config.TransferBatch,
			leaseMilliseconds,
			token,
		).Result()
		cancel()
		if reserveErr != nil && !errors.Is(reserveErr, redis.Nil) {
			return nil, nil, reserveErr
		}
		if errors.Is(reserveErr, redis.Nil) {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(b.config.PollInterval):
				continue
			}
		}
		raw, ok := result.(string)
		if !ok || strings.TrimSpace(raw) == "" {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(b.config.PollInterval):
				continue
			}
		}

		job, decodeErr := decodeJob(raw)
		if decodeErr != nil {
			b.log.Warn("discarding malformed queued job payload", "queue", queue, "error", decodeErr)
			_ = b.Ack(ctx, &Lease{Token: token, Queue: queue})
			continue
		}
		if strings.TrimSpace(job.Queue) == "" {
			job.Queue = queue
		}
		if err := job.Validate(); err != nil {
			b.log.Warn("discarding invalid queued job", "queue", queue, "error", err)
			_ = b.Ack(ctx, &Lease{Token: token, Queue: queue})
			continue
		}

		lease := &Lease{
			JobID:    strings.TrimSpace(job.ID),
			Token:    token,
			Queue:    queue,
			ExpireAt: now.Add(leaseFor),
		}
		return cloneJob(job), cloneLease(lease), nil
	}
}

// Ack confirms job completion, releasing the lease and the started marker.
func (b *RedisBackend) Ack(ctx context.Context, lease *Lease) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return jobsError(ErrValidation, "lease token is required")
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	_, err := redisAckScript.Run(
		opCtx,
		b.client,
		[]string{b.keys.lease(strings.TrimSpace(lease.Token)), b.keys.started(lease.Queue)},
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Nack schedules the leased job for retry with updated retry metadata.
func (b *RedisBackend) Nack(ctx context.Context, lease *Lease, nextRunAt time.Time, meta *retry.JobMeta) error {
	rawLeasePayload, job, err := b.readLeasedJob(ctx, lease)
	if err != nil {
		return err
	}
	if meta != nil {
		job.Meta = meta.Clone()
	}
	job.RunAt = nextRunAt.UTC()
	if job.RunAt.IsZero() {
		job.RunAt = time.Now().UTC()
	}
	encoded, err := encodeJob(job)
	if err != nil {
		return err
	}
	return b.transitionLeaseToQueue(ctx, lease, rawLeasePayload, encoded, strings.TrimSpace(job.Queue), job.RunAt)
}

// Renew extends lease expiration.
func (b *RedisBackend) Renew(ctx context.Context, lease *Lease, leaseFor time.Duration) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return jobsError(ErrValidation, "lease token is required")
	}
	if leaseFor <= 0 {
		leaseFor = DefaultLeaseTTL
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	expireSet, err := b.client.PExpire(opCtx, b.keys.lease(strings.TrimSpace(lease.Token)), leaseFor).Result()
	if err != nil {
		return err
	}
	if !expireSet {
		return jobsError(ErrNotFound, "lease not found")
	}
	return nil
}

// MoveToFailed records the leased job as permanently failed and releases it.
// The job never returns to a runnable queue.
func (b *RedisBackend) MoveToFailed(ctx context.Context, lease *Lease, result *Result, meta *retry.JobMeta) error {
	rawLeasePayload, job, err := b.readLeasedJob(ctx, lease)
	if err != nil {
		return err
	}
	if meta != nil {
		job.Meta = meta.Clone()
	}

	dropped, err := b.dropLease(ctx, lease, rawLeasePayload)
	if err != nil {
		return err
	}
	if !dropped {
		return jobsError(ErrNotFound, "lease not found")
	}

	entry := &FailedEntry{
		ID:       uuid.NewString(),
		Queue:    strings.TrimSpace(job.Queue),
		Job:      cloneJob(job),
		Result:   result,
		FailedAt: time.Now().UTC(),
	}
	return b.saveFailedEntry(ctx, entry)
}

// RecordFinished appends a bounded success record for status queries.
func (b *RedisBackend) RecordFinished(ctx context.Context, job *Job, result *Result) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if job == nil {
		return jobsError(ErrValidation, "job is required")
	}
	entry := FinishedEntry{
		Job:        cloneJob(job),
		Result:     result,
		FinishedAt: time.Now().UTC(),
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	key := b.keys.finished(job.Queue)
	_, err = b.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(opCtx, key, redis.Z{
			Score:  float64(entry.FinishedAt.UnixMilli()),
			Member: string(encoded),
		})
		pipe.ZRemRangeByRank(opCtx, key, 0, int64(-b.config.FinishedLimit-1))
		return nil
	})
	return err
}

// Heartbeat marks a worker as live on a queue.
func (b *RedisBackend) Heartbeat(ctx context.Context, queue, workerID string) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	queue = strings.TrimSpace(queue)
	workerID = strings.TrimSpace(workerID)
	if queue == "" || workerID == "" {
		return jobsError(ErrValidation, "queue and worker id are required")
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.ZAdd(opCtx, b.keys.workers(queue), redis.Z{
		Score:  float64(time.Now().UTC().UnixMilli()),
		Member: workerID,
	}).Err()
}

// ListQueued returns up to limit jobs waiting in the ready list and delayed set.
func (b *RedisBackend) ListQueued(ctx context.Context, queue string, limit int) ([]*Job, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, jobsError(ErrValidation, "queue is required")
	}
	if limit <= 0 {
		limit = 50
	}

	opCtx, cancel := b.operationContext(ctx)
	ready, err := b.client.LRange(opCtx, b.keys.ready(queue), 0, int64(limit-1)).Result()
	cancel()
	if err != nil {
		return nil, err
	}

	jobs := decodeJobs(ready, limit)
	if len(jobs) < limit {
		opCtx, cancel := b.operationContext(ctx)
		delayed, err := b.client.ZRange(opCtx, b.keys.delayed(queue), 0, int64(limit-len(jobs)-1)).Result()
		cancel()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, decodeJobs(delayed, limit-len(jobs))...)
	}
	return jobs, nil
}

// ListStarted returns up to limit jobs currently held under a lease.
func (b *RedisBackend) ListStarted(ctx context.Context, queue string, limit int) ([]*Job, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, jobsError(ErrValidation, "queue is required")
	}
	if limit <= 0 {
		limit = 50
	}
	opCtx, cancel := b.operationContext(ctx)
	raw, err := b.client.ZRevRange(opCtx, b.keys.started(queue), 0, int64(limit-1)).Result()
	cancel()
	if err != nil {
		return nil, err
	}
	return decodeJobs(raw, limit), nil
}

// ListFailed lists the latest permanently failed records for one queue.
func (b *RedisBackend) ListFailed(ctx context.Context, queue string, limit int) ([]*FailedEntry, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, jobsError(ErrValidation, "queue is required")
	}
	if limit <= 0 {
		limit = 50
	}

	opCtx, cancel := b.operationContext(ctx)
	ids, err := b.client.ZRevRange(opCtx, b.keys.failedIndex(queue), 0, int64(limit-1)).Result()
	cancel()
	if err != nil {
		return nil, err
	}

	entries := make([]*FailedEntry, 0, len(ids))
	for _, id := range ids {
		opCtx, cancel := b.operationContext(ctx)
		raw, getErr := b.client.Get(opCtx, b.keys.failedEntry(queue, id)).Result()
		cancel()
		if getErr != nil {
			if errors.Is(getErr, redis.Nil) {
				continue
			}
			return nil, getErr
		}
		var entry FailedEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// ListFinished lists the latest success records for one queue.
func (b *RedisBackend) ListFinished(ctx context.Context, queue string, limit int) ([]*FinishedEntry, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, jobsError(ErrValidation, "queue is required")
	}
	if limit <= 0 {
		limit = 50
	}
	opCtx, cancel := b.operationContext(ctx)
	raw, err := b.client.ZRevRange(opCtx, b.keys.finished(queue), 0, int64(limit-1)).Result()
	cancel()
	if err != nil {
		return nil, err
	}

	entries := make([]*FinishedEntry, 0, len(raw))
	for _, item := range raw {
		var entry FinishedEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// ReplayFailed re-enqueues selected failed entries with fresh retry state.
func (b *RedisBackend) ReplayFailed(ctx context.Context, queue string, ids []string) (int, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return 0, jobsError(ErrValidation, "queue is required")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	replayed := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		opCtx, cancel := b.operationContext(ctx)
		raw, err := b.client.Get(opCtx, b.keys.failedEntry(queue, id)).Result()
		cancel()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return replayed, err
		}

		var entry FailedEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		job := cloneJob(entry.Job)
		if job == nil {
			continue
		}
		job.Meta = nil
		job.RunAt = time.Now().UTC()

		if err := b.Enqueue(ctx, job); err != nil {
			return replayed, err
		}

		opCtx, cancel = b.operationContext(ctx)
		_, err = b.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(opCtx, b.keys.failedIndex(queue), id)
			pipe.Del(opCtx, b.keys.failedEntry(queue, id))
			return nil
		})
		cancel()
		if err != nil {
			return replayed, err
		}
		replayed++
	}

	return replayed, nil
}

// QueueDepth returns pending jobs: ready list length plus delayed set size.
func (b *RedisBackend) QueueDepth(ctx context.Context, queue string) (int64, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return 0, jobsError(ErrValidation, "queue is required")
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	ready, err := b.client.LLen(opCtx, b.keys.ready(queue)).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := b.client.ZCard(opCtx, b.keys.delayed(queue)).Result()
	if err != nil {
		return 0, err
	}
	return ready + delayed, nil
}

// FailedCount returns the number of permanently failed records for a queue.
func (b *RedisBackend) FailedCount(ctx context.Context, queue string) (int64, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return 0, jobsError(ErrValidation, "queue is required")
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.ZCard(opCtx, b.keys.failedIndex(queue)).Result()
}

// WorkerCount prunes stale heartbeats and returns the live worker count.
func (b *RedisBackend) WorkerCount(ctx context.Context, queue string, window time.Duration) (int64, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return 0, jobsError(ErrValidation, "queue is required")
	}
	if window <= 0 {
		window = DefaultHeartbeatWindow
	}
	cutoff := time.Now().UTC().Add(-window).UnixMilli()

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	key := b.keys.workers(queue)
	if err := b.client.ZRemRangeByScore(opCtx, key, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return 0, err
	}
	return b.client.ZCard(opCtx, key).Result()
}

// HealthCheck verifies Redis connectivity.
func (b *RedisBackend) HealthCheck(ctx context.Context) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.Ping(opCtx).Err()
}

// Close marks the backend closed. The underlying pool stays open because it
// is owned by the pool manager and shared with other components.
func (b *RedisBackend) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *RedisBackend) ensureOpen() error {
	if b == nil || b.client == nil {
		return jobsError(ErrNotInitialized, "redis backend is not initialized")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return jobsError(ErrClosed, "redis backend is closed")
	}
	return nil
}

func (b *RedisBackend) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, b.config.OperationTimeout)
}

func (b *RedisBackend) readLeasedJob(ctx context.Context, lease *Lease) (string, *Job, error) {
	if err := b.ensureOpen(); err != nil {
		return "", nil, err
	}
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return "", nil, jobsError(ErrValidation, "lease token is required")
	}
	token := strings.TrimSpace(lease.Token)

	opCtx, cancel := b.operationContext(ctx)
	raw, err := b.client.Get(opCtx, b.keys.lease(token)).Result()
	cancel()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, jobsError(ErrNotFound, "lease not found")
		}
		return "", nil, err
	}

	job, err := decodeJob(raw)
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(job.Queue) == "" {
		job.Queue = strings.TrimSpace(lease.Queue)
	}
	if err := job.Validate(); err != nil {
		return "", nil, err
	}

	return raw, cloneJob(job), nil
}

func (b *RedisBackend) transitionLeaseToQueue(
	ctx context.Context,
	lease *Lease,
	expectedLeasePayload string,
	nextEncodedPayload string,
	queue string,
	runAt time.Time,
) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return jobsError(ErrValidation, "lease token is required")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return jobsError(ErrValidation, "queue is required")
	}

	runAtUTC := runAt.UTC()
	if runAtUTC.IsZero() {
		runAtUTC = time.Now().UTC()
	}
	now := time.Now().UTC()

	opCtx, cancel := b.operationContext(ctx)
	transitionResult, err := redisTransitionLeaseScript.Run(
		opCtx,
		b.client,
		[]string{
			b.keys.lease(strings.TrimSpace(lease.Token)),
			b.keys.ready(queue),
			b.keys.delayed(queue),
			b.keys.started(queue),
		},
		expectedLeasePayload,
		nextEncodedPayload,
		runAtUTC.UnixMilli(),
		now.UnixMilli(),
	).Int()
	cancel()
	if err != nil {
		return err
	}
	switch transitionResult {
	case 1:
		return nil
	case 0:
		return jobsError(ErrNotFound, "lease not found")
	case -1:
		return errors.New("lease payload changed while transitioning")
	default:
		return fmt.Errorf("invalid lease transition result: %d", transitionResult)
	}
}

func (b *RedisBackend) dropLease(ctx context.Context, lease *Lease, expectedPayload string) (bool, error) {
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	result, err := redisDropLeaseScript.Run(
		opCtx,
		b.client,
		[]string{
			b.keys.lease(strings.TrimSpace(lease.Token)),
			b.keys.started(lease.Queue),
		},
		expectedPayload,
	).Int()
	if err != nil {
		return false, err
	}
	switch result {
	case 1:
		return true, nil
	case 0:
		return false, nil
	case -1:
		return false, errors.New("lease payload changed while dropping")
	default:
		return false, fmt.Errorf("invalid lease drop result: %d", result)
	}
}

func (b *RedisBackend) saveFailedEntry(ctx context.Context, entry *FailedEntry) error {
	if entry == nil {
		return jobsError(ErrValidation, "failed entry is required")
	}
	queue := strings.TrimSpace(entry.Queue)
	if queue == "" {
		return jobsError(ErrValidation, "failed entry queue is required")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	_, err = b.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Set(opCtx, b.keys.failedEntry(queue, entry.ID), string(encoded), 0)
		pipe.ZAdd(opCtx, b.keys.failedIndex(queue), redis.Z{
			Score:  float64(entry.FailedAt.UnixMilli()),
			Member: entry.ID,
		})
		return nil
	})
	return err
}

func decodeJobs(raw []string, limit int) []*Job {
	jobs := make([]*Job, 0, len(raw))
	for _, item := range raw {
		if len(jobs) >= limit {
			break
		}
		job, err := decodeJob(item)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}
