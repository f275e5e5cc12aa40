package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smontoya86/curatorq/pkg/health"
	"github.com/smontoya86/curatorq/pkg/observability/logger"
)

// degradedFailedThreshold marks a queue degraded once its failed registry
// grows past this many records.
const degradedFailedThreshold = 10

// QueueHealth is the health verdict for one queue.
type QueueHealth struct {
	Queue   string        `json:"queue"`
	Status  health.Status `json:"status"`
	Pending int64         `json:"pending"`
	Failed  int64         `json:"failed"`
	Workers int64         `json:"workers"`
	Error   string        `json:"error,omitempty"`
}

// HealthReport aggregates per-queue health; Overall is the worst queue status.
type HealthReport struct {
	Overall   health.Status `json:"overall"`
	Queues    []QueueHealth `json:"queues"`
	CheckedAt time.Time     `json:"checked_at"`
}

// QueueHealthMonitor evaluates broker queue health from pending depth, failed
// record count and live worker heartbeats.
type QueueHealthMonitor struct {
	inspector Inspector
	window    time.Duration
	log       logger.Logger
}

// NewQueueHealthMonitor creates a monitor. The window bounds how stale a
// worker heartbeat may be and still count as live.
func NewQueueHealthMonitor(inspector Inspector, window time.Duration, log logger.Logger) (*QueueHealthMonitor, error) {
	if inspector == nil {
		return nil, errors.New("inspector is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if window <= 0 {
		window = DefaultHeartbeatWindow
	}
	return &QueueHealthMonitor{inspector: inspector, window: window, log: log}, nil
}

// Check evaluates every queue. A queue with more than degradedFailedThreshold
// failed records is degraded; a non-empty queue with zero live workers is
// unhealthy; otherwise it is healthy. Lookup failures mark the queue
// unhealthy with the error recorded.
func (m *QueueHealthMonitor) Check(ctx context.Context, queues []string) *HealthReport {
	report := &HealthReport{
		Overall:   health.StatusHealthy,
		Queues:    []QueueHealth{},
		CheckedAt: time.Now().UTC(),
	}

	for _, queue := range queues {
		queue = strings.TrimSpace(queue)
		if queue == "" {
			continue
		}
		qh := m.checkQueue(ctx, queue)
		report.Queues = append(report.Queues, qh)
		report.Overall = health.Worst(report.Overall, qh.Status)
	}
	return report
}

func (m *QueueHealthMonitor) checkQueue(ctx context.Context, queue string) QueueHealth {
	qh := QueueHealth{Queue: queue, Status: health.StatusHealthy}

	pending, err := m.inspector.QueueDepth(ctx, queue)
	if err != nil {
		return m.errored(queue, qh, err)
	}
	failed, err := m.inspector.FailedCount(ctx, queue)
	if err != nil {
		return m.errored(queue, qh, err)
	}
	workers, err := m.inspector.WorkerCount(ctx, queue, m.window)
	if err != nil {
		return m.errored(queue, qh, err)
	}

	qh.Pending = pending
	qh.Failed = failed
	qh.Workers = workers

	switch {
	case pending > 0 && workers == 0:
		qh.Status = health.StatusUnhealthy
	case failed > degradedFailedThreshold:
		qh.Status = health.StatusDegraded
	default:
		qh.Status = health.StatusHealthy
	}
	return qh
}

func (m *QueueHealthMonitor) errored(queue string, qh QueueHealth, err error) QueueHealth {
	m.log.Warn("queue health lookup failed", "queue", queue, "error", err)
	qh.Status = health.StatusUnhealthy
	qh.Error = err.Error()
	return qh
}
