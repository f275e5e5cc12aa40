package retry

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy defaults. The base delay is deliberately large: job requeues are
// broker-visible to every worker, so short retry cycles amplify load spikes.
const (
	DefaultMaxRetries      = 3
	DefaultBaseDelay       = 60 * time.Second
	DefaultMaxDelay        = 30 * time.Minute
	DefaultExponentialBase = 2.0

	// minDelay floors every computed delay.
	minDelay = time.Second

	// jitterFraction perturbs jittered delays by up to this fraction either way.
	jitterFraction = 0.10
)

// Policy decides retry eligibility and delay for failed jobs. Policies are
// immutable after construction; multiple named policies may coexist.
type Policy struct {
	Name                string
	MaxRetries          int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	ExponentialBase     float64
	Jitter              bool
	RetryableCategories map[Category]bool
}

// DefaultPolicy returns the default policy: Network, Resource, ExternalAPI
// and Database failures retried up to DefaultMaxRetries with jittered
// exponential backoff. BusinessLogic and Unknown are never retried.
func DefaultPolicy() Policy {
	return Policy{
		Name:                "default",
		MaxRetries:          DefaultMaxRetries,
		BaseDelay:           DefaultBaseDelay,
		MaxDelay:            DefaultMaxDelay,
		ExponentialBase:     DefaultExponentialBase,
		Jitter:              true,
		RetryableCategories: DefaultRetryableCategories(),
	}
}

// DefaultRetryableCategories returns a fresh copy of the default retryable set.
func DefaultRetryableCategories() map[Category]bool {
	return map[Category]bool{
		CategoryNetwork:     true,
		CategoryResource:    true,
		CategoryExternalAPI: true,
		CategoryDatabase:    true,
	}
}

func (p *Policy) normalize() {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.ExponentialBase <= 1 {
		p.ExponentialBase = DefaultExponentialBase
	}
	if p.RetryableCategories == nil {
		p.RetryableCategories = DefaultRetryableCategories()
	}
}

// IsRetryable reports whether the error's category is retryable under this policy.
func (p Policy) IsRetryable(err error) bool {
	p.normalize()
	return p.RetryableCategories[Classify(err)]
}

// CalculateDelay computes the requeue delay for the given zero-based attempt:
// min(base * exponentialBase^attempt, maxDelay), optionally perturbed by up
// to ±10%, floored at one second.
func (p Policy) CalculateDelay(attempt int) time.Duration {
	p.normalize()
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay *= 1 + jitterFraction*(2*rand.Float64()-1)
	}
	if delay < float64(minDelay) {
		return minDelay
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether another attempt is allowed: false once the
// job's retry budget is spent, false for non-retryable categories, true
// otherwise.
func (p Policy) ShouldRetry(meta *JobMeta, err error) bool {
	p.normalize()
	if meta == nil {
		return false
	}
	if meta.FinalFailure {
		return false
	}
	if meta.RetryCount >= p.MaxRetries {
		return false
	}
	return p.IsRetryable(err)
}

// DecisionKind discriminates the two outcomes of HandleFailure.
type DecisionKind int

const (
	// DecisionRequeue asks the broker to requeue the job after Delay.
	DecisionRequeue DecisionKind = iota
	// DecisionPermanentFailure records the job as finished-with-error.
	DecisionPermanentFailure
)

// Decision is the outcome of handling one failed attempt. Only the broker
// adapter translates it into requeue vs terminal record keeping, so the
// policy engine stays broker-free.
type Decision struct {
	Kind        DecisionKind
	Delay       time.Duration
	NextRetryAt time.Time
}

// Requeue reports whether the decision schedules another attempt.
func (d Decision) Requeue() bool {
	return d.Kind == DecisionRequeue
}

// HandleFailure records one failed attempt in meta and decides what happens
// next. On a retryable failure it increments the retry count, computes the
// backoff delay and stamps the next retry time; otherwise it marks the meta
// as a permanent failure. Each attempt must be handled exactly once: callers
// that re-invoke it for the same attempt must discard the duplicate's
// mutations.
func (p Policy) HandleFailure(meta *JobMeta, err error) Decision {
	p.normalize()
	if meta == nil || err == nil {
		return Decision{Kind: DecisionPermanentFailure}
	}

	now := time.Now().UTC()
	category := Classify(err)
	attempt := meta.RetryCount + 1

	meta.CurrentAttempt = attempt
	meta.LastError = err.Error()
	meta.ErrorCategory = category
	meta.FailureHistory = append(meta.FailureHistory, FailureRecord{
		Attempt:       attempt,
		Timestamp:     now,
		Error:         err.Error(),
		ErrorType:     fmt.Sprintf("%T", err),
		ErrorCategory: category,
	})

	if p.ShouldRetry(meta, err) {
		delay := p.CalculateDelay(meta.RetryCount)
		meta.RetryCount++
		next := now.Add(delay)
		meta.NextRetryTime = &next
		return Decision{Kind: DecisionRequeue, Delay: delay, NextRetryAt: next}
	}

	meta.FinalFailure = true
	meta.FinalError = err.Error()
	meta.FinalErrorCategory = category
	meta.TotalAttempts = meta.RetryCount + 1
	meta.NextRetryTime = nil
	return Decision{Kind: DecisionPermanentFailure}
}

// Stats summarizes a job's retry history for status reporting.
type Stats struct {
	RetryCount                int              `json:"retry_count"`
	MaxRetries                int              `json:"max_retries"`
	IsFinalFailure            bool             `json:"is_final_failure"`
	FailureCategories         map[Category]int `json:"failure_categories"`
	MostCommonFailureCategory Category         `json:"most_common_failure_category,omitempty"`
}

// RetryStats computes a Stats summary from the meta's failure history.
func RetryStats(meta *JobMeta) Stats {
	stats := Stats{FailureCategories: map[Category]int{}}
	if meta == nil {
		return stats
	}

	stats.RetryCount = meta.RetryCount
	if meta.MaxAttempts > 0 {
		stats.MaxRetries = meta.MaxAttempts - 1
	}
	stats.IsFinalFailure = meta.FinalFailure

	best := 0
	for _, record := range meta.FailureHistory {
		stats.FailureCategories[record.ErrorCategory]++
		count := stats.FailureCategories[record.ErrorCategory]
		// Ties resolve to the earliest category to keep the summary stable.
		if count > best {
			best = count
			stats.MostCommonFailureCategory = record.ErrorCategory
		}
	}
	return stats
}
