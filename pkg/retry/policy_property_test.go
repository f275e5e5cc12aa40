package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: without jitter, CalculateDelay is non-decreasing in the attempt
// number and never exceeds MaxDelay.
func TestProperty_DelayMonotoneAndCapped(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genBaseSeconds := gen.IntRange(1, 300)
	genMaxMinutes := gen.IntRange(1, 120)
	genAttempt := gen.IntRange(0, 40)

	properties.Property("monotone and capped", prop.ForAll(
		func(baseSeconds, maxMinutes, attempt int) bool {
			policy := Policy{
				MaxRetries:          5,
				BaseDelay:           time.Duration(baseSeconds) * time.Second,
				MaxDelay:            time.Duration(maxMinutes) * time.Minute,
				ExponentialBase:     2,
				Jitter:              false,
				RetryableCategories: DefaultRetryableCategories(),
			}
			current := policy.CalculateDelay(attempt)
			next := policy.CalculateDelay(attempt + 1)
			if next < current {
				return false
			}
			return current <= policy.MaxDelay || current == time.Second
		},
		genBaseSeconds, genMaxMinutes, genAttempt,
	))

	properties.TestingRun(t)
}

// Property: with jitter enabled the delay stays within ±10% of the
// non-jittered delay (modulo the one second floor).
func TestProperty_JitterWithinTenPercent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	genBaseSeconds := gen.IntRange(10, 600)
	genAttempt := gen.IntRange(0, 10)

	properties.Property("jitter bounded", prop.ForAll(
		func(baseSeconds, attempt int) bool {
			exact := Policy{
				MaxRetries:          5,
				BaseDelay:           time.Duration(baseSeconds) * time.Second,
				MaxDelay:            time.Hour,
				ExponentialBase:     2,
				Jitter:              false,
				RetryableCategories: DefaultRetryableCategories(),
			}
			jittered := exact
			jittered.Jitter = true

			want := exact.CalculateDelay(attempt)
			got := jittered.CalculateDelay(attempt)

			low := time.Duration(float64(want) * 0.9)
			high := time.Duration(float64(want) * 1.1)
			if low < time.Second {
				low = time.Second
			}
			return got >= low && got <= high
		},
		genBaseSeconds, genAttempt,
	))

	properties.TestingRun(t)
}

// Property: Classify is total. Any message yields exactly one member of the
// closed category set and never panics.
func TestProperty_ClassifyTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	known := map[Category]bool{
		CategoryNetwork:       true,
		CategoryResource:      true,
		CategoryExternalAPI:   true,
		CategoryDatabase:      true,
		CategoryBusinessLogic: true,
		CategoryUnknown:       true,
	}

	properties.Property("every message classifies into the closed set", prop.ForAll(
		func(message string) bool {
			return known[Classify(errors.New(message))]
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// Property: once retry_count reaches max_retries, ShouldRetry is false for
// every category of error.
func TestProperty_BudgetExhaustionDominates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	messages := gen.OneConstOf(
		"connection refused",
		"rate limit exceeded",
		"deadlock detected",
		"out of memory",
		"validation failed",
		"unclassifiable condition",
	)

	properties.Property("exhausted budget never retries", prop.ForAll(
		func(message string, maxRetries int) bool {
			policy := Policy{
				MaxRetries:          maxRetries,
				BaseDelay:           time.Second,
				MaxDelay:            time.Minute,
				ExponentialBase:     2,
				RetryableCategories: DefaultRetryableCategories(),
			}
			policy.normalize()
			meta := NewJobMeta(policy, "owner")
			meta.RetryCount = policy.MaxRetries
			return !policy.ShouldRetry(meta, errors.New(message))
		},
		messages, gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
