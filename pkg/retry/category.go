// Package retry implements failure classification and retry policy for
// background jobs: mapping arbitrary errors onto a closed category set,
// computing capped exponential backoff, and deciding requeue vs permanent
// failure while keeping per-job retry bookkeeping in JobMeta.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
)

// Category classifies a job failure for retry decisions.
type Category string

// The closed set of failure categories. Every error maps to exactly one.
const (
	CategoryNetwork       Category = "network"
	CategoryResource      Category = "resource"
	CategoryExternalAPI   Category = "external_api"
	CategoryDatabase      Category = "database"
	CategoryBusinessLogic Category = "business_logic"
	CategoryUnknown       Category = "unknown"
)

// ErrResourceExhausted marks failures caused by local resource pressure.
// Wrapped errors classify as CategoryResource.
var ErrResourceExhausted = errors.New("resource exhausted")

// categoryKeywords is checked in order; the first category with a matching
// keyword wins. Matching is case-insensitive substring matching against the
// error text.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryNetwork, []string{
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"broken pipe",
		"no route to host",
		"i/o timeout",
		"dial tcp",
		"network is unreachable",
		"connection closed",
	}},
	{CategoryResource, []string{
		"out of memory",
		"cannot allocate",
		"too many open files",
		"no space left",
		"resource temporarily unavailable",
		"max number of clients",
	}},
	{CategoryExternalAPI, []string{
		"rate limit",
		"too many requests",
		"gateway timeout",
		"bad gateway",
		"service unavailable",
		"quota exceeded",
		"429",
		"502",
		"503",
		"504",
		"5xx",
	}},
	{CategoryDatabase, []string{
		"deadlock",
		"transaction",
		"database is locked",
		"constraint",
		"duplicate key",
		"sql",
	}},
	{CategoryBusinessLogic, []string{
		"validation",
		"not found",
		"unauthorized",
		"forbidden",
		"invalid",
		"bad request",
		"already exists",
	}},
}

// Classify maps an error onto exactly one Category. It inspects the error's
// runtime type first and falls back to keyword matching against the error
// text. It is a pure function of the error's type and message: no I/O, no
// randomness, never panics. A nil error classifies as CategoryUnknown.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	if category, ok := classifyByType(err); ok {
		return category
	}

	message := strings.ToLower(err.Error())
	for _, entry := range categoryKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(message, keyword) {
				return entry.category
			}
		}
	}
	return CategoryUnknown
}

func classifyByType(err error) (Category, bool) {
	if errors.Is(err, ErrResourceExhausted) {
		return CategoryResource, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork, true
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, redis.ErrPoolExhausted) || errors.Is(err, redis.ErrPoolTimeout) {
		return CategoryNetwork, true
	}

	// syscall.Errno satisfies net.Error, so it must be inspected first or
	// resource errnos would classify as network failures.
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE, syscall.EHOSTUNREACH, syscall.ENETUNREACH:
			return CategoryNetwork, true
		case syscall.ENOMEM, syscall.EMFILE, syscall.ENFILE, syscall.EAGAIN:
			return CategoryResource, true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryNetwork, true
	}

	return CategoryUnknown, false
}
