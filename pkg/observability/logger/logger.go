// Package logger provides structured logging for producers and workers.
package logger

import "context"

// Logger is the structured logging interface used throughout the module.
// Methods take a message followed by alternating key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger whose fields are attached to every entry.
	With(args ...any) Logger

	// WithContext returns a child logger carrying job identity fields
	// extracted from the context, when present.
	WithContext(ctx context.Context) Logger
}

type contextKey string

const (
	jobIDKey    contextKey = "job_id"
	ownerKeyKey contextKey = "owner_key"
)

// ContextWithJob attaches job identity to the context so worker log entries
// carry job_id and owner_key without threading them manually.
func ContextWithJob(ctx context.Context, jobID, ownerKey string) context.Context {
	if jobID != "" {
		ctx = context.WithValue(ctx, jobIDKey, jobID)
	}
	if ownerKey != "" {
		ctx = context.WithValue(ctx, ownerKeyKey, ownerKey)
	}
	return ctx
}

// JobIDFromContext returns the job id attached to the context, if any.
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(jobIDKey).(string)
	return id
}

// OwnerKeyFromContext returns the owner key attached to the context, if any.
func OwnerKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	owner, _ := ctx.Value(ownerKeyKey).(string)
	return owner
}
