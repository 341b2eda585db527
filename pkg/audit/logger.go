package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/adminboard/pkg/contextkeys"
	"github.com/platinummonkey/adminboard/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records one event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the sink
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger, or a no-op logger when unset
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok && logger != nil {
		return logger
	}
	return NoOpLogger{}
}

// Record fills in the timestamp and request id, then logs. Sink failures
// are written to the application log and never returned: an audit outage
// must not fail the audited operation.
func Record(ctx context.Context, logger Logger, event Event) {
	if logger == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = StatusSuccess
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
	if err := logger.Log(ctx, &event); err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("event_type", string(event.EventType)).
			Error("failed to write audit event")
	}
}

// NoOpLogger discards events
type NoOpLogger struct{}

func (NoOpLogger) Log(context.Context, *Event) error { return nil }
func (NoOpLogger) Close() error                      { return nil }

// LogSink writes audit events as structured log lines
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink wraps an application logger
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger.WithField("component", "audit")}
}

func (s *LogSink) Log(ctx context.Context, event *Event) error {
	entry := s.logger.WithFields(map[string]interface{}{
		"event_type":    string(event.EventType),
		"status":        string(event.Status),
		"actor_uid":     event.Actor.UID,
		"actor_role":    event.Actor.Role,
		"resource_type": string(event.ResourceType),
		"resource_id":   event.ResourceID,
	})
	if event.RequestID != "" {
		entry = entry.WithField("request_id", event.RequestID)
	}
	if len(event.Details) > 0 {
		entry = entry.WithField("details", event.Details)
	}
	entry.Info(event.Message)
	return nil
}

func (s *LogSink) Close() error { return nil }

// MultiLogger logs to several sinks synchronously, continuing past failures
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to every given sink
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("audit sink failed: %w", err)
		}
	}
	return firstErr
}

func (m *MultiLogger) Close() error {
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
