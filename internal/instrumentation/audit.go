package instrumentation

import (
	"log/slog"
	"time"

	"github.com/tms-tools/teamcal/internal/logging"
)

// Mutation captures the information about one task mutation for audit
// logging.
//
// # Privacy Considerations
//
// The ActorEmail field contains PII. By default only a stable hash of the
// address is logged; full addresses are included only when the audit logger
// is configured with IncludePII, and those log streams should be routed to
// secure storage.
type Mutation struct {
	// Action is the mutation kind (task.create, task.update, task.status,
	// task.delete).
	Action string

	// Actor identity
	ActorID    string
	ActorEmail string

	// Target task
	TaskID string

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string
}

// Status returns "success" or "error" based on the Success field.
func (m *Mutation) Status() string {
	if m.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns slog attributes with the actor anonymized.
func (m *Mutation) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", m.Action),
		slog.String("actor", logging.AnonymizeEmail(m.ActorEmail)),
		slog.String("task_id", m.TaskID),
		slog.Duration("duration", m.Duration),
		slog.Bool("success", m.Success),
	}
	if m.Error != "" {
		attrs = append(attrs, slog.String("error", m.Error))
	}
	return attrs
}

// LogAuditAttrs returns slog attributes including the full actor email for
// compliance purposes.
func (m *Mutation) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", m.Action),
		slog.String("actor_id", m.ActorID),
		slog.String("actor", m.ActorEmail),
		slog.String("task_id", m.TaskID),
		slog.Duration("duration", m.Duration),
		slog.Bool("success", m.Success),
	}
	if m.Error != "" {
		attrs = append(attrs, slog.String("error", m.Error))
	}
	return attrs
}

// NewMutation creates a Mutation with timing started. Call Complete when
// the operation finishes.
func NewMutation(action, actorID, actorEmail string) *Mutation {
	return &Mutation{
		Action:     action,
		ActorID:    actorID,
		ActorEmail: actorEmail,
		StartTime:  time.Now(),
	}
}

// WithTask sets the target task id.
func (m *Mutation) WithTask(taskID string) *Mutation {
	m.TaskID = taskID
	return m
}

// Complete marks the mutation as finished and calculates the duration.
func (m *Mutation) Complete(err error) *Mutation {
	m.Duration = time.Since(m.StartTime)
	m.Success = err == nil
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

// AuditLogger writes structured audit entries for task mutations.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an AuditLogger with the given configuration.
// A nil logger falls back to slog.Default.
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogMutation writes one audit entry. Whether the actor email appears in
// full or anonymized depends on the IncludePII configuration.
func (al *AuditLogger) LogMutation(m *Mutation) {
	if al == nil || !al.enabled {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = m.LogAuditAttrs()
	} else {
		attrs = m.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if m.Success {
		al.logger.Info("task_mutation", args...)
	} else {
		al.logger.Warn("task_mutation_failed", args...)
	}
}
