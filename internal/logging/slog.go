package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation = "operation"
	KeyTaskID    = "task_id"
	KeyEventID   = "event_id"
	KeyAccount   = "account"
	KeyDirection = "direction"
	KeyUserHash  = "user_hash"
	KeyStatus    = "status"
	KeyError     = "error"
)

// Status values for consistent logging.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// TaskID returns a slog attribute for a task id.
func TaskID(id string) slog.Attr {
	return slog.String(KeyTaskID, id)
}

// EventID returns a slog attribute for an external calendar event id.
func EventID(id string) slog.Attr {
	return slog.String(KeyEventID, id)
}

// Account returns a slog attribute for the connected Google account.
func Account(account string) slog.Attr {
	return slog.String(KeyAccount, account)
}

// Direction returns a slog attribute for the sync direction.
func Direction(direction string) slog.Attr {
	return slog.String(KeyDirection, direction)
}

// Status returns a slog attribute for the outcome status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error. If err is nil, an empty Group
// attribute is returned, which slog omits from output, so Err(maybeNilErr)
// is always safe to pass.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a hashed representation of an email for logging
// purposes. This allows correlation of log entries without exposing PII.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized user email.
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}
