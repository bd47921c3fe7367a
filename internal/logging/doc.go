// Package logging provides structured logging utilities for teamcal.
//
// It centralizes attribute naming for slog so log lines stay consistent
// and greppable across the codebase, and it sanitizes PII: user emails are
// hashed before logging so entries can be correlated without exposing the
// address.
//
// Usage:
//
//	logger := logging.WithOperation(slog.Default(), "sync.push")
//	logger.Info("event updated",
//	    logging.TaskID(t.ID),
//	    logging.Status(logging.StatusSuccess))
package logging
