// Package instrumentation provides OpenTelemetry instrumentation for the
// teamcal server.
//
// Metrics are recorded through the OTel metrics API and exported with the
// Prometheus exporter; the dedicated metrics server in internal/server
// serves them on /metrics.
//
// # Metrics
//
// Server/HTTP:
//   - http_requests_total: Counter of HTTP requests by method, route, status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//
// Google Calendar API:
//   - calendar_api_operations_total: Counter of Calendar API operations by operation and status
//   - calendar_api_operation_duration_seconds: Histogram of operation durations
//
// Calendar sync:
//   - calendar_sync_operations_total: Counter of push/pull/delete sync outcomes
//
// Task domain:
//   - task_reconciliations_total: Counter of status/progress reconciliations
//   - websocket_clients: Gauge of connected notification clients
//
// # Audit logging
//
// AuditLogger writes one structured entry per task mutation. Actor emails
// are anonymized unless AUDIT_LOGGING_INCLUDE_PII is set.
//
// # Configuration
//
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_DETAILED_LABELS: Include account-domain labels (default: false)
//   - OTEL_SERVICE_NAME: Service name (default: teamcal)
//   - AUDIT_LOGGING_ENABLED / AUDIT_LOGGING_INCLUDE_PII
package instrumentation
