package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrDirection = "direction"
	attrAccount   = "account"
)

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Google Calendar API metrics
	calendarOperationsTotal   metric.Int64Counter
	calendarOperationDuration metric.Float64Histogram

	// Calendar sync metrics
	syncOperationsTotal metric.Int64Counter

	// Task domain metrics
	reconciliationsTotal metric.Int64Counter
	websocketClients     metric.Int64UpDownCounter

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.calendarOperationsTotal, err = meter.Int64Counter(
		"calendar_api_operations_total",
		metric.WithDescription("Total number of Google Calendar API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar_api_operations_total counter: %w", err)
	}

	m.calendarOperationDuration, err = meter.Float64Histogram(
		"calendar_api_operation_duration_seconds",
		metric.WithDescription("Google Calendar API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar_api_operation_duration_seconds histogram: %w", err)
	}

	m.syncOperationsTotal, err = meter.Int64Counter(
		"calendar_sync_operations_total",
		metric.WithDescription("Total number of calendar sync operations by direction and status"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar_sync_operations_total counter: %w", err)
	}

	m.reconciliationsTotal, err = meter.Int64Counter(
		"task_reconciliations_total",
		metric.WithDescription("Total number of task status/progress reconciliations"),
		metric.WithUnit("{reconciliation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task_reconciliations_total counter: %w", err)
	}

	m.websocketClients, err = meter.Int64UpDownCounter(
		"websocket_clients",
		metric.WithDescription("Number of connected websocket clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket_clients gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, route pattern,
// status code, and duration. Pass the mux pattern, not the raw URL path,
// to keep cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCalendarOperation records a Google Calendar API operation.
//
// Parameters:
//   - operation: Operation type (list, get, create, update, delete)
//   - status: Result status ("success" or "error")
//   - account: The connected account; only labelled when detailedLabels is
//     enabled, reduced to the email domain
//   - duration: Time taken for the operation
func (m *Metrics) RecordCalendarOperation(ctx context.Context, operation, status, account string, duration time.Duration) {
	if m.calendarOperationsTotal == nil || m.calendarOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels && account != "" {
		attrs = append(attrs, attribute.String(attrAccount, ExtractUserDomain(account)))
	}

	m.calendarOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.calendarOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordSync records a calendar sync outcome. operation is "push", "pull"
// or "delete"; status is "success", "error" or "skipped".
func (m *Metrics) RecordSync(ctx context.Context, operation, status string) {
	if m.syncOperationsTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrDirection, operation),
		attribute.String(attrStatus, status),
	}

	m.syncOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconciliation counts a status/progress reconciliation by outcome
// ("applied", "forbidden", "noop").
func (m *Metrics) RecordReconciliation(ctx context.Context, outcome string) {
	if m.reconciliationsTotal == nil {
		return // Instrumentation not initialized
	}

	m.reconciliationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrStatus, outcome),
	))
}

// WebsocketClientConnected increments the connected client gauge.
func (m *Metrics) WebsocketClientConnected(ctx context.Context) {
	if m.websocketClients == nil {
		return // Instrumentation not initialized
	}
	m.websocketClients.Add(ctx, 1)
}

// WebsocketClientDisconnected decrements the connected client gauge.
func (m *Metrics) WebsocketClientDisconnected(ctx context.Context) {
	if m.websocketClients == nil {
		return // Instrumentation not initialized
	}
	m.websocketClients.Add(ctx, -1)
}
