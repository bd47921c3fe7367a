// Package server provides the HTTP surface of teamcal: the JSON task API,
// JWT bearer authentication, health endpoints, and the dedicated metrics
// server.
//
// # Key Components
//
// ServerContext manages per-account Google Calendar clients with lazy
// initialization and caching, and carries the shutdown signal the health
// checker and the sync paths observe.
//
// API is the route table over the task service: task CRUD and the status
// endpoint, per-user sync settings, inbound calendar pull, imported
// personal events, and the /ws notification socket. Mutation responses
// carry a syncWarning field when the task was saved but the calendar
// projection failed.
//
// Authenticator validates HS256 bearer tokens and places the acting user
// in the request context; the permission predicates in internal/permission
// consume the decoded role. Issuing tokens is not this service's job, but
// GenerateToken exists for tests and single-node deployments.
//
// MetricsServer serves Prometheus metrics on a dedicated port, isolated
// from API traffic. HealthChecker serves /healthz and /readyz for
// Kubernetes probes; readiness includes a database ping.
package server
