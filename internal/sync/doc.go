// Package sync orchestrates two-way synchronization between tasks and the
// external Google Calendar.
//
// Outbound (PushTask, DeleteTaskEvent): task mutations are projected to
// calendar events when the owner's sync settings allow it. Calls are
// fire-and-continue: a calendar failure is logged and surfaced as a
// *task.SyncError, never as a failure of the owning task mutation, and
// nothing here rolls back a committed store transaction.
//
// Inbound (PullEvents): external events are imported as calendar-origin
// personal event records. Events recognized as task projections are
// skipped to avoid echoing pushed tasks back in.
//
// There is no retry loop; the next user-triggered or scheduled pull is the
// recovery mechanism for transient failures.
package sync
