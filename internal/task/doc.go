// Package task holds the task domain model and the progress/status
// reconciliation rules.
//
// The package is deliberately free of I/O. The two reconciliation entry
// points are pure functions:
//
//   - ReconcileUpdate derives the consistent status/progress pair to
//     persist for a single task update, enforcing the capability rules
//     (only the assignee or an admin can complete a task; other actors are
//     clamped at 90% and land in review).
//   - RecomputeParentAggregate rolls the statuses of a parent's subtasks up
//     into the parent's derived progress and status.
//
// A parent task's progress and status are never authored directly; they are
// recomputed whenever a subtask's status changes, inside the same store
// transaction as the subtask write.
package task
