// Package service implements the task application flows: permission
// evaluation, status/progress reconciliation, transactional persistence
// with parent aggregate recomputation, and the post-commit calendar push
// and websocket notification.
//
// Calendar synchronization is strictly post-commit and fire-and-continue:
// a failed push never fails the task mutation, it only shows up as a
// SyncWarning on the result.
package service
