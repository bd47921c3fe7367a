package task

import (
	"math"
)

// Progress a non-assignee, non-admin actor can report at most. Anything
// above parks the task in review until the assignee or an admin signs off.
const maxProgressWithoutSignoff = 90

// UpdateRequest carries the status/progress portion of a task update. Nil
// fields were not supplied by the caller.
type UpdateRequest struct {
	Progress *int
	Status   *Status
}

// Resolution is the consistent status/progress pair to persist.
type Resolution struct {
	Status   Status
	Progress int

	// StatusChanged reports whether the persisted status differs from the
	// previous one. Parent aggregate recomputation fires only on status
	// changes, never on progress-only updates.
	StatusChanged bool
}

// ReconcileUpdate computes the final status and progress for a task update.
//
// Rules, in order:
//  1. The actor must be allowed to edit at all.
//  2. A non-assignee, non-admin actor has requested progress above 90
//     clamped down to 90 and may not complete the task, neither through
//     progress 100 nor through an explicit COMPLETED status.
//  3. When progress is supplied without an explicit status, the status is
//     derived from the progress thresholds (100 -> COMPLETED, >=90 ->
//     IN_REVIEW, >0 -> IN_PROGRESS). Progress 0 leaves the status alone so
//     resetting progress does not force a task back to TODO.
//  4. An explicit status wins over the derived one but requires the
//     stricter status-change capability.
func ReconcileUpdate(current Task, req UpdateRequest, cap ActorCapability) (Resolution, error) {
	if !cap.CanEdit {
		return Resolution{}, ErrEditForbidden
	}

	res := Resolution{
		Status:   current.Status,
		Progress: current.Progress,
	}

	if req.Progress != nil {
		p := *req.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		if !cap.IsAssigneeOrAdmin() && p > maxProgressWithoutSignoff {
			p = maxProgressWithoutSignoff
		}
		res.Progress = p

		if req.Status == nil {
			switch {
			case p == 100 && cap.IsAssigneeOrAdmin():
				res.Status = StatusCompleted
			case p >= maxProgressWithoutSignoff:
				res.Status = StatusInReview
			case p > 0:
				res.Status = StatusInProgress
			}
			// p == 0: status unchanged.
		}
	}

	if req.Status != nil {
		s := *req.Status
		if s == StatusCompleted && !cap.IsAssigneeOrAdmin() {
			return Resolution{}, ErrCompletionForbidden
		}
		if s != current.Status && !cap.CanChangeStatus {
			return Resolution{}, ErrStatusChangeForbidden
		}
		res.Status = s
	}

	res.StatusChanged = res.Status != current.Status
	return res, nil
}

// statusWeight maps a subtask status to its contribution to the parent's
// progress. CANCELLED subtasks carry no weight and are excluded from the
// mean entirely.
var statusWeight = map[Status]int{
	StatusCompleted:  100,
	StatusInReview:   90,
	StatusInProgress: 50,
	StatusTodo:       0,
}

// Aggregate is the derived progress/status of a parent task. An empty
// Status means the children gave no signal and the parent keeps its current
// status.
type Aggregate struct {
	Progress int
	Status   Status
}

// RecomputeParentAggregate derives a parent task's progress and status from
// its direct children. It returns false when no child carries weight (no
// children, or all cancelled), in which case the parent is left untouched.
//
// Progress is the rounded mean of the child weights. Status is COMPLETED
// when every counted child is completed, IN_REVIEW when the mean reaches
// 75, IN_PROGRESS as soon as any child has started, and otherwise left
// unchanged.
func RecomputeParentAggregate(children []Status) (Aggregate, bool) {
	sum := 0
	counted := 0
	completed := 0
	started := 0

	for _, s := range children {
		w, ok := statusWeight[s]
		if !ok {
			continue
		}
		sum += w
		counted++
		if s == StatusCompleted {
			completed++
		}
		if s == StatusInProgress || s == StatusInReview || s == StatusCompleted {
			started++
		}
	}

	if counted == 0 {
		return Aggregate{}, false
	}

	mean := float64(sum) / float64(counted)
	agg := Aggregate{Progress: int(math.Round(mean))}

	switch {
	case completed == counted:
		agg.Status = StatusCompleted
	case mean >= 75:
		agg.Status = StatusInReview
	case started > 0:
		agg.Status = StatusInProgress
	}

	return agg, true
}
