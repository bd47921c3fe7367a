package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tms-tools/teamcal/internal/logging"
	"github.com/tms-tools/teamcal/internal/notify"
	"github.com/tms-tools/teamcal/internal/permission"
	"github.com/tms-tools/teamcal/internal/store"
	"github.com/tms-tools/teamcal/internal/task"
)

// Syncer is the outbound half of the calendar sync the task flows need.
// *sync.Orchestrator satisfies it.
type Syncer interface {
	PushTask(ctx context.Context, t *task.Task) (string, error)
	DeleteTaskEvent(ctx context.Context, t *task.Task) error
}

// Recorder counts reconciliation outcomes. Implemented by the
// instrumentation metrics; nil disables recording.
type Recorder interface {
	RecordReconciliation(ctx context.Context, outcome string)
}

// Actor is the authenticated user performing an operation, as decoded from
// the request token.
type Actor struct {
	ID       string
	Role     permission.Role
	TeamRole string
}

// ValidationError rejects malformed input before any permission or
// persistence work happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// MutationResult is the outcome of a task mutation. SyncWarning carries the
// calendar push failure, if any; the mutation itself has already been
// committed when it is set.
type MutationResult struct {
	Task        *task.Task
	SyncWarning error
}

// Service wires the task domain rules to the store, the calendar sync
// orchestrator and the notification hub.
type Service struct {
	store   *store.Store
	syncer  Syncer
	events  notify.Publisher
	logger  *slog.Logger
	metrics Recorder

	now   func() time.Time
	newID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides task id generation, for tests.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithMetrics attaches a reconciliation outcome recorder.
func WithMetrics(r Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// New creates a Service. syncer may be nil to disable calendar pushes and
// events may be nil to disable notifications.
func New(st *store.Store, syncer Syncer, events notify.Publisher, logger *slog.Logger, opts ...Option) *Service {
	if events == nil {
		events = notify.Discard{}
	}
	s := &Service{
		store:  st,
		syncer: syncer,
		events: events,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is the caller-supplied portion of a new task.
type CreateInput struct {
	Title       string
	Description string
	Priority    task.Priority
	Type        task.Type

	StartDate *time.Time
	DueDate   *time.Time
	AllDay    bool

	Location    string
	MeetingLink string
	Recurrence  string

	ParentID   string
	AssigneeID string
	TeamID     string

	TeamMemberIDs   []string
	CollaboratorIDs []string
}

// CreateTask persists a new task and, when it is a subtask, recomputes the
// parent aggregate inside the same transaction. The calendar push and the
// notification happen after commit.
func (s *Service) CreateTask(ctx context.Context, actor Actor, in CreateInput) (MutationResult, error) {
	if in.Title == "" {
		return MutationResult{}, &ValidationError{Msg: "title is required"}
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return MutationResult{}, &ValidationError{Msg: fmt.Sprintf("unknown priority %q", in.Priority)}
	}
	if in.Type == "" {
		in.Type = task.TypeIndividual
	}
	if in.AssigneeID == "" {
		in.AssigneeID = actor.ID
	}

	now := s.now().UTC()
	t := &task.Task{
		ID:           s.newID(),
		Title:        in.Title,
		Description:  in.Description,
		Status:       task.StatusTodo,
		Priority:     in.Priority,
		Type:         in.Type,
		StartDate:    in.StartDate,
		DueDate:      in.DueDate,
		AllDay:       in.AllDay,
		Location:     in.Location,
		MeetingLink:  in.MeetingLink,
		Recurrence:   in.Recurrence,
		ParentID:     in.ParentID,
		AssigneeID:   in.AssigneeID,
		CreatorID:    actor.ID,
		AssignedByID: actor.ID,
		TeamID:       in.TeamID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var err error
	if t.TeamMembers, err = s.resolvePeople(ctx, in.TeamMemberIDs); err != nil {
		return MutationResult{}, err
	}
	if t.Collaborators, err = s.resolvePeople(ctx, in.CollaboratorIDs); err != nil {
		return MutationResult{}, err
	}

	err = s.store.Transaction(ctx, func(tx *sql.Tx) error {
		if t.ParentID != "" {
			parent, err := s.store.GetTask(ctx, tx, t.ParentID)
			if err != nil {
				return err
			}
			if parent.IsSubtask() {
				return &ValidationError{Msg: "subtasks cannot have subtasks of their own"}
			}
		}
		if err := s.store.CreateTask(ctx, tx, t); err != nil {
			return err
		}
		if t.IsSubtask() {
			return s.recomputeParent(ctx, tx, t.ParentID)
		}
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}

	res := MutationResult{Task: t, SyncWarning: s.pushAfterCommit(ctx, t)}
	s.events.Publish(notify.Event{Kind: notify.TaskCreated, TaskID: t.ID, UserID: actor.ID, At: now})
	return res, nil
}

// UpdateInput carries the fields a task update may touch. Nil fields are
// left as they are.
type UpdateInput struct {
	Title       *string
	Description *string
	Priority    *task.Priority

	Progress *int
	Status   *task.Status

	StartDate *time.Time
	DueDate   *time.Time
	AllDay    *bool

	Location    *string
	MeetingLink *string
	Recurrence  *string

	AssigneeID *string
}

// UpdateTask applies a task update: capability check, status/progress
// reconciliation, transactional write, and the parent aggregate
// recomputation when the subtask's status changed.
func (s *Service) UpdateTask(ctx context.Context, actor Actor, id string, in UpdateInput) (MutationResult, error) {
	if in.Priority != nil && !in.Priority.Valid() {
		return MutationResult{}, &ValidationError{Msg: fmt.Sprintf("unknown priority %q", *in.Priority)}
	}
	if in.Status != nil && !in.Status.Valid() {
		return MutationResult{}, &ValidationError{Msg: fmt.Sprintf("unknown status %q", *in.Status)}
	}

	t, err := s.store.GetTask(ctx, s.store.DB(), id)
	if err != nil {
		return MutationResult{}, err
	}
	cap := permission.Capability(permission.ForTask(t, actor.ID, actor.Role, actor.TeamRole))
	if !cap.CanEdit {
		return MutationResult{}, task.ErrEditForbidden
	}

	resolution, err := task.ReconcileUpdate(*t, task.UpdateRequest{Progress: in.Progress, Status: in.Status}, cap)
	if err != nil {
		s.recordReconciliation(ctx, "forbidden")
		return MutationResult{}, err
	}
	if resolution.StatusChanged || resolution.Progress != t.Progress {
		s.recordReconciliation(ctx, "applied")
	} else {
		s.recordReconciliation(ctx, "noop")
	}

	applyFields(t, in)
	t.Status = resolution.Status
	t.Progress = resolution.Progress
	t.UpdatedAt = s.now().UTC()

	err = s.store.Transaction(ctx, func(tx *sql.Tx) error {
		if err := s.store.SaveTask(ctx, tx, t); err != nil {
			return err
		}
		if resolution.StatusChanged && t.IsSubtask() {
			return s.recomputeParent(ctx, tx, t.ParentID)
		}
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}

	res := MutationResult{Task: t, SyncWarning: s.pushAfterCommit(ctx, t)}
	s.events.Publish(notify.Event{Kind: notify.TaskUpdated, TaskID: t.ID, UserID: actor.ID, At: t.UpdatedAt})
	return res, nil
}

// UpdateStatus moves a task to an explicit status. It is the endpoint
// behind the board's drag-and-drop and runs the same reconciliation as a
// full update.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id string, status task.Status) (MutationResult, error) {
	return s.UpdateTask(ctx, actor, id, UpdateInput{Status: &status})
}

// DeleteTask removes a task and its subtasks. The external calendar event
// is removed best effort after commit.
func (s *Service) DeleteTask(ctx context.Context, actor Actor, id string) (MutationResult, error) {
	t, err := s.store.GetTask(ctx, s.store.DB(), id)
	if err != nil {
		return MutationResult{}, err
	}
	rel := permission.ForTask(t, actor.ID, actor.Role, actor.TeamRole)
	if !permission.CanDeleteTask(rel) {
		return MutationResult{}, task.ErrDeleteForbidden
	}

	// The row deletion cascades to subtasks, so their calendar projections
	// have to be collected up front.
	subtasks, err := s.store.ListTasks(ctx, store.TaskFilter{ParentID: id})
	if err != nil {
		return MutationResult{}, err
	}

	err = s.store.Transaction(ctx, func(tx *sql.Tx) error {
		if err := s.store.DeleteTask(ctx, tx, id); err != nil {
			return err
		}
		if t.IsSubtask() {
			return s.recomputeParent(ctx, tx, t.ParentID)
		}
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}

	res := MutationResult{Task: t}
	if s.syncer != nil {
		for _, victim := range append([]*task.Task{t}, subtasks...) {
			if syncErr := s.syncer.DeleteTaskEvent(ctx, victim); syncErr != nil && res.SyncWarning == nil {
				res.SyncWarning = syncErr
			}
		}
	}
	s.events.Publish(notify.Event{Kind: notify.TaskDeleted, TaskID: t.ID, UserID: actor.ID, At: s.now().UTC()})
	return res, nil
}

// GetTask loads a task with its membership lists.
func (s *Service) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return s.store.GetTask(ctx, s.store.DB(), id)
}

// ListTasks returns tasks matching the filter.
func (s *Service) ListTasks(ctx context.Context, f store.TaskFilter) ([]*task.Task, error) {
	return s.store.ListTasks(ctx, f)
}

// recomputeParent derives the parent's status and progress from its direct
// children and writes the pair. Must run inside the same transaction as the
// child write so both rows move together.
func (s *Service) recomputeParent(ctx context.Context, tx *sql.Tx, parentID string) error {
	statuses, err := s.store.SubtaskStatuses(ctx, tx, parentID)
	if err != nil {
		return err
	}
	agg, ok := task.RecomputeParentAggregate(statuses)
	if !ok {
		return nil
	}
	if agg.Status == "" {
		parent, err := s.store.GetTask(ctx, tx, parentID)
		if err != nil {
			return err
		}
		agg.Status = parent.Status
	}
	return s.store.SetTaskProgress(ctx, tx, parentID, agg.Status, agg.Progress)
}

// pushAfterCommit projects the committed task to the calendar and stores a
// newly created event id. Failures are logged and returned as the warning,
// never as an error.
func (s *Service) pushAfterCommit(ctx context.Context, t *task.Task) error {
	if s.syncer == nil {
		return nil
	}
	eventID, err := s.syncer.PushTask(ctx, t)
	if err != nil {
		s.logger.Warn("calendar sync failed, task saved",
			logging.TaskID(t.ID), logging.Err(err))
		return err
	}
	if eventID != "" && eventID != t.GoogleEventID {
		if err := s.store.SetGoogleEventID(ctx, s.store.DB(), t.ID, eventID); err != nil {
			s.logger.Warn("failed to store calendar event id",
				logging.TaskID(t.ID), logging.EventID(eventID), logging.Err(err))
			return err
		}
		t.GoogleEventID = eventID
	}
	return nil
}

func (s *Service) recordReconciliation(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordReconciliation(ctx, outcome)
	}
}

func (s *Service) resolvePeople(ctx context.Context, ids []string) ([]task.Person, error) {
	var people []task.Person
	for _, id := range ids {
		p, _, err := s.store.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, nil
}

func applyFields(t *task.Task, in UpdateInput) {
	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.StartDate != nil {
		t.StartDate = in.StartDate
	}
	if in.DueDate != nil {
		t.DueDate = in.DueDate
	}
	if in.AllDay != nil {
		t.AllDay = *in.AllDay
	}
	if in.Location != nil {
		t.Location = *in.Location
	}
	if in.MeetingLink != nil {
		t.MeetingLink = *in.MeetingLink
	}
	if in.Recurrence != nil {
		t.Recurrence = *in.Recurrence
	}
	if in.AssigneeID != nil {
		t.AssigneeID = *in.AssigneeID
	}
}
