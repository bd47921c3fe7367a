package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tms-tools/teamcal/internal/notify"
	"github.com/tms-tools/teamcal/internal/permission"
	"github.com/tms-tools/teamcal/internal/store"
	"github.com/tms-tools/teamcal/internal/task"
)

type fakeSyncer struct {
	pushCalls     int
	deleteCalls   int
	deletedEvents []string
	eventID       string
	failWith      error
}

func (f *fakeSyncer) PushTask(ctx context.Context, t *task.Task) (string, error) {
	f.pushCalls++
	if f.failWith != nil {
		return "", &task.SyncError{Op: "create", Err: f.failWith}
	}
	return f.eventID, nil
}

func (f *fakeSyncer) DeleteTaskEvent(ctx context.Context, t *task.Task) error {
	f.deleteCalls++
	if t.GoogleEventID != "" {
		f.deletedEvents = append(f.deletedEvents, t.GoogleEventID)
	}
	if f.failWith != nil {
		return &task.SyncError{Op: "delete", Err: f.failWith}
	}
	return nil
}

type fakeRecorder struct {
	outcomes []string
}

func (f *fakeRecorder) RecordReconciliation(ctx context.Context, outcome string) {
	f.outcomes = append(f.outcomes, outcome)
}

type capturePublisher struct {
	events []notify.Event
}

func (c *capturePublisher) Publish(event notify.Event) {
	c.events = append(c.events, event)
}

func newTestService(t *testing.T, syncer Syncer, events notify.Publisher, opts ...Option) (*Service, *store.Store) {
	t.Helper()
	// Shared in-memory sqlite breaks across pooled connections, so tests use
	// a file-backed database in the test's temp dir.
	db, err := store.Open("sqlite3", filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))

	st := store.New(db)
	require.NoError(t, st.CreateUser(context.Background(),
		task.Person{ID: "admin", Name: "Root", Email: "root@example.com"}, "ADMIN"))
	require.NoError(t, st.CreateUser(context.Background(),
		task.Person{ID: "alice", FirstName: "Alice", LastName: "Doe", Email: "alice@example.com"}, "EMPLOYEE"))
	require.NoError(t, st.CreateUser(context.Background(),
		task.Person{ID: "bob", FirstName: "Bob", LastName: "Ray", Email: "bob@example.com"}, "EMPLOYEE"))

	opts = append([]Option{
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }),
	}, opts...)
	svc := New(st, syncer, events, slog.Default(), opts...)
	return svc, st
}

func alice() Actor { return Actor{ID: "alice", Role: permission.RoleEmployee} }
func bob() Actor   { return Actor{ID: "bob", Role: permission.RoleEmployee} }
func admin() Actor { return Actor{ID: "admin", Role: permission.RoleAdmin} }

func mustCreate(t *testing.T, svc *Service, actor Actor, in CreateInput) *task.Task {
	t.Helper()
	res, err := svc.CreateTask(context.Background(), actor, in)
	require.NoError(t, err)
	return res.Task
}

func TestCreateTask_Defaults(t *testing.T) {
	events := &capturePublisher{}
	svc, _ := newTestService(t, nil, events)

	res, err := svc.CreateTask(context.Background(), alice(), CreateInput{Title: "Write report"})
	require.NoError(t, err)

	created := res.Task
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, task.StatusTodo, created.Status)
	assert.Equal(t, task.TypeIndividual, created.Type)
	assert.Equal(t, "alice", created.AssigneeID)
	assert.Equal(t, "alice", created.CreatorID)

	require.Len(t, events.events, 1)
	assert.Equal(t, notify.TaskCreated, events.events[0].Kind)
	assert.Equal(t, created.ID, events.events[0].TaskID)
}

func TestCreateTask_RequiresTitle(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	_, err := svc.CreateTask(context.Background(), alice(), CreateInput{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestCreateTask_RejectsNestedSubtasks(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	parent := mustCreate(t, svc, alice(), CreateInput{Title: "Parent"})
	child := mustCreate(t, svc, alice(), CreateInput{Title: "Child", ParentID: parent.ID})

	_, err := svc.CreateTask(context.Background(), alice(), CreateInput{Title: "Grandchild", ParentID: child.ID})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestCreateTask_PushStoresEventID(t *testing.T) {
	syncer := &fakeSyncer{eventID: "evt-42"}
	svc, _ := newTestService(t, syncer, nil)

	due := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	created := mustCreate(t, svc, alice(), CreateInput{Title: "Ship", DueDate: &due})

	assert.Equal(t, 1, syncer.pushCalls)
	assert.Equal(t, "evt-42", created.GoogleEventID)

	stored, err := svc.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "evt-42", stored.GoogleEventID)
}

func TestUpdateTask_SyncFailureDoesNotFailMutation(t *testing.T) {
	syncer := &fakeSyncer{failWith: errors.New("calendar down")}
	svc, _ := newTestService(t, syncer, nil)

	created := mustCreate(t, svc, alice(), CreateInput{Title: "Ship"})

	title := "Ship v2"
	res, err := svc.UpdateTask(context.Background(), alice(), created.ID, UpdateInput{Title: &title})
	require.NoError(t, err)
	require.Error(t, res.SyncWarning)
	var syncErr *task.SyncError
	assert.True(t, errors.As(res.SyncWarning, &syncErr))

	stored, err := svc.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ship v2", stored.Title)
}

func TestUpdateTask_ClampsNonAssigneeProgress(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	// Alice creates and assigns to Bob; as creator she can edit but is not
	// the assignee.
	created := mustCreate(t, svc, alice(), CreateInput{Title: "Review", AssigneeID: "bob"})

	progress := 95
	res, err := svc.UpdateTask(context.Background(), alice(), created.ID, UpdateInput{Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, 90, res.Task.Progress)
	assert.Equal(t, task.StatusInReview, res.Task.Status)
}

func TestUpdateTask_AssigneeCompletes(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	created := mustCreate(t, svc, alice(), CreateInput{Title: "Review", AssigneeID: "bob"})

	progress := 100
	res, err := svc.UpdateTask(context.Background(), bob(), created.ID, UpdateInput{Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Task.Progress)
	assert.Equal(t, task.StatusCompleted, res.Task.Status)
}

func TestUpdateTask_CompletionForbiddenForCreator(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	created := mustCreate(t, svc, alice(), CreateInput{Title: "Review", AssigneeID: "bob"})

	_, err := svc.UpdateStatus(context.Background(), alice(), created.ID, task.StatusCompleted)
	require.Error(t, err)
	assert.True(t, task.IsForbidden(err))
}

func TestUpdateTask_StrangerCannotEdit(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	created := mustCreate(t, svc, alice(), CreateInput{Title: "Private"})

	title := "Hijacked"
	_, err := svc.UpdateTask(context.Background(), bob(), created.ID, UpdateInput{Title: &title})
	require.Error(t, err)
	assert.True(t, task.IsForbidden(err))
}

func TestUpdateTask_NotFound(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	_, err := svc.UpdateStatus(context.Background(), admin(), "missing", task.StatusInProgress)
	assert.True(t, task.IsNotFound(err))
}

func TestSubtaskStatusChangeUpdatesParent(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	parent := mustCreate(t, svc, alice(), CreateInput{Title: "Release"})
	sub1 := mustCreate(t, svc, alice(), CreateInput{Title: "Build", ParentID: parent.ID})
	sub2 := mustCreate(t, svc, alice(), CreateInput{Title: "Docs", ParentID: parent.ID})

	_, err := svc.UpdateStatus(context.Background(), alice(), sub1.ID, task.StatusCompleted)
	require.NoError(t, err)

	// COMPLETED (100) + TODO (0) -> mean 50, one child started.
	got, err := svc.GetTask(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, task.StatusInProgress, got.Status)

	_, err = svc.UpdateStatus(context.Background(), alice(), sub2.ID, task.StatusCompleted)
	require.NoError(t, err)

	got, err = svc.GetTask(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, task.StatusCompleted, got.Status)
}

func TestCancelledSubtasksCarryNoWeight(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	parent := mustCreate(t, svc, alice(), CreateInput{Title: "Release"})
	sub1 := mustCreate(t, svc, alice(), CreateInput{Title: "Build", ParentID: parent.ID})
	sub2 := mustCreate(t, svc, alice(), CreateInput{Title: "Dropped", ParentID: parent.ID})

	_, err := svc.UpdateStatus(context.Background(), alice(), sub2.ID, task.StatusCancelled)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(context.Background(), alice(), sub1.ID, task.StatusCompleted)
	require.NoError(t, err)

	// The cancelled subtask is excluded, so the one completed child drives
	// the parent to completion.
	got, err := svc.GetTask(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, task.StatusCompleted, got.Status)
}

func TestProgressOnlyUpdateLeavesParentAlone(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	parent := mustCreate(t, svc, alice(), CreateInput{Title: "Release"})
	sub := mustCreate(t, svc, alice(), CreateInput{Title: "Build", ParentID: parent.ID})

	// First move starts the subtask and rolls up.
	_, err := svc.UpdateStatus(context.Background(), alice(), sub.ID, task.StatusInProgress)
	require.NoError(t, err)
	before, err := svc.GetTask(context.Background(), parent.ID)
	require.NoError(t, err)

	// A progress bump that keeps IN_PROGRESS does not touch the parent.
	progress := 40
	_, err = svc.UpdateTask(context.Background(), alice(), sub.ID, UpdateInput{Progress: &progress})
	require.NoError(t, err)
	after, err := svc.GetTask(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Progress, after.Progress)
	assert.Equal(t, before.Status, after.Status)
}

func TestDeleteTask_Permissions(t *testing.T) {
	syncer := &fakeSyncer{}
	events := &capturePublisher{}
	svc, _ := newTestService(t, syncer, events)

	created := mustCreate(t, svc, alice(), CreateInput{Title: "Temp", AssigneeID: "bob"})

	// The assignee is not the creator and may not delete.
	_, err := svc.DeleteTask(context.Background(), bob(), created.ID)
	require.Error(t, err)
	assert.True(t, task.IsForbidden(err))

	_, err = svc.DeleteTask(context.Background(), alice(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, syncer.deleteCalls)

	_, err = svc.GetTask(context.Background(), created.ID)
	assert.True(t, task.IsNotFound(err))

	last := events.events[len(events.events)-1]
	assert.Equal(t, notify.TaskDeleted, last.Kind)
}

func TestDeleteTask_RemovesSubtaskCalendarEvents(t *testing.T) {
	syncer := &fakeSyncer{}
	svc, st := newTestService(t, syncer, nil)

	parent := mustCreate(t, svc, alice(), CreateInput{Title: "Release"})
	child := mustCreate(t, svc, alice(), CreateInput{Title: "Build", ParentID: parent.ID})

	// Both tasks have been projected to the calendar.
	ctx := context.Background()
	require.NoError(t, st.SetGoogleEventID(ctx, st.DB(), parent.ID, "evt-parent"))
	require.NoError(t, st.SetGoogleEventID(ctx, st.DB(), child.ID, "evt-child"))

	// Deleting the parent cascades to the child row, so the child's event
	// must be removed too.
	_, err := svc.DeleteTask(ctx, alice(), parent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"evt-parent", "evt-child"}, syncer.deletedEvents)

	_, err = svc.GetTask(ctx, child.ID)
	assert.True(t, task.IsNotFound(err))
}

func TestUpdateTask_RecordsReconciliationOutcomes(t *testing.T) {
	recorder := &fakeRecorder{}
	svc, _ := newTestService(t, nil, nil, WithMetrics(recorder))

	created := mustCreate(t, svc, alice(), CreateInput{Title: "Review", AssigneeID: "bob"})

	progress := 40
	_, err := svc.UpdateTask(context.Background(), alice(), created.ID, UpdateInput{Progress: &progress})
	require.NoError(t, err)

	title := "Review v2"
	_, err = svc.UpdateTask(context.Background(), alice(), created.ID, UpdateInput{Title: &title})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), alice(), created.ID, task.StatusCompleted)
	require.Error(t, err)

	assert.Equal(t, []string{"applied", "noop", "forbidden"}, recorder.outcomes)
}

func TestDeleteSubtaskRecomputesParent(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	parent := mustCreate(t, svc, alice(), CreateInput{Title: "Release"})
	sub1 := mustCreate(t, svc, alice(), CreateInput{Title: "Build", ParentID: parent.ID})
	sub2 := mustCreate(t, svc, alice(), CreateInput{Title: "Docs", ParentID: parent.ID})

	_, err := svc.UpdateStatus(context.Background(), alice(), sub1.ID, task.StatusCompleted)
	require.NoError(t, err)

	// Dropping the TODO child leaves only the completed one.
	_, err = svc.DeleteTask(context.Background(), alice(), sub2.ID)
	require.NoError(t, err)

	got, err := svc.GetTask(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, task.StatusCompleted, got.Status)
}

func TestListTasks_Filter(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	mustCreate(t, svc, alice(), CreateInput{Title: "Mine"})
	mustCreate(t, svc, alice(), CreateInput{Title: "Bob's", AssigneeID: "bob"})

	got, err := svc.ListTasks(context.Background(), store.TaskFilter{AssigneeID: "bob"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Bob's", got[0].Title)
}
