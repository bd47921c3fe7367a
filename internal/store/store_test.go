package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tms-tools/teamcal/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	// A file-backed database: ":memory:" gives every pooled connection its
	// own empty database.
	db, err := Open("sqlite3", filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	return New(db)
}

func seedUsers(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, task.Person{ID: "u1", FirstName: "Ada", LastName: "Kim", Email: "ada@example.com"}, "EMPLOYEE"))
	require.NoError(t, s.CreateUser(ctx, task.Person{ID: "u2", Name: "J. Mercer", Email: "jm@example.com"}, "ADMIN"))
}

func newTask(id, parentID string) *task.Task {
	now := time.Now().UTC().Truncate(time.Second)
	due := now.Add(48 * time.Hour)
	return &task.Task{
		ID:         id,
		Title:      "Task " + id,
		Status:     task.StatusTodo,
		Priority:   task.PriorityMedium,
		Type:       task.TypeIndividual,
		DueDate:    &due,
		ParentID:   parentID,
		AssigneeID: "u1",
		CreatorID:  "u2",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	tk := newTask("t1", "")
	tk.TeamMembers = []task.Person{{ID: "u1"}, {ID: "u2"}}
	tk.Collaborators = []task.Person{{ID: "u2"}}
	require.NoError(t, s.CreateTask(ctx, s.DB(), tk))

	got, err := s.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Task t1", got.Title)
	assert.Equal(t, task.StatusTodo, got.Status)
	require.NotNil(t, got.DueDate)
	assert.Len(t, got.TeamMembers, 2)
	assert.Len(t, got.Collaborators, 1)
	// People come back hydrated from the users table.
	assert.Equal(t, "Ada Kim", got.TeamMembers[0].DisplayName())
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTask(context.Background(), s.DB(), "missing")
	assert.True(t, task.IsNotFound(err))
}

func TestSetTaskProgress(t *testing.T) {
	s := newTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, s.DB(), newTask("t1", "")))
	require.NoError(t, s.SetTaskProgress(ctx, s.DB(), "t1", task.StatusInProgress, 40))

	got, err := s.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, got.Status)
	assert.Equal(t, 40, got.Progress)

	err = s.SetTaskProgress(ctx, s.DB(), "missing", task.StatusTodo, 0)
	assert.True(t, task.IsNotFound(err))
}

func TestSubtaskStatuses(t *testing.T) {
	s := newTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, s.DB(), newTask("parent", "")))
	for i, st := range []task.Status{task.StatusCompleted, task.StatusInReview, task.StatusTodo} {
		child := newTask("c"+string(rune('1'+i)), "parent")
		child.Status = st
		require.NoError(t, s.CreateTask(ctx, s.DB(), child))
	}

	statuses, err := s.SubtaskStatuses(ctx, s.DB(), "parent")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]task.Status{task.StatusCompleted, task.StatusInReview, task.StatusTodo},
		statuses)

	has, err := s.HasSubtasks(ctx, s.DB(), "parent")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestTransactionAtomicity(t *testing.T) {
	s := newTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, s.DB(), newTask("parent", "")))
	child := newTask("child", "parent")
	require.NoError(t, s.CreateTask(ctx, s.DB(), child))

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		if err := s.SetTaskProgress(ctx, tx, "child", task.StatusCompleted, 100); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The child write rolled back with the failure.
	got, err := s.GetTask(ctx, s.DB(), "child")
	require.NoError(t, err)
	assert.Equal(t, task.StatusTodo, got.Status)

	// A clean transaction commits both writes.
	err = s.Transaction(ctx, func(tx *sql.Tx) error {
		if err := s.SetTaskProgress(ctx, tx, "child", task.StatusCompleted, 100); err != nil {
			return err
		}
		return s.SetTaskProgress(ctx, tx, "parent", task.StatusCompleted, 100)
	})
	require.NoError(t, err)

	parent, err := s.GetTask(ctx, s.DB(), "parent")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, parent.Status)
	assert.Equal(t, 100, parent.Progress)
}

func TestDeleteTaskCascadesToSubtasks(t *testing.T) {
	s := newTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, s.DB(), newTask("parent", "")))
	require.NoError(t, s.CreateTask(ctx, s.DB(), newTask("child", "parent")))

	require.NoError(t, s.DeleteTask(ctx, s.DB(), "parent"))

	_, err := s.GetTask(ctx, s.DB(), "parent")
	assert.True(t, task.IsNotFound(err))
	_, err = s.GetTask(ctx, s.DB(), "child")
	assert.True(t, task.IsNotFound(err))
}

func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	a := newTask("a", "")
	require.NoError(t, s.CreateTask(ctx, s.DB(), a))
	b := newTask("b", "a")
	b.Status = task.StatusInProgress
	require.NoError(t, s.CreateTask(ctx, s.DB(), b))

	roots, err := s.ListTasks(ctx, TaskFilter{RootsOnly: true})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "a", roots[0].ID)

	inProgress, err := s.ListTasks(ctx, TaskFilter{Status: task.StatusInProgress})
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, "b", inProgress[0].ID)

	children, err := s.ListTasks(ctx, TaskFilter{ParentID: "a"})
	require.NoError(t, err)
	require.Len(t, children, 1)
}

func TestSyncSettingsDefaultsAndRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	settings, err := s.GetSyncSettings(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, settings.Enabled)
	assert.Equal(t, task.SyncTMSToGoogle, settings.Direction)
	assert.True(t, settings.SyncTaskDeadlines)

	settings.Enabled = true
	settings.Direction = task.SyncBoth
	require.NoError(t, s.PutSyncSettings(ctx, settings))

	got, err := s.GetSyncSettings(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, task.SyncBoth, got.Direction)

	// Second write updates in place.
	got.Direction = task.SyncGoogleToTMS
	require.NoError(t, s.PutSyncSettings(ctx, got))
	again, err := s.GetSyncSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, task.SyncGoogleToTMS, again.Direction)
}

func TestPersonalEventUpsertAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := task.PersonalEvent{
		UserID:        "u1",
		Title:         "Dentist",
		StartTime:     time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
		EndTime:       time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC),
		GoogleEventID: "evt-1",
	}
	require.NoError(t, s.UpsertPersonalEvent(ctx, rec))

	rec.Title = "Dentist (moved)"
	require.NoError(t, s.UpsertPersonalEvent(ctx, rec))

	events, err := s.ListPersonalEvents(ctx, "u1",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Dentist (moved)", events[0].Title)

	require.NoError(t, s.DeletePersonalEventsByGoogleID(ctx, "evt-1"))
	events, err = s.ListPersonalEvents(ctx, "u1",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, events)
}
