package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axon-run/axon/internal/coordination"
)

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "axon-store-test-*.db")
	require.NoError(t, err)
	path := f.Name()
	f.Close()
	os.Remove(path)

	s, err := Open(path, 5)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		os.Remove(path)
	})
	return s
}

func TestSQLiteStoreCreateAndFetch(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, NewTaskParams{Code: "SQL-001", Name: "T", Description: "d"})
	require.NoError(t, err)
	assert.Equal(t, coordination.StateCreated, task.State)

	byID, err := s.GetTaskByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "SQL-001", byID.Code)

	byCode, err := s.GetTaskByCode(ctx, "SQL-001")
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, task.ID, byCode.ID)

	missing, err := s.GetTaskByID(ctx, task.ID+999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStoreDuplicateCode(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()

	_, err := s.CreateTask(ctx, NewTaskParams{Code: "DUP-1", Name: "T", Description: ""})
	require.NoError(t, err)

	_, err = s.CreateTask(ctx, NewTaskParams{Code: "DUP-1", Name: "T2", Description: ""})
	require.Error(t, err)
	assert.True(t, coordination.IsKind(err, coordination.KindDuplicateCode))
}

func TestSQLiteStoreClaimRace(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, NewTaskParams{Code: "RACE-SQL-1", Name: "N", Description: ""})
	require.NoError(t, err)

	winner, errA := s.ClaimTask(ctx, task.ID, "agent-a")
	_, errB := s.ClaimTask(ctx, task.ID, "agent-b")

	require.NoError(t, errA)
	require.Error(t, errB)
	assert.True(t, coordination.IsKind(errB, coordination.KindConflict))
	assert.Equal(t, coordination.StateInProgress, winner.State)

	released, err := s.ReleaseTask(ctx, task.ID, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, coordination.StateCreated, released.State)
}

func TestSQLiteStoreTransitionConflict(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, NewTaskParams{Code: "ILS-SQL-1", Name: "N", Description: ""})
	require.NoError(t, err)

	_, err = s.TransitionTask(ctx, task.ID, coordination.StateCreated, coordination.StateDone, true, false)
	require.Error(t, err)
	assert.True(t, coordination.IsKind(err, coordination.KindConflict))
}

func TestSQLiteStoreWorkSessionLifecycle(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, NewTaskParams{Code: "SESS-SQL-1", Name: "N", Description: ""})
	require.NoError(t, err)
	_, err = s.ClaimTask(ctx, task.ID, "agent-a")
	require.NoError(t, err)

	sess, err := s.StartWorkSession(ctx, task.ID, "agent-a")
	require.NoError(t, err)

	_, err = s.StartWorkSession(ctx, task.ID, "agent-a")
	require.Error(t, err)
	assert.True(t, coordination.IsKind(err, coordination.KindConflict))

	score := 0.85
	ended, err := s.EndWorkSession(ctx, sess.ID, nil, &score)
	require.NoError(t, err)
	require.NotNil(t, ended.ProductivityScore)
	assert.Equal(t, 0.85, *ended.ProductivityScore)
}

func TestSQLiteStoreTargetedMessaging(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()

	_, err := s.CreateTask(ctx, NewTaskParams{Code: "MSG-SQL-1", Name: "N", Description: ""})
	require.NoError(t, err)

	target := "backend"
	_, err = s.CreateTaskMessage(ctx, NewMessageParams{TaskCode: "MSG-SQL-1", Author: "frontend", Target: &target, Kind: "handoff", Content: "h"})
	require.NoError(t, err)
	_, err = s.CreateTaskMessage(ctx, NewMessageParams{TaskCode: "MSG-SQL-1", Author: "qa", Kind: "comment", Content: "c"})
	require.NoError(t, err)

	filtered, err := s.GetTaskMessages(ctx, MessageFilter{TaskCode: "MSG-SQL-1", Target: &target})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "frontend", filtered[0].Author)

	all, err := s.GetTaskMessages(ctx, MessageFilter{TaskCode: "MSG-SQL-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStoreListTasksOwnerIsNull(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()

	_, err := s.CreateTask(ctx, NewTaskParams{Code: "UNOWNED-1", Name: "N", Description: ""})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, NewTaskParams{Code: "OWNED-1", Name: "N", Description: "", Owner: strp("agent-a")})
	require.NoError(t, err)

	unowned, err := s.ListTasks(ctx, TaskFilter{OwnerIsNull: true})
	require.NoError(t, err)
	require.Len(t, unowned, 1)
	assert.Equal(t, "UNOWNED-1", unowned[0].Code)
}
