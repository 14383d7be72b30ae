package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axon-run/axon/internal/coordination"
	"github.com/axon-run/axon/internal/store"
)

func strp(s string) *string { return &s }

func newTestEngine() *Engine {
	return New(store.NewMemoryStore())
}

func TestEngineCRUDAndArchive(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "CRUD-001", "T", "d", strp("agentx"))
	require.NoError(t, err)
	assert.Equal(t, coordination.StateCreated, task.State)

	updated, err := e.UpdateTask(ctx, task.ID, UpdateTaskParams{Description: strp("d2"), Owner: strp("agenty"), OwnerSet: true})
	require.NoError(t, err)
	require.NotNil(t, updated.Owner)
	assert.Equal(t, "agenty", *updated.Owner)

	byCode, err := e.GetTaskByCode(ctx, "CRUD-001")
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, task.ID, byCode.ID)

	_, err = e.SetTaskState(ctx, task.ID, coordination.StateInProgress)
	require.NoError(t, err)
	_, err = e.SetTaskState(ctx, task.ID, coordination.StateDone)
	require.NoError(t, err)
	archived, err := e.ArchiveTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, archived.ArchivedAt)

	_, err = e.UpdateTask(ctx, task.ID, UpdateTaskParams{Name: strp("x")})
	require.Error(t, err)
	assert.True(t, coordination.IsKind(err, coordination.KindInvalidState))
}

func TestEngineClaimRace(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "RACE-1", "N", "", nil)
	require.NoError(t, err)

	winner, errA := e.ClaimTask(ctx, task.ID, "agent-a")
	_, errB := e.ClaimTask(ctx, task.ID, "agent-b")

	require.NoError(t, errA)
	require.Error(t, errB)
	assert.True(t, coordination.IsKind(errB, coordination.KindConflict))
	assert.Equal(t, coordination.StateInProgress, winner.State)
	assert.Equal(t, "agent-a", *winner.Owner)
}

func TestEngineClaimRaceReleaseThenClaimLoser(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "RACE-2", "N", "", nil)
	require.NoError(t, err)

	_, errA := e.ClaimTask(ctx, task.ID, "agent-a")
	require.NoError(t, errA)

	released, err := e.ReleaseTask(ctx, task.ID, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, coordination.StateCreated, released.State)
	assert.Nil(t, released.Owner)

	claimed, err := e.ClaimTask(ctx, task.ID, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, "agent-b", *claimed.Owner)
}

func TestEngineIllegalTransition(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "ILS-1", "N", "", nil)
	require.NoError(t, err)

	_, err = e.SetTaskState(ctx, task.ID, coordination.StateDone)
	require.Error(t, err)
	assert.True(t, coordination.IsKind(err, coordination.KindInvalidState))

	_, err = e.SetTaskState(ctx, task.ID, coordination.StateArchived)
	require.Error(t, err)
	assert.True(t, coordination.IsKind(err, coordination.KindInvalidState))

	_, err = e.SetTaskState(ctx, task.ID, coordination.StateInProgress)
	require.NoError(t, err)

	_, err = e.SetTaskState(ctx, task.ID, coordination.StateCreated)
	require.Error(t, err)
	assert.True(t, coordination.IsKind(err, coordination.KindInvalidState))
}

func TestEngineFullCycle(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "FC-1", "N", "", strp("agent-a"))
	require.NoError(t, err)

	steps := []coordination.TaskState{
		coordination.StateInProgress,
		coordination.StateBlocked,
		coordination.StateInProgress,
		coordination.StateReview,
		coordination.StateDone,
		coordination.StateArchived,
	}
	var last *coordination.Task
	for _, to := range steps {
		last, err = e.SetTaskState(ctx, task.ID, to)
		require.NoErrorf(t, err, "transition to %s", to)
	}
	require.NotNil(t, last.DoneAt)
	require.NotNil(t, last.ArchivedAt)
}

func TestEngineTargetedMessaging(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateTask(ctx, "MSG-1", "N", "", nil)
	require.NoError(t, err)

	_, err = e.CreateTaskMessage(ctx, "MSG-1", "frontend", strp("backend"), "handoff", "h", nil)
	require.NoError(t, err)
	_, err = e.CreateTaskMessage(ctx, "MSG-1", "backend", strp("frontend"), "question", "q", nil)
	require.NoError(t, err)
	_, err = e.CreateTaskMessage(ctx, "MSG-1", "qa", nil, "comment", "c", nil)
	require.NoError(t, err)

	byTarget, err := e.GetTaskMessages(ctx, store.MessageFilter{TaskCode: "MSG-1", Target: strp("backend")})
	require.NoError(t, err)
	require.Len(t, byTarget, 1)
	assert.Equal(t, "frontend", byTarget[0].Author)

	byKind, err := e.GetTaskMessages(ctx, store.MessageFilter{TaskCode: "MSG-1", Kind: strp("question")})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, "backend", byKind[0].Author)
}

func TestEngineFilterAndPagination(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	codes := []string{"F-1", "F-2", "F-3", "F-4", "F-5"}
	owners := []string{"agent-a", "agent-b"}
	for i, code := range codes {
		_, err := e.CreateTask(ctx, code, "N", "", strp(owners[i%2]))
		require.NoError(t, err)
	}

	agentA := "agent-a"
	page0, err := e.ListTasks(ctx, store.TaskFilter{Owner: &agentA, Limit: 1, Offset: 0})
	require.NoError(t, err)
	require.Len(t, page0, 1)
	assert.Equal(t, "F-1", page0[0].Code)

	page1, err := e.ListTasks(ctx, store.TaskFilter{Owner: &agentA, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page1, 1)
	assert.Equal(t, "F-3", page1[0].Code)

	inProgress := coordination.StateInProgress
	empty, err := e.ListTasks(ctx, store.TaskFilter{Owner: &agentA, State: &inProgress})
	require.NoError(t, err)
	assert.Len(t, empty, 0)
}

func TestEngineWorkSessionInvariant(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "SESS-1", "N", "", nil)
	require.NoError(t, err)
	_, err = e.ClaimTask(ctx, task.ID, "agent-a")
	require.NoError(t, err)

	sess, err := e.StartWorkSession(ctx, task.ID, "agent-a")
	require.NoError(t, err)

	_, err = e.StartWorkSession(ctx, task.ID, "agent-a")
	require.Error(t, err)
	assert.True(t, coordination.IsKind(err, coordination.KindConflict))

	score := 0.9
	_, err = e.EndWorkSession(ctx, sess.ID, strp("good progress"), &score)
	require.NoError(t, err)

	_, err = e.EndWorkSession(ctx, sess.ID, nil, nil)
	require.Error(t, err)
	assert.True(t, coordination.IsKind(err, coordination.KindConflict))
}

func TestEngineEndWorkSessionRejectsOutOfRangeScore(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	task, err := e.CreateTask(ctx, "SESS-2", "N", "", nil)
	require.NoError(t, err)
	_, err = e.ClaimTask(ctx, task.ID, "agent-a")
	require.NoError(t, err)
	sess, err := e.StartWorkSession(ctx, task.ID, "agent-a")
	require.NoError(t, err)

	bad := 1.5
	_, err = e.EndWorkSession(ctx, sess.ID, nil, &bad)
	require.Error(t, err)
	assert.True(t, coordination.IsKind(err, coordination.KindValidation))
}

func TestEngineDiscoverWorkReturnsOnlyUnownedCreated(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateTask(ctx, "DW-1", "N", "", nil)
	require.NoError(t, err)
	taken, err := e.CreateTask(ctx, "DW-2", "N", "", nil)
	require.NoError(t, err)
	_, err = e.ClaimTask(ctx, taken.ID, "agent-a")
	require.NoError(t, err)

	// Created but already owned (e.g. assigned before being claimed) must
	// not be discoverable: discover_work requires state=Created AND
	// owner=null, not state=Created alone.
	preassigned, err := e.CreateTask(ctx, "DW-3", "N", "", nil)
	require.NoError(t, err)
	owner := "agent-c"
	_, err = e.AssignTask(ctx, preassigned.ID, &owner)
	require.NoError(t, err)

	found, err := e.DiscoverWork(ctx, "agent-b", []string{"go", "sql"}, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "DW-1", found[0].Code)
}
