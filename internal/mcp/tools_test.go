package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axon-run/axon/internal/coordination"
	"github.com/axon-run/axon/internal/engine"
	"github.com/axon-run/axon/internal/store"
)

func testEngine() *engine.Engine {
	return engine.New(store.NewMemoryStore())
}

func TestRegistryListCoversAllOperations(t *testing.T) {
	r := NewRegistry()
	list := r.List()
	assert.Len(t, list, 15)

	names := make(map[string]bool, len(list))
	for _, entry := range list {
		names[entry["name"].(string)] = true
	}
	for _, op := range []string{
		"create_task", "update_task", "assign_task", "set_task_state", "archive_task",
		"get_task_by_id", "get_task_by_code", "list_tasks", "discover_work",
		"claim_task", "release_task", "start_work_session", "end_work_session",
		"create_task_message", "get_task_messages",
	} {
		assert.True(t, names[op], "missing operation %s", op)
	}
}

func TestRegistryExecuteCreateAndGetTask(t *testing.T) {
	r := NewRegistry()
	e := testEngine()
	ctx := context.Background()

	raw, err := r.Execute(ctx, e, "create_task", json.RawMessage(`{"code":"T-1","name":"n","description":"d"}`))
	require.NoError(t, err)
	task := raw.(*coordination.Task)
	assert.Equal(t, "T-1", task.Code)
	assert.Equal(t, coordination.StateCreated, task.State)

	raw, err = r.Execute(ctx, e, "get_task_by_code", json.RawMessage(`{"code":"T-1"}`))
	require.NoError(t, err)
	assert.Equal(t, task.ID, raw.(*coordination.Task).ID)
}

func TestRegistryExecuteUnknownOperation(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), testEngine(), "does_not_exist", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestRegistryExecuteBadParams(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), testEngine(), "create_task", json.RawMessage(`not json`))
	require.Error(t, err)
	assert.True(t, coordination.IsKind(err, coordination.KindValidation))
}

// TestUpdateTaskDistinguishesOmittedFromNullOwner exercises the presence-map
// trick that separates "owner not mentioned" from "owner explicitly cleared".
func TestUpdateTaskDistinguishesOmittedFromNullOwner(t *testing.T) {
	r := NewRegistry()
	e := testEngine()
	ctx := context.Background()

	owner := "agent-a"
	created, err := e.CreateTask(ctx, "T-2", "n", "d", &owner)
	require.NoError(t, err)

	raw, err := r.Execute(ctx, e, "update_task", json.RawMessage(`{"id":1,"name":"renamed"}`))
	require.NoError(t, err)
	updated := raw.(*coordination.Task)
	require.NotNil(t, updated.Owner)
	assert.Equal(t, "agent-a", *updated.Owner)
	assert.Equal(t, "renamed", updated.Name)

	raw, err = r.Execute(ctx, e, "update_task", json.RawMessage(`{"id":1,"owner":null}`))
	require.NoError(t, err)
	assert.Nil(t, raw.(*coordination.Task).Owner)

	_ = created.ID
}
