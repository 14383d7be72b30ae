// Package mcp is Axon's Dispatcher (§2, §6): it maps a JSON-RPC method
// name and parameter object onto one coordination engine operation,
// independent of which transport received the request. It is adapted from
// the teacher's MCP tool registry — the shape (a name, a JSON-schema input
// descriptor, and a handler) is unchanged, but every handler here resolves
// to an Axon engine.Engine call instead of a workspace tool.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/axon-run/axon/internal/coordination"
	"github.com/axon-run/axon/internal/engine"
	"github.com/axon-run/axon/internal/store"
)

// ToolHandler executes one engine operation given its raw JSON params.
type ToolHandler func(ctx context.Context, e *engine.Engine, params json.RawMessage) (interface{}, error)

// ParameterDef describes one JSON-schema property of a tool's input.
type ParameterDef struct {
	Type        string
	Description string
	Required    bool
}

// ToolDefinition is one entry in the operations catalog returned by tools/list.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]ParameterDef
	Handler     ToolHandler
}

// Registry holds every engine operation reachable by name, keyed identically
// whether invoked as a direct method call or via a wrapping tools/call.
type Registry struct {
	tools map[string]ToolDefinition
}

func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]ToolDefinition)}
	r.registerCoordinationTools()
	return r
}

func (r *Registry) register(tool ToolDefinition) {
	r.tools[tool.Name] = tool
}

func (r *Registry) Get(name string) (ToolDefinition, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List renders the catalog in the JSON-schema-style shape the initialize
// handshake and tools/list both return.
func (r *Registry) List() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(r.tools))
	for _, tool := range r.tools {
		props := make(map[string]interface{}, len(tool.Parameters))
		var required []string
		for name, def := range tool.Parameters {
			props[name] = map[string]interface{}{
				"type":        def.Type,
				"description": def.Description,
			}
			if def.Required {
				required = append(required, name)
			}
		}
		out = append(out, map[string]interface{}{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": map[string]interface{}{
				"type":       "object",
				"properties": props,
				"required":   required,
			},
		})
	}
	return out
}

// Execute runs a named operation against the engine with raw JSON params.
func (r *Registry) Execute(ctx context.Context, e *engine.Engine, name string, params json.RawMessage) (interface{}, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, &unknownMethodError{name: name}
	}
	return tool.Handler(ctx, e, params)
}

type unknownMethodError struct{ name string }

func (e *unknownMethodError) Error() string { return fmt.Sprintf("unknown operation: %s", e.name) }

func badParams(err error) error {
	return coordination.ValidationErr("invalid params: %s", err)
}

func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return fmt.Errorf("params required")
	}
	return json.Unmarshal(params, v)
}

// registerCoordinationTools wires every §4.1 operation to its engine call.
func (r *Registry) registerCoordinationTools() {
	r.register(ToolDefinition{
		Name:        "create_task",
		Description: "Create a new task in state Created.",
		Parameters: map[string]ParameterDef{
			"code":        {Type: "string", Required: true},
			"name":        {Type: "string", Required: true},
			"description": {Type: "string", Required: true},
			"owner":       {Type: "string"},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				Code        string  `json:"code"`
				Name        string  `json:"name"`
				Description string  `json:"description"`
				Owner       *string `json:"owner"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.CreateTask(ctx, p.Code, p.Name, p.Description, p.Owner)
		},
	})

	r.register(ToolDefinition{
		Name:        "update_task",
		Description: "Apply a partial update to a task's name, description, or owner.",
		Parameters: map[string]ParameterDef{
			"id":          {Type: "integer", Required: true},
			"name":        {Type: "string"},
			"description": {Type: "string"},
			"owner":       {Type: "string"},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				ID          int64   `json:"id"`
				Name        *string `json:"name"`
				Description *string `json:"description"`
				Owner       *string `json:"owner"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			var presence map[string]json.RawMessage
			_ = json.Unmarshal(raw, &presence)
			_, ownerSet := presence["owner"]
			return e.UpdateTask(ctx, p.ID, engine.UpdateTaskParams{
				Name: p.Name, Description: p.Description, Owner: p.Owner, OwnerSet: ownerSet,
			})
		},
	})

	r.register(ToolDefinition{
		Name:        "assign_task",
		Description: "Set or clear a task's owner.",
		Parameters: map[string]ParameterDef{
			"id":        {Type: "integer", Required: true},
			"new_owner": {Type: "string"},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				ID       int64   `json:"id"`
				NewOwner *string `json:"new_owner"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.AssignTask(ctx, p.ID, p.NewOwner)
		},
	})

	r.register(ToolDefinition{
		Name:        "set_task_state",
		Description: "Transition a task to a new state per the canonical transition table.",
		Parameters: map[string]ParameterDef{
			"id":    {Type: "integer", Required: true},
			"state": {Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				ID    int64  `json:"id"`
				State string `json:"state"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.SetTaskState(ctx, p.ID, coordination.TaskState(p.State))
		},
	})

	r.register(ToolDefinition{
		Name:        "archive_task",
		Description: "Archive a Done task (equivalent to set_task_state(id, Archived)).",
		Parameters: map[string]ParameterDef{
			"id": {Type: "integer", Required: true},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				ID int64 `json:"id"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.ArchiveTask(ctx, p.ID)
		},
	})

	r.register(ToolDefinition{
		Name:        "get_task_by_id",
		Description: "Fetch a task by its numeric id, or null if absent.",
		Parameters: map[string]ParameterDef{
			"id": {Type: "integer", Required: true},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				ID int64 `json:"id"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.GetTaskByID(ctx, p.ID)
		},
	})

	r.register(ToolDefinition{
		Name:        "get_task_by_code",
		Description: "Fetch a task by its human-readable code, or null if absent.",
		Parameters: map[string]ParameterDef{
			"code": {Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				Code string `json:"code"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.GetTaskByCode(ctx, p.Code)
		},
	})

	r.register(ToolDefinition{
		Name:        "list_tasks",
		Description: "List tasks under AND-composed filters, paginated.",
		Parameters: map[string]ParameterDef{
			"owner":     {Type: "string"},
			"state":     {Type: "string"},
			"date_from": {Type: "string"},
			"date_to":   {Type: "string"},
			"limit":     {Type: "integer"},
			"offset":    {Type: "integer"},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				Owner    *string                 `json:"owner"`
				State    *coordination.TaskState `json:"state"`
				DateFrom *rfc3339Time            `json:"date_from"`
				DateTo   *rfc3339Time            `json:"date_to"`
				Limit    int                     `json:"limit"`
				Offset   int                     `json:"offset"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			filter := store.TaskFilter{Owner: p.Owner, State: p.State, Limit: p.Limit, Offset: p.Offset}
			if p.DateFrom != nil {
				t := time.Time(*p.DateFrom)
				filter.DateFrom = &t
			}
			if p.DateTo != nil {
				t := time.Time(*p.DateTo)
				filter.DateTo = &t
			}
			return e.ListTasks(ctx, filter)
		},
	})

	r.register(ToolDefinition{
		Name:        "discover_work",
		Description: "Return up to max_tasks unclaimed, Created tasks for an agent to consider.",
		Parameters: map[string]ParameterDef{
			"agent":        {Type: "string", Required: true},
			"capabilities": {Type: "array"},
			"max_tasks":    {Type: "integer"},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				Agent        string   `json:"agent"`
				Capabilities []string `json:"capabilities"`
				MaxTasks     int      `json:"max_tasks"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.DiscoverWork(ctx, p.Agent, p.Capabilities, p.MaxTasks)
		},
	})

	r.register(ToolDefinition{
		Name:        "claim_task",
		Description: "Atomically claim an unowned, Created task for an agent.",
		Parameters: map[string]ParameterDef{
			"task_id": {Type: "integer", Required: true},
			"agent":   {Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				TaskID int64  `json:"task_id"`
				Agent  string `json:"agent"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.ClaimTask(ctx, p.TaskID, p.Agent)
		},
	})

	r.register(ToolDefinition{
		Name:        "release_task",
		Description: "Release a claimed task back to Created; only the current owner may.",
		Parameters: map[string]ParameterDef{
			"task_id": {Type: "integer", Required: true},
			"agent":   {Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				TaskID int64  `json:"task_id"`
				Agent  string `json:"agent"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.ReleaseTask(ctx, p.TaskID, p.Agent)
		},
	})

	r.register(ToolDefinition{
		Name:        "start_work_session",
		Description: "Open a work session for the owning agent on a task.",
		Parameters: map[string]ParameterDef{
			"task_id": {Type: "integer", Required: true},
			"agent":   {Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				TaskID int64  `json:"task_id"`
				Agent  string `json:"agent"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.StartWorkSession(ctx, p.TaskID, p.Agent)
		},
	})

	r.register(ToolDefinition{
		Name:        "end_work_session",
		Description: "Close an open work session with optional notes and productivity score.",
		Parameters: map[string]ParameterDef{
			"session_id":         {Type: "integer", Required: true},
			"notes":              {Type: "string"},
			"productivity_score": {Type: "number"},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				SessionID         int64    `json:"session_id"`
				Notes             *string  `json:"notes"`
				ProductivityScore *float64 `json:"productivity_score"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.EndWorkSession(ctx, p.SessionID, p.Notes, p.ProductivityScore)
		},
	})

	r.register(ToolDefinition{
		Name:        "create_task_message",
		Description: "Append a targeted or broadcast message to a task's log.",
		Parameters: map[string]ParameterDef{
			"task_code": {Type: "string", Required: true},
			"author":    {Type: "string", Required: true},
			"target":    {Type: "string"},
			"kind":      {Type: "string", Required: true},
			"content":   {Type: "string", Required: true},
			"reply_to":  {Type: "integer"},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				TaskCode string  `json:"task_code"`
				Author   string  `json:"author"`
				Target   *string `json:"target"`
				Kind     string  `json:"kind"`
				Content  string  `json:"content"`
				ReplyTo  *int64  `json:"reply_to"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.CreateTaskMessage(ctx, p.TaskCode, p.Author, p.Target, p.Kind, p.Content, p.ReplyTo)
		},
	})

	r.register(ToolDefinition{
		Name:        "get_task_messages",
		Description: "List a task's messages under AND-composed filters, ordered by (created_at, id).",
		Parameters: map[string]ParameterDef{
			"task_code": {Type: "string", Required: true},
			"author":    {Type: "string"},
			"target":    {Type: "string"},
			"kind":      {Type: "string"},
			"reply_to":  {Type: "integer"},
			"limit":     {Type: "integer"},
			"offset":    {Type: "integer"},
		},
		Handler: func(ctx context.Context, e *engine.Engine, raw json.RawMessage) (interface{}, error) {
			var p struct {
				TaskCode string  `json:"task_code"`
				Author   *string `json:"author"`
				Target   *string `json:"target"`
				Kind     *string `json:"kind"`
				ReplyTo  *int64  `json:"reply_to"`
				Limit    int     `json:"limit"`
				Offset   int     `json:"offset"`
			}
			if err := decode(raw, &p); err != nil {
				return nil, badParams(err)
			}
			return e.GetTaskMessages(ctx, store.MessageFilter{
				TaskCode: p.TaskCode, Author: p.Author, Target: p.Target, Kind: p.Kind, ReplyTo: p.ReplyTo,
				Limit: p.Limit, Offset: p.Offset,
			})
		},
	})
}

// rfc3339Time unmarshals an RFC3339 timestamp string, used by list_tasks'
// date_from/date_to filters.
type rfc3339Time time.Time

func (t *rfc3339Time) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	*t = rfc3339Time(parsed)
	return nil
}
