package mcp

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"

	"github.com/axon-run/axon/internal/axonlog"
	"github.com/axon-run/axon/internal/coordination"
	"github.com/axon-run/axon/internal/engine"
	"github.com/axon-run/axon/internal/jsonrpc"
)

const ProtocolVersion = "2025-03-26"

// Dispatcher is the transport-agnostic request router (§2, §6): it decodes
// a request's method, resolves it against either a direct operation name
// or a wrapping tools/call, invokes the engine, and encodes the result.
// It tracks nothing about connections — that is the transports' job.
type Dispatcher struct {
	engine   *engine.Engine
	registry *Registry
	log      zerolog.Logger
}

func NewDispatcher(e *engine.Engine) *Dispatcher {
	return &Dispatcher{engine: e, registry: NewRegistry(), log: axonlog.New(io.Discard, "error")}
}

// NewDispatcherWithLogger wires the process-wide logger into error
// classification (§7: warn for Conflict/Validation, error for Store).
func NewDispatcherWithLogger(e *engine.Engine, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{engine: e, registry: NewRegistry(), log: log}
}

// Handle processes one decoded request and returns the response to send.
// initialized reports whether this session has completed the handshake;
// the stream transport uses it to reject tools/call before initialized
// with a Protocol-state error (§6).
func (d *Dispatcher) Handle(ctx context.Context, req *jsonrpc.Request, initialized bool) jsonrpc.Response {
	switch req.Method {
	case "initialize":
		return d.handleInitialize(req)
	case "tools/list":
		return jsonrpc.ResultResponse(req.ID, map[string]interface{}{"tools": d.registry.List()})
	case "tools/call":
		if !initialized {
			return jsonrpc.ErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeProtocol, "tools/call received before initialized"))
		}
		return d.handleToolsCall(ctx, req)
	default:
		// Direct method dispatch: the method name is itself an operation.
		if !initialized {
			return jsonrpc.ErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeProtocol, "operation %q received before initialized", req.Method))
		}
		if _, ok := d.registry.Get(req.Method); !ok {
			return jsonrpc.ErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "method not found: %s", req.Method))
		}
		return d.invoke(ctx, req.ID, req.Method, req.Params)
	}
}

func (d *Dispatcher) handleInitialize(req *jsonrpc.Request) jsonrpc.Response {
	return jsonrpc.ResultResponse(req.ID, map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"serverInfo": map[string]string{
			"name":    "axon",
			"version": "1.0.0",
		},
		"capabilities": map[string]interface{}{
			"tools": map[string]bool{"listChanged": false},
		},
		"tools": d.registry.List(),
	})
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *jsonrpc.Request) jsonrpc.Response {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &call); err != nil || call.Name == "" {
		return jsonrpc.ErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "tools/call requires name and arguments"))
	}
	if _, ok := d.registry.Get(call.Name); !ok {
		return jsonrpc.ErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "unknown tool: %s", call.Name))
	}
	return d.invoke(ctx, req.ID, call.Name, call.Arguments)
}

func (d *Dispatcher) invoke(ctx context.Context, id interface{}, name string, params json.RawMessage) jsonrpc.Response {
	result, err := d.registry.Execute(ctx, d.engine, name, params)
	if err != nil {
		d.logError(name, err)
		return jsonrpc.ErrorResponse(id, jsonrpc.FromEngineError(err))
	}
	return jsonrpc.ResultResponse(id, result)
}

// logError classifies err per §7: warn for Conflict/Validation, error for
// Store, nothing for NotFound/DuplicateCode/InvalidStateTransition/Protocol
// (client-facing outcomes, not operational concerns).
func (d *Dispatcher) logError(op string, err error) {
	switch {
	case coordination.IsKind(err, coordination.KindConflict):
		axonlog.ForConflict(d.log, op, err)
	case coordination.IsKind(err, coordination.KindValidation):
		axonlog.ForValidation(d.log, op, err)
	case coordination.IsKind(err, coordination.KindStore):
		axonlog.ForStore(d.log, op, err)
	}
}
