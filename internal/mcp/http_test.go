package mcp

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/axon-run/axon/internal/axonlog"
	"github.com/axon-run/axon/internal/coordination"
	"github.com/axon-run/axon/internal/engine"
	"github.com/axon-run/axon/internal/store"
)

func testHTTPServer() *HTTPServer {
	log := axonlog.New(io.Discard, "error")
	return NewHTTPServer(engine.New(store.NewMemoryStore()), log, 0, 0)
}

func TestPushTaskMessageDeliversToConnectedTarget(t *testing.T) {
	s := testHTTPServer()

	rec := httptest.NewRecorder()
	conn, err := NewSSEConnection("backend", rec)
	if err != nil {
		t.Fatalf("NewSSEConnection: %v", err)
	}
	s.connections.Add("backend", conn)

	target := "backend"
	s.pushTaskMessage(&coordination.TaskMessage{Author: "frontend", Target: &target, Kind: "handoff", Content: "ready"})

	if rec.Body.Len() == 0 {
		t.Error("expected a notification to be written to the target's push channel")
	}
}

func TestPushTaskMessageIgnoresBroadcastAndDisconnectedTarget(t *testing.T) {
	s := testHTTPServer()

	// Broadcast message (nil Target): must not panic or try to deliver.
	s.pushTaskMessage(&coordination.TaskMessage{Author: "qa", Kind: "comment", Content: "fyi"})

	// Targeted message with no open connection: silently dropped.
	target := "nobody-connected"
	s.pushTaskMessage(&coordination.TaskMessage{Author: "frontend", Target: &target, Kind: "handoff", Content: "ready"})
}

func TestPushTaskMessageIgnoresWrongResultType(t *testing.T) {
	s := testHTTPServer()
	s.pushTaskMessage("not a task message")
}
