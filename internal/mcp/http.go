package mcp

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/axon-run/axon/internal/coordination"
	"github.com/axon-run/axon/internal/engine"
	"github.com/axon-run/axon/internal/jsonrpc"
)

// HTTPServer is the HTTP+push transport of §6: requests arrive as POST to
// a fixed path, and a GET on the same path opens a long-lived server-push
// channel that carries pings and targeted task messages. Push channels are
// keyed by agent id (X-Agent-ID header or agent_id query parameter), not by
// the Mcp-Session-Id each channel is given. A POST's response is pushed on
// the agent's channel only when the POST sends Accept: text/event-stream
// and a channel is open; otherwise it is returned in the POST body. Adapted from the
// teacher's mcp.Server, narrowed to the one fixed endpoint the spec
// requires instead of the teacher's several transport variants.
type HTTPServer struct {
	dispatcher  *Dispatcher
	connections *ConnectionManager
	log         zerolog.Logger

	mu          sync.Mutex
	initialized map[string]bool // keyed by agent id
}

// NewHTTPServer wires a dispatcher to the push-connection machinery.
// maxPerAgent/maxTotal default to 5/100 when zero, matching the teacher's
// constants. Connect/disconnect events are logged through the same logger
// the dispatcher uses for operational errors (§7).
func NewHTTPServer(e *engine.Engine, log zerolog.Logger, maxPerAgent, maxTotal int) *HTTPServer {
	connections := NewConnectionManager(maxPerAgent, maxTotal)
	connections.SetCallbacks(
		func(agentID string) { log.Debug().Str("agent", agentID).Msg("agent connected to push channel") },
		func(agentID string) { log.Debug().Str("agent", agentID).Msg("agent disconnected from push channel") },
	)
	return &HTTPServer{
		dispatcher:  NewDispatcherWithLogger(e, log),
		connections: connections,
		log:         log,
		initialized: make(map[string]bool),
	}
}

// Router builds the gorilla/mux router exposing /mcp and /health.
func (s *HTTPServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/mcp", s.handleMCP)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Shutdown stops the connection manager, closing every push channel.
func (s *HTTPServer) Shutdown() {
	s.connections.Shutdown()
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *HTTPServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	agentID := r.Header.Get("X-Agent-ID")
	if agentID == "" {
		agentID = r.URL.Query().Get("agent_id")
	}
	if agentID == "" {
		http.Error(w, "X-Agent-ID header or agent_id query param required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r, agentID)
	case http.MethodGet:
		s.handlePush(w, r, agentID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request, agentID string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeJSON(w, jsonrpc.ErrorResponse(nil, jsonrpc.NewError(jsonrpc.CodeParseError, "parse error")))
		return
	}

	resp := s.dispatcher.Handle(r.Context(), &req, s.isInitialized(agentID))
	if req.Method == "initialize" {
		s.markInitialized(agentID)
	}
	if req.Method == "create_task_message" && resp.Error == nil {
		s.pushTaskMessage(resp.Result)
	}

	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if conn := s.connections.Get(agentID); conn != nil && r.Header.Get("Accept") == "text/event-stream" {
		if err := conn.SendResponse(resp); err != nil {
			http.Error(w, "failed to push response", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.writeJSON(w, resp)
}

func (s *HTTPServer) handlePush(w http.ResponseWriter, r *http.Request, agentID string) {
	if !s.connections.TryAcquire(agentID) {
		s.connections.RejectLimitExceeded(w, agentID)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	conn, err := NewSSEConnection(agentID, w)
	if err != nil {
		s.connections.Release(agentID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Mcp-Session-Id", conn.SessionID)
	s.connections.Add(agentID, conn)
	defer func() {
		s.connections.Remove(agentID)
		s.connections.Release(agentID)
	}()
	conn.SetActive()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done:
			return
		case <-r.Context().Done():
			conn.Close()
			return
		case <-ticker.C:
			if conn.IsClosed() {
				return
			}
			if err := conn.Send("ping", map[string]int64{"time": time.Now().Unix()}); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// pushTaskMessage delivers a newly created targeted message to its
// recipient's push channel, if one is open. Broadcast messages (nil
// Target) and messages for agents with no live connection are dropped
// here; the task's message log (get_task_messages) remains the durable
// record either way.
func (s *HTTPServer) pushTaskMessage(result interface{}) {
	msg, ok := result.(*coordination.TaskMessage)
	if !ok || msg == nil || msg.Target == nil {
		return
	}
	conn := s.connections.Get(*msg.Target)
	if conn == nil {
		return
	}
	if err := conn.SendNotification("task_message", msg); err != nil {
		s.log.Debug().Str("agent", *msg.Target).Err(err).Msg("failed to push task message")
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, resp jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (s *HTTPServer) isInitialized(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized[agentID]
}

func (s *HTTPServer) markInitialized(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized[agentID] = true
}
