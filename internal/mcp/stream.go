package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/axon-run/axon/internal/engine"
	"github.com/axon-run/axon/internal/jsonrpc"
)

// StreamServer is the stream transport of §6: line-delimited JSON-RPC 2.0
// messages on a single bidirectional byte stream, one JSON object per
// line. Stdout carries protocol only; diagnostics go to a separate writer
// (stderr in cmd/axon). Modeled on goa-ai's stdio caller loop
// (internal read/write goroutines synchronized over channels), but this
// is the server side: it decodes requests instead of correlating
// responses to a pending-call table.
type StreamServer struct {
	dispatcher *Dispatcher

	mu          sync.Mutex
	initialized bool
}

func NewStreamServer(e *engine.Engine) *StreamServer {
	return &StreamServer{dispatcher: NewDispatcher(e)}
}

// NewStreamServerWithLogger wires the process logger into error classification.
func NewStreamServerWithLogger(e *engine.Engine, log zerolog.Logger) *StreamServer {
	return &StreamServer{dispatcher: NewDispatcherWithLogger(e, log)}
}

// Serve reads newline-delimited requests from r and writes newline-delimited
// responses to w until r is exhausted, ctx is canceled, or a write fails.
// A single writer goroutine serializes output so concurrent request
// handling (one goroutine per line) never interleaves partial writes.
func (s *StreamServer) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan []byte, 16)
	writes := make(chan jsonrpc.Response, 16)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			cp := make([]byte, len(line))
			copy(cp, line)
			select {
			case lines <- cp:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return scanner.Err()
	})

	g.Go(func() error {
		bw := bufio.NewWriter(w)
		defer bw.Flush()
		for {
			select {
			case resp, ok := <-writes:
				if !ok {
					return nil
				}
				data, err := json.Marshal(resp)
				if err != nil {
					return err
				}
				if _, err := bw.Write(append(data, '\n')); err != nil {
					return err
				}
				if err := bw.Flush(); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		defer close(writes)
		var wg sync.WaitGroup
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					wg.Wait()
					return nil
				}
				req, parseErr := decodeLine(line)

				// The initialized notification is a control-flow state
				// transition, not an operation: handle it synchronously in
				// this loop so every line dispatched afterward (each its
				// own goroutine, run concurrently) is guaranteed to observe
				// it. Dispatching it through the same per-line goroutine path
				// as operations would race it against the very next line.
				if parseErr == nil && req.Method == "initialized" {
					s.mu.Lock()
					s.initialized = true
					s.mu.Unlock()
					continue
				}

				s.mu.Lock()
				initialized := s.initialized
				s.mu.Unlock()

				wg.Add(1)
				go func(req jsonrpc.Request, parseErr error) {
					defer wg.Done()
					resp, skip := s.handleLine(ctx, req, parseErr, initialized)
					if skip {
						return
					}
					select {
					case writes <- resp:
					case <-ctx.Done():
					}
				}(req, parseErr)
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			}
		}
	})

	return g.Wait()
}

func decodeLine(line []byte) (jsonrpc.Request, error) {
	var req jsonrpc.Request
	err := json.Unmarshal(line, &req)
	return req, err
}

func (s *StreamServer) handleLine(ctx context.Context, req jsonrpc.Request, parseErr error, initialized bool) (jsonrpc.Response, bool) {
	if parseErr != nil {
		return jsonrpc.ErrorResponse(nil, jsonrpc.NewError(jsonrpc.CodeParseError, "parse error: %s", parseErr)), false
	}

	resp := s.dispatcher.Handle(ctx, &req, initialized)

	if req.IsNotification() {
		return jsonrpc.Response{}, true
	}
	return resp, false
}
