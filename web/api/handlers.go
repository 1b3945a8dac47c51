package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
	"github.com/marvijo-code/ultimate-llm-arena/internal/repotest"
)

const (
	msgRunFieldsRequired   = "repo_url, ref, prompt, test_command, tool, and model are all required"
	msgBatchFieldsRequired = "repo_url, ref, prompt, test_command, tool, and at least one model are required"
	maxBodyBytes           = 1 << 20
)

// RunSummary is the dashboard payload of a finished run
type RunSummary struct {
	RunID       int64            `json:"run_id"`
	Model       string           `json:"model"`
	Tool        string           `json:"tool"`
	Status      domain.RunStatus `json:"status"`
	TestsPassed int              `json:"tests_passed"`
	TestsTotal  int              `json:"tests_total"`
	DurationMS  int64            `json:"duration_ms"`
}

func summarize(r *domain.RepoTestResult) RunSummary {
	return RunSummary{
		RunID:       r.RunID,
		Model:       r.Model,
		Tool:        r.Tool,
		Status:      r.Status,
		TestsPassed: r.FinalTestsPassed,
		TestsTotal:  r.FinalTestsTotal,
		DurationMS:  r.TotalDurationMS,
	}
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (s *Server) toolsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tools := s.runner.ListTools()
		if tools == nil {
			tools = []domain.CodingTool{}
		}
		writeJSON(w, http.StatusOK, tools)
	}
}

// decodeRunRequest reads and checks a single-run body. On failure it has
// already written the response.
func (s *Server) decodeRunRequest(w http.ResponseWriter, r *http.Request) (domain.RepoTestRequest, bool) {
	var req domain.RepoTestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, msgRunFieldsRequired)
		return req, false
	}
	if !s.hasTool(req.Tool) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown tool: %s", req.Tool))
		return req, false
	}
	return req, true
}

func (s *Server) hasTool(id string) bool {
	return slices.ContainsFunc(s.runner.ListTools(), func(t domain.CodingTool) bool {
		return t.ID == id
	})
}

func (s *Server) runHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := s.decodeRunRequest(w, r)
		if !ok {
			return
		}

		stream, ok := newEventStream(w, r)
		if !ok {
			writeError(w, http.StatusInternalServerError, "Streaming not supported")
			return
		}

		// the run outlives the connection so its record always reaches a final status
		ctx := context.WithoutCancel(r.Context())
		result, err := s.runner.Run(ctx, req, stream.send)
		if err != nil {
			var runErr *repotest.RunError
			if !errors.As(err, &runErr) {
				stream.send(domain.ProgressEvent{Type: domain.EventError, Message: err.Error()})
			}
			s.logger.Warn("repo test run failed", "model", req.Model, "tool", req.Tool, "error", err)
		} else {
			s.Broadcast(SSEEvent{Type: EventRunComplete, Data: summarize(result)})
		}
		stream.done()
	}
}

func (s *Server) runSyncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := s.decodeRunRequest(w, r)
		if !ok {
			return
		}

		result, err := s.runner.Run(r.Context(), req, nil)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, domain.ErrInvalidRequest) || errors.Is(err, repotest.ErrUnknownTool) {
				code = http.StatusBadRequest
			}
			writeError(w, code, err.Error())
			return
		}

		s.Broadcast(SSEEvent{Type: EventRunComplete, Data: summarize(result)})
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) decodeBatchRequest(w http.ResponseWriter, r *http.Request) (domain.BatchRequest, bool) {
	var req domain.BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	req = req.Normalized()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, msgBatchFieldsRequired)
		return req, false
	}
	if !s.hasTool(req.Tool) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown tool: %s", req.Tool))
		return req, false
	}
	return req, true
}

func (s *Server) batchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.batch == nil {
			writeError(w, http.StatusNotImplemented, "batch runs are not enabled")
			return
		}
		req, ok := s.decodeBatchRequest(w, r)
		if !ok {
			return
		}

		stream, ok := newEventStream(w, r)
		if !ok {
			writeError(w, http.StatusInternalServerError, "Streaming not supported")
			return
		}

		result, err := s.batch.RunBatch(context.WithoutCancel(r.Context()), req, stream.send)
		if err != nil {
			stream.send(domain.ProgressEvent{Type: domain.EventError, Message: err.Error()})
			s.logger.Warn("batch failed", "tool", req.Tool, "error", err)
		} else {
			s.Broadcast(SSEEvent{Type: EventBatchComplete, Data: result})
		}
		stream.done()
	}
}

func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := repotest.DefaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		runs, err := s.runner.History(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if runs == nil {
			runs = []*domain.RunRecord{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil || id < 1 {
			writeError(w, http.StatusBadRequest, "invalid run id")
			return
		}

		run, err := s.runner.GetRun(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if run == nil {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

// wsRequest is the first message a WebSocket client sends. Type is "run"
// (the default) or "batch".
type wsRequest struct {
	Type string `json:"type"`
	domain.RepoTestRequest
	Models []string `json:"models,omitempty"`
}

// wsMessage is one server frame on the WebSocket
type wsMessage struct {
	Type  string                `json:"type"`
	Event *domain.ProgressEvent `json:"event,omitempty"`
	Data  any                   `json:"data,omitempty"`
	Error string                `json:"error,omitempty"`
}

// wsConn serializes writes and stops them once the peer has gone away
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	gone atomic.Bool
}

func (c *wsConn) write(msg wsMessage) {
	if c.gone.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.gone.Store(true)
	}
}

func (c *wsConn) progress(ev domain.ProgressEvent) {
	c.write(wsMessage{Type: "event", Event: &ev})
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
	c.conn.Close()
}

func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		c := &wsConn{conn: conn}
		defer c.close()

		var req wsRequest
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		if err := conn.ReadJSON(&req); err != nil {
			c.write(wsMessage{Type: "error", Error: "invalid request message"})
			return
		}
		conn.SetReadDeadline(time.Time{})

		// drain reads so a client close is noticed while the run streams
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					c.gone.Store(true)
					return
				}
			}
		}()

		ctx := context.WithoutCancel(r.Context())
		switch strings.ToLower(req.Type) {
		case "", "run":
			if err := req.RepoTestRequest.Validate(); err != nil {
				c.write(wsMessage{Type: "error", Error: msgRunFieldsRequired})
				return
			}
			result, err := s.runner.Run(ctx, req.RepoTestRequest, c.progress)
			if err != nil {
				c.write(wsMessage{Type: "error", Error: err.Error()})
				return
			}
			s.Broadcast(SSEEvent{Type: EventRunComplete, Data: summarize(result)})
			c.write(wsMessage{Type: "done", Data: result})

		case "batch":
			if s.batch == nil {
				c.write(wsMessage{Type: "error", Error: "batch runs are not enabled"})
				return
			}
			breq := domain.BatchRequest{
				RepoURL:     req.RepoURL,
				Ref:         req.Ref,
				Prompt:      req.Prompt,
				TestCommand: req.TestCommand,
				Tool:        req.Tool,
				Models:      req.Models,
			}
			result, err := s.batch.RunBatch(ctx, breq, c.progress)
			if err != nil {
				c.write(wsMessage{Type: "error", Error: err.Error()})
				return
			}
			s.Broadcast(SSEEvent{Type: EventBatchComplete, Data: result})
			c.write(wsMessage{Type: "done", Data: result})

		default:
			c.write(wsMessage{Type: "error", Error: fmt.Sprintf("unknown request type %q", req.Type)})
		}
	}
}
