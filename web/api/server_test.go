package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
	"github.com/marvijo-code/ultimate-llm-arena/internal/repotest"
)

type mockRunner struct {
	mu      sync.Mutex
	runErr  error
	lastReq domain.RepoTestRequest
	limit   int
	runs    map[int64]*domain.RunRecord
}

func (m *mockRunner) ListTools() []domain.CodingTool {
	return []domain.CodingTool{{ID: "direct", Name: "Direct LLM"}}
}

func (m *mockRunner) Run(_ context.Context, req domain.RepoTestRequest, onProgress domain.ProgressFunc) (*domain.RepoTestResult, error) {
	m.mu.Lock()
	m.lastReq = req
	m.mu.Unlock()

	onProgress.Emit(domain.ProgressEvent{Type: domain.EventStatus, Message: "Starting repo test run..."})
	if m.runErr != nil {
		onProgress.Emit(domain.ProgressEvent{Type: domain.EventError, Message: m.runErr.Error()})
		return nil, &repotest.RunError{RunID: 9, Err: m.runErr}
	}
	result := &domain.RepoTestResult{
		RunID:            1,
		Model:            req.Model,
		Tool:             req.Tool,
		Status:           domain.RunSuccess,
		FinalTestsPassed: 3,
		FinalTestsTotal:  3,
	}
	onProgress.Emit(domain.ProgressEvent{Type: domain.EventComplete, Message: "Run complete", Data: result})
	return result, nil
}

func (m *mockRunner) History(_ context.Context, limit int) ([]*domain.RunRecord, error) {
	m.limit = limit
	return nil, nil
}

func (m *mockRunner) GetRun(_ context.Context, id int64) (*domain.RunRecord, error) {
	return m.runs[id], nil
}

type mockBatch struct{}

func (mockBatch) RunBatch(_ context.Context, req domain.BatchRequest, onProgress domain.ProgressFunc) (*domain.BatchResult, error) {
	onProgress.Emit(domain.ProgressEvent{Type: domain.EventBatchStart, Message: "Starting batch"})
	res := &domain.BatchResult{BatchID: "b-1"}
	for i, m := range req.Models {
		res.Leaderboard = append(res.Leaderboard, domain.LeaderboardEntry{Rank: i + 1, Model: m})
	}
	onProgress.Emit(domain.ProgressEvent{Type: domain.EventBatchComplete, Message: "Batch complete", Data: res})
	return res, nil
}

const runBody = `{"repo_url":"https://example.com/r.git","ref":"main","prompt":"fix","test_command":"npm test","tool":"direct","model":"m1"}`

func newTestServer(runner *mockRunner) *Server {
	return NewServer(runner, mockBatch{}, ":0", nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) (envelope, json.RawMessage) {
	t.Helper()
	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	return envelope{Success: raw.Success, Error: raw.Error}, raw.Data
}

// sseEvents parses the data frames of an SSE body, stopping at [DONE]
func sseEvents(t *testing.T, body string) ([]domain.ProgressEvent, bool) {
	t.Helper()
	var events []domain.ProgressEvent
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		payload, ok := strings.CutPrefix(frame, "data: ")
		require.True(t, ok, "unexpected frame %q", frame)
		if payload == "[DONE]" {
			return events, true
		}
		var ev domain.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		events = append(events, ev)
	}
	return events, false
}

func TestHealthHandler(t *testing.T) {
	w := do(t, newTestServer(&mockRunner{}), "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	env, _ := decodeEnvelope(t, w)
	assert.True(t, env.Success)
}

func TestToolsHandler(t *testing.T) {
	w := do(t, newTestServer(&mockRunner{}), "GET", "/api/repo-test/tools", "")
	require.Equal(t, http.StatusOK, w.Code)

	env, data := decodeEnvelope(t, w)
	assert.True(t, env.Success)
	var tools []domain.CodingTool
	require.NoError(t, json.Unmarshal(data, &tools))
	require.Len(t, tools, 1)
	assert.Equal(t, "direct", tools[0].ID)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRunHandler_Validation(t *testing.T) {
	s := newTestServer(&mockRunner{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing model", `{"repo_url":"u","ref":"r","prompt":"p","test_command":"t","tool":"direct"}`, msgRunFieldsRequired},
		{"bad json", `{`, "invalid JSON body"},
		{"unknown tool", strings.Replace(runBody, `"direct"`, `"nope"`, 1), "Unknown tool: nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/api/repo-test/run", "/api/repo-test/run-sync"} {
				w := do(t, s, "POST", path, tt.body)
				assert.Equal(t, http.StatusBadRequest, w.Code, path)
				env, _ := decodeEnvelope(t, w)
				assert.False(t, env.Success)
				assert.Equal(t, tt.want, env.Error)
			}
		})
	}
}

func TestRunHandler_Streams(t *testing.T) {
	runner := &mockRunner{}
	w := do(t, newTestServer(runner), "POST", "/api/repo-test/run", runBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasSuffix(w.Body.String(), "data: [DONE]\n\n"))

	events, done := sseEvents(t, w.Body.String())
	require.True(t, done)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventStatus, events[0].Type)
	assert.Equal(t, domain.EventComplete, events[1].Type)
	assert.Equal(t, "m1", runner.lastReq.Model)
}

func TestRunHandler_RunErrorStreamsOneErrorEvent(t *testing.T) {
	runner := &mockRunner{runErr: errors.New("Git clone failed: no such repo")}
	w := do(t, newTestServer(runner), "POST", "/api/repo-test/run", runBody)

	events, done := sseEvents(t, w.Body.String())
	require.True(t, done)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventError, events[1].Type)
	assert.Equal(t, "Git clone failed: no such repo", events[1].Message)
}

func TestRunSyncHandler(t *testing.T) {
	w := do(t, newTestServer(&mockRunner{}), "POST", "/api/repo-test/run-sync", runBody)
	require.Equal(t, http.StatusOK, w.Code)

	env, data := decodeEnvelope(t, w)
	assert.True(t, env.Success)
	var result domain.RepoTestResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, domain.RunSuccess, result.Status)
	assert.Equal(t, int64(1), result.RunID)

	w = do(t, newTestServer(&mockRunner{runErr: errors.New("boom")}), "POST", "/api/repo-test/run-sync", runBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	env, _ = decodeEnvelope(t, w)
	assert.Equal(t, "boom", env.Error)
}

func TestBatchHandler(t *testing.T) {
	s := newTestServer(&mockRunner{})
	body := `{"repo_url":"u","ref":"r","prompt":"p","test_command":"t","tool":"direct","models":["a"," b ","a"]}`

	w := do(t, s, "POST", "/api/repo-test/batch", body)
	require.Equal(t, http.StatusOK, w.Code)
	events, done := sseEvents(t, w.Body.String())
	require.True(t, done)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventBatchComplete, events[1].Type)

	w = do(t, s, "POST", "/api/repo-test/batch", `{"repo_url":"u","ref":"r","prompt":"p","test_command":"t","tool":"direct","models":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env, _ := decodeEnvelope(t, w)
	assert.Equal(t, msgBatchFieldsRequired, env.Error)
}

func TestBatchHandler_Disabled(t *testing.T) {
	s := NewServer(&mockRunner{}, nil, ":0", nil)
	w := do(t, s, "POST", "/api/repo-test/batch", `{}`)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestHistoryHandler(t *testing.T) {
	runner := &mockRunner{}
	s := newTestServer(runner)

	w := do(t, s, "GET", "/api/repo-test/history?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, runner.limit)
	_, data := decodeEnvelope(t, w)
	assert.JSONEq(t, "[]", string(data))

	do(t, s, "GET", "/api/repo-test/history", "")
	assert.Equal(t, repotest.DefaultHistoryLimit, runner.limit)

	w = do(t, s, "GET", "/api/repo-test/history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRunHandler(t *testing.T) {
	s := newTestServer(&mockRunner{runs: map[int64]*domain.RunRecord{
		2: {ID: 2, Model: "m", Status: domain.RunFail},
	}})

	w := do(t, s, "GET", "/api/repo-test/runs/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	_, data := decodeEnvelope(t, w)
	var run domain.RunRecord
	require.NoError(t, json.Unmarshal(data, &run))
	assert.Equal(t, domain.RunFail, run.Status)

	w = do(t, s, "GET", "/api/repo-test/runs/3", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	env, _ := decodeEnvelope(t, w)
	assert.Equal(t, "Run not found", env.Error)

	w = do(t, s, "GET", "/api/repo-test/runs/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	w := do(t, newTestServer(&mockRunner{}), "GET", "/api/repo-test/run", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestWebSocketRun(t *testing.T) {
	server := httptest.NewServer(newTestServer(&mockRunner{}).Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/repo-test/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(runBody)))

	var types []string
	for {
		var msg struct {
			Type  string                `json:"type"`
			Event *domain.ProgressEvent `json:"event"`
			Error string                `json:"error"`
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			break
		}
		types = append(types, msg.Type)
	}
	assert.Equal(t, []string{"event", "event", "done"}, types)
}

func TestWebSocketBatch(t *testing.T) {
	server := httptest.NewServer(newTestServer(&mockRunner{}).Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/repo-test/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := `{"type":"batch","repo_url":"u","ref":"r","prompt":"p","test_command":"t","tool":"direct","models":["a","b"]}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

	var last struct {
		Type string             `json:"type"`
		Data domain.BatchResult `json:"data"`
	}
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var m struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&m); err != nil {
			break
		}
		if m.Type == "done" {
			last.Type = m.Type
			require.NoError(t, json.Unmarshal(m.Data, &last.Data))
		}
	}
	assert.Equal(t, "done", last.Type)
	assert.Len(t, last.Data.Leaderboard, 2)
}

func TestWebSocketInvalidRequest(t *testing.T) {
	server := httptest.NewServer(newTestServer(&mockRunner{}).Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/repo-test/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"run","repo_url":"u"}`)))

	var msg wsMessage
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, msgRunFieldsRequired, msg.Error)
}

func TestEventsBroadcast(t *testing.T) {
	s := newTestServer(&mockRunner{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.sseHub.Run(ctx)

	server := httptest.NewServer(s.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return s.sseHub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	// a finished run is announced to dashboards
	w := do(t, s, "POST", "/api/repo-test/run-sync", runBody)
	require.Equal(t, http.StatusOK, w.Code)

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, EventRunComplete, eventLine)

	var ev struct {
		Type string     `json:"type"`
		Data RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(dataLine), &ev))
	assert.Equal(t, "m1", ev.Data.Model)
	assert.Equal(t, 3, ev.Data.TestsPassed)
}
