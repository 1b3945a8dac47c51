package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

// Runner is the single-run surface of the repo test controller
type Runner interface {
	ListTools() []domain.CodingTool
	Run(ctx context.Context, req domain.RepoTestRequest, onProgress domain.ProgressFunc) (*domain.RepoTestResult, error)
	History(ctx context.Context, limit int) ([]*domain.RunRecord, error)
	GetRun(ctx context.Context, id int64) (*domain.RunRecord, error)
}

// BatchRunner runs one request against several models
type BatchRunner interface {
	RunBatch(ctx context.Context, req domain.BatchRequest, onProgress domain.ProgressFunc) (*domain.BatchResult, error)
}

// Server is the HTTP API server
type Server struct {
	runner   Runner
	batch    BatchRunner
	addr     string
	mux      *http.ServeMux
	sseHub   *SSEHub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a new API server. batch may be nil, which disables the
// batch endpoints.
func NewServer(runner Runner, batch BatchRunner, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runner: runner,
		batch:  batch,
		addr:   addr,
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/health", s.healthHandler())
	s.mux.HandleFunc("GET /api/events", s.sseHandler())

	s.mux.HandleFunc("GET /api/repo-test/tools", s.toolsHandler())
	s.mux.HandleFunc("POST /api/repo-test/run", s.runHandler())
	s.mux.HandleFunc("POST /api/repo-test/run-sync", s.runSyncHandler())
	s.mux.HandleFunc("POST /api/repo-test/batch", s.batchHandler())
	s.mux.HandleFunc("GET /api/repo-test/history", s.historyHandler())
	s.mux.HandleFunc("GET /api/repo-test/runs/{id}", s.getRunHandler())
	s.mux.HandleFunc("GET /api/repo-test/ws", s.wsHandler())
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

// Start serves the API until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.sseHub.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Broadcast sends an event to all dashboard SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

// envelope is the response shape shared by every JSON endpoint
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: message})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
