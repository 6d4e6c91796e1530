package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"optibatch/internal/bulk"
	"optibatch/internal/config"
	"optibatch/internal/job"
	"optibatch/internal/ledger"
	"optibatch/internal/logging"
	"optibatch/internal/media"
	"optibatch/internal/quota"
	"optibatch/internal/services"
)

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type apiServer struct {
	bind        string
	token       string
	eventBuffer int
	logger      *slog.Logger
	daemon      *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	buffer := cfg.Workflow.EventBuffer
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}
	srv := &apiServer{
		bind:        bind,
		token:       strings.TrimSpace(cfg.Paths.APIToken),
		eventBuffer: buffer,
		logger:      logger,
		daemon:      d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /api/job", s.handleJobStatus)
	mux.HandleFunc("POST /api/job/{action}", s.handleJobAction)
	mux.HandleFunc("GET /api/job/processed", s.handleProcessed)
	mux.HandleFunc("GET /api/job/remaining", s.handleRemaining)

	mux.HandleFunc("GET /api/bulk/{workflow}", s.handleBulkStatus)
	mux.HandleFunc("POST /api/bulk/{workflow}/{action}", s.handleBulkAction)

	mux.HandleFunc("GET /api/events", s.handleEvents)
	return s.authMiddleware(mux.ServeHTTP)
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.Stats(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleJobStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.controller.Status())
}

func (s *apiServer) handleJobAction(w http.ResponseWriter, r *http.Request) {
	ctrl := s.daemon.controller
	var err error
	switch r.PathValue("action") {
	case "start":
		err = ctrl.Start(r.Context())
	case "pause":
		err = ctrl.Pause()
	case "resume":
		err = ctrl.Resume(r.Context())
	case "stop":
		err = ctrl.Stop()
	case "discard":
		err = ctrl.Discard(r.Context())
	default:
		s.writeError(w, http.StatusNotFound, "unknown job action")
		return
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ctrl.Status())
}

func (s *apiServer) handleProcessed(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	status := media.ItemStatus(strings.TrimSpace(query.Get("status")))
	if status != "" && !status.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", status))
		return
	}
	page, err := s.daemon.controller.Processed(r.Context(), status, pagination(query.Get("page"), query.Get("per_page")))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *apiServer) handleRemaining(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	s.writeJSON(w, http.StatusOK, s.daemon.controller.Remaining(pagination(query.Get("page"), query.Get("per_page"))))
}

func (s *apiServer) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	runner := s.daemon.Runner(bulk.Workflow(r.PathValue("workflow")))
	if runner == nil {
		s.writeError(w, http.StatusNotFound, "unknown workflow")
		return
	}
	s.writeJSON(w, http.StatusOK, runner.Status())
}

func (s *apiServer) handleBulkAction(w http.ResponseWriter, r *http.Request) {
	runner := s.daemon.Runner(bulk.Workflow(r.PathValue("workflow")))
	if runner == nil {
		s.writeError(w, http.StatusNotFound, "unknown workflow")
		return
	}
	var err error
	switch r.PathValue("action") {
	case "start":
		err = runner.Start(r.Context())
	case "stop":
		err = runner.Stop()
	default:
		s.writeError(w, http.StatusNotFound, "unknown bulk action")
		return
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runner.Status())
}

func pagination(page, perPage string) ledger.Pagination {
	p, _ := strconv.Atoi(strings.TrimSpace(page))
	pp, _ := strconv.Atoi(strings.TrimSpace(perPage))
	return ledger.Pagination{Page: p, PerPage: pp}
}

// statusForError maps controller and remote failures onto HTTP codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, job.ErrInvalidTransition), errors.Is(err, job.ErrBusy),
		errors.Is(err, bulk.ErrBusy), errors.Is(err, bulk.ErrNotRunning):
		return http.StatusConflict
	case quota.IsExceeded(err):
		return http.StatusPaymentRequired
	case errors.Is(err, job.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, services.ErrExternal), errors.Is(err, services.ErrTransient),
		errors.Is(err, services.ErrTimeout), errors.Is(err, services.ErrUnauthorized),
		errors.Is(err, services.ErrNotFound):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.log().Warn("api request failed", logging.Int("status", status), logging.Error(err))
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: services.Kind(err)})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
