package watchdog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"warden/internal/config"
	"warden/internal/logging"
)

// statusServer serves the optional HTTP status and metrics listener. A nil
// *statusServer is valid and inert, so the watchdog can start and stop it
// without checking whether the listener is configured.
type statusServer struct {
	bind   string
	logger *slog.Logger
	wd     *Watchdog

	listener net.Listener
	server   *http.Server
}

// statusPayload is the JSON document served at /api/status.
type statusPayload struct {
	Running      bool            `json:"running"`
	RunID        string          `json:"run_id"`
	PID          int             `json:"pid"`
	StartedAt    time.Time       `json:"started_at"`
	LogPath      string          `json:"log_path"`
	DatabasePath string          `json:"database_path"`
	LockPath     string          `json:"lock_path"`
	Daemons      []daemonPayload `json:"daemons"`
}

type daemonPayload struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	Healthy       bool      `json:"healthy"`
	Restarts      int       `json:"restarts"`
	FailureStreak int       `json:"failure_streak"`
	PingMisses    int       `json:"ping_misses"`
	LastError     string    `json:"last_error"`
}

func newStatusServer(cfg *config.Config, w *Watchdog, logger *slog.Logger) (*statusServer, error) {
	if cfg == nil || w == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.StatusBind)
	if bind == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	srv := &statusServer{
		bind:   bind,
		logger: logger,
		wd:     w,
	}

	mux.HandleFunc("/api/status", srv.handleStatus)
	if w.metrics != nil {
		mux.Handle("/metrics", w.metrics.Handler())
	}

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *statusServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("status listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("status server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("status server listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (s *statusServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *statusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.wd.Status()
	daemons := make([]daemonPayload, len(snap.Daemons))
	for i, d := range snap.Daemons {
		daemons[i] = daemonPayload{
			Name:          d.Daemon,
			State:         string(d.State),
			PID:           d.PID,
			StartedAt:     d.StartedAt,
			Healthy:       d.Healthy,
			Restarts:      d.Restarts,
			FailureStreak: d.FailureStreak,
			PingMisses:    d.PingMisses,
			LastError:     d.LastError,
		}
	}
	payload := statusPayload{
		Running:      snap.Running,
		RunID:        snap.RunID,
		PID:          snap.PID,
		StartedAt:    snap.StartedAt,
		LogPath:      snap.LogPath,
		DatabasePath: snap.DatabasePath,
		LockPath:     snap.LockPath,
		Daemons:      daemons,
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *statusServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *statusServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *statusServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "status-server"))
	}
	return logging.NewNop()
}
