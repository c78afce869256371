package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"warden/internal/logging"
	"warden/internal/logs"
	"warden/internal/watchdog"
)

// Server exposes watchdog control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the command server at the given socket path.
func NewServer(ctx context.Context, path string, w *watchdog.Watchdog, logger *slog.Logger) (*Server, error) {
	if w == nil {
		return nil, errors.New("ipc server requires watchdog")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	svc := &wardenService{watchdog: w, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Warden", svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("command server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "CLI clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions under the runtime directory"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale command socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun warden stop"))
	}
}

type wardenService struct {
	watchdog *watchdog.Watchdog
	logger   *slog.Logger
	ctx      context.Context
}

func (s *wardenService) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *wardenService) Ping(_ PingRequest, resp *PingResponse) error {
	resp.PID = os.Getpid()
	return nil
}

func (s *wardenService) Status(_ StatusRequest, resp *StatusResponse) error {
	snap := s.watchdog.Status()
	resp.Running = snap.Running
	resp.RunID = snap.RunID
	resp.PID = snap.PID
	resp.StartedAt = snap.StartedAt
	resp.LogPath = snap.LogPath
	resp.DatabasePath = snap.DatabasePath
	resp.LockPath = snap.LockPath
	resp.Daemons = make([]DaemonStatus, 0, len(snap.Daemons))
	for _, d := range snap.Daemons {
		resp.Daemons = append(resp.Daemons, DaemonStatus{
			Name:          d.Daemon,
			State:         string(d.State),
			PID:           d.PID,
			StartedAt:     d.StartedAt,
			Healthy:       d.Healthy,
			Restarts:      d.Restarts,
			FailureStreak: d.FailureStreak,
			PingMisses:    d.PingMisses,
			LastError:     d.LastError,
		})
	}
	return nil
}

func (s *wardenService) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	s.log().Info("shutdown requested via command socket",
		logging.String(logging.FieldEventType, "watchdog_shutdown_requested"))
	s.watchdog.Shutdown()
	resp.Stopping = true
	return nil
}

func (s *wardenService) StartDaemon(req DaemonRequest, resp *DaemonActionResponse) error {
	msg, err := s.watchdog.StartDaemon(req.Name)
	if err != nil {
		return err
	}
	resp.Applied = true
	resp.Message = msg
	s.log().Info("daemon start requested via command socket",
		logging.String(logging.FieldDaemon, req.Name),
		logging.String(logging.FieldEventType, "daemon_start_requested"))
	return nil
}

func (s *wardenService) StopDaemon(req DaemonRequest, resp *DaemonActionResponse) error {
	msg, err := s.watchdog.StopDaemon(req.Name)
	if err != nil {
		return err
	}
	resp.Applied = true
	resp.Message = msg
	s.log().Info("daemon stop requested via command socket",
		logging.String(logging.FieldDaemon, req.Name),
		logging.String(logging.FieldEventType, "daemon_stop_requested"))
	return nil
}

func (s *wardenService) RestartDaemon(req DaemonRequest, resp *DaemonActionResponse) error {
	msg, err := s.watchdog.RestartDaemon(req.Name)
	if err != nil {
		return err
	}
	resp.Applied = true
	resp.Message = msg
	s.log().Info("daemon restart requested via command socket",
		logging.String(logging.FieldDaemon, req.Name),
		logging.String(logging.FieldEventType, "daemon_restart_requested"))
	return nil
}

func (s *wardenService) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.watchdog.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}
