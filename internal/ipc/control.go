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

	"log/slog"

	"warden/internal/logging"
)

// DaemonControl probes and commands one supervised daemon over its control
// socket. Every call dials a fresh connection so a wedged daemon cannot
// poison later probes, and the context deadline bounds both the dial and the
// round trip.
type DaemonControl struct {
	socket string
}

// NewDaemonControl returns a control client for the daemon socket at path.
func NewDaemonControl(path string) *DaemonControl {
	return &DaemonControl{socket: path}
}

// Socket returns the control socket path.
func (c *DaemonControl) Socket() string { return c.socket }

// Ping asks the daemon to confirm liveness. A nil return means the daemon
// answered within the context deadline. Timeouts surface as ErrPingTimeout
// and connection failures as *ChannelError.
func (c *DaemonControl) Ping(ctx context.Context) error {
	var resp PingResponse
	return c.call(ctx, "Control.Ping", PingRequest{}, &resp)
}

// RequestExit asks the daemon to begin a clean shutdown. The daemon keeps
// running until it finishes its own teardown; callers escalate to signals
// when it does not exit in time.
func (c *DaemonControl) RequestExit(ctx context.Context) error {
	var resp ExitResponse
	return c.call(ctx, "Control.Exit", ExitRequest{}, &resp)
}

func (c *DaemonControl) call(ctx context.Context, method string, req, resp any) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return classifyCallError(c.socket, "dial", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	client := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	defer client.Close()
	if err := client.Call(method, req, resp); err != nil {
		return classifyCallError(c.socket, method, err)
	}
	return nil
}

// ControlServer answers the control protocol on behalf of a daemon process.
// Supervised daemons embed one so the watchdog can ping them and request a
// cooperative exit before reaching for signals.
type ControlServer struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewControlServer configures a control server at the given socket path.
// onExit runs once when an exit request arrives; it must trigger the
// daemon's own shutdown path rather than exiting directly so the reply
// still reaches the watchdog.
func NewControlServer(ctx context.Context, path string, onExit func(), logger *slog.Logger) (*ControlServer, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on control socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	svc := &controlService{onExit: onExit}
	if err := rpcServer.RegisterName("Control", svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register control service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &ControlServer{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting control connections until the context is canceled.
func (s *ControlServer) Serve() {
	s.logger.Debug("control server listening", logging.String("socket", s.path))
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
				s.logger.Warn("control accept failed", logging.Error(err))
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
func (s *ControlServer) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove control socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type controlService struct {
	exitOnce sync.Once
	onExit   func()
}

func (s *controlService) Ping(_ PingRequest, resp *PingResponse) error {
	resp.PID = os.Getpid()
	return nil
}

func (s *controlService) Exit(_ ExitRequest, resp *ExitResponse) error {
	resp.Stopping = true
	if s.onExit != nil {
		// Deferred to a goroutine so the acknowledgement is written before
		// the daemon starts tearing the socket down.
		s.exitOnce.Do(func() { go s.onExit() })
	}
	return nil
}
