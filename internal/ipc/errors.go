package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrPingTimeout marks a probe that connected but received no reply within
// its deadline. The peer may still be alive and merely slow or wedged.
var ErrPingTimeout = errors.New("ping timed out")

// ChannelError marks a control channel that could not carry the request at
// all: the socket is missing, refusing connections, or the connection broke
// mid-call. Callers treat it like a missed ping, but the distinction matters
// for log messages and operator hints.
type ChannelError struct {
	Socket string
	Op     string
	Err    error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("control channel %s: %s: %v", e.Socket, e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// classifyCallError sorts a failed control call into the timeout or
// channel-failure bucket.
func classifyCallError(socket, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", socket, ErrPingTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w", socket, ErrPingTimeout)
	}
	return &ChannelError{Socket: socket, Op: op, Err: err}
}
