package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to a running watchdog.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the watchdog command socket at the given path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping confirms the watchdog is answering and returns its process id.
func (c *Client) Ping() (*PingResponse, error) {
	var resp PingResponse
	if err := c.client.Call("Warden.Ping", PingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves watchdog and per-daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Warden.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the watchdog to stop all daemons and exit.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.client.Call("Warden.Shutdown", ShutdownRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartDaemon resumes supervision of a single daemon.
func (c *Client) StartDaemon(name string) (*DaemonActionResponse, error) {
	var resp DaemonActionResponse
	if err := c.client.Call("Warden.StartDaemon", DaemonRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StopDaemon stops a single daemon without touching the rest.
func (c *Client) StopDaemon(name string) (*DaemonActionResponse, error) {
	var resp DaemonActionResponse
	if err := c.client.Call("Warden.StopDaemon", DaemonRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RestartDaemon stops and then resumes supervision of a single daemon.
func (c *Client) RestartDaemon(name string) (*DaemonActionResponse, error) {
	var resp DaemonActionResponse
	if err := c.client.Call("Warden.RestartDaemon", DaemonRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns watchdog log lines.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Warden.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
