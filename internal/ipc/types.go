package ipc

import "time"

// PingRequest probes a process for liveness.
type PingRequest struct{}

// PingResponse identifies the responding process.
type PingResponse struct {
	PID int `json:"pid"`
}

// ExitRequest asks a supervised daemon to begin a clean shutdown.
type ExitRequest struct{}

// ExitResponse acknowledges an exit request.
type ExitResponse struct {
	Stopping bool `json:"stopping"`
}

// StatusRequest fetches watchdog status.
type StatusRequest struct{}

// DaemonStatus describes one supervised daemon.
type DaemonStatus struct {
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

// StatusResponse represents combined watchdog and daemon status information.
type StatusResponse struct {
	Running      bool           `json:"running"`
	RunID        string         `json:"run_id"`
	PID          int            `json:"pid"`
	StartedAt    time.Time      `json:"started_at"`
	LogPath      string         `json:"log_path"`
	DatabasePath string         `json:"database_path"`
	LockPath     string         `json:"lock_path"`
	Daemons      []DaemonStatus `json:"daemons"`
}

// ShutdownRequest stops the watchdog and every supervised daemon.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	Stopping bool `json:"stopping"`
}

// DaemonRequest names the daemon an operation applies to.
type DaemonRequest struct {
	Name string `json:"name"`
}

// DaemonActionResponse reports the outcome of a per-daemon operation.
type DaemonActionResponse struct {
	Applied bool   `json:"applied"`
	Message string `json:"message"`
}

// LogTailRequest fetches watchdog log lines.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int64 `json:"wait_millis"`
}

// LogTailResponse carries log lines and the next read offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}
