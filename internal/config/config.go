package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	RuntimeDir string `toml:"runtime_dir"`
	LogDir     string `toml:"log_dir"`
	StatusBind string `toml:"status_bind"`
}

// Watchdog contains supervision timing configuration. All interval and
// timeout values are expressed in seconds.
type Watchdog struct {
	PollInterval   int `toml:"poll_interval"`
	PingTimeout    int `toml:"ping_timeout"`
	PingFailures   int `toml:"ping_failures"`
	StartupTimeout int `toml:"startup_timeout"`
	GracePeriod    int `toml:"grace_period"`
}

// PollDuration returns the monitor loop interval.
func (w Watchdog) PollDuration() time.Duration { return time.Duration(w.PollInterval) * time.Second }

// PingDuration returns the per-ping deadline.
func (w Watchdog) PingDuration() time.Duration { return time.Duration(w.PingTimeout) * time.Second }

// StartupDuration returns the bound on a daemon's Starting phase.
func (w Watchdog) StartupDuration() time.Duration {
	return time.Duration(w.StartupTimeout) * time.Second
}

// GraceDuration returns the window between SIGTERM and SIGKILL.
func (w Watchdog) GraceDuration() time.Duration { return time.Duration(w.GracePeriod) * time.Second }

// Restart contains restart policy bounds. Interval values are expressed in
// seconds; jitter is a fraction of the computed delay.
type Restart struct {
	InitialDelay    int     `toml:"initial_delay"`
	MaxDelay        int     `toml:"max_delay"`
	Jitter          float64 `toml:"jitter"`
	MaxRetries      int     `toml:"max_retries"`
	RetryWindow     int     `toml:"retry_window"`
	StabilityWindow int     `toml:"stability_window"`
}

// InitialDelayDuration returns the first backoff delay.
func (r Restart) InitialDelayDuration() time.Duration {
	return time.Duration(r.InitialDelay) * time.Second
}

// MaxDelayDuration returns the backoff cap.
func (r Restart) MaxDelayDuration() time.Duration { return time.Duration(r.MaxDelay) * time.Second }

// RetryWindowDuration returns the sliding window for the retry ceiling.
func (r Restart) RetryWindowDuration() time.Duration {
	return time.Duration(r.RetryWindow) * time.Second
}

// StabilityWindowDuration returns the healthy period after which failure
// counts reset.
func (r Restart) StabilityWindowDuration() time.Duration {
	return time.Duration(r.StabilityWindow) * time.Second
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains operator alerting configuration. An empty topic
// disables notifications entirely.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// RequestTimeoutDuration returns the per-notification HTTP deadline.
func (n Notifications) RequestTimeoutDuration() time.Duration {
	return time.Duration(n.RequestTimeout) * time.Second
}

// Daemon describes one supervised daemon. Enabled defaults to true when the
// section omits it; Socket is derived from the runtime directory unless set
// explicitly.
type Daemon struct {
	Command  string   `toml:"command"`
	Args     []string `toml:"args"`
	Env      []string `toml:"env"`
	Requires []string `toml:"requires"`
	Socket   string   `toml:"socket"`
	Enabled  *bool    `toml:"enabled"`
}

// IsEnabled reports whether the daemon participates in supervision.
func (d Daemon) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Config encapsulates all configuration values for warden.
//
// Configuration sections by subsystem:
//   - Paths: runtime directory (sockets, lock, pid file, run database),
//     log directory, and the optional status/metrics bind address
//   - Watchdog: supervision cadence and timeouts
//   - Restart: backoff shape, retry ceiling, and stability window
//   - Logging: log format, level, and retention
//   - Notifications: optional ntfy alerting for restart and failure events
//   - Daemons: the supervised daemon roster keyed by name
type Config struct {
	Paths         Paths             `toml:"paths"`
	Watchdog      Watchdog          `toml:"watchdog"`
	Restart       Restart           `toml:"restart"`
	Logging       Logging           `toml:"logging"`
	Notifications Notifications     `toml:"notifications"`
	Daemons       map[string]Daemon `toml:"daemons"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/warden/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/warden/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("warden.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for watchdog operation. The
// runtime directory holds control sockets and the lock file, so it is kept
// private to the owning user.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.RuntimeDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.RuntimeDir, err)
	}
	if err := os.MkdirAll(c.Paths.LogDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.LogDir, err)
	}
	return nil
}

// SocketPath returns the watchdog's own control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "warden.sock")
}

// PIDFilePath returns the watchdog pid file location.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.Paths.RuntimeDir, "warden.pid")
}

// LockFilePath returns the single-instance lock location.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.RuntimeDir, "wardend.lock")
}

// DatabasePath returns the run-state database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.RuntimeDir, "run.db")
}

// DaemonSocketPath returns the control socket location for a supervised
// daemon, honouring per-daemon overrides.
func (c *Config) DaemonSocketPath(name string) string {
	if d, ok := c.Daemons[name]; ok && strings.TrimSpace(d.Socket) != "" {
		return d.Socket
	}
	return filepath.Join(c.Paths.RuntimeDir, name+".sock")
}

// EnabledDaemonCount returns how many daemons participate in supervision.
func (c *Config) EnabledDaemonCount() int {
	count := 0
	for _, d := range c.Daemons {
		if d.IsEnabled() {
			count++
		}
	}
	return count
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
