package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"warden/internal/config"
)

const userAgent = "Warden/0.1.0"

// Service defines the notification surface exposed to the watchdog.
type Service interface {
	NotifyWatchdogStarted(ctx context.Context, daemonCount int) error
	NotifyWatchdogStopped(ctx context.Context, clean bool) error
	NotifyDaemonRestarted(ctx context.Context, daemon string, attempt int, reason string) error
	NotifyDaemonFailed(ctx context.Context, daemon string, failures int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.Notifications.RequestTimeoutDuration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyWatchdogStarted(ctx context.Context, daemonCount int) error {
	noun := "daemons"
	if daemonCount == 1 {
		noun = "daemon"
	}
	data := payload{
		title:   "Warden - Started",
		message: fmt.Sprintf("Watchdog started, supervising %d %s", daemonCount, noun),
		tags:    []string{"warden", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyWatchdogStopped(ctx context.Context, clean bool) error {
	data := payload{
		title:   "Warden - Stopped",
		message: "Watchdog stopped, all daemons shut down",
		tags:    []string{"warden", "stopped"},
	}
	if !clean {
		data.title = "Warden - Stopped (with failures)"
		data.message = "Watchdog stopped with daemons in a failed state"
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDaemonRestarted(ctx context.Context, daemon string, attempt int, reason string) error {
	daemon = strings.TrimSpace(daemon)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:   "Warden - Daemon Restarting",
		message: fmt.Sprintf("Restarting %s (attempt %d, reason: %s)", daemon, attempt, reason),
		tags:    []string{"warden", "restart", daemon},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDaemonFailed(ctx context.Context, daemon string, failures int) error {
	daemon = strings.TrimSpace(daemon)
	data := payload{
		title:    "Warden - Daemon Failed",
		message:  fmt.Sprintf("%s failed permanently after %d restarts; manual intervention required", daemon, failures),
		tags:     []string{"warden", "failed", daemon},
		priority: "urgent",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Warden - Test",
		message:  "Notification system test",
		tags:     []string{"warden", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyWatchdogStarted(context.Context, int) error { return nil }

func (noopService) NotifyWatchdogStopped(context.Context, bool) error { return nil }

func (noopService) NotifyDaemonRestarted(context.Context, string, int, string) error { return nil }

func (noopService) NotifyDaemonFailed(context.Context, string, int) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
