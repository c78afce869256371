package config

const (
	defaultRuntimeDir       = "~/.local/share/warden"
	defaultLogDir           = "~/.local/share/warden/logs"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 60

	defaultPollInterval   = 5
	defaultPingTimeout    = 5
	defaultPingFailures   = 2
	defaultStartupTimeout = 30
	defaultGracePeriod    = 10

	defaultRestartInitialDelay    = 1
	defaultRestartMaxDelay        = 60
	defaultRestartJitter          = 0.2
	defaultRestartMaxRetries      = 5
	defaultRestartRetryWindow     = 300
	defaultRestartStabilityWindow = 60

	defaultNotificationTimeout = 10
)

// BrokerDaemon, MonitorDaemon, and ManagerDaemon are the well-known daemon
// names supervised by default. The broker carries the message bus every other
// daemon connects to, so the others require it.
const (
	BrokerDaemon  = "broker"
	MonitorDaemon = "monitor"
	ManagerDaemon = "manager"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RuntimeDir: defaultRuntimeDir,
			LogDir:     defaultLogDir,
		},
		Watchdog: Watchdog{
			PollInterval:   defaultPollInterval,
			PingTimeout:    defaultPingTimeout,
			PingFailures:   defaultPingFailures,
			StartupTimeout: defaultStartupTimeout,
			GracePeriod:    defaultGracePeriod,
		},
		Restart: Restart{
			InitialDelay:    defaultRestartInitialDelay,
			MaxDelay:        defaultRestartMaxDelay,
			Jitter:          defaultRestartJitter,
			MaxRetries:      defaultRestartMaxRetries,
			RetryWindow:     defaultRestartRetryWindow,
			StabilityWindow: defaultRestartStabilityWindow,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotificationTimeout,
		},
		Daemons: map[string]Daemon{
			BrokerDaemon: {
				Command: "warden-broker",
			},
			MonitorDaemon: {
				Command:  "warden-monitor",
				Requires: []string{BrokerDaemon},
			},
			ManagerDaemon: {
				Command:  "warden-manager",
				Requires: []string{BrokerDaemon},
			},
		},
	}
}

func defaultDaemonCommand(name string) string {
	switch name {
	case BrokerDaemon, MonitorDaemon, ManagerDaemon:
		return "warden-" + name
	default:
		return ""
	}
}

func defaultDaemonRequires(name string) []string {
	switch name {
	case MonitorDaemon, ManagerDaemon:
		return []string{BrokerDaemon}
	default:
		return nil
	}
}
