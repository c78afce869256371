package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWatchdog(); err != nil {
		return err
	}
	if err := c.validateRestart(); err != nil {
		return err
	}
	if err := c.validateDaemons(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout < 1 {
		return errors.New("notifications.request_timeout must be >= 1")
	}
	return nil
}

func (c *Config) validateWatchdog() error {
	if err := ensurePositiveMap(map[string]int{
		"watchdog.poll_interval":   c.Watchdog.PollInterval,
		"watchdog.ping_timeout":    c.Watchdog.PingTimeout,
		"watchdog.startup_timeout": c.Watchdog.StartupTimeout,
		"watchdog.grace_period":    c.Watchdog.GracePeriod,
	}); err != nil {
		return err
	}
	if c.Watchdog.PingFailures < 1 {
		return errors.New("watchdog.ping_failures must be >= 1")
	}
	return nil
}

func (c *Config) validateRestart() error {
	if err := ensurePositiveMap(map[string]int{
		"restart.initial_delay":    c.Restart.InitialDelay,
		"restart.max_delay":        c.Restart.MaxDelay,
		"restart.retry_window":     c.Restart.RetryWindow,
		"restart.stability_window": c.Restart.StabilityWindow,
	}); err != nil {
		return err
	}
	if c.Restart.MaxDelay < c.Restart.InitialDelay {
		return errors.New("restart.max_delay must be >= restart.initial_delay")
	}
	if c.Restart.Jitter < 0 || c.Restart.Jitter > 0.5 {
		return errors.New("restart.jitter must be between 0 and 0.5")
	}
	if c.Restart.MaxRetries < 1 {
		return errors.New("restart.max_retries must be >= 1")
	}
	return nil
}

func (c *Config) validateDaemons() error {
	if len(c.Daemons) == 0 {
		return errors.New("daemons: at least one daemon must be configured")
	}
	enabled := 0
	for name, daemon := range c.Daemons {
		if !isValidDaemonName(name) {
			return fmt.Errorf("daemons.%s: name must be lowercase letters, digits, and hyphens", name)
		}
		if name == "warden" {
			return errors.New("daemons.warden: name is reserved for the watchdog socket")
		}
		if daemon.Command == "" {
			return fmt.Errorf("daemons.%s.command must be set", name)
		}
		for _, dep := range daemon.Requires {
			if dep == name {
				return fmt.Errorf("daemons.%s cannot require itself", name)
			}
			target, ok := c.Daemons[dep]
			if !ok {
				return fmt.Errorf("daemons.%s requires unknown daemon %q", name, dep)
			}
			if daemon.IsEnabled() && !target.IsEnabled() {
				return fmt.Errorf("daemons.%s requires %q which is disabled", name, dep)
			}
		}
		if daemon.IsEnabled() {
			enabled++
		}
	}
	if enabled == 0 {
		return errors.New("daemons: at least one daemon must be enabled")
	}
	return nil
}

func isValidDaemonName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		case r == '-':
			if i == 0 || i == len(name)-1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
