package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDaemons(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		c.Paths.RuntimeDir = defaultRuntimeDir
	}
	if c.Paths.RuntimeDir, err = expandPath(c.Paths.RuntimeDir); err != nil {
		return fmt.Errorf("paths.runtime_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.StatusBind = strings.TrimSpace(c.Paths.StatusBind)
	return nil
}

func (c *Config) normalizeDaemons() error {
	if c.Daemons == nil {
		c.Daemons = Default().Daemons
	}
	for name, daemon := range c.Daemons {
		trimmedName := strings.TrimSpace(name)
		if trimmedName != name {
			delete(c.Daemons, name)
			name = trimmedName
		}
		daemon.Command = strings.TrimSpace(daemon.Command)
		if daemon.Command == "" {
			daemon.Command = defaultDaemonCommand(name)
		}
		// A nil requires slice means the section omitted the key entirely;
		// an explicit empty list stays empty.
		if daemon.Requires == nil {
			daemon.Requires = defaultDaemonRequires(name)
		} else {
			requires := make([]string, 0, len(daemon.Requires))
			seen := make(map[string]struct{}, len(daemon.Requires))
			for _, dep := range daemon.Requires {
				dep = strings.TrimSpace(dep)
				if dep == "" {
					continue
				}
				if _, ok := seen[dep]; ok {
					continue
				}
				seen[dep] = struct{}{}
				requires = append(requires, dep)
			}
			daemon.Requires = requires
		}
		daemon.Socket = strings.TrimSpace(daemon.Socket)
		if daemon.Socket != "" {
			expanded, err := expandPath(daemon.Socket)
			if err != nil {
				return fmt.Errorf("daemons.%s.socket: %w", name, err)
			}
			daemon.Socket = expanded
		}
		c.Daemons[name] = daemon
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotificationTimeout
	}
}
