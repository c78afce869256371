// Package notifications delivers watchdog events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. The Service interface covers the supervision milestones an
// operator cares about: restarts, permanent failures, and watchdog lifecycle.
//
// Extend this package if you need alternative transports; callers depend only
// on the Service interface.
package notifications
