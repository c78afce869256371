// Package metrics exposes the watchdog's Prometheus collectors. Every
// watchdog run builds its own Set on a private registry, so repeated
// construction inside one process never trips duplicate registration.
package metrics
