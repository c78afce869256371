// Package ipc carries both JSON-RPC protocols warden speaks over Unix
// domain sockets.
//
// The watchdog protocol (service "Warden") runs on the watchdog command
// socket and backs the CLI: status, per-daemon start/stop/restart, log
// tailing, and shutdown. The control protocol (service "Control") runs on
// each supervised daemon's own socket and carries the liveness pings and
// cooperative exit requests the watchdog issues.
//
// Ping outcomes are classified for the caller: a missed deadline surfaces
// as ErrPingTimeout while connection-level failures surface as a
// *ChannelError, so supervision code can distinguish a slow daemon from a
// dead socket.
package ipc
