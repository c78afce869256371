// Package fdsan closes file descriptors inherited from the launching
// environment.
//
// The watchdog is typically spawned by init systems, login shells, or the
// warden CLI itself, any of which may leak descriptors into the child.
// Sanitizing them before the first listener socket is created keeps stray
// pipes and sockets from being inherited by supervised daemons and from
// colliding with descriptors the runtime hands out later.
package fdsan
