package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"warden/internal/config"
)

// maxSocketPath is the longest unix socket path the kernel accepts. sun_path
// on Linux is 108 bytes including the trailing NUL.
const maxSocketPath = 107

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSocketPaths verifies that every control socket derived from the
// runtime directory fits the kernel's unix socket path limit. A deep runtime
// directory fails bind(2) with an unhelpful EINVAL, so this surfaces the
// problem with the offending path attached.
func CheckSocketPaths(cfg *config.Config) Result {
	const name = "Socket paths"

	longest := cfg.SocketPath()
	for daemon, d := range cfg.Daemons {
		if !d.IsEnabled() {
			continue
		}
		if path := cfg.DaemonSocketPath(daemon); len(path) > len(longest) {
			longest = path
		}
	}
	if len(longest) > maxSocketPath {
		return Result{
			Name:   name,
			Detail: fmt.Sprintf("%s exceeds the %d byte unix socket path limit", longest, maxSocketPath),
		}
	}
	return Result{Name: name, Passed: true, Detail: "within unix socket path limits"}
}
