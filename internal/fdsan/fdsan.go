package fdsan

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"golang.org/x/sys/unix"
)

// fallbackMaxFD bounds the blind close sweep used when neither close_range
// nor /proc enumeration is available.
const fallbackMaxFD = 4096

// OpenDescriptors returns the open file descriptors at or above min, sorted
// ascending. The descriptor used to read /proc/self/fd is excluded.
func OpenDescriptors(min int) ([]int, error) {
	dir, err := os.Open("/proc/self/fd")
	if err != nil {
		return nil, fmt.Errorf("open /proc/self/fd: %w", err)
	}
	defer dir.Close()

	names, err := dir.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("read /proc/self/fd: %w", err)
	}

	self := int(dir.Fd())
	fds := make([]int, 0, len(names))
	for _, name := range names {
		fd, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		if fd < min || fd == self {
			continue
		}
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds, nil
}

// CloseFrom closes every open file descriptor at or above minFD and returns
// how many were closed. It prefers the close_range syscall and falls back to
// closing enumerated descriptors individually on kernels without it.
func CloseFrom(minFD int) (int, error) {
	if minFD < 0 {
		minFD = 0
	}

	fds, enumErr := OpenDescriptors(minFD)

	if err := unix.CloseRange(uint(minFD), ^uint(0), 0); err == nil {
		if enumErr != nil {
			return 0, nil
		}
		return len(fds), nil
	}

	if enumErr == nil {
		closed := 0
		for _, fd := range fds {
			if err := unix.Close(fd); err == nil {
				closed++
			}
		}
		return closed, nil
	}

	// No close_range and no /proc: sweep a bounded range the way classic
	// daemonization code does.
	closed := 0
	for fd := minFD; fd < fallbackMaxFD; fd++ {
		if err := unix.Close(fd); err == nil {
			closed++
		}
	}
	return closed, nil
}
