//go:build linux

package workerpool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NicenessSupported reports whether Renice can change thread priority.
func NicenessSupported() bool { return true }

// Renice adds adj to the nice value of the calling OS thread. The caller must
// have locked its goroutine to the thread.
func Renice(adj int) error {
	if adj == 0 {
		return nil
	}

	tid := unix.Gettid()
	// The raw syscall returns 20 - nice.
	prio, err := unix.Getpriority(unix.PRIO_PROCESS, tid)
	if err != nil {
		return fmt.Errorf("getpriority: %w", err)
	}
	nice := clampNice(20 - prio + adj)
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, nice); err != nil {
		return fmt.Errorf("setpriority %d: %w", nice, err)
	}
	return nil
}
