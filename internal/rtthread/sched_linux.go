//go:build linux
// +build linux

package rtthread

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setRealtime applies SCHED_FIFO at the given priority to the calling thread.
func setRealtime(priority int) error {
	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		return fmt.Errorf("sched_setattr(SCHED_FIFO, %d): %w", priority, err)
	}
	return nil
}
