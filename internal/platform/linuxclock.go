//go:build linux

package platform

import "golang.org/x/sys/unix"

// linuxNanos reads CLOCK_MONOTONIC in nanoseconds, scaled down by shift
// bits to produce the free-running, wrap-tolerant 32-bit counter the bit
// engine's Reached comparisons expect. Grounded on the teacher's SocketCAN
// device, which reaches into golang.org/x/sys/unix directly rather than
// the standard library for kernel-level timing/IO.
func linuxNanos(shift uint) uint32 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	ns := uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
	return uint32(ns >> shift)
}

// LinuxClock adapts the host's CLOCK_MONOTONIC to the Port.Now contract:
// free-running, wraps modulo 2^32, safe to compare only via Reached. Shift
// trades counter resolution for headroom before wraparound; callers pick
// it so that Timing.BitTime fits comfortably inside a 32-bit span at their
// target bit rate.
type LinuxClock struct {
	shift  uint
	offset uint32
}

// NewLinuxClock returns a clock whose ticks are 1<<shift nanoseconds apart.
func NewLinuxClock(shift uint) *LinuxClock {
	return &LinuxClock{shift: shift}
}

func (c *LinuxClock) Now() uint32 {
	return linuxNanos(c.shift) - c.offset
}

func (c *LinuxClock) ResetClock(offset uint32) {
	c.offset = linuxNanos(c.shift) - offset
}
