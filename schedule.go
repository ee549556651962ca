package daq

import (
	"fmt"
	"runtime"
	"unsafe"

	sysctl "github.com/lorenzosaino/go-sysctl"
	"golang.org/x/sys/unix"
)

// schedFIFO is the Linux real-time FIFO scheduling policy.
const schedFIFO = 1

type schedParam struct {
	Priority int32
}

// EnableRealtime elevates the calling thread to SCHED_FIFO at the maximum
// priority and pins it to its current CPU. This shrinks scheduling latency
// between DMA interrupts and our polls; it changes nothing about the
// correctness of the acquisition, which is why callers treat a failure here
// as a warning rather than fatal.
func EnableRealtime() error {
	// The kernel throttles real-time tasks via sched_rt_runtime_us; a value
	// of 0 means SCHED_FIFO tasks never run, which would hang the loop.
	if v, err := sysctl.Get("kernel.sched_rt_runtime_us"); err == nil && v == "0" {
		return fmt.Errorf("kernel.sched_rt_runtime_us is 0: real-time tasks would never be scheduled")
	}

	runtime.LockOSThread()

	maxprio, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MAX, schedFIFO, 0, 0)
	if errno != 0 {
		return fmt.Errorf("sched_get_priority_max: %w", errno)
	}
	param := schedParam{Priority: int32(maxprio)}
	if _, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, schedFIFO,
		uintptr(unsafe.Pointer(&param))); errno != 0 {
		return fmt.Errorf("sched_setscheduler(SCHED_FIFO, %d): %w", param.Priority, errno)
	}

	var cpu uint32
	if _, _, errno := unix.Syscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), 0, 0); errno != 0 {
		return fmt.Errorf("getcpu: %w", errno)
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(int(cpu))
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("pinning to CPU %d: %w", cpu, err)
	}
	return nil
}
