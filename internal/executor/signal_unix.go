//go:build !windows

package executor

import "syscall"

func timeoutSignal() syscall.Signal { return syscall.SIGTERM }
