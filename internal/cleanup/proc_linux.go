//go:build linux

package cleanup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ProcEnumerator implements SocketEnumerator by walking every live
// process's fd table under /proc/<pid>/fd/*, whose entries resolve via
// readlink to "socket:[<inode>]" for an open socket fd.
type ProcEnumerator struct{}

func (ProcEnumerator) Inode(path string) (uint64, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return 0, err
	}
	return st.Ino, nil
}

func (ProcEnumerator) EnumerateSocketHolders(inode uint64) ([]int, error) {
	want := fmt.Sprintf("socket:[%d]", inode)

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	var holders []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		fdDir := fmt.Sprintf("/proc/%d/fd", pid)
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue // process exited or is unreadable; not a holder
		}
		for _, fd := range fds {
			target, err := os.Readlink(fdDir + "/" + fd.Name())
			if err != nil {
				continue
			}
			if target == want {
				holders = append(holders, pid)
				break
			}
		}
	}
	return holders, nil
}

func (ProcEnumerator) CommandName(pid int) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (ProcEnumerator) Kill(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		if err == unix.ESRCH {
			return ErrProcessGone
		}
		return err
	}
	return nil
}
