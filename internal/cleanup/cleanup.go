// Package cleanup implements the daemon-cleanup path of §4.10: when a
// daemon socket file exists but refuses a connection, find whatever
// process still holds it open and kill it, then unlink the socket.
package cleanup

import (
	"context"
	"errors"
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/apex/log"
)

// processNameMarker is the command-name substring that identifies a
// zerovm daemon process among the holders of a socket inode.
const processNameMarker = "zerovm.daemon"

// SocketEnumerator correlates a Unix-socket inode number with the pids
// of processes currently holding a file descriptor open on it. It is a
// capability interface so non-Linux builds can supply a stub instead
// of reading /proc.
type SocketEnumerator interface {
	// Inode returns the inode number backing the Unix-socket file at
	// path.
	Inode(path string) (uint64, error)

	// EnumerateSocketHolders returns the pids of every process with an
	// open file descriptor on the socket identified by inode.
	EnumerateSocketHolders(inode uint64) ([]int, error)

	// CommandName returns the short command name of pid (as found in
	// /proc/<pid>/comm on Linux), for filtering candidates down to
	// daemon processes.
	CommandName(pid int) (string, error)

	// Kill sends SIGKILL to pid. ErrProcessGone indicates pid had
	// already exited, which Stale treats as success.
	Kill(pid int) error
}

// ErrProcessGone is returned by SocketEnumerator.Kill when the target
// pid no longer exists.
var ErrProcessGone = errors.New("process already exited")

// Stale kills any live process matching processNameMarker that still
// holds socketPath open, then unlinks it. Callers invoke Stale only
// after a dial attempt against socketPath has already been refused.
func Stale(ctx context.Context, socketPath string, enum SocketEnumerator) error {
	inode, err := enum.Inode(socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return pkgerrors.Wrap(err, "stat stale socket")
	}

	pids, err := enum.EnumerateSocketHolders(inode)
	if err != nil {
		return pkgerrors.Wrap(err, "enumerate socket holders")
	}

	for _, pid := range pids {
		name, err := enum.CommandName(pid)
		if err != nil {
			log.WithError(err).WithField("pid", pid).Warn("cleanup: could not read command name")
			continue
		}
		if !containsMarker(name) {
			continue
		}
		if err := enum.Kill(pid); err != nil && !errors.Is(err, ErrProcessGone) {
			log.WithError(err).WithField("pid", pid).Warn("cleanup: kill failed")
		}
	}

	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrap(err, "unlink stale socket")
	}
	return nil
}

func containsMarker(name string) bool {
	for i := 0; i+len(processNameMarker) <= len(name); i++ {
		if name[i:i+len(processNameMarker)] == processNameMarker {
			return true
		}
	}
	return false
}
