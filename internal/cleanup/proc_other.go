//go:build !linux

package cleanup

import "errors"

// ProcEnumerator is unavailable outside Linux: there is no portable
// fd-table-to-inode correlation, so every method reports an error and
// Stale callers on these platforms should skip the cleanup path.
type ProcEnumerator struct{}

var errUnsupported = errors.New("cleanup: /proc socket correlation is Linux-only")

func (ProcEnumerator) Inode(path string) (uint64, error) { return 0, errUnsupported }

func (ProcEnumerator) EnumerateSocketHolders(inode uint64) ([]int, error) {
	return nil, errUnsupported
}

func (ProcEnumerator) CommandName(pid int) (string, error) { return "", errUnsupported }

func (ProcEnumerator) Kill(pid int) error { return errUnsupported }
