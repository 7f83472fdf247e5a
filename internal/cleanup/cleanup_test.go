package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

type fakeEnum struct {
	inode   uint64
	holders []int
	names   map[int]string
	killed  []int
}

func (f *fakeEnum) Inode(path string) (uint64, error) { return f.inode, nil }
func (f *fakeEnum) EnumerateSocketHolders(inode uint64) ([]int, error) {
	return f.holders, nil
}
func (f *fakeEnum) CommandName(pid int) (string, error) { return f.names[pid], nil }
func (f *fakeEnum) Kill(pid int) error {
	f.killed = append(f.killed, pid)
	return nil
}

func TestStaleKillsMatchingHolderAndUnlinks(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "d.sock")
	assert.NilError(t, os.WriteFile(sock, []byte(""), 0o600))

	enum := &fakeEnum{
		inode:   42,
		holders: []int{100, 200},
		names:   map[int]string{100: "bash", 200: "zerovm.daemon"},
	}

	err := Stale(context.Background(), sock, enum)
	assert.NilError(t, err)
	assert.DeepEqual(t, enum.killed, []int{200})

	_, err = os.Stat(sock)
	assert.Assert(t, os.IsNotExist(err))
}

func TestStaleMissingSocketIsNoop(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "gone.sock")
	enum := &fakeEnum{}
	enum.Inode(sock)

	err := Stale(context.Background(), sock, &missingEnum{})
	assert.NilError(t, err)
}

type missingEnum struct{}

func (missingEnum) Inode(path string) (uint64, error)                { return 0, os.ErrNotExist }
func (missingEnum) EnumerateSocketHolders(inode uint64) ([]int, error) { return nil, nil }
func (missingEnum) CommandName(pid int) (string, error)               { return "", nil }
func (missingEnum) Kill(pid int) error                                { return nil }
