package executor

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestDialAndSendAbsentSocket(t *testing.T) {
	_, err := DialAndSend(t.TempDir(), "nope.sock", []byte("Version = 1\n"), time.Second)
	assert.Equal(t, err, ErrDaemonAbsent)
}

func TestDialAndSendRunReply(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "d1")
	ln, err := net.Listen("unix", sockPath)
	assert.NilError(t, err)
	defer ln.Close()
	defer os.Remove(sockPath)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reply := []byte("job1 node1 0\n0\n0\n/dev/stdout abc\n0 0 0 0 0 0 0 0 0 0\nok\n")
		_, _ = conn.Write(reply)
	}()

	res, err := DialAndSend(dir, "d1", []byte("Job = job1\nNode = node1\n"), 2*time.Second)
	assert.NilError(t, err)
	assert.Equal(t, res.RC, RCOk)
	assert.Assert(t, len(res.Report) > 0)
}
