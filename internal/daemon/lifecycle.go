package daemon

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zvm/zvmcore/internal/executor"
	"github.com/zvm/zvmcore/internal/manifest"
)

// runResult is what a lifecycle run produces once the child exits.
type runResult struct {
	RC     executor.RC
	Stdout []byte
}

// run spawns the sandbox binary named by m.Program with manifestPath as
// its argument, accumulating stdout by line. Every time a further
// multiple-of-five lines has arrived, onGroup is called with the most
// recent complete group of five — and only that group, which means a
// burst crossing a multiple-of-five boundary can skip earlier complete
// groups. This preserves the spec's named (and intentionally kept,
// per its Open Questions) integer-division accumulator behavior rather
// than "fixing" it to flush every group.
func run(ctx context.Context, m *manifest.Manifest, manifestPath string, killGrace time.Duration, onGroup func([]byte)) (runResult, error) {
	timeout := time.Duration(m.Timeout+1) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout+killGrace+time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, m.Program, manifestPath)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return runResult{}, errors.Wrap(err, "stdout pipe")
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return runResult{}, errors.Wrap(err, "start daemon nexe")
	}

	var (
		mu      sync.Mutex
		all     bytes.Buffer
		lines   []string
		flushed int
	)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		sc := bufio.NewScanner(stdoutPipe)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			mu.Lock()
			all.WriteString(sc.Text())
			all.WriteByte('\n')
			lines = append(lines, sc.Text())
			groups := len(lines) / 5
			if groups > flushed {
				flushed = groups
				start := (groups - 1) * 5
				group := append([]byte(nil), []byte(joinLines(lines[start:start+5]))...)
				mu.Unlock()
				onGroup(group)
				continue
			}
			mu.Unlock()
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var rc executor.RC
	select {
	case err := <-waitErr:
		<-readDone
		rc = rcFromErr(err)
	case <-timer.C:
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case err := <-waitErr:
			<-readDone
			_ = err
			rc = executor.RCTimeout
		case <-time.After(killGrace):
			_ = cmd.Process.Kill()
			<-waitErr
			<-readDone
			rc = executor.RCKilled
		}
	}

	mu.Lock()
	out := append([]byte(nil), all.Bytes()...)
	mu.Unlock()

	return runResult{RC: rc, Stdout: out}, nil
}

func rcFromErr(err error) executor.RC {
	if err == nil {
		return executor.RCOk
	}
	return executor.RCError
}

func joinLines(lines []string) string {
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// writeManifestTemp writes manifest text to a fresh temp file under
// dir, returning its path.
func writeManifestTemp(dir string, body []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "manifest-"+uuid.NewString())
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
