// Package executor runs the sandbox binary, either directly as a child
// process (§4.5) or by dialing a resident daemon socket (§4.6).
package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// RC is the sandbox executor's return code, as named in §4.5.
type RC int

const (
	RCOk RC = iota
	RCError
	RCTimeout
	RCKilled
	RCOverflow
)

const readChunk = 4096

// Result is what a one-shot run produces.
type Result struct {
	RC     RC
	Stdout []byte
	Stderr []byte
}

// Options configures a one-shot run.
type Options struct {
	ManifestPath  string
	PreValidated  bool
	Timeout       time.Duration // manifest.Timeout + 1s, per spec
	KillGrace     time.Duration // default 1s
	MaxStdout     int
	MaxStderr     int
	CommandPath   string // path to the sandbox binary, from the manifest's Program
}

// RunOneShot spawns the sandbox binary with the manifest path (and the
// pre-validated flag appended if set) as its final argument(s),
// enforcing output-size and wall-clock limits with a TERM -> grace ->
// KILL escalation. The manifest file is unlinked on every exit path.
func RunOneShot(ctx context.Context, opt Options) (Result, error) {
	defer os.Remove(opt.ManifestPath)

	args := []string{opt.ManifestPath}
	if opt.PreValidated {
		args = append(args, "1")
	}

	cmd := exec.CommandContext(ctx, opt.CommandPath, args...)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, errors.Wrap(err, "stdout pipe")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, errors.Wrap(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return Result{}, errors.Wrap(err, "start sandbox")
	}

	var (
		mu             sync.Mutex
		stdout, stderr bytes.Buffer
		overflow       bool
	)

	pump := func(r interface{ Read([]byte) (int, error) }, buf *bytes.Buffer, max int) func() error {
		return func() error {
			chunk := make([]byte, readChunk)
			for {
				n, err := r.Read(chunk)
				if n > 0 {
					mu.Lock()
					buf.Write(chunk[:n])
					if buf.Len() > max {
						overflow = true
					}
					mu.Unlock()
				}
				if overflow {
					return errOverflow
				}
				if err != nil {
					if err.Error() == "EOF" {
						return nil
					}
					return err
				}
			}
		}
	}

	var g errgroup.Group
	g.Go(pump(stdoutPipe, &stdout, opt.MaxStdout))
	g.Go(pump(stderrPipe, &stderr, opt.MaxStderr))

	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	grace := opt.KillGrace
	if grace <= 0 {
		grace = time.Second
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var rc RC
	select {
	case pumpErr := <-done:
		if pumpErr == errOverflow {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return result(RCOverflow, &mu, &stdout, &stderr), nil
		}
		state, werr := waitState(cmd)
		_ = werr
		rc = exitRC(state)
		return result(rc, &mu, &stdout, &stderr), nil

	case <-timer.C:
		_ = cmd.Process.Signal(timeoutSignal())
		select {
		case pumpErr := <-done:
			if pumpErr == errOverflow {
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
				return result(RCOverflow, &mu, &stdout, &stderr), nil
			}
			_, _ = waitState(cmd)
			return result(RCTimeout, &mu, &stdout, &stderr), nil
		case <-time.After(grace):
			_ = cmd.Process.Kill()
			<-done
			_, _ = waitState(cmd)
			return result(RCKilled, &mu, &stdout, &stderr), nil
		}
	}
}

var errOverflow = errors.New("executor: output overflow")

func result(rc RC, mu *sync.Mutex, stdout, stderr *bytes.Buffer) Result {
	mu.Lock()
	defer mu.Unlock()
	return Result{RC: rc, Stdout: append([]byte(nil), stdout.Bytes()...), Stderr: append([]byte(nil), stderr.Bytes()...)}
}

func waitState(cmd *exec.Cmd) (*os.ProcessState, error) {
	err := cmd.Wait()
	return cmd.ProcessState, err
}

func exitRC(state *os.ProcessState) RC {
	if state == nil {
		return RCError
	}
	if state.Success() {
		return RCOk
	}
	return RCError
}
