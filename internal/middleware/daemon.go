package middleware

import (
	"context"
	"os"
	"path/filepath"
	"time"

	stderrors "errors"

	"github.com/zvm/zvmcore/internal/apierror"
	"github.com/zvm/zvmcore/internal/executor"
	"github.com/zvm/zvmcore/internal/manifest"
	"github.com/zvm/zvmcore/internal/report"
	"github.com/zvm/zvmcore/internal/staging"
)

// runViaDaemon implements §4.6's resident-daemon dispatch, including
// the connect-failure fallback: spawn the daemon nexe one-shot (from
// the configured "daemon" system image), confirm it reports itself
// ready, then re-send the real manifest over the now-live socket.
func (h *Handler) runViaDaemon(ctx context.Context, socketName string, manifestBytes []byte, m *manifest.Manifest, mpath string, stageResult *staging.Result, timeout, killGrace time.Duration) (executor.Result, error) {
	dr, err := executor.DialAndSend(h.Config.SocketsDir, socketName, manifestBytes, timeout)
	if err == nil {
		return executor.Result{RC: dr.RC, Stdout: dr.Report}, nil
	}
	if !stderrors.Is(err, executor.ErrDaemonAbsent) {
		return executor.Result{}, err
	}

	daemonImg, ok := h.Config.SysImageDeviceMap()["daemon"]
	if !ok {
		return executor.Result{}, apierror.New(apierror.KindInternalError, "daemon socket absent and no daemon system image configured")
	}

	startManifest := *m
	startManifest.Program = daemonImg
	startManifest.Job = filepath.Join(h.Config.SocketsDir, socketName)

	startPath := filepath.Join(filepath.Dir(mpath), "manifest-daemon-start")
	sf, err := os.Create(startPath)
	if err != nil {
		return executor.Result{}, err
	}
	if err := startManifest.Encode(sf); err != nil {
		sf.Close()
		return executor.Result{}, err
	}
	sf.Close()

	res, err := executor.RunOneShot(ctx, executor.Options{
		ManifestPath: startPath,
		CommandPath:  daemonImg,
		Timeout:      timeout,
		KillGrace:    killGrace,
		MaxStdout:    int(h.Config.MaxStdout),
		MaxStderr:    int(h.Config.MaxStderr),
	})
	if err != nil {
		return executor.Result{}, err
	}
	if res.RC != executor.RCOk {
		return res, nil
	}

	tuple, err := report.Parse(res.Stdout)
	if err != nil || !tuple.HasDaemonStatus || tuple.DaemonStatus != 1 {
		return executor.Result{}, apierror.WithBody(apierror.KindInternalError, "daemon failed to start", res.Stdout)
	}

	dr2, err := executor.DialAndSend(h.Config.SocketsDir, socketName, manifestBytes, timeout)
	if err != nil {
		return executor.Result{}, err
	}
	return executor.Result{RC: dr2.RC, Stdout: dr2.Report}, nil
}
