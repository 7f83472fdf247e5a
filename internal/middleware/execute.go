package middleware

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/zvm/zvmcore/internal/apierror"
	"github.com/zvm/zvmcore/internal/config"
	"github.com/zvm/zvmcore/internal/executor"
	"github.com/zvm/zvmcore/internal/manifest"
	"github.com/zvm/zvmcore/internal/report"
	"github.com/zvm/zvmcore/internal/staging"
	"github.com/zvm/zvmcore/internal/sysmap"
	"github.com/zvm/zvmcore/internal/tarstream"
	"github.com/zvm/zvmcore/pkg/zvmapi"
)

// handleExecute implements §6's main execution route: admission,
// streaming untar, staging, manifest generation, invocation (one-shot
// or resident-daemon), response assembly, and finalize.
func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request, targetURL string) {
	poolName := r.Header.Get(zvmapi.HeaderPool)
	p := h.Pools.Get(poolName)

	// Admission test #1, on arrival: fail fast before staging.
	if !p.CanAdmit() {
		writeErr(w, apierror.New(apierror.KindSlotUnavailable, "no slot available"))
		return
	}

	scratchDir := filepath.Join(os.TempDir(), "zvm-"+uuid.NewString())
	if err := os.MkdirAll(scratchDir, 0o700); err != nil {
		writeErr(w, err)
		return
	}
	defer os.RemoveAll(scratchDir)

	ctx := r.Context()
	uploadTimeout := time.Duration(h.Config.MaxUploadSeconds) * time.Second
	ingested, err := tarstream.Ingest(ctx, r.Body, r.Header.Get("Content-Type"), r.ContentLength, scratchDir, h.Config.MaxInput, uploadTimeout)
	if err != nil {
		writeErr(w, err)
		return
	}
	if ingested.SysmapJSON == nil {
		writeErr(w, apierror.New(apierror.KindBadRequest, "missing sysmap tar member"))
		return
	}

	sysMap, err := sysmap.Parse(ingested.SysmapJSON)
	if err != nil {
		writeErr(w, err)
		return
	}

	ts := r.Header.Get(zvmapi.HeaderTimestamp)
	preValidated := r.Header.Get(zvmapi.HeaderValid) == "true"

	stageResult, err := staging.Stage(sysMap, ingested.Members, staging.Inputs{
		ScratchDir:      scratchDir,
		TargetURL:       targetURL,
		Timestamp:       ts,
		SysImageDevices: h.Config.SysImageDeviceMap(),
		ExeName:         h.Config.ExeName,
		MaxWBytes:       h.Config.MaxOutput,
		Preallocate:     preallocate(h.Config.DisableFallocate),
		Open:            h.Store.Open,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if stageResult.BootFromImage {
		preValidated = true
	}

	m := buildManifest(h.Config, sysMap, stageResult)
	mpath := filepath.Join(scratchDir, "manifest")
	mf, err := os.Create(mpath)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := m.Encode(mf); err != nil {
		mf.Close()
		writeErr(w, err)
		return
	}
	mf.Close()
	manifestBytes, err := os.ReadFile(mpath)
	if err != nil {
		writeErr(w, err)
		return
	}

	// Admission test #2, immediately before spawn: the saturating
	// window during tar ingest may have grown.
	release, err := p.Admit(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer release()

	timeout := time.Duration(m.Timeout+1) * time.Second
	killGrace := time.Duration(h.Config.KillTimeout) * time.Second

	var (
		res        executor.Result
		daemonName string
	)
	if daemonName = r.Header.Get(zvmapi.HeaderDaemon); daemonName != "" {
		res, err = h.runViaDaemon(ctx, daemonName, manifestBytes, m, mpath, stageResult, timeout, killGrace)
	} else {
		res, err = executor.RunOneShot(ctx, executor.Options{
			ManifestPath: mpath,
			PreValidated: preValidated,
			CommandPath:  stageResult.Boot,
			Timeout:      timeout,
			KillGrace:    killGrace,
			MaxStdout:    int(h.Config.MaxStdout),
			MaxStderr:    int(h.Config.MaxStderr),
		})
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	if res.RC > executor.RCError {
		writeExecResultErr(w, res)
		return
	}

	tuple, err := report.Parse(res.Stdout)
	if err != nil {
		apierror.Write(w, apierror.WithBody(apierror.KindExecutionError, err.Error(), res.Stdout))
		return
	}

	if daemonName != "" {
		w.Header().Set(zvmapi.HeaderDaemon, daemonName)
	}
	h.writeResponse(w, sysMap, stageResult, tuple, targetURL, ts)
}

// buildManifest translates the staged SystemMap into the manifest the
// sandbox binary will read, per §3's Manifest data model.
func buildManifest(cfg *config.File, sysMap *sysmap.SystemMap, stageResult *staging.Result) *manifest.Manifest {
	m := &manifest.Manifest{
		Version:  cfg.ManifestVersion,
		Program:  stageResult.Boot,
		Timeout:  cfg.Timeout,
		MemoryMB: cfg.MaxNexeMem,
	}
	for _, c := range sysMap.Channels {
		etagFlag := 0
		if c.Access.Has(sysmap.Writable) {
			etagFlag = 1
		}
		m.Channels = append(m.Channels, manifest.ChannelLine{
			LPath:   c.LPath,
			DevPath: "/dev/" + c.Device,
			Access:  int(c.Access),
			Etag:    etagFlag,
			Limits: manifest.ChannelLimits{
				Reads:  int64(cfg.MaxIOPS),
				Writes: int64(cfg.MaxIOPS),
				RBytes: cfg.MaxInput,
				WBytes: cfg.MaxOutput,
			},
		})
	}
	return m
}

// preallocate returns the Preallocate func staging.Inputs needs: a
// fixed-size file creation, optionally skipping fallocate per the
// disable_fallocate directive.
func preallocate(disableFallocate bool) func(path string, size int64) error {
	return func(path string, size int64) error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		if disableFallocate || size <= 0 {
			return nil
		}
		return f.Truncate(size)
	}
}

// writeExecResultErr reports every return code above Error — Timeout,
// Killed, Overflow — as an ExecutionError: the sandbox's rc is > 1 in
// all of these cases, and §7 gives them a single response mapping.
// OK and Error (rc <= 1) go on to report parsing instead.
func writeExecResultErr(w http.ResponseWriter, res executor.Result) {
	apierror.Write(w, apierror.WithBody(apierror.KindExecutionError, "sandbox execution failed", res.Stdout))
}
