package middleware

import (
	"crypto/md5" //nolint:gosec // content hash, not a security primitive
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/zvm/zvmcore/internal/apierror"
	"github.com/zvm/zvmcore/internal/validate"
	"github.com/zvm/zvmcore/pkg/zvmapi"
)

// handleValidCheck implements the `GET ?x-zerovm-valid` pre-validation
// check: report whether the stored object's Validated tag still
// matches its current ETag.
func (h *Handler) handleValidCheck(w http.ResponseWriter, r *http.Request, targetURL string) {
	if targetURL == "" {
		writeErr(w, apierror.New(apierror.KindBadRequest, "no object in path"))
		return
	}
	handle, err := h.Store.Open(targetURL, "")
	if err != nil {
		writeErr(w, err)
		return
	}
	meta, _, err := handle.Stat()
	if err != nil {
		writeErr(w, err)
		return
	}
	if validate.IsValidated(meta) {
		w.Header().Set(zvmapi.HeaderValidResult, "true")
	} else {
		w.Header().Set(zvmapi.HeaderValidResult, "false")
	}
	w.WriteHeader(http.StatusOK)
}

// handleValidate implements the `PUT|POST content-type: application/x-nexe`
// (or `x-zerovm-validate`) route: store the uploaded nexe as the
// target object, then run the sandbox validator over it and record the
// validation tag.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request, targetURL string) {
	if targetURL == "" {
		writeErr(w, apierror.New(apierror.KindBadRequest, "no object in path"))
		return
	}
	ts := r.Header.Get(zvmapi.HeaderTimestamp)
	if ts == "" {
		writeErr(w, apierror.New(apierror.KindBadRequest, "x-timestamp required"))
		return
	}

	scratchDir := filepath.Join(os.TempDir(), "zvm-validate-"+uuid.NewString())
	if err := os.MkdirAll(scratchDir, 0o700); err != nil {
		writeErr(w, err)
		return
	}
	defer os.RemoveAll(scratchDir)

	nexePath := filepath.Join(scratchDir, "nexe")
	f, err := os.OpenFile(nexePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		writeErr(w, err)
		return
	}
	hsh := md5.New()
	n, err := io.Copy(io.MultiWriter(f, hsh), io.LimitReader(r.Body, h.Config.MaxNexe+1))
	f.Close()
	if err != nil {
		writeErr(w, err)
		return
	}
	if n > h.Config.MaxNexe {
		writeErr(w, apierror.New(apierror.KindRequestTooLarge, "nexe exceeds zerovm_maxnexe"))
		return
	}

	meta := map[string]string{
		"Content-Type": zvmapi.ContentTypeNexe,
		"X-Timestamp":  ts,
		"ETag":         hex.EncodeToString(hsh.Sum(nil)),
	}
	if err := h.Store.Publish(targetURL, nexePath, meta); err != nil {
		writeErr(w, err)
		return
	}

	handle, err := h.Store.Open(targetURL, "")
	if err != nil {
		writeErr(w, err)
		return
	}

	timeout := time.Duration(h.Config.Timeout) * time.Second
	rc, err := validate.Run(r.Context(), h.Store, handle, targetURL, scratchDir, timeout)
	if err != nil {
		writeErr(w, err)
		return
	}
	if rc != 0 {
		writeErr(w, apierror.New(apierror.KindExecutionError, "validation run failed"))
		return
	}
	w.WriteHeader(http.StatusOK)
}
