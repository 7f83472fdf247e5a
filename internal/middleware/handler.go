// Package middleware wires the execution-core packages into the
// storage-node HTTP surface of §6: admission, staging, invocation,
// response assembly, finalize, and the validation-mode routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/apex/log"

	"github.com/zvm/zvmcore/internal/config"
	"github.com/zvm/zvmcore/internal/objectstore"
	"github.com/zvm/zvmcore/internal/pool"
	"github.com/zvm/zvmcore/pkg/zvmapi"
)

// Handler serves the three routes of §6's HTTP surface on top of a
// configured node: the execute path, the validation-mode path, and the
// pre-validation check.
type Handler struct {
	Config *config.File
	Pools  *pool.Registry
	Store  objectstore.Store
	Log    log.Interface
}

// New builds a Handler, defaulting Log to apex/log's package logger
// the way the teacher's daemon subcommands do when no logger is
// injected.
func New(cfg *config.File, pools *pool.Registry, store objectstore.Store) *Handler {
	return &Handler{Config: cfg, Pools: pools, Store: store, Log: log.Log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	acct, cont, obj, ok := parseObjectPath(r.URL.Path)
	if !ok {
		http.Error(w, "malformed object path", http.StatusBadRequest)
		return
	}
	targetURL := ""
	if cont != "" && obj != "" {
		targetURL = "swift://" + acct + "/" + cont + "/" + obj
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Query().Has(zvmapi.ValidQuery):
		h.handleValidCheck(w, r, targetURL)
	case isValidationRequest(r):
		h.handleValidate(w, r, targetURL)
	case r.Header.Get(zvmapi.HeaderExecute) == "1":
		h.handleExecute(w, r, targetURL)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func isValidationRequest(r *http.Request) bool {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		return false
	}
	base, _, _ := strings.Cut(r.Header.Get("Content-Type"), ";")
	if strings.TrimSpace(base) == zvmapi.ContentTypeNexe {
		return true
	}
	return r.Header.Get(zvmapi.HeaderValidate) != ""
}

// parseObjectPath splits "/<device>/<partition>/<account>[/<container>/<object>]"
// into its account/container/object components. device and partition
// are accepted but not otherwise interpreted by this core.
func parseObjectPath(p string) (account, container, object string, ok bool) {
	p = strings.TrimPrefix(p, "/")
	parts := strings.SplitN(p, "/", 5)
	switch len(parts) {
	case 3:
		return parts[2], "", "", true
	case 5:
		return parts[2], parts[3], parts[4], true
	default:
		return "", "", "", false
	}
}
