package middleware

import (
	"net/http"
	"os"
	"strconv"

	"github.com/apex/log"

	"github.com/zvm/zvmcore/internal/finalize"
	"github.com/zvm/zvmcore/internal/report"
	"github.com/zvm/zvmcore/internal/staging"
	"github.com/zvm/zvmcore/internal/sysmap"
	"github.com/zvm/zvmcore/internal/tarstream"
	"github.com/zvm/zvmcore/pkg/zvmapi"
)

// writeResponse assembles and streams the response tar per §4.8, then
// finalizes the one local writable channel (if any) per §4.9. Finalize
// runs after the response has already been streamed, matching the
// request-path data flow; a finalize failure is logged only, since the
// response status line is already committed.
func (h *Handler) writeResponse(w http.ResponseWriter, sysMap *sysmap.SystemMap, stageResult *staging.Result, tuple report.Tuple, targetURL, timestamp string) {
	members := make([]tarstream.ResponseMember, 0, len(stageResult.Response))
	cgiHeaders := map[string]string{}

	for _, rc := range stageResult.Response {
		path := rc.Channel.LPath
		size := rc.Channel.Size
		if size == 0 {
			if fi, err := os.Stat(path); err == nil {
				size = fi.Size()
			}
		}
		if rc.Channel.IsCGI() {
			pre, err := finalize.ParseCGIPreamble(path)
			if err == nil {
				stripped, strippedSize, serr := finalize.StripPreamble(path, pre.Offset)
				if serr == nil {
					path = stripped
					size = strippedSize
					if rc.IsLocal {
						rc.Channel.Offset = pre.Offset
						for k, v := range pre.Headers {
							cgiHeaders[k] = v
						}
					}
				}
			}
		}
		members = append(members, tarstream.ResponseMember{
			Name: rc.Channel.Device,
			Path: path,
			Size: size,
		})
	}

	sysmapOut, err := sysMap.Marshal()
	if err != nil {
		writeErr(w, err)
		return
	}

	for k, v := range tuple.Headers() {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", zvmapi.ContentTypeResponseTar)
	w.Header().Set("Content-Length", strconv.FormatInt(tarstream.Size(sysmapOut, members), 10))
	w.WriteHeader(http.StatusOK)

	if err := tarstream.Build(w, sysmapOut, members); err != nil {
		log.WithError(err).Error("stream response tar")
	}
	for _, m := range members {
		if stageResult.LocalWritable != nil && m.Path == stageResult.LocalWritable.Spec.LPath {
			continue // published by Finalize below
		}
		os.Remove(m.Path)
	}

	if stageResult.LocalWritable != nil {
		_, err := finalize.Finalize(finalize.Request{
			Channel:    stageResult.LocalWritable.Spec,
			Handle:     stageResult.LocalWritable.Handle,
			Store:      h.Store,
			URL:        targetURL,
			Timestamp:  timestamp,
			Report:     tuple,
			CGIHeaders: cgiHeaders,
		})
		if err != nil {
			log.WithError(err).Error("finalize local writable channel")
		}
	}
}
