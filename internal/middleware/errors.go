package middleware

import (
	stderrors "errors"
	"net/http"

	"github.com/pkg/errors"

	"github.com/zvm/zvmcore/internal/apierror"
	"github.com/zvm/zvmcore/internal/finalize"
	"github.com/zvm/zvmcore/internal/pool"
	"github.com/zvm/zvmcore/internal/report"
	"github.com/zvm/zvmcore/internal/tarstream"
)

// classify maps a sentinel error from any of the execution-core
// packages onto the §7 error kind it corresponds to.
func classify(err error) apierror.Kind {
	cause := errors.Cause(err)
	switch {
	case stderrors.Is(cause, tarstream.ErrBadRequest):
		return apierror.KindBadRequest
	case stderrors.Is(cause, tarstream.ErrRequestTooLarge):
		return apierror.KindRequestTooLarge
	case stderrors.Is(cause, tarstream.ErrUploadTimeout):
		return apierror.KindRequestTimeout
	case stderrors.Is(cause, tarstream.ErrClientDisconnect):
		return apierror.KindClientDisconnect
	case stderrors.Is(cause, pool.ErrSlotUnavailable):
		return apierror.KindSlotUnavailable
	case stderrors.Is(cause, finalize.ErrUnprocessable):
		return apierror.KindUnprocessable
	case stderrors.Is(cause, report.ErrExecutionError):
		return apierror.KindExecutionError
	default:
		return apierror.KindInternalError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	if ae, ok := err.(*apierror.Error); ok {
		apierror.Write(w, ae)
		return
	}
	apierror.Write(w, apierror.New(classify(err), err.Error()))
}
