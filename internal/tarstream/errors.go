package tarstream

import "github.com/pkg/errors"

// Sentinel errors surfaced through internal/apierror's kind table.
var (
	ErrRequestTooLarge = errors.New("request too large")
	ErrUploadTimeout    = errors.New("upload timed out")
	ErrClientDisconnect = errors.New("client disconnected")
	ErrBadRequest       = errors.New("bad request")
)
