// Package apierror maps the error kinds of §7 to HTTP status codes and
// rendered response bodies, via github.com/sylabs/json-resp the way
// the teacher renders structured API error bodies.
package apierror

import (
	"net/http"

	jsonresp "github.com/sylabs/json-resp"
)

// Kind is one of the named error kinds of §7.
type Kind int

const (
	KindBadRequest Kind = iota
	KindRequestTooLarge
	KindRequestTimeout
	KindClientDisconnect
	KindSlotUnavailable
	KindInsufficientStorage
	KindUnprocessable
	KindExecutionError
	KindInternalError
)

var statusByKind = map[Kind]int{
	KindBadRequest:          http.StatusBadRequest,
	KindRequestTooLarge:     http.StatusRequestEntityTooLarge,
	KindRequestTimeout:      http.StatusRequestTimeout,
	KindClientDisconnect:    499,
	KindSlotUnavailable:     http.StatusServiceUnavailable,
	KindInsufficientStorage: http.StatusInsufficientStorage,
	KindUnprocessable:       http.StatusUnprocessableEntity,
	KindExecutionError:      http.StatusInternalServerError,
	KindInternalError:       http.StatusInternalServerError,
}

// Error is a kind-carrying error with an optional raw body (used by
// ExecutionError to carry the sandbox's raw stdout for debugging).
type Error struct {
	Kind    Kind
	Message string
	Body    []byte
}

func (e *Error) Error() string { return e.Message }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WithBody(kind Kind, message string, body []byte) *Error {
	return &Error{Kind: kind, Message: message, Body: body}
}

// Status returns the HTTP status code for kind.
func Status(kind Kind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Write renders e onto w: the raw body verbatim if present (the
// ExecutionError case carrying debugging stdout), or a json-resp
// structured error envelope otherwise.
func Write(w http.ResponseWriter, e *Error) {
	status := Status(e.Kind)
	if e.Body != nil {
		w.WriteHeader(status)
		_, _ = w.Write(e.Body)
		return
	}
	_ = jsonresp.WriteError(w, e.Message, status)
}
