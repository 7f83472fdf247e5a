// Package zvmapi holds the small set of wire-level constants a client,
// another storage node, or an operator tool needs to talk to this
// execution core: the request/response header and query-parameter
// names of §6 and §4.8.
package zvmapi

// Request headers understood by the execute route.
const (
	HeaderExecute   = "x-zerovm-execute"
	HeaderDaemon    = "x-zerovm-daemon"
	HeaderPool      = "x-zerovm-pool"
	HeaderValid     = "x-zerovm-valid"
	HeaderValidate  = "x-zerovm-validate"
	HeaderTimestamp = "x-timestamp"
	HeaderTransID   = "x-trans-id"
)

// ValidQuery is the query-string form of HeaderValid used by the GET
// pre-validation check.
const ValidQuery = "x-zerovm-valid"

// ContentTypeNexe is the content-type that, on PUT/POST, also selects
// the validation-mode route.
const ContentTypeNexe = "application/x-nexe"

// ContentTypeResponseTar is the content-type of a successful execute
// response body.
const ContentTypeResponseTar = "application/x-gtar"

// Response headers.
const (
	HeaderValidResult    = "X-Zerovm-Valid"
	HeaderNexeValidation = "x-nexe-validation"
	HeaderNexeRetcode    = "x-nexe-retcode"
	HeaderNexeEtag       = "x-nexe-etag"
	HeaderNexeCDRLine    = "x-nexe-cdr-line"
	HeaderNexeStatus     = "x-nexe-status"
)
