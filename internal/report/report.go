// Package report parses the sandbox's five-line execution report and
// builds the response headers/body described in §4.8.
package report

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/zvm/zvmcore/pkg/zvmapi"
)

// Tuple is the parsed five (or six, in daemon mode) line report.
type Tuple struct {
	Validator    int
	RC           int
	Etag         string
	CDRLine      string
	Status       string
	DaemonStatus int  // only meaningful when HasDaemonStatus
	HasDaemonStatus bool
}

// ErrExecutionError marks a report that failed §4.8's rc<=1 and
// exactly-five-segments gate.
var ErrExecutionError = errors.New("execution error")

// Parse splits raw sandbox stdout into its five fixed segments,
// truncating on the first four '\n' (so the fifth/status segment may
// itself contain embedded newlines, collapsed to spaces). A sixth,
// leading "daemon status" integer is recognized when present, per the
// ReportTuple data model (daemon mode only).
func Parse(raw []byte) (Tuple, error) {
	segs := splitN(string(raw), 5)
	if len(segs) != 5 {
		return Tuple{}, errors.Wrapf(ErrExecutionError, "report has %d segments, want 5", len(segs))
	}

	validator, err := strconv.Atoi(strings.TrimSpace(segs[0]))
	if err != nil {
		return Tuple{}, errors.Wrap(ErrExecutionError, "non-integer validator")
	}
	rc, err := strconv.Atoi(strings.TrimSpace(segs[1]))
	if err != nil {
		return Tuple{}, errors.Wrap(ErrExecutionError, "non-integer retcode")
	}

	status := collapseNewlines(segs[4])
	t := Tuple{
		Validator: validator,
		RC:        rc,
		Etag:      strings.TrimSpace(segs[2]),
		CDRLine:   strings.TrimSpace(segs[3]),
		Status:    strings.TrimSpace(status),
	}

	// Daemon mode: an optional sixth value (daemon status) precedes the
	// status line, so segs[4] is actually "<daemonStatus> <status...>".
	if ds, rest, ok := cutLeadingInt(status); ok {
		t.DaemonStatus = ds
		t.HasDaemonStatus = true
		t.Status = strings.TrimSpace(collapseNewlines(rest))
	}

	if rc > 1 {
		return t, errors.Wrapf(ErrExecutionError, "rc=%d", rc)
	}
	return t, nil
}

// splitN splits s on '\n' into at most n segments, the way
// str.split("\n", n-1) does in the source language: the first n-1
// separators are honored, everything after the last one stays
// together in the final segment.
func splitN(s string, n int) []string {
	segs := make([]string, 0, n)
	for i := 0; i < n-1; i++ {
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			segs = append(segs, s)
			return segs
		}
		segs = append(segs, s[:idx])
		s = s[idx+1:]
	}
	segs = append(segs, s)
	return segs
}

func collapseNewlines(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' {
			return ' '
		}
		return r
	}, s)
}

// cutLeadingInt recognizes a leading "<int> " token used by the
// optional daemon-status value.
func cutLeadingInt(s string) (int, string, bool) {
	s = strings.TrimLeft(s, " ")
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return 0, s, false
	}
	if s[i] != ' ' {
		return 0, s, false
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s, false
	}
	return n, s[i+1:], true
}

// Headers projects a Tuple into the x-nexe-* response headers of §4.8.
func (t Tuple) Headers() map[string]string {
	return map[string]string{
		zvmapi.HeaderNexeValidation: strconv.Itoa(t.Validator),
		zvmapi.HeaderNexeRetcode:    strconv.Itoa(t.RC),
		zvmapi.HeaderNexeEtag:       t.Etag,
		zvmapi.HeaderNexeCDRLine:    t.CDRLine,
		zvmapi.HeaderNexeStatus:     t.Status,
	}
}

// DefaultHeaders are the headers §7 requires when the sandbox never
// ran at all.
func DefaultHeaders() map[string]string {
	return map[string]string{
		zvmapi.HeaderNexeStatus:  "Zerovm did not run",
		zvmapi.HeaderNexeRetcode: "0",
	}
}
