package report

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseValidFiveLine(t *testing.T) {
	raw := []byte("0\n0\n/dev/stdout e1b849f9631ffc1829b2e31402373e3c\n0 0 0 0 0 0 0 0 0 0\nok\n")
	tup, err := Parse(raw)
	assert.NilError(t, err)
	assert.Equal(t, tup.Validator, 0)
	assert.Equal(t, tup.RC, 0)
	assert.Equal(t, tup.Etag, "/dev/stdout e1b849f9631ffc1829b2e31402373e3c")
	assert.Equal(t, tup.Status, "ok")
	assert.Equal(t, tup.HasDaemonStatus, false)

	h := tup.Headers()
	assert.Equal(t, h["x-nexe-retcode"], "0")
	assert.Equal(t, h["x-nexe-status"], "ok")
}

func TestParseEmbeddedNewlinesInStatus(t *testing.T) {
	raw := []byte("0\n0\netag\ncdr\nline one\nline two\n")
	tup, err := Parse(raw)
	assert.NilError(t, err)
	assert.Equal(t, tup.Status, "line one line two")
}

func TestParseDaemonStatus(t *testing.T) {
	raw := []byte("0\n0\netag\ncdr\n1 daemon ready\n")
	tup, err := Parse(raw)
	assert.NilError(t, err)
	assert.Equal(t, tup.HasDaemonStatus, true)
	assert.Equal(t, tup.DaemonStatus, 1)
	assert.Equal(t, tup.Status, "daemon ready")
}

func TestParseRejectsShortReport(t *testing.T) {
	_, err := Parse([]byte("0\n0\netag\n"))
	assert.ErrorContains(t, err, "execution error")
}

func TestParseRejectsNonIntegerValidator(t *testing.T) {
	_, err := Parse([]byte("x\n0\netag\ncdr\nstatus\n"))
	assert.ErrorContains(t, err, "execution error")
}

func TestParseRejectsRCAboveOne(t *testing.T) {
	_, err := Parse([]byte("0\n2\netag\ncdr\nstatus\n"))
	assert.ErrorContains(t, err, "execution error")
}
