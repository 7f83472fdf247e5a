package codec

import (
	"bufio"
	"bytes"
	"testing"

	"gotest.tools/v3/assert"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		keyword string
		body    []byte
	}{
		{"SPAWN", []byte("Version = 1\nProgram = /bin/true\n")},
		{"STOP", []byte{}},
		{"status_2", bytes.Repeat([]byte{'x'}, 4096)},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		assert.NilError(t, WriteFrame(&buf, tt.keyword, tt.body))
		f, err := ReadFrame(bufio.NewReader(&buf))
		assert.NilError(t, err)
		assert.Equal(t, f.Keyword, tt.keyword)
		assert.DeepEqual(t, f.Body, tt.body)
	}
}

func TestFrameBadHeader(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("not a header\n"))
	_, err := ReadFrame(r)
	assert.ErrorType(t, err, func(err error) bool {
		_, ok := err.(*HeaderError)
		return ok
	})
}

func TestFrameShortBody(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("SPAWN 10\nabc"))
	_, err := ReadFrame(r)
	assert.ErrorContains(t, err, "short body read")
}

func TestReportRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("0\n0\n/dev/stdout e1b849f9631ffc1829b2e31402373e3c\n0 0 0 0 0 0 0 0 0 0\nok\n")
	assert.NilError(t, WriteReport(&buf, body))
	got, err := ReadReport(&buf, MaxReportDefault)
	assert.NilError(t, err)
	assert.DeepEqual(t, got, body)
}

func TestReportOverflow(t *testing.T) {
	var buf bytes.Buffer
	body := bytes.Repeat([]byte{'a'}, 128*1024)
	assert.NilError(t, WriteReport(&buf, body))
	_, err := ReadReport(&buf, 64*1024)
	assert.Equal(t, err, ErrReportOverflow)
}

func TestReportZeroSize(t *testing.T) {
	r := bytes.NewBufferString("0x000000")
	_, err := ReadReport(r, MaxReportDefault)
	assert.Equal(t, err, ErrReport)
}
