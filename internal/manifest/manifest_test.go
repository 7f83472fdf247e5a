package manifest

import (
	"bytes"
	"testing"

	"gotest.tools/v3/assert"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := &Manifest{
		Version:  "20130611",
		Program:  "/scratch/req1/boot",
		Timeout:  30,
		MemoryMB: 4294967296,
		Channels: []ChannelLine{
			{LPath: "/scratch/req1/stdin", DevPath: "/dev/stdin", Access: 1, Etag: 0,
				Limits: ChannelLimits{Reads: 1, Writes: 0, RBytes: 1024, WBytes: 0}},
			{LPath: "/scratch/req1/stdout", DevPath: "/dev/stdout", Access: 2, Etag: 1,
				Limits: ChannelLimits{Reads: 0, Writes: 1, RBytes: 0, WBytes: 1048576}},
		},
		Job:  "job-1",
		Node: "node-1",
	}
	var buf bytes.Buffer
	assert.NilError(t, m.Encode(&buf))

	got, err := Decode(&buf)
	assert.NilError(t, err)
	assert.Equal(t, got.Version, m.Version)
	assert.Equal(t, got.Program, m.Program)
	assert.Equal(t, got.Timeout, m.Timeout)
	assert.Equal(t, got.MemoryMB, m.MemoryMB)
	assert.Equal(t, len(got.Channels), 2)
	assert.DeepEqual(t, got.Channels[0], m.Channels[0])
	assert.Equal(t, got.Job, m.Job)
	assert.Equal(t, got.Node, m.Node)
}

func TestDecodeCaseInsensitiveWhitespace(t *testing.T) {
	doc := "VERSION=20130611\n  Program =/bin/boot \nTIMEOUT = 5\nJOB = j1\n"
	m, err := Decode(bytes.NewBufferString(doc))
	assert.NilError(t, err)
	assert.Equal(t, m.Version, "20130611")
	assert.Equal(t, m.Program, "/bin/boot")
	assert.Equal(t, m.Timeout, 5)
	assert.Equal(t, m.Job, "j1")
}

func TestParseSelector(t *testing.T) {
	s := ParseSelector([]byte("Job = abc\nNode = n1\nOther = x\n"))
	assert.Equal(t, s.Job, "abc")
	assert.Equal(t, s.Node, "n1")
}
