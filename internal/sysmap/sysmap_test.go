package sysmap

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseAndMarshalRoundTrip(t *testing.T) {
	raw := []byte(`{
		"name": "job1",
		"exe": "swift://acct/cont/boot",
		"replicate": 1,
		"channels": [
			{"device": "stdin", "path": "", "access": 1, "content_type": "text/plain"},
			{"device": "stdout", "path": "", "access": 2, "content_type": "message/http"}
		],
		"node_timeout": 30
	}`)
	m, err := Parse(raw)
	assert.NilError(t, err)
	assert.Equal(t, m.Name, "job1")
	assert.Equal(t, len(m.Channels), 2)
	assert.Equal(t, m.Channels[1].IsCGI(), true)
	_, ok := m.Extra["node_timeout"]
	assert.Equal(t, ok, true)

	out, err := m.Marshal()
	assert.NilError(t, err)
	m2, err := Parse(out)
	assert.NilError(t, err)
	assert.Equal(t, m2.Name, m.Name)
	assert.Equal(t, len(m2.Channels), len(m.Channels))
}

func TestChannelByDevice(t *testing.T) {
	m := &SystemMap{Channels: []*ChannelSpec{{Device: "stdout"}}}
	assert.Assert(t, m.ChannelByDevice("stdout") != nil)
	assert.Assert(t, m.ChannelByDevice("stderr") == nil)
}

func TestLocalObjectChannel(t *testing.T) {
	url := "swift://a/c/o"
	m := &SystemMap{Channels: []*ChannelSpec{{Device: "stdout", Path: url}}}
	c := m.LocalObjectChannel(url)
	assert.Assert(t, c != nil)
	assert.Equal(t, c.Device, "stdout")
}
