// Package sysmap holds the SystemMap job description consumed from the
// inbound "sysmap" tar member, and the ChannelSpec entries it carries.
package sysmap

import (
	"archive/tar"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Access is the bitset of channel access flags.
type Access int

const (
	Readable Access = 1 << iota
	Writable
	CDR
	Network
	Random
)

func (a Access) Has(f Access) bool { return a&f != 0 }

// ChannelSpec is one entry of SystemMap.Channels, plus the fields
// derived during staging.
type ChannelSpec struct {
	Device      string `json:"device"`
	Path        string `json:"path,omitempty"`
	Access      Access `json:"access"`
	ContentType string `json:"content_type,omitempty"`

	// Derived during staging; not part of the wire JSON.
	LPath  string     `json:"-"`
	Size   int64      `json:"-"`
	Meta   map[string]string `json:"-"`
	Offset int64      `json:"-"`
	Info   *tar.Header `json:"-"`
}

// IsCGI reports whether the channel's content-type means the sandbox's
// output begins with an HTTP/CGI preamble that must be stripped.
func (c *ChannelSpec) IsCGI() bool {
	return strings.HasPrefix(c.ContentType, "message/http") ||
		strings.HasPrefix(c.ContentType, "message/cgi")
}

// SystemMap is the parsed job description for this node.
type SystemMap struct {
	Name      string        `json:"name"`
	Exe       string        `json:"exe"`
	Channels  []*ChannelSpec `json:"channels"`
	Replicate int           `json:"replicate"`
	Replicas  []string      `json:"replicas,omitempty"`

	// Extra preserves any free-form fields so re-serialization round
	// trips fields this node does not interpret.
	Extra map[string]json.RawMessage `json:"-"`
}

// Parse decodes raw JSON sysmap bytes.
func Parse(raw []byte) (*SystemMap, error) {
	var known struct {
		Name      string          `json:"name"`
		Exe       string          `json:"exe"`
		Channels  []*ChannelSpec  `json:"channels"`
		Replicate int             `json:"replicate"`
		Replicas  []string        `json:"replicas"`
	}
	if err := json.Unmarshal(raw, &known); err != nil {
		return nil, errors.Wrap(err, "parse sysmap json")
	}
	var extra map[string]json.RawMessage
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil, errors.Wrap(err, "parse sysmap json (extra fields)")
	}
	for _, k := range []string{"name", "exe", "channels", "replicate", "replicas"} {
		delete(extra, k)
	}
	if known.Replicate == 0 {
		known.Replicate = 1
	}
	return &SystemMap{
		Name:      known.Name,
		Exe:       known.Exe,
		Channels:  known.Channels,
		Replicate: known.Replicate,
		Replicas:  known.Replicas,
		Extra:     extra,
	}, nil
}

// Marshal re-serializes the SystemMap, preserving any free-form fields
// captured at Parse time verbatim.
func (m *SystemMap) Marshal() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range m.Extra {
		out[k] = v
	}
	b, err := json.Marshal(m.Name)
	if err != nil {
		return nil, err
	}
	out["name"] = b
	if b, err = json.Marshal(m.Exe); err != nil {
		return nil, err
	}
	out["exe"] = b
	if b, err = json.Marshal(m.Channels); err != nil {
		return nil, err
	}
	out["channels"] = b
	if b, err = json.Marshal(m.Replicate); err != nil {
		return nil, err
	}
	out["replicate"] = b
	if len(m.Replicas) > 0 {
		if b, err = json.Marshal(m.Replicas); err != nil {
			return nil, err
		}
		out["replicas"] = b
	}
	return json.Marshal(out)
}

// ChannelByDevice returns the channel spec with the given device name.
func (m *SystemMap) ChannelByDevice(device string) *ChannelSpec {
	for _, c := range m.Channels {
		if c.Device == device {
			return c
		}
	}
	return nil
}

// LocalObjectChannel returns the at-most-one channel whose path equals
// the request's target object URL, or nil.
func (m *SystemMap) LocalObjectChannel(targetURL string) *ChannelSpec {
	if targetURL == "" {
		return nil
	}
	for _, c := range m.Channels {
		if c.Path == targetURL {
			return c
		}
	}
	return nil
}
