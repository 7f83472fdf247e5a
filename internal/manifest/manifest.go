// Package manifest encodes and decodes the ASCII "Key = value" manifest
// file the sandbox binary reads at startup.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ChannelLimits bounds one channel's IO, mirrored into the manifest's
// `Channel =` tuple as `reads, writes, rbytes, wbytes`.
type ChannelLimits struct {
	Reads  int64
	Writes int64
	RBytes int64
	WBytes int64
}

// ChannelLine is one `Channel = ...` manifest entry.
type ChannelLine struct {
	LPath   string
	DevPath string
	Access  int
	Etag    int // etag-flag: 1 if this channel's etag must be (re)computed
	Limits  ChannelLimits
}

// Manifest is the in-memory form of the generated manifest file.
type Manifest struct {
	Version    string
	Program    string
	Timeout    int
	MemoryMB   int64 // serialized as "Memory = <bytes>, 0"
	Channels   []ChannelLine
	Job        string
	Node       string
	NameServer string
}

// Encode writes the manifest in its fixed ASCII line format.
func (m *Manifest) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Version = %s\n", m.Version)
	fmt.Fprintf(bw, "Program = %s\n", m.Program)
	fmt.Fprintf(bw, "Timeout = %d\n", m.Timeout)
	fmt.Fprintf(bw, "Memory = %d, 0\n", m.MemoryMB)
	for _, c := range m.Channels {
		fmt.Fprintf(bw, "Channel = %s, %s, %d, %d, %d, %d, %d, %d\n",
			c.LPath, c.DevPath, c.Access, c.Etag,
			c.Limits.Reads, c.Limits.Writes, c.Limits.RBytes, c.Limits.WBytes)
	}
	if m.NameServer != "" {
		fmt.Fprintf(bw, "NameServer = %s\n", m.NameServer)
	}
	if m.Job != "" {
		fmt.Fprintf(bw, "Job = %s\n", m.Job)
	}
	if m.Node != "" {
		fmt.Fprintf(bw, "Node = %s\n", m.Node)
	}
	return bw.Flush()
}

// Decode parses a manifest file. It is tolerant of optional whitespace
// around `=` and case-insensitive attribute names, per spec.
func Decode(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		switch key {
		case "version":
			m.Version = val
		case "program":
			m.Program = val
		case "timeout":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, errors.Wrap(err, "Timeout")
			}
			m.Timeout = n
		case "memory":
			mb, _, _ := strings.Cut(val, ",")
			n, err := strconv.ParseInt(strings.TrimSpace(mb), 10, 64)
			if err != nil {
				return nil, errors.Wrap(err, "Memory")
			}
			m.MemoryMB = n
		case "channel":
			cl, err := parseChannelLine(val)
			if err != nil {
				return nil, errors.Wrap(err, "Channel")
			}
			m.Channels = append(m.Channels, cl)
		case "job":
			m.Job = val
		case "node":
			m.Node = val
		case "nameserver":
			m.NameServer = val
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseChannelLine(val string) (ChannelLine, error) {
	parts := strings.Split(val, ",")
	if len(parts) != 8 {
		return ChannelLine{}, errors.Errorf("expected 8 fields, got %d", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	access, err := strconv.Atoi(parts[2])
	if err != nil {
		return ChannelLine{}, err
	}
	etag, err := strconv.Atoi(parts[3])
	if err != nil {
		return ChannelLine{}, err
	}
	ints := make([]int64, 4)
	for i, s := range parts[4:8] {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return ChannelLine{}, err
		}
		ints[i] = n
	}
	return ChannelLine{
		LPath:   parts[0],
		DevPath: parts[1],
		Access:  access,
		Etag:    etag,
		Limits: ChannelLimits{
			Reads: ints[0], Writes: ints[1], RBytes: ints[2], WBytes: ints[3],
		},
	}, nil
}

// Selector extracts Job/Node attribute lines directly from manifest
// text without a full Decode, for the daemon's STOP/PAUSE/STATUS
// command dispatch which must tolerate a manifest body it otherwise
// ignores.
type Selector struct {
	Job  string
	Node string
}

func ParseSelector(body []byte) Selector {
	var s Selector
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "job":
			s.Job = strings.TrimSpace(val)
		case "node":
			s.Node = strings.TrimSpace(val)
		}
	}
	return s
}
