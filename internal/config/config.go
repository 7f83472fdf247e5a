// Package config loads the zerovm_* node configuration using a
// directive-tagged struct, the same reflection-driven pattern the
// storage-node config file uses for its own "key = value" directives.
package config

import (
	"bufio"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
)

// File is the parsed node configuration. Every field is backed by a
// `directive:"..."` struct tag naming its zerovm_* key; unset fields
// take the `default:"..."` tag value.
type File struct {
	ExeName          string `default:"boot" directive:"zerovm_exename"`
	KillTimeout      int    `default:"1" directive:"zerovm_kill_timeout"`
	MaxNexe          int64  `default:"5M" directive:"zerovm_maxnexe"`
	Timeout          int    `default:"30" directive:"zerovm_timeout"`
	MaxNexeMem       int64  `default:"4294967296" directive:"zerovm_maxnexemem"`
	MaxIOPS          int    `default:"1024" directive:"zerovm_maxiops"`
	MaxInput         int64  `default:"1G" directive:"zerovm_maxinput"`
	MaxOutput        int64  `default:"1G" directive:"zerovm_maxoutput"`
	ManifestVersion  string `default:"20130611" directive:"zerovm_manifest_ver"`
	Debug            bool   `default:"no" directive:"zerovm_debug"`
	Perf             bool   `default:"no" directive:"zerovm_perf"`
	SysImageDevices  string `directive:"zerovm_sysimage_devices"`
	ThreadPools      string `default:"default 4 8" directive:"zerovm_threadpools"`
	DisableFallocate bool   `default:"no" directive:"disable_fallocate"`
	MaxStdout        int64  `default:"64K" directive:"zerovm_maxstdout"`
	MaxStderr        int64  `default:"64K" directive:"zerovm_maxstderr"`
	MaxUploadSeconds int    `default:"120" directive:"zerovm_max_upload_time"`
	SocketsDir       string `default:"/tmp/zvm-sockets" directive:"zerovm_sockets_dir"`
	StatsDir         string `default:"/tmp/zvm-stats" directive:"zerovm_stats_dir"`
}

// SysImageDeviceMap parses the space-separated `name path name path …`
// zerovm_sysimage_devices directive into a lookup map.
func (f *File) SysImageDeviceMap() map[string]string {
	fields := strings.Fields(f.SysImageDevices)
	m := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		m[fields[i]] = fields[i+1]
	}
	return m
}

// PoolSpec is one entry of the zerovm_threadpools directive.
type PoolSpec struct {
	Name  string
	Size  int
	Queue int
}

// Pools parses the space-separated `name size queue name size queue …`
// zerovm_threadpools directive.
func (f *File) Pools() ([]PoolSpec, error) {
	fields := strings.Fields(f.ThreadPools)
	if len(fields)%3 != 0 {
		return nil, errors.Errorf("zerovm_threadpools: malformed directive %q", f.ThreadPools)
	}
	specs := make([]PoolSpec, 0, len(fields)/3)
	haveDefault := false
	for i := 0; i < len(fields); i += 3 {
		size, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return nil, errors.Wrapf(err, "zerovm_threadpools: pool %q size", fields[i])
		}
		queue, err := strconv.Atoi(fields[i+2])
		if err != nil {
			return nil, errors.Wrapf(err, "zerovm_threadpools: pool %q queue", fields[i])
		}
		if fields[i] == "default" {
			haveDefault = true
		}
		specs = append(specs, PoolSpec{Name: fields[i], Size: size, Queue: queue})
	}
	if !haveDefault {
		return nil, errors.New(`zerovm_threadpools: pool "default" must exist`)
	}
	return specs, nil
}

// Load parses a config file at path into a new File, applying defaults
// for any directive not present.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*File, error) {
	cfg := &File{}
	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}

	directives := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		directives[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	rv := reflect.ValueOf(cfg).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("directive")
		if tag == "" {
			continue
		}
		val, ok := directives[strings.ToLower(tag)]
		if !ok {
			continue
		}
		if err := setField(rv.Field(i), val); err != nil {
			return nil, errors.Wrapf(err, "directive %q", tag)
		}
	}
	return cfg, nil
}

func applyDefaults(cfg *File) error {
	rv := reflect.ValueOf(cfg).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		def, ok := rt.Field(i).Tag.Lookup("default")
		if !ok {
			continue
		}
		if err := setField(rv.Field(i), def); err != nil {
			return errors.Wrapf(err, "default for %q", rt.Field(i).Name)
		}
	}
	return nil
}

func setField(fv reflect.Value, val string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(val)
	case reflect.Bool:
		fv.SetBool(val == "yes" || val == "true")
	case reflect.Int, reflect.Int32:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Int64:
		n, err := units.RAMInBytes(val)
		if err != nil {
			n, err = strconv.ParseInt(val, 10, 64)
			if err != nil {
				return err
			}
		}
		fv.SetInt(n)
	default:
		return errors.Errorf("unsupported config field kind %s", fv.Kind())
	}
	return nil
}
