package executor

import (
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zvm/zvmcore/internal/codec"
)

// ErrDaemonAbsent is returned when the resident daemon socket cannot
// be dialed, so the caller can fall into the restart-once branch of
// §4.6.
var ErrDaemonAbsent = errors.New("daemon socket absent")

// DaemonResult is what a resident-daemon RUN exchange produces.
type DaemonResult struct {
	RC     RC
	Report []byte
}

// DialAndSend implements the connect-and-send half of §4.6: dial the
// Unix socket named by socketName under socketsDir and issue a RUN
// command (§4.7) carrying the manifest text, whose reply is
// `<job> <node> <rc>\n<stdout>`. The <stdout> portion is the sandbox
// report this middleware then parses as usual.
//
// Note: the 8-byte report framing of §4.1 (codec.ReadReport/
// WriteReport) is not used on this connection: the request is
// keyword-framed and the reply is the raw bytes the server writes
// before it closes the connection.
func DialAndSend(socketsDir, socketName string, manifest []byte, timeout time.Duration) (DaemonResult, error) {
	path := filepath.Join(socketsDir, socketName)
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return DaemonResult{}, ErrDaemonAbsent
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := codec.WriteFrame(conn, "RUN", manifest); err != nil {
		return DaemonResult{}, errors.Wrap(err, "send manifest")
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	body, err := io.ReadAll(conn)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return DaemonResult{RC: RCTimeout}, nil
		}
		return DaemonResult{}, errors.Wrap(err, "read RUN reply")
	}
	return parseRunReply(body)
}

func parseRunReply(body []byte) (DaemonResult, error) {
	line, rest, _ := strings.Cut(string(body), "\n")
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return DaemonResult{}, errors.Errorf("malformed RUN reply header %q", line)
	}
	rc, err := strconv.Atoi(fields[2])
	if err != nil {
		return DaemonResult{}, errors.Wrapf(err, "RUN reply rc %q", fields[2])
	}
	result := RCOk
	if rc > 0 {
		result = RCError
	}
	return DaemonResult{RC: result, Report: []byte(rest)}, nil
}
