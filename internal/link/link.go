package link

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/firemen2709/sds200-scanner-dashboard/internal/config"
	"github.com/firemen2709/sds200-scanner-dashboard/pkg/protocol"
	"github.com/sirupsen/logrus"
)

var errNotConnected = errors.New("not connected")

// Link is a request/response session with the scanner. It is owned by a
// single goroutine and is not safe for concurrent use.
type Link struct {
	addr       string
	timeout    time.Duration
	bufferSize int
	log        *logrus.Logger

	conn      net.Conn
	connected bool
	lastErr   error
}

func NewLink(cfg config.ScannerConfig, log *logrus.Logger) *Link {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = protocol.ResponseBufferSize
	}

	return &Link{
		addr:       cfg.Addr(),
		timeout:    cfg.Timeout,
		bufferSize: bufferSize,
		log:        log,
	}
}

// Connect opens the TCP session. A stale session is closed first.
func (l *Link) Connect(ctx context.Context) error {
	if l.conn != nil {
		l.Disconnect()
	}

	dialer := net.Dialer{Timeout: l.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		l.lastErr = &Error{Kind: ErrConnectionFailed, Op: "connect " + l.addr, Err: err}
		l.log.Errorf("failed to connect to scanner: %v", err)
		return l.lastErr
	}

	l.conn = conn
	l.connected = true
	l.lastErr = nil
	l.log.Infof("connected to scanner at %s", l.addr)
	return nil
}

// Disconnect closes the session if open. It is idempotent.
func (l *Link) Disconnect() {
	conn := l.conn
	l.conn = nil
	l.connected = false

	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		l.log.Warnf("error closing scanner connection: %v", err)
		return
	}
	l.log.Infof("disconnected from scanner at %s", l.addr)
}

// SendCommand writes command and returns the reply with surrounding
// whitespace trimmed. A timeout leaves the session open; any other failure
// tears it down.
func (l *Link) SendCommand(command string) (string, error) {
	if !strings.HasSuffix(command, protocol.LineTerminator) {
		command += protocol.LineTerminator
	}
	name := strings.TrimSpace(command)

	if !l.connected || l.conn == nil {
		return "", l.fail("send", name, ErrIO, errNotConnected)
	}

	if err := l.conn.SetWriteDeadline(time.Now().Add(l.timeout)); err != nil {
		return "", l.fail("send", name, ErrIO, err)
	}
	if _, err := l.conn.Write([]byte(command)); err != nil {
		if isTimeout(err) {
			return "", l.timedOut("send", name, err)
		}
		return "", l.fail("send", name, ErrIO, err)
	}

	buffer := make([]byte, l.bufferSize)
	if err := l.conn.SetReadDeadline(time.Now().Add(l.timeout)); err != nil {
		return "", l.fail("receive", name, ErrIO, err)
	}
	n, err := l.conn.Read(buffer)
	if err != nil {
		if isTimeout(err) {
			return "", l.timedOut("receive", name, err)
		}
		return "", l.fail("receive", name, ErrIO, err)
	}

	if !utf8.Valid(buffer[:n]) {
		return "", l.fail("decode", name, ErrIO, errors.New("reply is not valid text"))
	}

	response := strings.TrimSpace(string(buffer[:n]))
	l.log.Debugf("scanner %s -> %q", name, response)
	return response, nil
}

// Connected reports whether the session is open.
func (l *Link) Connected() bool {
	return l.connected
}

// LastError returns the most recent connect or I/O failure.
func (l *Link) LastError() error {
	return l.lastErr
}

func (l *Link) Addr() string {
	return l.addr
}

func (l *Link) timedOut(op, command string, err error) error {
	l.log.Warnf("scanner timeout for command %s", command)
	return &Error{Kind: ErrTimeout, Op: op, Command: command, Err: err}
}

// fail records err and tears the session down.
func (l *Link) fail(op, command string, kind, err error) error {
	linkErr := &Error{Kind: kind, Op: op, Command: command, Err: err}
	l.log.Errorf("error sending command %s: %v", command, err)
	l.lastErr = linkErr
	l.Disconnect()
	return linkErr
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
