package link

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/firemen2709/sds200-scanner-dashboard/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice is a loopback scanner that answers each \r-terminated command
// through reply. A reply of "" sends nothing; "CLOSE" drops the connection.
type fakeDevice struct {
	listener net.Listener
	received chan string
	reply    func(cmd string) string
}

func newFakeDevice(t *testing.T, reply func(cmd string) string) *fakeDevice {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &fakeDevice{
		listener: listener,
		received: make(chan string, 16),
		reply:    reply,
	}
	go d.serve()
	t.Cleanup(func() { listener.Close() })
	return d
}

func (d *fakeDevice) serve() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

func (d *fakeDevice) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\r')
		if err != nil {
			return
		}
		d.received <- line
		switch resp := d.reply(strings.TrimSuffix(line, "\r")); resp {
		case "":
		case "CLOSE":
			return
		default:
			conn.Write([]byte(resp))
		}
	}
}

func (d *fakeDevice) config(timeout time.Duration) config.ScannerConfig {
	addr := d.listener.Addr().(*net.TCPAddr)
	return config.ScannerConfig{
		Host:       "127.0.0.1",
		Port:       addr.Port,
		Timeout:    timeout,
		BufferSize: 4096,
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func echoDevice(cmd string) string {
	switch cmd {
	case "MDL":
		return "MDL,SDS200\r"
	case "VER":
		return "VER,1.02.00\r"
	case "STS":
		return "STS,462.5500,45,FM,12,3\r\n"
	case "SLOW":
		return ""
	case "DROP":
		return "CLOSE"
	case "BIN":
		return "\xff\xfe\r"
	}
	return "ERR\r"
}

func TestLink_ConnectAndSend(t *testing.T) {
	device := newFakeDevice(t, echoDevice)
	l := NewLink(device.config(time.Second), quietLogger())

	require.NoError(t, l.Connect(context.Background()))
	assert.True(t, l.Connected())
	assert.NoError(t, l.LastError())

	resp, err := l.SendCommand("MDL")
	require.NoError(t, err)
	assert.Equal(t, "MDL,SDS200", resp)
	assert.Equal(t, "MDL\r", <-device.received)

	// terminator is not doubled
	resp, err = l.SendCommand("STS\r")
	require.NoError(t, err)
	assert.Equal(t, "STS,462.5500,45,FM,12,3", resp)
	assert.Equal(t, "STS\r", <-device.received)

	l.Disconnect()
}

func TestLink_ConnectFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	l := NewLink(config.ScannerConfig{Host: "127.0.0.1", Port: port, Timeout: time.Second}, quietLogger())
	err = l.Connect(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionFailed))
	assert.Contains(t, err.Error(), strconv.Itoa(port))
	assert.False(t, l.Connected())
	assert.Equal(t, err, l.LastError())
}

func TestLink_DisconnectIdempotent(t *testing.T) {
	device := newFakeDevice(t, echoDevice)
	l := NewLink(device.config(time.Second), quietLogger())

	// never connected
	assert.NotPanics(t, l.Disconnect)
	assert.False(t, l.Connected())

	require.NoError(t, l.Connect(context.Background()))
	l.Disconnect()
	assert.False(t, l.Connected())
	l.Disconnect()
	assert.False(t, l.Connected())
}

func TestLink_TimeoutKeepsConnection(t *testing.T) {
	device := newFakeDevice(t, echoDevice)
	l := NewLink(device.config(100*time.Millisecond), quietLogger())
	require.NoError(t, l.Connect(context.Background()))
	defer l.Disconnect()

	_, err := l.SendCommand("SLOW")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, "timeout", KindName(err))
	assert.True(t, l.Connected())

	resp, err := l.SendCommand("VER")
	require.NoError(t, err)
	assert.Equal(t, "VER,1.02.00", resp)
}

func TestLink_IOErrorTearsDown(t *testing.T) {
	device := newFakeDevice(t, echoDevice)
	l := NewLink(device.config(time.Second), quietLogger())
	require.NoError(t, l.Connect(context.Background()))

	_, err := l.SendCommand("DROP")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
	assert.False(t, l.Connected())
	assert.Equal(t, err, l.LastError())

	// further commands fail fast until reconnected
	_, err = l.SendCommand("MDL")
	assert.True(t, errors.Is(err, ErrIO))

	require.NoError(t, l.Connect(context.Background()))
	resp, err := l.SendCommand("MDL")
	require.NoError(t, err)
	assert.Equal(t, "MDL,SDS200", resp)
	l.Disconnect()
}

func TestLink_InvalidTextIsIOError(t *testing.T) {
	device := newFakeDevice(t, echoDevice)
	l := NewLink(device.config(time.Second), quietLogger())
	require.NoError(t, l.Connect(context.Background()))

	_, err := l.SendCommand("BIN")
	assert.True(t, errors.Is(err, ErrIO))
	assert.False(t, l.Connected())
}

// deadlineConn refuses to arm the selected deadline.
type deadlineConn struct {
	net.Conn
	failWrite bool
	failRead  bool
}

func (c *deadlineConn) SetWriteDeadline(t time.Time) error {
	if c.failWrite {
		return errors.New("deadline not supported")
	}
	return c.Conn.SetWriteDeadline(t)
}

func (c *deadlineConn) SetReadDeadline(t time.Time) error {
	if c.failRead {
		return errors.New("deadline not supported")
	}
	return c.Conn.SetReadDeadline(t)
}

func TestLink_DeadlineFailureIsIOError(t *testing.T) {
	tests := []struct {
		name      string
		failWrite bool
		failRead  bool
		op        string
	}{
		{name: "write deadline", failWrite: true, op: "send"},
		{name: "read deadline", failRead: true, op: "receive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := newFakeDevice(t, echoDevice)
			l := NewLink(device.config(time.Second), quietLogger())
			require.NoError(t, l.Connect(context.Background()))
			l.conn = &deadlineConn{Conn: l.conn, failWrite: tt.failWrite, failRead: tt.failRead}

			_, err := l.SendCommand("MDL")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrIO))
			var linkErr *Error
			require.True(t, errors.As(err, &linkErr))
			assert.Equal(t, tt.op, linkErr.Op)
			assert.False(t, l.Connected())
		})
	}
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "connection_failed", KindName(&Error{Kind: ErrConnectionFailed}))
	assert.Equal(t, "io", KindName(&Error{Kind: ErrIO}))
	assert.Equal(t, "unknown", KindName(errors.New("boom")))
}
