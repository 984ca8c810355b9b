//go:build linux || darwin || freebsd || netbsd || openbsd

package chat

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linechat/internal/errors"
	"linechat/internal/metrics"
	"linechat/util"
)

const waitFor = 2 * time.Second

type harness struct {
	srv     *Server
	metrics *metrics.Collector
	cancel  context.CancelFunc
	done    chan error
}

func startServer(t *testing.T, cfg Config) *harness {
	t.Helper()
	cfg.Host = "127.0.0.1"
	if cfg.Welcome == "" {
		cfg.Welcome = DefaultWelcome
	}

	m := metrics.New()
	srv, err := New(cfg, util.NopLogger(), m)
	require.NoError(t, err)
	require.NoError(t, srv.Listen(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{srv: srv, metrics: m, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- srv.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitFor):
			t.Error("server did not stop")
		}
	})
	return h
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(waitFor):
		t.Fatal("server did not stop")
		return nil
	}
}

type client struct {
	conn net.Conn
	r    *bufio.Reader
}

// join connects and consumes the welcome line, so the server has
// registered the connection when it returns.
func (h *harness) join(t *testing.T) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(h.srv.Port()), waitFor)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &client{conn: conn, r: bufio.NewReader(conn)}
	assert.Equal(t, DefaultWelcome, c.readLine(t))
	return c
}

func (c *client) send(t *testing.T, s string) {
	t.Helper()
	_, err := io.WriteString(c.conn, s)
	require.NoError(t, err)
}

func (c *client) readLine(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func (c *client) expectSilence(t *testing.T) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err := c.r.ReadByte()
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "expected no data, got %v", err)
}

func (c *client) expectEOF(t *testing.T) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := c.r.ReadByte()
	require.Error(t, err)
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "expected close, got timeout")
}

func TestServer_Listen(t *testing.T) {
	srv, err := New(Config{Host: "127.0.0.1"}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, srv.Addr())
	assert.Zero(t, srv.Port())

	require.NoError(t, srv.Listen(context.Background()))
	assert.Positive(t, srv.Port())
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(srv.Port()), srv.Addr())
	assert.ErrorIs(t, srv.Listen(context.Background()), errors.ErrAlreadyListening)

	srv.Shutdown()
	require.NoError(t, srv.Serve())
}

func TestServer_ServeBeforeListen(t *testing.T) {
	srv, err := New(Config{}, nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, srv.Serve(), errors.ErrNotListening)
}

func TestServer_ListenPortInUse(t *testing.T) {
	h := startServer(t, Config{})

	srv, err := New(Config{Host: "127.0.0.1", Port: h.srv.Port()}, nil, nil)
	require.NoError(t, err)
	err = srv.Listen(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsBindFailure(err))
}

func TestServer_Broadcast(t *testing.T) {
	h := startServer(t, Config{})
	a := h.join(t)
	b := h.join(t)
	c := h.join(t)

	a.send(t, "hello\n")
	assert.Equal(t, "127.0.0.1: hello\n", b.readLine(t))
	assert.Equal(t, "127.0.0.1: hello\n", c.readLine(t))
	a.expectSilence(t)
}

func TestServer_PartialLines(t *testing.T) {
	h := startServer(t, Config{})
	a := h.join(t)
	b := h.join(t)

	a.send(t, "hi")
	b.expectSilence(t)
	a.send(t, " there\r\n")
	assert.Equal(t, "127.0.0.1: hi there\n", b.readLine(t))

	a.send(t, "one\ntwo\n\n")
	assert.Equal(t, "127.0.0.1: one\n", b.readLine(t))
	assert.Equal(t, "127.0.0.1: two\n", b.readLine(t))
	assert.Equal(t, "127.0.0.1: \n", b.readLine(t))
}

func TestServer_UnterminatedLineDiscardedOnClose(t *testing.T) {
	h := startServer(t, Config{})
	a := h.join(t)
	b := h.join(t)
	c := h.join(t)

	a.send(t, "ab")
	require.NoError(t, a.conn.Close())
	assert.Eventually(t, func() bool { return h.srv.Clients() == 2 }, waitFor, 10*time.Millisecond)

	c.send(t, "next\n")
	assert.Equal(t, "127.0.0.1: next\n", b.readLine(t))
}

func TestServer_ClosedClientNotDelivered(t *testing.T) {
	h := startServer(t, Config{})
	a := h.join(t)
	b := h.join(t)
	c := h.join(t)
	require.Equal(t, 3, h.srv.Clients())

	require.NoError(t, b.conn.Close())
	assert.Eventually(t, func() bool { return h.srv.Clients() == 2 }, waitFor, 10*time.Millisecond)

	a.send(t, "still here\n")
	assert.Equal(t, "127.0.0.1: still here\n", c.readLine(t))
	assert.Equal(t, int64(3), h.metrics.TotalConnections())
	assert.Equal(t, int64(2), h.metrics.ActiveConnections())
}

func TestServer_LineTooLong(t *testing.T) {
	h := startServer(t, Config{LineCapacity: 64})
	a := h.join(t)
	b := h.join(t)

	a.send(t, strings.Repeat("x", 200)+"\n")
	assert.Equal(t, LineTooLongError, a.readLine(t))
	b.expectSilence(t)

	a.send(t, "ok\n")
	assert.Equal(t, "127.0.0.1: ok\n", b.readLine(t))
	assert.Equal(t, int64(1), h.metrics.Overflows())
}

func TestServer_IncludeOrigin(t *testing.T) {
	h := startServer(t, Config{IncludeOrigin: true})
	a := h.join(t)
	b := h.join(t)

	a.send(t, "echo\n")
	assert.Equal(t, "127.0.0.1: echo\n", a.readLine(t))
	assert.Equal(t, "127.0.0.1: echo\n", b.readLine(t))
}

func TestServer_LabelWithPort(t *testing.T) {
	h := startServer(t, Config{LabelWithPort: true})
	a := h.join(t)
	b := h.join(t)

	a.send(t, "hello\n")
	want := a.conn.LocalAddr().String() + ": hello\n"
	assert.Equal(t, want, b.readLine(t))
}

func TestServer_SoleClient(t *testing.T) {
	h := startServer(t, Config{})
	a := h.join(t)

	a.send(t, "anyone?\n")
	a.expectSilence(t)
	assert.Eventually(t, func() bool { return h.metrics.LinesBroadcast() == 1 }, waitFor, 10*time.Millisecond)
	assert.Zero(t, h.metrics.Deliveries())
}

func TestServer_ShutdownIdle(t *testing.T) {
	h := startServer(t, Config{})
	require.Equal(t, StateRunning, h.srv.State())

	start := time.Now()
	require.NoError(t, h.stop(t))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateStopped, h.srv.State())

	_, err := net.DialTimeout("tcp", h.srv.Addr(), 200*time.Millisecond)
	assert.Error(t, err, "listener must be closed")
}

func TestServer_ShutdownClosesClients(t *testing.T) {
	h := startServer(t, Config{})
	a := h.join(t)
	b := h.join(t)

	require.NoError(t, h.stop(t))
	a.expectEOF(t)
	b.expectEOF(t)
	assert.Zero(t, h.srv.Clients())
	assert.Zero(t, h.metrics.ActiveConnections())
}

func TestServer_ShutdownTwice(t *testing.T) {
	h := startServer(t, Config{})
	h.srv.Shutdown()
	h.srv.Shutdown()
	require.NoError(t, h.stop(t))
	h.srv.Shutdown()
	assert.ErrorIs(t, h.srv.Serve(), errors.ErrServerClosed)
}

// failingPoller passes through to the real poller until broken is set,
// then turns the next completed wait into a poll(2) failure.
type failingPoller struct {
	multiplexer
	broken atomic.Bool
}

func (p *failingPoller) Wait() ([]int, error) {
	ready, err := p.multiplexer.Wait()
	if err != nil || !p.broken.Load() {
		return ready, err
	}
	return nil, errors.Wrap("poll", "3 fds", syscall.EINVAL)
}

func TestServer_MultiplexerFailure(t *testing.T) {
	m := metrics.New()
	srv, err := New(Config{Host: "127.0.0.1", Welcome: DefaultWelcome}, util.NopLogger(), m)
	require.NoError(t, err)
	require.NoError(t, srv.Listen(context.Background()))

	fp := &failingPoller{multiplexer: srv.poller}
	srv.poller = fp
	srv.table.reg = fp

	h := &harness{srv: srv, metrics: m, cancel: func() {}, done: make(chan error, 1)}
	go func() { h.done <- srv.Serve() }()

	a := h.join(t)
	b := h.join(t)

	fp.broken.Store(true)
	a.send(t, "wake\n")

	select {
	case err := <-h.done:
		require.Error(t, err)
		assert.ErrorIs(t, err, syscall.EINVAL)
	case <-time.After(waitFor):
		t.Fatal("server did not stop after a multiplexer failure")
	}

	assert.Equal(t, StateStopped, srv.State())
	assert.Zero(t, srv.Clients())
	assert.Equal(t, int64(1), m.ErrorCount())
	a.expectEOF(t)
	b.expectEOF(t)
}

func TestServer_AcceptFailureWarningLimited(t *testing.T) {
	var buf bytes.Buffer
	logger := util.NewLoggerWith(int(util.LogNormal), util.LogOptions{Output: &buf})
	m := metrics.New()
	srv, err := New(Config{}, logger, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.notifier.Close() })

	emfile := errors.Wrap("accept", "127.0.0.1:5555", syscall.EMFILE)
	for i := 0; i < 5; i++ {
		srv.acceptFailed(emfile)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "accept:"))
	assert.Equal(t, int64(5), m.ErrorCount())

	// Once the interval has passed the next failure is reported with the
	// running count.
	srv.lastAcceptWarn = time.Now().Add(-2 * acceptWarnEvery)
	srv.acceptFailed(emfile)
	assert.Equal(t, 2, strings.Count(buf.String(), "accept:"))
	assert.Contains(t, buf.String(), "(6 failures)")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(9).String())
}
