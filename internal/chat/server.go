//go:build linux || darwin || freebsd || netbsd || openbsd

package chat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"linechat/internal/errors"
	"linechat/internal/metrics"
	"linechat/internal/poll"
	"linechat/util"
)

// Wire constants.
const (
	DefaultWelcome   = "Welcome!\n"
	LineTooLongError = "error: line too long\n"
)

// Config tunes a Server. Zero values take the defaults below.
type Config struct {
	Host          string // bind address; empty means every interface
	Port          int    // 0 picks an ephemeral port
	Backlog       int
	LineCapacity  int
	ReadChunk     int
	Welcome       string // sent once to each new client; "" disables
	IncludeOrigin bool   // echo lines back to their sender
	LabelWithPort bool
	// WriteTimeout is also the longest one stuck recipient stalls the loop.
	WriteTimeout time.Duration
}

const (
	defaultBacklog      = 10
	defaultReadChunk    = 4096
	defaultWriteTimeout = 2 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Backlog <= 0 {
		c.Backlog = defaultBacklog
	}
	if c.LineCapacity <= 0 {
		c.LineCapacity = DefaultLineCapacity
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = defaultReadChunk
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// State is the lifecycle of the event loop.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// multiplexer is the readiness set the loop waits on. *poll.Poller
// satisfies it.
type multiplexer interface {
	Registry
	Wait() ([]int, error)
}

// acceptWarnEvery bounds how often a persistent accept failure is logged.
const acceptWarnEvery = time.Second

// Server is the chat server. Everything except Shutdown, State, Clients
// and the address accessors belongs to the goroutine calling Serve.
type Server struct {
	cfg     Config
	log     *util.Logger
	metrics *metrics.Collector

	ln       *poll.Listener
	notifier *poll.Notifier
	poller   multiplexer
	table    *Table
	bcast    *Broadcaster
	readBuf  []byte

	lastAcceptWarn time.Time
	acceptFailures int

	state   atomic.Int32
	clients atomic.Int64
	served  atomic.Bool
}

// New creates a Server. It does not bind; call Listen.
func New(cfg Config, logger *util.Logger, m *metrics.Collector) (*Server, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = util.NopLogger()
	}

	notifier, err := poll.NewNotifier()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		log:      logger,
		metrics:  m,
		notifier: notifier,
		poller:   poll.NewPoller(),
		readBuf:  make([]byte, cfg.ReadChunk),
	}
	s.poller.Add(notifier.FD())
	s.table = NewTable(s.poller, poll.Close, s.connRemoved)
	s.bcast = NewBroadcaster(s.table, s.send, logger, m)
	return s, nil
}

// Listen resolves the bind candidates and binds the first one that works.
// Failure is an *errors.BindError.
func (s *Server) Listen(ctx context.Context) error {
	if s.ln != nil {
		return errors.ErrAlreadyListening
	}
	ips, err := util.BindCandidates(ctx, s.cfg.Host)
	if err != nil {
		return &errors.BindError{Port: s.cfg.Port, Attempts: []error{err}}
	}
	ln, err := poll.Listen(ips, s.cfg.Port, s.cfg.Backlog)
	if err != nil {
		return err
	}
	s.ln = ln
	s.poller.Add(ln.FD())
	s.log.Verbose("listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr()
}

// Port returns the bound port, or 0 before Listen.
func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Port()
}

// State returns the loop state.
func (s *Server) State() State { return State(s.state.Load()) }

// Clients returns the number of open connections.
func (s *Server) Clients() int { return int(s.clients.Load()) }

// Shutdown asks the loop to stop. It is safe from any goroutine and may
// be called more than once, including before Serve.
func (s *Server) Shutdown() {
	s.notifier.Notify()
}

// Run serves until ctx is done or Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()
	return s.Serve()
}

// Serve runs the event loop. It returns nil after a requested shutdown,
// or the multiplexer error that stopped it; either way every connection,
// the listener and the notifier are released first.
func (s *Server) Serve() error {
	if s.ln == nil {
		return errors.ErrNotListening
	}
	if !s.served.CompareAndSwap(false, true) {
		return errors.ErrServerClosed
	}

	s.setState(StateRunning)
	err := s.loop()
	s.drain()
	return err
}

func (s *Server) setState(st State) { s.state.Store(int32(st)) }

func (s *Server) loop() error {
	for {
		ready, err := s.poller.Wait()
		if err != nil {
			s.log.Error("multiplexer failure: %v", err)
			s.metrics.RecordError(err.Error())
			return err
		}
		if s.dispatch(ready) {
			return nil
		}
	}
}

// dispatch handles one batch of ready descriptors and reports whether
// shutdown was requested.
func (s *Server) dispatch(ready []int) bool {
	if lo.Contains(ready, s.notifier.FD()) {
		n := s.notifier.Drain()
		s.log.Debug("drained %d wake byte(s)", n)
		if s.notifier.Requested() {
			return true
		}
	}

	for _, fd := range ready {
		switch fd {
		case s.notifier.FD():
		case s.ln.FD():
			s.accept()
		default:
			s.service(fd)
		}
	}
	return false
}

func (s *Server) accept() {
	fd, ip, port, err := s.ln.Accept()
	if err != nil {
		if !errors.IsRetryable(err) {
			s.acceptFailed(err)
		}
		return
	}
	s.acceptFailures = 0

	c := NewConn(fd, util.PeerLabel(ip, port, s.cfg.LabelWithPort),
		util.FormatAddr(ip.String(), port), s.cfg.LineCapacity)
	s.table.Add(c)
	s.clients.Add(1)
	s.metrics.ConnectionOpened()
	s.log.With(zap.String("conn", c.ID)).Info("new connection from %s on fd %d", c.Addr, fd)

	if s.cfg.Welcome != "" {
		// Best effort: a dead client is noticed on its next read.
		if err := s.notice(fd, s.cfg.Welcome); err != nil {
			s.log.Verbose("welcome to %s: %v", c.Addr, err)
		}
	}
}

// acceptFailed records a hard accept error. The pending connection stays
// queued (EMFILE and friends), so the listener keeps waking the loop; the
// warning is emitted at most once per acceptWarnEvery.
func (s *Server) acceptFailed(err error) {
	s.metrics.RecordError(err.Error())
	s.acceptFailures++

	now := time.Now()
	if !s.lastAcceptWarn.IsZero() && now.Sub(s.lastAcceptWarn) < acceptWarnEvery {
		return
	}
	if s.acceptFailures > 1 {
		s.log.Warn("accept: %v (%d failures)", err, s.acceptFailures)
	} else {
		s.log.Warn("accept: %v", err)
	}
	s.lastAcceptWarn = now
}

func (s *Server) service(fd int) {
	c := s.table.Get(fd)
	if c == nil {
		return
	}

	n, err := poll.Read(fd, s.readBuf)
	switch {
	case err != nil && errors.IsTransient(err):
		return
	case err != nil:
		s.log.Verbose("recv from %s on fd %d: %v", c.Label, fd, err)
		s.metrics.RecordError(err.Error())
		s.table.Remove(fd)
		return
	case n == 0:
		s.table.Remove(fd)
		return
	}

	s.metrics.BytesReceived(int64(n))
	c.asm.Feed(s.readBuf[:n],
		func(line string) { s.handleLine(c, line) },
		func() { s.handleOverflow(c) })
}

func (s *Server) handleLine(c *Conn, line string) {
	if !c.Open() {
		return
	}
	s.log.Verbose("%s (fd=%d): %q", c.Label, c.FD, line)
	delivered := s.bcast.Publish(FormatLine(c.Label, line), c.FD, s.cfg.IncludeOrigin)
	s.metrics.LineBroadcast(delivered)
}

func (s *Server) handleOverflow(c *Conn) {
	if !c.Open() {
		return
	}
	s.metrics.LineOverflow()
	s.log.Verbose("line too long from %s on fd %d", c.Label, c.FD)
	if err := s.notice(c.FD, LineTooLongError); err != nil {
		s.log.Verbose("send to %s on fd %d: %v", c.Label, c.FD, err)
		s.table.Remove(c.FD)
	}
}

func (s *Server) send(fd int, p []byte) (int, error) {
	return poll.WriteAll(fd, p, s.cfg.WriteTimeout)
}

// notice sends a server-originated message to one client.
func (s *Server) notice(fd int, msg string) error {
	n, err := s.send(fd, []byte(msg))
	if n > 0 {
		s.metrics.BytesSent(int64(n))
	}
	return err
}

func (s *Server) connRemoved(c *Conn, closeErr error) {
	s.clients.Add(-1)
	s.metrics.ConnectionClosed()
	if closeErr != nil {
		s.log.Debug("close fd %d: %v", c.FD, closeErr)
	}
	s.log.With(zap.String("conn", c.ID)).Info("connection from %s on fd %d closed", c.Addr, c.FD)
}

func (s *Server) drain() {
	s.setState(StateDraining)
	n := s.table.Close()
	s.log.Info("closed %d client connection(s)", n)

	s.poller.Remove(s.ln.FD())
	if err := s.ln.Close(); err != nil {
		s.log.Debug("close listener: %v", err)
	}
	s.poller.Remove(s.notifier.FD())
	if err := s.notifier.Close(); err != nil {
		s.log.Debug("close notifier: %v", err)
	}
	s.setState(StateStopped)
}
