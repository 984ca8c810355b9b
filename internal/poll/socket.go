//go:build linux || darwin || freebsd || netbsd || openbsd

package poll

import (
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"linechat/internal/errors"
)

// Listener is a non-blocking listening socket.
type Listener struct {
	fd   int
	addr string
	port int
}

// Listen tries each candidate address in order and returns the first one
// that can be bound and listened on. When every candidate fails the
// returned error is an *errors.BindError carrying each attempt.
func Listen(ips []net.IP, port, backlog int) (*Listener, error) {
	if len(ips) == 0 {
		return nil, &errors.BindError{Port: port, Attempts: []error{errors.ErrNoAddress}}
	}

	attempts := make([]error, 0, len(ips))
	for _, ip := range ips {
		ln, err := listenOne(ip, port, backlog)
		if err != nil {
			attempts = append(attempts, err)
			continue
		}
		return ln, nil
	}
	return nil, &errors.BindError{Port: port, Attempts: attempts}
}

func listenOne(ip net.IP, port, backlog int) (*Listener, error) {
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	family, sa := sockaddr(ip, port)

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Wrap("socket", addr, err)
	}
	unix.CloseOnExec(fd)

	fail := func(op string, err error) (*Listener, error) {
		_ = unix.Close(fd)
		return nil, errors.Wrap(op, addr, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("setnonblock", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	_, actual := peerOf(bound)

	return &Listener{
		fd:   fd,
		addr: net.JoinHostPort(ip.String(), strconv.Itoa(actual)),
		port: actual,
	}, nil
}

// FD returns the listening descriptor.
func (l *Listener) FD() int { return l.fd }

// Addr returns the bound "host:port".
func (l *Listener) Addr() string { return l.addr }

// Port returns the bound port, resolved when 0 was requested.
func (l *Listener) Port() int { return l.port }

// Accept takes one pending connection and makes it non-blocking. When
// nothing is pending the error is retryable (EAGAIN).
func (l *Listener) Accept() (fd int, ip net.IP, port int, err error) {
	for {
		nfd, sa, err := unix.Accept(l.fd)
		if err != nil {
			if errors.IsInterrupted(err) {
				continue
			}
			return -1, nil, 0, errors.Wrap("accept", l.addr, err)
		}
		unix.CloseOnExec(nfd)
		if err := unix.SetNonblock(nfd, true); err != nil {
			_ = unix.Close(nfd)
			return -1, nil, 0, errors.WrapFD("setnonblock", nfd, err)
		}
		ip, port := peerOf(sa)
		return nfd, ip, port, nil
	}
}

// Close releases the listening socket.
func (l *Listener) Close() error {
	return Close(l.fd)
}

// Read performs one non-blocking read. n == 0 with a nil error means the
// peer closed its side.
func Read(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if err != nil {
		return 0, errors.WrapFD("read", fd, err)
	}
	return n, nil
}

// WriteAll writes p in full. Short writes continue where they stopped,
// interrupted calls are retried, and a full socket buffer is waited on
// for at most timeout before giving up with errors.ErrWriteTimeout.
//
// The wait blocks the caller. On the event loop, timeout is therefore the
// longest a single reader that stopped draining its socket can hold up
// every other client (2s with the default configuration).
func WriteAll(fd int, p []byte, timeout time.Duration) (int, error) {
	sent := 0
	var deadline time.Time
	for sent < len(p) {
		n, err := unix.Write(fd, p[sent:])
		if n > 0 {
			sent += n
		}
		if err == nil {
			continue
		}
		switch {
		case errors.IsInterrupted(err):
		case errors.IsWouldBlock(err):
			if deadline.IsZero() {
				deadline = time.Now().Add(timeout)
			}
			if werr := waitWritable(fd, deadline); werr != nil {
				return sent, errors.WrapFD("write", fd, werr)
			}
		default:
			return sent, errors.WrapFD("write", fd, err)
		}
	}
	return sent, nil
}

func waitWritable(fd int, deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.ErrWriteTimeout
		}
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(pfd, int(remaining/time.Millisecond)+1)
		if err != nil {
			if errors.IsInterrupted(err) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}
		if pfd[0].Revents&unix.POLLOUT == 0 {
			return unix.EPIPE
		}
		return nil
	}
}

// Close closes a descriptor, ignoring an interrupted close.
func Close(fd int) error {
	if err := unix.Close(fd); err != nil && !errors.IsInterrupted(err) {
		return errors.WrapFD("close", fd, err)
	}
	return nil
}

func sockaddr(ip net.IP, port int) (int, unix.Sockaddr) {
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return unix.AF_INET6, sa
}

func peerOf(sa unix.Sockaddr) (net.IP, int) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return append(net.IP(nil), sa.Addr[:]...), sa.Port
	case *unix.SockaddrInet6:
		return append(net.IP(nil), sa.Addr[:]...), sa.Port
	default:
		return nil, 0
	}
}
