//go:build linux || darwin || freebsd || netbsd || openbsd

package poll

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"linechat/internal/errors"
)

// Notifier is a self-pipe: Notify sets the shutdown flag and writes one
// byte into a non-blocking pipe whose read end sits in the Poller, so a
// blocked Wait returns even when no client is active.
type Notifier struct {
	r, w      int
	requested atomic.Bool

	// mu keeps Notify from writing into a pipe that Close has released
	// (and whose descriptor number the kernel may have handed out again).
	mu     sync.RWMutex
	closed bool
}

// NewNotifier creates the pipe.
func NewNotifier() (*Notifier, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, errors.Wrap("pipe", "self-pipe", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, errors.WrapFD("setnonblock", fd, err)
		}
	}
	return &Notifier{r: p[0], w: p[1]}, nil
}

// FD returns the read end to register with the Poller.
func (n *Notifier) FD() int { return n.r }

// Notify requests shutdown. It may be called from any goroutine, any
// number of times; once the pipe is full further wake bytes are dropped.
func (n *Notifier) Notify() {
	n.requested.Store(true)

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for {
		_, err := unix.Write(n.w, []byte{1})
		if err != nil && errors.IsInterrupted(err) {
			continue
		}
		return
	}
}

// Requested reports whether Notify has been called.
func (n *Notifier) Requested() bool { return n.requested.Load() }

// Drain empties the pipe and returns how many wake bytes were pending.
func (n *Notifier) Drain() int {
	var buf [64]byte
	total := 0
	for {
		k, err := unix.Read(n.r, buf[:])
		if err != nil {
			if errors.IsInterrupted(err) {
				continue
			}
			return total
		}
		if k <= 0 {
			return total
		}
		total += k
	}
}

// Close releases both ends of the pipe. Later Notify calls still set the
// flag but write nothing.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return errors.Join(Close(n.r), Close(n.w))
}
