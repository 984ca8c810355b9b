//go:build linux || darwin || freebsd || netbsd || openbsd

package poll

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sys/unix"

	"linechat/internal/errors"
)

const readyMask = unix.POLLIN | unix.POLLHUP | unix.POLLERR | unix.POLLNVAL

// Poller waits for read-readiness on a set of registered descriptors.
// The poll set is rebuilt from the registrations on every wait, so Add
// and Remove take effect on the next call.
type Poller struct {
	order []int
	index map[int]struct{}
	pfds  []unix.PollFd
}

// NewPoller returns an empty Poller.
func NewPoller() *Poller {
	return &Poller{index: make(map[int]struct{})}
}

// Add registers fd. Registering twice is a no-op.
func (p *Poller) Add(fd int) {
	if _, ok := p.index[fd]; ok {
		return
	}
	p.index[fd] = struct{}{}
	p.order = append(p.order, fd)
}

// Remove deregisters fd and reports whether it was registered.
func (p *Poller) Remove(fd int) bool {
	if _, ok := p.index[fd]; !ok {
		return false
	}
	delete(p.index, fd)
	p.order = lo.Without(p.order, fd)
	return true
}

// Registered reports whether fd is in the poll set.
func (p *Poller) Registered(fd int) bool {
	_, ok := p.index[fd]
	return ok
}

// Len returns the number of registered descriptors.
func (p *Poller) Len() int { return len(p.order) }

// Wait blocks until at least one registered descriptor is readable and
// returns the ready descriptors in registration order. Hang-ups and
// errors count as readable so the following read reports them.
func (p *Poller) Wait() ([]int, error) {
	return p.WaitTimeout(-1)
}

// WaitTimeout is Wait with an upper bound; a negative timeout waits
// forever. It returns an empty slice when the timeout expires.
func (p *Poller) WaitTimeout(timeout time.Duration) ([]int, error) {
	p.pfds = p.pfds[:0]
	for _, fd := range p.order {
		p.pfds = append(p.pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	for {
		n, err := unix.Poll(p.pfds, ms)
		if err != nil {
			if errors.IsInterrupted(err) {
				continue
			}
			return nil, errors.Wrap("poll", fmt.Sprintf("%d fds", len(p.pfds)), err)
		}

		ready := make([]int, 0, n)
		for _, pfd := range p.pfds {
			if pfd.Revents&readyMask != 0 {
				ready = append(ready, int(pfd.Fd))
			}
		}
		return ready, nil
	}
}
