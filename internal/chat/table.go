package chat

import (
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type connState int

const (
	connOpen connState = iota
	connClosing
)

// Conn is one accepted client. It is owned by the Table and only touched
// by the event loop.
type Conn struct {
	FD    int
	ID    string // log correlation; FDs are reused by the kernel
	Label string // fixed at accept
	Addr  string // peer host:port

	asm   *Assembler
	state connState
}

// NewConn creates an open connection with a fresh assembler.
func NewConn(fd int, label, addr string, lineCapacity int) *Conn {
	return &Conn{
		FD:    fd,
		ID:    uuid.NewString(),
		Label: label,
		Addr:  addr,
		asm:   NewAssembler(lineCapacity),
	}
}

// Open reports whether the connection is still live.
func (c *Conn) Open() bool { return c.state == connOpen }

// Registry is the readiness registration a Table keeps in step with its
// membership. *poll.Poller satisfies it.
type Registry interface {
	Add(fd int)
	Remove(fd int) bool
}

// Table is the set of open connections keyed by descriptor. Iteration
// follows insertion order. Every member is registered with the Registry;
// Remove deregisters and closes.
type Table struct {
	conns map[int]*Conn
	order []int

	reg      Registry
	closeFD  func(fd int) error
	onRemove func(c *Conn, closeErr error)
}

// NewTable returns an empty Table. closeFD releases a descriptor; onRemove,
// if not nil, runs after a connection has been closed.
func NewTable(reg Registry, closeFD func(fd int) error, onRemove func(c *Conn, closeErr error)) *Table {
	return &Table{
		conns:    make(map[int]*Conn),
		reg:      reg,
		closeFD:  closeFD,
		onRemove: onRemove,
	}
}

// Add inserts c and registers its descriptor. A live entry with the same
// descriptor is replaced after being closed.
func (t *Table) Add(c *Conn) {
	if _, ok := t.conns[c.FD]; ok {
		t.Remove(c.FD)
	}
	t.conns[c.FD] = c
	t.order = append(t.order, c.FD)
	t.reg.Add(c.FD)
}

// Remove deregisters, closes and forgets fd. Unknown descriptors are a
// no-op; the return value reports whether anything was removed.
func (t *Table) Remove(fd int) bool {
	c, ok := t.conns[fd]
	if !ok {
		return false
	}
	c.state = connClosing
	delete(t.conns, fd)
	t.order = lo.Without(t.order, fd)
	t.reg.Remove(fd)

	err := t.closeFD(fd)
	if t.onRemove != nil {
		t.onRemove(c, err)
	}
	return true
}

// Get returns the connection for fd, or nil.
func (t *Table) Get(fd int) *Conn {
	return t.conns[fd]
}

// Len returns the number of open connections.
func (t *Table) Len() int { return len(t.conns) }

// ForEach visits connections in insertion order until fn returns false.
// fn may remove entries, including ones not yet visited; those are
// skipped.
func (t *Table) ForEach(fn func(c *Conn) bool) {
	for _, fd := range append([]int(nil), t.order...) {
		c, ok := t.conns[fd]
		if !ok || !c.Open() {
			continue
		}
		if !fn(c) {
			return
		}
	}
}

// Close removes every connection and returns how many there were.
func (t *Table) Close() int {
	fds := append([]int(nil), t.order...)
	for _, fd := range fds {
		t.Remove(fd)
	}
	return len(fds)
}
