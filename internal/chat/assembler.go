package chat

// DefaultLineCapacity is the assembler capacity: a line may hold up to
// DefaultLineCapacity-1 bytes before its terminator.
const DefaultLineCapacity = 8192

// Assembler turns one connection's byte stream into '\n'-terminated
// lines. It holds at most capacity-1 bytes of an unfinished line.
type Assembler struct {
	buf        []byte
	capacity   int
	discarding bool
}

// NewAssembler returns an Assembler with the given capacity (minimum 2).
func NewAssembler(capacity int) *Assembler {
	if capacity < 2 {
		capacity = 2
	}
	return &Assembler{
		buf:      make([]byte, 0, capacity-1),
		capacity: capacity,
	}
}

// Feed consumes p. onLine receives every completed line with trailing
// '\r' bytes removed. onOverflow is called once per overlong line; the
// partial line is dropped and input is skipped up to and including the
// next '\n', which may arrive in a later Feed.
func (a *Assembler) Feed(p []byte, onLine func(line string), onOverflow func()) {
	for _, b := range p {
		if a.discarding {
			if b == '\n' {
				a.discarding = false
			}
			continue
		}

		if b == '\n' {
			line := a.buf
			for len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			s := string(line)
			a.buf = a.buf[:0]
			onLine(s)
			continue
		}

		if len(a.buf) >= a.capacity-1 {
			a.buf = a.buf[:0]
			a.discarding = true
			onOverflow()
			continue
		}
		a.buf = append(a.buf, b)
	}
}

// Len returns the number of buffered bytes of the unfinished line.
func (a *Assembler) Len() int { return len(a.buf) }

// Pending returns a copy of the unfinished line.
func (a *Assembler) Pending() []byte {
	return append([]byte(nil), a.buf...)
}

// Discarding reports whether the assembler is skipping an overlong line.
func (a *Assembler) Discarding() bool { return a.discarding }

// Reset drops any buffered state.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
	a.discarding = false
}
