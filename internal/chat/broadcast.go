package chat

import (
	"linechat/internal/metrics"
	"linechat/util"
)

// SendFunc writes a whole message to fd or fails.
type SendFunc func(fd int, p []byte) (int, error)

// Broadcaster fans a formatted line out to the members of a Table.
type Broadcaster struct {
	table   *Table
	send    SendFunc
	log     *util.Logger
	metrics *metrics.Collector
}

// NewBroadcaster returns a Broadcaster over table.
func NewBroadcaster(table *Table, send SendFunc, logger *util.Logger, m *metrics.Collector) *Broadcaster {
	return &Broadcaster{table: table, send: send, log: logger, metrics: m}
}

// FormatLine renders "<label>: <line>\n".
func FormatLine(label, line string) []byte {
	out := make([]byte, 0, len(label)+len(line)+3)
	out = append(out, label...)
	out = append(out, ": "...)
	out = append(out, line...)
	return append(out, '\n')
}

// Publish sends msg to every connection in the table, skipping origin
// unless includeOrigin is set. A recipient whose send fails is removed.
// It returns the number of recipients that received msg.
func (b *Broadcaster) Publish(msg []byte, origin int, includeOrigin bool) int {
	delivered := 0
	b.table.ForEach(func(c *Conn) bool {
		if c.FD == origin && !includeOrigin {
			return true
		}
		n, err := b.send(c.FD, msg)
		if n > 0 {
			b.metrics.BytesSent(int64(n))
		}
		if err != nil {
			b.log.Verbose("send (broadcast) to %s on fd %d: %v", c.Label, c.FD, err)
			b.metrics.ConnectionDropped()
			b.metrics.RecordError(err.Error())
			b.table.Remove(c.FD)
			return true
		}
		delivered++
		return true
	})
	return delivered
}
