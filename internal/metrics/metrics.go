// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a linechat server.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Collector tracks runtime metrics for a chat server.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	linesBroadcast    atomic.Int64
	deliveries        atomic.Int64
	overflows         atomic.Int64
	dropped           atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ConnectionDropped records a recipient removed after a failed send.
func (c *Collector) ConnectionDropped() {
	if c == nil {
		return
	}
	c.dropped.Add(1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// DroppedConnections returns how many recipients were dropped on send.
func (c *Collector) DroppedConnections() int64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from clients.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to clients.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Line metrics ─────────────────────────────────────────────────────

// LineBroadcast records one published line and how many recipients got it.
func (c *Collector) LineBroadcast(recipients int) {
	if c == nil {
		return
	}
	c.linesBroadcast.Add(1)
	c.deliveries.Add(int64(recipients))
}

// LineOverflow records an overlong line.
func (c *Collector) LineOverflow() {
	if c == nil {
		return
	}
	c.overflows.Add(1)
}

// LinesBroadcast returns the number of lines published.
func (c *Collector) LinesBroadcast() int64 {
	if c == nil {
		return 0
	}
	return c.linesBroadcast.Load()
}

// Deliveries returns the number of per-recipient line deliveries.
func (c *Collector) Deliveries() int64 {
	if c == nil {
		return 0
	}
	return c.deliveries.Load()
}

// Overflows returns the number of overlong lines seen.
func (c *Collector) Overflows() int64 {
	if c == nil {
		return 0
	}
	return c.overflows.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	ConnectionsDrop   int64  `json:"connections_dropped"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	LinesBroadcast    int64  `json:"lines_broadcast"`
	Deliveries        int64  `json:"deliveries"`
	Overflows         int64  `json:"overflows"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		ConnectionsDrop:   c.dropped.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		LinesBroadcast:    c.linesBroadcast.Load(),
		Deliveries:        c.deliveries.Load(),
		Overflows:         c.overflows.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// WriteTable renders the snapshot as a two-column table.
func (c *Collector) WriteTable(w io.Writer) {
	s := c.Snapshot()
	rows := [][]string{
		{"uptime", s.Uptime},
		{"connections active", itoa(s.ConnectionsActive)},
		{"connections total", itoa(s.ConnectionsTotal)},
		{"connections dropped", itoa(s.ConnectionsDrop)},
		{"bytes in", itoa(s.BytesIn)},
		{"bytes out", itoa(s.BytesOut)},
		{"lines broadcast", itoa(s.LinesBroadcast)},
		{"deliveries", itoa(s.Deliveries)},
		{"overflows", itoa(s.Overflows)},
		{"errors", itoa(s.ErrorsTotal)},
	}
	if s.LastErrorMessage != "" {
		rows = append(rows, []string{"last error", s.LastErrorMessage})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)
	table.Render()
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
