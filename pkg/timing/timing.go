// Package timing provides per-connection timing measurement for the proxy
// server, in the manner of go-rawhttp's client-side pkg/timing.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures the timing breakdown of one accepted connection's
// lifetime, from accept through handshake through splice teardown.
type Metrics struct {
	// Handshake is the time spent parsing the client's handshake, up to
	// the start of the dial. The success or failure reply written after
	// the dial is not included.
	Handshake time.Duration `json:"handshake"`

	// Dial is the time spent in Tunnel.DialContext establishing the
	// outbound connection.
	Dial time.Duration `json:"dial"`

	// Splice is the time spent in bidirectional forwarding, from the
	// success reply to either side closing.
	Splice time.Duration `json:"splice"`

	// Total is the connection's end-to-end lifetime.
	Total time.Duration `json:"total"`
}

// Timer measures the phases of a single connection's lifetime.
type Timer struct {
	start          time.Time
	handshakeStart time.Time
	handshakeEnd   time.Time
	dialStart      time.Time
	dialEnd        time.Time
	spliceStart    time.Time
	spliceEnd      time.Time
}

// NewTimer starts a new timing session for a freshly accepted connection.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartHandshake marks the beginning of handshake parsing.
func (t *Timer) StartHandshake() { t.handshakeStart = time.Now() }

// EndHandshake marks the end of handshake parsing, before the dial and
// the final reply.
func (t *Timer) EndHandshake() { t.handshakeEnd = time.Now() }

// StartDial marks the beginning of the outbound dial.
func (t *Timer) StartDial() { t.dialStart = time.Now() }

// EndDial marks the end of the outbound dial, success or failure.
func (t *Timer) EndDial() { t.dialEnd = time.Now() }

// StartSplice marks entry into bidirectional forwarding.
func (t *Timer) StartSplice() { t.spliceStart = time.Now() }

// EndSplice marks the end of bidirectional forwarding.
func (t *Timer) EndSplice() { t.spliceEnd = time.Now() }

// Metrics returns the calculated timing breakdown.
func (t *Timer) Metrics() Metrics {
	m := Metrics{Total: time.Since(t.start)}

	if !t.handshakeStart.IsZero() && !t.handshakeEnd.IsZero() {
		m.Handshake = t.handshakeEnd.Sub(t.handshakeStart)
	}
	if !t.dialStart.IsZero() && !t.dialEnd.IsZero() {
		m.Dial = t.dialEnd.Sub(t.dialStart)
	}
	if !t.spliceStart.IsZero() && !t.spliceEnd.IsZero() {
		m.Splice = t.spliceEnd.Sub(t.spliceStart)
	}

	return m
}

// String provides a human-readable representation of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("handshake=%v dial=%v splice=%v total=%v",
		m.Handshake, m.Dial, m.Splice, m.Total)
}
