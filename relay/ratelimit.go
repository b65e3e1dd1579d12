// File: relay/ratelimit.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import "time"

// RateWindow tracks message arrivals within the current fixed window for
// one connection. The hub goroutine owns the state.
type RateWindow struct {
	start time.Time
	count int
}

// RatePolicy is the fixed-window message budget applied per connection.
// A burst straddling a window boundary can reach twice the nominal rate;
// that is inherent to fixed windows and accepted here.
type RatePolicy struct {
	Limit  int           // messages allowed per window
	Window time.Duration // window length
}

// Allow records one arrival at now and reports whether the connection
// stays within its budget. The first arrival at or past the end of the
// current window resets it.
func (p RatePolicy) Allow(w *RateWindow, now time.Time) bool {
	if p.Limit <= 0 {
		return true
	}
	if w.start.IsZero() || now.Sub(w.start) >= p.Window {
		w.start = now
		w.count = 0
	}
	w.count++
	return w.count <= p.Limit
}
