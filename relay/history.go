// File: relay/history.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"encoding/json"

	"github.com/eapache/queue"
)

// HistoryBuffer retains the most recent broadcast envelopes in arrival
// order. Appending beyond the retention limit evicts the oldest entry.
// Not safe for concurrent use; the hub goroutine owns it.
type HistoryBuffer struct {
	limit int
	q     *queue.Queue
}

// NewHistoryBuffer creates a buffer retaining at most limit envelopes.
// A non-positive limit disables retention entirely.
func NewHistoryBuffer(limit int) *HistoryBuffer {
	return &HistoryBuffer{limit: limit, q: queue.New()}
}

// Add appends one encoded envelope.
func (h *HistoryBuffer) Add(raw json.RawMessage) {
	if h.limit <= 0 {
		return
	}
	h.q.Add(raw)
	for h.q.Length() > h.limit {
		h.q.Remove()
	}
}

// Snapshot returns the retained envelopes, oldest first. The result is
// freshly allocated; later Adds do not affect it.
func (h *HistoryBuffer) Snapshot() []json.RawMessage {
	out := make([]json.RawMessage, 0, h.q.Length())
	for i := 0; i < h.q.Length(); i++ {
		out = append(out, h.q.Get(i).(json.RawMessage))
	}
	return out
}

// Len reports the number of retained envelopes.
func (h *HistoryBuffer) Len() int {
	return h.q.Length()
}
