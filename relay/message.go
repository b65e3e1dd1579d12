// File: relay/message.go
// Package relay implements the broadcast core: message envelopes, retained
// history, per-connection rate budgets, and the hub that owns all of it.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope type tags shared by both directions of the wire.
const (
	TypeMessage  = "message"
	TypeSystem   = "system"
	TypeHistory  = "history"
	TypeIdentity = "identity"
	TypePing     = "ping"
)

// ErrUnknownInboundType marks inbound payloads whose type tag the relay
// does not recognize. Callers discard the payload and keep the connection.
var ErrUnknownInboundType = errors.New("unknown inbound message type")

// Chat is a user message relayed to every connected client.
// Timestamps are Unix milliseconds.
type Chat struct {
	Type string `json:"type"`
	Nick string `json:"nick"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// System announces membership changes and policy warnings. Count carries
// the connection count after the event it describes.
type System struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Ts    int64  `json:"ts"`
	Count int    `json:"count"`
}

// Identity confirms the nickname assigned to a new connection.
type Identity struct {
	Type string `json:"type"`
	Nick string `json:"nick"`
}

// History replays the retained backlog to a new connection. Entries are
// pre-encoded Chat and System envelopes, oldest first.
type History struct {
	Type     string            `json:"type"`
	Messages []json.RawMessage `json:"messages"`
}

// Inbound is a client-to-server envelope. Text is meaningful only for
// TypeMessage; TypePing carries nothing and just proves liveness.
type Inbound struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DecodeInbound parses a client text payload into an Inbound envelope.
// Malformed JSON and unrecognized type tags yield an error.
func DecodeInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode inbound: %w", err)
	}
	switch in.Type {
	case TypeMessage, TypePing:
		return &in, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownInboundType, in.Type)
	}
}

// truncateText caps s at max runes. Multi-byte text is cut on a rune
// boundary, never mid-sequence.
func truncateText(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
