// File: relay/hub_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hub tests run the real event loop against clients wired over net.Pipe,
// so the full path is exercised: frame decode in the read loop, hub
// dispatch, frame encode in the write loop.

package relay

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/relay-ws/control"
	"github.com/momentics/relay-ws/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	h := NewHub(cfg, testLogger(), control.NewMetrics(prometheus.NewRegistry()))
	h.Start()
	t.Cleanup(h.Stop)
	return h
}

// testPeer drives the far end of a piped connection: it decodes server
// frames into a channel and can inject masked client frames.
type testPeer struct {
	t        *testing.T
	client   *Client
	conn     net.Conn
	frames   chan *protocol.Frame
	closed   chan struct{}
	autoPong bool
}

func dialHub(t *testing.T, h *Hub, nick string, autoPong bool) *testPeer {
	t.Helper()
	server, remote := net.Pipe()
	c := NewClient(server, bufio.NewReader(server), 64, 0, testLogger())

	require.True(t, h.Reserve(), "reservation refused")
	require.NoError(t, h.Join(c, nick))

	p := &testPeer{
		t:        t,
		client:   c,
		conn:     remote,
		frames:   make(chan *protocol.Frame, 64),
		closed:   make(chan struct{}),
		autoPong: autoPong,
	}
	go c.WriteLoop()
	go c.ReadLoop()
	go p.readLoop()
	t.Cleanup(func() { _ = remote.Close() })
	return p
}

func (p *testPeer) readLoop() {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		for {
			f, n, err := protocol.DecodeFrame(buf)
			if err != nil {
				close(p.closed)
				return
			}
			if f == nil {
				break
			}
			buf = append(buf[:0], buf[n:]...)
			if f.Opcode == protocol.OpcodePing && p.autoPong {
				p.writeFrame(&protocol.Frame{
					IsFinal:    true,
					Opcode:     protocol.OpcodePong,
					Masked:     true,
					MaskKey:    [4]byte{1, 2, 3, 4},
					PayloadLen: int64(len(f.Payload)),
					Payload:    f.Payload,
				})
				continue
			}
			p.frames <- f
		}
		n, err := p.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			close(p.closed)
			return
		}
	}
}

func (p *testPeer) writeFrame(f *protocol.Frame) {
	data, err := protocol.EncodeFrame(f)
	require.NoError(p.t, err)
	_, _ = p.conn.Write(data)
}

// send injects a masked client text frame carrying raw.
func (p *testPeer) send(raw string) {
	p.writeFrame(&protocol.Frame{
		IsFinal:    true,
		Opcode:     protocol.OpcodeText,
		Masked:     true,
		MaskKey:    [4]byte{0xDE, 0xAD, 0xBE, 0xEF},
		PayloadLen: int64(len(raw)),
		Payload:    []byte(raw),
	})
}

// nextEnvelope returns the next decoded text envelope, skipping control
// frames.
func (p *testPeer) nextEnvelope() map[string]any {
	p.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-p.frames:
			if f.Opcode != protocol.OpcodeText {
				continue
			}
			var m map[string]any
			require.NoError(p.t, json.Unmarshal(f.Payload, &m))
			return m
		case <-deadline:
			p.t.Fatal("timed out waiting for envelope")
			return nil
		}
	}
}

// expectType reads envelopes until one of the wanted type arrives.
func (p *testPeer) expectType(typ string) map[string]any {
	p.t.Helper()
	for {
		m := p.nextEnvelope()
		if m["type"] == typ {
			return m
		}
	}
}

func TestJoinSequence(t *testing.T) {
	h := startHub(t, DefaultHubConfig())
	p := dialHub(t, h, "Bob", false)

	// History replay arrives first, then the identity confirmation, then
	// the join broadcast.
	hist := p.nextEnvelope()
	require.Equal(t, TypeHistory, hist["type"])
	assert.Empty(t, hist["messages"])

	ident := p.nextEnvelope()
	require.Equal(t, TypeIdentity, ident["type"])
	assert.Equal(t, "Bob", ident["nick"])

	join := p.nextEnvelope()
	require.Equal(t, TypeSystem, join["type"])
	assert.Contains(t, join["text"], "Bob joined")
	assert.EqualValues(t, 1, join["count"])
	assert.Equal(t, 1, h.Count())
}

func TestNickCollisionSuffix(t *testing.T) {
	h := startHub(t, DefaultHubConfig())

	a := dialHub(t, h, "Bob", false)
	b := dialHub(t, h, "Bob", false)
	c := dialHub(t, h, "Bob", false)

	assert.Equal(t, "Bob", a.expectType(TypeIdentity)["nick"])
	assert.Equal(t, "Bob2", b.expectType(TypeIdentity)["nick"])
	assert.Equal(t, "Bob3", c.expectType(TypeIdentity)["nick"])
}

func TestChatBroadcast(t *testing.T) {
	h := startHub(t, DefaultHubConfig())
	a := dialHub(t, h, "alice", false)
	b := dialHub(t, h, "bob", false)

	a.send(`{"type":"message","text":"hello everyone"}`)

	for _, p := range []*testPeer{a, b} {
		msg := p.expectType(TypeMessage)
		assert.Equal(t, "alice", msg["nick"])
		assert.Equal(t, "hello everyone", msg["text"])
		assert.Greater(t, msg["ts"], float64(0))
	}
}

func TestHistoryReplayOnJoin(t *testing.T) {
	h := startHub(t, DefaultHubConfig())
	a := dialHub(t, h, "alice", false)

	a.send(`{"type":"message","text":"first"}`)
	a.expectType(TypeMessage)
	a.send(`{"type":"message","text":"second"}`)
	a.expectType(TypeMessage)

	b := dialHub(t, h, "bob", false)
	hist := b.expectType(TypeHistory)
	msgs, ok := hist["messages"].([]any)
	require.True(t, ok)
	// Backlog: alice's join system message plus the two chats, in order.
	require.Len(t, msgs, 3)
	last := msgs[2].(map[string]any)
	assert.Equal(t, TypeMessage, last["type"])
	assert.Equal(t, "second", last["text"])
}

func TestMalformedPayloadDiscarded(t *testing.T) {
	h := startHub(t, DefaultHubConfig())
	a := dialHub(t, h, "alice", false)

	a.send(`this is not json`)
	a.send(`{"type":"unknown"}`)
	a.send(`{"type":"message","text":"still here"}`)

	msg := a.expectType(TypeMessage)
	assert.Equal(t, "still here", msg["text"])
	assert.Equal(t, 1, h.Count())
}

func TestRateLimitKick(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.Rate = RatePolicy{Limit: 2, Window: time.Minute}
	h := startHub(t, cfg)
	a := dialHub(t, h, "spammer", false)
	a.expectType(TypeSystem) // join

	a.send(`{"type":"message","text":"1"}`)
	a.send(`{"type":"message","text":"2"}`)
	a.send(`{"type":"message","text":"3"}`)

	// Best-effort warning, then the socket is torn down.
	for {
		m := a.expectType(TypeSystem)
		if text, _ := m["text"].(string); text == "rate limit exceeded" {
			break
		}
	}
	select {
	case <-a.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("rate-limited connection not closed")
	}
	require.Eventually(t, func() bool { return h.Count() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestTextTruncatedToLimit(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.TextMaxLen = 5
	h := startHub(t, cfg)
	a := dialHub(t, h, "alice", false)

	a.send(`{"type":"message","text":"overlong text"}`)
	msg := a.expectType(TypeMessage)
	assert.Equal(t, "overl", msg["text"])
}

func TestDropIdempotent(t *testing.T) {
	h := startHub(t, DefaultHubConfig())
	a := dialHub(t, h, "alice", false)
	b := dialHub(t, h, "bob", false)
	b.expectType(TypeIdentity)
	b.expectType(TypeSystem) // own join

	// Multiple triggers race to tear down the same connection; only the
	// first takes effect.
	h.Drop(a.client, ReasonReadError)
	h.Drop(a.client, ReasonKeepalive)
	h.Drop(a.client, ReasonReadError)

	leave := b.expectType(TypeSystem)
	assert.Contains(t, leave["text"], "alice left")
	assert.EqualValues(t, 1, leave["count"])

	require.Eventually(t, func() bool { return h.Count() == 1 },
		2*time.Second, 10*time.Millisecond)

	// No second leave broadcast: the next system envelope bob sees can
	// only come from a fresh event.
	c := dialHub(t, h, "carol", false)
	c.expectType(TypeIdentity)
	join := b.expectType(TypeSystem)
	assert.Contains(t, join["text"], "carol joined")
}

func TestCloseFrameEchoed(t *testing.T) {
	h := startHub(t, DefaultHubConfig())
	a := dialHub(t, h, "alice", false)
	a.expectType(TypeSystem) // join

	a.writeFrame(&protocol.Frame{
		IsFinal:    true,
		Opcode:     protocol.OpcodeClose,
		Masked:     true,
		MaskKey:    [4]byte{9, 8, 7, 6},
		PayloadLen: 2,
		Payload:    []byte{0x03, 0xE8}, // 1000 normal closure
	})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-a.frames:
			if f.Opcode != protocol.OpcodeClose {
				continue
			}
			assert.Equal(t, []byte{0x03, 0xE8}, f.Payload)
			require.Eventually(t, func() bool { return h.Count() == 0 },
				2*time.Second, 10*time.Millisecond)
			return
		case <-deadline:
			t.Fatal("close frame not echoed")
		}
	}
}

func TestReserveCapacity(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.Capacity = 2
	h := startHub(t, cfg)

	require.True(t, h.Reserve())
	require.True(t, h.Reserve())
	assert.False(t, h.Reserve(), "reservation above capacity must be refused")

	h.Release()
	assert.True(t, h.Reserve(), "released slot must be reusable")
}

func TestKeepaliveEvictsSilentConnection(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	h := startHub(t, cfg)

	silent := dialHub(t, h, "ghost", false)

	// Two sweeps: the first clears the liveness flag and pings, the
	// second evicts.
	select {
	case <-silent.closed:
	case <-time.After(time.Second):
		t.Fatal("silent connection not evicted")
	}
	require.Eventually(t, func() bool { return h.Count() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestKeepalivePongSurvives(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	h := startHub(t, cfg)

	live := dialHub(t, h, "alive", true)

	time.Sleep(300 * time.Millisecond) // several sweep cycles
	assert.Equal(t, 1, h.Count(), "ponging connection must survive")
	select {
	case <-live.closed:
		t.Fatal("ponging connection was evicted")
	default:
	}
}

func TestClientKeepaliveMessageSurvives(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.HeartbeatInterval = 60 * time.Millisecond
	h := startHub(t, cfg)

	a := dialHub(t, h, "app", false)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(25 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.send(`{"type":"ping"}`)
			case <-stop:
				return
			}
		}
	}()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, h.Count(), "application-level keepalive must count as liveness")
}

func TestStopTearsDownAll(t *testing.T) {
	h := startHub(t, DefaultHubConfig())
	a := dialHub(t, h, "alice", false)
	b := dialHub(t, h, "bob", false)

	h.Stop()
	assert.Equal(t, 0, h.Count())
	for _, p := range []*testPeer{a, b} {
		select {
		case <-p.closed:
		case <-time.After(2 * time.Second):
			t.Fatal("client not closed on hub stop")
		}
	}
	assert.ErrorIs(t, h.Join(NewClient(nil, nil, 1, 0, testLogger()), "x"), ErrHubClosed)
	assert.False(t, h.Reserve())
}
