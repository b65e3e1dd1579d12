// File: protocol/frame.go
// Package protocol implements the WebSocket frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Implements WebSocket frame encoding/decoding with payload size limits
// to prevent resource exhaustion on untrusted input.

package protocol

import (
	"encoding/binary"
	"errors"
)

// MaxFramePayload defines the maximum allowed payload size for a single frame.
// This limit protects against excessively large frames that could exhaust memory.
const MaxFramePayload = 1 << 20 // 1 MiB

// ErrFrameTooLarge is returned when a frame declares a payload length
// above MaxFramePayload. The 64-bit extended length field is decoded in
// full and rejected rather than truncated, so the stream never desyncs.
var ErrFrameTooLarge = errors.New("frame payload exceeds maximum allowed size")

// Frame represents a single decoded WebSocket frame.
type Frame struct {
	IsFinal    bool  // FIN bit
	Opcode     byte  // Operation code
	Masked     bool  // Whether the payload is masked
	PayloadLen int64 // Actual payload length
	MaskKey    [4]byte
	Payload    []byte
}

// DecodeFrame parses one WebSocket frame from the front of raw.
// Returns the frame, the number of bytes consumed, and an error.
// If the buffer does not yet hold a complete frame, returns (nil, 0, nil);
// the caller accumulates more bytes and retries.
func DecodeFrame(raw []byte) (*Frame, int, error) {
	if len(raw) < 2 {
		return nil, 0, nil // Incomplete
	}
	fin := raw[0]&FinBit != 0
	opcode := raw[0] & 0x0F
	masked := raw[1]&MaskBit != 0
	length := int64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, 0, nil // Incomplete
		}
		length = int64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, 0, nil // Incomplete
		}
		u := binary.BigEndian.Uint64(raw[offset:])
		if u > MaxFramePayload {
			return nil, 0, ErrFrameTooLarge
		}
		length = int64(u)
		offset += 8
	}

	if length > MaxFramePayload {
		return nil, 0, ErrFrameTooLarge
	}

	var maskKey [4]byte
	if masked {
		if len(raw) < offset+4 {
			return nil, 0, nil // Incomplete
		}
		copy(maskKey[:], raw[offset:offset+4])
		offset += 4
	}

	totalLen := offset + int(length)
	if len(raw) < totalLen {
		return nil, 0, nil // Incomplete
	}

	payloadData := raw[offset:totalLen]
	payload := make([]byte, length)
	if masked {
		for i := int64(0); i < length; i++ {
			payload[i] = payloadData[i] ^ maskKey[i%4]
		}
	} else {
		copy(payload, payloadData)
	}

	return &Frame{
		IsFinal:    fin,
		Opcode:     opcode,
		Masked:     masked,
		PayloadLen: length,
		MaskKey:    maskKey,
		Payload:    payload,
	}, totalLen, nil
}

// EncodeFrame serializes a frame into a fresh byte slice, using the
// minimal header width for the payload length. When f.Masked is set the
// payload is XOR-masked with f.MaskKey, as required for client frames.
func EncodeFrame(f *Frame) ([]byte, error) {
	if f.PayloadLen > MaxFramePayload {
		return nil, ErrFrameTooLarge
	}

	var b0 byte
	if f.IsFinal {
		b0 = FinBit
	}
	b0 |= f.Opcode & 0x0F

	var maskBit byte
	if f.Masked {
		maskBit = MaskBit
	}

	plen := int(f.PayloadLen)
	var hdr [MaxFrameHeaderLen]byte
	var header []byte

	switch {
	case plen <= 125:
		header = hdr[:2]
		header[0] = b0
		header[1] = byte(plen) | maskBit
	case plen <= 0xFFFF:
		header = hdr[:4]
		header[0] = b0
		header[1] = 126 | maskBit
		binary.BigEndian.PutUint16(header[2:], uint16(plen))
	default:
		header = hdr[:10]
		header[0] = b0
		header[1] = 127 | maskBit
		binary.BigEndian.PutUint64(header[2:], uint64(plen))
	}

	buf := make([]byte, 0, len(header)+4+plen)
	buf = append(buf, header...)
	if f.Masked {
		buf = append(buf, f.MaskKey[:]...)
	}

	start := len(buf)
	buf = append(buf, f.Payload...)
	if f.Masked {
		for i := 0; i < plen; i++ {
			buf[start+i] ^= f.MaskKey[i%4]
		}
	}
	return buf, nil
}

// TextFrame builds an unmasked final text frame carrying payload.
// Server frames are never masked (RFC 6455, section 5.1).
func TextFrame(payload []byte) *Frame {
	return &Frame{
		IsFinal:    true,
		Opcode:     OpcodeText,
		PayloadLen: int64(len(payload)),
		Payload:    payload,
	}
}

// PingFrame builds an unmasked ping control frame.
func PingFrame(payload []byte) *Frame {
	return controlFrame(OpcodePing, payload)
}

// PongFrame builds an unmasked pong control frame echoing payload.
func PongFrame(payload []byte) *Frame {
	return controlFrame(OpcodePong, payload)
}

// CloseFrame builds an unmasked close control frame with the given status
// code. A zero code produces an empty close payload.
func CloseFrame(code uint16) *Frame {
	if code == 0 {
		return controlFrame(OpcodeClose, nil)
	}
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, code)
	return controlFrame(OpcodeClose, payload)
}

// CloseEcho builds an unmasked close frame mirroring the peer's close
// payload, clamped to the control frame limit.
func CloseEcho(payload []byte) *Frame {
	return controlFrame(OpcodeClose, payload)
}

func controlFrame(opcode byte, payload []byte) *Frame {
	if len(payload) > MaxControlPayloadLen {
		payload = payload[:MaxControlPayloadLen]
	}
	return &Frame{
		IsFinal:    true,
		Opcode:     opcode,
		PayloadLen: int64(len(payload)),
		Payload:    payload,
	}
}
