// File: protocol/handshake.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket opening handshake: upgrade header validation, Sec-WebSocket-Accept
// computation, and the raw 101 response. The HTTP request head is parsed by
// the caller so that non-upgrade requests can be routed elsewhere; the codec
// owns the socket from the first frame byte onward.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// MaxHandshakeHeadersSize bounds the total size of upgrade request headers.
const MaxHandshakeHeadersSize = 8192

// Handshake validation errors.
var (
	ErrInvalidUpgradeHeaders = errors.New("invalid WebSocket upgrade headers")
	ErrMissingWebSocketKey   = errors.New("missing Sec-WebSocket-Key header")
	ErrBadWebSocketVersion   = errors.New("unsupported WebSocket version; only '13' is supported")
	ErrHeadersTooLarge       = errors.New("handshake headers too large")
)

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's
// key using the algorithm of RFC 6455, section 1.3.
func ComputeAcceptKey(clientKey string) string {
	hash := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// IsUpgrade reports whether req asks for a WebSocket upgrade. Used for
// routing only; ValidateUpgrade performs the full check.
func IsUpgrade(req *http.Request) bool {
	return headerContainsToken(req.Header, HeaderUpgrade, "websocket")
}

// ValidateUpgrade checks the upgrade request headers and returns the client
// key on success. The request must carry Connection: Upgrade and
// Upgrade: websocket tokens, version 13, and a non-empty key.
func ValidateUpgrade(req *http.Request) (string, error) {
	total := 0
	for k, vs := range req.Header {
		total += len(k)
		for _, v := range vs {
			total += len(v)
			if total > MaxHandshakeHeadersSize {
				return "", ErrHeadersTooLarge
			}
		}
	}
	if !headerContainsToken(req.Header, HeaderConnection, "Upgrade") ||
		!headerContainsToken(req.Header, HeaderUpgrade, "websocket") {
		return "", ErrInvalidUpgradeHeaders
	}
	if req.Header.Get(HeaderSecWebSocketVer) != RequiredWebSocketVersion {
		return "", ErrBadWebSocketVersion
	}
	key := req.Header.Get(HeaderSecWebSocketKey)
	if key == "" {
		return "", ErrMissingWebSocketKey
	}
	return key, nil
}

// AcceptResponse builds the raw 101 Switching Protocols response for the
// given client key. The caller writes it to the socket verbatim.
func AcceptResponse(clientKey string) []byte {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString(HeaderSecWebSocketAccept + ": " + ComputeAcceptKey(clientKey) + "\r\n")
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

// headerContainsToken reports whether headerName contains token in its
// comma-separated value list, case-insensitively.
func headerContainsToken(h http.Header, headerName, token string) bool {
	vals := h[http.CanonicalHeaderKey(headerName)]
	token = strings.ToLower(token)
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			if strings.ToLower(strings.TrimSpace(p)) == token {
				return true
			}
		}
	}
	return false
}
