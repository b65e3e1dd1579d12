//go:build !linux

// File: server/sockopt_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable fallbacks for platforms without direct sockopt access.

package server

import (
	"net"
	"syscall"
)

func listenControl(network, address string, c syscall.RawConn) error {
	return nil
}

func tuneConn(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
}
