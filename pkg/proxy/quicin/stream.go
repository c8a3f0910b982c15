// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicin

import (
	"net"

	"github.com/quic-go/quic-go"

	"github.com/quicgw/quicgw-go/pkg/proxy/quicin/internal"
)

// streamConn adapts one bidirectional QUIC stream to a net.Conn, borrowing
// the owning connection's addresses. Close tears down both halves so the
// peer observes the stream as fully finished.
type streamConn struct {
	quic.Stream

	local  net.Addr
	remote net.Addr
}

func newStreamConn(connection quic.Connection, stream quic.Stream) *streamConn {
	return &streamConn{
		Stream: stream,
		local:  connection.LocalAddr(),
		remote: connection.RemoteAddr(),
	}
}

func (conn *streamConn) LocalAddr() net.Addr { return conn.local }

func (conn *streamConn) RemoteAddr() net.Addr { return conn.remote }

func (conn *streamConn) Close() error {
	conn.Stream.CancelRead(internal.StreamShutdown)
	return conn.Stream.Close()
}

// CloseWrite finishes the sending half. The peer reads an EOF while the
// receiving half stays usable, mirroring net.TCPConn's CloseWrite.
func (conn *streamConn) CloseWrite() error {
	return conn.Stream.Close()
}

// streamIndex extracts the protocol-level index from a stream ID. On the
// wire the two low bits encode initiator and directedness; the remaining
// bits are the index counting streams of that kind.
func streamIndex(id quic.StreamID) uint64 {
	return uint64(id) >> 2
}
