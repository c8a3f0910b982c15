// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proxy

import (
	"fmt"
	"net"
	"time"
)

// Session carries the metadata of one accepted stream. The accepting
// transport fills Source and StreamID; the Manager stamps Inbound and
// OpenedAt when passing the Unit on.
type Session struct {
	// Inbound is the tag of the accepting inbound listener.
	Inbound string

	// Source is the peer's network address.
	Source net.Addr

	// StreamID is the protocol-level index of the stream's write half.
	StreamID uint64

	// OpenedAt is the time the stream was handed to the gateway.
	OpenedAt time.Time
}

func (session Session) String() string {
	return fmt.Sprintf("Session(%s,%v,%d)", session.Inbound, session.Source, session.StreamID)
}

// Unit pairs one accepted byte-stream with its Session. Ownership of the
// Conn transfers to the receiver; whoever holds a Unit last must close it.
type Unit struct {
	Conn    net.Conn
	Session Session
}
