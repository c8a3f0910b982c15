// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package proxy defines the boundary between inbound transports and the
// gateway's forwarding pipeline.
//
// An Inbound accepts transport connections and surfaces every accepted
// byte-stream as a Unit on its Units channel. A closed Units channel is the
// terminal signal: the Inbound has finished and will never produce again.
//
// A Handler consumes accepted streams, one call per Unit.
//
// A centralized instance for inbound supervision offers the Manager,
// designed to work seamlessly with the types above.
package proxy

import (
	"context"
	"net"
)

// Inbound is a transport listener producing accepted streams as Units.
type Inbound interface {
	// Units returns the channel of accepted streams. The channel is closed
	// once this Inbound has terminally finished producing.
	Units() <-chan *Unit

	// Address returns the bound local address.
	Address() net.Addr

	// Close shuts this Inbound down, releasing its socket and every held
	// connection. The Units channel closes soon after.
	Close() error
}

// Handler serves accepted streams handed over by the gateway.
type Handler interface {
	// NewConnection takes ownership of conn and serves it until completion.
	// The context bounds the whole exchange.
	NewConnection(ctx context.Context, conn net.Conn, session Session) error
}
