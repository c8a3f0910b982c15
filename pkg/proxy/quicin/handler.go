// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package quicin provides the gateway's QUIC inbound transport.
//
// A Handler builds the server-side TLS identity and transport parameters
// once. Every call to Handle binds a fresh QUIC endpoint onto a raw
// datagram socket and returns an Incoming, which multiplexes the
// endpoint's connection attempts, established connections and accepted
// bidirectional streams into a single sequence of proxy Units.
package quicin

import (
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/quicgw/quicgw-go/pkg/proxy"
)

// Handle binds a new QUIC endpoint onto the datagram socket, using the
// server configuration built at construction, and returns its accepted
// streams as an inbound transport. A binding failure is surfaced to the
// caller as is; retry policy is the caller's business.
func (handler *Handler) Handle(conn net.PacketConn) (proxy.Inbound, error) {
	listener, err := quic.ListenEarly(conn, handler.tlsConf, handler.quicConf)
	if err != nil {
		return nil, fmt.Errorf("creating QUIC endpoint: %w", err)
	}

	log.WithFields(log.Fields{
		"address": listener.Addr(),
		"alpn":    handler.tlsConf.NextProtos,
	}).Info("QUIC inbound listening")

	return NewIncoming(listener), nil
}
