// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicin

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/quic-go/quic-go"
)

// Dial opens a client connection to a gateway, offering the given
// application protocols. With insecure set, the server's certificate is
// not verified; this is meant for probes against self-signed deployments.
func Dial(ctx context.Context, address string, alpns []string, insecure bool) (quic.Connection, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: insecure,
		NextProtos:         append([]string(nil), alpns...),
		MinVersion:         tls.VersionTLS13,
	}

	conn, err := quic.DialAddr(ctx, address, tlsConf, newTransportConfig())
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}

	return conn, nil
}
