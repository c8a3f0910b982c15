// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package internal

import "github.com/quic-go/quic-go"

const (
	// UnknownError is the catchall error code for things we didn't foresee
	UnknownError quic.ApplicationErrorCode = 1
	// LocalError designates errors that happen on this machine
	LocalError quic.ApplicationErrorCode = 2
	// ConnectionError designates a connection given up on after a failed stream accept
	ConnectionError quic.ApplicationErrorCode = 3
	// ApplicationShutdown is sent when the gateway terminates its connections
	ApplicationShutdown quic.ApplicationErrorCode = 4

	// StreamShutdown cancels a stream's read half on local teardown
	StreamShutdown quic.StreamErrorCode = 1
	// StreamTransmissionError designates errors in stream data transmission
	StreamTransmissionError quic.StreamErrorCode = 2
)
