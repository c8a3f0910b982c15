// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/quicgw/quicgw-go/pkg/proxy/quicin"
)

const protocolFlag = "protocol"
const streamsFlag = "streams"
const payloadFlag = "payload"
const timeoutFlag = "timeout"
const insecureFlag = "insecure"

func dialCommand() *cli.Command {
	return &cli.Command{
		Name:      "dial",
		Usage:     "Open QUIC streams against a gateway and report round-trips",
		ArgsUsage: "address",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool(verboseFlag) {
				log.SetLevel(log.DebugLevel)
			}

			args := cmd.Args()
			if args.Len() != 1 {
				return fmt.Errorf("expected one address argument, got %d", args.Len())
			}

			timeout := time.Duration(cmd.Int(timeoutFlag)) * time.Millisecond
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			conn, err := quicin.Dial(ctx, args.Get(0),
				[]string{cmd.String(protocolFlag)}, cmd.Bool(insecureFlag))
			if err != nil {
				return err
			}
			defer func() { _ = conn.CloseWithError(0, "") }()

			infoMsg("Connected to %s, negotiated %q\n",
				conn.RemoteAddr(), conn.ConnectionState().TLS.NegotiatedProtocol)

			payload := []byte(cmd.String(payloadFlag))
			for i := 0; i < int(cmd.Int(streamsFlag)); i++ {
				stream, err := conn.OpenStreamSync(ctx)
				if err != nil {
					return fmt.Errorf("opening stream: %w", err)
				}

				start := time.Now()
				if _, err := stream.Write(payload); err != nil {
					return fmt.Errorf("writing payload: %w", err)
				}
				if err := stream.Close(); err != nil {
					return fmt.Errorf("finishing stream: %w", err)
				}

				// The gateway relays our payload upstream; whatever comes
				// back until the relayed EOF is the reply.
				_ = stream.SetReadDeadline(time.Now().Add(timeout))
				reply, err := io.ReadAll(stream)
				if err != nil {
					return fmt.Errorf("reading reply: %w", err)
				}

				fmt.Printf("stream %d: sent %d bytes, received %d bytes in %s\n",
					stream.StreamID()>>2, len(payload), len(reply), time.Since(start))
			}

			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     protocolFlag,
				Aliases:  []string{"p"},
				Usage:    "Application protocol to offer in the TLS handshake",
				Value:    "quicgw",
				Required: false,
			},
			&cli.IntFlag{
				Name:     streamsFlag,
				Aliases:  []string{"n"},
				Usage:    "Number of streams to open",
				Value:    1,
				Required: false,
			},
			&cli.StringFlag{
				Name:     payloadFlag,
				Usage:    "Payload to write on every stream",
				Value:    "ping",
				Required: false,
			},
			&cli.IntFlag{
				Name:     timeoutFlag,
				Aliases:  []string{"t"},
				Usage:    "Operation timeout in milliseconds",
				Value:    10000,
				Required: false,
			},
			&cli.BoolFlag{
				Name:     insecureFlag,
				Aliases:  []string{"k"},
				Usage:    "Skip verification of the gateway's certificate",
				Value:    false,
				Required: false,
			},
			&cli.BoolFlag{
				Name:     verboseFlag,
				Aliases:  []string{"v"},
				Usage:    "Verbose logging",
				Value:    false,
				Required: false,
			},
		},
	}
}
