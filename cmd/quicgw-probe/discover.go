// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/quicgw/quicgw-go/pkg/discovery"
)

const ipv4Flag = "ipv4"
const ipv6Flag = "ipv6"
const windowFlag = "window"

func discoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Listen for gateway announcements on the local network",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool(verboseFlag) {
				log.SetLevel(log.DebugLevel)
			}

			var seenMutex sync.Mutex
			seen := map[string]struct{}{}

			// Gateways repeat their announcements; print each one once.
			notify := func(announcement discovery.Announcement, addr string) {
				seenMutex.Lock()
				defer seenMutex.Unlock()

				key := fmt.Sprintf("%s/%s", addr, announcement)
				if _, ok := seen[key]; ok {
					return
				}
				seen[key] = struct{}{}

				fmt.Printf("%s %s://%s:%d\n",
					announcement.Name, announcement.Protocol, addr, announcement.Port)
			}

			manager, err := discovery.NewManager(
				"quicgw-probe", notify, nil, 10*time.Second,
				cmd.Bool(ipv4Flag), cmd.Bool(ipv6Flag))
			if err != nil {
				return err
			}
			defer manager.Close()

			window := time.Duration(cmd.Int(windowFlag)) * time.Second
			infoMsg("Listening for announcements for %s..\n", window)

			select {
			case <-ctx.Done():
			case <-time.After(window):
			}

			seenMutex.Lock()
			defer seenMutex.Unlock()
			infoMsg("Heard %d distinct announcements\n", len(seen))

			return nil
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:     ipv4Flag,
				Aliases:  []string{"4"},
				Usage:    "Listen on the IPv4 multicast group",
				Value:    true,
				Required: false,
			},
			&cli.BoolFlag{
				Name:     ipv6Flag,
				Aliases:  []string{"6"},
				Usage:    "Listen on the IPv6 multicast group",
				Value:    false,
				Required: false,
			},
			&cli.IntFlag{
				Name:     windowFlag,
				Aliases:  []string{"w"},
				Usage:    "Listening window in seconds",
				Value:    30,
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
