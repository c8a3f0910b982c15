// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// quicgw-probe inspects quicgw gateways from the outside: it dials their
// QUIC endpoints and listens for their multicast announcements.
package main

import (
	"context"
	"os"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

// verboseFlag is the name of the flag to enable debug logging.
const verboseFlag = "verbose"

var red = color.New(color.FgRed).FprintfFunc()
var blue = color.New(color.FgBlue).FprintfFunc()

// infoMsg prints a progress message to stderr, keeping stdout for results.
func infoMsg(format string, a ...interface{}) {
	blue(os.Stderr, "[+] "+format, a...)
}

func main() {
	log.SetLevel(log.WarnLevel)

	cmd := &cli.Command{
		Name:  "quicgw-probe",
		Usage: "probing companion for the quicgw gateway",
		Commands: []*cli.Command{
			dialCommand(),
			discoverCommand(),
			versionCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		red(os.Stderr, "[!] Error: %s\n", err)
		os.Exit(1)
	}
}
