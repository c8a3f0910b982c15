// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"

	"github.com/quicgw/quicgw-go/pkg/api"
	"github.com/quicgw/quicgw-go/pkg/discovery"
	"github.com/quicgw/quicgw-go/pkg/forward"
	"github.com/quicgw/quicgw-go/pkg/journal"
	"github.com/quicgw/quicgw-go/pkg/proxy"
	"github.com/quicgw/quicgw-go/pkg/proxy/quicin"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core      coreConf
	Logging   logConf
	Listen    []listenConf
	API       apiConf `toml:"api"`
	Discovery discoveryConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	Name        string
	Upstream    string
	Journal     string
	DialTimeout uint `toml:"dial-timeout"`
	Profiling   bool
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// listenConf describes one QUIC inbound endpoint. An empty Tag becomes
// "quicN" with the block's position.
type listenConf struct {
	Tag         string
	Endpoint    string
	Certificate string
	Key         string
	Protocols   []string
	Reload      bool
}

// apiConf describes the administrative endpoint.
type apiConf struct {
	Listen string
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
}

func parseListenPort(endpoint string) (port int, err error) {
	var portStr string
	_, portStr, err = net.SplitHostPort(endpoint)
	if err != nil {
		return
	}
	port, err = strconv.Atoi(portStr)
	return
}

// parseListen turns a "listen" block into a bound QUIC inbound together
// with its discovery Announcements.
func parseListen(conv listenConf, name string) (*quicin.Handler, proxy.Inbound, []discovery.Announcement, error) {
	if len(conv.Protocols) == 0 {
		return nil, nil, nil, fmt.Errorf("listen.protocols must name at least one protocol")
	}

	handler, err := quicin.NewHandler(conv.Certificate, conv.Key, conv.Protocols)
	if err != nil {
		return nil, nil, nil, err
	}
	if conv.Reload {
		if err := handler.EnableReload(); err != nil {
			return nil, nil, nil, err
		}
	}

	addr, err := net.ResolveUDPAddr("udp", conv.Endpoint)
	if err != nil {
		_ = handler.Close()
		return nil, nil, nil, err
	}
	socket, err := net.ListenUDP("udp", addr)
	if err != nil {
		_ = handler.Close()
		return nil, nil, nil, err
	}

	inbound, err := handler.Handle(socket)
	if err != nil {
		_ = socket.Close()
		_ = handler.Close()
		return nil, nil, nil, err
	}

	// Announce the bound port; the configured endpoint may say ":0".
	port, err := parseListenPort(inbound.Address().String())
	if err != nil {
		_ = inbound.Close()
		_ = handler.Close()
		return nil, nil, nil, err
	}

	var announcements []discovery.Announcement
	for _, protocol := range conv.Protocols {
		announcements = append(announcements, discovery.Announcement{
			Name:     name,
			Protocol: protocol,
			Port:     uint(port),
		})
	}

	return handler, inbound, announcements, nil
}

// setupLogging applies the Logging-configuration block.
func setupLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseGateway creates the gateway based on the given TOML configuration.
func parseGateway(filename string) (gw *gateway, profiling bool, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	setupLogging(conf.Logging)
	profiling = conf.Core.Profiling

	// Core
	if conf.Core.Upstream == "" {
		err = fmt.Errorf("core.upstream is empty")
		return
	}
	if conf.Core.Name == "" {
		if conf.Core.Name, err = os.Hostname(); err != nil {
			return
		}
	}
	if conf.Core.DialTimeout == 0 {
		conf.Core.DialTimeout = 10
	}
	if len(conf.Listen) == 0 {
		err = fmt.Errorf("no listen block is configured")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	gw = &gateway{
		name:    conf.Core.Name,
		started: time.Now(),

		manager:   proxy.NewManager(),
		forwarder: forward.NewForwarder(conf.Core.Upstream, time.Duration(conf.Core.DialTimeout)*time.Second),

		ctx:    ctx,
		cancel: cancel,
	}

	// abort undoes a partial start, keeping the original error.
	abort := func() {
		if closeErr := gw.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Cleaning up after failed start errored")
		}
		gw = nil
	}

	if conf.Core.Journal != "" {
		if gw.journal, err = journal.Open(conf.Core.Journal); err != nil {
			err = fmt.Errorf("opening journal: %w", err)
			abort()
			return
		}
	}

	// Listen
	var announcements []discovery.Announcement
	for i, conv := range conf.Listen {
		if conv.Tag == "" {
			conv.Tag = fmt.Sprintf("quic%d", i)
		}

		handler, inbound, listenAnnouncements, lErr := parseListen(conv, conf.Core.Name)
		if lErr != nil {
			err = lErr
		} else if err = gw.manager.Register(conv.Tag, inbound); err != nil {
			_ = inbound.Close()
			_ = handler.Close()
		}

		if err != nil {
			abort()
			return
		}

		gw.handlers = append(gw.handlers, handler)
		announcements = append(announcements, listenAnnouncements...)
	}

	gw.wg.Add(1)
	go gw.serve()

	// API
	if conf.API.Listen != "" {
		if gw.apiServer, err = api.NewServer(conf.API.Listen, gw); err != nil {
			abort()
			return
		}
	}

	// Discovery
	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		if conf.Discovery.Interval == 0 {
			conf.Discovery.Interval = 10
		}

		gw.discovery, err = discovery.NewManager(
			conf.Core.Name, gw.notifyDiscovery, announcements,
			time.Duration(conf.Discovery.Interval)*time.Second,
			conf.Discovery.IPv4, conf.Discovery.IPv6)
		if err != nil {
			abort()
			return
		}
	}

	return
}

// notifyDiscovery handles Announcements of other gateways on the link.
func (gw *gateway) notifyDiscovery(announcement discovery.Announcement, addr string) {
	log.WithFields(log.Fields{
		"peer":         addr,
		"announcement": announcement,
	}).Info("Discovered gateway")

	if gw.apiServer != nil {
		gw.apiServer.PublishEvent(api.Event{
			Kind: api.EventPeerDiscovered,
			Time: time.Now(),
			Detail: map[string]string{
				"peer":     addr,
				"name":     announcement.Name,
				"protocol": announcement.Protocol,
				"port":     strconv.FormatUint(uint64(announcement.Port), 10),
			},
		})
	}
}
