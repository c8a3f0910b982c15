// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hashicorp/go-multierror"

	"github.com/quicgw/quicgw-go/pkg/api"
	"github.com/quicgw/quicgw-go/pkg/discovery"
	"github.com/quicgw/quicgw-go/pkg/forward"
	"github.com/quicgw/quicgw-go/pkg/journal"
	"github.com/quicgw/quicgw-go/pkg/proxy"
	"github.com/quicgw/quicgw-go/pkg/proxy/quicin"
)

// gateway bundles the daemon's running parts.
type gateway struct {
	name    string
	started time.Time

	manager   *proxy.Manager
	forwarder *forward.Forwarder
	handlers  []*quicin.Handler

	// optional parts, each nil if not configured
	journal   *journal.Journal
	apiServer *api.Server
	discovery *discovery.Manager

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// serve relays every accepted Unit to the forwarder, one goroutine per
// session.
func (gw *gateway) serve() {
	defer gw.wg.Done()

	for unit := range gw.manager.Channel() {
		gw.publish(api.EventSessionOpened, unit.Session)

		gw.wg.Add(1)
		go func(unit *proxy.Unit) {
			defer gw.wg.Done()

			if err := gw.forwarder.NewConnection(gw.ctx, unit.Conn, unit.Session); err != nil {
				log.WithField("session", unit.Session).WithError(err).Warn("Serving session errored")
			}

			gw.record(unit.Session)
			gw.publish(api.EventSessionClosed, unit.Session)
		}(unit)
	}
}

func (gw *gateway) record(session proxy.Session) {
	if gw.journal == nil {
		return
	}

	if err := gw.journal.Record(session); err != nil {
		log.WithField("session", session).WithError(err).Warn("Recording session errored")
	}
}

func (gw *gateway) publish(kind string, session proxy.Session) {
	if gw.apiServer == nil {
		return
	}

	gw.apiServer.PublishEvent(api.SessionEvent(kind, session))
}

// Status implements the api.Gateway interface.
func (gw *gateway) Status() api.Status {
	inbounds := make(map[string]string)
	for tag, addr := range gw.manager.Inbounds() {
		inbounds[tag] = addr.String()
	}

	return api.Status{
		Name:           gw.name,
		Started:        gw.started,
		Inbounds:       inbounds,
		AcceptedUnits:  gw.manager.Accepted(),
		ActiveSessions: gw.forwarder.Active(),
		Upstream:       gw.forwarder.Upstream(),
	}
}

// Sessions implements the api.Gateway interface.
func (gw *gateway) Sessions(limit int) ([]journal.SessionRecord, error) {
	if gw.journal == nil {
		return nil, nil
	}
	return gw.journal.Recent(limit)
}

func (gw *gateway) SessionsSince(t time.Time) ([]journal.SessionRecord, error) {
	if gw.journal == nil {
		return nil, nil
	}
	return gw.journal.Since(t)
}

// ExportSessions implements the api.Gateway interface.
func (gw *gateway) ExportSessions(w io.Writer) error {
	if gw.journal == nil {
		return errors.New("no journal configured")
	}
	return gw.journal.Export(w)
}

// Peers implements the api.Gateway interface.
func (gw *gateway) Peers() []discovery.Peer {
	if gw.discovery == nil {
		return nil
	}
	return gw.discovery.Peers()
}

// Close shuts all parts down: first the producing side, then the sessions
// in flight, the certificate watchers and finally the journal.
func (gw *gateway) Close() error {
	var errs *multierror.Error

	if gw.discovery != nil {
		gw.discovery.Close()
	}
	if gw.apiServer != nil {
		errs = multierror.Append(errs, gw.apiServer.Close())
	}

	errs = multierror.Append(errs, gw.manager.Close())

	gw.cancel()
	gw.wg.Wait()

	for _, handler := range gw.handlers {
		errs = multierror.Append(errs, handler.Close())
	}
	if gw.journal != nil {
		errs = multierror.Append(errs, gw.journal.Close())
	}

	return errs.ErrorOrNil()
}
