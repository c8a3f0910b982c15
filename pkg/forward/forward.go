// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package forward relays accepted streams to a TCP upstream.
package forward

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quicgw/quicgw-go/pkg/proxy"
)

// Forwarder connects every accepted stream to a fixed TCP upstream and
// copies bytes in both directions until the exchange ends. It implements
// the proxy.Handler interface.
type Forwarder struct {
	upstream string
	dialer   *net.Dialer

	active  atomic.Int64
	handled atomic.Uint64
}

// NewForwarder creates a Forwarder for the given upstream address. The
// timeout bounds dialing, not the lifetime of a relayed session.
func NewForwarder(upstream string, dialTimeout time.Duration) *Forwarder {
	return &Forwarder{
		upstream: upstream,
		dialer:   &net.Dialer{Timeout: dialTimeout},
	}
}

// Upstream returns the configured upstream address.
func (fw *Forwarder) Upstream() string {
	return fw.upstream
}

// Active returns the number of sessions currently being relayed.
func (fw *Forwarder) Active() int64 {
	return fw.active.Load()
}

// Handled returns the number of sessions ever taken on, including those
// whose upstream dial failed.
func (fw *Forwarder) Handled() uint64 {
	return fw.handled.Load()
}

// NewConnection dials the upstream and relays between it and conn. The
// call blocks until both directions have finished or ctx is cancelled;
// conn is closed in every case.
func (fw *Forwarder) NewConnection(ctx context.Context, conn net.Conn, session proxy.Session) error {
	fw.handled.Add(1)

	up, err := fw.dialer.DialContext(ctx, "tcp", fw.upstream)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("dialing upstream %s: %w", fw.upstream, err)
	}

	fw.active.Add(1)
	defer fw.active.Add(-1)

	log.WithFields(log.Fields{
		"session":  session,
		"upstream": up.RemoteAddr(),
	}).Info("Relaying session")

	relay(ctx, conn, up, func(err error) {
		log.WithField("session", session).WithError(err).Debug("Session copy errored")
	})

	log.WithField("session", session).Debug("Session finished")
	return nil
}

type closeWriter interface {
	CloseWrite() error
}

// halfClose signals EOF on conn's sending half if the transport supports
// it and closes the whole connection otherwise.
func halfClose(conn net.Conn) {
	if cw, ok := conn.(closeWriter); ok {
		_ = cw.CloseWrite()
	} else {
		_ = conn.Close()
	}
}

// relay copies both directions between a and b. Each direction forwards
// its EOF through a half-close, so a finished request does not cut off
// the response. Both connections are fully closed before returning.
func relay(ctx context.Context, a, b net.Conn, logErr func(error)) {
	var wg sync.WaitGroup
	var once sync.Once

	closeBoth := func() {
		_ = a.Close()
		_ = b.Close()
	}
	defer once.Do(closeBoth)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			once.Do(closeBoth)
		case <-done:
		}
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := io.Copy(b, a); err != nil {
			logErr(err)
		}
		halfClose(b)
	}()
	go func() {
		defer wg.Done()
		if _, err := io.Copy(a, b); err != nil {
			logErr(err)
		}
		halfClose(a)
	}()

	wg.Wait()
}
