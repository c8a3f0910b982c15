// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicin

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/quicgw/quicgw-go/pkg/proxy"
	"github.com/quicgw/quicgw-go/pkg/proxy/quicin/internal"
)

// Endpoint is the bound listening abstraction an Incoming drives. It is
// satisfied by *quic.EarlyListener and created once per Handle call.
type Endpoint interface {
	// Accept blocks until a new inbound connection attempt arrives. The
	// attempt's handshake may still be running.
	Accept(ctx context.Context) (quic.EarlyConnection, error)

	// Addr returns the bound local address.
	Addr() net.Addr

	// Close shuts the endpoint down. Accept returns quic.ErrServerClosed
	// afterwards.
	Close() error
}

// handshakeResult reports one pending attempt's resolution: an established
// connection or its terminal failure, never both.
type handshakeResult struct {
	conn quic.EarlyConnection
	err  error
}

// acceptResult reports one stream accept on an established connection. An
// error means the connection is given up on.
type acceptResult struct {
	conn quic.EarlyConnection
	unit *proxy.Unit
	err  error
}

// Incoming multiplexes an endpoint's connection attempts, established
// connections and their bidirectional streams into one sequence of Units.
//
// Three stages feed a coordinator: an accept relay collects new attempts
// until the endpoint reports closure, one handshake watcher runs per
// pending attempt, and one stream acceptor runs per established
// connection. The coordinator alone keeps the pending and established
// bookkeeping, so no lock is needed. Units pass through an unbuffered
// channel, handing over one accepted stream per consumer pull; everything
// behind it waits. The unit channel closes exactly when the endpoint is
// closed and neither pending nor established connections remain.
type Incoming struct {
	endpoint Endpoint

	ctx    context.Context
	cancel context.CancelFunc

	attempts chan quic.EarlyConnection
	resolved chan handshakeResult
	accepted chan acceptResult

	units chan *proxy.Unit

	// done closes when the coordinator has returned. The stage goroutines
	// select on it to abandon reports nobody will ever receive.
	done chan struct{}

	closeOnce sync.Once
	closeErr  error

	pendingHandshakes      atomic.Int64
	establishedConnections atomic.Int64
	acceptedStreams        atomic.Uint64
	failedHandshakes       atomic.Uint64
	droppedConnections     atomic.Uint64
}

// Stats is a point-in-time snapshot of an Incoming's internals.
type Stats struct {
	PendingHandshakes      int64
	EstablishedConnections int64
	AcceptedStreams        uint64
	FailedHandshakes       uint64
	DroppedConnections     uint64
}

// NewIncoming starts multiplexing the given endpoint.
func NewIncoming(endpoint Endpoint) *Incoming {
	ctx, cancel := context.WithCancel(context.Background())

	in := &Incoming{
		endpoint: endpoint,

		ctx:    ctx,
		cancel: cancel,

		attempts: make(chan quic.EarlyConnection),
		resolved: make(chan handshakeResult),
		accepted: make(chan acceptResult),

		units: make(chan *proxy.Unit),
		done:  make(chan struct{}),
	}

	go in.acceptLoop()
	go in.coordinate()

	return in
}

// Units returns the sequence of accepted streams. The channel closes once
// the endpoint is closed and all in-flight work has drained; that closure
// is a normal end, not a failure.
func (in *Incoming) Units() <-chan *proxy.Unit {
	return in.units
}

// Address returns the endpoint's bound address.
func (in *Incoming) Address() net.Addr {
	return in.endpoint.Addr()
}

// Stats snapshots the multiplexer's gauges and counters.
func (in *Incoming) Stats() Stats {
	return Stats{
		PendingHandshakes:      in.pendingHandshakes.Load(),
		EstablishedConnections: in.establishedConnections.Load(),
		AcceptedStreams:        in.acceptedStreams.Load(),
		FailedHandshakes:       in.failedHandshakes.Load(),
		DroppedConnections:     in.droppedConnections.Load(),
	}
}

// Close shuts the endpoint down and abandons every held connection without
// a peer-visible goodbye beyond the close frame. It returns once the unit
// channel has closed.
func (in *Incoming) Close() error {
	in.closeOnce.Do(func() {
		in.cancel()
		in.closeErr = in.endpoint.Close()
		<-in.done
	})

	return in.closeErr
}

// acceptLoop relays the endpoint's connection attempts to the coordinator
// until the endpoint reports closure. Closing the attempts channel records
// that closure permanently.
func (in *Incoming) acceptLoop() {
	defer close(in.attempts)

	for {
		conn, err := in.endpoint.Accept(in.ctx)
		if err != nil {
			if errors.Is(err, quic.ErrServerClosed) || errors.Is(err, context.Canceled) {
				log.WithField("address", in.endpoint.Addr()).Debug("QUIC endpoint closed")
			} else {
				log.WithFields(log.Fields{
					"address": in.endpoint.Addr(),
					"error":   err,
				}).Error("Unknown error accepting QUIC connection")
			}
			return
		}

		select {
		case in.attempts <- conn:

		case <-in.ctx.Done():
			_ = conn.CloseWithError(internal.ApplicationShutdown, "gateway shutting down")
			return
		}
	}
}

// awaitHandshake watches one pending attempt until it either completes its
// handshake or dies trying, reporting exactly one resolution.
func (in *Incoming) awaitHandshake(conn quic.EarlyConnection) {
	var res handshakeResult

	select {
	case <-conn.HandshakeComplete():
		res = handshakeResult{conn: conn}

	case <-conn.Context().Done():
		res = handshakeResult{err: connectionCause(conn.Context())}

	case <-in.ctx.Done():
		_ = conn.CloseWithError(internal.ApplicationShutdown, "gateway shutting down")
		return
	}

	select {
	case in.resolved <- res:

	case <-in.done:
		if res.conn != nil {
			_ = res.conn.CloseWithError(internal.ApplicationShutdown, "gateway shutting down")
		}
	}
}

// acceptStreams accepts bidirectional streams on one established
// connection. The first accept failure is reported and ends this acceptor,
// which is what drops the connection for good: without its acceptor it is
// never scanned again.
func (in *Incoming) acceptStreams(conn quic.EarlyConnection) {
	for {
		stream, err := conn.AcceptStream(in.ctx)
		if err != nil {
			if in.ctx.Err() != nil {
				return
			}

			select {
			case in.accepted <- acceptResult{conn: conn, err: err}:
			case <-in.done:
			}
			return
		}

		unit := &proxy.Unit{
			Conn: newStreamConn(conn, stream),
			Session: proxy.Session{
				Source:   conn.RemoteAddr(),
				StreamID: streamIndex(stream.StreamID()),
			},
		}

		select {
		case in.accepted <- acceptResult{conn: conn, unit: unit}:

		case <-in.done:
			_ = unit.Conn.Close()
			return
		}
	}
}

// coordinate is the multiplexer's single bookkeeping goroutine.
func (in *Incoming) coordinate() {
	defer close(in.done)

	established := make(map[quic.EarlyConnection]struct{})
	pending := 0
	attempts := in.attempts

	defer func() {
		for conn := range established {
			_ = conn.CloseWithError(internal.ApplicationShutdown, "gateway shutting down")
		}
	}()

	for {
		// Terminal iff no further attempts can arrive and both sets are
		// empty at the same instant.
		if attempts == nil && pending == 0 && len(established) == 0 {
			close(in.units)
			return
		}

		select {
		case <-in.ctx.Done():
			close(in.units)
			return

		case conn, ok := <-attempts:
			if !ok {
				attempts = nil
				continue
			}

			pending++
			in.pendingHandshakes.Store(int64(pending))
			go in.awaitHandshake(conn)

		case res := <-in.resolved:
			pending--
			in.pendingHandshakes.Store(int64(pending))

			if res.err != nil {
				in.failedHandshakes.Add(1)
				log.WithError(res.err).Debug("QUIC connect failed")
				continue
			}

			established[res.conn] = struct{}{}
			in.establishedConnections.Store(int64(len(established)))
			go in.acceptStreams(res.conn)

		case res := <-in.accepted:
			if res.err != nil {
				delete(established, res.conn)
				in.establishedConnections.Store(int64(len(established)))
				in.droppedConnections.Add(1)

				log.WithFields(log.Fields{
					"peer":  res.conn.RemoteAddr(),
					"error": res.err,
				}).Debug("new quic bidirectional stream failed")

				_ = res.conn.CloseWithError(internal.ConnectionError, "stream accept failed")
				continue
			}

			select {
			case in.units <- res.unit:
				in.acceptedStreams.Add(1)

			case <-in.ctx.Done():
				_ = res.unit.Conn.Close()
				close(in.units)
				return
			}
		}
	}
}

// connectionCause extracts the reason a connection's context ended.
func connectionCause(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
