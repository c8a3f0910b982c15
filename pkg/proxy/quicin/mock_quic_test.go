// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicin

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// fakeEndpoint mocks an Endpoint whose connection attempts are fed in
// directly.
type fakeEndpoint struct {
	connChan chan quic.EarlyConnection
	addr     net.Addr

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		connChan: make(chan quic.EarlyConnection, 16),
		addr:     &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433},
		closed:   make(chan struct{}),
	}
}

func (e *fakeEndpoint) offer(conn quic.EarlyConnection) {
	e.connChan <- conn
}

func (e *fakeEndpoint) Accept(ctx context.Context) (quic.EarlyConnection, error) {
	select {
	case conn := <-e.connChan:
		return conn, nil
	case <-e.closed:
		return nil, quic.ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *fakeEndpoint) Addr() net.Addr { return e.addr }

func (e *fakeEndpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

// fakeConnection mocks a quic.EarlyConnection whose handshake outcome and
// stream accepts are controlled by the test.
type fakeConnection struct {
	handshakeDone chan struct{}
	handshakeOnce sync.Once

	ctx    context.Context
	cancel context.CancelCauseFunc

	local  net.Addr
	remote net.Addr

	streams   chan quic.Stream
	streamErr chan error

	closeMutex sync.Mutex
	closeCode  *quic.ApplicationErrorCode
}

func newFakeConnection(remote string) *fakeConnection {
	addr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	return &fakeConnection{
		handshakeDone: make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		local:         &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433},
		remote:        addr,
		streams:       make(chan quic.Stream, 16),
		streamErr:     make(chan error, 1),
	}
}

func (c *fakeConnection) completeHandshake() {
	c.handshakeOnce.Do(func() { close(c.handshakeDone) })
}

// terminate kills the connection: a pending handshake fails, an
// established connection dies with the given cause.
func (c *fakeConnection) terminate(err error) {
	c.cancel(err)
}

func (c *fakeConnection) offerStream(stream quic.Stream) {
	c.streams <- stream
}

func (c *fakeConnection) failStreamAccept(err error) {
	c.streamErr <- err
}

func (c *fakeConnection) closedWith() *quic.ApplicationErrorCode {
	c.closeMutex.Lock()
	defer c.closeMutex.Unlock()
	return c.closeCode
}

func (c *fakeConnection) AcceptStream(ctx context.Context) (quic.Stream, error) {
	select {
	case stream := <-c.streams:
		return stream, nil
	case err := <-c.streamErr:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, context.Cause(c.ctx)
	}
}

func (c *fakeConnection) AcceptUniStream(ctx context.Context) (quic.ReceiveStream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConnection) OpenStream() (quic.Stream, error) {
	return nil, fmt.Errorf("fakeConnection opens no streams")
}

func (c *fakeConnection) OpenStreamSync(_ context.Context) (quic.Stream, error) {
	return nil, fmt.Errorf("fakeConnection opens no streams")
}

func (c *fakeConnection) OpenUniStream() (quic.SendStream, error) {
	return nil, fmt.Errorf("fakeConnection opens no streams")
}

func (c *fakeConnection) OpenUniStreamSync(_ context.Context) (quic.SendStream, error) {
	return nil, fmt.Errorf("fakeConnection opens no streams")
}

func (c *fakeConnection) LocalAddr() net.Addr { return c.local }

func (c *fakeConnection) RemoteAddr() net.Addr { return c.remote }

func (c *fakeConnection) CloseWithError(code quic.ApplicationErrorCode, msg string) error {
	c.closeMutex.Lock()
	if c.closeCode == nil {
		c.closeCode = &code
	}
	c.closeMutex.Unlock()

	c.cancel(&quic.ApplicationError{ErrorCode: code, ErrorMessage: msg})
	return nil
}

func (c *fakeConnection) Context() context.Context { return c.ctx }

func (c *fakeConnection) ConnectionState() quic.ConnectionState {
	return quic.ConnectionState{}
}

func (c *fakeConnection) SendDatagram(_ []byte) error {
	return fmt.Errorf("fakeConnection sends no datagrams")
}

func (c *fakeConnection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConnection) HandshakeComplete() <-chan struct{} { return c.handshakeDone }

func (c *fakeConnection) NextConnection() quic.Connection { return c }

// fakeStream mocks a quic.Stream with a fixed ID, recording cancellations.
type fakeStream struct {
	id quic.StreamID

	mutex       sync.Mutex
	readCancel  *quic.StreamErrorCode
	writeClosed bool
}

func newFakeStream(id quic.StreamID) *fakeStream {
	return &fakeStream{id: id}
}

func (s *fakeStream) StreamID() quic.StreamID { return s.id }

func (s *fakeStream) Read(_ []byte) (int, error) { return 0, nil }

func (s *fakeStream) Write(b []byte) (int, error) { return len(b), nil }

func (s *fakeStream) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.writeClosed = true
	return nil
}

func (s *fakeStream) CancelRead(code quic.StreamErrorCode) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.readCancel == nil {
		s.readCancel = &code
	}
}

func (s *fakeStream) CancelWrite(_ quic.StreamErrorCode) {}

func (s *fakeStream) Context() context.Context { return context.Background() }

func (s *fakeStream) SetDeadline(_ time.Time) error      { return nil }
func (s *fakeStream) SetReadDeadline(_ time.Time) error  { return nil }
func (s *fakeStream) SetWriteDeadline(_ time.Time) error { return nil }
