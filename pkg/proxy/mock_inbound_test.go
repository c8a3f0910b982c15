// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proxy

import (
	"net"
	"sync"
	"time"
)

// mockAddr is a net.Addr with directly editable fields.
type mockAddr struct {
	network string
	address string
}

func (addr mockAddr) Network() string { return addr.network }

func (addr mockAddr) String() string { return addr.address }

// mockConn is a net.Conn doing nothing at all.
type mockConn struct{}

func (mockConn) Read(_ []byte) (int, error)  { return 0, nil }
func (mockConn) Write(b []byte) (int, error) { return len(b), nil }
func (mockConn) Close() error                { return nil }

func (mockConn) LocalAddr() net.Addr  { return mockAddr{"mock", "local"} }
func (mockConn) RemoteAddr() net.Addr { return mockAddr{"mock", "remote"} }

func (mockConn) SetDeadline(_ time.Time) error      { return nil }
func (mockConn) SetReadDeadline(_ time.Time) error  { return nil }
func (mockConn) SetWriteDeadline(_ time.Time) error { return nil }

// mockInbound mocks an Inbound where the unit channel can be fed directly.
type mockInbound struct {
	// unitChan is the channel, which can be directly used for mocking purpose.
	unitChan chan *Unit

	// address is this mockInbound's bound address.
	address mockAddr

	closeOnce sync.Once
}

func newMockInbound(address string) *mockInbound {
	return &mockInbound{
		unitChan: make(chan *Unit),
		address:  mockAddr{network: "mock", address: address},
	}
}

func (m *mockInbound) Units() <-chan *Unit { return m.unitChan }

func (m *mockInbound) Address() net.Addr { return m.address }

func (m *mockInbound) Close() error {
	m.closeOnce.Do(func() { close(m.unitChan) })
	return nil
}
