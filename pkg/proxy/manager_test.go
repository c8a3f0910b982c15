// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proxy

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestManagerFanIn(t *testing.T) {
	const (
		inboundNo int = 25
		unitNo    int = 100
	)

	/* Setup */
	var manager = NewManager()
	defer func() { _ = manager.Close() }()

	// Read the Manager's outbounding channel
	var readErrCh = make(chan error, inboundNo*unitNo)
	go func(ch chan *Unit) {
		for unit := range ch {
			if unit.Session.Inbound == "" {
				readErrCh <- fmt.Errorf("Session misses its inbound tag")
			} else if unit.Session.OpenedAt.IsZero() {
				readErrCh <- fmt.Errorf("Session misses its opened-at stamp")
			} else {
				readErrCh <- nil
			}
		}
	}(manager.Channel())

	var inbounds [inboundNo]*mockInbound
	for i := 0; i < inboundNo; i++ {
		inbounds[i] = newMockInbound(fmt.Sprintf("mock://inbound_%d/", i))

		if err := manager.Register(fmt.Sprintf("mock_%d", i), inbounds[i]); err != nil {
			t.Fatal(err)
		}
	}

	if l := len(manager.Inbounds()); l != inboundNo {
		t.Fatalf("Wrong amount of inbounds, expected: %d, got: %d", inboundNo, l)
	}

	/* Produce some units */
	var feedWg sync.WaitGroup
	feedWg.Add(inboundNo)

	for i := 0; i < inboundNo; i++ {
		go func(m *mockInbound, i int) {
			for j := 0; j < unitNo; j++ {
				m.unitChan <- &Unit{
					Conn:    mockConn{},
					Session: Session{StreamID: uint64(j)},
				}
			}
			feedWg.Done()
		}(inbounds[i], i)
	}

	feedWg.Wait()

	/* Check results */
	for i := 0; i < inboundNo*unitNo; i++ {
		if err := <-readErrCh; err != nil {
			t.Fatal(err)
		}
	}

	// The counter is incremented after the hand-over; give it a moment.
	for i := 0; i < 100; i++ {
		if manager.Accepted() == uint64(inboundNo*unitNo) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if a := manager.Accepted(); a != uint64(inboundNo*unitNo) {
		t.Fatalf("Wrong amount of accepted units, expected: %d, got: %d", inboundNo*unitNo, a)
	}
}

func TestManagerDetachFinished(t *testing.T) {
	var manager = NewManager()
	defer func() { _ = manager.Close() }()

	go func(ch chan *Unit) {
		for range ch {
		}
	}(manager.Channel())

	var inbound = newMockInbound("mock://inbound/")
	if err := manager.Register("mock", inbound); err != nil {
		t.Fatal(err)
	}

	// A finished Inbound closes its unit channel; the Manager must detach it.
	_ = inbound.Close()

	for i := 0; i < 100; i++ {
		if len(manager.Inbounds()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Manager did not detach the finished inbound")
}

func TestManagerDuplicateTag(t *testing.T) {
	var manager = NewManager()
	defer func() { _ = manager.Close() }()

	go func(ch chan *Unit) {
		for range ch {
		}
	}(manager.Channel())

	if err := manager.Register("mock", newMockInbound("mock://inbound_0/")); err != nil {
		t.Fatal(err)
	}
	if err := manager.Register("mock", newMockInbound("mock://inbound_1/")); err == nil {
		t.Fatal("Registering a duplicate tag did not error")
	}
}

func TestManagerRegisterAfterClose(t *testing.T) {
	var manager = NewManager()
	if err := manager.Close(); err != nil {
		t.Fatal(err)
	}

	if err := manager.Register("mock", newMockInbound("mock://inbound/")); err == nil {
		t.Fatal("Registering on a closed Manager did not error")
	}
}
