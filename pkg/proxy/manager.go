// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proxy

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Manager supervises the registered Inbounds and fans their accepted Units
// into a single channel. The recipient can serve the streams without taking
// care of the inbound administration themselves.
type Manager struct {
	// inbounds maps each Inbound's tag to it.
	// inbounds: Map[string]Inbound
	inbounds *sync.Map

	// inChnl receives Units from the pump goroutines while outChnl passes
	// them on. outChnl is not buffered and must always be read, otherwise
	// the Manager will block.
	inChnl  chan *Unit
	outChnl chan *Unit

	// accepted counts every Unit passed on over this Manager's lifetime.
	accepted atomic.Uint64

	// stop{Syn,Ack} are used to supervise closing this Manager, see Close()
	stopSyn chan struct{}
	stopAck chan struct{}

	// stopFlag and its mutex protect the Manager against acting on new
	// Inbounds after the Close method was called once.
	stopFlag      bool
	stopFlagMutex sync.Mutex
}

// NewManager creates a new Manager to supervise different Inbounds.
func NewManager() *Manager {
	manager := &Manager{
		inbounds: new(sync.Map),

		inChnl:  make(chan *Unit, 100),
		outChnl: make(chan *Unit),

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),

		stopFlag: false,
	}

	go manager.handler()

	return manager
}

// handler is the internal goroutine for management.
func (manager *Manager) handler() {
	for {
		select {
		case <-manager.stopSyn:
			log.Debug("Inbound Manager received closing signal")

			manager.inbounds.Range(func(tag, inElem interface{}) bool {
				if err := inElem.(Inbound).Close(); err != nil {
					log.WithFields(log.Fields{
						"inbound": tag,
						"error":   err,
					}).Warn("Closing inbound errored")
				}
				return true
			})

			close(manager.outChnl)
			close(manager.stopAck)
			return

		case unit := <-manager.inChnl:
			select {
			case manager.outChnl <- unit:
				manager.accepted.Add(1)

			case <-manager.stopSyn:
				_ = unit.Conn.Close()
			}
		}
	}
}

// Channel references the outgoing channel for accepted Units.
func (manager *Manager) Channel() chan *Unit {
	return manager.outChnl
}

// isStopped signals if the Manager should be stopped.
func (manager *Manager) isStopped() bool {
	manager.stopFlagMutex.Lock()
	defer manager.stopFlagMutex.Unlock()

	return manager.stopFlag
}

// Close the Manager and all registered Inbounds.
func (manager *Manager) Close() error {
	manager.stopFlagMutex.Lock()
	manager.stopFlag = true
	manager.stopFlagMutex.Unlock()

	close(manager.stopSyn)
	<-manager.stopAck

	return nil
}

// Register an Inbound under a unique tag and start passing its Units on.
// Registration is refused after Close or if the tag is already taken.
func (manager *Manager) Register(tag string, inbound Inbound) error {
	if manager.isStopped() {
		return fmt.Errorf("manager is closed")
	}

	if _, exists := manager.inbounds.LoadOrStore(tag, inbound); exists {
		log.WithFields(log.Fields{
			"inbound": tag,
			"address": inbound.Address(),
		}).Debug("Inbound registration failed, because this tag does already exists")

		return fmt.Errorf("inbound tag %s is already registered", tag)
	}

	log.WithFields(log.Fields{
		"inbound": tag,
		"address": inbound.Address(),
	}).Info("Inbound Manager registered new inbound")

	go manager.pump(tag, inbound)

	return nil
}

// Unregister an Inbound by its tag, closing it.
func (manager *Manager) Unregister(tag string) {
	inElem, exists := manager.inbounds.Load(tag)
	if !exists {
		log.WithField("inbound", tag).Info("Inbound unregistration failed, this tag does not exists")

		return
	}

	manager.inbounds.Delete(tag)
	if err := inElem.(Inbound).Close(); err != nil {
		log.WithFields(log.Fields{
			"inbound": tag,
			"error":   err,
		}).Warn("Closing inbound errored")
	}
}

// pump moves an Inbound's Units to the central channel, stamping each
// Session on the way. It detaches the Inbound once it has finished.
func (manager *Manager) pump(tag string, inbound Inbound) {
	for unit := range inbound.Units() {
		unit.Session.Inbound = tag
		unit.Session.OpenedAt = time.Now()

		select {
		case manager.inChnl <- unit:

		case <-manager.stopSyn:
			_ = unit.Conn.Close()
			return
		}
	}

	log.WithField("inbound", tag).Info("Inbound finished, detaching from Manager")
	manager.inbounds.Delete(tag)
}

// Inbounds returns the tags and bound addresses of all registered Inbounds.
func (manager *Manager) Inbounds() map[string]net.Addr {
	inbounds := make(map[string]net.Addr)
	manager.inbounds.Range(func(tag, inElem interface{}) bool {
		inbounds[tag.(string)] = inElem.(Inbound).Address()
		return true
	})
	return inbounds
}

// Accepted returns the count of Units passed on so far.
func (manager *Manager) Accepted() uint64 {
	return manager.accepted.Load()
}
