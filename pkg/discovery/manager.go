// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schollz/peerdiscovery"
)

// Peer is another gateway heard on the multicast group.
type Peer struct {
	Announcement Announcement `json:"announcement"`
	Address      string       `json:"address"`
	LastSeen     time.Time    `json:"last_seen"`
}

func (peer Peer) key() string {
	return fmt.Sprintf("%s/%s/%s/%d",
		peer.Address, peer.Announcement.Name, peer.Announcement.Protocol, peer.Announcement.Port)
}

// Manager publishes this gateway's Announcements on the multicast groups
// and keeps a last-seen registry of the announcements of other gateways.
//
// NotifyFunc fires when a gateway is heard for the first time or heard
// again after having been dropped from the registry.
type Manager struct {
	Name       string
	NotifyFunc func(Announcement, string)

	interval time.Duration
	peers    sync.Map

	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewManager starts announcing on the selected multicast groups. With an
// empty announcement list it serves as a pure listener.
func NewManager(
	name string, notifyFunc func(Announcement, string),
	announcements []Announcement, announcementInterval time.Duration,
	ipv4, ipv6 bool) (*Manager, error) {

	var manager = &Manager{
		Name:       name,
		NotifyFunc: notifyFunc,
		interval:   announcementInterval,
	}

	log.WithFields(log.Fields{
		"interval":      announcementInterval,
		"IPv4":          ipv4,
		"IPv6":          ipv6,
		"announcements": announcements,
	}).Info("Starting discovery Manager")

	msg, err := MarshalAnnouncements(announcements)
	if err != nil {
		return nil, err
	}

	if ipv4 {
		manager.stopChan4 = make(chan struct{})
		if err := manager.launch(address4, peerdiscovery.IPv4, msg, manager.stopChan4, manager.notify); err != nil {
			return nil, err
		}
	}
	if ipv6 {
		manager.stopChan6 = make(chan struct{})
		if err := manager.launch(address6, peerdiscovery.IPv6, msg, manager.stopChan6, manager.notify6); err != nil {
			return nil, err
		}
	}

	return manager, nil
}

// launch runs peer discovery for one multicast group in the background.
// Startup errors surface within a grace second; afterwards discovery runs
// until the stop channel fires.
func (manager *Manager) launch(
	multicastAddress string, ipVersion peerdiscovery.IPVersion,
	payload []byte, stopChan chan struct{},
	notify func(discovered peerdiscovery.Discovered)) error {

	settings := peerdiscovery.Settings{
		Limit:            -1,
		Port:             fmt.Sprintf("%d", port),
		MulticastAddress: multicastAddress,
		Payload:          payload,
		Delay:            manager.interval,
		TimeLimit:        -1,
		StopChan:         stopChan,
		AllowSelf:        true,
		IPVersion:        ipVersion,
		Notify:           notify,
	}

	errChan := make(chan error)
	go func() {
		_, discoverErr := peerdiscovery.Discover(settings)
		errChan <- discoverErr
	}()

	select {
	case discoverErr := <-errChan:
		return discoverErr

	case <-time.After(time.Second):
		return nil
	}
}

func (manager *Manager) notify6(discovered peerdiscovery.Discovered) {
	// An IPv6 address needs brackets next to a port.
	discovered.Address = fmt.Sprintf("[%s]", discovered.Address)

	manager.notify(discovered)
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"discovery": manager.Name,
			"peer":      discovered.Address,
		}).Warn("Peer discovery failed to parse incoming package")

		return
	}

	for _, announcement := range announcements {
		go manager.handleDiscovery(announcement, discovered.Address)
	}
}

func (manager *Manager) handleDiscovery(announcement Announcement, addr string) {
	log.WithFields(log.Fields{
		"discovery": manager.Name,
		"peer":      addr,
		"message":   announcement,
	}).Debug("Peer discovery received a message")

	// Our own announcements come back through the multicast group.
	if announcement.Name == manager.Name {
		return
	}

	peer := Peer{
		Announcement: announcement,
		Address:      addr,
		LastSeen:     time.Now(),
	}

	if _, known := manager.peers.Swap(peer.key(), peer); !known && manager.NotifyFunc != nil {
		manager.NotifyFunc(announcement, addr)
	}
}

// Peers lists the gateways heard recently, newest first. Gateways silent
// for three announcement intervals are dropped.
func (manager *Manager) Peers() (peers []Peer) {
	deadline := time.Now().Add(-3 * manager.interval)

	manager.peers.Range(func(key, value interface{}) bool {
		if peer := value.(Peer); peer.LastSeen.Before(deadline) {
			manager.peers.Delete(key)
		} else {
			peers = append(peers, peer)
		}

		return true
	})

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].LastSeen.After(peers[j].LastSeen)
	})

	return
}

// Close this Manager.
func (manager *Manager) Close() {
	for _, c := range []chan struct{}{manager.stopChan4, manager.stopChan6} {
		if c != nil {
			c <- struct{}{}
		}
	}
}
