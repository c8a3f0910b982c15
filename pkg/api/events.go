// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/quicgw/quicgw-go/pkg/proxy"
)

// Event kinds pushed to /v1/events subscribers.
const (
	EventSessionOpened  = "session-opened"
	EventSessionClosed  = "session-closed"
	EventPeerDiscovered = "peer-discovered"
)

// Event is one occurrence pushed to /v1/events subscribers.
type Event struct {
	Kind   string            `json:"kind"`
	Time   time.Time         `json:"time"`
	Detail map[string]string `json:"detail,omitempty"`
}

// SessionEvent builds an Event describing a session's state change.
func SessionEvent(kind string, session proxy.Session) Event {
	detail := map[string]string{
		"inbound": session.Inbound,
		"stream":  strconv.FormatUint(session.StreamID, 10),
	}
	if session.Source != nil {
		detail["source"] = session.Source.String()
	}

	return Event{
		Kind:   kind,
		Time:   time.Now(),
		Detail: detail,
	}
}

// eventClient is one connected /v1/events subscriber. The mutex serializes
// concurrent writes onto the WebSocket connection.
type eventClient struct {
	sync.Mutex

	conn *websocket.Conn

	closeOnce sync.Once
}

func (client *eventClient) write(data []byte) error {
	client.Lock()
	defer client.Unlock()

	return client.conn.WriteMessage(websocket.TextMessage, data)
}

func (client *eventClient) close() {
	client.closeOnce.Do(func() { _ = client.conn.Close() })
}

// handleEvents upgrades /v1/events GET requests to WebSocket
// subscriptions.
func (server *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := server.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	client := &eventClient{conn: conn}
	key := conn.RemoteAddr().String()
	server.clients.Store(key, client)

	log.WithField("client", key).Debug("Event subscriber connected")

	// Subscribers do not talk back; the read loop just surfaces closure.
	go func() {
		defer func() {
			server.clients.Delete(key)
			client.close()

			log.WithField("client", key).Debug("Event subscriber disconnected")
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// PublishEvent pushes an Event to every connected subscriber. Subscribers
// failing to take the write are dropped.
func (server *Server) PublishEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Warn("Marshalling event errored")
		return
	}

	server.clients.Range(func(key, value interface{}) bool {
		client := value.(*eventClient)
		if err := client.write(data); err != nil {
			log.WithField("client", key).WithError(err).Debug("Dropping event subscriber")

			server.clients.Delete(key)
			client.close()
		}
		return true
	})
}
