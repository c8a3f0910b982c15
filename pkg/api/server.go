// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package api exposes the gateway's administrative HTTP interface.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/quicgw/quicgw-go/pkg/discovery"
	"github.com/quicgw/quicgw-go/pkg/journal"
)

// Gateway is the running daemon's view served by the API.
type Gateway interface {
	// Status describes the current state of the gateway.
	Status() Status

	// Sessions returns up to limit finished sessions, newest first.
	Sessions(limit int) ([]journal.SessionRecord, error)

	// SessionsSince returns all sessions accepted at or after t.
	SessionsSince(t time.Time) ([]journal.SessionRecord, error)

	// ExportSessions writes the whole session journal as an xz-compressed
	// JSON stream.
	ExportSessions(w io.Writer) error

	// Peers lists the other gateways heard through peer discovery.
	Peers() []discovery.Peer
}

// Status is the snapshot served under /v1/status.
type Status struct {
	Name           string            `json:"name"`
	Started        time.Time         `json:"started"`
	Inbounds       map[string]string `json:"inbounds"`
	AcceptedUnits  uint64            `json:"accepted_units"`
	ActiveSessions int64             `json:"active_sessions"`
	Upstream       string            `json:"upstream"`
}

// Server is the administrative HTTP endpoint. Beside the RESTful state
// under /v1, it pushes Events to WebSocket subscribers of /v1/events.
type Server struct {
	gateway Gateway

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	clients sync.Map // remote address -> *eventClient
}

func newServer(gateway Gateway) (server *Server) {
	server = &Server{
		gateway: gateway,

		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{},
	}
	server.bindRoutes()

	return
}

// NewServer starts an administrative endpoint on the given address.
func NewServer(address string, gateway Gateway) (server *Server, err error) {
	server = newServer(gateway)
	server.httpServer = &http.Server{
		Addr:    address,
		Handler: server.router,
	}

	startupErr := make(chan error)
	go func() {
		if err := server.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			startupErr <- err
		}

		close(startupErr)
	}()

	select {
	case err = <-startupErr:
		server = nil
	case <-time.After(100 * time.Millisecond):
	}

	return
}

func (server *Server) bindRoutes() {
	server.router.HandleFunc("/v1/status", server.handleStatus).Methods(http.MethodGet)
	server.router.HandleFunc("/v1/sessions", server.handleSessions).Methods(http.MethodGet)
	server.router.HandleFunc("/v1/sessions/export", server.handleExport).Methods(http.MethodGet)
	server.router.HandleFunc("/v1/peers", server.handlePeers).Methods(http.MethodGet)
	server.router.HandleFunc("/v1/events", server.handleEvents).Methods(http.MethodGet)
}

// ServeHTTP dispatches to the Server's routes; http.Handler compatible.
func (server *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	server.router.ServeHTTP(w, r)
}

// Close shuts the HTTP server down and disconnects event subscribers.
func (server *Server) Close() error {
	server.clients.Range(func(key, value interface{}) bool {
		value.(*eventClient).close()
		server.clients.Delete(key)
		return true
	})

	if server.httpServer == nil {
		return nil
	}
	return server.httpServer.Close()
}

// handleStatus processes /v1/status GET requests.
func (server *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(server.gateway.Status()); err != nil {
		log.WithError(err).Warn("Failed to write status response")
	}
}

// handleSessions processes /v1/sessions GET requests. An optional limit
// query parameter bounds the record count, defaulting to 50. A since
// parameter, RFC 3339 formatted, selects all records from that time on
// instead and makes limit irrelevant.
func (server *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	var records []journal.SessionRecord
	var err error

	if q := r.URL.Query().Get("since"); q != "" {
		since, parseErr := time.Parse(time.RFC3339, q)
		if parseErr != nil {
			http.Error(w, "since must be an RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		records, err = server.gateway.SessionsSince(since)
	} else {
		limit := 50
		if q := r.URL.Query().Get("limit"); q != "" {
			l, atoiErr := strconv.Atoi(q)
			if atoiErr != nil || l <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = l
		}
		records, err = server.gateway.Sessions(limit)
	}

	if err != nil {
		log.WithError(err).Warn("Querying sessions errored")
		http.Error(w, "querying sessions failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []journal.SessionRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		log.WithError(err).Warn("Failed to write sessions response")
	}
}

// handlePeers processes /v1/peers GET requests.
func (server *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := server.gateway.Peers()
	if peers == nil {
		peers = []discovery.Peer{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(peers); err != nil {
		log.WithError(err).Warn("Failed to write peers response")
	}
}

// handleExport processes /v1/sessions/export GET requests, streaming the
// whole journal as xz-compressed JSON.
func (server *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-xz")
	w.Header().Set("Content-Disposition", `attachment; filename="sessions.json.xz"`)

	if err := server.gateway.ExportSessions(w); err != nil {
		log.WithError(err).Warn("Exporting sessions errored")
	}
}
