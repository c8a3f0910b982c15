// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/quicgw/quicgw-go/pkg/discovery"
	"github.com/quicgw/quicgw-go/pkg/journal"
)

type mockGateway struct {
	status  Status
	records []journal.SessionRecord
	peers   []discovery.Peer
	broken  bool
}

func newMockGateway() *mockGateway {
	base := time.Date(2026, time.July, 1, 12, 0, 0, 0, time.UTC)

	return &mockGateway{
		status: Status{
			Name:           "gw-test",
			Started:        base,
			Inbounds:       map[string]string{"quic0": "127.0.0.1:4433"},
			AcceptedUnits:  3,
			ActiveSessions: 1,
			Upstream:       "127.0.0.1:8080",
		},
		records: []journal.SessionRecord{
			{Id: 3, Inbound: "quic0", Source: "192.0.2.7:51820", StreamID: 2,
				OpenedAt: base.Add(2 * time.Minute), ClosedAt: base.Add(3 * time.Minute)},
			{Id: 2, Inbound: "quic0", Source: "192.0.2.7:51820", StreamID: 1,
				OpenedAt: base.Add(time.Minute), ClosedAt: base.Add(2 * time.Minute)},
			{Id: 1, Inbound: "quic0", Source: "192.0.2.7:51820", StreamID: 0,
				OpenedAt: base, ClosedAt: base.Add(time.Minute)},
		},
		peers: []discovery.Peer{
			{
				Announcement: discovery.Announcement{Name: "gw-other", Protocol: "quicgw", Port: 4433},
				Address:      "192.0.2.8",
				LastSeen:     base.Add(5 * time.Minute),
			},
		},
	}
}

func (gw *mockGateway) Status() Status {
	return gw.status
}

func (gw *mockGateway) Sessions(limit int) ([]journal.SessionRecord, error) {
	if gw.broken {
		return nil, errors.New("journal unavailable")
	}

	if limit > len(gw.records) {
		limit = len(gw.records)
	}
	return gw.records[:limit], nil
}

func (gw *mockGateway) SessionsSince(t time.Time) ([]journal.SessionRecord, error) {
	if gw.broken {
		return nil, errors.New("journal unavailable")
	}

	var records []journal.SessionRecord
	for _, record := range gw.records {
		if !record.OpenedAt.Before(t) {
			records = append(records, record)
		}
	}
	return records, nil
}

func (gw *mockGateway) Peers() []discovery.Peer {
	return gw.peers
}

func (gw *mockGateway) ExportSessions(w io.Writer) error {
	if gw.broken {
		return errors.New("journal unavailable")
	}

	xzWriter, err := xz.NewWriter(w)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(xzWriter)
	for _, record := range gw.records {
		if err := encoder.Encode(record); err != nil {
			return err
		}
	}

	return xzWriter.Close()
}
