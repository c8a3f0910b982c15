// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package journal persists a trace of finished sessions.
package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"
	"github.com/ulikunitz/xz"

	"github.com/quicgw/quicgw-go/pkg/proxy"
)

// SessionRecord is the persisted trace of one relayed session.
type SessionRecord struct {
	Id uint64 `badgerhold:"key"`

	Inbound  string
	Source   string
	StreamID uint64

	OpenedAt time.Time `badgerholdIndex:"OpenedAt"`
	ClosedAt time.Time
}

// Duration of the session from accept to finish.
func (record SessionRecord) Duration() time.Duration {
	return record.ClosedAt.Sub(record.OpenedAt)
}

// Journal is a disk-backed store of SessionRecords.
type Journal struct {
	bh *badgerhold.Store
}

// Open creates a new Journal or opens an existing one from the given path.
func Open(dir string) (j *Journal, err error) {
	opts := badgerhold.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if dirErr := os.MkdirAll(dir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		j = &Journal{bh: bh}
	}
	return
}

// Close the Journal. It must not be used afterwards.
func (j *Journal) Close() error {
	return j.bh.Close()
}

// Record persists a finished session, stamping the closing time.
func (j *Journal) Record(session proxy.Session) error {
	record := SessionRecord{
		Inbound:  session.Inbound,
		StreamID: session.StreamID,
		OpenedAt: session.OpenedAt,
		ClosedAt: time.Now(),
	}
	if session.Source != nil {
		record.Source = session.Source.String()
	}

	return j.bh.Insert(badgerhold.NextSequence(), &record)
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(limit int) (records []SessionRecord, err error) {
	err = j.bh.Find(&records, badgerhold.
		Where(badgerhold.Key).Ge(uint64(0)).
		SortBy("OpenedAt").Reverse().Limit(limit))
	return
}

// Since returns all records of sessions accepted at or after t.
func (j *Journal) Since(t time.Time) (records []SessionRecord, err error) {
	err = j.bh.Find(&records, badgerhold.Where("OpenedAt").Ge(t))
	return
}

// Export writes every record as an xz-compressed JSON stream, one object
// per line.
func (j *Journal) Export(w io.Writer) error {
	var records []SessionRecord
	if err := j.bh.Find(&records, badgerhold.Where(badgerhold.Key).Ge(uint64(0))); err != nil {
		return fmt.Errorf("querying records: %w", err)
	}

	xzWriter, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating xz stream: %w", err)
	}

	encoder := json.NewEncoder(xzWriter)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			_ = xzWriter.Close()
			return err
		}
	}

	return xzWriter.Close()
}
