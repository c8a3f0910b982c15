// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/howeyc/crc16"
)

var crc16table = crc16.MakeTable(crc16.CCITT)

// Announcement of one gateway inbound endpoint. A CRC-16 guards the
// payload against multicast packages of unrelated software on the same
// group.
type Announcement struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Port     uint   `json:"port"`
}

// UnmarshalAnnouncements creates a new array of Announcement based on a CBOR byte string.
func UnmarshalAnnouncements(data []byte) (announcements []Announcement, err error) {
	buff := bytes.NewBuffer(data)

	if l, cErr := cboring.ReadArrayLength(buff); cErr != nil {
		err = cErr
		return
	} else {
		announcements = make([]Announcement, l)
	}

	for i := 0; i < len(announcements); i++ {
		if cErr := cboring.Unmarshal(&announcements[i], buff); cErr != nil {
			err = fmt.Errorf("unmarshalling Announcement %d failed: %v", i, cErr)
			return
		}
	}

	return
}

// MarshalAnnouncements into a CBOR byte string.
func MarshalAnnouncements(announcements []Announcement) (data []byte, err error) {
	buff := new(bytes.Buffer)

	if cErr := cboring.WriteArrayLength(uint64(len(announcements)), buff); cErr != nil {
		err = cErr
		return
	}

	for i := range announcements {
		// Don't "range" variable because gosec's G601: Implicit memory aliasing in for loop.
		announcement := announcements[i]
		if cErr := cboring.Marshal(&announcement, buff); cErr != nil {
			err = fmt.Errorf("marshalling Announcement %d (%v) failed: %v", i, announcement, cErr)
			return
		}
	}

	data = buff.Bytes()
	return
}

// marshalBody writes the checksummed fields in their CBOR form.
func (announcement *Announcement) marshalBody(w io.Writer) error {
	if err := cboring.WriteTextString(announcement.Name, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(announcement.Protocol, w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(announcement.Port), w)
}

// MarshalCbor creates a CBOR representation for an Announcement.
func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := announcement.marshalBody(&body); err != nil {
		return err
	}

	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}

	return cboring.WriteUInt(uint64(crc16.Checksum(body.Bytes(), crc16table)), w)
}

// UnmarshalCbor creates an Announcement from its CBOR representation.
func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 4 {
		return fmt.Errorf("wrong array length: %d instead of 4", l)
	}

	if name, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		announcement.Name = name
	}
	if protocol, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		announcement.Protocol = protocol
	}
	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		announcement.Port = uint(n)
	}

	// The checksum covers the canonical encoding of the three fields.
	var body bytes.Buffer
	if err := announcement.marshalBody(&body); err != nil {
		return err
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if expected := uint64(crc16.Checksum(body.Bytes(), crc16table)); n != expected {
		return fmt.Errorf("wrong checksum: %#04x instead of %#04x", n, expected)
	}

	return nil
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("Announcement(%s,%s,%d)", announcement.Name, announcement.Protocol, announcement.Port)
}
