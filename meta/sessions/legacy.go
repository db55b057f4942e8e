// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sessions

import (
	"encoding/binary"

	"cohofs.io/cohofs"
	"cohofs.io/entity"
	"cohofs.io/errors"
	"cohofs.io/log"
)

// legacySentinel opens a blob in the newer of the two whole-table blob
// formats. It is an impossible version number in the older one, which
// stores the version in those bytes instead.
const legacySentinel = ^uint64(0)

// minNamedBlobFormat is the oldest named-record blob format any
// software ever wrote.
const minNamedBlobFormat = 2

// loadLegacy reads the object as a single blob, as written by software
// predating the keyed format. An empty blob is a fresh store. All
// sessions decoded from a blob are marked dirty so that the next save
// rewrites the whole table as keyed records.
func (m *Map) loadLegacy() {
	blob, err := m.store.ReadBlob(m.object)
	if err != nil {
		fatalf("sessions: %s: load blob: %v", m.object, err)
		return
	}
	if len(blob) == 0 {
		log.Info.Printf("sessions: %s: no stored table, starting empty", m.object)
		m.finishLoad(0)
		return
	}
	m.mu.Lock()
	version, err := m.decodeLegacyLocked(blob)
	if err != nil {
		m.mu.Unlock()
		fatalf("sessions: %s: decode legacy table: %v", m.object, err)
		return
	}
	// The batch threshold does not apply here; the rewrite must be a
	// single transaction no matter how large the table is.
	for name := range m.sessions {
		m.dirty[name] = true
	}
	m.loadedLegacy = true
	n := len(m.sessions)
	m.mu.Unlock()
	log.Info.Printf("sessions: %s: loaded legacy table v%d: %d sessions", m.object, version, n)
	m.finishLoad(version)
}

// decodeLegacyLocked decodes a whole-table blob. Two generations of
// blob are recognized, told apart by the first eight bytes: the newer
// writes a sentinel there and names each record explicitly; the older
// writes the version directly, followed by a count hint and bare
// payloads. It returns the table version carried by the blob.
func (m *Map) decodeLegacyLocked(blob []byte) (uint64, error) {
	if len(blob) < 8 {
		return 0, errors.Str("blob too short")
	}
	pre := binary.LittleEndian.Uint64(blob)
	if pre == legacySentinel {
		return m.decodeNamedBlobLocked(blob[8:])
	}
	return m.decodeBareBlobLocked(pre, blob[8:])
}

// decodeNamedBlobLocked decodes the newer blob sub-format: a format
// byte, the table version, then (name, payload) records through to the
// end of the blob. A record that does not decode cleanly is corruption.
func (m *Map) decodeNamedBlobLocked(b []byte) (uint64, error) {
	if len(b) < 1 {
		return 0, errors.Str("truncated blob")
	}
	if b[0] < minNamedBlobFormat {
		return 0, errors.Errorf("unknown blob format %d", b[0])
	}
	b = b[1:]
	version, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, errors.Str("truncated blob version")
	}
	b = b[n:]
	for len(b) > 0 {
		nameBytes, rest, ok := legacyBytes(b)
		if !ok {
			return 0, errors.Str("truncated record name")
		}
		payload, rest, ok := legacyBytes(rest)
		if !ok {
			return 0, errors.Str("truncated record payload")
		}
		b = rest
		name := cohofs.EntityName(nameBytes)
		if _, _, err := entity.Parse(name); err != nil {
			return 0, err
		}
		s := m.getOrAddLocked(name)
		if _, err := s.info.Unmarshal(payload); err != nil {
			return 0, err
		}
		s.info.Name = name
		s.updateHumanName()
		if s.state != Open {
			m.setStateLocked(s, Open)
		}
		s.lastCapRenew = now()
	}
	return version, nil
}

// decodeBareBlobLocked decodes the older blob sub-format: bare session
// payloads after a count that old writers treated as advisory. A short
// tail is as good as the end, but a payload that is present yet does
// not unmarshal is corruption. A later record for a name already seen
// replaces the earlier one.
func (m *Map) decodeBareBlobLocked(version uint64, b []byte) (uint64, error) {
	if len(b) < 4 {
		return 0, errors.Str("truncated blob")
	}
	count := binary.LittleEndian.Uint32(b)
	b = b[4:]
	for i := uint32(0); i < count && len(b) > 0; i++ {
		payload, rest, ok := legacyBytes(b)
		if !ok {
			break
		}
		b = rest
		var info cohofs.SessionInfo
		if _, err := info.Unmarshal(payload); err != nil {
			return 0, err
		}
		s := m.sessions[info.Name]
		if s == nil {
			s = NewSession(info.Name, info.Addr)
			m.sessions[info.Name] = s
		} else {
			m.legacyDuplicates++
			log.Debug.Printf("sessions: %s: duplicate record for %s, keeping the later one", m.object, info.Name)
		}
		s.info = info
		s.updateHumanName()
		if s.state != Open {
			m.setStateLocked(s, Open)
		}
		s.lastCapRenew = now()
	}
	return version, nil
}

// legacyBytes reads one varint-prefixed byte field from a blob.
func legacyBytes(b []byte) (data, rest []byte, ok bool) {
	n, w := binary.Varint(b)
	if w <= 0 || n < 0 || int64(len(b)-w) < n {
		return nil, b, false
	}
	return b[w : w+int(n)], b[w+int(n):], true
}
