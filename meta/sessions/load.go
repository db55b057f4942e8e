// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sessions

import (
	"cohofs.io/cohofs"
	"cohofs.io/cloud/storage"
	"cohofs.io/entity"
	"cohofs.io/log"
)

// Load reads the stored table into m. It may be called once, before
// any mutation or save. onLoaded runs once the table is ready; it may
// be nil. Like save callbacks, it runs without the table lock held.
func (m *Map) Load(onLoaded func()) {
	m.mu.Lock()
	if m.loadCalled {
		m.mu.Unlock()
		fatalf("sessions: %s: load called twice", m.object)
		return
	}
	m.loadCalled = true
	if onLoaded != nil {
		m.loadWaiters = append(m.loadWaiters, onLoaded)
	}
	m.mu.Unlock()

	go m.load()
}

// WaitForLoad registers onLoaded to run once the table has finished
// loading. If it already has, onLoaded runs immediately.
func (m *Map) WaitForLoad(onLoaded func()) {
	m.mu.Lock()
	if m.loaded {
		m.mu.Unlock()
		onLoaded()
		return
	}
	m.loadWaiters = append(m.loadWaiters, onLoaded)
	m.mu.Unlock()
}

// load drives the load pipeline. It runs outside the lock, taking it
// only to apply what each read returned. An absent header means the
// object predates the keyed format and is read as one blob instead.
func (m *Map) load() {
	header, err := m.store.ReadHeader(m.object)
	if err != nil {
		fatalf("sessions: %s: load header: %v", m.object, err)
		return
	}
	if len(header) == 0 {
		m.loadLegacy()
		return
	}
	version, err := unmarshalHeader(header)
	if err != nil {
		fatalf("sessions: %s: load header: %v", m.object, err)
		return
	}
	log.Debug.Printf("sessions: %s: loading v%d", m.object, version)

	cursor := ""
	for {
		page, err := m.store.ReadValues(m.object, cursor, m.keysPerPage)
		if err != nil {
			fatalf("sessions: %s: load values after %q: %v", m.object, cursor, err)
			return
		}
		if !m.applyPage(page) {
			return
		}
		if len(page) < m.keysPerPage {
			break
		}
		cursor = page[len(page)-1].Key
	}
	m.finishLoad(version)
}

// applyPage materializes one page of loaded records. It reports
// whether the page was sound.
func (m *Map) applyPage(page []storage.KeyValue) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kv := range page {
		name := cohofs.EntityName(kv.Key)
		if _, _, err := entity.Parse(name); err != nil {
			fatalf("sessions: %s: load: bad record key: %v", m.object, err)
			return false
		}
		s := m.getOrAddLocked(name)
		if s.state == Closed {
			m.setStateLocked(s, Open)
		}
		if _, err := s.info.Unmarshal(kv.Value); err != nil {
			fatalf("sessions: %s: load %s: %v", m.object, name, err)
			return false
		}
		// The record key is authoritative for identity.
		s.info.Name = name
		s.updateHumanName()
	}
	return true
}

// finishLoad brings the ledger level with the loaded version and
// releases everyone waiting on the table.
func (m *Map) finishLoad(version uint64) {
	m.mu.Lock()
	m.version = version
	m.projected = version
	m.committing = version
	m.committed = version
	m.rebuildIndexLocked()
	m.loaded = true
	waiters := m.loadWaiters
	m.loadWaiters = nil
	log.Info.Printf("sessions: %s: loaded v%d: %d sessions", m.object, version, len(m.sessions))
	m.dumpLocked()
	m.mu.Unlock()
	for _, cb := range waiters {
		cb()
	}
}
