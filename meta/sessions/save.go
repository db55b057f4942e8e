// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sessions

import (
	"sort"

	"cohofs.io/cohofs"
	"cohofs.io/cloud/storage"
	"cohofs.io/log"
)

// RequestSave asks that the mutations applied so far be written to
// stable storage. If minVersion is nonzero and a write covering it is
// already in flight, onDone simply joins that write's waiters.
// Otherwise a transaction covering every version up through the
// current one is composed and issued, and onDone runs once it has
// committed. At most one transaction is outstanding at a time; a
// request that a write in flight cannot cover is deferred and issued
// when it completes.
//
// onDone may be nil. Callbacks run without the table lock held, in
// ascending version order.
func (m *Map) RequestSave(minVersion uint64, onDone func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestSaveLocked(minVersion, onDone)
}

func (m *Map) requestSaveLocked(minVersion uint64, onDone func()) {
	if minVersion > 0 && m.saving && m.committing >= minVersion {
		if onDone != nil {
			m.waiters[m.committing] = append(m.waiters[m.committing], onDone)
		}
		return
	}
	if onDone != nil {
		m.waiters[m.version] = append(m.waiters[m.version], onDone)
	}
	if m.saving {
		if m.version > m.committing {
			m.savePending = true
		}
		return
	}
	m.saveLocked()
}

// saveLocked composes one save transaction and issues it. The caller
// holds the lock and has ensured no other save is in flight.
//
// The dirty and tombstoned sets are consumed here, before the write is
// issued; mutations that land during the write start a new generation
// and are picked up by the next save.
func (m *Map) saveLocked() {
	m.committing = m.version
	m.saving = true
	m.savePending = false

	tx := &storage.Transaction{
		Header: marshalHeader(m.version),
	}
	if m.loadedLegacy {
		// The legacy blob is replaced in the same transaction that
		// writes the first keyed records, so the two formats never
		// coexist in the store.
		log.Info.Printf("sessions: %s: rewriting legacy table as keyed records", m.object)
		tx.Truncate = true
		m.loadedLegacy = false
	}
	for name := range m.dirty {
		s := m.sessions[name]
		if s == nil || !s.state.persistent() {
			continue
		}
		data, err := s.info.Marshal()
		if err != nil {
			fatalf("sessions: %s: marshal %s: %v", m.object, name, err)
			return
		}
		if tx.Put == nil {
			tx.Put = make(map[string][]byte)
		}
		tx.Put[string(name)] = data
	}
	for name := range m.tombstoned {
		tx.Delete = append(tx.Delete, string(name))
	}
	sort.Strings(tx.Delete)
	m.dirty = make(map[cohofs.EntityName]bool)
	m.tombstoned = make(map[cohofs.EntityName]bool)

	v := m.committing
	log.Debug.Printf("sessions: %s: saving v%d: %d upserts, %d deletes",
		m.object, v, len(tx.Put), len(tx.Delete))
	go func() {
		err := m.store.Apply(m.object, tx)
		m.applySave(v, err)
	}()
}

// applySave runs when a save transaction completes. A deferred save is
// issued only after this one's callbacks have run, so callbacks of
// successive transactions cannot overtake each other.
func (m *Map) applySave(v uint64, err error) {
	if err != nil {
		fatalf("sessions: %s: save v%d: %v", m.object, v, err)
		return
	}
	m.mu.Lock()
	if v > m.committed {
		m.committed = v
	}
	callbacks := m.takeWaitersLocked(m.committed)
	// When a save is deferred, saving stays set across the callbacks
	// so that no concurrent RequestSave issues a transaction before
	// the one below.
	pending := m.savePending
	if !pending {
		m.saving = false
	}
	m.mu.Unlock()
	log.Debug.Printf("sessions: %s: saved v%d", m.object, v)
	for _, cb := range callbacks {
		cb()
	}
	if pending {
		m.mu.Lock()
		m.saveLocked()
		m.mu.Unlock()
	}
}

// takeWaitersLocked removes and returns the callbacks waiting on
// versions up through v, oldest version first.
func (m *Map) takeWaitersLocked(v uint64) []func() {
	var versions []uint64
	for wv := range m.waiters {
		if wv <= v {
			versions = append(versions, wv)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	var callbacks []func()
	for _, wv := range versions {
		callbacks = append(callbacks, m.waiters[wv]...)
		delete(m.waiters, wv)
	}
	return callbacks
}
