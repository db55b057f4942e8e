// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sessions implements the session table kept by each CohoFS
// metadata server rank: the authoritative record of which clients hold
// a session, what each session has been promised, and how much of that
// record has reached stable storage.
//
// The table keeps four version counters. Mutations are projected
// before they are journaled (Project), applied afterwards (MarkDirty),
// and written back in batches (RequestSave), so at any moment
//
//	committed <= committing <= version <= projected
//
// with committed the newest version known durable and projected the
// newest version promised to a caller. Callers that need durability
// register a callback with RequestSave and are told when their version
// has been written.
//
// A Map is driven by one logical owner. Its methods are safe to call
// from storage completion goroutines, but the owner must not run two
// mutations concurrently; ordering between Project and MarkDirty is
// the caller's responsibility.
package sessions

import (
	"container/list"
	"fmt"
	"sort"
	"sync"

	"cohofs.io/cohofs"
	"cohofs.io/cloud/storage"
	"cohofs.io/log"
)

// defaultKeysPerPage bounds both the paged reads done by Load and, by
// default, the number of dirty sessions that trigger an automatic save.
const defaultKeysPerPage = 1024

// Overridden in tests.
var (
	fatalf = log.Fatalf
	now    = cohofs.Now
)

// ObjectName returns the name of the storage object that holds the
// session table of the given metadata server rank.
func ObjectName(rank int) string {
	return fmt.Sprintf("meta%d_sessions", rank)
}

// A Map is the session table of one metadata server rank.
type Map struct {
	mu sync.Mutex

	store  storage.Storage
	object string

	keysPerPage int
	dirtyBatch  int

	// The version ledger. See the package comment for the ordering
	// invariant.
	version    uint64
	projected  uint64
	committing uint64
	committed  uint64

	sessions   map[cohofs.EntityName]*Session
	byState    map[State]*list.List
	dirty      map[cohofs.EntityName]bool
	tombstoned map[cohofs.EntityName]bool

	// waiters holds save callbacks keyed by the version they await.
	waiters map[uint64][]func()

	saving      bool
	savePending bool

	loadCalled   bool
	loaded       bool
	loadedLegacy bool
	loadWaiters  []func()

	legacyDuplicates int
}

// New returns an empty session table for the given rank, persisted in
// store. keysPerPage bounds each paged read while loading; dirtyBatch
// is the number of dirty sessions that triggers an automatic save.
// A zero keysPerPage means 1024, and a zero dirtyBatch means
// keysPerPage.
func New(store storage.Storage, rank int, keysPerPage, dirtyBatch int) *Map {
	if keysPerPage <= 0 {
		keysPerPage = defaultKeysPerPage
	}
	if dirtyBatch <= 0 {
		dirtyBatch = keysPerPage
	}
	return &Map{
		store:       store,
		object:      ObjectName(rank),
		keysPerPage: keysPerPage,
		dirtyBatch:  dirtyBatch,
		sessions:    make(map[cohofs.EntityName]*Session),
		byState:     make(map[State]*list.List),
		dirty:       make(map[cohofs.EntityName]bool),
		tombstoned:  make(map[cohofs.EntityName]bool),
		waiters:     make(map[uint64][]func()),
	}
}

// Version returns the newest version whose mutation has been applied.
func (m *Map) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// Projected returns the newest version handed out by Project.
func (m *Map) Projected() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projected
}

// Committing returns the newest version for which a save has been
// issued.
func (m *Map) Committing() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committing
}

// Committed returns the newest version known to be durable.
func (m *Map) Committed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

// Len returns the number of registered sessions.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// DirtyCount returns the number of sessions whose payloads await the
// next save.
func (m *Map) DirtyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dirty)
}

// TombstonedCount returns the number of removed sessions whose stored
// records await deletion by the next save.
func (m *Map) TombstonedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tombstoned)
}

// LoadedLegacy reports whether the table was loaded from a legacy blob
// that the next save will replace with the keyed format.
func (m *Map) LoadedLegacy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadedLegacy
}

// LegacyDuplicates returns the number of records that replaced an
// earlier record for the same name while decoding a legacy table.
func (m *Map) LegacyDuplicates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.legacyDuplicates
}

// Get returns the named session, or nil if there is none.
func (m *Map) Get(name cohofs.EntityName) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[name]
}

// GetOrAdd returns the named session, creating a blank closed one for
// addr if there is none. A created session is not indexed until its
// first SetState.
func (m *Map) GetOrAdd(name cohofs.EntityName, addr cohofs.NetAddr) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[name]
	if s == nil {
		s = NewSession(name, addr)
		m.sessions[name] = s
	}
	return s
}

// getOrAddLocked materializes the named session while loading. The
// payload decode that follows overwrites the blank info.
func (m *Map) getOrAddLocked(name cohofs.EntityName) *Session {
	s := m.sessions[name]
	if s == nil {
		s = NewSession(name, "")
		m.sessions[name] = s
	}
	return s
}

// Add registers s, which must not already be present, and indexes it
// under its current state.
func (m *Map) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := s.info.Name
	if _, ok := m.sessions[name]; ok {
		fatalf("sessions: %s: add %s: already present", m.object, name)
		return
	}
	m.sessions[name] = s
	m.linkTailLocked(s)
	s.lastCapRenew = now()
}

// Remove unregisters s. Its completed-request records are dropped, it
// leaves the state index, and its name is tombstoned so that the next
// save deletes its stored record. The version does not advance; the
// removal rides along with whatever save comes next.
func (m *Map) Remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.Debug.Printf("sessions: %s: remove %s", m.object, s.info.Name)
	m.removeLocked(s)
}

func (m *Map) removeLocked(s *Session) {
	s.TrimCompletedRequests(0)
	m.unlinkLocked(s)
	delete(m.sessions, s.info.Name)
	delete(m.dirty, s.info.Name)
	m.tombstoned[s.info.Name] = true
}

// Touch marks s as renewed, moving it to the tail of its state bucket.
// The session must be indexed.
func (m *Map) Touch(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.elem == nil {
		fatalf("sessions: %s: touch %s: not indexed", m.object, s.info.Name)
		return
	}
	s.bucket.MoveToBack(s.elem)
	s.lastCapRenew = now()
}

// SetState moves s to state st, bumping its state sequence and
// reindexing it at the tail of st's bucket. Setting the state the
// session already has changes nothing. SetState returns the session's
// state sequence after the call.
func (m *Map) SetState(s *Session, st State) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.state != st {
		log.Debug.Printf("sessions: %s: %s state %s -> %s", m.object, s.info.Name, s.state, st)
		m.setStateLocked(s, st)
	}
	return s.stateSeq
}

func (m *Map) setStateLocked(s *Session, st State) {
	s.state = st
	s.stateSeq++
	m.linkTailLocked(s)
}

// Project reserves the next version for a pending mutation of s and
// returns it. The caller applies the mutation, journals it, and then
// calls MarkDirty, in the order the versions were handed out.
func (m *Map) Project(s *Session) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projected++
	s.pushPending(m.projected)
	return m.projected
}

// MarkDirty applies the oldest projected mutation of s: the table
// version advances to it and s joins the dirty set.
func (m *Map) MarkDirty(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markDirtyLocked(s)
	m.version++
	v, ok := s.popPending()
	if !ok {
		fatalf("sessions: %s: mark dirty %s: no projected version", m.object, s.info.Name)
		return
	}
	if v != m.version {
		fatalf("sessions: %s: mark dirty %s: version %d applied out of order, %d projected", m.object, s.info.Name, m.version, v)
		return
	}
}

// ReplayDirty records a mutation of s recovered from the journal,
// where Project was never called: s joins the dirty set, the version
// advances, and projected is pulled level with it.
func (m *Map) ReplayDirty(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markDirtyLocked(s)
	m.version++
	m.projected = m.version
}

// markDirtyLocked adds s to the dirty set. When the set has already
// reached the batch size, a save of the versions applied so far is
// requested first, so that no single save transaction grows without
// bound. A tombstone for the name is cancelled; the record will be
// rewritten, not deleted.
func (m *Map) markDirtyLocked(s *Session) {
	if m.dirty[s.info.Name] {
		return
	}
	if len(m.dirty) >= m.dirtyBatch {
		log.Debug.Printf("sessions: %s: %d sessions dirty, saving through v%d", m.object, len(m.dirty), m.version)
		m.requestSaveLocked(m.version, nil)
	}
	m.dirty[s.info.Name] = true
	delete(m.tombstoned, s.info.Name)
}

// Wipe removes every session. Each removal is tombstoned as usual, so
// the next save empties the stored table too.
func (m *Map) Wipe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.Info.Printf("sessions: %s: wipe start", m.object)
	m.dumpLocked()
	for _, s := range m.sessions {
		m.removeLocked(s)
	}
	m.projected++
	m.version = m.projected
	log.Info.Printf("sessions: %s: wipe done", m.object)
	m.dumpLocked()
}

// WipeInoPrealloc clears the inode preallocation bookkeeping of every
// session, pending and persisted alike, and advances the version so
// that the cleared payloads are newer than anything stored.
func (m *Map) WipeInoPrealloc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.pendingPrealloc.Clear()
		s.info.PreallocInos.Clear()
		s.info.UsedInos.Clear()
	}
	m.version++
	m.projected = m.version
}

// ByState returns the names of the sessions in state st, least
// recently touched first.
func (m *Map) ByState(st State) []cohofs.EntityName {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.byState[st]
	if b == nil {
		return nil
	}
	names := make([]cohofs.EntityName, 0, b.Len())
	for e := b.Front(); e != nil; e = e.Next() {
		names = append(names, e.Value.(cohofs.EntityName))
	}
	return names
}

// Names returns the names of all registered sessions in lexical order.
func (m *Map) Names() []cohofs.EntityName {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedNamesLocked()
}

func (m *Map) sortedNamesLocked() []cohofs.EntityName {
	names := make([]cohofs.EntityName, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// unlinkLocked removes s from the state index if it is there.
func (m *Map) unlinkLocked(s *Session) {
	if s.bucket != nil {
		s.bucket.Remove(s.elem)
		s.bucket, s.elem = nil, nil
	}
}

// linkTailLocked indexes s at the tail of its state's bucket, creating
// the bucket on first use.
func (m *Map) linkTailLocked(s *Session) {
	m.unlinkLocked(s)
	b := m.byState[s.state]
	if b == nil {
		b = list.New()
		m.byState[s.state] = b
	}
	s.bucket = b
	s.elem = b.PushBack(s.info.Name)
}

// rebuildIndexLocked reindexes every session from scratch, in name
// order.
func (m *Map) rebuildIndexLocked() {
	m.byState = make(map[State]*list.List)
	for _, name := range m.sortedNamesLocked() {
		s := m.sessions[name]
		s.bucket, s.elem = nil, nil
		m.linkTailLocked(s)
	}
}

// dumpLocked writes the table to the debug log.
func (m *Map) dumpLocked() {
	if !log.At("debug") {
		return
	}
	log.Debug.Printf("sessions: %s: dump v%d pv%d committing v%d committed v%d",
		m.object, m.version, m.projected, m.committing, m.committed)
	for _, name := range m.sortedNamesLocked() {
		s := m.sessions[name]
		log.Debug.Printf("sessions: %s: %s state %s seq %d completed %d",
			m.object, name, s.state, s.stateSeq, len(s.info.CompletedRequests))
	}
}
