// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sessions

import (
	"container/list"
	"fmt"

	"cohofs.io/cohofs"
)

// State is the lifecycle state of a Session.
type State uint8

// The session lifecycle states. Closed is the zero value; a session
// enters Open once its first persisted record is written or read.
const (
	Closed State = iota
	Opening
	Open
	Closing
	Stale
	Killing
)

var stateNames = [...]string{
	Closed:  "closed",
	Opening: "opening",
	Open:    "open",
	Closing: "closing",
	Stale:   "stale",
	Killing: "killing",
}

func (st State) String() string {
	if int(st) < len(stateNames) {
		return stateNames[st]
	}
	return fmt.Sprintf("state%d", uint8(st))
}

// persistent reports whether sessions in this state are written by a save.
func (st State) persistent() bool {
	switch st {
	case Open, Closing, Stale, Killing:
		return true
	}
	return false
}

// A Session is one client's entry in a Map: its persisted payload plus
// transient bookkeeping. A Session is owned by the Map that holds it,
// and the single mutation stream that drives the Map must also
// serialize calls to the Session's methods.
type Session struct {
	info cohofs.SessionInfo

	state    State
	stateSeq uint64

	// pending holds the versions handed out by Map.Project for this
	// session, oldest first, consumed by Map.MarkDirty.
	pending []uint64

	lastCapRenew cohofs.Time

	recalledAt   cohofs.Time
	recallCount  int
	releaseCount int

	pendingPrealloc cohofs.InoSet

	humanName string

	// State index linkage, maintained by the owning Map.
	bucket *list.List
	elem   *list.Element
}

// NewSession returns an unregistered session for the named entity
// dialing from addr. Register it with Map.Add.
func NewSession(name cohofs.EntityName, addr cohofs.NetAddr) *Session {
	s := &Session{
		lastCapRenew: now(),
	}
	s.info.Name = name
	s.info.Addr = addr
	s.updateHumanName()
	return s
}

// Name returns the session's entity name.
func (s *Session) Name() cohofs.EntityName { return s.info.Name }

// State returns the session's lifecycle state.
func (s *Session) State() State { return s.state }

// StateSeq returns the sequence number of the session's last state
// change. Callers compare it against an earlier value to detect a
// transition they have not observed.
func (s *Session) StateSeq() uint64 { return s.stateSeq }

// LastCapRenew returns the time the session last renewed itself.
func (s *Session) LastCapRenew() cohofs.Time { return s.lastCapRenew }

// HumanName returns a human-readable label for the session, derived
// from its client metadata.
func (s *Session) HumanName() string { return s.humanName }

// Info returns the session's persisted payload. The caller must not
// change the Name field; the table is keyed by it.
func (s *Session) Info() *cohofs.SessionInfo { return &s.info }

// PendingPrealloc returns the inode ranges projected for this session
// but not yet journaled.
func (s *Session) PendingPrealloc() *cohofs.InoSet { return &s.pendingPrealloc }

// AddCompletedRequest records that request tid has completed, creating
// ino (zero if the request created nothing).
func (s *Session) AddCompletedRequest(tid cohofs.Tid, created cohofs.Ino) {
	if s.info.CompletedRequests == nil {
		s.info.CompletedRequests = make(map[cohofs.Tid]cohofs.Ino)
	}
	s.info.CompletedRequests[tid] = created
}

// HaveCompletedRequest reports whether request tid has completed, and
// if so the inode it created.
func (s *Session) HaveCompletedRequest(tid cohofs.Tid) (cohofs.Ino, bool) {
	created, ok := s.info.CompletedRequests[tid]
	return created, ok
}

// TrimCompletedRequests drops the completed-request records with tids
// below minTid. A minTid of zero drops them all.
func (s *Session) TrimCompletedRequests(minTid cohofs.Tid) {
	if minTid == 0 {
		s.info.CompletedRequests = nil
		return
	}
	for tid := range s.info.CompletedRequests {
		if tid < minTid {
			delete(s.info.CompletedRequests, tid)
		}
	}
}

// NotifyRecallSent records that the client was asked to release caps
// down to limit. It enters the recall phase unless one is already
// outstanding.
func (s *Session) NotifyRecallSent(limit int) {
	if s.recalledAt == 0 {
		s.recalledAt = now()
		s.recallCount = limit
		s.releaseCount = 0
	}
}

// NotifyCapRelease records that the client released released caps.
// Once the releases reach the recall's count the recall phase ends.
func (s *Session) NotifyCapRelease(released int) {
	if s.recalledAt != 0 {
		s.releaseCount += released
		if s.releaseCount >= s.recallCount {
			s.clearRecalledAt()
		}
	}
}

func (s *Session) clearRecalledAt() {
	s.recalledAt = 0
	s.recallCount = 0
	s.releaseCount = 0
}

// RecalledAt returns the time the current recall phase began, or zero
// when no recall is outstanding.
func (s *Session) RecalledAt() cohofs.Time { return s.recalledAt }

// RecallCount returns the cap limit of the current recall phase.
func (s *Session) RecallCount() int { return s.recallCount }

// RecallReleaseCount returns the caps released so far in the current
// recall phase.
func (s *Session) RecallReleaseCount() int { return s.releaseCount }

// SetClientMetadata replaces the session's client metadata and
// recomputes its human-readable name.
func (s *Session) SetClientMetadata(md map[string]string) {
	s.info.Metadata = md
	s.updateHumanName()
}

// updateHumanName derives the display label. Clients that report a
// hostname are referred to by it, with a non-default entity_id
// appended; anything else falls back to the entity name.
func (s *Session) updateHumanName() {
	host, ok := s.info.Metadata["hostname"]
	if !ok {
		s.humanName = string(s.info.Name)
		return
	}
	s.humanName = host
	if id := s.info.Metadata["entity_id"]; id != "" && id != "admin" {
		s.humanName += ":" + id
	}
}

func (s *Session) pushPending(v uint64) {
	s.pending = append(s.pending, v)
}

func (s *Session) popPending() (uint64, bool) {
	if len(s.pending) == 0 {
		return 0, false
	}
	v := s.pending[0]
	s.pending = s.pending[1:]
	return v, true
}
