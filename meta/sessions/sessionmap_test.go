// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sessions

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"cohofs.io/cohofs"
	"cohofs.io/cloud/storage/storagetest"
)

// fixNow pins the clock. The returned func restores it.
func fixNow(t cohofs.Time) func() {
	old := now
	now = func() cohofs.Time { return t }
	return func() { now = old }
}

// hookFatal replaces fatalf with one that sends its message on the
// returned channel. Every caller of fatalf returns right afterward, so
// a test can carry on and inspect the message. The returned func
// restores fatalf.
func hookFatal() (chan string, func()) {
	old := fatalf
	c := make(chan string, 4)
	fatalf = func(format string, args ...interface{}) {
		c <- fmt.Sprintf(format, args...)
	}
	return c, func() { fatalf = old }
}

// wantFatal fails the test unless a fatal error containing want has
// been recorded on c.
func wantFatal(t *testing.T, c chan string, want string) {
	t.Helper()
	select {
	case msg := <-c:
		if !strings.Contains(msg, want) {
			t.Fatalf("fatal error %q, want one containing %q", msg, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no fatal error, want one containing %q", want)
	}
}

// wantNoFatal fails the test if a fatal error has been recorded on c.
func wantNoFatal(t *testing.T, c chan string) {
	t.Helper()
	select {
	case msg := <-c:
		t.Fatalf("unexpected fatal error: %s", msg)
	default:
	}
}

// checkLedger fails the test if the version counters have fallen out
// of order.
func checkLedger(t *testing.T, m *Map) {
	t.Helper()
	committed, committing, version, projected := m.Committed(), m.Committing(), m.Version(), m.Projected()
	if committed > committing || committing > version || version > projected {
		t.Fatalf("ledger out of order: committed %d committing %d version %d projected %d",
			committed, committing, version, projected)
	}
}

// saveWait requests a save and blocks until it commits.
func saveWait(t *testing.T, m *Map, minVersion uint64) {
	t.Helper()
	done := make(chan struct{})
	m.RequestSave(minVersion, func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("save did not complete")
	}
}

// loadWait starts a load and blocks until the table is ready.
func loadWait(t *testing.T, m *Map) {
	t.Helper()
	done := make(chan struct{})
	m.Load(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("load did not complete")
	}
}

func newTestMap() (*Map, *storagetest.Mem) {
	mem := storagetest.Memory()
	return New(mem, 0, 0, 0), mem
}

func TestObjectName(t *testing.T) {
	if got := ObjectName(0); got != "meta0_sessions" {
		t.Errorf("rank 0 object = %q, want meta0_sessions", got)
	}
	if got := ObjectName(12); got != "meta12_sessions" {
		t.Errorf("rank 12 object = %q, want meta12_sessions", got)
	}
}

func TestProjectMarkDirty(t *testing.T) {
	m, _ := newTestMap()
	a := m.GetOrAdd("client.1", "")
	b := m.GetOrAdd("client.2", "")
	m.SetState(a, Open)
	m.SetState(b, Open)

	// Each projection names the version the matching dirty-mark will
	// apply, in hand-out order, across sessions.
	if v := m.Project(a); v != 1 {
		t.Fatalf("first projection = %d, want 1", v)
	}
	if v := m.Project(b); v != 2 {
		t.Fatalf("second projection = %d, want 2", v)
	}
	checkLedger(t, m)
	if v := m.Version(); v != 0 {
		t.Fatalf("version = %d before any dirty-mark, want 0", v)
	}

	m.MarkDirty(a)
	checkLedger(t, m)
	if v := m.Version(); v != 1 {
		t.Fatalf("version = %d after first dirty-mark, want 1", v)
	}
	m.MarkDirty(b)
	checkLedger(t, m)
	if v := m.Version(); v != 2 {
		t.Fatalf("version = %d after second dirty-mark, want 2", v)
	}
	if n := m.DirtyCount(); n != 2 {
		t.Fatalf("dirty count = %d, want 2", n)
	}
	if p := m.Projected(); p != 2 {
		t.Fatalf("projected = %d, want 2", p)
	}
}

func TestPipelinedProjections(t *testing.T) {
	m, _ := newTestMap()
	s := m.GetOrAdd("client.1", "")
	m.SetState(s, Open)

	// One session may have several mutations in flight; the queue pops
	// in FIFO order.
	if v := m.Project(s); v != 1 {
		t.Fatalf("projection = %d, want 1", v)
	}
	if v := m.Project(s); v != 2 {
		t.Fatalf("projection = %d, want 2", v)
	}
	if v := m.Project(s); v != 3 {
		t.Fatalf("projection = %d, want 3", v)
	}
	m.MarkDirty(s)
	m.MarkDirty(s)
	m.MarkDirty(s)
	checkLedger(t, m)
	if v, p := m.Version(), m.Projected(); v != 3 || p != 3 {
		t.Fatalf("version, projected = %d, %d, want 3, 3", v, p)
	}
}

func TestMarkDirtyWithoutProject(t *testing.T) {
	fatals, restore := hookFatal()
	defer restore()

	m, _ := newTestMap()
	s := m.GetOrAdd("client.1", "")
	m.MarkDirty(s)
	wantFatal(t, fatals, "no projected version")
}

func TestMarkDirtyOutOfOrder(t *testing.T) {
	fatals, restore := hookFatal()
	defer restore()

	m, _ := newTestMap()
	a := m.GetOrAdd("client.1", "")
	b := m.GetOrAdd("client.2", "")
	m.Project(a)
	m.Project(b)
	m.MarkDirty(b)
	wantFatal(t, fatals, "out of order")
}

func TestReplayDirty(t *testing.T) {
	m, _ := newTestMap()
	a := m.GetOrAdd("client.1", "")
	b := m.GetOrAdd("client.2", "")

	m.ReplayDirty(a)
	checkLedger(t, m)
	if v, p := m.Version(), m.Projected(); v != 1 || p != 1 {
		t.Fatalf("version, projected = %d, %d after replay, want 1, 1", v, p)
	}
	m.ReplayDirty(b)
	m.ReplayDirty(a)
	checkLedger(t, m)
	if v, p := m.Version(), m.Projected(); v != 3 || p != 3 {
		t.Fatalf("version, projected = %d, %d, want 3, 3", v, p)
	}
	if n := m.DirtyCount(); n != 2 {
		t.Fatalf("dirty count = %d, want 2", n)
	}
}

func TestGetOrAdd(t *testing.T) {
	m, _ := newTestMap()

	if s := m.Get("client.1"); s != nil {
		t.Fatal("Get on an empty table found a session")
	}
	s := m.GetOrAdd("client.1", "198.51.100.9:4381")
	if s.State() != Closed {
		t.Errorf("created session state = %v, want closed", s.State())
	}
	if got := m.ByState(Closed); len(got) != 0 {
		t.Errorf("created session is indexed: %v", got)
	}
	if m.Len() != 1 {
		t.Errorf("len = %d, want 1", m.Len())
	}

	again := m.GetOrAdd("client.1", "203.0.113.70:9")
	if again != s {
		t.Fatal("second GetOrAdd returned a different session")
	}
	if again.Info().Addr != "198.51.100.9:4381" {
		t.Errorf("addr = %q changed by second GetOrAdd", again.Info().Addr)
	}
	if got := m.Get("client.1"); got != s {
		t.Error("Get did not find the added session")
	}
}

func TestAdd(t *testing.T) {
	defer fixNow(cohofs.Time(1136214245))()

	m, _ := newTestMap()
	s := NewSession("client.1", "198.51.100.9:4381")
	m.Add(s)
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}
	if got := m.ByState(Closed); !reflect.DeepEqual(got, []cohofs.EntityName{"client.1"}) {
		t.Errorf("closed bucket = %v, want [client.1]", got)
	}
	if s.LastCapRenew() != 1136214245 {
		t.Errorf("last cap renew = %d, want 1136214245", s.LastCapRenew())
	}

	fatals, restore := hookFatal()
	defer restore()
	m.Add(NewSession("client.1", ""))
	wantFatal(t, fatals, "already present")
}

func TestRemove(t *testing.T) {
	m, _ := newTestMap()
	s := m.GetOrAdd("client.1", "")
	m.SetState(s, Open)
	s.AddCompletedRequest(7, 0)
	m.Project(s)
	m.MarkDirty(s)
	v := m.Version()

	m.Remove(s)
	checkLedger(t, m)
	if m.Len() != 0 {
		t.Errorf("len = %d after remove, want 0", m.Len())
	}
	if m.Get("client.1") != nil {
		t.Error("removed session still found")
	}
	if got := m.ByState(Open); len(got) != 0 {
		t.Errorf("removed session still indexed: %v", got)
	}
	if n := m.DirtyCount(); n != 0 {
		t.Errorf("dirty count = %d after remove, want 0", n)
	}
	if n := m.TombstonedCount(); n != 1 {
		t.Errorf("tombstoned count = %d, want 1", n)
	}
	if m.Version() != v {
		t.Errorf("version = %d changed by remove, want %d", m.Version(), v)
	}
	if n := len(s.Info().CompletedRequests); n != 0 {
		t.Errorf("%d completed requests survived remove", n)
	}
}

func TestSetState(t *testing.T) {
	m, _ := newTestMap()
	s := m.GetOrAdd("client.1", "")

	seq := m.SetState(s, Open)
	if seq != 1 || s.State() != Open {
		t.Fatalf("state, seq = %v, %d, want open, 1", s.State(), seq)
	}
	if got := m.ByState(Open); !reflect.DeepEqual(got, []cohofs.EntityName{"client.1"}) {
		t.Fatalf("open bucket = %v, want [client.1]", got)
	}

	// Setting the state a session already has is a no-op.
	if seq := m.SetState(s, Open); seq != 1 {
		t.Fatalf("seq = %d after no-op transition, want 1", seq)
	}

	if seq := m.SetState(s, Stale); seq != 2 {
		t.Fatalf("seq = %d after second transition, want 2", seq)
	}
	if got := m.ByState(Open); len(got) != 0 {
		t.Errorf("open bucket = %v after transition away, want empty", got)
	}
	if got := m.ByState(Stale); !reflect.DeepEqual(got, []cohofs.EntityName{"client.1"}) {
		t.Errorf("stale bucket = %v, want [client.1]", got)
	}
}

func TestTouch(t *testing.T) {
	restoreNow := fixNow(cohofs.Time(1136214245))
	defer restoreNow()

	m, _ := newTestMap()
	a := m.GetOrAdd("client.1", "")
	b := m.GetOrAdd("client.2", "")
	m.SetState(a, Open)
	m.SetState(b, Open)

	now = func() cohofs.Time { return 1136215000 }
	m.Touch(a)
	if got := m.ByState(Open); !reflect.DeepEqual(got, []cohofs.EntityName{"client.2", "client.1"}) {
		t.Errorf("open bucket = %v after touch, want [client.2 client.1]", got)
	}
	if a.LastCapRenew() != 1136215000 {
		t.Errorf("last cap renew = %d, want 1136215000", a.LastCapRenew())
	}

	fatals, restore := hookFatal()
	defer restore()
	m.Touch(m.GetOrAdd("client.3", ""))
	wantFatal(t, fatals, "not indexed")
}

func TestWipe(t *testing.T) {
	m, _ := newTestMap()
	for i := 1; i <= 3; i++ {
		s := m.GetOrAdd(cohofs.EntityName(fmt.Sprintf("client.%d", i)), "")
		m.SetState(s, Open)
		m.Project(s)
		m.MarkDirty(s)
	}
	projected := m.Projected()

	m.Wipe()
	checkLedger(t, m)
	if m.Len() != 0 {
		t.Errorf("len = %d after wipe, want 0", m.Len())
	}
	if n := m.TombstonedCount(); n != 3 {
		t.Errorf("tombstoned count = %d, want 3", n)
	}
	if n := m.DirtyCount(); n != 0 {
		t.Errorf("dirty count = %d, want 0", n)
	}
	if v, p := m.Version(), m.Projected(); v != projected+1 || p != projected+1 {
		t.Errorf("version, projected = %d, %d after wipe, want %d, %d", v, p, projected+1, projected+1)
	}
}

func TestWipeInoPrealloc(t *testing.T) {
	m, _ := newTestMap()
	s := m.GetOrAdd("client.1", "")
	m.SetState(s, Open)
	s.Info().PreallocInos.InsertRange(4096, 100)
	s.Info().UsedInos.Insert(4096)
	s.PendingPrealloc().InsertRange(8192, 50)
	m.Project(s)
	m.MarkDirty(s)
	version := m.Version()

	m.WipeInoPrealloc()
	checkLedger(t, m)
	if !s.Info().PreallocInos.Empty() || !s.Info().UsedInos.Empty() || !s.PendingPrealloc().Empty() {
		t.Error("inode bookkeeping survived the wipe")
	}
	if v, p := m.Version(), m.Projected(); v != version+1 || p != version+1 {
		t.Errorf("version, projected = %d, %d, want %d, %d", v, p, version+1, version+1)
	}
	// The session itself survives.
	if m.Len() != 1 {
		t.Errorf("len = %d, want 1", m.Len())
	}
}

func TestLedgerThroughout(t *testing.T) {
	m, _ := newTestMap()
	loadWait(t, m)
	checkLedger(t, m)

	a := m.GetOrAdd("client.1", "")
	m.SetState(a, Open)
	checkLedger(t, m)
	m.Project(a)
	checkLedger(t, m)
	m.MarkDirty(a)
	checkLedger(t, m)
	saveWait(t, m, 0)
	checkLedger(t, m)
	m.ReplayDirty(a)
	checkLedger(t, m)
	saveWait(t, m, m.Version())
	checkLedger(t, m)
	m.Remove(a)
	checkLedger(t, m)
	saveWait(t, m, 0)
	checkLedger(t, m)
	m.Wipe()
	checkLedger(t, m)
	m.WipeInoPrealloc()
	checkLedger(t, m)
	if c, v := m.Committed(), m.Version(); c >= v {
		t.Fatalf("committed = %d, version = %d; wipes should have outrun the last save", c, v)
	}
}
