// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cohofs contains the fundamental types used by all CohoFS software.
package cohofs // import "cohofs.io/cohofs"

// An EntityName identifies one instance of a participant in the system,
// such as a client connection or a metadata server rank.
// It is a string of the form "type.number".
// Example: client.4324
type EntityName string

// A NetAddr is the network address of an entity as last reported by the
// transport layer. It is carried for display and diagnosis; this layer
// never dials it.
type NetAddr string

// An Ino is an inode number.
type Ino uint64

// A Tid is a client-assigned transaction identifier for one metadata
// request. Tids are unique and increasing per client instance.
type Tid uint64

// SessionInfo is the persisted payload of one client session in a
// metadata server's session table. It holds everything a restarting
// server must recover about the client. Transient session bookkeeping
// (lifecycle state, recall counters, renewal times) is not persisted;
// it is reconstructed after load.
type SessionInfo struct {
	// Name identifies the client instance. It doubles as the record
	// key in the session table object.
	Name EntityName

	// Addr is the client's address as of the last time the session
	// was persisted.
	Addr NetAddr

	// CompletedRequests maps the id of each retained completed request
	// to the inode it created, or 0 if it created none. It lets a
	// restarted server recognize a retried request and replay its
	// result instead of re-executing it.
	CompletedRequests map[Tid]Ino

	// PreallocInos are inode numbers handed to the client for new
	// files but not yet used.
	PreallocInos InoSet

	// UsedInos are inode numbers the client has consumed from its
	// preallocation but whose use is not yet reflected in the journal.
	UsedInos InoSet

	// Metadata is the free-form key-value description the client sent
	// at mount time (hostname, entity_id, kernel version and so on).
	Metadata map[string]string
}
