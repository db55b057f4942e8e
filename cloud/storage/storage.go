// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage implements a low-level interface for storing the
// versioned objects kept by CohoFS servers in stable storage such as
// a database.
package storage

import (
	"strings"
	"time"

	"cohofs.io/cohofs"
	"cohofs.io/errors"
)

// Storage is a low-level interface for persisting objects. An object
// has a small header record, a set of key-value entries kept in key
// order, and possibly a whole-object blob left behind by older
// software. Storage implementations must be safe for concurrent use.
type Storage interface {
	// ReadHeader returns the header record of the named object.
	// A missing object, or an object without a header, returns nil
	// and no error.
	ReadHeader(obj string) ([]byte, error)

	// ReadValues returns at most limit entries of the named object
	// in ascending key order, restricted to keys greater than
	// startAfter. A limit of zero or less means no limit. A missing
	// object returns an empty page and no error.
	ReadValues(obj, startAfter string, limit int) ([]KeyValue, error)

	// ReadBlob returns the whole-object blob of the named object.
	// A missing object, or an object without a blob, returns nil
	// and no error.
	ReadBlob(obj string) ([]byte, error)

	// Apply applies tx to the named object as a single atomic unit:
	// on success every part of tx is durable, on failure none is.
	Apply(obj string, tx *Transaction) error

	// Close closes the connection to the storage backend and releases
	// all resources used. It must be called only once and only after
	// storage.Dial has succeeded.
	Close()
}

// KeyValue is a single entry of an object.
type KeyValue struct {
	Key   string
	Value []byte
}

// Transaction describes one atomic update to an object.
type Transaction struct {
	// Header, if non-nil, replaces the object's header record.
	Header []byte

	// Put gives the entries to insert or overwrite.
	Put map[string][]byte

	// Delete gives the keys of the entries to remove.
	// Removing an absent key is not an error.
	Delete []string

	// Truncate discards the object's whole-object blob before the
	// other parts of the transaction are applied.
	Truncate bool
}

// Constructor is a function that creates a Storage.
// It is the argument to Register.
type Constructor func(*Opts) (Storage, error)

var registration = make(map[string]Constructor)

// Opts holds configuration options for the storage backend.
// It is meant to be used by implementations of Storage.
type Opts struct {
	Opts    map[string]string // key-value pairs
	Timeout time.Duration
	Addrs   []cohofs.NetAddr
}

// DialOpts is a daisy-chaining mechanism for setting options to a backend during Dial.
type DialOpts func(*Opts) error

// Register registers a new Storage constructor under a name. It is typically
// used in init functions.
func Register(name string, fn Constructor) error {
	const op errors.Op = "cloud/storage.Register"
	if _, exists := registration[name]; exists {
		return errors.E(op, errors.Exist)
	}
	registration[name] = fn
	return nil
}

// WithNetAddr sets a network host:port pair as the network address to dial.
// Multiple calls can be made to register a pool of servers.
func WithNetAddr(netAddr cohofs.NetAddr) DialOpts {
	return func(o *Opts) error {
		o.Addrs = append(o.Addrs, netAddr)
		return nil
	}
}

// WithTimeout sets a maximum duration for dialing.
func WithTimeout(timeout time.Duration) DialOpts {
	return func(o *Opts) error {
		o.Timeout = timeout
		return nil
	}
}

// WithOptions parses a string in the format "key1=value1,key2=value2,..." where keys and values
// are specific to each storage backend. Neither key nor value may contain the characters "," or "=".
// Use WithKeyValue repeatedly if these characters need to be used.
func WithOptions(options string) DialOpts {
	const op errors.Op = "cloud/storage.WithOptions"
	return func(o *Opts) error {
		pairs := strings.Split(options, ",")
		for _, p := range pairs {
			kv := strings.Split(p, "=")
			if len(kv) != 2 {
				return errors.E(op, errors.Invalid, errors.Errorf("error parsing option %s", kv))
			}
			o.Opts[kv[0]] = kv[1]
		}
		return nil
	}
}

// WithKeyValue sets a key-value pair as option. If called multiple times with
// the same key, the last one wins.
func WithKeyValue(key, value string) DialOpts {
	return func(o *Opts) error {
		o.Opts[key] = value
		return nil
	}
}

// Dial dials the named storage backend using the dial options opts.
func Dial(name string, opts ...DialOpts) (Storage, error) {
	const op errors.Op = "cloud/storage.Dial"
	fn, found := registration[name]
	if !found {
		return nil, errors.E(op, errors.NotExist, errors.Str("storage backend type not registered"))
	}
	dOpts := &Opts{
		Opts: make(map[string]string),
	}
	for _, o := range opts {
		if o != nil {
			if err := o(dOpts); err != nil {
				return nil, err
			}
		}
	}
	return fn(dOpts)
}
