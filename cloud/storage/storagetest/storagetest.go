// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storagetest implements simple types and utility functions to help test
// implementations of storage.Storage.
package storagetest

import (
	"cohofs.io/cloud/storage"
)

// DummyStorage is a storage.Constructor for a Storage whose reads find
// nothing and whose writes succeed without storing anything.
func DummyStorage(opts *storage.Opts) (storage.Storage, error) {
	return dummy{}, nil
}

type dummy struct{}

func (dummy) ReadHeader(obj string) ([]byte, error) { return nil, nil }

func (dummy) ReadValues(obj, startAfter string, limit int) ([]storage.KeyValue, error) {
	return nil, nil
}

func (dummy) ReadBlob(obj string) ([]byte, error) { return nil, nil }

func (dummy) Apply(obj string, tx *storage.Transaction) error { return nil }

func (dummy) Close() {}

// Failing returns a Storage whose every operation fails with err.
func Failing(err error) storage.Storage {
	return failing{err}
}

type failing struct {
	err error
}

func (f failing) ReadHeader(obj string) ([]byte, error) { return nil, f.err }

func (f failing) ReadValues(obj, startAfter string, limit int) ([]storage.KeyValue, error) {
	return nil, f.err
}

func (f failing) ReadBlob(obj string) ([]byte, error) { return nil, f.err }

func (f failing) Apply(obj string, tx *storage.Transaction) error { return f.err }

func (f failing) Close() {}

// CaptureApply wraps another Storage and records the object name and
// transaction of every Apply call before passing the call through.
type CaptureApply struct {
	storage.Storage
	Objects []string
	Txs     []*storage.Transaction
}

// Apply implements storage.Storage.
func (c *CaptureApply) Apply(obj string, tx *storage.Transaction) error {
	c.Objects = append(c.Objects, obj)
	c.Txs = append(c.Txs, tx)
	return c.Storage.Apply(obj, tx)
}
