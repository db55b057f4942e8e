// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storagetest

import (
	"sort"
	"sync"

	"cohofs.io/cloud/storage"
)

// Memory returns a storage.Storage implementation that keeps objects in
// memory, with helpers for seeding and inspecting them. It is safe for
// concurrent use.
func Memory() *Mem {
	return &Mem{
		objects: make(map[string]*object),
	}
}

// Mem is the in-memory Storage returned by Memory.
type Mem struct {
	mu      sync.RWMutex
	objects map[string]*object
}

type object struct {
	header []byte
	values map[string][]byte
	blob   []byte
}

var _ storage.Storage = (*Mem)(nil)

// ReadHeader implements storage.Storage.
func (m *Mem) ReadHeader(obj string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o := m.objects[obj]
	if o == nil {
		return nil, nil
	}
	return copyBytes(o.header), nil
}

// ReadValues implements storage.Storage.
func (m *Mem) ReadValues(obj, startAfter string, limit int) ([]storage.KeyValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o := m.objects[obj]
	if o == nil {
		return nil, nil
	}
	keys := make([]string, 0, len(o.values))
	for k := range o.values {
		if k > startAfter {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	page := make([]storage.KeyValue, len(keys))
	for i, k := range keys {
		page[i] = storage.KeyValue{Key: k, Value: copyBytes(o.values[k])}
	}
	return page, nil
}

// ReadBlob implements storage.Storage.
func (m *Mem) ReadBlob(obj string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o := m.objects[obj]
	if o == nil {
		return nil, nil
	}
	return copyBytes(o.blob), nil
}

// Apply implements storage.Storage.
func (m *Mem) Apply(obj string, tx *storage.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o := m.objects[obj]
	if o == nil {
		o = &object{values: make(map[string][]byte)}
		m.objects[obj] = o
	}
	if tx.Truncate {
		o.blob = nil
	}
	if tx.Header != nil {
		o.header = copyBytes(tx.Header)
	}
	for k, v := range tx.Put {
		o.values[k] = copyBytes(v)
	}
	for _, k := range tx.Delete {
		delete(o.values, k)
	}
	return nil
}

// Close implements storage.Storage.
func (m *Mem) Close() {}

// SetBlob seeds the named object with a whole-object blob, as written
// by software predating the keyed format.
func (m *Mem) SetBlob(obj string, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o := m.objects[obj]
	if o == nil {
		o = &object{values: make(map[string][]byte)}
		m.objects[obj] = o
	}
	o.blob = copyBytes(b)
}

// NumValues returns the number of entries of the named object.
func (m *Mem) NumValues(obj string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o := m.objects[obj]
	if o == nil {
		return 0
	}
	return len(o.values)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
