// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bolt provides a storage.Storage that keeps objects in a
// single bbolt database file on local disk.
package bolt

import (
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"cohofs.io/cloud/storage"
	"cohofs.io/errors"
)

// Keys of the fixed records inside each object's bucket. Entries live
// in a nested bucket of their own, so they cannot collide with these.
var (
	headerKey = []byte("header")
	blobKey   = []byte("blob")
	valuesKey = []byte("values")
)

// New initializes and returns a bbolt-backed storage.Storage with the
// given options. The single, required option is "basePath", the path of
// the database file, which is created if it does not exist. A dial
// timeout, if set, bounds the wait for the file lock.
func New(opts *storage.Opts) (storage.Storage, error) {
	const op errors.Op = "cloud/storage/bolt.New"

	base, ok := opts.Opts["basePath"]
	if !ok {
		return nil, errors.E(op, "the basePath option must be specified")
	}
	if err := os.MkdirAll(filepath.Dir(base), 0700); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	db, err := bolt.Open(base, 0600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return &storageImpl{db: db}, nil
}

func init() {
	storage.Register("bolt", New)
}

type storageImpl struct {
	db *bolt.DB
}

var _ storage.Storage = (*storageImpl)(nil)

// ReadHeader implements storage.Storage.
func (s *storageImpl) ReadHeader(obj string) ([]byte, error) {
	const op errors.Op = "cloud/storage/bolt.ReadHeader"
	var header []byte
	err := s.db.View(func(btx *bolt.Tx) error {
		b := btx.Bucket([]byte(obj))
		if b == nil {
			return nil
		}
		header = copyBytes(b.Get(headerKey))
		return nil
	})
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return header, nil
}

// ReadValues implements storage.Storage.
func (s *storageImpl) ReadValues(obj, startAfter string, limit int) ([]storage.KeyValue, error) {
	const op errors.Op = "cloud/storage/bolt.ReadValues"
	var page []storage.KeyValue
	err := s.db.View(func(btx *bolt.Tx) error {
		b := btx.Bucket([]byte(obj))
		if b == nil {
			return nil
		}
		vb := b.Bucket(valuesKey)
		if vb == nil {
			return nil
		}
		c := vb.Cursor()
		k, v := c.Seek([]byte(startAfter))
		if k != nil && string(k) == startAfter {
			// The cursor is exclusive of startAfter.
			k, v = c.Next()
		}
		for ; k != nil; k, v = c.Next() {
			page = append(page, storage.KeyValue{Key: string(k), Value: copyBytes(v)})
			if limit > 0 && len(page) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return page, nil
}

// ReadBlob implements storage.Storage.
func (s *storageImpl) ReadBlob(obj string) ([]byte, error) {
	const op errors.Op = "cloud/storage/bolt.ReadBlob"
	var blob []byte
	err := s.db.View(func(btx *bolt.Tx) error {
		b := btx.Bucket([]byte(obj))
		if b == nil {
			return nil
		}
		blob = copyBytes(b.Get(blobKey))
		return nil
	})
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return blob, nil
}

// Apply implements storage.Storage.
func (s *storageImpl) Apply(obj string, tx *storage.Transaction) error {
	const op errors.Op = "cloud/storage/bolt.Apply"
	err := s.db.Update(func(btx *bolt.Tx) error {
		b, err := btx.CreateBucketIfNotExists([]byte(obj))
		if err != nil {
			return err
		}
		if tx.Truncate {
			if err := b.Delete(blobKey); err != nil {
				return err
			}
		}
		if tx.Header != nil {
			if err := b.Put(headerKey, tx.Header); err != nil {
				return err
			}
		}
		vb, err := b.CreateBucketIfNotExists(valuesKey)
		if err != nil {
			return err
		}
		for k, v := range tx.Put {
			if err := vb.Put([]byte(k), v); err != nil {
				return err
			}
		}
		for _, k := range tx.Delete {
			if err := vb.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Close implements storage.Storage.
func (s *storageImpl) Close() {
	s.db.Close()
	s.db = nil
}

// copyBytes returns a copy of b. Slices returned by bbolt are only
// valid for the life of the enclosing transaction.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
