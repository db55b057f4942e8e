// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bolt

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	bolt "go.etcd.io/bbolt"

	"cohofs.io/cloud/storage"
)

func newTestStore(t *testing.T) (storage.Storage, func()) {
	base, err := ioutil.TempDir("", "cohofs-storage-bolt-test")
	if err != nil {
		t.Fatal(err)
	}
	opts := &storage.Opts{Opts: map[string]string{
		"basePath": filepath.Join(base, "store.db"),
	}}
	store, err := New(opts)
	if err != nil {
		os.RemoveAll(base)
		t.Fatal(err)
	}
	return store, func() {
		store.Close()
		os.RemoveAll(base)
	}
}

func TestMissingBasePath(t *testing.T) {
	_, err := New(&storage.Opts{Opts: map[string]string{}})
	if err == nil {
		t.Fatal("expected error, got none")
	}
}

func TestMissingObject(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	h, err := store.ReadHeader("nope")
	if err != nil || h != nil {
		t.Errorf("ReadHeader = %v, %v; want nil, nil", h, err)
	}
	page, err := store.ReadValues("nope", "", 10)
	if err != nil || len(page) != 0 {
		t.Errorf("ReadValues = %v, %v; want empty, nil", page, err)
	}
	b, err := store.ReadBlob("nope")
	if err != nil || b != nil {
		t.Errorf("ReadBlob = %v, %v; want nil, nil", b, err)
	}
}

func TestApplyAndRead(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	err := store.Apply("obj", &storage.Transaction{
		Header: []byte("h1"),
		Put: map[string][]byte{
			"b": []byte("vb"),
			"a": []byte("va"),
			"c": []byte("vc"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	h, err := store.ReadHeader("obj")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(h, []byte("h1")) {
		t.Errorf("header: got %q expected %q", h, "h1")
	}
	page, err := store.ReadValues("obj", "a", 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []storage.KeyValue{{Key: "b", Value: []byte("vb")}}
	if !reflect.DeepEqual(page, want) {
		t.Errorf("got %v expected %v", page, want)
	}

	err = store.Apply("obj", &storage.Transaction{
		Put:    map[string][]byte{"a": []byte("va2")},
		Delete: []string{"c", "never-there"},
	})
	if err != nil {
		t.Fatal(err)
	}
	page, err = store.ReadValues("obj", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	want = []storage.KeyValue{
		{Key: "a", Value: []byte("va2")},
		{Key: "b", Value: []byte("vb")},
	}
	if !reflect.DeepEqual(page, want) {
		t.Errorf("got %v expected %v", page, want)
	}
}

func TestPagination(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	const nKeys = 100
	const limit = 7
	put := make(map[string][]byte)
	for i := 0; i < nKeys; i++ {
		put[fmt.Sprintf("key-%03d", i)] = []byte{byte(i)}
	}
	if err := store.Apply("obj", &storage.Transaction{Put: put}); err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	cursor := ""
	for {
		page, err := store.ReadValues("obj", cursor, limit)
		if err != nil {
			t.Fatal(err)
		}
		for _, kv := range page {
			if kv.Key <= cursor {
				t.Errorf("key %q not after cursor %q", kv.Key, cursor)
			}
			if seen[kv.Key] {
				t.Errorf("saw duplicate key %q", kv.Key)
			}
			seen[kv.Key] = true
		}
		if len(page) < limit {
			break
		}
		cursor = page[len(page)-1].Key
	}
	if len(seen) != nKeys {
		t.Errorf("saw %d keys, want %d", len(seen), nKeys)
	}
}

func TestTruncate(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	// Plant a whole-object blob the way the old format left it.
	db := store.(*storageImpl).db
	err := db.Update(func(btx *bolt.Tx) error {
		b, err := btx.CreateBucketIfNotExists([]byte("obj"))
		if err != nil {
			return err
		}
		return b.Put(blobKey, []byte("old image"))
	})
	if err != nil {
		t.Fatal(err)
	}

	b, err := store.ReadBlob("obj")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte("old image")) {
		t.Errorf("blob: got %q expected %q", b, "old image")
	}

	err = store.Apply("obj", &storage.Transaction{
		Header:   []byte("h"),
		Truncate: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err = store.ReadBlob("obj")
	if err != nil {
		t.Fatal(err)
	}
	if b != nil {
		t.Errorf("blob survived truncate: %q", b)
	}
}
