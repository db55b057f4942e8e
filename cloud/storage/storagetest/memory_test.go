// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storagetest

import (
	"bytes"
	"reflect"
	"testing"

	"cohofs.io/cloud/storage"
)

func TestMemoryMissingObject(t *testing.T) {
	m := Memory()
	h, err := m.ReadHeader("nope")
	if err != nil || h != nil {
		t.Errorf("ReadHeader = %v, %v; want nil, nil", h, err)
	}
	page, err := m.ReadValues("nope", "", 10)
	if err != nil || len(page) != 0 {
		t.Errorf("ReadValues = %v, %v; want empty, nil", page, err)
	}
	b, err := m.ReadBlob("nope")
	if err != nil || b != nil {
		t.Errorf("ReadBlob = %v, %v; want nil, nil", b, err)
	}
}

func TestMemoryApply(t *testing.T) {
	m := Memory()
	err := m.Apply("obj", &storage.Transaction{
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
	h, err := m.ReadHeader("obj")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(h, []byte("h1")) {
		t.Errorf("header: got %q expected %q", h, "h1")
	}

	// Pages come back in key order.
	page, err := m.ReadValues("obj", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []storage.KeyValue{
		{Key: "a", Value: []byte("va")},
		{Key: "b", Value: []byte("vb")},
	}
	if !reflect.DeepEqual(page, want) {
		t.Errorf("got %v expected %v", page, want)
	}

	// The cursor is exclusive.
	page, err = m.ReadValues("obj", "b", 2)
	if err != nil {
		t.Fatal(err)
	}
	want = []storage.KeyValue{
		{Key: "c", Value: []byte("vc")},
	}
	if !reflect.DeepEqual(page, want) {
		t.Errorf("got %v expected %v", page, want)
	}

	// Deletes and upserts in one transaction.
	err = m.Apply("obj", &storage.Transaction{
		Put:    map[string][]byte{"a": []byte("va2")},
		Delete: []string{"b", "never-there"},
	})
	if err != nil {
		t.Fatal(err)
	}
	page, err = m.ReadValues("obj", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	want = []storage.KeyValue{
		{Key: "a", Value: []byte("va2")},
		{Key: "c", Value: []byte("vc")},
	}
	if !reflect.DeepEqual(page, want) {
		t.Errorf("got %v expected %v", page, want)
	}
}

func TestMemoryTruncate(t *testing.T) {
	m := Memory()
	m.SetBlob("obj", []byte("old image"))
	b, err := m.ReadBlob("obj")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte("old image")) {
		t.Errorf("blob: got %q expected %q", b, "old image")
	}
	err = m.Apply("obj", &storage.Transaction{
		Header:   []byte("h"),
		Truncate: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err = m.ReadBlob("obj")
	if err != nil {
		t.Fatal(err)
	}
	if b != nil {
		t.Errorf("blob survived truncate: %q", b)
	}
}
