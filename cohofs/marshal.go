// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cohofs

import (
	"encoding/binary"
	"errors"
)

// ErrTooShort is returned by Unmarshal methods if the data is incomplete.
var ErrTooShort = errors.New("Unmarshal buffer too short")

// ErrBadVersion is returned by Unmarshal methods if the data carries a
// version this code does not understand.
var ErrBadVersion = errors.New("Unmarshal bad version byte")

// sessionInfoVersion identifies the encoding generation of a marshaled
// SessionInfo. Bump it when the field layout below changes.
const sessionInfoVersion = 0x01

// A marshaled SessionInfo is of the form:
//   version: byte
//   name: string
//   addr: string
//   completed requests: count, then (tid, created ino) uvarint pairs
//   prealloc inos: count, then (start, length) uvarint pairs
//   used inos: count, then (start, length) uvarint pairs
//   metadata: count, then (key, value) string pairs
//
// Counts and string byte counts are Varints; scalar values are Uvarints.

// MarshalAppend packs the SessionInfo and appends it onto the given
// byte slice. It returns the appended slice.
func (si *SessionInfo) MarshalAppend(b []byte) ([]byte, error) {
	var tmp [16]byte // For use by PutVarint and PutUvarint.

	b = append(b, sessionInfoVersion)
	b = appendString(b, string(si.Name))
	b = appendString(b, string(si.Addr))

	n := binary.PutVarint(tmp[:], int64(len(si.CompletedRequests)))
	b = append(b, tmp[:n]...)
	for tid, ino := range si.CompletedRequests {
		b = appendUvarint(b, uint64(tid))
		b = appendUvarint(b, uint64(ino))
	}

	b = appendInoSet(b, &si.PreallocInos)
	b = appendInoSet(b, &si.UsedInos)

	n = binary.PutVarint(tmp[:], int64(len(si.Metadata)))
	b = append(b, tmp[:n]...)
	for k, v := range si.Metadata {
		b = appendString(b, k)
		b = appendString(b, v)
	}
	return b, nil
}

// Marshal packs the SessionInfo into a new byte slice.
func (si *SessionInfo) Marshal() ([]byte, error) {
	return si.MarshalAppend(nil)
}

// Unmarshal unpacks a marshaled SessionInfo and stores it in the
// receiver. If successful, every field of si will be overwritten. It
// returns the remaining data.
func (si *SessionInfo) Unmarshal(b []byte) ([]byte, error) {
	if len(b) < 1 {
		return nil, ErrTooShort
	}
	if b[0] != sessionInfoVersion {
		return nil, ErrBadVersion
	}
	b = b[1:]

	name, b, err := getString(b)
	if err != nil {
		return nil, err
	}
	si.Name = EntityName(name)
	addr, b, err := getString(b)
	if err != nil {
		return nil, err
	}
	si.Addr = NetAddr(addr)

	count, n := binary.Varint(b)
	if n <= 0 || count < 0 {
		return nil, ErrTooShort
	}
	b = b[n:]
	si.CompletedRequests = nil
	if count > 0 {
		si.CompletedRequests = make(map[Tid]Ino, count)
	}
	for i := int64(0); i < count; i++ {
		tid, rest, err := getUvarint(b)
		if err != nil {
			return nil, err
		}
		ino, rest, err := getUvarint(rest)
		if err != nil {
			return nil, err
		}
		si.CompletedRequests[Tid(tid)] = Ino(ino)
		b = rest
	}

	if b, err = getInoSet(b, &si.PreallocInos); err != nil {
		return nil, err
	}
	if b, err = getInoSet(b, &si.UsedInos); err != nil {
		return nil, err
	}

	count, n = binary.Varint(b)
	if n <= 0 || count < 0 {
		return nil, ErrTooShort
	}
	b = b[n:]
	si.Metadata = nil
	if count > 0 {
		si.Metadata = make(map[string]string, count)
	}
	for i := int64(0); i < count; i++ {
		k, rest, err := getString(b)
		if err != nil {
			return nil, err
		}
		v, rest, err := getString(rest)
		if err != nil {
			return nil, err
		}
		si.Metadata[k] = v
		b = rest
	}
	return b, nil
}

func appendInoSet(b []byte, s *InoSet) []byte {
	var tmp [16]byte
	n := binary.PutVarint(tmp[:], int64(len(s.ranges)))
	b = append(b, tmp[:n]...)
	for _, r := range s.ranges {
		b = appendUvarint(b, uint64(r.Start))
		b = appendUvarint(b, r.Len)
	}
	return b
}

func getInoSet(b []byte, s *InoSet) ([]byte, error) {
	count, n := binary.Varint(b)
	if n <= 0 || count < 0 {
		return nil, ErrTooShort
	}
	b = b[n:]
	s.ranges = nil
	for i := int64(0); i < count; i++ {
		start, rest, err := getUvarint(b)
		if err != nil {
			return nil, err
		}
		length, rest, err := getUvarint(rest)
		if err != nil {
			return nil, err
		}
		// Re-inserting keeps the ordering invariant even if the
		// encoder was careless.
		s.InsertRange(Ino(start), length)
		b = rest
	}
	return b, nil
}

func appendUvarint(b []byte, v uint64) []byte {
	var tmp [16]byte // For use by PutUvarint.
	n := binary.PutUvarint(tmp[:], v)
	return append(b, tmp[:n]...)
}

func getUvarint(b []byte) (v uint64, remaining []byte, err error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, nil, ErrTooShort
	}
	return v, b[n:], nil
}

func appendBytes(b, bytes []byte) []byte {
	var tmp [16]byte // For use by PutVarint.
	n := binary.PutVarint(tmp[:], int64(len(bytes)))
	b = append(b, tmp[:n]...)
	b = append(b, bytes...)
	return b
}

func getBytes(b []byte) (data, remaining []byte, err error) {
	u, n := binary.Varint(b)
	if n <= 0 {
		return nil, b, ErrTooShort
	}
	b = b[n:]
	if u < 0 || len(b) < int(u) {
		return nil, nil, ErrTooShort
	}
	return b[:u], b[u:], nil
}

func appendString(b []byte, str string) []byte {
	return appendBytes(b, []byte(str))
}

func getString(b []byte) (str string, remaining []byte, err error) {
	var bytes []byte
	if bytes, remaining, err = getBytes(b); err != nil {
		return "", nil, err
	}
	return string(bytes), remaining, nil
}
