// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cohofs

import (
	"bytes"
	"fmt"
	"sort"
)

// An InoRange is a contiguous run of inode numbers [Start, Start+Len).
type InoRange struct {
	Start Ino
	Len   uint64
}

// An InoSet is a set of inode numbers stored as ordered, non-overlapping,
// non-adjacent ranges. The zero value is an empty set ready for use.
// It is not safe for concurrent use.
type InoSet struct {
	ranges []InoRange
}

// Insert adds a single inode number to the set.
func (s *InoSet) Insert(ino Ino) {
	s.InsertRange(ino, 1)
}

// InsertRange adds the n inode numbers beginning at start to the set,
// merging with existing ranges where they meet or overlap.
func (s *InoSet) InsertRange(start Ino, n uint64) {
	if n == 0 {
		return
	}
	end := start + Ino(n) // exclusive
	r := s.ranges

	// i is the first existing range that could merge with the new one;
	// [i, j) is the run of ranges it swallows.
	i := sort.Search(len(r), func(i int) bool {
		return r[i].Start+Ino(r[i].Len) >= start
	})
	j := i
	for j < len(r) && r[j].Start <= end {
		j++
	}
	if i < j {
		if r[i].Start < start {
			start = r[i].Start
		}
		if e := r[j-1].Start + Ino(r[j-1].Len); e > end {
			end = e
		}
	}
	merged := InoRange{Start: start, Len: uint64(end - start)}
	out := append(r[:i:i], merged)
	s.ranges = append(out, r[j:]...)
}

// Contains reports whether ino is a member of the set.
func (s *InoSet) Contains(ino Ino) bool {
	r := s.ranges
	i := sort.Search(len(r), func(i int) bool {
		return r[i].Start+Ino(r[i].Len) > ino
	})
	return i < len(r) && r[i].Start <= ino
}

// Size returns the number of inode numbers in the set.
func (s *InoSet) Size() uint64 {
	var n uint64
	for _, r := range s.ranges {
		n += r.Len
	}
	return n
}

// Empty reports whether the set contains no inode numbers.
func (s *InoSet) Empty() bool {
	return len(s.ranges) == 0
}

// Clear removes every inode number from the set.
func (s *InoSet) Clear() {
	s.ranges = nil
}

// Ranges returns a copy of the set's ranges in increasing order.
func (s *InoSet) Ranges() []InoRange {
	if len(s.ranges) == 0 {
		return nil
	}
	out := make([]InoRange, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Equal reports whether s and t contain the same inode numbers.
func (s *InoSet) Equal(t *InoSet) bool {
	if len(s.ranges) != len(t.ranges) {
		return false
	}
	for i, r := range s.ranges {
		if t.ranges[i] != r {
			return false
		}
	}
	return true
}

// String formats the set as its ranges, for logs and dumps:
// [16+8,100+1] is inodes 16 through 23 plus inode 100.
func (s *InoSet) String() string {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, r := range s.ranges {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d+%d", r.Start, r.Len)
	}
	b.WriteByte(']')
	return b.String()
}
