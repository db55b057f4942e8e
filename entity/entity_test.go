// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package entity

import (
	"testing"

	"cohofs.io/cohofs"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name cohofs.EntityName
		typ  Type
		num  uint64
	}{
		{"client.0", Client, 0},
		{"client.4324", Client, 4324},
		{"client.18446744073709551615", Client, 1<<64 - 1},
		{"meta.3", Meta, 3},
		{"admin.1", Admin, 1},
	}
	for _, test := range tests {
		typ, num, err := Parse(test.name)
		if err != nil {
			t.Errorf("Parse(%q): %v", test.name, err)
			continue
		}
		if typ != test.typ || num != test.num {
			t.Errorf("Parse(%q) = %q, %d; want %q, %d", test.name, typ, num, test.typ, test.num)
		}
	}
}

func TestParseBad(t *testing.T) {
	bad := []cohofs.EntityName{
		"",
		"client",
		"client.",
		".42",
		"client.x",
		"client.4x2",
		"client.42 ",
		"client.+42",
		"client.-42",
		"client.18446744073709551616", // does not fit in uint64
		"osd.1",                       // unknown type
		"Client.42",                   // case matters
		"client.4.2",
	}
	for _, name := range bad {
		if _, _, err := Parse(name); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", name)
		}
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		typ  Type
		num  uint64
		want cohofs.EntityName
	}{
		{Client, 0, "client.0"},
		{Client, 4324, "client.4324"},
		{Meta, 7, "meta.7"},
	}
	for _, test := range tests {
		if got := Name(test.typ, test.num); got != test.want {
			t.Errorf("Name(%q, %d) = %q; want %q", test.typ, test.num, got, test.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, typ := range []Type{Client, Meta, Admin} {
		for _, num := range []uint64{0, 1, 99999, 1<<64 - 1} {
			name := Name(typ, num)
			gotTyp, gotNum, err := Parse(name)
			if err != nil {
				t.Fatalf("Parse(%q): %v", name, err)
			}
			if gotTyp != typ || gotNum != num {
				t.Errorf("round trip of (%q, %d) = (%q, %d)", typ, num, gotTyp, gotNum)
			}
		}
	}
}
