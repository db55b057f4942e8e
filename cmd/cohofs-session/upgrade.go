// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
)

func (s *State) upgrade(args []string) {
	const help = `
Upgrade rewrites a table stored in one of the legacy whole-object blob
formats as keyed records. It loads the table and, when the image on the
store was a legacy blob, saves it once; the save writes every session
as its own record and truncates the blob. Tables already in keyed
format are left untouched.

Metadata servers perform the same migration on their first save after
loading a legacy table. Upgrade exists to migrate tables ahead of time,
while the rank is offline.
`
	fs := flag.NewFlagSet("upgrade", flag.ExitOnError)
	s.ParseFlags(fs, args, help, "upgrade")
	if fs.NArg() != 0 {
		fs.Usage()
		os.Exit(2)
	}

	table := s.loadTable()
	if !table.LoadedLegacy() {
		fmt.Fprintf(s.Stdout, "%s is already in keyed format (version %d, %d sessions)\n",
			s.object(), table.Version(), table.Len())
		return
	}
	if n := table.LegacyDuplicates(); n > 0 {
		s.Failf("legacy blob held %d duplicate records; keeping the later copies", n)
	}
	s.saveTable(table)
	fmt.Fprintf(s.Stdout, "%s rewritten as keyed records (version %d, %d sessions)\n",
		s.object(), table.Version(), table.Len())
}
