// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
)

func (s *State) wipe(args []string) {
	const help = `
Wipe removes every session from one rank's table and saves the emptied
table. The table version advances past the wiped state so that replay
of old journal segments cannot resurrect the removed sessions.

Wipe is for disaster recovery, after the rank's journal has been
discarded. Clients whose sessions are wiped are fenced the next time
they talk to the server. It cannot be undone, and refuses to run
without the -f flag.
`
	fs := flag.NewFlagSet("wipe", flag.ExitOnError)
	force := fs.Bool("f", false, "confirm the wipe")
	s.ParseFlags(fs, args, help, "wipe -f")
	if fs.NArg() != 0 {
		fs.Usage()
		os.Exit(2)
	}
	if !*force {
		s.Exitf("refusing to wipe %s without -f", s.object())
	}

	table := s.loadTable()
	n := table.Len()
	table.Wipe()
	s.saveTable(table)
	fmt.Fprintf(s.Stdout, "wiped %d sessions from %s (now version %d)\n",
		n, s.object(), table.Version())
}
