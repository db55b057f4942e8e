// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"cohofs.io/meta/sessions"
)

func (s *State) stats(args []string) {
	const help = `
Stats prints the version ledger and occupancy of one rank's table: the
four ledger versions, the session count in each state, and the legacy
counters left by the load.

A table loaded from a legacy whole-object blob reports legacy format
true and counts every session as dirty until the next save.
`
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	s.ParseFlags(fs, args, help, "stats")
	if fs.NArg() != 0 {
		fs.Usage()
		os.Exit(2)
	}

	table := s.loadTable()
	w := tabwriter.NewWriter(s.Stdout, 4, 4, 1, ' ', 0)
	fmt.Fprintf(w, "object:\t%s\n", s.object())
	fmt.Fprintf(w, "version:\t%d\n", table.Version())
	fmt.Fprintf(w, "projected:\t%d\n", table.Projected())
	fmt.Fprintf(w, "committing:\t%d\n", table.Committing())
	fmt.Fprintf(w, "committed:\t%d\n", table.Committed())
	fmt.Fprintf(w, "sessions:\t%d\n", table.Len())
	for st := sessions.Closed; st <= sessions.Killing; st++ {
		fmt.Fprintf(w, "  %s:\t%d\n", st, len(table.ByState(st)))
	}
	fmt.Fprintf(w, "dirty:\t%d\n", table.DirtyCount())
	fmt.Fprintf(w, "legacy format:\t%v\n", table.LoadedLegacy())
	if n := table.LegacyDuplicates(); n > 0 {
		fmt.Fprintf(w, "legacy duplicates:\t%d\n", n)
	}
	if err := w.Flush(); err != nil {
		s.Exit(err)
	}
}
