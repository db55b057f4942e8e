// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

func (s *State) dump(args []string) {
	const help = `
Dump prints the sessions of one rank's table in name order, one line per
session: entity name, state, network address and derived human name.

The -l flag adds indented detail lines per session: the state sequence
number, the time of the last capability renewal, the number of
remembered completed requests, the preallocated and used inode sets,
and any client metadata.
`
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	long := fs.Bool("l", false, "long listing")
	s.ParseFlags(fs, args, help, "dump [-l]")
	if fs.NArg() != 0 {
		fs.Usage()
		os.Exit(2)
	}

	table := s.loadTable()
	w := tabwriter.NewWriter(s.Stdout, 4, 4, 1, ' ', 0)
	for _, name := range table.Names() {
		sess := table.Get(name)
		info := sess.Info()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, sess.State(), info.Addr, sess.HumanName())
		if !*long {
			continue
		}
		fmt.Fprintf(w, "\tseq:\t%d\n", sess.StateSeq())
		fmt.Fprintf(w, "\trenewed:\t%s\n", sess.LastCapRenew().Go().Format(timeFormat))
		fmt.Fprintf(w, "\tcompleted:\t%d\n", len(info.CompletedRequests))
		fmt.Fprintf(w, "\tprealloc:\t%s\n", info.PreallocInos.String())
		fmt.Fprintf(w, "\tused:\t%s\n", info.UsedInos.String())
		if len(info.Metadata) > 0 {
			fmt.Fprintf(w, "\tmetadata:\t%s\n", joinMetadata(info.Metadata))
		}
	}
	if err := w.Flush(); err != nil {
		s.Exit(err)
	}
}

// joinMetadata flattens client metadata to "key=value" pairs in key order.
func joinMetadata(md map[string]string) string {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + md[k]
	}
	return strings.Join(pairs, " ")
}
