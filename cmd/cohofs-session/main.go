// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Cohofs-session inspects and maintains the session tables of CohoFS
// metadata servers. See the command's usage method for documentation.
package main // import "cohofs.io/cmd/cohofs-session"

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"cohofs.io/cloud/storage"
	"cohofs.io/config"
	"cohofs.io/log"
	"cohofs.io/meta/sessions"
	"cohofs.io/shutdown"
	"cohofs.io/version"

	cloudlog "cohofs.io/cloud/log"

	// Storage backends available to the store setting.
	_ "cohofs.io/cloud/storage/bolt"
	_ "cohofs.io/cloud/storage/mysql"
	_ "cohofs.io/cloud/storage/postgres"
)

const timeFormat = "2006-01-02 15:04:05"

const help = `Cohofs-session inspects and maintains the session tables that CohoFS
metadata servers persist in an object store, one table per rank.

The subcommands are:

  dump
  	Print the sessions of one rank's table, one per line.

  stats
  	Print the table's version ledger and per-state session counts.

  upgrade
  	Rewrite a table stored as a legacy whole-object blob as keyed
  	records. Tables already in keyed format are left untouched.

  wipe
  	Remove every session from one rank's table. Destructive; requires
  	the -f flag.

The table to operate on is chosen by the -config, -store, -storeoptions
and -rank flags. Each subcommand also accepts -help for more detail.
`

var (
	configFlag    = flag.String("config", "", "`path` of a server configuration file to read defaults from")
	storeFlag     = flag.String("store", "", "storage backend `name`, overriding the configuration")
	storeOptsFlag = flag.String("storeoptions", "", "storage backend options, overriding the configuration")
	rankFlag      = flag.Int("rank", -1, "metadata server `rank`, overriding the configuration")
	logFlag       = flag.String("log", "", "log `level`: debug, info, error or disabled")
	versionFlag   = flag.Bool("version", false, "print the build version and exit")
)

// State carries the context of the running subcommand: its name, the
// resolved configuration, the dialed store and the exit code to use
// when the command finishes after minor errors.
type State struct {
	Name     string
	Config   *config.Config
	Store    storage.Storage
	Stdout   io.Writer
	Stderr   io.Writer
	ExitCode int
}

func newState(name string) *State {
	return &State{
		Name:   name,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Fprint(os.Stdout, version.Version())
		return
	}
	if flag.NArg() < 1 {
		usage()
	}
	s := newState(strings.ToLower(flag.Arg(0)))

	cfg := s.loadConfig()
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		s.Exit(err)
	}
	if cfg.LogProject != "" {
		name := cfg.LogName
		if name == "" {
			name = "cohofs-session"
		}
		if err := cloudlog.Connect(cfg.LogProject, name); err != nil {
			s.Exit(err)
		}
	}
	s.Config = cfg

	var opts []storage.DialOpts
	if cfg.StoreOptions != "" {
		opts = append(opts, storage.WithOptions(cfg.StoreOptions))
	}
	store, err := storage.Dial(cfg.Store, opts...)
	if err != nil {
		s.Exit(err)
	}
	shutdown.Handle(store.Close)
	s.Store = store

	args := flag.Args()[1:]
	switch s.Name {
	case "dump":
		s.dump(args)
	case "stats":
		s.stats(args)
	case "upgrade":
		s.upgrade(args)
	case "wipe":
		s.wipe(args)
	default:
		usage()
	}

	s.ExitNow()
}

func usage() {
	fmt.Fprintln(os.Stderr, help)
	fmt.Fprintln(os.Stderr, "Usage of cohofs-session:")
	fmt.Fprintln(os.Stderr, "\tcohofs-session [globalflags] <command> [flags]")
	fmt.Fprintln(os.Stderr, "Commands: dump, stats, upgrade, wipe")
	fmt.Fprintln(os.Stderr, "Global flags:")
	flag.PrintDefaults()
	os.Exit(2)
}

// loadConfig reads the configuration file, if one was named, and then
// applies the command-line overrides.
func (s *State) loadConfig() *config.Config {
	var (
		cfg *config.Config
		err error
	)
	if *configFlag != "" {
		cfg, err = config.FromFile(*configFlag)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		s.Exit(err)
	}
	if *storeFlag != "" {
		// Options from the file belong to the store named there.
		if *storeFlag != cfg.Store {
			cfg.StoreOptions = ""
		}
		cfg.Store = *storeFlag
	}
	if *storeOptsFlag != "" {
		cfg.StoreOptions = *storeOptsFlag
	}
	if *rankFlag >= 0 {
		cfg.Rank = *rankFlag
	}
	if *logFlag != "" {
		cfg.LogLevel = *logFlag
	}
	return cfg
}

// ParseFlags parses the flags in the command line arguments,
// according to those set in the flag set.
func (s *State) ParseFlags(fs *flag.FlagSet, args []string, help, usage string) {
	helpFlag := fs.Bool("help", false, "print more information about the command")
	usageFn := func() {
		fmt.Fprintf(s.Stderr, "Usage: cohofs-session %s\n", usage)
		if *helpFlag {
			fmt.Fprintln(s.Stderr, help)
		}
		// How many flags?
		n := 0
		fs.VisitAll(func(*flag.Flag) { n++ })
		if n > 0 {
			fmt.Fprintf(s.Stderr, "Flags:\n")
			fs.PrintDefaults()
		}
	}
	fs.Usage = usageFn
	err := fs.Parse(args)
	if err != nil {
		s.Exit(err)
	}
	if *helpFlag {
		fs.Usage()
		os.Exit(2)
	}
}

// Exitf prints the error and exits the program.
// We don't use log (although the packages we call do) because the errors
// are for regular people.
func (s *State) Exitf(format string, args ...interface{}) {
	format = fmt.Sprintf("cohofs-session: %s: %s\n", s.Name, format)
	fmt.Fprintf(s.Stderr, format, args...)
	s.ExitCode = 1
	s.ExitNow()
}

// Exit calls s.Exitf with the error.
func (s *State) Exit(err error) {
	s.Exitf("%s", err)
}

// ExitNow terminates the process with the current ExitCode.
func (s *State) ExitNow() {
	shutdown.Now(s.ExitCode)
}

// Failf logs the error and sets the exit code. It does not exit the program.
func (s *State) Failf(format string, args ...interface{}) {
	format = fmt.Sprintf("cohofs-session: %s: %s\n", s.Name, format)
	fmt.Fprintf(s.Stderr, format, args...)
	s.ExitCode = 1
}

// Fail calls s.Failf with the error.
func (s *State) Fail(err error) {
	s.Failf("%v", err)
}

// object is the store object holding the configured rank's table.
func (s *State) object() string {
	return sessions.ObjectName(s.Config.Rank)
}

// loadTable reads the configured rank's table from the store, blocking
// until the load completes. Unreadable tables are fatal inside the
// sessions package.
func (s *State) loadTable() *sessions.Map {
	table := sessions.New(s.Store, s.Config.Rank, s.Config.KeysPerPage, s.Config.DirtyBatch)
	done := make(chan struct{})
	table.Load(func() { close(done) })
	<-done
	return table
}

// saveTable writes the table once and waits for the write to land.
func (s *State) saveTable(table *sessions.Map) {
	done := make(chan struct{})
	table.RequestSave(0, func() { close(done) })
	<-done
}
