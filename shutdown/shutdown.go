// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shutdown coordinates the orderly exit of CohoFS processes:
// handlers registered by other packages run in last-in-first-out order
// before the process terminates, whether exit was requested by the
// program or by a signal.
package shutdown // import "cohofs.io/shutdown"

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cohofs.io/log"
)

// GracePeriod bounds how long the registered handlers may take before
// the process exits forcefully.
const GracePeriod = 1 * time.Minute

// Handle registers fn to run when the process shuts down. Handlers run
// in last-in-first-out order. Handle may be called concurrently.
func Handle(fn func()) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.handlers = append(state.handlers, fn)
}

// Now runs the registered handlers, newest first, and terminates the
// process with the given status code. Only the first call acts, and
// termination within GracePeriod is guaranteed either way. Now may be
// called concurrently.
func Now(code int) {
	state.once.Do(func() {
		log.Debug.Printf("shutdown: status code %d", code)

		go func() {
			killSleep(GracePeriod)
			// Not the log package; it may already have flushed.
			fmt.Fprintf(os.Stderr, "shutdown: still running after %v; exiting forcefully", GracePeriod)
			os.Exit(1)
		}()

		state.mu.Lock() // Never unlocked; the process is ending.
		for i := len(state.handlers) - 1; i >= 0; i-- {
			state.handlers[i]()
		}

		os.Exit(code)
	})
}

// Testing hook.
var killSleep = time.Sleep

var state struct {
	mu       sync.Mutex
	handlers []func()
	once     sync.Once
}

func init() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, os.Interrupt)
	go func() {
		sig := <-c
		log.Error.Printf("shutdown: process received signal %v", sig)
		Now(1)
	}()

	// The logger flushes last of all. Registered here rather than in
	// the log package to avoid an import cycle.
	Handle(log.Flush)
}
