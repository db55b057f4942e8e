// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shutdown

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"
)

const timeout = 10 * time.Second

// TestShutdown launches a child process that shuts itself down and, by
// reading its standard output, checks that the child runs its shutdown
// handlers newest first. It also checks that a stalled handler cannot
// keep the process alive past the grace period.
func TestShutdown(t *testing.T) {
	if os.Getenv(childEnv) == "true" {
		runChildProcess()
		return
	}

	t.Run("clean", func(t *testing.T) { testShutdown(t, true) })
	t.Run("stalled", func(t *testing.T) { testShutdown(t, false) })
}

const (
	childEnv = "COHOFS_SHUTDOWN_CHILD"
	stallEnv = childEnv + "_STALL"
)

var childLines = []string{
	"ready",
	"closing table",
	"flushing log",
}

func testShutdown(t *testing.T, clean bool) {
	cmd := exec.Command(os.Args[0], "-test.run=^TestShutdown$")
	cmd.Env = []string{childEnv + "=true"}
	if !clean {
		cmd.Env = append(cmd.Env, stallEnv+"=true")
	}

	rc, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	out := bufio.NewScanner(rc)

	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}

	// Wait for the child to report that it is running.
	readErr := make(chan error, 1)
	go func() {
		out.Scan()
		if err := out.Err(); err != nil {
			readErr <- err
			return
		}
		if got, want := out.Text(), childLines[0]; got != want {
			readErr <- fmt.Errorf("child said %q, want %q", got, want)
			return
		}
		readErr <- nil
	}()
	select {
	case err := <-readErr:
		if err != nil {
			cmd.Process.Kill()
			t.Fatal(err)
		}
	case <-time.After(timeout):
		t.Fatal("timed out waiting for child process to start")
	}

	// Collect and compare the remaining output lines.
	waitErr := make(chan error, 1)
	go func() {
		for n := 1; n < len(childLines); n++ {
			if !clean && n == 2 {
				// With the first handler stalled, the second
				// never runs.
				break
			}
			if !out.Scan() {
				readErr <- fmt.Errorf("child output ended, expected more lines")
				return
			}
			if got, want := out.Text(), childLines[n]; got != want {
				readErr <- fmt.Errorf("child output line %q, want %q", got, want)
				return
			}
		}
		if out.Scan() {
			readErr <- fmt.Errorf("child output unexpected line %q", out.Text())
			return
		}
		readErr <- nil
		waitErr <- cmd.Wait()
	}()

	if err := <-readErr; err != nil {
		cmd.Process.Kill()
		t.Fatal(err)
	}

	select {
	case err := <-waitErr:
		if err != nil && clean {
			t.Fatalf("child process exited with non-zero status: %v", err)
		} else if err == nil && !clean {
			t.Fatal("child process exited cleanly, want non-zero status")
		}
	case <-time.After(timeout):
		cmd.Process.Kill()
		t.Fatal("timed out waiting for child process to exit")
	}
}

func runChildProcess() {
	var stall chan bool
	if os.Getenv(stallEnv) == "true" {
		stall = make(chan bool)
		killSleep = func(time.Duration) {
			<-stall
		}
	}

	Handle(func() {
		fmt.Println(childLines[2])
	})

	Handle(func() {
		fmt.Println(childLines[1])
		if stall != nil {
			stall <- true
			select {} // Block forever, stalling Now.
		}
	})

	fmt.Println(childLines[0])

	Now(0)

	// If for some reason Now returns the test must time out.
	select {}
}
