// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The version package is used by the release process to add an
// informative version string to some commands.
package version

import "fmt"

// These strings are overwritten by the release process, through the
// linker's -X flag. BuildTime is preformatted.
var (
	BuildTime = ""
	GitSHA    = ""
)

// Version returns a newline-terminated string describing the current
// version of the build.
func Version() string {
	if GitSHA == "" {
		return "devel\n"
	}
	str := fmt.Sprintf("Build time: %s\n", BuildTime)
	str += fmt.Sprintf("Git hash:   %s\n", GitSHA)
	return str
}
