// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cohofs

import "time"

// Time represents a timestamp in units of seconds since the Unix epoch.
// It is the only time representation persisted or compared by CohoFS
// servers; sub-second precision is not carried.
type Time int64

// Now returns the current time as a cohofs.Time.
func Now() Time {
	return TimeFromGo(time.Now())
}

// TimeFromGo converts a Go time.Time to a cohofs.Time.
func TimeFromGo(t time.Time) Time {
	return Time(t.Unix())
}

// Go converts a cohofs.Time to a Go time.Time.
func (t Time) Go() time.Time {
	return time.Unix(int64(t), 0).UTC()
}
