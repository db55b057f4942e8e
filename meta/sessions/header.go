// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sessions

import (
	"encoding/binary"

	"cohofs.io/errors"
)

// headerFormat identifies the encoding of the table header. There has
// been only one.
const headerFormat = 0x01

// marshalHeader encodes the table header that carries the on-store
// version.
func marshalHeader(version uint64) []byte {
	b := make([]byte, 1+binary.MaxVarintLen64)
	b[0] = headerFormat
	n := binary.PutUvarint(b[1:], version)
	return b[:1+n]
}

// unmarshalHeader decodes a table header. Bytes beyond the version are
// ignored so that later formats can extend the header.
func unmarshalHeader(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, errors.Str("empty header")
	}
	if b[0] != headerFormat {
		return 0, errors.Errorf("unknown header format %#x", b[0])
	}
	v, n := binary.Uvarint(b[1:])
	if n <= 0 {
		return 0, errors.Str("truncated header")
	}
	return v, nil
}
