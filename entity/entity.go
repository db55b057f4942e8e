// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package entity provides tools for parsing and formatting CohoFS
// entity names.
package entity

import (
	"strconv"
	"strings"

	"cohofs.io/cohofs"
	"cohofs.io/errors"
)

// Type is the kind of participant an entity name refers to.
type Type string

// The known entity types.
const (
	Client Type = "client" // a client connection instance
	Meta   Type = "meta"   // a metadata server rank
	Admin  Type = "admin"  // an administrative tool
)

// Parse splits a cohofs.EntityName into its type and instance number.
// For example, given the entity name
//	client.4324
// it returns Client and 4324.
//
// The rules are:
//
// <name> := <type>.<number>
//
// - <type> is one of the known entity types, lower case
// - <number> is a decimal uint64 with no sign and no extra characters
func Parse(name cohofs.EntityName) (Type, uint64, error) {
	s := string(name)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return errEntityName(name, "entity name must contain a period")
	}
	typ, numStr := Type(s[:dot]), s[dot+1:]
	switch typ {
	case Client, Meta, Admin:
		// Known type.
	default:
		return errEntityName(name, "unknown entity type")
	}
	if numStr == "" {
		return errEntityName(name, "missing instance number")
	}
	if numStr[0] == '+' || numStr[0] == '-' {
		return errEntityName(name, "signed instance number")
	}
	num, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return errEntityName(name, "bad instance number")
	}
	return typ, num, nil
}

func errEntityName(name cohofs.EntityName, msg string) (Type, uint64, error) {
	const op errors.Op = "entity.Parse"
	return "", 0, errors.E(op, errors.Invalid, name, errors.Str(msg))
}

// Name returns the canonical entity name for the given type and
// instance number.
func Name(typ Type, num uint64) cohofs.EntityName {
	return cohofs.EntityName(string(typ) + "." + strconv.FormatUint(num, 10))
}
