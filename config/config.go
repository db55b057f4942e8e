// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config reads the configuration of a CohoFS metadata server
// from a YAML file.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"

	yaml "gopkg.in/yaml.v2"

	"cohofs.io/errors"
)

// DefaultKeysPerPage is the number of session records read per page
// when the configuration does not name one.
const DefaultKeysPerPage = 1024

// Config holds the settings of one metadata server process or of a
// tool operating on its store.
type Config struct {
	// Rank is the metadata server rank that owns the session table.
	Rank int

	// Store names the registered storage backend, such as "bolt",
	// "postgres" or "mysql".
	Store string

	// StoreOptions configures the storage backend, in the
	// "key1=value1,key2=value2" form accepted by storage.WithOptions.
	StoreOptions string

	// KeysPerPage is the number of session records requested per
	// paged read while loading the table.
	KeysPerPage int

	// DirtyBatch is the number of dirty sessions that triggers an
	// automatic save. Zero means KeysPerPage.
	DirtyBatch int

	// LogLevel names the lowest level the log package should print:
	// debug, info, error or disabled.
	LogLevel string

	// LogProject and LogName name the Google Cloud Logging project
	// and log that mirror log output. Logging is local only when
	// they are empty.
	LogProject string
	LogName    string
}

// Known keys. All others are treated as errors.
const (
	rank         = "rank"
	store        = "store"
	storeoptions = "storeoptions"
	keysperpage  = "keysperpage"
	dirtybatch   = "dirtybatch"
	loglevel     = "loglevel"
	logproject   = "logproject"
	logname      = "logname"
)

// FromFile reads and parses the configuration in the named file.
func FromFile(name string) (*Config, error) {
	const op errors.Op = "config.FromFile"
	data, err := ioutil.ReadFile(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(op, errors.NotExist, err)
		}
		return nil, errors.E(op, errors.IO, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return cfg, nil
}

// Parse parses a YAML configuration.
//
// A configuration file should be of the format
//   # lines that begin with a hash are ignored
//   key: value
// where key may be one of rank, store, storeoptions, keysperpage,
// dirtybatch, loglevel, logproject, or logname.
//
// The default value for store is "bolt" and for keysperpage it is
// DefaultKeysPerPage. A dirtybatch of zero, the default, means the
// final keysperpage value. The default value for loglevel is "info".
func Parse(data []byte) (*Config, error) {
	const op errors.Op = "config.Parse"
	vals := map[string]string{
		rank:         "0",
		store:        "bolt",
		storeoptions: "",
		keysperpage:  strconv.Itoa(DefaultKeysPerPage),
		dirtybatch:   "0",
		loglevel:     "info",
		logproject:   "",
		logname:      "",
	}
	if err := valsFromYAML(vals, data); err != nil {
		return nil, errors.E(op, err)
	}

	cfg := &Config{
		Store:        vals[store],
		StoreOptions: vals[storeoptions],
		LogLevel:     vals[loglevel],
		LogProject:   vals[logproject],
		LogName:      vals[logname],
	}
	var err error
	if cfg.Rank, err = intVal(vals, rank, 0); err != nil {
		return nil, errors.E(op, err)
	}
	if cfg.KeysPerPage, err = intVal(vals, keysperpage, 1); err != nil {
		return nil, errors.E(op, err)
	}
	if cfg.DirtyBatch, err = intVal(vals, dirtybatch, 0); err != nil {
		return nil, errors.E(op, err)
	}
	if cfg.DirtyBatch == 0 {
		cfg.DirtyBatch = cfg.KeysPerPage
	}
	if cfg.Store == "" {
		return nil, errors.E(op, errors.Invalid, errors.Str("store must be set"))
	}
	switch cfg.LogLevel {
	case "debug", "info", "error", "disabled":
	default:
		return nil, errors.E(op, errors.Invalid, errors.Errorf("unknown log level %q", cfg.LogLevel))
	}
	return cfg, nil
}

// valsFromYAML parses YAML from data and puts the values into the
// provided map. Unrecognized keys generate an error.
func valsFromYAML(vals map[string]string, data []byte) error {
	newVals := map[string]interface{}{}
	if err := yaml.Unmarshal(data, newVals); err != nil {
		return errors.E(errors.Invalid, errors.Errorf("parsing YAML file: %v", err))
	}
	for k, v := range newVals {
		if _, ok := vals[k]; !ok {
			return errors.E(errors.Invalid, errors.Errorf("unrecognized key %q", k))
		}
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("%q: %v", k, err)
		}
		vals[k] = s
	}
	return nil
}

// asString tries to convert a value back into its original string. This will not
// always be possible but should be for all our expected use cases.
func asString(v interface{}) (string, error) {
	switch vc := v.(type) {
	case int, int32, int64, uint, uint32, uint64, float32, float64, bool:
		return fmt.Sprintf("%v", vc), nil
	case string:
		return vc, nil
	}
	return "", errors.E(errors.Invalid, errors.Errorf("unrecognized value %T", v))
}

func intVal(vals map[string]string, key string, min int) (int, error) {
	n, err := strconv.Atoi(vals[key])
	if err != nil {
		return 0, errors.E(errors.Invalid, errors.Errorf("bad value for %q: %v", key, err))
	}
	if n < min {
		return 0, errors.E(errors.Invalid, errors.Errorf("value for %q out of range: %d", key, n))
	}
	return n, nil
}
