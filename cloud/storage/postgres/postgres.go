// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package postgres implements a storage backend for interfacing with a
// Postgres database. It likely won't work with other SQL databases
// because of a few Postgres-isms such as how "upsert" is handled.
package postgres

import (
	"bytes"
	"database/sql"
	"fmt"
	"net"

	// Required when importing this package.
	_ "github.com/lib/pq"

	"cohofs.io/cloud/storage"
	"cohofs.io/errors"
	"cohofs.io/log"
)

// postgres is a Storage that connects to a Postgres backend.
type postgres struct {
	db *sql.DB
}

var _ storage.Storage = (*postgres)(nil)

// New initializes and returns a Postgres-backed storage.Storage. The
// options are the usual lib/pq connection keys (host, port, dbname,
// user, password, sslmode and so on); a network address given with
// storage.WithNetAddr supplies host and port when those keys are not
// set explicitly.
func New(opts *storage.Opts) (storage.Storage, error) {
	const op errors.Op = "cloud/storage/postgres.New"

	if len(opts.Addrs) > 0 {
		host, port, err := net.SplitHostPort(string(opts.Addrs[0]))
		if err != nil {
			host, port = string(opts.Addrs[0]), ""
		}
		if _, ok := opts.Opts["host"]; !ok {
			opts.Opts["host"] = host
		}
		if _, ok := opts.Opts["port"]; !ok && port != "" {
			opts.Opts["port"] = port
		}
	}
	optStr := buildOptStr(opts)
	log.Printf("cloud/storage/postgres: connecting and creating tables with options [%s]", optStr)
	db, err := sql.Open("postgres", optStr)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	_, err = db.Exec(
		`CREATE TABLE IF NOT EXISTS objects (
	             name varchar(255) PRIMARY KEY,
	             header bytea,
	             image bytea
	         )`)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	_, err = db.Exec(
		`CREATE TABLE IF NOT EXISTS object_values (
	             object varchar(255) NOT NULL,
	             name varchar(255) NOT NULL,
	             data bytea NOT NULL,
	             PRIMARY KEY (object, name)
	         )`)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return &postgres{db: db}, nil
}

func init() {
	storage.Register("postgres", New)
}

// ReadHeader implements storage.Storage.
func (p *postgres) ReadHeader(obj string) ([]byte, error) {
	const op errors.Op = "cloud/storage/postgres.ReadHeader"
	var header []byte
	// QueryRow with $1 parameters ensures we don't have SQL escape problems.
	err := p.db.QueryRow("SELECT header FROM objects WHERE name = $1", obj).Scan(&header)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return header, nil
}

// ReadValues implements storage.Storage.
func (p *postgres) ReadValues(obj, startAfter string, limit int) ([]storage.KeyValue, error) {
	const op errors.Op = "cloud/storage/postgres.ReadValues"
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = p.db.Query(
			"SELECT name, data FROM object_values WHERE object = $1 AND name > $2 ORDER BY name LIMIT $3",
			obj, startAfter, limit)
	} else {
		rows, err = p.db.Query(
			"SELECT name, data FROM object_values WHERE object = $1 AND name > $2 ORDER BY name",
			obj, startAfter)
	}
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	defer rows.Close()
	var page []storage.KeyValue
	for rows.Next() {
		var kv storage.KeyValue
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, errors.E(op, errors.IO, err)
		}
		page = append(page, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return page, nil
}

// ReadBlob implements storage.Storage.
func (p *postgres) ReadBlob(obj string) ([]byte, error) {
	const op errors.Op = "cloud/storage/postgres.ReadBlob"
	var blob []byte
	err := p.db.QueryRow("SELECT image FROM objects WHERE name = $1", obj).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return blob, nil
}

// Apply implements storage.Storage.
func (p *postgres) Apply(obj string, tx *storage.Transaction) error {
	const op errors.Op = "cloud/storage/postgres.Apply"
	dbtx, err := p.db.Begin()
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	defer dbtx.Rollback()

	_, err = dbtx.Exec("INSERT INTO objects (name) VALUES ($1) ON CONFLICT (name) DO NOTHING", obj)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	if tx.Truncate {
		_, err = dbtx.Exec("UPDATE objects SET image = NULL WHERE name = $1", obj)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
	}
	if tx.Header != nil {
		_, err = dbtx.Exec("UPDATE objects SET header = $2 WHERE name = $1", obj, tx.Header)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
	}
	for k, v := range tx.Put {
		_, err = dbtx.Exec(
			`INSERT INTO object_values (object, name, data) VALUES ($1, $2, $3)
			 ON CONFLICT (object, name) DO UPDATE SET data = EXCLUDED.data`,
			obj, k, v)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
	}
	for _, k := range tx.Delete {
		_, err = dbtx.Exec("DELETE FROM object_values WHERE object = $1 AND name = $2", obj, k)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
	}
	if err := dbtx.Commit(); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Close implements storage.Storage.
func (p *postgres) Close() {
	p.db.Close()
	p.db = nil
}

func buildOptStr(opts *storage.Opts) string {
	var b bytes.Buffer
	first := true
	for k, v := range opts.Opts {
		if !first {
			fmt.Fprintf(&b, " %s=%s", k, v)
		} else {
			fmt.Fprintf(&b, "%s=%s", k, v)
			first = false
		}
	}
	return b.String()
}
