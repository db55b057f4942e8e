// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mysql implements a storage.Storage using MySQL as the backend.
package mysql

import (
	"database/sql"
	"fmt"

	// Required when importing this package.
	_ "github.com/go-sql-driver/mysql"

	"cohofs.io/cloud/storage"
	"cohofs.io/errors"
	"cohofs.io/log"
)

// mysql is a Storage that connects to a MySQL backend.
type mysql struct {
	db *sql.DB
}

var _ storage.Storage = (*mysql)(nil)

// New initializes and returns a MySQL-backed storage.Storage. The
// connection may be given whole with the "dsn" option, or composed
// from the "user", "password" and "dbname" options plus a network
// address given with storage.WithNetAddr.
func New(opts *storage.Opts) (storage.Storage, error) {
	const op errors.Op = "cloud/storage/mysql.New"

	dsn := buildDSN(opts)
	log.Printf("cloud/storage/mysql: connecting and creating tables")
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	// Note that MySQL 5.6 and prior only support VARCHAR key parts up
	// to 255 characters.
	_, err = db.Exec(
		`CREATE TABLE IF NOT EXISTS objects (
	             name VARCHAR(255) PRIMARY KEY,
	             header BLOB,
	             image BLOB
	         )`)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	_, err = db.Exec(
		`CREATE TABLE IF NOT EXISTS object_values (
	             object VARCHAR(255) NOT NULL,
	             name VARCHAR(255) NOT NULL,
	             data BLOB NOT NULL,
	             PRIMARY KEY (object, name)
	         )`)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return &mysql{db: db}, nil
}

func init() {
	storage.Register("mysql", New)
}

// ReadHeader implements storage.Storage.
func (p *mysql) ReadHeader(obj string) ([]byte, error) {
	const op errors.Op = "cloud/storage/mysql.ReadHeader"
	var header []byte
	err := p.db.QueryRow("SELECT header FROM objects WHERE name = ?", obj).Scan(&header)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return header, nil
}

// ReadValues implements storage.Storage.
func (p *mysql) ReadValues(obj, startAfter string, limit int) ([]storage.KeyValue, error) {
	const op errors.Op = "cloud/storage/mysql.ReadValues"
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = p.db.Query(
			"SELECT name, data FROM object_values WHERE object = ? AND name > ? ORDER BY name LIMIT ?",
			obj, startAfter, limit)
	} else {
		rows, err = p.db.Query(
			"SELECT name, data FROM object_values WHERE object = ? AND name > ? ORDER BY name",
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
func (p *mysql) ReadBlob(obj string) ([]byte, error) {
	const op errors.Op = "cloud/storage/mysql.ReadBlob"
	var blob []byte
	err := p.db.QueryRow("SELECT image FROM objects WHERE name = ?", obj).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return blob, nil
}

// Apply implements storage.Storage.
func (p *mysql) Apply(obj string, tx *storage.Transaction) error {
	const op errors.Op = "cloud/storage/mysql.Apply"
	dbtx, err := p.db.Begin()
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	defer dbtx.Rollback()

	_, err = dbtx.Exec("INSERT IGNORE INTO objects (name) VALUES (?)", obj)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	if tx.Truncate {
		_, err = dbtx.Exec("UPDATE objects SET image = NULL WHERE name = ?", obj)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
	}
	if tx.Header != nil {
		_, err = dbtx.Exec("UPDATE objects SET header = ? WHERE name = ?", tx.Header, obj)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
	}
	for k, v := range tx.Put {
		_, err = dbtx.Exec(
			"INSERT INTO object_values (object, name, data) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE data = ?",
			obj, k, v, v)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
	}
	for _, k := range tx.Delete {
		_, err = dbtx.Exec("DELETE FROM object_values WHERE object = ? AND name = ?", obj, k)
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
func (p *mysql) Close() {
	p.db.Close()
	p.db = nil
}

func buildDSN(opts *storage.Opts) string {
	if v, ok := opts.Opts["dsn"]; ok {
		return v
	}
	addr := "localhost:3306"
	if len(opts.Addrs) > 0 {
		addr = string(opts.Addrs[0])
	}
	user := opts.Opts["user"]
	if user == "" {
		user = "root"
	}
	cred := user
	if pass, ok := opts.Opts["password"]; ok {
		cred = user + ":" + pass
	}
	return fmt.Sprintf("%s@tcp(%s)/%s", cred, addr, opts.Opts["dbname"])
}
