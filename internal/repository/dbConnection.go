// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package repository is the durable tag catalog: tag definitions,
// state sets, change history and last snapshots persisted in SQLite.
// Archived samples are not stored here; the archive itself is the
// backend's concern.
package repository

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lulzzz/aika/pkg/log"
)

type DBConnection struct {
	DB *sqlx.DB
}

// Connect opens the catalog database and migrates it to the supported
// schema version. Only sqlite3 is supported.
func Connect(driver string, db string) (*DBConnection, error) {
	if driver != "sqlite3" {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	dbHandle, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on", db))
	if err != nil {
		return nil, err
	}

	// sqlite does not multithread. Having more than one connection
	// open would just mean waiting for locks.
	dbHandle.SetMaxOpenConns(1)

	if err := checkDBVersion(dbHandle.DB); err != nil {
		log.Errorf("Database migration failed: %v", err)
		dbHandle.Close()
		return nil, err
	}

	return &DBConnection{DB: dbHandle}, nil
}

func (c *DBConnection) Close() error {
	return c.DB.Close()
}
