// Copyright 2025 The flowsteer Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package db contains the sqlite plumbing shared by the storage backends.
package db

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"runtime"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
)

// Reader is the read only subset of *sql.DB.
type Reader interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Stats() sql.DBStats
}

// SqliteConfig configures the sqlite database instance.
type SqliteConfig struct {
	MaxOpenReadConns int
	MaxIdleReadConns int
	// InMemory keeps the database in memory. The path then only names the
	// database.
	InMemory bool
}

// Sqlite is an sqlite database with a single connection write pool and a
// read pool.
type Sqlite struct {
	Full     *sql.DB
	ReadOnly Reader
	read     *sql.DB
}

// NewSqlite opens the sqlite database at path. Writes go through Full, which
// is limited to one connection. Transactions start in IMMEDIATE mode so that
// the busy timeout applies to them.
func NewSqlite(path string, cfg *SqliteConfig) (*Sqlite, error) {
	var c SqliteConfig
	if cfg != nil {
		c = *cfg
	}
	// A bare :memory: database is private to its connection.
	if strings.Contains(path, ":memory:") {
		return nil, serrors.New("use explicitly named memory database", "path", path)
	}
	hasPrefix := strings.HasPrefix(path, "file:")

	params := make(url.Values)
	params.Add("_txlock", "immediate")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(1000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(1)")
	if c.InMemory {
		params.Add("mode", "memory")
		params.Add("cache", "shared")
	}
	conn := path + "?" + params.Encode()
	if !hasPrefix {
		conn = "file:" + conn
	}

	write, err := sql.Open("sqlite", conn)
	if err != nil {
		return nil, serrors.Wrap("opening write database", err)
	}
	write.SetMaxOpenConns(1)
	read, err := sql.Open("sqlite", conn)
	if err != nil {
		write.Close()
		return nil, serrors.Wrap("opening read database", err)
	}
	if c.MaxOpenReadConns == 0 {
		c.MaxOpenReadConns = max(4, runtime.NumCPU())
	}
	read.SetMaxOpenConns(c.MaxOpenReadConns)
	if c.MaxIdleReadConns != 0 {
		read.SetMaxIdleConns(c.MaxIdleReadConns)
	}
	return &Sqlite{Full: write, ReadOnly: read, read: read}, nil
}

// Setup applies schema to a new database and checks the schema version of
// an existing one.
func (db *Sqlite) Setup(schema string, schemaVersion int) error {
	var existing int
	if err := db.Full.QueryRow("PRAGMA user_version;").Scan(&existing); err != nil {
		return serrors.Wrap("checking database schema version", err)
	}
	switch {
	case existing == 0:
		if _, err := db.Full.Exec(schema); err != nil {
			return serrors.Wrap("applying schema", err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := db.Full.Exec("PRAGMA user_version = " + strconv.Itoa(schemaVersion)); err != nil {
			return serrors.Wrap("writing schema version", err)
		}
		return nil
	case existing != schemaVersion:
		return serrors.New("database schema version mismatch",
			"expected", schemaVersion, "actual", existing)
	default:
		return nil
	}
}

// CheckpointStats are the numbers reported by a WAL checkpoint.
type CheckpointStats struct {
	Busy         int
	LogFrames    int
	Checkpointed int
}

// Checkpoint runs a FULL WAL checkpoint on the write database.
func (db *Sqlite) Checkpoint(ctx context.Context) (CheckpointStats, error) {
	var s CheckpointStats
	err := db.Full.QueryRowContext(ctx, "PRAGMA wal_checkpoint(FULL);").
		Scan(&s.Busy, &s.LogFrames, &s.Checkpointed)
	if err != nil {
		return CheckpointStats{}, serrors.Wrap("performing checkpoint", err)
	}
	return s, nil
}

func (db *Sqlite) Close() error {
	var errs []error
	if err := db.read.Close(); err != nil {
		errs = append(errs, serrors.Wrap("closing read db", err))
	}
	if err := db.Full.Close(); err != nil {
		errs = append(errs, serrors.Wrap("closing write db", err))
	}
	return errors.Join(errs...)
}
